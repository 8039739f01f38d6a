// Package engine wires the storage tiers into the memory engine: writes
// against the authoritative store with best-effort replication to the
// vector index and hot cache, hybrid retrieval with composite reranking,
// feedback learning, and scheduled consolidation.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/engramhq/engram/internal/config"
	"github.com/engramhq/engram/internal/hotcache"
	"github.com/engramhq/engram/internal/memory"
	"github.com/engramhq/engram/internal/store"
	"github.com/engramhq/engram/internal/vecindex"
)

// Vector is the semantic tier as the engine sees it. *vecindex.Index is the
// production implementation; tests substitute failing fakes to simulate
// outages.
type Vector interface {
	Upsert(ctx context.Context, memoryID string, embedding []float32) error
	Remove(ctx context.Context, memoryID string) error
	Search(ctx context.Context, ownerID string, query []float32, limit int) ([]vecindex.Hit, error)
	Backfill(ctx context.Context) (int, error)
}

// Engine is the memory engine façade. All tier handles are injected;
// lifecycle belongs to process bootstrap.
type Engine struct {
	store    *store.DB
	vec      Vector
	cache    *hotcache.Cache
	embedder Embedder
	learner  *Learner
	cfg      config.Config
	log      *slog.Logger

	// async tracks in-flight background work (tier replication, use-on-touch
	// updates) so Close can drain it.
	async sync.WaitGroup

	// now is swappable for tests.
	now func() time.Time
}

// New creates an engine over the given tiers.
func New(db *store.DB, vec Vector, cache *hotcache.Cache, embedder Embedder, cfg config.Config, log *slog.Logger) *Engine {
	e := &Engine{
		store:    db,
		vec:      vec,
		cache:    cache,
		embedder: embedder,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
	e.learner = &Learner{engine: e}
	return e
}

// Learner returns the feedback learner bound to this engine.
func (e *Engine) Learner() *Learner {
	return e.learner
}

// StoreInput is the write-path request.
type StoreInput struct {
	OwnerID   string
	Content   string
	Type      memory.Type
	SourceRef string
	// Confidence and Importance override the configured defaults when > 0.
	Confidence float64
	Importance float64
}

// StoreMemory validates and persists a new memory. The structured-store
// write must succeed or the whole call fails; vector index and hot cache
// are populated asynchronously, best-effort.
func (e *Engine) StoreMemory(ctx context.Context, in StoreInput) (*memory.Record, error) {
	now := e.now()
	rec := &memory.Record{
		ID:           uuid.NewString(),
		OwnerID:      strings.TrimSpace(in.OwnerID),
		Type:         in.Type,
		Content:      strings.TrimSpace(in.Content),
		Confidence:   e.cfg.DefaultConfidence,
		Importance:   e.cfg.DefaultImportance,
		SourceRef:    in.SourceRef,
		LastAccessed: now,
		CreatedAt:    now,
	}
	if in.Confidence > 0 {
		rec.Confidence = in.Confidence
	}
	if in.Importance > 0 {
		rec.Importance = in.Importance
	}

	if err := rec.Validate(); err != nil {
		return nil, err
	}

	// The embedding comes from the injected generator; a failure here only
	// costs semantic recall, never the write.
	embedding, err := e.embedder.Embed(rec.Content)
	if err != nil {
		e.log.Warn("embedding failed, storing without vector", "error", err)
	} else {
		rec.Embedding = embedding
	}

	created, err := e.store.Write(ctx, rec)
	if err != nil {
		return nil, err
	}
	if !created {
		// Dedup hit: rec now holds the existing record.
		e.log.Debug("duplicate content, reusing memory", "memory", rec.ID, "owner", rec.OwnerID)
		return rec, nil
	}

	e.replicate(rec)

	e.log.Info("stored memory", "memory", rec.ID, "owner", rec.OwnerID, "type", rec.Type)
	return rec, nil
}

// replicate pushes a record to the non-authoritative tiers in the
// background, retrying the vector upsert once.
func (e *Engine) replicate(rec *memory.Record) {
	snapshot := *rec
	e.async.Add(1)
	go func() {
		defer e.async.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		e.cache.Put(snapshot.OwnerID, snapshot.ID, &snapshot)

		if len(snapshot.Embedding) == 0 {
			return
		}
		if err := e.vec.Upsert(ctx, snapshot.ID, snapshot.Embedding); err != nil {
			if err = e.vec.Upsert(ctx, snapshot.ID, snapshot.Embedding); err != nil {
				e.log.Warn("vector index upsert failed", "memory", snapshot.ID, "error",
					&memory.TierError{Tier: "vecindex", Err: err})
			}
		}
	}()
}

// GetStats returns an owner's memory statistics.
func (e *Engine) GetStats(ctx context.Context, ownerID string) (*store.Stats, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, &memory.ValidationError{Field: "owner_id", Reason: "must not be empty"}
	}
	return e.store.OwnerStats(ctx, ownerID)
}

// SubmitFeedback applies a thumbs signal to a memory.
func (e *Engine) SubmitFeedback(ctx context.Context, memoryID string, kind memory.FeedbackKind) (*memory.Record, error) {
	return e.learner.ApplyThumbs(ctx, memoryID, kind)
}

// ApplyCorrection supersedes a memory's content with a corrected version.
func (e *Engine) ApplyCorrection(ctx context.Context, memoryID, newContent string) (*memory.Record, error) {
	return e.learner.ApplyCorrection(ctx, memoryID, newContent)
}

// Backfill reconstructs missing vector-index entries from the structured
// store.
func (e *Engine) Backfill(ctx context.Context) (int, error) {
	n, err := e.vec.Backfill(ctx)
	if err != nil {
		return 0, fmt.Errorf("backfill vector index: %w", err)
	}
	return n, nil
}

// Wait drains in-flight background work. Tests use it to observe async
// tier writes deterministically.
func (e *Engine) Wait() {
	e.async.Wait()
}

// Close drains background work and releases the cache sweep. The store
// handle is owned by bootstrap and closed there.
func (e *Engine) Close() {
	e.async.Wait()
	e.cache.Stop()
}
