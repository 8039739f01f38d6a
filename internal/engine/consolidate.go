package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/engramhq/engram/internal/config"
	"github.com/engramhq/engram/internal/hotcache"
	"github.com/engramhq/engram/internal/memory"
	"github.com/engramhq/engram/internal/store"
)

// Worker is the scheduled consolidation job: it applies importance-resisted
// confidence decay across all active memories and archives those that fall
// below the threshold. Runs are idempotent within a decay period and
// coordinated across instances through per-shard leases.
type Worker struct {
	store  *store.DB
	vec    Vector
	cache  *hotcache.Cache
	cfg    config.Config
	log    *slog.Logger
	holder string

	stopOnce sync.Once
	stop     chan struct{}

	// now is swappable for tests.
	now func() time.Time
}

// RunResult summarizes one consolidation pass.
type RunResult struct {
	ShardsRun int
	Scanned   int
	Decayed   int
	Archived  int
}

// NewWorker creates a consolidation worker. holder identity is unique per
// instance so shard leases distinguish competing workers.
func NewWorker(db *store.DB, vec Vector, cache *hotcache.Cache, cfg config.Config, log *slog.Logger) *Worker {
	return &Worker{
		store:  db,
		vec:    vec,
		cache:  cache,
		cfg:    cfg,
		log:    log,
		holder: uuid.NewString(),
		stop:   make(chan struct{}),
		now:    time.Now,
	}
}

// Start runs one pass immediately and then on every decay period.
func (w *Worker) Start() {
	if res, err := w.RunOnce(context.Background()); err != nil {
		w.log.Error("consolidation failed", "error", err)
	} else if res.Decayed > 0 || res.Archived > 0 {
		w.log.Info("consolidation complete", "decayed", res.Decayed, "archived", res.Archived)
	}

	go func() {
		ticker := time.NewTicker(w.cfg.DecayPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if res, err := w.RunOnce(context.Background()); err != nil {
					w.log.Error("consolidation failed", "error", err)
				} else if res.Decayed > 0 || res.Archived > 0 {
					w.log.Info("consolidation complete", "decayed", res.Decayed, "archived", res.Archived)
				}
			case <-w.stop:
				return
			}
		}
	}()
}

// Stop shuts down the periodic schedule.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// RunOnce consolidates every shard it can lease. Shards held by another
// live worker are skipped; they are that worker's problem this period.
func (w *Worker) RunOnce(ctx context.Context) (RunResult, error) {
	var res RunResult
	now := w.now()
	epoch := w.epoch(now)

	for shard := 0; shard < w.cfg.ShardCount; shard++ {
		ok, err := w.store.AcquireLease(ctx, shard, w.holder, w.cfg.LeaseTTL, now)
		if err != nil {
			return res, err
		}
		if !ok {
			continue
		}

		if err := w.runShard(ctx, shard, epoch, now, &res); err != nil {
			w.store.ReleaseLease(ctx, shard, w.holder)
			return res, err
		}

		if err := w.store.SetWatermark(ctx, shard, now, epoch); err != nil {
			w.store.ReleaseLease(ctx, shard, w.holder)
			return res, err
		}
		if err := w.store.ReleaseLease(ctx, shard, w.holder); err != nil {
			return res, err
		}
		res.ShardsRun++
	}

	return res, nil
}

func (w *Worker) runShard(ctx context.Context, shard int, epoch int64, now time.Time, res *RunResult) error {
	watermark, _, err := w.store.Watermark(ctx, shard)
	if err != nil {
		return err
	}

	owners, err := w.store.OwnersInShard(ctx, shard, w.cfg.ShardCount)
	if err != nil {
		return err
	}

	for _, owner := range owners {
		candidates, err := w.store.DecayCandidates(ctx, owner, epoch)
		if err != nil {
			return err
		}

		for _, rec := range candidates {
			res.Scanned++

			// Memories touched since the last completed run keep their
			// confidence; recency already paid for this period.
			if !watermark.IsZero() && rec.LastAccessed.After(watermark) {
				continue
			}

			updated, err := w.store.ApplyDecay(ctx, rec.ID, w.cfg.BaseDecayRate, epoch)
			if err == memory.ErrConflict {
				// A concurrent access-bump won; skip this memory until the
				// next period rather than fight over it.
				w.log.Warn("decay lost update race, skipping", "memory", rec.ID)
				continue
			}
			if err != nil {
				return err
			}
			res.Decayed++

			// Strictly below threshold archives; exactly at it stays.
			if updated.Confidence < w.cfg.ArchiveThreshold {
				if err := w.store.Archive(ctx, updated.ID, now); err != nil {
					return err
				}
				w.vec.Remove(ctx, updated.ID)
				w.cache.Invalidate(owner, updated.ID)
				res.Archived++
				w.log.Debug("archived memory", "memory", updated.ID, "owner", owner, "confidence", updated.Confidence)
			}
		}
	}

	return nil
}

// epoch numbers decay periods since the Unix epoch. The per-record epoch
// marker keys off this, so re-runs inside one period cannot double-apply.
func (w *Worker) epoch(now time.Time) int64 {
	period := int64(w.cfg.DecayPeriod.Seconds())
	if period <= 0 {
		period = int64((168 * time.Hour).Seconds())
	}
	return now.Unix() / period
}
