package engine

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/engramhq/engram/internal/memory"
	"github.com/engramhq/engram/internal/store"
	"github.com/engramhq/engram/internal/vecindex"
)

// SearchOptions controls retrieval behavior.
type SearchOptions struct {
	Limit int
	Type  memory.Type
	// AllowPartial permits an explicitly flagged cache-only response when
	// the authoritative store is unreachable. Off by default: a partial
	// response is never silently treated as a success.
	AllowPartial bool
}

// SearchResult is one ranked retrieval candidate.
type SearchResult struct {
	MemoryID   string      `json:"memory_id"`
	Content    string      `json:"content"`
	Type       memory.Type `json:"type"`
	Confidence float64     `json:"confidence"`
	Importance float64     `json:"importance"`
	Score      float64     `json:"score"`
}

// SearchResponse is the retrieval outcome. Degraded marks a missing
// non-authoritative tier; Partial marks a cache-only best-effort answer.
type SearchResponse struct {
	Results  []SearchResult `json:"results"`
	Degraded bool           `json:"degraded,omitempty"`
	Partial  bool           `json:"partial,omitempty"`
}

// candidate accumulates per-tier evidence for one memory id.
type candidate struct {
	rec         *memory.Record
	semantic    float64
	hasSemantic bool
	keyword     float64
	hasKeyword  bool
}

// tier fan-out outcomes. A nil err with empty hits is a fine answer; an
// err on a non-authoritative tier only degrades the response.
type storeOutcome struct {
	matches []store.Match
	err     error
}

type vecOutcome struct {
	hits []vecindex.Hit
	err  error
}

// SearchMemory runs the hybrid retrieval path: fan out to the three tiers
// concurrently, union candidates by id, rerank with the composite score,
// and asynchronously boost what was returned.
func (e *Engine) SearchMemory(ctx context.Context, ownerID, query string, opts SearchOptions) (*SearchResponse, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, &memory.ValidationError{Field: "owner_id", Reason: "must not be empty"}
	}
	if strings.TrimSpace(query) == "" {
		return nil, &memory.ValidationError{Field: "query", Reason: "must not be empty"}
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = e.cfg.DefaultLimit
	}

	queryEmbedding, embErr := e.embedder.Embed(query)

	// Fan out. Each tier call gets its own bounded timeout; cancelling ctx
	// abandons whatever is still pending.
	storeCh := make(chan storeOutcome, 1)
	vecCh := make(chan vecOutcome, 1)
	cacheCh := make(chan []*memory.Record, 1)

	go func() {
		tctx, cancel := context.WithTimeout(ctx, e.cfg.TierTimeout)
		defer cancel()
		matches, err := e.store.Search(tctx, ownerID, query, opts.Type, limit*3)
		storeCh <- storeOutcome{matches: matches, err: err}
	}()

	go func() {
		if embErr != nil || len(queryEmbedding) == 0 {
			vecCh <- vecOutcome{err: &memory.TierError{Tier: "embedder", Err: embErr}}
			return
		}
		tctx, cancel := context.WithTimeout(ctx, e.cfg.TierTimeout)
		defer cancel()
		hits, err := e.vec.Search(tctx, ownerID, queryEmbedding, limit*3)
		if err != nil {
			err = &memory.TierError{Tier: "vecindex", Err: err}
		}
		vecCh <- vecOutcome{hits: hits, err: err}
	}()

	go func() {
		cacheCh <- e.cache.GetRecent(ownerID, limit*2)
	}()

	var (
		fromStore storeOutcome
		fromVec   vecOutcome
		fromCache []*memory.Record
	)
	for i := 0; i < 3; i++ {
		select {
		case fromStore = <-storeCh:
		case fromVec = <-vecCh:
		case fromCache = <-cacheCh:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	resp := &SearchResponse{}

	// The structured store is authoritative: without it the call fails,
	// unless the caller explicitly accepted a flagged cache-only answer.
	if fromStore.err != nil {
		if !opts.AllowPartial || len(fromCache) == 0 {
			return nil, fromStore.err
		}
		e.log.Warn("structured store unreachable, serving cache-only partial", "owner", ownerID, "error", fromStore.err)
		resp.Degraded = true
		resp.Partial = true
	}

	if fromVec.err != nil {
		e.log.Warn("semantic tier degraded", "owner", ownerID, "error", fromVec.err)
		resp.Degraded = true
	}

	candidates := make(map[string]*candidate)

	for _, m := range fromStore.matches {
		candidates[m.Record.ID] = &candidate{
			rec:        m.Record,
			keyword:    float64(m.MatchedTerms) / float64(m.TotalTerms),
			hasKeyword: true,
		}
	}

	for _, rec := range fromCache {
		if rec.Archived() || (opts.Type != "" && rec.Type != opts.Type) {
			continue
		}
		if _, ok := candidates[rec.ID]; ok {
			continue // store copy is fresher
		}
		candidates[rec.ID] = &candidate{rec: rec}
	}

	if fromVec.err == nil && !resp.Partial {
		e.mergeSemanticHits(ctx, candidates, fromVec.hits, opts.Type)
	}

	now := e.now()
	results := make([]SearchResult, 0, len(candidates))
	ranked := make([]*candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.rec.Archived() {
			continue
		}
		ranked = append(ranked, c)
	}

	sort.Slice(ranked, func(i, j int) bool {
		si := e.compositeScore(ranked[i], now)
		sj := e.compositeScore(ranked[j], now)
		if si != sj {
			return si > sj
		}
		if ranked[i].rec.Confidence != ranked[j].rec.Confidence {
			return ranked[i].rec.Confidence > ranked[j].rec.Confidence
		}
		return ranked[i].rec.CreatedAt.After(ranked[j].rec.CreatedAt)
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	returnedIDs := make([]string, 0, len(ranked))
	for _, c := range ranked {
		results = append(results, SearchResult{
			MemoryID:   c.rec.ID,
			Content:    c.rec.Content,
			Type:       c.rec.Type,
			Confidence: c.rec.Confidence,
			Importance: c.rec.Importance,
			Score:      e.compositeScore(c, now),
		})
		returnedIDs = append(returnedIDs, c.rec.ID)
	}
	resp.Results = results

	// Use-on-touch: bump access stats and confidence for what we returned,
	// off the request path. Skipped for partial responses — the
	// authoritative tier is down.
	if !resp.Partial && len(returnedIDs) > 0 {
		e.touchReturned(ownerID, returnedIDs)
	}

	return resp, nil
}

// mergeSemanticHits folds vector-tier hits into the candidate set,
// batch-fetching records the other tiers did not already supply.
func (e *Engine) mergeSemanticHits(ctx context.Context, candidates map[string]*candidate, hits []vecindex.Hit, typeFilter memory.Type) {
	var missing []string
	for _, h := range hits {
		if c, ok := candidates[h.MemoryID]; ok {
			c.semantic = h.Similarity
			c.hasSemantic = true
			continue
		}
		missing = append(missing, h.MemoryID)
	}
	if len(missing) == 0 {
		return
	}

	recs, err := e.store.GetByIDs(ctx, missing)
	if err != nil {
		e.log.Warn("fetching semantic candidates failed", "error", err)
		return
	}
	byID := make(map[string]*memory.Record, len(recs))
	for _, rec := range recs {
		byID[rec.ID] = rec
	}

	for _, h := range hits {
		rec, ok := byID[h.MemoryID]
		if !ok {
			continue
		}
		if rec.Archived() || (typeFilter != "" && rec.Type != typeFilter) {
			continue
		}
		candidates[h.MemoryID] = &candidate{
			rec:         rec,
			semantic:    h.Similarity,
			hasSemantic: true,
		}
	}
}

// touchReturned applies the use-on-touch boost and refreshes the hot cache
// for returned records, detached from the request context.
func (e *Engine) touchReturned(ownerID string, ids []string) {
	e.async.Add(1)
	go func() {
		defer e.async.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		now := e.now()
		for _, id := range ids {
			rec, err := e.store.UpdateAccess(ctx, id, e.cfg.UseBoost, now)
			if err != nil {
				e.log.Warn("use-on-touch update failed", "memory", id, "error", err)
				continue
			}
			e.cache.Put(ownerID, id, rec)
		}
	}()
}
