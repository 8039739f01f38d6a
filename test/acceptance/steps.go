package acceptance

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/cucumber/godog"

	"github.com/engramhq/engram/internal/config"
	"github.com/engramhq/engram/internal/engine"
	"github.com/engramhq/engram/internal/hotcache"
	"github.com/engramhq/engram/internal/memory"
	"github.com/engramhq/engram/internal/store"
	"github.com/engramhq/engram/internal/vecindex"
)

// TestContext holds state between steps
type TestContext struct {
	ctx    context.Context
	eng    *engine.Engine
	worker *engine.Worker
	db     *store.DB
	tmpDir string

	// ids maps memory content to the id it was stored under.
	ids      map[string]string
	lastResp *engine.SearchResponse
	lastErr  error
}

func acceptanceConfig() config.Config {
	return config.Config{
		HotCacheTTL:       time.Hour,
		HotCacheSize:      64,
		TierTimeout:       2 * time.Second,
		DefaultLimit:      10,
		SemanticWeight:    0.50,
		FeedbackWeight:    0.25,
		RecencyWeight:     0.15,
		FrequencyWeight:   0.10,
		RecencyHalfLife:   168 * time.Hour,
		FrequencyCap:      100,
		DefaultConfidence: 0.7,
		DefaultImportance: 0.5,
		ThumbsDelta:       0.05,
		UseBoost:          0.02,
		CorrectionPenalty: 0.3,
		BaseDecayRate:     0.03,
		DecayPeriod:       168 * time.Hour,
		ArchiveThreshold:  0.2,
		ShardCount:        4,
		LeaseTTL:          10 * time.Minute,
	}
}

func (tc *TestContext) freshEngine() error {
	tc.teardown()

	tmpDir, err := os.MkdirTemp("", "engram-acceptance-*")
	if err != nil {
		return err
	}

	cfg := acceptanceConfig()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := store.Open(tmpDir)
	if err != nil {
		os.RemoveAll(tmpDir)
		return err
	}

	embedder := engine.NewLocalEmbedder()
	vec := vecindex.New(db.SQL(), embedder.Dimensions(), logger)
	cache := hotcache.New(cfg.HotCacheSize, cfg.HotCacheTTL)

	tc.tmpDir = tmpDir
	tc.db = db
	tc.eng = engine.New(db, vec, cache, embedder, cfg, logger)
	tc.worker = engine.NewWorker(db, vec, cache, cfg, logger)
	tc.ids = make(map[string]string)
	tc.lastResp = nil
	tc.lastErr = nil
	return nil
}

func (tc *TestContext) teardown() {
	if tc.eng != nil {
		tc.eng.Close()
		tc.eng = nil
	}
	if tc.db != nil {
		tc.db.Close()
		tc.db = nil
	}
	if tc.tmpDir != "" {
		os.RemoveAll(tc.tmpDir)
		tc.tmpDir = ""
	}
}

func (tc *TestContext) remembers(owner, content string) error {
	rec, err := tc.eng.StoreMemory(tc.ctx, engine.StoreInput{
		OwnerID: owner,
		Content: content,
		Type:    memory.TypeFact,
	})
	if err != nil {
		return err
	}
	tc.ids[content] = rec.ID
	tc.eng.Wait()
	return nil
}

func (tc *TestContext) remembersWith(owner, content string, confidence, importance float64) error {
	rec, err := tc.eng.StoreMemory(tc.ctx, engine.StoreInput{
		OwnerID:    owner,
		Content:    content,
		Type:       memory.TypeFact,
		Confidence: confidence,
		Importance: importance,
	})
	if err != nil {
		return err
	}
	tc.ids[content] = rec.ID
	tc.eng.Wait()
	return nil
}

func (tc *TestContext) recalls(owner, query string) error {
	tc.lastResp, tc.lastErr = tc.eng.SearchMemory(tc.ctx, owner, query, engine.SearchOptions{})
	if tc.lastErr != nil {
		return tc.lastErr
	}
	tc.eng.Wait()
	return nil
}

func (tc *TestContext) resultsInclude(content string) error {
	if tc.lastResp == nil {
		return fmt.Errorf("no recall has been performed")
	}
	for _, r := range tc.lastResp.Results {
		if r.Content == content {
			return nil
		}
	}
	return fmt.Errorf("expected results to include %q, got %d results", content, len(tc.lastResp.Results))
}

func (tc *TestContext) resultsDoNotInclude(content string) error {
	if tc.lastResp == nil {
		return fmt.Errorf("no recall has been performed")
	}
	for _, r := range tc.lastResp.Results {
		if r.Content == content {
			return fmt.Errorf("expected results to exclude %q", content)
		}
	}
	return nil
}

func (tc *TestContext) resultsAreEmpty() error {
	if tc.lastResp == nil {
		return fmt.Errorf("no recall has been performed")
	}
	if len(tc.lastResp.Results) != 0 {
		return fmt.Errorf("expected no results, got %d", len(tc.lastResp.Results))
	}
	return nil
}

func (tc *TestContext) firstResultIs(content string) error {
	if tc.lastResp == nil || len(tc.lastResp.Results) == 0 {
		return fmt.Errorf("no results to inspect")
	}
	if got := tc.lastResp.Results[0].Content; got != content {
		return fmt.Errorf("expected first result %q, got %q", content, got)
	}
	return nil
}

func (tc *TestContext) lookupID(content string) (string, error) {
	id, ok := tc.ids[content]
	if !ok {
		return "", fmt.Errorf("no stored memory with content %q", content)
	}
	return id, nil
}

func (tc *TestContext) thumbs(content, direction string) error {
	id, err := tc.lookupID(content)
	if err != nil {
		return err
	}
	kind := memory.FeedbackUp
	if direction == "down" {
		kind = memory.FeedbackDown
	}
	_, err = tc.eng.SubmitFeedback(tc.ctx, id, kind)
	return err
}

func (tc *TestContext) hasConfidence(content string, want float64) error {
	id, err := tc.lookupID(content)
	if err != nil {
		return err
	}
	rec, err := tc.db.Get(tc.ctx, id)
	if err != nil {
		return err
	}
	if math.Abs(rec.Confidence-want) > 1e-4 {
		return fmt.Errorf("expected confidence %v, got %v", want, rec.Confidence)
	}
	return nil
}

func (tc *TestContext) corrects(content, newContent string) error {
	id, err := tc.lookupID(content)
	if err != nil {
		return err
	}
	replacement, err := tc.eng.ApplyCorrection(tc.ctx, id, newContent)
	if err != nil {
		return err
	}
	tc.ids[newContent] = replacement.ID
	tc.eng.Wait()
	return nil
}

func (tc *TestContext) isSuperseded(content string) error {
	id, err := tc.lookupID(content)
	if err != nil {
		return err
	}
	rec, err := tc.db.Get(tc.ctx, id)
	if err != nil {
		return err
	}
	if rec.SupersededBy == "" {
		return fmt.Errorf("expected memory %q to be superseded", content)
	}
	return nil
}

func (tc *TestContext) hasAuditEvents(content string, count int) error {
	id, err := tc.lookupID(content)
	if err != nil {
		return err
	}
	events, err := tc.db.ListFeedback(tc.ctx, id)
	if err != nil {
		return err
	}
	if len(events) != count {
		return fmt.Errorf("expected %d audit events, got %d", count, len(events))
	}
	return nil
}

func (tc *TestContext) consolidationRuns() error {
	_, err := tc.worker.RunOnce(tc.ctx)
	return err
}

func (tc *TestContext) isArchived(content string) error {
	id, err := tc.lookupID(content)
	if err != nil {
		return err
	}
	rec, err := tc.db.Get(tc.ctx, id)
	if err != nil {
		return err
	}
	if !rec.Archived() {
		return fmt.Errorf("expected memory %q to be archived, confidence %v", content, rec.Confidence)
	}
	return nil
}

func (tc *TestContext) isActive(content string) error {
	id, err := tc.lookupID(content)
	if err != nil {
		return err
	}
	rec, err := tc.db.Get(tc.ctx, id)
	if err != nil {
		return err
	}
	if rec.Archived() {
		return fmt.Errorf("expected memory %q to be active", content)
	}
	return nil
}

func (tc *TestContext) activeCount(owner string, count int) error {
	stats, err := tc.eng.GetStats(tc.ctx, owner)
	if err != nil {
		return err
	}
	if stats.ActiveCount != int64(count) {
		return fmt.Errorf("expected %d active memories for %s, got %d", count, owner, stats.ActiveCount)
	}
	return nil
}

// InitializeScenario sets up step definitions
func InitializeScenario(ctx *godog.ScenarioContext) {
	tc := &TestContext{
		ctx: context.Background(),
	}

	ctx.After(func(c context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		tc.teardown()
		return c, nil
	})

	// Engine lifecycle
	ctx.Step(`^a fresh memory engine$`, tc.freshEngine)

	// Storage and recall
	ctx.Step(`^"([^"]*)" remembers "([^"]*)"$`, tc.remembers)
	ctx.Step(`^"([^"]*)" remembers "([^"]*)" with confidence ([0-9.]+) and importance ([0-9.]+)$`, tc.remembersWith)
	ctx.Step(`^"([^"]*)" recalls "([^"]*)"$`, tc.recalls)
	ctx.Step(`^the results should include "([^"]*)"$`, tc.resultsInclude)
	ctx.Step(`^the results should not include "([^"]*)"$`, tc.resultsDoNotInclude)
	ctx.Step(`^there should be no results$`, tc.resultsAreEmpty)
	ctx.Step(`^the first result should be "([^"]*)"$`, tc.firstResultIs)
	ctx.Step(`^"([^"]*)" should have (\d+) active memories$`, tc.activeCount)
	ctx.Step(`^"([^"]*)" should have (\d+) active memory$`, tc.activeCount)

	// Feedback
	ctx.Step(`^the memory "([^"]*)" gets a thumbs (up|down)$`, tc.thumbs)
	ctx.Step(`^the memory "([^"]*)" should have confidence ([0-9.]+)$`, tc.hasConfidence)
	ctx.Step(`^the memory "([^"]*)" is corrected to "([^"]*)"$`, tc.corrects)
	ctx.Step(`^the memory "([^"]*)" should be superseded$`, tc.isSuperseded)
	ctx.Step(`^the memory "([^"]*)" should have (\d+) audit events?$`, tc.hasAuditEvents)

	// Consolidation
	ctx.Step(`^a consolidation pass runs$`, tc.consolidationRuns)
	ctx.Step(`^the memory "([^"]*)" should be archived$`, tc.isArchived)
	ctx.Step(`^the memory "([^"]*)" should still be active$`, tc.isActive)
}
