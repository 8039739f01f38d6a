package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramhq/engram/internal/memory"
)

func TestApplyThumbs_Up(t *testing.T) {
	eng, _ := setupEngine(t)
	ctx := context.Background()

	rec := mustStore(t, eng, StoreInput{OwnerID: "alice", Content: "prefers dark mode", Type: memory.TypePreference})

	updated, err := eng.SubmitFeedback(ctx, rec.ID, memory.FeedbackUp)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, updated.Confidence, 1e-9)
	assert.EqualValues(t, 1, updated.ThumbsUp)

	events, err := eng.store.ListFeedback(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, memory.FeedbackUp, events[0].Kind)
	assert.Equal(t, "alice", events[0].OwnerID)
}

func TestApplyThumbs_Down(t *testing.T) {
	eng, _ := setupEngine(t)
	ctx := context.Background()

	rec := mustStore(t, eng, StoreInput{OwnerID: "alice", Content: "prefers dark mode", Type: memory.TypePreference})

	updated, err := eng.SubmitFeedback(ctx, rec.ID, memory.FeedbackDown)
	require.NoError(t, err)
	assert.InDelta(t, 0.65, updated.Confidence, 1e-9)
	assert.EqualValues(t, 1, updated.ThumbsDown)
}

func TestApplyThumbs_ClampAtBounds(t *testing.T) {
	eng, _ := setupEngine(t)
	ctx := context.Background()

	high := mustStore(t, eng, StoreInput{OwnerID: "alice", Content: "near certain", Type: memory.TypeFact, Confidence: 0.98})
	updated, err := eng.SubmitFeedback(ctx, high.ID, memory.FeedbackUp)
	require.NoError(t, err)
	assert.Equal(t, 1.0, updated.Confidence)

	low := mustStore(t, eng, StoreInput{OwnerID: "alice", Content: "barely believed", Type: memory.TypeFact, Confidence: 0.03})
	updated, err = eng.SubmitFeedback(ctx, low.ID, memory.FeedbackDown)
	require.NoError(t, err)
	assert.Equal(t, 0.0, updated.Confidence)
}

func TestApplyThumbs_InvalidKind(t *testing.T) {
	eng, _ := setupEngine(t)

	rec := mustStore(t, eng, StoreInput{OwnerID: "alice", Content: "prefers dark mode", Type: memory.TypePreference})

	_, err := eng.SubmitFeedback(context.Background(), rec.ID, memory.FeedbackCorrection)
	var verr *memory.ValidationError
	require.ErrorAs(t, err, &verr, "corrections go through ApplyCorrection, not thumbs")
}

func TestApplyThumbs_UnknownMemory(t *testing.T) {
	eng, _ := setupEngine(t)

	_, err := eng.SubmitFeedback(context.Background(), "no-such-id", memory.FeedbackUp)
	require.ErrorIs(t, err, memory.ErrNotFound)
}

func TestApplyThumbs_RefreshesCache(t *testing.T) {
	eng, _ := setupEngine(t)
	ctx := context.Background()

	rec := mustStore(t, eng, StoreInput{OwnerID: "alice", Content: "prefers dark mode", Type: memory.TypePreference})
	eng.Wait()

	_, err := eng.SubmitFeedback(ctx, rec.ID, memory.FeedbackUp)
	require.NoError(t, err)

	cached := eng.cache.Get("alice", rec.ID)
	require.NotNil(t, cached)
	assert.InDelta(t, 0.75, cached.Confidence, 1e-9, "cache sees the post-feedback record")
}

func TestThumbsAffectRanking(t *testing.T) {
	eng, vec := setupEngine(t)
	ctx := context.Background()

	liked := mustStore(t, eng, StoreInput{OwnerID: "alice", Content: "drinks espresso at sunrise", Type: memory.TypeFact})
	disliked := mustStore(t, eng, StoreInput{OwnerID: "alice", Content: "drinks espresso at midnight", Type: memory.TypeFact})
	eng.Wait()

	// Pin equal semantic similarity so ranking hinges on feedback alone.
	vec.mu.Lock()
	vec.fixed[liked.ID] = 0.9
	vec.fixed[disliked.ID] = 0.9
	vec.mu.Unlock()

	_, err := eng.SubmitFeedback(ctx, liked.ID, memory.FeedbackUp)
	require.NoError(t, err)
	_, err = eng.SubmitFeedback(ctx, disliked.ID, memory.FeedbackDown)
	require.NoError(t, err)

	resp, err := eng.SearchMemory(ctx, "alice", "espresso", SearchOptions{})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(resp.Results), 2)
	assert.Equal(t, liked.ID, resp.Results[0].MemoryID, "thumbs-up memory ranks above thumbs-down")
	assert.Equal(t, disliked.ID, resp.Results[1].MemoryID)
}

// =============================================================================
// Corrections
// =============================================================================

func TestApplyCorrection(t *testing.T) {
	eng, _ := setupEngine(t)
	ctx := context.Background()

	old := mustStore(t, eng, StoreInput{
		OwnerID:    "alice",
		Content:    "prefers dark mode",
		Type:       memory.TypePreference,
		SourceRef:  "conversation-1",
		Importance: 0.8,
	})

	replacement, err := eng.ApplyCorrection(ctx, old.ID, "prefers light mode since the redesign")
	require.NoError(t, err)

	assert.Equal(t, "prefers light mode since the redesign", replacement.Content)
	assert.Equal(t, old.Type, replacement.Type)
	assert.Equal(t, old.SourceRef, replacement.SourceRef)
	assert.Equal(t, old.Importance, replacement.Importance)
	assert.False(t, replacement.Archived())

	// The old record survives for audit, marked and penalized.
	oldNow, err := eng.store.Get(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, replacement.ID, oldNow.SupersededBy)
	assert.InDelta(t, 0.4, oldNow.Confidence, 1e-9, "correction penalty applied")

	events, err := eng.store.ListFeedback(ctx, old.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, memory.FeedbackCorrection, events[0].Kind)
	assert.Contains(t, events[0].Note, replacement.ID)
	assert.Contains(t, events[0].Note, "prefers dark mode", "audit note preserves the superseded content")
}

func TestApplyCorrection_EmptyContent(t *testing.T) {
	eng, _ := setupEngine(t)

	rec := mustStore(t, eng, StoreInput{OwnerID: "alice", Content: "prefers dark mode", Type: memory.TypePreference})

	_, err := eng.ApplyCorrection(context.Background(), rec.ID, "   ")
	var verr *memory.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestApplyCorrection_AlreadySuperseded(t *testing.T) {
	eng, _ := setupEngine(t)
	ctx := context.Background()

	rec := mustStore(t, eng, StoreInput{OwnerID: "alice", Content: "prefers dark mode", Type: memory.TypePreference})

	_, err := eng.ApplyCorrection(ctx, rec.ID, "prefers light mode")
	require.NoError(t, err)

	_, err = eng.ApplyCorrection(ctx, rec.ID, "prefers sepia mode")
	var verr *memory.ValidationError
	require.ErrorAs(t, err, &verr, "a superseded memory cannot be corrected again")
}

func TestApplyCorrection_InvalidatesCache(t *testing.T) {
	eng, _ := setupEngine(t)
	ctx := context.Background()

	old := mustStore(t, eng, StoreInput{OwnerID: "alice", Content: "prefers dark mode", Type: memory.TypePreference})
	eng.Wait()
	require.NotNil(t, eng.cache.Get("alice", old.ID))

	_, err := eng.ApplyCorrection(ctx, old.ID, "prefers light mode")
	require.NoError(t, err)

	assert.Nil(t, eng.cache.Get("alice", old.ID), "stale copy of the corrected memory must be dropped")
}

// =============================================================================
// Use Boost
// =============================================================================

func TestApplyUseBoost_CapsAtOne(t *testing.T) {
	eng, _ := setupEngine(t)
	ctx := context.Background()

	rec := mustStore(t, eng, StoreInput{OwnerID: "alice", Content: "proved useful", Type: memory.TypeFact, Confidence: 0.99})

	boosted, err := eng.learner.ApplyUseBoost(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, boosted.Confidence, "0.99 + 0.02 clamps to 1.0")
	assert.EqualValues(t, 1, boosted.AccessCount)

	again, err := eng.learner.ApplyUseBoost(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, again.Confidence, "confidence stays at the cap")
	assert.EqualValues(t, 2, again.AccessCount, "access count keeps advancing")
}
