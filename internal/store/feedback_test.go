package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/engramhq/engram/internal/memory"
)

func newFeedbackEvent(memoryID, owner string, kind memory.FeedbackKind) memory.FeedbackEvent {
	return memory.FeedbackEvent{
		ID:        uuid.NewString(),
		MemoryID:  memoryID,
		OwnerID:   owner,
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	}
}

func TestRecordFeedback_Up(t *testing.T) {
	db, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	rec := newRecord("alice", "prefers dark mode")
	mustWrite(t, db, rec)

	updated, err := db.RecordFeedback(ctx, newFeedbackEvent(rec.ID, "alice", memory.FeedbackUp), 0.05)
	if err != nil {
		t.Fatalf("RecordFeedback failed: %v", err)
	}
	if updated.Confidence < 0.749 || updated.Confidence > 0.751 {
		t.Errorf("expected confidence ~0.75, got %v", updated.Confidence)
	}
	if updated.ThumbsUp != 1 || updated.ThumbsDown != 0 {
		t.Errorf("expected thumbs counters (1,0), got (%d,%d)", updated.ThumbsUp, updated.ThumbsDown)
	}
}

func TestRecordFeedback_DownClampsAtZero(t *testing.T) {
	db, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	rec := newRecord("alice", "prefers dark mode")
	rec.Confidence = 0.03
	mustWrite(t, db, rec)

	updated, err := db.RecordFeedback(ctx, newFeedbackEvent(rec.ID, "alice", memory.FeedbackDown), -0.05)
	if err != nil {
		t.Fatalf("RecordFeedback failed: %v", err)
	}
	if updated.Confidence != 0 {
		t.Errorf("expected confidence clamped at 0, got %v", updated.Confidence)
	}
	if updated.ThumbsDown != 1 {
		t.Errorf("expected thumbs down counted, got %d", updated.ThumbsDown)
	}
}

func TestRecordFeedback_AuditTrail(t *testing.T) {
	db, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	rec := newRecord("alice", "prefers dark mode")
	mustWrite(t, db, rec)

	up := newFeedbackEvent(rec.ID, "alice", memory.FeedbackUp)
	up.CreatedAt = time.Now().Add(-time.Minute).UTC()
	if _, err := db.RecordFeedback(ctx, up, 0.05); err != nil {
		t.Fatal(err)
	}
	down := newFeedbackEvent(rec.ID, "alice", memory.FeedbackDown)
	if _, err := db.RecordFeedback(ctx, down, -0.05); err != nil {
		t.Fatal(err)
	}

	events, err := db.ListFeedback(ctx, rec.ID)
	if err != nil {
		t.Fatalf("ListFeedback failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 audit events, got %d", len(events))
	}
	// Oldest first.
	if events[0].Kind != memory.FeedbackUp || events[1].Kind != memory.FeedbackDown {
		t.Errorf("unexpected event order: %v, %v", events[0].Kind, events[1].Kind)
	}
}

func TestRecordFeedback_UnknownMemory(t *testing.T) {
	db, cleanup := setupTestStore(t)
	defer cleanup()

	_, err := db.RecordFeedback(context.Background(),
		newFeedbackEvent("no-such-id", "alice", memory.FeedbackUp), 0.05)
	if err != memory.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordFeedback_VersionAdvances(t *testing.T) {
	db, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	rec := newRecord("alice", "prefers dark mode")
	mustWrite(t, db, rec)

	updated, err := db.RecordFeedback(ctx, newFeedbackEvent(rec.ID, "alice", memory.FeedbackUp), 0.05)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Version != rec.Version+1 {
		t.Errorf("expected version %d, got %d", rec.Version+1, updated.Version)
	}
}
