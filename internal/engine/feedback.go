package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/engramhq/engram/internal/memory"
)

// Learner applies explicit feedback — thumbs, corrections, use boosts — to
// memory confidence. Every confidence change it makes is audited through a
// FeedbackEvent.
type Learner struct {
	engine *Engine
}

// ApplyThumbs adjusts a memory's confidence by the configured delta:
// positive for up, negative for down, clamped to [0,1].
func (l *Learner) ApplyThumbs(ctx context.Context, memoryID string, kind memory.FeedbackKind) (*memory.Record, error) {
	e := l.engine

	var delta float64
	switch kind {
	case memory.FeedbackUp:
		delta = e.cfg.ThumbsDelta
	case memory.FeedbackDown:
		delta = -e.cfg.ThumbsDelta
	default:
		return nil, &memory.ValidationError{Field: "feedback_type", Reason: "must be up or down"}
	}

	rec, err := e.store.Get(ctx, memoryID)
	if err != nil {
		return nil, err
	}

	updated, err := e.store.RecordFeedback(ctx, memory.FeedbackEvent{
		ID:        uuid.NewString(),
		MemoryID:  memoryID,
		OwnerID:   rec.OwnerID,
		Kind:      kind,
		CreatedAt: e.now(),
	}, delta)
	if err != nil {
		return nil, err
	}

	e.cache.Put(updated.OwnerID, updated.ID, updated)
	e.log.Info("applied thumbs feedback", "memory", memoryID, "kind", kind, "confidence", updated.Confidence)
	return updated, nil
}

// ApplyCorrection supersedes a memory's content: a new record is written
// with the corrected text, the old record is marked superseded and loses
// confidence, and the supersession is audited. The old record is never
// silently overwritten.
func (l *Learner) ApplyCorrection(ctx context.Context, memoryID, newContent string) (*memory.Record, error) {
	e := l.engine

	newContent = strings.TrimSpace(newContent)
	if newContent == "" {
		return nil, &memory.ValidationError{Field: "new_content", Reason: "must not be empty"}
	}

	old, err := e.store.Get(ctx, memoryID)
	if err != nil {
		return nil, err
	}
	if old.SupersededBy != "" {
		return nil, &memory.ValidationError{Field: "memory_id", Reason: "memory already superseded by " + old.SupersededBy}
	}

	replacement, err := e.StoreMemory(ctx, StoreInput{
		OwnerID:    old.OwnerID,
		Content:    newContent,
		Type:       old.Type,
		SourceRef:  old.SourceRef,
		Importance: old.Importance,
	})
	if err != nil {
		return nil, fmt.Errorf("store correction: %w", err)
	}

	_, err = e.store.Update(ctx, old.ID, func(rec *memory.Record) (bool, error) {
		if rec.SupersededBy != "" {
			return false, errors.New("memory superseded concurrently")
		}
		rec.SupersededBy = replacement.ID
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	_, err = e.store.RecordFeedback(ctx, memory.FeedbackEvent{
		ID:        uuid.NewString(),
		MemoryID:  old.ID,
		OwnerID:   old.OwnerID,
		Kind:      memory.FeedbackCorrection,
		Note:      "superseded by " + replacement.ID + ": " + old.Content,
		CreatedAt: e.now(),
	}, -e.cfg.CorrectionPenalty)
	if err != nil {
		return nil, err
	}

	e.cache.Invalidate(old.OwnerID, old.ID)
	e.log.Info("applied correction", "superseded", old.ID, "replacement", replacement.ID)
	return replacement, nil
}

// ApplyUseBoost rewards a memory that proved useful: +use_boost confidence
// per use, clamped at 1.0, with access stats bumped alongside.
func (l *Learner) ApplyUseBoost(ctx context.Context, memoryID string) (*memory.Record, error) {
	e := l.engine
	rec, err := e.store.UpdateAccess(ctx, memoryID, e.cfg.UseBoost, e.now())
	if err != nil {
		return nil, err
	}
	e.cache.Put(rec.OwnerID, rec.ID, rec)
	return rec, nil
}
