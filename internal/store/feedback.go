package store

import (
	"context"
	"fmt"
	"time"

	"github.com/engramhq/engram/internal/memory"
)

// RecordFeedback atomically applies a confidence delta, bumps the thumbs
// counters, and appends the audit event. The event and the mutation commit
// together — a confidence change without its audit trail never happens.
func (s *DB) RecordFeedback(ctx context.Context, ev memory.FeedbackEvent, delta float64) (*memory.Record, error) {
	for attempt := 0; attempt < casRetries; attempt++ {
		rec, err := s.Get(ctx, ev.MemoryID)
		if err != nil {
			return nil, err
		}

		newConfidence := memory.Clamp01(rec.Confidence + delta)
		up, down := rec.ThumbsUp, rec.ThumbsDown
		switch ev.Kind {
		case memory.FeedbackUp:
			up++
		case memory.FeedbackDown:
			down++
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("begin feedback tx: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE memories SET confidence = ?, thumbs_up = ?, thumbs_down = ?,
				version = version + 1
			WHERE id = ? AND version = ?
		`, newConfidence, up, down, ev.MemoryID, rec.Version)
		if err != nil {
			tx.Rollback()
			return nil, &memory.DurableWriteError{Err: err}
		}
		n, err := res.RowsAffected()
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		if n == 0 {
			// Version race; retry with a fresh read.
			tx.Rollback()
			continue
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO feedback_events (id, memory_id, owner_id, kind, note, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, ev.ID, ev.MemoryID, ev.OwnerID, string(ev.Kind), ev.Note, ev.CreatedAt)
		if err != nil {
			tx.Rollback()
			return nil, &memory.DurableWriteError{Err: err}
		}

		if err := tx.Commit(); err != nil {
			return nil, &memory.DurableWriteError{Err: err}
		}

		rec.Confidence = newConfidence
		rec.ThumbsUp = up
		rec.ThumbsDown = down
		rec.Version++
		return rec, nil
	}
	return nil, memory.ErrConflict
}

// ListFeedback returns the audit trail for a memory, oldest first.
func (s *DB) ListFeedback(ctx context.Context, memoryID string) ([]memory.FeedbackEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, memory_id, owner_id, kind, COALESCE(note, ''), created_at
		FROM feedback_events WHERE memory_id = ?
		ORDER BY created_at ASC
	`, memoryID)
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	defer rows.Close()

	var events []memory.FeedbackEvent
	for rows.Next() {
		var ev memory.FeedbackEvent
		var kind string
		var createdAt time.Time
		if err := rows.Scan(&ev.ID, &ev.MemoryID, &ev.OwnerID, &kind, &ev.Note, &createdAt); err != nil {
			return nil, err
		}
		ev.Kind = memory.FeedbackKind(kind)
		ev.CreatedAt = createdAt
		events = append(events, ev)
	}
	return events, rows.Err()
}
