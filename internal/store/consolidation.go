package store

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/engramhq/engram/internal/memory"
)

// ShardOf maps an owner id to a consolidation shard.
func ShardOf(ownerID string, shardCount int) int {
	if shardCount <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(ownerID))
	return int(h.Sum32() % uint32(shardCount))
}

// OwnersInShard lists distinct owners whose memories fall into shard.
// Shard assignment is computed in Go so it matches ShardOf exactly.
func (s *DB) OwnersInShard(ctx context.Context, shard, shardCount int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT owner_id FROM memories`)
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, err
		}
		if ShardOf(owner, shardCount) == shard {
			owners = append(owners, owner)
		}
	}
	return owners, rows.Err()
}

// DecayCandidates returns an owner's active memories that have not yet been
// decayed in the given epoch. The caller filters by access recency against
// the shard watermark.
func (s *DB) DecayCandidates(ctx context.Context, ownerID string, epoch int64) ([]*memory.Record, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+`
		FROM memories
		WHERE owner_id = ? AND archived_at IS NULL AND last_decayed_epoch < ?
	`, ownerID, epoch)
	if err != nil {
		return nil, fmt.Errorf("decay candidates: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// ApplyDecay reduces a record's confidence by the importance-resisted decay
// factor and stamps the epoch marker. Returns the updated record.
func (s *DB) ApplyDecay(ctx context.Context, id string, baseRate float64, epoch int64) (*memory.Record, error) {
	return s.Update(ctx, id, func(rec *memory.Record) (bool, error) {
		if rec.Archived() {
			return false, nil
		}
		if rec.LastDecayedEpoch >= epoch {
			// Already decayed this period; re-runs are idempotent.
			return false, nil
		}
		effective := baseRate * (1 - rec.Importance)
		rec.Confidence = memory.Clamp01(rec.Confidence * (1 - effective))
		rec.LastDecayedEpoch = epoch
		return true, nil
	})
}

// AcquireLease claims a consolidation shard for holder until now+ttl.
// Returns false when another live holder owns the shard.
func (s *DB) AcquireLease(ctx context.Context, shard int, holder string, ttl time.Duration, now time.Time) (bool, error) {
	expires := now.Add(ttl)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO shard_leases (shard_id, holder, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(shard_id) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
		WHERE shard_leases.holder = excluded.holder OR shard_leases.expires_at <= ?
	`, shard, holder, expires, now)
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ReleaseLease drops holder's claim on a shard.
func (s *DB) ReleaseLease(ctx context.Context, shard int, holder string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM shard_leases WHERE shard_id = ? AND holder = ?`, shard, holder)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

// Watermark returns the last completed consolidation run for a shard. A
// zero time means the shard has never been consolidated.
func (s *DB) Watermark(ctx context.Context, shard int) (time.Time, int64, error) {
	var lastRun time.Time
	var epoch int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_run_at, epoch FROM consolidation_runs WHERE shard_id = ?`, shard).
		Scan(&lastRun, &epoch)
	if err == sql.ErrNoRows {
		return time.Time{}, 0, nil
	}
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("read watermark: %w", err)
	}
	return lastRun, epoch, nil
}

// SetWatermark records a completed consolidation run for a shard, so a
// crash mid-run resumes from durable state rather than a process timer.
func (s *DB) SetWatermark(ctx context.Context, shard int, runAt time.Time, epoch int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO consolidation_runs (shard_id, last_run_at, epoch) VALUES (?, ?, ?)
		ON CONFLICT(shard_id) DO UPDATE SET last_run_at = excluded.last_run_at, epoch = excluded.epoch
	`, shard, runAt, epoch)
	if err != nil {
		return fmt.Errorf("set watermark: %w", err)
	}
	return nil
}
