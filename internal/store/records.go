package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/engramhq/engram/internal/memory"
)

// casRetries bounds how often a row-level optimistic update is retried
// before surfacing ErrConflict.
const casRetries = 3

// Write persists a new record. It is the authoritative write: it either
// fully succeeds or returns a DurableWriteError. Byte-identical content for
// the same owner dedups against the existing active record; in that case
// rec is overwritten with the stored copy and created is false.
func (s *DB) Write(ctx context.Context, rec *memory.Record) (created bool, err error) {
	if err := rec.Validate(); err != nil {
		return false, err
	}

	hash := memory.ContentHash(rec.Content)

	var existingID string
	err = s.db.QueryRowContext(ctx, `
		SELECT id FROM memories
		WHERE owner_id = ? AND content_hash = ? AND archived_at IS NULL
	`, rec.OwnerID, hash).Scan(&existingID)
	if err == nil {
		existing, getErr := s.Get(ctx, existingID)
		if getErr != nil {
			return false, getErr
		}
		*rec = *existing
		return false, nil
	}
	if err != sql.ErrNoRows {
		return false, &memory.DurableWriteError{Err: err}
	}

	embeddingJSON, _ := json.Marshal(rec.Embedding)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (id, owner_id, type, content, content_hash, embedding,
			confidence, importance, access_count, thumbs_up, thumbs_down,
			last_accessed, created_at, source_ref, last_decayed_epoch, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 0, 0, ?, ?, ?, 0, 1)
	`, rec.ID, rec.OwnerID, string(rec.Type), rec.Content, hash, string(embeddingJSON),
		rec.Confidence, rec.Importance, rec.LastAccessed, rec.CreatedAt, rec.SourceRef)
	if err != nil {
		return false, &memory.DurableWriteError{Err: err}
	}

	rec.Version = 1
	return true, nil
}

// Get returns a record by id, or memory.ErrNotFound.
func (s *DB) Get(ctx context.Context, id string) (*memory.Record, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` FROM memories WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, memory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get memory %s: %w", id, err)
	}
	return rec, nil
}

// GetByIDs batch-fetches records, skipping unknown ids.
func (s *DB) GetByIDs(ctx context.Context, ids []string) ([]*memory.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		selectColumns+` FROM memories WHERE id IN (`+strings.Join(placeholders, ",")+`)`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("get memories by ids: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Match is a keyword-search candidate with its text-match metadata.
type Match struct {
	Record       *memory.Record
	MatchedTerms int
	TotalTerms   int
}

// Search performs keyword matching over an owner's active memories.
// Archived records never match. typeFilter of "" matches all types.
func (s *DB) Search(ctx context.Context, ownerID, query string, typeFilter memory.Type, limit int) ([]Match, error) {
	terms := Tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	sqlQuery := selectColumns + ` FROM memories WHERE owner_id = ? AND archived_at IS NULL`
	args := []interface{}{ownerID}
	if typeFilter != "" {
		sqlQuery += ` AND type = ?`
		args = append(args, string(typeFilter))
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	defer rows.Close()

	recs, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}

	var matches []Match
	for _, rec := range recs {
		content := strings.ToLower(rec.Content)
		matched := 0
		for _, term := range terms {
			if strings.Contains(content, term) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		matches = append(matches, Match{Record: rec, MatchedTerms: matched, TotalTerms: len(terms)})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].MatchedTerms != matches[j].MatchedTerms {
			return matches[i].MatchedTerms > matches[j].MatchedTerms
		}
		return matches[i].Record.Confidence > matches[j].Record.Confidence
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}

	return matches, nil
}

// Tokenize lowercases query text and splits it into search terms, dropping
// single characters.
func Tokenize(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	var terms []string
	for _, f := range fields {
		if len(f) > 1 {
			terms = append(terms, f)
		}
	}
	return terms
}

// Update applies mutate to the current row under optimistic versioning.
// On a version race it re-reads and retries; after casRetries lost races it
// returns memory.ErrConflict. mutate returns false to skip the write.
func (s *DB) Update(ctx context.Context, id string, mutate func(*memory.Record) (bool, error)) (*memory.Record, error) {
	for attempt := 0; attempt < casRetries; attempt++ {
		rec, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}

		write, err := mutate(rec)
		if err != nil {
			return nil, err
		}
		if !write {
			return rec, nil
		}

		// Clamp invariant holds on every mutation.
		rec.Confidence = memory.Clamp01(rec.Confidence)
		rec.Importance = memory.Clamp01(rec.Importance)

		embeddingJSON, _ := json.Marshal(rec.Embedding)
		var archivedAt interface{}
		if rec.ArchivedAt != nil {
			archivedAt = *rec.ArchivedAt
		}

		res, err := s.db.ExecContext(ctx, `
			UPDATE memories SET content = ?, content_hash = ?, embedding = ?,
				confidence = ?, importance = ?, access_count = ?,
				thumbs_up = ?, thumbs_down = ?, last_accessed = ?,
				archived_at = ?, superseded_by = ?, last_decayed_epoch = ?,
				version = version + 1
			WHERE id = ? AND version = ?
		`, rec.Content, memory.ContentHash(rec.Content), string(embeddingJSON),
			rec.Confidence, rec.Importance, rec.AccessCount,
			rec.ThumbsUp, rec.ThumbsDown, rec.LastAccessed,
			archivedAt, nullable(rec.SupersededBy), rec.LastDecayedEpoch,
			id, rec.Version)
		if err != nil {
			return nil, &memory.DurableWriteError{Err: err}
		}

		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 1 {
			rec.Version++
			return rec, nil
		}
		// Lost the race; loop re-reads at the new version.
	}
	return nil, memory.ErrConflict
}

// UpdateAccess bumps access stats and applies the use-on-touch confidence
// boost. Archived records are frozen: the call is a no-op for them.
func (s *DB) UpdateAccess(ctx context.Context, id string, boost float64, now time.Time) (*memory.Record, error) {
	return s.Update(ctx, id, func(rec *memory.Record) (bool, error) {
		if rec.Archived() {
			return false, nil
		}
		rec.AccessCount++
		rec.LastAccessed = now
		rec.Confidence = memory.Clamp01(rec.Confidence + boost)
		return true, nil
	})
}

// Archive soft-deletes a record. Archival is terminal and idempotent; the
// row is never physically removed.
func (s *DB) Archive(ctx context.Context, id string, now time.Time) error {
	_, err := s.Update(ctx, id, func(rec *memory.Record) (bool, error) {
		if rec.Archived() {
			return false, nil
		}
		at := now
		rec.ArchivedAt = &at
		return true, nil
	})
	return err
}

// Stats summarizes an owner's memories.
type Stats struct {
	ActiveCount   int64            `json:"active_count"`
	ArchivedCount int64            `json:"archived_count"`
	AvgConfidence float64          `json:"avg_confidence"`
	ByType        map[string]int64 `json:"by_type"`
}

// OwnerStats computes counts and average confidence for one owner.
func (s *DB) OwnerStats(ctx context.Context, ownerID string) (*Stats, error) {
	stats := &Stats{ByType: make(map[string]int64)}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(CASE WHEN archived_at IS NULL THEN 1 END),
			COUNT(CASE WHEN archived_at IS NOT NULL THEN 1 END),
			COALESCE(AVG(CASE WHEN archived_at IS NULL THEN confidence END), 0)
		FROM memories WHERE owner_id = ?
	`, ownerID).Scan(&stats.ActiveCount, &stats.ArchivedCount, &stats.AvgConfidence)
	if err != nil {
		return nil, fmt.Errorf("owner stats: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT type, COUNT(*) FROM memories
		WHERE owner_id = ? AND archived_at IS NULL
		GROUP BY type
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("owner stats by type: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var typ string
		var n int64
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		stats.ByType[typ] = n
	}

	return stats, rows.Err()
}

const selectColumns = `SELECT id, owner_id, type, content, embedding,
	confidence, importance, access_count, thumbs_up, thumbs_down,
	last_accessed, created_at, archived_at, superseded_by, source_ref,
	last_decayed_epoch, version`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*memory.Record, error) {
	var rec memory.Record
	var typ, embeddingJSON string
	var archivedAt sql.NullTime
	var supersededBy, sourceRef sql.NullString

	err := row.Scan(&rec.ID, &rec.OwnerID, &typ, &rec.Content, &embeddingJSON,
		&rec.Confidence, &rec.Importance, &rec.AccessCount, &rec.ThumbsUp, &rec.ThumbsDown,
		&rec.LastAccessed, &rec.CreatedAt, &archivedAt, &supersededBy, &sourceRef,
		&rec.LastDecayedEpoch, &rec.Version)
	if err != nil {
		return nil, err
	}

	rec.Type = memory.Type(typ)
	if archivedAt.Valid {
		t := archivedAt.Time
		rec.ArchivedAt = &t
	}
	rec.SupersededBy = supersededBy.String
	rec.SourceRef = sourceRef.String
	json.Unmarshal([]byte(embeddingJSON), &rec.Embedding)

	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]*memory.Record, error) {
	var recs []*memory.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
