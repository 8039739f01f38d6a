// Package vecindex maintains the semantic nearest-neighbor tier on
// sqlite-vec. The index is a rebuildable replica of the structured store's
// embeddings: losing it degrades ranking quality, never correctness.
package vecindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	sqlite_vec.Auto()
}

// Index manages the vec0 virtual table for fast KNN queries. If the
// extension fails to load, searches fall back to a brute-force cosine scan
// over the embeddings stored in the memories table.
type Index struct {
	db         *sql.DB
	dimensions int
	available  bool
	log        *slog.Logger
}

// Hit is a semantic search result.
type Hit struct {
	MemoryID   string
	Similarity float64
}

// New prepares the index over the shared database handle.
func New(db *sql.DB, dimensions int, log *slog.Logger) *Index {
	idx := &Index{db: db, dimensions: dimensions, log: log}
	if err := idx.ensureSchema(); err != nil {
		log.Warn("sqlite-vec not available, semantic search uses linear scan", "error", err)
		idx.available = false
	} else {
		idx.available = true
	}
	return idx
}

// Available reports whether the vec0 extension loaded.
func (idx *Index) Available() bool {
	return idx.available
}

func (idx *Index) ensureSchema() error {
	var vecVersion string
	if err := idx.db.QueryRow("SELECT vec_version()").Scan(&vecVersion); err != nil {
		return fmt.Errorf("vec_version() failed: %w", err)
	}

	// vec0 requires integer rowids; memories use text ids.
	if _, err := idx.db.Exec(`CREATE TABLE IF NOT EXISTS memory_vec_ids (
		vec_id INTEGER PRIMARY KEY AUTOINCREMENT,
		memory_id TEXT UNIQUE NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create vec ID mapping: %w", err)
	}

	createSQL := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS memory_embeddings USING vec0(embedding float[%d] distance_metric=cosine)`,
		idx.dimensions,
	)
	if _, err := idx.db.Exec(createSQL); err != nil {
		return fmt.Errorf("failed to create vec0 table: %w", err)
	}

	return nil
}

// Upsert adds or replaces a memory's embedding in the index.
func (idx *Index) Upsert(ctx context.Context, memoryID string, embedding []float32) error {
	if !idx.available || len(embedding) == 0 || len(embedding) != idx.dimensions {
		return nil
	}

	var vecID int64
	err := idx.db.QueryRowContext(ctx,
		`SELECT vec_id FROM memory_vec_ids WHERE memory_id = ?`, memoryID).Scan(&vecID)
	if err == sql.ErrNoRows {
		result, err := idx.db.ExecContext(ctx,
			`INSERT INTO memory_vec_ids (memory_id) VALUES (?)`, memoryID)
		if err != nil {
			return fmt.Errorf("failed to create vec ID mapping: %w", err)
		}
		vecID, _ = result.LastInsertId()
	} else if err != nil {
		return err
	}

	blob, err := sqlite_vec.SerializeFloat32(embedding)
	if err != nil {
		return fmt.Errorf("failed to serialize embedding: %w", err)
	}

	// vec0 doesn't support ON CONFLICT, so delete first if exists
	idx.db.ExecContext(ctx, `DELETE FROM memory_embeddings WHERE rowid = ?`, vecID)

	_, err = idx.db.ExecContext(ctx,
		`INSERT INTO memory_embeddings (rowid, embedding) VALUES (?, ?)`, vecID, blob)
	if err != nil {
		return fmt.Errorf("failed to insert into vec0: %w", err)
	}

	return nil
}

// Remove drops a memory from the index. Archival calls this; the record
// itself stays in the structured store, so the index remains rebuildable.
func (idx *Index) Remove(ctx context.Context, memoryID string) error {
	if !idx.available {
		return nil
	}
	var vecID int64
	if err := idx.db.QueryRowContext(ctx,
		`SELECT vec_id FROM memory_vec_ids WHERE memory_id = ?`, memoryID).Scan(&vecID); err != nil {
		return nil // not indexed
	}
	idx.db.ExecContext(ctx, `DELETE FROM memory_embeddings WHERE rowid = ?`, vecID)
	idx.db.ExecContext(ctx, `DELETE FROM memory_vec_ids WHERE vec_id = ?`, vecID)
	return nil
}

// Search returns the owner's nearest active memories by cosine similarity.
// Archived memories are filtered out even if still present in the index.
func (idx *Index) Search(ctx context.Context, ownerID string, query []float32, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}
	if !idx.available {
		return idx.linearScan(ctx, ownerID, query, limit)
	}

	blob, err := sqlite_vec.SerializeFloat32(query)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize query: %w", err)
	}

	// Overfetch: the KNN result is filtered by owner and archival below.
	rows, err := idx.db.QueryContext(ctx, `
		SELECT rowid, distance
		FROM memory_embeddings
		WHERE embedding MATCH ?
		ORDER BY distance
		LIMIT ?
	`, blob, limit*5)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type rowResult struct {
		rowID    int64
		distance float64
	}
	var rowResults []rowResult
	for rows.Next() {
		var r rowResult
		if err := rows.Scan(&r.rowID, &r.distance); err != nil {
			continue
		}
		rowResults = append(rowResults, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(rowResults) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(rowResults))
	args := make([]interface{}, 0, len(rowResults)+1)
	for i, rr := range rowResults {
		placeholders[i] = "?"
		args = append(args, rr.rowID)
	}
	args = append(args, ownerID)

	mapRows, err := idx.db.QueryContext(ctx, `
		SELECT v.vec_id, v.memory_id
		FROM memory_vec_ids v
		JOIN memories m ON m.id = v.memory_id
		WHERE v.vec_id IN (`+strings.Join(placeholders, ",")+`)
		AND m.owner_id = ? AND m.archived_at IS NULL
	`, args...)
	if err != nil {
		return nil, err
	}
	defer mapRows.Close()

	idMap := make(map[int64]string)
	for mapRows.Next() {
		var vecID int64
		var memID string
		if err := mapRows.Scan(&vecID, &memID); err != nil {
			continue
		}
		idMap[vecID] = memID
	}

	var hits []Hit
	for _, rr := range rowResults {
		memID, ok := idMap[rr.rowID]
		if !ok {
			continue
		}
		hits = append(hits, Hit{MemoryID: memID, Similarity: 1.0 - rr.distance})
		if len(hits) >= limit {
			break
		}
	}

	return hits, nil
}

// linearScan is the brute-force fallback over embeddings in the memories
// table, used when the vec0 extension is unavailable.
func (idx *Index) linearScan(ctx context.Context, ownerID string, query []float32, limit int) ([]Hit, error) {
	rows, err := idx.db.QueryContext(ctx, `
		SELECT id, embedding FROM memories
		WHERE owner_id = ? AND archived_at IS NULL
		AND embedding IS NOT NULL AND embedding != '' AND embedding != 'null'
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var memID, embJSON string
		if err := rows.Scan(&memID, &embJSON); err != nil {
			continue
		}
		var embedding []float32
		if err := json.Unmarshal([]byte(embJSON), &embedding); err != nil {
			continue
		}
		sim := CosineSimilarity(query, embedding)
		if sim <= 0 {
			continue
		}
		hits = append(hits, Hit{MemoryID: memID, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool {
		return hits[i].Similarity > hits[j].Similarity
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}

	return hits, nil
}

// Backfill populates the index from memories that have embeddings but no
// index entry, so the index can be reconstructed at any time. Returns the
// number of entries added.
func (idx *Index) Backfill(ctx context.Context) (int, error) {
	if !idx.available {
		return 0, nil
	}

	rows, err := idx.db.QueryContext(ctx, `
		SELECT m.id, m.embedding
		FROM memories m
		LEFT JOIN memory_vec_ids v ON v.memory_id = m.id
		WHERE v.vec_id IS NULL AND m.archived_at IS NULL
		AND m.embedding IS NOT NULL AND m.embedding != '' AND m.embedding != 'null'
	`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	type pending struct {
		id  string
		emb []float32
	}
	var todo []pending
	for rows.Next() {
		var memID, embJSON string
		if err := rows.Scan(&memID, &embJSON); err != nil {
			continue
		}
		var embedding []float32
		if err := json.Unmarshal([]byte(embJSON), &embedding); err != nil {
			continue
		}
		if len(embedding) != idx.dimensions {
			continue
		}
		todo = append(todo, pending{id: memID, emb: embedding})
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	count := 0
	for _, p := range todo {
		if err := idx.Upsert(ctx, p.id, p.emb); err != nil {
			continue
		}
		count++
	}

	return count, nil
}

// CosineSimilarity computes cosine similarity between two vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i] * b[i])
		normA += float64(a[i] * a[i])
		normB += float64(b[i] * b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
