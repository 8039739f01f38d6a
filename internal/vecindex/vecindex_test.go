package vecindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupScanIndex builds an index forced onto the linear-scan path over a
// minimal memories table, so tests do not depend on the vec0 extension
// being loadable in the test environment.
func setupScanIndex(t *testing.T, dims int) (*Index, *sql.DB) {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE memories (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		embedding TEXT,
		archived_at DATETIME
	)`)
	if err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	return &Index{db: db, dimensions: dims, available: false, log: testLogger()}, db
}

func insertEmbedding(t *testing.T, db *sql.DB, id, owner string, emb []float32, archived bool) {
	t.Helper()
	blob, _ := json.Marshal(emb)
	var archivedAt interface{}
	if archived {
		archivedAt = time.Now()
	}
	if _, err := db.Exec(
		`INSERT INTO memories (id, owner_id, embedding, archived_at) VALUES (?, ?, ?, ?)`,
		id, owner, string(blob), archivedAt); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
}

func TestLinearScan_RanksBySimilarity(t *testing.T) {
	idx, db := setupScanIndex(t, 3)
	ctx := context.Background()

	insertEmbedding(t, db, "exact", "alice", []float32{1, 0, 0}, false)
	insertEmbedding(t, db, "near", "alice", []float32{0.9, 0.1, 0}, false)
	insertEmbedding(t, db, "far", "alice", []float32{0, 0, 1}, false)

	hits, err := idx.Search(ctx, "alice", []float32{1, 0, 0}, 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits (orthogonal vector dropped), got %d", len(hits))
	}
	if hits[0].MemoryID != "exact" || hits[1].MemoryID != "near" {
		t.Errorf("unexpected ranking: %v", hits)
	}
	if hits[0].Similarity < 0.999 {
		t.Errorf("expected similarity ~1.0 for identical vector, got %v", hits[0].Similarity)
	}
}

func TestLinearScan_OwnerAndArchivalFilter(t *testing.T) {
	idx, db := setupScanIndex(t, 3)
	ctx := context.Background()

	insertEmbedding(t, db, "mine", "alice", []float32{1, 0, 0}, false)
	insertEmbedding(t, db, "theirs", "bob", []float32{1, 0, 0}, false)
	insertEmbedding(t, db, "archived", "alice", []float32{1, 0, 0}, true)

	hits, err := idx.Search(ctx, "alice", []float32{1, 0, 0}, 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) != 1 || hits[0].MemoryID != "mine" {
		t.Errorf("expected only alice's active memory, got %v", hits)
	}
}

func TestLinearScan_Limit(t *testing.T) {
	idx, db := setupScanIndex(t, 2)
	ctx := context.Background()

	insertEmbedding(t, db, "a", "alice", []float32{1, 0}, false)
	insertEmbedding(t, db, "b", "alice", []float32{0.9, 0.1}, false)
	insertEmbedding(t, db, "c", "alice", []float32{0.8, 0.2}, false)

	hits, err := idx.Search(ctx, "alice", []float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) != 2 {
		t.Errorf("expected limit to cap results at 2, got %d", len(hits))
	}
}

func TestUnavailableIndexIsInert(t *testing.T) {
	idx, _ := setupScanIndex(t, 3)
	ctx := context.Background()

	// Upsert, Remove, and Backfill all degrade to no-ops.
	if err := idx.Upsert(ctx, "mem-1", []float32{1, 0, 0}); err != nil {
		t.Errorf("Upsert on unavailable index should be a no-op, got %v", err)
	}
	if err := idx.Remove(ctx, "mem-1"); err != nil {
		t.Errorf("Remove on unavailable index should be a no-op, got %v", err)
	}
	n, err := idx.Backfill(ctx)
	if err != nil || n != 0 {
		t.Errorf("Backfill on unavailable index should be a no-op, got %d, %v", n, err)
	}
	if idx.Available() {
		t.Error("Available must report false")
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1},
		{"orthogonal", []float32{1, 0, 0}, []float32{0, 1, 0}, 0},
		{"opposite", []float32{1, 0, 0}, []float32{-1, 0, 0}, -1},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"empty", nil, nil, 0},
		{"zero vector", []float32{0, 0, 0}, []float32{1, 0, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("CosineSimilarity = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCosineSimilarity_ScaleInvariant(t *testing.T) {
	a := []float32{0.3, 0.4, 0.5}
	b := []float32{0.6, 0.8, 1.0}
	if sim := CosineSimilarity(a, b); math.Abs(sim-1) > 1e-6 {
		t.Errorf("scaled vectors should have similarity 1, got %v", sim)
	}
}
