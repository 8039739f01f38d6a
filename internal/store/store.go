// Package store implements the authoritative structured tier on SQLite.
// Every durable fact about a memory lives here; the vector index and hot
// cache are rebuildable replicas of this data.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DB is the structured store handle.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the store under dataDir.
func Open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "engram.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &DB{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	return s, nil
}

// SQL returns the underlying database handle. The vector index shares it so
// the index can always be rebuilt from the same file.
func (s *DB) SQL() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *DB) Close() error {
	return s.db.Close()
}

func (s *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		type TEXT NOT NULL,
		content TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		embedding TEXT,
		confidence REAL NOT NULL DEFAULT 0.7,
		importance REAL NOT NULL DEFAULT 0.5,
		access_count INTEGER NOT NULL DEFAULT 0,
		thumbs_up INTEGER NOT NULL DEFAULT 0,
		thumbs_down INTEGER NOT NULL DEFAULT 0,
		last_accessed DATETIME NOT NULL,
		created_at DATETIME NOT NULL,
		archived_at DATETIME,
		superseded_by TEXT,
		source_ref TEXT,
		last_decayed_epoch INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_memories_owner ON memories(owner_id);
	CREATE INDEX IF NOT EXISTS idx_memories_owner_hash ON memories(owner_id, content_hash);
	CREATE INDEX IF NOT EXISTS idx_memories_owner_active ON memories(owner_id, archived_at);

	CREATE TABLE IF NOT EXISTS feedback_events (
		id TEXT PRIMARY KEY,
		memory_id TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		note TEXT,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (memory_id) REFERENCES memories(id)
	);

	CREATE INDEX IF NOT EXISTS idx_feedback_memory ON feedback_events(memory_id);

	CREATE TABLE IF NOT EXISTS shard_leases (
		shard_id INTEGER PRIMARY KEY,
		holder TEXT NOT NULL,
		expires_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS consolidation_runs (
		shard_id INTEGER PRIMARY KEY,
		last_run_at DATETIME NOT NULL,
		epoch INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}
