// ABOUTME: SQLite database handle and schema migration for graph and memory-item storage
// ABOUTME: Uses the CGO-free modernc driver with WAL journaling
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the shared SQLite handle used by the graph and item stores.
type DB struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at the given path.
func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// OpenInMemory opens a throwaway in-memory database for tests.
func OpenInMemory() (*DB, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open in-memory db: %w", err)
	}
	// In-memory databases vanish when their last connection closes.
	db.SetMaxOpenConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

func (d *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS concept_nodes (
		id          TEXT PRIMARY KEY,
		project_id  TEXT NOT NULL,
		name        TEXT NOT NULL,
		type        TEXT NOT NULL,
		confidence  REAL NOT NULL DEFAULT 0,
		updated_at  TEXT NOT NULL,
		UNIQUE(project_id, name, type)
	);

	CREATE TABLE IF NOT EXISTS concept_edges (
		project_id    TEXT NOT NULL,
		from_id       TEXT NOT NULL,
		to_id         TEXT NOT NULL,
		relation_type TEXT NOT NULL,
		weight        REAL NOT NULL DEFAULT 0,
		updated_at    TEXT NOT NULL,
		PRIMARY KEY (project_id, from_id, to_id, relation_type)
	);
	CREATE INDEX IF NOT EXISTS idx_edges_from ON concept_edges(project_id, from_id);

	CREATE TABLE IF NOT EXISTS memory_items (
		id               TEXT PRIMARY KEY,
		project_id       TEXT NOT NULL,
		tier             TEXT NOT NULL,
		content          TEXT NOT NULL,
		embedding        TEXT,
		importance       REAL NOT NULL DEFAULT 0,
		strength         REAL NOT NULL DEFAULT 0,
		access_count     INTEGER NOT NULL DEFAULT 0,
		created_at       TEXT NOT NULL,
		last_accessed_at TEXT NOT NULL,
		weak_since       TEXT,
		source_refs      TEXT,
		concept          TEXT,
		reliability      REAL NOT NULL DEFAULT 0.5,
		review_pending   INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_items_project_tier ON memory_items(project_id, tier);
	`

	_, err := d.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (d *DB) Close() error {
	return d.db.Close()
}
