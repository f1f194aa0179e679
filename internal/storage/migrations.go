package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
)

// CurrentSchemaVersion is the version the newest migration produces
const CurrentSchemaVersion = "1.0.0"

// Migration is one schema step with its inverse. Version is a semantic
// version; migrations run in version order, not slice order.
type Migration struct {
	Version string
	Up      string
	Down    string
}

// AllMigrations lists every schema step
var AllMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      migrationV1Up,
		Down:    migrationV1Down,
	},
}

const migrationV1Up = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Projects table
CREATE TABLE IF NOT EXISTS projects (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    root_path TEXT NOT NULL UNIQUE,
    state TEXT NOT NULL,
    last_sync_at TIMESTAMP,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Files table: one row per fully committed file, the persisted sync state
CREATE TABLE IF NOT EXISTS files (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    project_id INTEGER NOT NULL,
    rel_path TEXT NOT NULL,
    fingerprint BLOB NOT NULL,
    mod_time TIMESTAMP,
    size_bytes INTEGER,
    language TEXT NOT NULL,
    indexed_at TIMESTAMP,
    FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE,
    UNIQUE(project_id, rel_path)
);

CREATE INDEX IF NOT EXISTS idx_files_project ON files(project_id);

-- Chunks table. Ids are content derived and unique within a project.
CREATE TABLE IF NOT EXISTS chunks (
    project_id INTEGER NOT NULL,
    id TEXT NOT NULL,
    file_id INTEGER NOT NULL,
    kind TEXT NOT NULL,
    symbol TEXT NOT NULL DEFAULT '',
    language TEXT NOT NULL,
    content TEXT NOT NULL,
    fingerprint BLOB NOT NULL,
    start_line INTEGER NOT NULL,
    end_line INTEGER NOT NULL,
    start_byte INTEGER NOT NULL,
    end_byte INTEGER NOT NULL,
    suspicious BOOLEAN DEFAULT 0,
    redactions INTEGER DEFAULT 0,
    PRIMARY KEY (project_id, id),
    FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE,
    FOREIGN KEY (file_id) REFERENCES files(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_chunks_file ON chunks(file_id);

-- Embeddings table
CREATE TABLE IF NOT EXISTS embeddings (
    project_id INTEGER NOT NULL,
    chunk_id TEXT NOT NULL,
    vector BLOB NOT NULL,
    dimension INTEGER NOT NULL,
    model TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (project_id, chunk_id),
    FOREIGN KEY (project_id, chunk_id) REFERENCES chunks(project_id, id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_embeddings_model ON embeddings(project_id, model);

-- Symbols table
CREATE TABLE IF NOT EXISTS symbols (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    project_id INTEGER NOT NULL,
    file_id INTEGER NOT NULL,
    chunk_id TEXT NOT NULL,
    name TEXT NOT NULL,
    kind TEXT NOT NULL,
    signature TEXT,
    start_line INTEGER,
    end_line INTEGER,
    FOREIGN KEY (file_id) REFERENCES files(id) ON DELETE CASCADE,
    FOREIGN KEY (project_id, chunk_id) REFERENCES chunks(project_id, id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_symbols_project_name ON symbols(project_id, name);
CREATE INDEX IF NOT EXISTS idx_symbols_file ON symbols(file_id);
CREATE INDEX IF NOT EXISTS idx_symbols_chunk ON symbols(project_id, chunk_id);

-- Call edges table
CREATE TABLE IF NOT EXISTS call_edges (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    project_id INTEGER NOT NULL,
    file_id INTEGER NOT NULL,
    caller_chunk_id TEXT NOT NULL,
    caller_symbol TEXT NOT NULL DEFAULT '',
    callee_name TEXT NOT NULL,
    line INTEGER NOT NULL,
    FOREIGN KEY (file_id) REFERENCES files(id) ON DELETE CASCADE,
    FOREIGN KEY (project_id, caller_chunk_id) REFERENCES chunks(project_id, id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_call_edges_callee ON call_edges(project_id, callee_name);
CREATE INDEX IF NOT EXISTS idx_call_edges_file ON call_edges(file_id);
CREATE INDEX IF NOT EXISTS idx_call_edges_caller ON call_edges(project_id, caller_chunk_id);
`

const migrationV1Down = `
DROP TABLE IF EXISTS call_edges;
DROP TABLE IF EXISTS symbols;
DROP TABLE IF EXISTS embeddings;
DROP TABLE IF EXISTS chunks;
DROP TABLE IF EXISTS files;
DROP TABLE IF EXISTS projects;
`

var zeroVersion = semver.MustParse("0.0.0")

// schemaVersion returns the highest recorded schema version, or 0.0.0 on a
// fresh database
func schemaVersion(ctx context.Context, db *sql.DB) (*semver.Version, error) {
	var exists int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_version'").Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check schema_version table: %w", err)
	}
	if exists == 0 {
		return zeroVersion, nil
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return nil, fmt.Errorf("read schema_version: %w", err)
	}
	defer func() { _ = rows.Close() }()

	current := zeroVersion
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		v, err := semver.NewVersion(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid current schema version %s: %w", raw, err)
		}
		if v.GreaterThan(current) {
			current = v
		}
	}
	return current, rows.Err()
}

// pending returns the migrations newer than current in version order
func pending(current *semver.Version) ([]Migration, []*semver.Version, error) {
	var (
		out      []Migration
		versions []*semver.Version
	)
	for _, m := range AllMigrations {
		v, err := semver.NewVersion(m.Version)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid migration version %s: %w", m.Version, err)
		}
		if v.GreaterThan(current) {
			out = append(out, m)
			versions = append(versions, v)
		}
	}
	sort.Sort(byVersion{out, versions})
	return out, versions, nil
}

type byVersion struct {
	migrations []Migration
	versions   []*semver.Version
}

func (b byVersion) Len() int           { return len(b.migrations) }
func (b byVersion) Less(i, j int) bool { return b.versions[i].LessThan(b.versions[j]) }
func (b byVersion) Swap(i, j int) {
	b.migrations[i], b.migrations[j] = b.migrations[j], b.migrations[i]
	b.versions[i], b.versions[j] = b.versions[j], b.versions[i]
}

// ApplyMigrations brings the schema up to date. Each migration and its
// version row commit in one transaction.
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	current, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}
	todo, _, err := pending(current)
	if err != nil {
		return err
	}
	for _, m := range todo {
		err := inTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.Up); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", m.Version)
			return err
		})
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", m.Version, err)
		}
	}
	return nil
}

// RollbackMigration reverts the newest applied migration
func RollbackMigration(ctx context.Context, db *sql.DB) error {
	current, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}
	if current.Equal(zeroVersion) {
		return fmt.Errorf("no migrations to roll back")
	}

	var m *Migration
	for i := range AllMigrations {
		v, err := semver.NewVersion(AllMigrations[i].Version)
		if err == nil && v.Equal(current) {
			m = &AllMigrations[i]
			break
		}
	}
	if m == nil {
		return fmt.Errorf("migration %s not found", current)
	}

	err = inTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, m.Down); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM schema_version WHERE version = ?", m.Version)
		return err
	})
	if err != nil {
		return fmt.Errorf("roll back migration %s: %w", m.Version, err)
	}
	return nil
}

func inTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
