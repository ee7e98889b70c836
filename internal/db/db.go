package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection.
type DB struct {
	conn *sql.DB
	path string
}

// DefaultDBPath returns ~/.convoy/convoy.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	dir := filepath.Join(home, ".convoy")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create directory %s: %w", dir, err)
	}
	return filepath.Join(dir, "convoy.db"), nil
}

// Open opens or creates the database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return &DB{conn: conn, path: path}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Conn returns the underlying *sql.DB for advanced queries.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS workspaces (
    id             TEXT PRIMARY KEY,
    session_id     TEXT NOT NULL,
    requirement_id TEXT NOT NULL,
    branch_name    TEXT NOT NULL,
    path           TEXT NOT NULL,
    status         TEXT NOT NULL CHECK(status IN ('active','merged','abandoned')),
    created_at     TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_workspace_one_active
    ON workspaces(session_id, requirement_id) WHERE status = 'active';
CREATE INDEX IF NOT EXISTS idx_workspace_session ON workspaces(session_id, status);

CREATE TABLE IF NOT EXISTS workspace_events (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id   TEXT NOT NULL,
    workspace_id TEXT,
    event        TEXT NOT NULL,
    detail       TEXT,
    timestamp    TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_workspace_events_session ON workspace_events(session_id, timestamp DESC);

CREATE TABLE IF NOT EXISTS auth_sources (
    id               TEXT PRIMARY KEY,
    name             TEXT NOT NULL UNIQUE,
    service          TEXT NOT NULL,
    display_name     TEXT NOT NULL,
    auth_type        TEXT NOT NULL,
    is_default       BOOLEAN NOT NULL DEFAULT FALSE,
    last_verified_at TEXT,
    expires_at       TEXT,
    created_at       TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at       TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_auth_source_default ON auth_sources(service, is_default);

CREATE TABLE IF NOT EXISTS auth_errors (
    id                TEXT PRIMARY KEY,
    project_path      TEXT NOT NULL,
    service           TEXT NOT NULL,
    error_kind        TEXT NOT NULL,
    message           TEXT NOT NULL,
    pipeline_job_id   TEXT,
    occurred_at       TEXT NOT NULL DEFAULT (datetime('now')),
    resolved_at       TEXT,
    resolution_method TEXT CHECK(resolution_method IN ('reauth','retry','manual','cancelled') OR resolution_method IS NULL)
);
CREATE INDEX IF NOT EXISTS idx_auth_error_open ON auth_errors(project_path, service, resolved_at);

CREATE TABLE IF NOT EXISTS paused_pipelines (
    id             TEXT PRIMARY KEY,
    project_path   TEXT NOT NULL,
    job_id         TEXT NOT NULL,
    requirement_id TEXT,
    paused_phase   TEXT NOT NULL,
    service        TEXT NOT NULL,
    error_id       TEXT NOT NULL REFERENCES auth_errors(id),
    paused_at      TEXT NOT NULL DEFAULT (datetime('now')),
    resumed_at     TEXT,
    status         TEXT NOT NULL CHECK(status IN ('paused','resumed','cancelled'))
);
CREATE INDEX IF NOT EXISTS idx_paused_service ON paused_pipelines(service, status);
CREATE INDEX IF NOT EXISTS idx_paused_project ON paused_pipelines(project_path, status);
`

// Migrate applies the database schema.
func (d *DB) Migrate() error {
	var count int
	err := d.conn.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = 1").Scan(&count)
	if err == nil && count > 0 {
		return nil
	}

	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(schemaV1); err != nil {
		return fmt.Errorf("apply schema v1: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (1)"); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

// Reset drops all tables and re-applies the schema.
func (d *DB) Reset() error {
	tables := []string{"paused_pipelines", "auth_errors", "auth_sources", "workspace_events", "workspaces", "schema_version"}
	for _, t := range tables {
		if _, err := d.conn.Exec("DROP TABLE IF EXISTS " + t); err != nil {
			return fmt.Errorf("drop table %s: %w", t, err)
		}
	}
	return d.Migrate()
}
