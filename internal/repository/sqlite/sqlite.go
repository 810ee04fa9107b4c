// Package sqlite stores workspaces and their run history in SQLite.
//
// The driver is modernc.org/sqlite, a pure Go port, so the binary builds
// with CGO_ENABLED=0 and cross-compiles without a C toolchain. Tests open
// ":memory:" databases; the server opens a file under data/.
//
// All queries go through database/sql:
//
//	sql.Open("sqlite", path)   pool manager, no connection yet
//	db.ExecContext(...)        writes
//	db.QueryRowContext(...)    single-row reads, then Scan
package sqlite

import (
	"database/sql"
	"fmt"

	// registers the "sqlite" driver with database/sql
	_ "modernc.org/sqlite"
)

// DB implements repository.WorkspaceRepository and repository.RunRepository.
type DB struct {
	conn *sql.DB
}

// pragmas run once per New, in order.
//   - WAL lets readers proceed while a run record is being written.
//   - foreign_keys is off by default in SQLite; runs cascade on workspace delete.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA foreign_keys=ON",
}

// New opens the database at dbPath and migrates it.
//
//	sqlite.New("data/playground.db")  persistent
//	sqlite.New(":memory:")            gone on Close
//
// sql.Open is lazy, so New pings to surface a bad path or permissions
// problem here instead of on the first request.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// each ":memory:" connection is its own empty database
	if dbPath == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}
	return db, nil
}

// Close closes the pool. The server defers it right after New.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate runs all database migrations.
//
// CREATE TABLE IF NOT EXISTS is idempotent, and columns added after the
// first release go through addColumnIfNotExists, so migrate is safe to run
// on every start.
func (db *DB) migrate() error {
	// workspaces: the server-side documents runs read and fixes overwrite
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS workspaces (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			language    TEXT NOT NULL,
			code        TEXT NOT NULL DEFAULT '',
			created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_workspaces_created_at ON workspaces(created_at);
	`)
	if err != nil {
		return fmt.Errorf("creating workspaces table: %w", err)
	}

	// the secret arrived with token auth; older databases lack the column
	if err := db.addColumnIfNotExists("workspaces", "secret_hash",
		"TEXT NOT NULL DEFAULT ''"); err != nil {
		return fmt.Errorf("adding secret_hash to workspaces: %w", err)
	}

	// runs: one row per finished run, input or compose
	// Deleting a workspace deletes its history (ON DELETE CASCADE).
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id           TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
			kind         TEXT NOT NULL,
			state        TEXT NOT NULL,
			attempts     INTEGER NOT NULL DEFAULT 0,
			had_error    BOOLEAN NOT NULL DEFAULT 0,
			latency_ms   INTEGER NOT NULL DEFAULT 0,
			output       TEXT NOT NULL DEFAULT '',
			created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_runs_workspace_created ON runs(workspace_id, created_at);
	`)
	if err != nil {
		return fmt.Errorf("creating runs table: %w", err)
	}

	return nil
}

// addColumnIfNotExists is ALTER TABLE ADD COLUMN guarded by pragma_table_info,
// so it can run on every start.
func (db *DB) addColumnIfNotExists(table, column, definition string) error {
	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`,
		table, column,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	if count > 0 {
		return nil
	}
	_, err = db.conn.Exec(fmt.Sprintf(
		`ALTER TABLE %s ADD COLUMN %s %s`, table, column, definition,
	))
	return err
}
