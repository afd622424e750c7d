// Package store provides the SQLite-backed state database shared by the
// snapshot tracker and the session registry.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS snapshots (
	session    TEXT NOT NULL,
	path       TEXT NOT NULL,
	digest     TEXT NOT NULL,
	style      INTEGER NOT NULL,
	size       INTEGER NOT NULL,
	mtime      INTEGER NOT NULL,
	read_at    INTEGER NOT NULL,
	PRIMARY KEY (session, path)
);

CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	subject    TEXT NOT NULL,
	prompt     TEXT NOT NULL,
	working    TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS edits (
	session     TEXT NOT NULL,
	seq         INTEGER NOT NULL,
	path        TEXT NOT NULL,
	description TEXT NOT NULL,
	digest      TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	PRIMARY KEY (session, seq)
);
CREATE INDEX IF NOT EXISTS idx_edits_session ON edits(session);
`

// DB wraps the SQLite state database.
type DB struct {
	conn *sql.DB
}

// Open opens or creates the state database under the given directory
// (normally <repo>/.git/gitscribe) and applies the schema.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	conn, err := sql.Open("sqlite", filepath.Join(dir, "state.db"))
	if err != nil {
		return nil, fmt.Errorf("opening state database: %w", err)
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn exposes the underlying connection for package-level queries.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// BeginTx starts a new transaction.
func (db *DB) BeginTx() (*sql.Tx, error) {
	return db.conn.Begin()
}
