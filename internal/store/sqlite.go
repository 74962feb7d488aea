// Package store persists agents, project runs, and chat history in SQLite.
package store

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/fabrikhq/fabrik/internal/logging"
)

// DB is the shared SQLite handle behind RunStore and AgentStore.
type DB struct {
	sql *sql.DB
	log *logging.Logger
}

// connPragmas are applied through the DSN so every pooled connection gets
// them, not only the one that happened to run an Exec.
var connPragmas = []string{
	"journal_mode(WAL)",
	"foreign_keys(1)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
}

func dsn(path string) string {
	params := make([]string, 0, len(connPragmas))
	for _, p := range connPragmas {
		params = append(params, "_pragma="+url.QueryEscape(p))
	}
	return "file:" + path + "?" + strings.Join(params, "&")
}

// Open opens (or creates) the database at path and brings the schema up to
// date. ":memory:" opens a throwaway database for tests.
func Open(path string, log *logging.Logger) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	handle, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection to :memory: is its own empty database;
		// pin the pool to one so the schema is actually shared.
		handle.SetMaxOpenConns(1)
	}
	if err := handle.Ping(); err != nil {
		handle.Close()
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db := &DB{sql: handle, log: log.Sub("store")}
	if err := db.migrate(); err != nil {
		handle.Close()
		return nil, err
	}

	db.log.Info().Str("path", path).Int("schema", schemaVersion()).Msg("database ready")
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.sql.Close()
}

// SQL exposes the underlying handle for ad hoc queries.
func (db *DB) SQL() *sql.DB {
	return db.sql
}

// schemaVersion is the version the migration list brings a database to.
func schemaVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}

// currentVersion reads the database's PRAGMA user_version, which records
// the last applied migration.
func (db *DB) currentVersion() (int, error) {
	var v int
	if err := db.sql.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}

// migrate applies every migration past the database's current version.
// Each migration runs in one transaction together with its version bump,
// so a failed migration leaves the version untouched.
func (db *DB) migrate() error {
	current, err := db.currentVersion()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		db.log.Info().Int("version", m.Version).Str("name", m.Name).Msg("applying migration")

		tx, err := db.sql.Begin()
		if err != nil {
			return fmt.Errorf("migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: recording version: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d: %w", m.Version, err)
		}
		current = m.Version
	}
	return nil
}
