package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// schemaVersion is recorded in meta on first open.
const schemaVersion = "1"

// migrate creates all tables if they don't exist and seeds metadata.
func (s *SQLiteStore) migrate() error {
	bootstrapDone, err := s.isMetaFlagEnabled("schema_bootstrap_complete")
	if err != nil {
		return fmt.Errorf("checking bootstrap state: %w", err)
	}

	if !bootstrapDone {
		if err := s.runBootstrapDDL(); err != nil {
			return err
		}
	}

	// Seed metadata (outside bootstrap transaction, meta table now exists)
	if err := s.seedMeta(); err != nil {
		return fmt.Errorf("seeding metadata: %w", err)
	}

	if !bootstrapDone {
		if err := s.setMetaFlag("schema_bootstrap_complete"); err != nil {
			return fmt.Errorf("marking bootstrap complete: %w", err)
		}
	}

	// Schema evolution: content hash for import deduplication.
	// Uses ALTER TABLE, so column existence is checked first.
	if err := s.migrateEventHashColumn(); err != nil {
		return fmt.Errorf("migrating content_hash column: %w", err)
	}

	// Schema evolution: estimated effort on todos.
	if err := s.migrateTodoDurationColumn(); err != nil {
		return fmt.Errorf("migrating duration column: %w", err)
	}

	return nil
}

func (s *SQLiteStore) runBootstrapDDL() error {
	statements := []string{
		// Committed calendar events
		`CREATE TABLE IF NOT EXISTS events (
			id                  INTEGER PRIMARY KEY AUTOINCREMENT,
			title               TEXT NOT NULL,
			start_at            TEXT NOT NULL,
			end_at              TEXT NOT NULL,
			location            TEXT NOT NULL DEFAULT '',
			description         TEXT NOT NULL DEFAULT '',
			category            TEXT NOT NULL DEFAULT '',
			category_confidence REAL,
			category_source     TEXT NOT NULL DEFAULT '' CHECK(category_source IN ('','auto','manual','imported','default')),
			created_at          TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_start ON events(start_at)`,

		// User category corrections, keyed by normalized event fields
		`CREATE TABLE IF NOT EXISTS category_overrides (
			key        TEXT PRIMARY KEY,
			category   TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,

		// Conversation turns per session
		`CREATE TABLE IF NOT EXISTS messages (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			role       TEXT NOT NULL CHECK(role IN ('user','assistant')),
			text       TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id)`,

		// Todos; a NULL rec_frequency means the todo does not recur
		`CREATE TABLE IF NOT EXISTS todos (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			title         TEXT NOT NULL,
			due_at        TEXT,
			priority      TEXT NOT NULL DEFAULT 'medium' CHECK(priority IN ('low','medium','high','urgent')),
			project       TEXT NOT NULL DEFAULT '',
			tags          TEXT NOT NULL DEFAULT '[]',
			rec_frequency TEXT,
			rec_interval  INTEGER,
			rec_end       TEXT,
			rec_spec      TEXT,
			done          INTEGER NOT NULL DEFAULT 0,
			completed_at  TEXT,
			created_at    TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_todos_done ON todos(done)`,

		// Metadata
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT
		)`,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning migration transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("executing migration %q: %w", truncate(stmt, 80), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration: %w", err)
	}
	return nil
}

func (s *SQLiteStore) isMetaFlagEnabled(key string) (bool, error) {
	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='meta'`).Scan(&exists); err != nil {
		return false, err
	}
	if exists == 0 {
		return false, nil
	}

	value, err := s.getMetaValue(key)
	if err != nil {
		return false, err
	}
	return value == "true", nil
}

func (s *SQLiteStore) setMetaFlag(key string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO meta (key, value) VALUES (?, 'true')", key)
	return err
}

func (s *SQLiteStore) getMetaValue(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

func (s *SQLiteStore) seedMeta() error {
	defaults := map[string]string{
		"schema_version": schemaVersion,
		"created_at":     time.Now().UTC().Format(time.RFC3339),
	}

	for k, v := range defaults {
		_, err := s.db.Exec(
			"INSERT OR IGNORE INTO meta (key, value) VALUES (?, ?)", k, v,
		)
		if err != nil {
			return fmt.Errorf("seeding meta key %q: %w", k, err)
		}
	}
	return nil
}

func isDuplicateColumnError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "duplicate column name")
}

func (s *SQLiteStore) hasColumn(table, column string) (bool, error) {
	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", table, column,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking for %s.%s: %w", table, column, err)
	}
	return count > 0, nil
}

// addColumn runs stmts in one transaction unless table already has column.
// Idempotent: a concurrent opener adding the same column is tolerated.
func (s *SQLiteStore) addColumn(table, column string, stmts ...string) error {
	ok, err := s.hasColumn(table, column)
	if err != nil {
		return err
	}
	if ok {
		return nil // Already migrated
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning %s migration: %w", column, err)
	}
	defer tx.Rollback()

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			if isDuplicateColumnError(err) {
				continue
			}
			return fmt.Errorf("executing %q: %w", truncate(stmt, 60), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing %s migration: %w", column, err)
	}
	return nil
}

// migrateEventHashColumn adds events.content_hash, used by ICS import to
// skip events that are already stored.
func (s *SQLiteStore) migrateEventHashColumn() error {
	return s.addColumn("events", "content_hash",
		`ALTER TABLE events ADD COLUMN content_hash TEXT NOT NULL DEFAULT ''`,
		`CREATE INDEX IF NOT EXISTS idx_events_hash ON events(content_hash)`,
	)
}

// migrateTodoDurationColumn adds todos.duration_seconds.
func (s *SQLiteStore) migrateTodoDurationColumn() error {
	return s.addColumn("todos", "duration_seconds",
		`ALTER TABLE todos ADD COLUMN duration_seconds INTEGER NOT NULL DEFAULT 0`,
	)
}

// truncate shortens a string for error messages.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
