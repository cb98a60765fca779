// Package store provides the SQLite storage layer for calassist.
//
// Everything lives in a single SQLite database file:
// - Committed calendar events with their category and provenance
// - Category overrides keyed by normalized event fields
// - Conversation history per session
// - Todos, including their recurrence rules
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/model"
)

// DefaultDBPath is the default database location.
const DefaultDBPath = "~/.calassist/calassist.db"

// DefaultHistoryLimit is the number of turns History returns when limit <= 0.
const DefaultHistoryLimit = 20

// timeLayout is the stored form of every timestamp. Values are converted to
// UTC first so string comparison orders them.
const timeLayout = "2006-01-02 15:04:05"

// ErrNotFound is returned by mutations that target a missing row.
var ErrNotFound = errors.New("not found")

// StoreStats holds row counts for the status command.
type StoreStats struct {
	EventCount    int64
	OverrideCount int64
	MessageCount  int64
	TodoCount     int64
	OpenTodoCount int64
	DBSizeBytes   int64
}

// StoreConfig holds configuration for NewStore.
type StoreConfig struct {
	DBPath string

	// Location is the zone stored times are read back in. Times are kept as
	// UTC text; recurring todos regenerate on this zone's wall clock.
	// Defaults to time.Local.
	Location *time.Location
}

// Store defines the core storage interface.
type Store interface {
	// Events
	AppendEvent(ctx context.Context, d *model.EventDraft) (int64, error)
	GetEvent(ctx context.Context, id int64) (*model.EventDraft, error)
	ListEvents(ctx context.Context, from, to time.Time) ([]model.EventDraft, error)
	UpdateEventCategory(ctx context.Context, id int64, c model.Category, confidence *float64, source model.CategorySource) error
	FindEventByHash(ctx context.Context, hash string) (*model.EventDraft, error)
	DeleteEvent(ctx context.Context, id int64) error

	// Category overrides
	LoadOverrides(ctx context.Context) (map[string]model.Category, error)
	SaveOverride(ctx context.Context, key string, c model.Category) error
	DeleteOverride(ctx context.Context, key string) error

	// Conversation history
	AppendMessage(ctx context.Context, sessionID string, m model.Message) error
	History(ctx context.Context, sessionID string, limit int) ([]model.Message, error)

	// Todos
	AddTodo(ctx context.Context, d *model.TodoDraft) (int64, error)
	GetTodo(ctx context.Context, id int64) (*model.TodoDraft, error)
	ListTodos(ctx context.Context, includeDone bool) ([]model.TodoDraft, error)
	CompleteTodo(ctx context.Context, id int64) (*model.TodoDraft, error)

	// Observability
	Stats(ctx context.Context) (*StoreStats, error)

	// Maintenance
	Vacuum(ctx context.Context) error
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	loc    *time.Location
}

// NewStore creates a new SQLite-backed Store.
// Pass ":memory:" for in-memory databases (testing).
func NewStore(cfg StoreConfig) (Store, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = ExpandPath(DefaultDBPath)
	}

	// Create parent directory for non-memory databases
	if cfg.DBPath != ":memory:" {
		dir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if cfg.DBPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	s := &SQLiteStore{db: db, dbPath: cfg.DBPath, loc: loc}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Vacuum runs VACUUM on the database. Manual only, never automatic.
func (s *SQLiteStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Stats returns current database statistics.
func (s *SQLiteStore) Stats(ctx context.Context) (*StoreStats, error) {
	stats := &StoreStats{}

	queries := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM events", &stats.EventCount},
		{"SELECT COUNT(*) FROM category_overrides", &stats.OverrideCount},
		{"SELECT COUNT(*) FROM messages", &stats.MessageCount},
		{"SELECT COUNT(*) FROM todos", &stats.TodoCount},
		{"SELECT COUNT(*) FROM todos WHERE done = 0", &stats.OpenTodoCount},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("querying stats (%s): %w", q.query, err)
		}
	}

	// Only meaningful for file-based DBs
	if s.dbPath != ":memory:" {
		var pageCount, pageSize int64
		s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
		s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		stats.DBSizeBytes = pageCount * pageSize
	}
	return stats, nil
}

// ExpandPath expands ~ to home directory.
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(timeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing stored time %q: %w", s, err)
	}
	return t.In(loc), nil
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func scanNullableTime(ns sql.NullString, loc *time.Location) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String, loc)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
