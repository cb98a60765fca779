package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/model"
)

const eventColumns = `id, title, start_at, end_at, location, description, category, category_confidence, category_source`

// AppendEvent commits d and sets d.ID. A missing or non-positive end is
// replaced by the default duration.
func (s *SQLiteStore) AppendEvent(ctx context.Context, d *model.EventDraft) (int64, error) {
	if strings.TrimSpace(d.Title) == "" {
		return 0, fmt.Errorf("appending event: title is empty")
	}
	if d.Start.IsZero() {
		return 0, fmt.Errorf("appending event %q: start is unset", d.Title)
	}
	d.End = d.EndOrDefault()

	var conf sql.NullFloat64
	if d.CategoryConfidence != nil {
		conf = sql.NullFloat64{Float64: *d.CategoryConfidence, Valid: true}
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO events (title, start_at, end_at, location, description, category, category_confidence, category_source, content_hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.Title, formatTime(d.Start), formatTime(d.End), d.Location, d.Description,
		string(d.Category), conf, string(d.CategorySource),
		HashEvent(d.Title, d.Start, d.Location), formatTime(time.Now()),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting event id: %w", err)
	}
	d.ID = id
	return id, nil
}

// GetEvent retrieves an event by ID. Returns nil if not found.
func (s *SQLiteStore) GetEvent(ctx context.Context, id int64) (*model.EventDraft, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	d, err := scanEvent(row, s.loc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting event %d: %w", id, err)
	}
	return d, nil
}

// FindEventByHash returns the first event with the given HashEvent value, or
// nil.
func (s *SQLiteStore) FindEventByHash(ctx context.Context, hash string) (*model.EventDraft, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE content_hash = ? ORDER BY id LIMIT 1`, hash)
	d, err := scanEvent(row, s.loc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding event by hash: %w", err)
	}
	return d, nil
}

// ListEvents returns events starting in [from, to), ordered by start.
// A zero bound is open.
func (s *SQLiteStore) ListEvents(ctx context.Context, from, to time.Time) ([]model.EventDraft, error) {
	query := `SELECT ` + eventColumns + ` FROM events`
	var (
		where []string
		args  []any
	)
	if !from.IsZero() {
		where = append(where, "start_at >= ?")
		args = append(args, formatTime(from))
	}
	if !to.IsZero() {
		where = append(where, "start_at < ?")
		args = append(args, formatTime(to))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	defer rows.Close()

	var events []model.EventDraft
	for rows.Next() {
		d, err := scanEvent(rows, s.loc)
		if err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		events = append(events, *d)
	}
	return events, rows.Err()
}

// UpdateEventCategory sets the category fields of one event.
func (s *SQLiteStore) UpdateEventCategory(ctx context.Context, id int64, c model.Category, confidence *float64, source model.CategorySource) error {
	var conf sql.NullFloat64
	if confidence != nil {
		conf = sql.NullFloat64{Float64: *confidence, Valid: true}
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE events SET category = ?, category_confidence = ?, category_source = ? WHERE id = ?`,
		string(c), conf, string(source), id,
	)
	if err != nil {
		return fmt.Errorf("updating category of event %d: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("event %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteEvent removes one event.
func (s *SQLiteStore) DeleteEvent(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting event %d: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("event %d: %w", id, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(r rowScanner, loc *time.Location) (*model.EventDraft, error) {
	var (
		d          model.EventDraft
		start, end string
		category   string
		source     string
		conf       sql.NullFloat64
	)
	if err := r.Scan(&d.ID, &d.Title, &start, &end, &d.Location, &d.Description, &category, &conf, &source); err != nil {
		return nil, err
	}
	var err error
	if d.Start, err = parseTime(start, loc); err != nil {
		return nil, err
	}
	if d.End, err = parseTime(end, loc); err != nil {
		return nil, err
	}
	d.Category = model.Category(category)
	d.CategorySource = model.CategorySource(source)
	if conf.Valid {
		v := conf.Float64
		d.CategoryConfidence = &v
	}
	return &d, nil
}
