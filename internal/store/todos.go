package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/model"
	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/todo"
)

const todoColumns = `id, title, due_at, priority, project, tags, rec_frequency, rec_interval, rec_end, rec_spec, duration_seconds, done`

// AddTodo stores d and sets d.ID.
func (s *SQLiteStore) AddTodo(ctx context.Context, d *model.TodoDraft) (int64, error) {
	return addTodo(ctx, s.db, d)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func addTodo(ctx context.Context, db execer, d *model.TodoDraft) (int64, error) {
	if d.Title == "" {
		return 0, fmt.Errorf("adding todo: title is empty")
	}
	priority := d.Priority
	if priority == "" {
		priority = model.PriorityMedium
	}
	tags, err := json.Marshal(nonNilTags(d.Tags))
	if err != nil {
		return 0, fmt.Errorf("encoding tags: %w", err)
	}

	var (
		freq, spec sql.NullString
		interval   sql.NullInt64
		recEnd     sql.NullString
	)
	if r := d.Recurrence; r != nil {
		if err := r.Validate(); err != nil {
			return 0, fmt.Errorf("adding todo %q: %w", d.Title, err)
		}
		freq = sql.NullString{String: string(r.Frequency), Valid: true}
		interval = sql.NullInt64{Int64: int64(r.Interval), Valid: true}
		spec = sql.NullString{String: r.Spec, Valid: r.Spec != ""}
		recEnd = nullableTime(r.End)
	}

	result, err := db.ExecContext(ctx,
		`INSERT INTO todos (title, due_at, priority, project, tags, rec_frequency, rec_interval, rec_end, rec_spec, duration_seconds, done, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.Title, nullableTime(d.Due), string(priority), d.Project, string(tags),
		freq, interval, recEnd, spec, int64(d.Duration/time.Second), d.Done, formatTime(time.Now()),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting todo: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting todo id: %w", err)
	}
	d.ID = id
	d.Priority = priority
	return id, nil
}

// GetTodo retrieves a todo by ID. Returns nil if not found.
func (s *SQLiteStore) GetTodo(ctx context.Context, id int64) (*model.TodoDraft, error) {
	d, err := scanTodo(s.db.QueryRowContext(ctx, `SELECT `+todoColumns+` FROM todos WHERE id = ?`, id), s.loc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting todo %d: %w", id, err)
	}
	return d, nil
}

// ListTodos returns todos ordered by due date, undated last.
func (s *SQLiteStore) ListTodos(ctx context.Context, includeDone bool) ([]model.TodoDraft, error) {
	query := `SELECT ` + todoColumns + ` FROM todos`
	if !includeDone {
		query += ` WHERE done = 0`
	}
	query += ` ORDER BY due_at IS NULL, due_at, id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing todos: %w", err)
	}
	defer rows.Close()

	var todos []model.TodoDraft
	for rows.Next() {
		d, err := scanTodo(rows, s.loc)
		if err != nil {
			return nil, fmt.Errorf("scanning todo row: %w", err)
		}
		todos = append(todos, *d)
	}
	return todos, rows.Err()
}

// CompleteTodo marks a todo done. For a recurring todo the next occurrence
// is inserted in the same transaction and returned; otherwise next is nil.
func (s *SQLiteStore) CompleteTodo(ctx context.Context, id int64) (*model.TodoDraft, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning complete transaction: %w", err)
	}
	defer tx.Rollback()

	d, err := scanTodo(tx.QueryRowContext(ctx, `SELECT `+todoColumns+` FROM todos WHERE id = ?`, id), s.loc)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("todo %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading todo %d: %w", id, err)
	}
	if d.Done {
		return nil, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE todos SET done = 1, completed_at = ? WHERE id = ?`, formatTime(time.Now()), id,
	); err != nil {
		return nil, fmt.Errorf("completing todo %d: %w", id, err)
	}

	var next *model.TodoDraft
	if n, ok := todo.Regenerate(*d); ok {
		if _, err := addTodo(ctx, tx, &n); err != nil {
			return nil, fmt.Errorf("regenerating todo %d: %w", id, err)
		}
		next = &n
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing complete transaction: %w", err)
	}
	return next, nil
}

func scanTodo(r rowScanner, loc *time.Location) (*model.TodoDraft, error) {
	var (
		d          model.TodoDraft
		due        sql.NullString
		priority   string
		tags       string
		freq, spec sql.NullString
		interval   sql.NullInt64
		recEnd     sql.NullString
		durSeconds int64
	)
	if err := r.Scan(&d.ID, &d.Title, &due, &priority, &d.Project, &tags,
		&freq, &interval, &recEnd, &spec, &durSeconds, &d.Done); err != nil {
		return nil, err
	}

	var err error
	if d.Due, err = scanNullableTime(due, loc); err != nil {
		return nil, err
	}
	d.Priority = model.Priority(priority)
	if err := json.Unmarshal([]byte(tags), &d.Tags); err != nil {
		return nil, fmt.Errorf("decoding tags of todo %d: %w", d.ID, err)
	}
	if len(d.Tags) == 0 {
		d.Tags = nil
	}
	d.Duration = time.Duration(durSeconds) * time.Second

	if freq.Valid {
		rule := &model.RecurrenceRule{
			Frequency: model.Frequency(freq.String),
			Interval:  int(interval.Int64),
			Spec:      spec.String,
		}
		if rule.End, err = scanNullableTime(recEnd, loc); err != nil {
			return nil, err
		}
		d.Recurrence = rule
	}
	return &d, nil
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
