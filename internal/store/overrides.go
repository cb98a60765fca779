package store

import (
	"context"
	"fmt"
	"time"

	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/model"
)

// LoadOverrides returns every category override keyed by its normalized key.
// Rows holding an unknown category are skipped.
func (s *SQLiteStore) LoadOverrides(ctx context.Context) (map[string]model.Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, category FROM category_overrides`)
	if err != nil {
		return nil, fmt.Errorf("loading overrides: %w", err)
	}
	defer rows.Close()

	out := make(map[string]model.Category)
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("scanning override row: %w", err)
		}
		if c, ok := model.ParseCategory(raw); ok {
			out[key] = c
		}
	}
	return out, rows.Err()
}

// SaveOverride upserts one override.
func (s *SQLiteStore) SaveOverride(ctx context.Context, key string, c model.Category) error {
	if key == "" {
		return fmt.Errorf("saving override: key is empty")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO category_overrides (key, category, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET category = excluded.category, updated_at = excluded.updated_at`,
		key, string(c), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("saving override %q: %w", key, err)
	}
	return nil
}

// DeleteOverride removes one override.
func (s *SQLiteStore) DeleteOverride(ctx context.Context, key string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM category_overrides WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("deleting override %q: %w", key, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("override %q: %w", key, ErrNotFound)
	}
	return nil
}
