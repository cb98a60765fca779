package store

import (
	"context"
	"fmt"
	"time"

	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/model"
)

// AppendMessage records one conversation turn.
func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, m model.Message) error {
	if m.Role != model.RoleUser && m.Role != model.RoleAssistant {
		return fmt.Errorf("appending message: unknown role %q", m.Role)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, text, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, string(m.Role), m.Text, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("appending message: %w", err)
	}
	return nil
}

// History returns the last limit turns of a session, oldest first.
func (s *SQLiteStore) History(ctx context.Context, sessionID string, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, text FROM (
			SELECT id, role, text FROM messages WHERE session_id = ? ORDER BY id DESC LIMIT ?
		 ) ORDER BY id ASC`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		var role, text string
		if err := rows.Scan(&role, &text); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		msgs = append(msgs, model.Message{Role: model.Role(role), Text: text})
	}
	return msgs, rows.Err()
}
