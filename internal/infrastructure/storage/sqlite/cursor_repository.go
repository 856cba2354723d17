package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

func (s *Storage) GetCursor(ctx context.Context, name string) (*time.Time, error) {
	var since sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT since FROM sync_cursors WHERE name = ?`, name).Scan(&since)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cursor %s: %w", name, err)
	}
	at, err := parseTime(since)
	if err != nil {
		return nil, err
	}
	return &at, nil
}

func (s *Storage) SetCursor(ctx context.Context, name string, at time.Time) error {
	const query = `
		INSERT INTO sync_cursors (name, since, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET since = excluded.since, updated_at = excluded.updated_at`

	if _, err := s.db.ExecContext(ctx, query, name, formatTime(at), formatTime(time.Now())); err != nil {
		return fmt.Errorf("set cursor %s: %w", name, err)
	}
	return nil
}
