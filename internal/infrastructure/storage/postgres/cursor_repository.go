package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

func (s *Storage) GetCursor(ctx context.Context, name string) (*time.Time, error) {
	var since time.Time
	err := s.pool.QueryRow(ctx, `SELECT since FROM sync_cursors WHERE name = $1`, name).Scan(&since)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cursor %s: %w", name, err)
	}
	since = since.UTC()
	return &since, nil
}

func (s *Storage) SetCursor(ctx context.Context, name string, at time.Time) error {
	const query = `
		INSERT INTO sync_cursors (name, since, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE SET since = EXCLUDED.since, updated_at = now()`

	if _, err := s.pool.Exec(ctx, query, name, at); err != nil {
		return fmt.Errorf("set cursor %s: %w", name, err)
	}
	return nil
}
