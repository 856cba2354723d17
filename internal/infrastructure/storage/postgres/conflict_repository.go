package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"keapsync/internal/domain/conflict"
	"keapsync/internal/domain/entity"
	"keapsync/internal/infrastructure/storage"
)

const conflictColumns = `
	id::text, entity_type, keap_id, run_id, fields, local_data, remote_data, remote_modified_at,
	status, strategy, resolution, created_at, resolved_at`

func (t *entityTx) GetConflict(ctx context.Context, id string) (*conflict.Record, error) {
	rec, err := getConflict(ctx, t.q, id)
	if errors.Is(err, conflict.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

func (t *entityTx) PendingConflict(ctx context.Context, key entity.Key) (*conflict.Record, error) {
	query := `SELECT` + conflictColumns + `
		FROM sync_conflicts
		WHERE entity_type = $1 AND keap_id = $2 AND status = 'pending'
		FOR UPDATE`

	rec, err := scanConflict(t.q.QueryRow(ctx, query, key.Type, key.KeapID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending conflict %s: %w", key, err)
	}
	return rec, nil
}

func (t *entityTx) InsertConflict(ctx context.Context, rec *conflict.Record) error {
	const query = `
		INSERT INTO sync_conflicts (id, entity_type, keap_id, run_id, fields, local_data, remote_data,
		                            remote_modified_at, status, strategy, resolution, created_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	args, err := conflictArgs(rec)
	if err != nil {
		return err
	}
	if _, err := t.q.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert conflict %s: %w", rec.ID, err)
	}
	return nil
}

func (t *entityTx) UpdateConflict(ctx context.Context, rec *conflict.Record) error {
	const query = `
		UPDATE sync_conflicts SET
			entity_type = $2, keap_id = $3, run_id = $4, fields = $5, local_data = $6, remote_data = $7,
			remote_modified_at = $8, status = $9, strategy = $10, resolution = $11, created_at = $12,
			resolved_at = $13
		WHERE id = $1`

	args, err := conflictArgs(rec)
	if err != nil {
		return err
	}
	tag, err := t.q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update conflict %s: %w", rec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update conflict %s: %w", rec.ID, conflict.ErrNotFound)
	}
	return nil
}

func conflictArgs(rec *conflict.Record) ([]any, error) {
	fields, err := storage.EncodeJSON(rec.Fields)
	if err != nil {
		return nil, err
	}
	local, err := storage.NullableJSON(rec.LocalData)
	if err != nil {
		return nil, err
	}
	remote, err := storage.EncodeJSON(rec.RemoteData)
	if err != nil {
		return nil, err
	}
	resolution, err := storage.NullableJSON(rec.Resolution)
	if err != nil {
		return nil, err
	}
	return []any{
		rec.ID, rec.EntityType, rec.KeapID, nullString(rec.RunID), fields, local, remote,
		nullTime(rec.RemoteAt), rec.Status, nullString(string(rec.Strategy)), resolution, rec.CreatedAt,
		rec.ResolvedAt,
	}, nil
}

func (s *Storage) GetConflict(ctx context.Context, id string) (*conflict.Record, error) {
	return getConflict(ctx, s.pool, id)
}

func getConflict(ctx context.Context, q querier, id string) (*conflict.Record, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, conflict.ErrNotFound
	}
	query := `SELECT` + conflictColumns + ` FROM sync_conflicts WHERE id = $1`

	rec, err := scanConflict(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, conflict.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conflict %s: %w", id, err)
	}
	return rec, nil
}

func (s *Storage) ListConflicts(ctx context.Context, filter conflict.Filter) ([]conflict.Record, error) {
	where, args := conflictWhere(filter)
	query := `SELECT` + conflictColumns + ` FROM sync_conflicts` + where + ` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		s.log.Error("failed to list conflicts", "error", err)
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	defer rows.Close()

	var out []conflict.Record
	for rows.Next() {
		rec, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conflict: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	return out, nil
}

func (s *Storage) CountConflicts(ctx context.Context, status conflict.Status) (int, error) {
	where, args := conflictWhere(conflict.Filter{Status: status})
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM sync_conflicts`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count conflicts: %w", err)
	}
	return n, nil
}

func conflictWhere(filter conflict.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.EntityType != "" {
		add("entity_type = $%d", filter.EntityType)
	}
	if filter.KeapID != "" {
		add("keap_id = $%d", filter.KeapID)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanConflict(row pgx.Row) (*conflict.Record, error) {
	var (
		rec                       conflict.Record
		runID, strategy           *string
		fields, local, remote, rs []byte
		remoteAt                  *time.Time
	)
	err := row.Scan(
		&rec.ID, &rec.EntityType, &rec.KeapID, &runID, &fields, &local, &remote, &remoteAt,
		&rec.Status, &strategy, &rs, &rec.CreatedAt, &rec.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	if runID != nil {
		rec.RunID = *runID
	}
	if strategy != nil {
		rec.Strategy = conflict.Policy(*strategy)
	}
	for _, col := range []struct {
		data []byte
		dst  any
	}{
		{fields, &rec.Fields},
		{local, &rec.LocalData},
		{remote, &rec.RemoteData},
		{rs, &rec.Resolution},
	} {
		if err := storage.DecodeJSON(col.data, col.dst); err != nil {
			return nil, err
		}
	}
	rec.RemoteAt = derefTime(remoteAt)
	rec.CreatedAt = rec.CreatedAt.UTC()
	if rec.ResolvedAt != nil {
		at := rec.ResolvedAt.UTC()
		rec.ResolvedAt = &at
	}
	return &rec, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
