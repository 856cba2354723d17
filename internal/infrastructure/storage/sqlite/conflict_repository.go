package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"keapsync/internal/domain/conflict"
	"keapsync/internal/domain/entity"
	"keapsync/internal/infrastructure/storage"
)

const conflictColumns = `
	id, entity_type, keap_id, run_id, fields, local_data, remote_data, remote_modified_at,
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
		WHERE entity_type = ? AND keap_id = ? AND status = 'pending'`

	rec, err := scanConflict(t.q.QueryRowContext(ctx, query, key.Type, key.KeapID))
	if errors.Is(err, sql.ErrNoRows) {
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	args, err := conflictArgs(rec)
	if err != nil {
		return err
	}
	if _, err := t.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert conflict %s: %w", rec.ID, err)
	}
	return nil
}

func (t *entityTx) UpdateConflict(ctx context.Context, rec *conflict.Record) error {
	const query = `
		UPDATE sync_conflicts SET
			entity_type = ?, keap_id = ?, run_id = ?, fields = ?, local_data = ?, remote_data = ?,
			remote_modified_at = ?, status = ?, strategy = ?, resolution = ?, created_at = ?, resolved_at = ?
		WHERE id = ?`

	args, err := conflictArgs(rec)
	if err != nil {
		return err
	}
	// id первым в conflictArgs, а в UPDATE он последний
	args = append(args[1:], args[0])
	res, err := t.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update conflict %s: %w", rec.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
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
	resolvedAt := sql.NullString{}
	if rec.ResolvedAt != nil {
		resolvedAt = nullTime(*rec.ResolvedAt)
	}
	return []any{
		rec.ID, rec.EntityType, rec.KeapID, nullString(rec.RunID), fields, nullJSON(local), remote,
		nullTime(rec.RemoteAt), rec.Status, nullString(string(rec.Strategy)), nullJSON(resolution),
		formatTime(rec.CreatedAt), resolvedAt,
	}, nil
}

func (s *Storage) GetConflict(ctx context.Context, id string) (*conflict.Record, error) {
	return getConflict(ctx, s.db, id)
}

func getConflict(ctx context.Context, q querier, id string) (*conflict.Record, error) {
	query := `SELECT` + conflictColumns + ` FROM sync_conflicts WHERE id = ?`

	rec, err := scanConflict(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
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
	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
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
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM sync_conflicts`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count conflicts: %w", err)
	}
	return n, nil
}

func conflictWhere(filter conflict.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.EntityType != "" {
		conds = append(conds, "entity_type = ?")
		args = append(args, filter.EntityType)
	}
	if filter.KeapID != "" {
		conds = append(conds, "keap_id = ?")
		args = append(args, filter.KeapID)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConflict(row rowScanner) (*conflict.Record, error) {
	var (
		rec                                conflict.Record
		runID, strategy, local, resolution sql.NullString
		fields, remote                     string
		remoteAt, createdAt, resolvedAt    sql.NullString
	)
	err := row.Scan(
		&rec.ID, &rec.EntityType, &rec.KeapID, &runID, &fields, &local, &remote, &remoteAt,
		&rec.Status, &strategy, &resolution, &createdAt, &resolvedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.RunID = runID.String
	rec.Strategy = conflict.Policy(strategy.String)
	for _, col := range []struct {
		data string
		dst  any
	}{
		{fields, &rec.Fields},
		{local.String, &rec.LocalData},
		{remote, &rec.RemoteData},
		{resolution.String, &rec.Resolution},
	} {
		if err := storage.DecodeJSON([]byte(col.data), col.dst); err != nil {
			return nil, err
		}
	}
	if rec.RemoteAt, err = parseTime(remoteAt); err != nil {
		return nil, err
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if resolvedAt.Valid {
		at, err := parseTime(resolvedAt)
		if err != nil {
			return nil, err
		}
		rec.ResolvedAt = &at
	}
	return &rec, nil
}
