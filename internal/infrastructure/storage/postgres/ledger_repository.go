package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"keapsync/internal/domain/ledger"
	"keapsync/internal/infrastructure/storage"
)

func (s *Storage) AppendLog(ctx context.Context, entry *ledger.Entry) error {
	return appendLog(ctx, s.pool, entry)
}

func appendLog(ctx context.Context, q querier, e *ledger.Entry) error {
	const query = `
		INSERT INTO sync_logs (run_id, entity_type, keap_id, direction, operation, status, error,
		                       records_processed, changes, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	changes, err := storage.NullableJSON(e.Changes)
	if err != nil {
		return err
	}
	err = q.QueryRow(ctx, query,
		nullString(e.RunID), nullString(string(e.EntityType)), nullString(e.KeapID), e.Direction,
		e.Operation, e.Status, nullString(e.Error), e.Processed, changes, e.DurationMS, e.CreatedAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("append sync log: %w", err)
	}
	return nil
}

func (s *Storage) QueryLogs(ctx context.Context, filter ledger.Filter) ([]ledger.Entry, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if !filter.Since.IsZero() {
		add("created_at >= $%d", filter.Since)
	}
	if !filter.Until.IsZero() {
		add("created_at <= $%d", filter.Until)
	}
	if filter.EntityType != "" {
		add("entity_type = $%d", filter.EntityType)
	}
	if filter.KeapID != "" {
		add("keap_id = $%d", filter.KeapID)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.RunID != "" {
		add("run_id = $%d", filter.RunID)
	}

	query := `
		SELECT id, coalesce(run_id, ''), coalesce(entity_type, ''), coalesce(keap_id, ''), direction,
		       operation, status, coalesce(error, ''), records_processed, changes, duration_ms, created_at
		FROM sync_logs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		s.log.Error("failed to query sync logs", "error", err)
		return nil, fmt.Errorf("query sync logs: %w", err)
	}
	defer rows.Close()

	var out []ledger.Entry
	for rows.Next() {
		var (
			e       ledger.Entry
			changes []byte
		)
		if err := rows.Scan(
			&e.ID, &e.RunID, &e.EntityType, &e.KeapID, &e.Direction,
			&e.Operation, &e.Status, &e.Error, &e.Processed, &changes, &e.DurationMS, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan sync log: %w", err)
		}
		if err := storage.DecodeJSON(changes, &e.Changes); err != nil {
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query sync logs: %w", err)
	}
	return out, nil
}

func (s *Storage) DeleteLogsBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sync_logs WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("delete sync logs: %w", err)
	}
	return tag.RowsAffected(), nil
}
