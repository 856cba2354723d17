package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"keapsync/internal/domain/ledger"
	"keapsync/internal/infrastructure/storage"
)

func (s *Storage) AppendLog(ctx context.Context, entry *ledger.Entry) error {
	return appendLog(ctx, s.db, entry)
}

func appendLog(ctx context.Context, q querier, e *ledger.Entry) error {
	const query = `
		INSERT INTO sync_logs (run_id, entity_type, keap_id, direction, operation, status, error,
		                       records_processed, changes, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	changes, err := storage.NullableJSON(e.Changes)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, query,
		nullString(e.RunID), nullString(string(e.EntityType)), nullString(e.KeapID), e.Direction,
		e.Operation, e.Status, nullString(e.Error), e.Processed, nullJSON(changes), e.DurationMS,
		formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("append sync log: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

func (s *Storage) QueryLogs(ctx context.Context, filter ledger.Filter) ([]ledger.Entry, error) {
	var (
		conds []string
		args  []any
	)
	if !filter.Since.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, formatTime(filter.Since))
	}
	if !filter.Until.IsZero() {
		conds = append(conds, "created_at <= ?")
		args = append(args, formatTime(filter.Until))
	}
	if filter.EntityType != "" {
		conds = append(conds, "entity_type = ?")
		args = append(args, filter.EntityType)
	}
	if filter.KeapID != "" {
		conds = append(conds, "keap_id = ?")
		args = append(args, filter.KeapID)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.RunID != "" {
		conds = append(conds, "run_id = ?")
		args = append(args, filter.RunID)
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
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.log.Error("failed to query sync logs", "error", err)
		return nil, fmt.Errorf("query sync logs: %w", err)
	}
	defer rows.Close()

	var out []ledger.Entry
	for rows.Next() {
		var (
			e                  ledger.Entry
			changes, createdAt sql.NullString
		)
		if err := rows.Scan(
			&e.ID, &e.RunID, &e.EntityType, &e.KeapID, &e.Direction,
			&e.Operation, &e.Status, &e.Error, &e.Processed, &changes, &e.DurationMS, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan sync log: %w", err)
		}
		if err := storage.DecodeJSON([]byte(changes.String), &e.Changes); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query sync logs: %w", err)
	}
	return out, nil
}

func (s *Storage) DeleteLogsBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sync_logs WHERE created_at < ?`, formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("delete sync logs: %w", err)
	}
	return res.RowsAffected()
}
