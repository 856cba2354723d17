package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"keapsync/internal/domain/entity"
	"keapsync/internal/domain/ledger"
	"keapsync/internal/infrastructure/storage"
)

func (t *entityTx) GetByExternalID(ctx context.Context, key entity.Key) (*entity.MirrorEntity, error) {
	const query = `
		SELECT id, entity_type, keap_id, fields, modified_at, updated_at, last_synced_at,
		       sync_direction, conflict_status
		FROM mirror_entities
		WHERE entity_type = ? AND keap_id = ?`

	var (
		e                               entity.MirrorEntity
		fields                          string
		modifiedAt, updatedAt, syncedAt sql.NullString
	)
	err := t.q.QueryRowContext(ctx, query, key.Type, key.KeapID).Scan(
		&e.ID, &e.Type, &e.KeapID, &fields, &modifiedAt, &updatedAt, &syncedAt,
		&e.SyncDirection, &e.ConflictStatus,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entity %s: %w", key, err)
	}
	if err := storage.DecodeJSON([]byte(fields), &e.Fields); err != nil {
		return nil, fmt.Errorf("get entity %s: %w", key, err)
	}
	if e.ModifiedAt, err = parseTime(modifiedAt); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if e.LastSyncedAt, err = parseTime(syncedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func (t *entityTx) Upsert(ctx context.Context, e *entity.MirrorEntity) error {
	const query = `
		INSERT INTO mirror_entities (entity_type, keap_id, fields, modified_at, updated_at,
		                             last_synced_at, sync_direction, conflict_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (entity_type, keap_id) DO UPDATE SET
			fields          = excluded.fields,
			modified_at     = excluded.modified_at,
			updated_at      = excluded.updated_at,
			last_synced_at  = excluded.last_synced_at,
			sync_direction  = excluded.sync_direction,
			conflict_status = excluded.conflict_status
		RETURNING id`

	fields, err := storage.EncodeJSON(e.Fields)
	if err != nil {
		return err
	}
	err = t.q.QueryRowContext(ctx, query,
		e.Type, e.KeapID, fields, nullTime(e.ModifiedAt), formatTime(e.UpdatedAt), formatTime(e.LastSyncedAt),
		e.SyncDirection, e.ConflictStatus,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("upsert entity %s: %w", e.Key(), err)
	}
	return nil
}

func (t *entityTx) GetSnapshot(ctx context.Context, key entity.Key) (*entity.Snapshot, error) {
	const query = `
		SELECT entity_type, keap_id, fields, synced_at
		FROM sync_snapshots
		WHERE entity_type = ? AND keap_id = ?`

	var (
		s        entity.Snapshot
		fields   string
		syncedAt sql.NullString
	)
	err := t.q.QueryRowContext(ctx, query, key.Type, key.KeapID).Scan(&s.Type, &s.KeapID, &fields, &syncedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", key, err)
	}
	if err := storage.DecodeJSON([]byte(fields), &s.Fields); err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", key, err)
	}
	if s.SyncedAt, err = parseTime(syncedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

func (t *entityTx) SaveSnapshot(ctx context.Context, s *entity.Snapshot) error {
	const query = `
		INSERT INTO sync_snapshots (entity_type, keap_id, fields, synced_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (entity_type, keap_id) DO UPDATE SET
			fields    = excluded.fields,
			synced_at = excluded.synced_at`

	fields, err := storage.EncodeJSON(s.Fields)
	if err != nil {
		return err
	}
	if _, err := t.q.ExecContext(ctx, query, s.Type, s.KeapID, fields, formatTime(s.SyncedAt)); err != nil {
		return fmt.Errorf("save snapshot %s:%s: %w", s.Type, s.KeapID, err)
	}
	return nil
}

func (t *entityTx) AppendLog(ctx context.Context, entry *ledger.Entry) error {
	return appendLog(ctx, t.q, entry)
}
