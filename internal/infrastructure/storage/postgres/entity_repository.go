package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"keapsync/internal/domain/entity"
	"keapsync/internal/domain/ledger"
	"keapsync/internal/infrastructure/storage"
)

func (t *entityTx) GetByExternalID(ctx context.Context, key entity.Key) (*entity.MirrorEntity, error) {
	const query = `
		SELECT id, entity_type, keap_id, fields, modified_at, updated_at, last_synced_at,
		       sync_direction, conflict_status
		FROM mirror_entities
		WHERE entity_type = $1 AND keap_id = $2`

	var (
		e          entity.MirrorEntity
		fields     []byte
		modifiedAt *time.Time
	)
	err := t.q.QueryRow(ctx, query, key.Type, key.KeapID).Scan(
		&e.ID, &e.Type, &e.KeapID, &fields, &modifiedAt, &e.UpdatedAt, &e.LastSyncedAt,
		&e.SyncDirection, &e.ConflictStatus,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entity %s: %w", key, err)
	}
	if err := storage.DecodeJSON(fields, &e.Fields); err != nil {
		return nil, fmt.Errorf("get entity %s: %w", key, err)
	}
	e.ModifiedAt = derefTime(modifiedAt)
	e.UpdatedAt = e.UpdatedAt.UTC()
	e.LastSyncedAt = e.LastSyncedAt.UTC()
	return &e, nil
}

func (t *entityTx) Upsert(ctx context.Context, e *entity.MirrorEntity) error {
	const query = `
		INSERT INTO mirror_entities (entity_type, keap_id, fields, modified_at, updated_at,
		                             last_synced_at, sync_direction, conflict_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (entity_type, keap_id) DO UPDATE SET
			fields          = EXCLUDED.fields,
			modified_at     = EXCLUDED.modified_at,
			updated_at      = EXCLUDED.updated_at,
			last_synced_at  = EXCLUDED.last_synced_at,
			sync_direction  = EXCLUDED.sync_direction,
			conflict_status = EXCLUDED.conflict_status
		RETURNING id`

	fields, err := storage.EncodeJSON(e.Fields)
	if err != nil {
		return err
	}
	err = t.q.QueryRow(ctx, query,
		e.Type, e.KeapID, fields, nullTime(e.ModifiedAt), e.UpdatedAt, e.LastSyncedAt,
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
		WHERE entity_type = $1 AND keap_id = $2`

	var (
		s      entity.Snapshot
		fields []byte
	)
	err := t.q.QueryRow(ctx, query, key.Type, key.KeapID).Scan(&s.Type, &s.KeapID, &fields, &s.SyncedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", key, err)
	}
	if err := storage.DecodeJSON(fields, &s.Fields); err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", key, err)
	}
	s.SyncedAt = s.SyncedAt.UTC()
	return &s, nil
}

func (t *entityTx) SaveSnapshot(ctx context.Context, s *entity.Snapshot) error {
	const query = `
		INSERT INTO sync_snapshots (entity_type, keap_id, fields, synced_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (entity_type, keap_id) DO UPDATE SET
			fields    = EXCLUDED.fields,
			synced_at = EXCLUDED.synced_at`

	fields, err := storage.EncodeJSON(s.Fields)
	if err != nil {
		return err
	}
	if _, err := t.q.Exec(ctx, query, s.Type, s.KeapID, fields, s.SyncedAt); err != nil {
		return fmt.Errorf("save snapshot %s:%s: %w", s.Type, s.KeapID, err)
	}
	return nil
}

func (t *entityTx) AppendLog(ctx context.Context, entry *ledger.Entry) error {
	return appendLog(ctx, t.q, entry)
}
