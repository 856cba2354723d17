package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"keapsync/internal/app/server/config"
	"keapsync/internal/domain/conflict"
	"keapsync/internal/domain/entity"
	"keapsync/internal/domain/ledger"
	"keapsync/internal/domain/sync"
)

func TestConflictWhere(t *testing.T) {
	tests := []struct {
		name   string
		filter conflict.Filter
		where  string
		args   []any
	}{
		{name: "empty", filter: conflict.Filter{}, where: "", args: nil},
		{
			name:   "status only",
			filter: conflict.Filter{Status: conflict.StatusPending},
			where:  " WHERE status = $1",
			args:   []any{conflict.StatusPending},
		},
		{
			name:   "all filters",
			filter: conflict.Filter{Status: conflict.StatusResolved, EntityType: entity.TypeOrder, KeapID: "42"},
			where:  " WHERE status = $1 AND entity_type = $2 AND keap_id = $3",
			args:   []any{conflict.StatusResolved, entity.TypeOrder, "42"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			where, args := conflictWhere(tt.filter)
			assert.Equal(t, tt.where, where)
			assert.Equal(t, tt.args, args)
		})
	}
}

func TestGetConflict_MalformedID(t *testing.T) {
	_, err := getConflict(context.Background(), nil, "not-a-uuid")
	assert.ErrorIs(t, err, conflict.ErrNotFound)
}

// newTestStorage подключается к базе из KEAPSYNC_TEST_DATABASE_URI; без нее тест пропускается
func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	uri := os.Getenv("KEAPSYNC_TEST_DATABASE_URI")
	if uri == "" {
		t.Skip("KEAPSYNC_TEST_DATABASE_URI is not set")
	}
	cfg := &config.Config{}
	cfg.DB.Driver = config.DriverPostgres
	cfg.DB.DatabaseURI = uri
	cfg.DB.Migrations = "../../../../migrations"

	s, err := New(context.Background(), cfg, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = s.pool.Exec(context.Background(),
			`TRUNCATE mirror_entities, sync_snapshots, sync_conflicts, sync_logs, sync_cursors`)
		s.Close()
	})
	return s
}

func TestStorage_EntityRoundTrip(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	key := entity.Key{Type: entity.TypeContact, KeapID: "301"}
	now := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

	err := s.WithinEntity(ctx, key, func(ctx context.Context, tx sync.EntityTx) error {
		got, err := tx.GetByExternalID(ctx, key)
		require.NoError(t, err)
		assert.Nil(t, got)

		row := &entity.MirrorEntity{
			Type: key.Type, KeapID: key.KeapID,
			Fields:         entity.Fields{"email": "ann@example.com"},
			ModifiedAt:     now,
			UpdatedAt:      now,
			LastSyncedAt:   now,
			SyncDirection:  entity.DirectionKeapToMirror,
			ConflictStatus: entity.ConflictNone,
		}
		if err := tx.Upsert(ctx, row); err != nil {
			return err
		}
		assert.NotZero(t, row.ID)
		if err := tx.SaveSnapshot(ctx, entity.SnapshotOf(row, now)); err != nil {
			return err
		}
		return tx.AppendLog(ctx, &ledger.Entry{
			EntityType: key.Type, KeapID: key.KeapID, Direction: entity.DirectionKeapToMirror,
			Operation: ledger.OpInsert, Status: ledger.StatusSuccess, Processed: 1, CreatedAt: now,
		})
	})
	require.NoError(t, err)

	err = s.WithinEntity(ctx, key, func(ctx context.Context, tx sync.EntityTx) error {
		got, err := tx.GetByExternalID(ctx, key)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "ann@example.com", got.Fields["email"])
		assert.True(t, got.ModifiedAt.Equal(now))

		snap, err := tx.GetSnapshot(ctx, key)
		require.NoError(t, err)
		require.NotNil(t, snap)
		assert.Equal(t, got.Fields, snap.Fields)
		return nil
	})
	require.NoError(t, err)

	entries, err := s.QueryLogs(ctx, ledger.Filter{KeapID: "301"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.OpInsert, entries[0].Operation)
}

func TestStorage_RollbackOnError(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	key := entity.Key{Type: entity.TypeTag, KeapID: "9"}
	now := time.Now().UTC()

	err := s.WithinEntity(ctx, key, func(ctx context.Context, tx sync.EntityTx) error {
		row := &entity.MirrorEntity{
			Type: key.Type, KeapID: key.KeapID, Fields: entity.Fields{"name": "VIP"},
			UpdatedAt: now, LastSyncedAt: now,
			SyncDirection: entity.DirectionKeapToMirror, ConflictStatus: entity.ConflictNone,
		}
		require.NoError(t, tx.Upsert(ctx, row))
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	err = s.WithinEntity(ctx, key, func(ctx context.Context, tx sync.EntityTx) error {
		got, err := tx.GetByExternalID(ctx, key)
		require.NoError(t, err)
		assert.Nil(t, got)
		return nil
	})
	require.NoError(t, err)
}

func TestStorage_Cursor(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	got, err := s.GetCursor(ctx, "scheduler")
	require.NoError(t, err)
	assert.Nil(t, got)

	at := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetCursor(ctx, "scheduler", at))

	got, err = s.GetCursor(ctx, "scheduler")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Equal(at))
}
