package sync

import (
	"context"
	"time"

	"keapsync/internal/domain/conflict"
	"keapsync/internal/domain/entity"
	"keapsync/internal/domain/ledger"
)

// EntityTx операции над одной строкой зеркала внутри транзакции хранилища.
// Get-методы возвращают nil, nil, если записи нет.
type EntityTx interface {
	ledger.Writer

	GetByExternalID(ctx context.Context, key entity.Key) (*entity.MirrorEntity, error)
	Upsert(ctx context.Context, e *entity.MirrorEntity) error

	GetSnapshot(ctx context.Context, key entity.Key) (*entity.Snapshot, error)
	SaveSnapshot(ctx context.Context, s *entity.Snapshot) error

	GetConflict(ctx context.Context, id string) (*conflict.Record, error)
	PendingConflict(ctx context.Context, key entity.Key) (*conflict.Record, error)
	InsertConflict(ctx context.Context, rec *conflict.Record) error
	UpdateConflict(ctx context.Context, rec *conflict.Record) error
}

// Store открывает транзакцию для одной сущности. Ошибка fn откатывает транзакцию и возвращается как есть.
type Store interface {
	WithinEntity(ctx context.Context, key entity.Key, fn func(ctx context.Context, tx EntityTx) error) error
}

// CursorStore хранит отметку since между инкрементальными запусками
type CursorStore interface {
	GetCursor(ctx context.Context, name string) (*time.Time, error)
	SetCursor(ctx context.Context, name string, at time.Time) error
}
