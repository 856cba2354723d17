package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/exp/slog"

	"keapsync/internal/app/server/config"
	"keapsync/internal/domain/entity"
	"keapsync/internal/domain/sync"
	"keapsync/internal/infrastructure/migration"
	"keapsync/internal/infrastructure/storage"
)

var (
	_ storage.Storage = (*Storage)(nil)
	_ sync.EntityTx   = (*entityTx)(nil)
)

// querier общее подмножество pgxpool.Pool и pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Storage struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// New открывает пул соединений и применяет миграции
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Storage, error) {
	pool, err := pgxpool.New(ctx, cfg.DB.DatabaseURI)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	mg := migration.NewMigration(cfg, migration.DefaultEngine)
	if err := mg.Up(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return NewWithPool(pool, log), nil
}

// NewWithPool оборачивает уже открытый пул без миграций
func NewWithPool(pool *pgxpool.Pool, log *slog.Logger) *Storage {
	return &Storage{
		pool: pool,
		log:  log.With("component", "postgres_storage"),
	}
}

func (s *Storage) Close() error {
	s.pool.Close()
	return nil
}

func (s *Storage) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// WithinEntity выполняет fn в транзакции под advisory-блокировкой ключа сущности.
// Блокировка снимается вместе с транзакцией, поэтому несколько процессов не применяют одну сущность одновременно.
func (s *Storage) WithinEntity(ctx context.Context, key entity.Key, fn func(ctx context.Context, tx sync.EntityTx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key.String()); err != nil {
			return fmt.Errorf("lock %s: %w", key, err)
		}
		return fn(ctx, &entityTx{q: tx})
	})
}

// entityTx реализует sync.EntityTx поверх открытой транзакции
type entityTx struct {
	q querier
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}
