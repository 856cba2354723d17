package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
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

// querier общее подмножество *sql.DB и *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Storage локальное зеркало в файле SQLite для CLI и небольших установок
type Storage struct {
	db  *sql.DB
	log *slog.Logger
}

// New применяет миграции к файлу cfg.DB.SQLitePath и открывает его
func New(cfg *config.Config, log *slog.Logger) (*Storage, error) {
	mg := migration.NewMigration(cfg, migration.DefaultEngine)
	if err := mg.Up(); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return Open(cfg.DB.SQLitePath, log)
}

// Open открывает уже размеченную базу.
// _txlock=immediate берет блокировку записи в начале транзакции: чтение строки и ее обновление не разрываются другим писателем.
func Open(path string, log *slog.Logger) (*Storage, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	return &Storage{
		db:  db,
		log: log.With("component", "sqlite_storage"),
	}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Storage) WithinEntity(ctx context.Context, key entity.Key, fn func(ctx context.Context, tx sync.EntityTx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", key, err)
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
				s.log.Warn("Rollback failed", "key", key.String(), "error", rerr)
			}
		}
	}()

	if err := fn(ctx, &entityTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", key, err)
	}
	return nil
}

type entityTx struct {
	q querier
}

// время хранится текстом фиксированной ширины в UTC, чтобы сравнение строк совпадало со сравнением времени
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func parseTime(s sql.NullString) (time.Time, error) {
	if !s.Valid || s.String == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s.String, err)
	}
	return t.UTC(), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullJSON(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
