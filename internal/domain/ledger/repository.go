package ledger

import (
	"context"
	"time"
)

// Writer дописывает запись журнала; реализуется хранилищем и его транзакцией
type Writer interface {
	AppendLog(ctx context.Context, entry *Entry) error
}

type Repository interface {
	Writer
	QueryLogs(ctx context.Context, filter Filter) ([]Entry, error)
	DeleteLogsBefore(ctx context.Context, before time.Time) (int64, error)
}
