package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/exp/slog"
)

const DefaultRetention = 30 * 24 * time.Hour

// Ledger журнал синхронизации: запись только добавлением, чтение через агрегаты
type Ledger struct {
	repo Repository
	log  *slog.Logger
	now  func() time.Time

	mu          sync.RWMutex
	subscribers map[int]func(Entry)
	nextID      int
}

func New(repo Repository, log *slog.Logger) *Ledger {
	return &Ledger{
		repo:        repo,
		log:         log.With("component", "ledger"),
		now:         time.Now,
		subscribers: make(map[int]func(Entry)),
	}
}

// Record дописывает запись через w (транзакцию хранилища) или напрямую в репозиторий, если w == nil.
// Ошибка записи всегда возвращается как *WriteError.
func (l *Ledger) Record(ctx context.Context, w Writer, entry *Entry) error {
	if err := validate(entry); err != nil {
		return &WriteError{Entry: *entry, Err: err}
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.now().UTC()
	}
	direct := w == nil
	if direct {
		w = l.repo
	}
	if err := w.AppendLog(ctx, entry); err != nil {
		l.log.Error("Failed to append ledger entry",
			"entity_type", entry.EntityType,
			"keap_id", entry.KeapID,
			"operation", entry.Operation,
			"error", err,
		)
		return &WriteError{Entry: *entry, Err: err}
	}
	if direct {
		l.Publish(*entry)
	}
	return nil
}

func validate(e *Entry) error {
	if e == nil {
		return fmt.Errorf("%w: nil entry", ErrInvalidEntry)
	}
	switch e.Status {
	case StatusSuccess, StatusError, StatusConflict:
	default:
		return fmt.Errorf("%w: status %q", ErrInvalidEntry, e.Status)
	}
	if e.Operation == "" {
		return fmt.Errorf("%w: operation is required", ErrInvalidEntry)
	}
	if e.KeapID != "" && e.EntityType == "" {
		return fmt.Errorf("%w: entity type is required for %s", ErrInvalidEntry, e.KeapID)
	}
	return nil
}

// Subscribe регистрирует получателя новых записей; возвращает функцию отписки
func (l *Ledger) Subscribe(fn func(Entry)) func() {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.subscribers[id] = fn
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.subscribers, id)
		l.mu.Unlock()
	}
}

// Publish рассылает уже зафиксированную запись подписчикам
func (l *Ledger) Publish(entry Entry) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, fn := range l.subscribers {
		fn(entry)
	}
}

// Recent возвращает последние n записей по фильтру
func (l *Ledger) Recent(ctx context.Context, n int, filter Filter) ([]Entry, error) {
	if n <= 0 {
		n = 50
	}
	filter.Limit = n
	entries, err := l.repo.QueryLogs(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query recent entries: %w", err)
	}
	return entries, nil
}

// Stats считает агрегаты за окно, заканчивающееся сейчас
func (l *Ledger) Stats(ctx context.Context, window time.Duration) (*Stats, error) {
	until := l.now().UTC()
	since := until.Add(-window)

	entries, err := l.repo.QueryLogs(ctx, Filter{Since: since, Until: until})
	if err != nil {
		return nil, fmt.Errorf("query entries for stats: %w", err)
	}
	stats := Summarize(entries, since, until)
	return &stats, nil
}

// Prune удаляет записи старше срока хранения
func (l *Ledger) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	before := l.now().UTC().Add(-retention)
	n, err := l.repo.DeleteLogsBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("prune ledger: %w", err)
	}
	l.log.Info("Ledger pruned", "before", before, "deleted", n)
	return n, nil
}
