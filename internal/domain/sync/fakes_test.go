package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	gosync "sync"
	"time"

	"keapsync/internal/domain/conflict"
	"keapsync/internal/domain/entity"
	"keapsync/internal/domain/ledger"
	"keapsync/internal/domain/source"
)

// memStore хранилище зеркала в памяти с транзакциями на одну сущность
type memStore struct {
	mu        gosync.Mutex
	rows      map[entity.Key]*entity.MirrorEntity
	snapshots map[entity.Key]*entity.Snapshot
	conflicts map[string]*conflict.Record
	logs      []ledger.Entry
	nextID    int64

	failUpsert map[entity.Key]error
	failLog    error

	// наблюдение за параллельными транзакциями по одному ключу
	active    map[entity.Key]int
	maxActive int
	txDelay   time.Duration
}

func newMemStore() *memStore {
	return &memStore{
		rows:       make(map[entity.Key]*entity.MirrorEntity),
		snapshots:  make(map[entity.Key]*entity.Snapshot),
		conflicts:  make(map[string]*conflict.Record),
		failUpsert: make(map[entity.Key]error),
		active:     make(map[entity.Key]int),
	}
}

func (s *memStore) WithinEntity(ctx context.Context, key entity.Key, fn func(ctx context.Context, tx EntityTx) error) error {
	s.mu.Lock()
	s.active[key]++
	if s.active[key] > s.maxActive {
		s.maxActive = s.active[key]
	}
	delay := s.txDelay
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.active[key]--
		s.mu.Unlock()
	}()

	if delay > 0 {
		time.Sleep(delay)
	}

	tx := &memTx{
		store:     s,
		rows:      make(map[entity.Key]*entity.MirrorEntity),
		snapshots: make(map[entity.Key]*entity.Snapshot),
		conflicts: make(map[string]*conflict.Record),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, row := range tx.rows {
		if row.ID == 0 {
			if old, ok := s.rows[k]; ok {
				row.ID = old.ID
			} else {
				s.nextID++
				row.ID = s.nextID
			}
		}
		s.rows[k] = row
	}
	for k, snap := range tx.snapshots {
		s.snapshots[k] = snap
	}
	for id, rec := range tx.conflicts {
		s.conflicts[id] = rec
	}
	for _, e := range tx.logs {
		s.nextID++
		e.ID = s.nextID
		s.logs = append(s.logs, e)
	}
	return nil
}

func (s *memStore) put(row *entity.MirrorEntity, baseline entity.Fields) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	row = row.Clone()
	row.ID = s.nextID
	s.rows[row.Key()] = row
	if baseline != nil {
		s.snapshots[row.Key()] = &entity.Snapshot{Type: row.Type, KeapID: row.KeapID, Fields: baseline}
	}
}

func (s *memStore) row(key entity.Key) *entity.MirrorEntity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[key].Clone()
}

func (s *memStore) snapshot(key entity.Key) *entity.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshots[key]
}

func (s *memStore) entries(filter func(ledger.Entry) bool) []ledger.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ledger.Entry
	for _, e := range s.logs {
		if filter == nil || filter(e) {
			out = append(out, e)
		}
	}
	return out
}

func (s *memStore) rowCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func (s *memStore) conflictList() []*conflict.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*conflict.Record, 0, len(s.conflicts))
	for _, c := range s.conflicts {
		cp := *c
		out = append(out, &cp)
	}
	return out
}

// ledger.Repository

func (s *memStore) AppendLog(_ context.Context, entry *ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failLog != nil {
		return s.failLog
	}
	s.nextID++
	entry.ID = s.nextID
	s.logs = append(s.logs, *entry)
	return nil
}

func (s *memStore) QueryLogs(_ context.Context, f ledger.Filter) ([]ledger.Entry, error) {
	out := s.entries(func(e ledger.Entry) bool {
		return (f.RunID == "" || e.RunID == f.RunID) && (f.EntityType == "" || e.EntityType == f.EntityType)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out, nil
}

func (s *memStore) DeleteLogsBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// conflict.Repository

func (s *memStore) ListConflicts(_ context.Context, f conflict.Filter) ([]conflict.Record, error) {
	var out []conflict.Record
	for _, c := range s.conflictList() {
		if f.Status == "" || c.Status == f.Status {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) GetConflict(_ context.Context, id string) (*conflict.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conflicts[id]
	if !ok {
		return nil, conflict.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) CountConflicts(_ context.Context, status conflict.Status) (int, error) {
	n := 0
	for _, c := range s.conflictList() {
		if c.Status == status {
			n++
		}
	}
	return n, nil
}

type memTx struct {
	store     *memStore
	rows      map[entity.Key]*entity.MirrorEntity
	snapshots map[entity.Key]*entity.Snapshot
	conflicts map[string]*conflict.Record
	logs      []ledger.Entry
}

func (t *memTx) GetByExternalID(_ context.Context, key entity.Key) (*entity.MirrorEntity, error) {
	if row, ok := t.rows[key]; ok {
		return row.Clone(), nil
	}
	return t.store.row(key), nil
}

func (t *memTx) Upsert(_ context.Context, e *entity.MirrorEntity) error {
	t.store.mu.Lock()
	err := t.store.failUpsert[e.Key()]
	t.store.mu.Unlock()
	if err != nil {
		return err
	}
	t.rows[e.Key()] = e.Clone()
	return nil
}

func (t *memTx) GetSnapshot(_ context.Context, key entity.Key) (*entity.Snapshot, error) {
	if s, ok := t.snapshots[key]; ok {
		return s, nil
	}
	return t.store.snapshot(key), nil
}

func (t *memTx) SaveSnapshot(_ context.Context, s *entity.Snapshot) error {
	t.snapshots[entity.Key{Type: s.Type, KeapID: s.KeapID}] = s
	return nil
}

func (t *memTx) GetConflict(ctx context.Context, id string) (*conflict.Record, error) {
	if c, ok := t.conflicts[id]; ok {
		cp := *c
		return &cp, nil
	}
	c, err := t.store.GetConflict(ctx, id)
	if err != nil {
		return nil, nil
	}
	return c, nil
}

func (t *memTx) PendingConflict(_ context.Context, key entity.Key) (*conflict.Record, error) {
	for _, c := range t.store.conflictList() {
		if c.Key() == key && c.Status == conflict.StatusPending {
			return c, nil
		}
	}
	return nil, nil
}

func (t *memTx) InsertConflict(_ context.Context, rec *conflict.Record) error {
	if _, err := t.store.GetConflict(context.Background(), rec.ID); err == nil {
		return fmt.Errorf("duplicate conflict %s", rec.ID)
	}
	cp := *rec
	t.conflicts[rec.ID] = &cp
	return nil
}

func (t *memTx) UpdateConflict(_ context.Context, rec *conflict.Record) error {
	cp := *rec
	t.conflicts[rec.ID] = &cp
	return nil
}

func (t *memTx) AppendLog(_ context.Context, entry *ledger.Entry) error {
	t.store.mu.Lock()
	err := t.store.failLog
	t.store.mu.Unlock()
	if err != nil {
		return err
	}
	t.logs = append(t.logs, *entry)
	return nil
}

// fakeCRM отдает заранее заданные payload постранично
type fakeCRM struct {
	mu      gosync.Mutex
	items   map[entity.Type][]json.RawMessage
	listErr error
	getErr  error
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{items: make(map[entity.Type][]json.RawMessage)}
}

func (f *fakeCRM) add(t entity.Type, payloads ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range payloads {
		f.items[t] = append(f.items[t], json.RawMessage(p))
	}
}

func (f *fakeCRM) ListChanged(_ context.Context, t entity.Type, _ *time.Time, page source.PageRequest) (*source.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	all := f.items[t]
	if page.Offset >= len(all) {
		return &source.Page{}, nil
	}
	end := min(page.Offset+page.Limit, len(all))
	return &source.Page{Items: all[page.Offset:end], HasMore: end < len(all)}, nil
}

func (f *fakeCRM) GetEntity(_ context.Context, t entity.Type, id string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, raw := range f.items[t] {
		if got, _ := entity.ExternalID(raw); got == id {
			return raw, nil
		}
	}
	return nil, source.ErrEntityNotFound
}
