package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"
	"golang.org/x/sync/errgroup"

	"keapsync/internal/domain/conflict"
	"keapsync/internal/domain/entity"
	"keapsync/internal/domain/ledger"
	"keapsync/internal/domain/source"
)

const DefaultWorkers = 4

// Mapper превращает сырой payload CRM в строку зеркала
type Mapper interface {
	Map(t entity.Type, raw json.RawMessage) (*entity.MirrorEntity, error)
}

type Options struct {
	Workers  int
	PageSize int
	Policies conflict.PolicySource
}

// Reconciler движок сверки: источник изменений, маппинг, обнаружение конфликтов, применение, журнал
type Reconciler struct {
	store     Store
	crm       source.CRM
	mapper    Mapper
	ledger    *ledger.Ledger
	conflicts conflict.Repository
	policies  conflict.PolicySource
	locks     *KeyLock
	workers   int
	pageSize  int
	log       *slog.Logger
	now       func() time.Time
}

func NewReconciler(
	store Store,
	crm source.CRM,
	mapper Mapper,
	l *ledger.Ledger,
	conflicts conflict.Repository,
	opts Options,
	log *slog.Logger,
) *Reconciler {
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	policies := opts.Policies
	if policies == nil {
		policies = conflict.StaticPolicy(conflict.PolicyManual)
	}
	return &Reconciler{
		store:     store,
		crm:       crm,
		mapper:    mapper,
		ledger:    l,
		conflicts: conflicts,
		policies:  policies,
		locks:     NewKeyLock(),
		workers:   workers,
		pageSize:  opts.PageSize,
		log:       log.With("component", "reconciler"),
		now:       time.Now,
	}
}

// Run выполняет запуск в заданном режиме. Ошибка возвращается только при недоступности источника,
// сбое журнала или отмене; сводка возвращается всегда, если запрос корректен.
func (r *Reconciler) Run(ctx context.Context, req RunRequest) (*RunSummary, error) {
	if len(req.Types) == 0 && req.Mode != ModeSingleEntity {
		req.Types = entity.Types
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	var src source.Source
	switch req.Mode {
	case ModeSingleEntity:
		src = source.NewPush(r.crm, source.Event{Type: req.Types[0], Action: source.ActionEdit, KeapID: req.KeapID})
	case ModeFull:
		req.Since = nil
		src = source.NewPull(r.crm, req.Types, nil, r.pageSize, r.log)
	default:
		src = source.NewPull(r.crm, req.Types, req.Since, r.pageSize, r.log)
	}
	return r.RunSource(ctx, req, src)
}

// RunEntity синхронизирует одну сущность, запрашивая ее из CRM
func (r *Reconciler) RunEntity(ctx context.Context, t entity.Type, keapID string) (*RunSummary, error) {
	return r.Run(ctx, RunRequest{Mode: ModeSingleEntity, Types: []entity.Type{t}, KeapID: keapID})
}

// HandleEvent обрабатывает одно событие вебхука. Повторная доставка того же события безопасна.
func (r *Reconciler) HandleEvent(ctx context.Context, ev source.Event) (*RunSummary, error) {
	req := RunRequest{Mode: ModeSingleEntity, Types: []entity.Type{ev.Type}, KeapID: ev.KeapID}
	if err := req.validate(); err != nil {
		return nil, err
	}
	if ev.Action == source.ActionDelete {
		return r.skipEvent(ctx, ev, "delete events are not mirrored")
	}
	return r.RunSource(ctx, req, source.NewPush(r.crm, ev))
}

// RecordSkipped фиксирует в журнале принятое, но не обрабатываемое событие
func (r *Reconciler) RecordSkipped(ctx context.Context, t entity.Type, keapID, reason string) error {
	entry := newEntry("", entity.Key{Type: t, KeapID: keapID}, ledger.OpSkip, ledger.StatusSuccess, entity.DirectionKeapToMirror)
	entry.Error = reason
	return r.ledger.Record(ctx, nil, entry)
}

func (r *Reconciler) skipEvent(ctx context.Context, ev source.Event, reason string) (*RunSummary, error) {
	now := r.now().UTC()
	summary := &RunSummary{
		RunID:      uuid.Must(uuid.NewV7()).String(),
		Mode:       ModeSingleEntity,
		Types:      []entity.Type{ev.Type},
		State:      StateIdle,
		StartedAt:  now,
		FinishedAt: now,
	}
	summary.add(outcomeSkipped)

	entry := newEntry(summary.RunID, entity.Key{Type: ev.Type, KeapID: ev.KeapID}, ledger.OpSkip, ledger.StatusSuccess, entity.DirectionKeapToMirror)
	entry.Error = reason
	if err := r.ledger.Record(ctx, nil, entry); err != nil {
		summary.State = StateFailed
		summary.Error = err.Error()
		return summary, err
	}
	r.log.Info("Webhook event skipped", "event", ev.Key, "entity_type", ev.Type, "keap_id", ev.KeapID, "reason", reason)
	return summary, nil
}

// RunSource обходит источник с ограниченным пулом обработчиков.
// Отмена проверяется между сущностями; начатое применение всегда доводится до конца.
func (r *Reconciler) RunSource(ctx context.Context, req RunRequest, src source.Source) (*RunSummary, error) {
	if req.RunID == "" {
		req.RunID = uuid.Must(uuid.NewV7()).String()
	}
	summary := &RunSummary{
		RunID:     req.RunID,
		Mode:      req.Mode,
		Types:     req.Types,
		Since:     req.Since,
		State:     StateIdle,
		StartedAt: r.now().UTC(),
	}
	log := r.log.With("run_id", req.RunID, "mode", req.Mode)
	log.Info("Sync run started", "entity_types", req.Types, "since", req.Since)

	var mu gosync.Mutex
	tally := func(o outcome) {
		mu.Lock()
		summary.add(o)
		mu.Unlock()
	}

	summary.State = StateFetching
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	var fatal error
	for ch, err := range src.Changes(gctx) {
		if err != nil {
			if ferr := r.sourceError(gctx, req.RunID, ch, err, summary, &mu, log); ferr != nil {
				fatal = ferr
				break
			}
			continue
		}
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			o, err := r.process(gctx, req.RunID, ch, log)
			tally(o)
			return err
		})
	}
	if err := g.Wait(); err != nil && fatal == nil {
		fatal = err
	}

	summary.FinishedAt = r.now().UTC()
	switch {
	case fatal != nil:
		summary.State = StateFailed
		summary.Error = fatal.Error()
	case ctx.Err() != nil:
		summary.State = StateIdle
		summary.Cancelled = true
	default:
		summary.State = StateIdle
	}

	if !errors.Is(fatal, ledger.ErrLedgerWrite) {
		if err := r.recordRun(context.WithoutCancel(ctx), summary); err != nil && fatal == nil {
			fatal = err
			summary.State = StateFailed
			summary.Error = err.Error()
		}
	}

	attrs := []any{
		"total", summary.Total,
		"applied", summary.Applied,
		"unchanged", summary.Unchanged,
		"conflicted", summary.Conflicted,
		"errored", summary.Errored,
		"pages_failed", summary.PagesFailed,
		"duration", summary.Duration(),
	}
	switch {
	case fatal != nil:
		log.Error("Sync run failed", append(attrs, "error", fatal)...)
		return summary, fatal
	case summary.Cancelled:
		log.Warn("Sync run cancelled", attrs...)
		return summary, ctx.Err()
	}
	log.Info("Sync run finished", attrs...)
	return summary, nil
}

// sourceError разбирает ошибку источника; ненулевой результат прерывает запуск
func (r *Reconciler) sourceError(
	ctx context.Context,
	runID string,
	ch source.Change,
	err error,
	summary *RunSummary,
	mu *gosync.Mutex,
	log *slog.Logger,
) error {
	if ctx.Err() != nil {
		return nil
	}
	if errors.Is(err, source.ErrSourceUnavailable) {
		return err
	}

	var perr *source.PageError
	if errors.As(err, &perr) {
		mu.Lock()
		summary.PagesFailed++
		mu.Unlock()
		log.Warn("Failed to fetch page", "entity_type", perr.Type, "offset", perr.Offset, "error", perr.Err)

		entry := newEntry(runID, entity.Key{Type: perr.Type}, ledger.OpFetch, ledger.StatusError, entity.DirectionKeapToMirror)
		entry.Error = err.Error()
		return r.ledger.Record(context.WithoutCancel(ctx), nil, entry)
	}

	// ошибка получения одной сущности: учитывается как ошибка этой сущности
	o := outcomeErrored
	if errors.Is(err, source.ErrTransientFetch) {
		o = outcomeRetryable
	}
	mu.Lock()
	summary.add(o)
	mu.Unlock()
	log.Warn("Failed to fetch entity", "entity_type", ch.Type, "keap_id", ch.KeapID, "error", err)

	entry := newEntry(runID, ch.Key(), ledger.OpFetch, ledger.StatusError, entity.DirectionKeapToMirror)
	entry.Error = err.Error()
	return r.ledger.Record(context.WithoutCancel(ctx), nil, entry)
}

func (r *Reconciler) recordRun(ctx context.Context, s *RunSummary) error {
	entry := &ledger.Entry{
		RunID:      s.RunID,
		Direction:  entity.DirectionKeapToMirror,
		Operation:  ledger.OpRun,
		Status:     ledger.StatusSuccess,
		Processed:  s.Total,
		DurationMS: s.Duration().Milliseconds(),
	}
	if len(s.Types) == 1 {
		entry.EntityType = s.Types[0]
	}
	if s.State == StateFailed {
		entry.Status = ledger.StatusError
		entry.Error = s.Error
	}
	return r.ledger.Record(ctx, nil, entry)
}

// process проводит одну сущность через маппинг, обнаружение конфликтов и применение.
// Ошибка возвращается только для сбоя журнала; остальные сбои учитываются как ошибка сущности.
func (r *Reconciler) process(ctx context.Context, runID string, ch source.Change, log *slog.Logger) (outcome, error) {
	started := r.now()
	st := &tracker{state: StateFetching, log: log}
	// применение не прерывается отменой запуска
	ctx = context.WithoutCancel(ctx)

	st.to(StateMapping)
	incoming, err := r.mapper.Map(ch.Type, ch.Payload)
	if err != nil {
		st.to(StateLogging)
		log.Warn("Failed to map entity", "entity_type", ch.Type, "keap_id", ch.KeapID, "error", err)

		entry := newEntry(runID, ch.Key(), ledger.OpSkip, ledger.StatusError, entity.DirectionKeapToMirror)
		entry.Error = err.Error()
		entry.DurationMS = time.Since(started).Milliseconds()
		return outcomeErrored, r.ledger.Record(ctx, nil, entry)
	}
	if incoming.ModifiedAt.IsZero() {
		incoming.ModifiedAt = ch.ObservedAt.UTC()
	}
	key := incoming.Key()

	unlock := r.locks.Lock(key)
	defer unlock()

	a := &apply{r: r, runID: runID, incoming: incoming, st: st, started: started, op: ledger.OpUpdate}
	err = r.store.WithinEntity(ctx, key, a.run)
	if err != nil {
		if errors.Is(err, ledger.ErrLedgerWrite) {
			st.to(StateFailed)
			return outcomeErrored, err
		}
		serr := &StoreWriteError{Key: key, Err: err}
		st.to(StateLogging)
		log.Warn("Failed to apply entity", "entity_type", key.Type, "keap_id", key.KeapID, "error", serr)

		entry := newEntry(runID, key, a.op, ledger.StatusError, entity.DirectionKeapToMirror)
		entry.Error = serr.Error()
		entry.DurationMS = time.Since(started).Milliseconds()
		return outcomeRetryable, r.ledger.Record(ctx, nil, entry)
	}

	r.ledger.Publish(*a.entry)
	log.Debug("Entity processed",
		"entity_type", key.Type,
		"keap_id", key.KeapID,
		"operation", a.entry.Operation,
		"changes", a.entry.Changes,
	)
	return a.outcome, nil
}

// apply состояние применения одной сущности внутри транзакции
type apply struct {
	r        *Reconciler
	runID    string
	incoming *entity.MirrorEntity
	st       *tracker
	started  time.Time

	op      ledger.Operation
	outcome outcome
	entry   *ledger.Entry
}

func (a *apply) run(ctx context.Context, tx EntityTx) error {
	key := a.incoming.Key()
	a.st.to(StateDetecting)

	stored, err := tx.GetByExternalID(ctx, key)
	if err != nil {
		return fmt.Errorf("get mirror row: %w", err)
	}
	baseline, err := tx.GetSnapshot(ctx, key)
	if err != nil {
		return fmt.Errorf("get snapshot: %w", err)
	}
	now := a.r.now().UTC()

	if stored == nil {
		a.op = ledger.OpInsert
		a.st.to(StateApplying)
		row := a.incoming.Clone()
		row.UpdatedAt = now
		row.LastSyncedAt = now
		if err := tx.Upsert(ctx, row); err != nil {
			return fmt.Errorf("insert mirror row: %w", err)
		}
		if err := tx.SaveSnapshot(ctx, entity.SnapshotOf(a.incoming, now)); err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
		a.outcome = outcomeApplied
		return a.finish(ctx, tx, ledger.OpInsert, ledger.StatusSuccess, entity.DirectionKeapToMirror, a.incoming.Fields.Names())
	}

	if !a.incoming.ModifiedAt.IsZero() && a.incoming.ModifiedAt.Before(stored.ModifiedAt) {
		a.outcome = outcomeSkipped
		a.st.to(StateLogging)
		return a.finish(ctx, tx, ledger.OpSkip, ledger.StatusSuccess, entity.DirectionKeapToMirror, nil)
	}

	res := conflict.Detect(a.incoming, stored, baseline)
	if res.Clean {
		return a.clean(ctx, tx, stored, baseline, res, now)
	}
	return a.conflicted(ctx, tx, stored, res, now)
}

func (a *apply) clean(ctx context.Context, tx EntityTx, stored *entity.MirrorEntity, baseline *entity.Snapshot, res conflict.Result, now time.Time) error {
	var pending *conflict.Record
	if stored.ConflictStatus == entity.ConflictPending {
		var err error
		if pending, err = tx.PendingConflict(ctx, stored.Key()); err != nil {
			return fmt.Errorf("get pending conflict: %w", err)
		}
	}

	changes := res.Merged.Diff(stored.Fields)
	if len(changes) == 0 && pending == nil {
		if baseline == nil || len(a.incoming.Fields.Diff(baseline.Fields)) > 0 {
			if err := tx.SaveSnapshot(ctx, entity.SnapshotOf(a.incoming, now)); err != nil {
				return fmt.Errorf("save snapshot: %w", err)
			}
		}
		a.outcome = outcomeUnchanged
		a.st.to(StateLogging)
		return a.finish(ctx, tx, ledger.OpUnchanged, ledger.StatusSuccess, entity.DirectionKeapToMirror, nil)
	}

	a.op = ledger.OpUpdate
	a.st.to(StateApplying)
	row := stored.Clone()
	row.Fields = res.Merged
	row.ModifiedAt = a.incoming.ModifiedAt
	row.UpdatedAt = now
	row.LastSyncedAt = now
	row.SyncDirection = entity.DirectionKeapToMirror
	if pending != nil {
		// стороны сошлись сами: конфликт закрывается без стратегии
		pending.MarkResolved("", res.Merged, now)
		if err := tx.UpdateConflict(ctx, pending); err != nil {
			return fmt.Errorf("close converged conflict: %w", err)
		}
		row.ConflictStatus = entity.ConflictResolved
	}
	if err := tx.Upsert(ctx, row); err != nil {
		return fmt.Errorf("update mirror row: %w", err)
	}
	if err := tx.SaveSnapshot(ctx, entity.SnapshotOf(a.incoming, now)); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	a.outcome = outcomeApplied
	return a.finish(ctx, tx, ledger.OpUpdate, ledger.StatusSuccess, entity.DirectionKeapToMirror, changes)
}

func (a *apply) conflicted(ctx context.Context, tx EntityTx, stored *entity.MirrorEntity, res conflict.Result, now time.Time) error {
	key := stored.Key()
	pending, err := tx.PendingConflict(ctx, key)
	if err != nil {
		return fmt.Errorf("get pending conflict: %w", err)
	}

	policy := a.r.policies.PolicyFor(key.Type)
	merged, unresolved := conflict.Resolve(res, policy.Strategy(stored, a.incoming))

	rec := pending
	if rec == nil {
		rec = conflict.NewRecord(a.incoming, stored, res, a.runID, now)
	} else {
		rec.Refresh(a.incoming, stored, res, a.runID)
	}
	save := tx.UpdateConflict
	if pending == nil {
		save = tx.InsertConflict
	}

	if len(unresolved) > 0 {
		a.op = ledger.OpConflict
		a.st.to(StateConflicted)
		if err := save(ctx, rec); err != nil {
			return fmt.Errorf("save conflict: %w", err)
		}
		if stored.ConflictStatus != entity.ConflictPending {
			row := stored.Clone()
			row.ConflictStatus = entity.ConflictPending
			if err := tx.Upsert(ctx, row); err != nil {
				return fmt.Errorf("mark row conflicted: %w", err)
			}
		}
		a.outcome = outcomeConflicted
		return a.finish(ctx, tx, ledger.OpConflict, ledger.StatusConflict, entity.DirectionKeapToMirror, res.ConflictFields())
	}

	// политика разрешила все поля: применяем, запись конфликта остается для аудита
	a.op = ledger.OpResolve
	a.st.to(StateApplying)
	resolution := entity.Fields{}
	for _, c := range res.Conflicts {
		resolution[c.Field] = merged[c.Field]
	}
	rec.MarkResolved(policy, resolution, now)
	if err := save(ctx, rec); err != nil {
		return fmt.Errorf("save resolved conflict: %w", err)
	}

	row := stored.Clone()
	row.Fields = merged
	row.ModifiedAt = a.incoming.ModifiedAt
	row.UpdatedAt = now
	row.LastSyncedAt = now
	row.SyncDirection = entity.DirectionBidirectional
	row.ConflictStatus = entity.ConflictResolved
	if err := tx.Upsert(ctx, row); err != nil {
		return fmt.Errorf("update mirror row: %w", err)
	}
	if err := tx.SaveSnapshot(ctx, entity.SnapshotOf(a.incoming, now)); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	a.outcome = outcomeResolved
	return a.finish(ctx, tx, ledger.OpResolve, ledger.StatusSuccess, entity.DirectionBidirectional, merged.Diff(stored.Fields))
}

// finish пишет запись журнала в той же транзакции
func (a *apply) finish(ctx context.Context, tx EntityTx, op ledger.Operation, status ledger.Status, dir entity.Direction, changes []string) error {
	a.st.to(StateLogging)
	entry := newEntry(a.runID, a.incoming.Key(), op, status, dir)
	entry.Changes = changes
	entry.DurationMS = time.Since(a.started).Milliseconds()
	a.entry = entry
	return a.r.ledger.Record(ctx, tx, entry)
}

// ResolveConflict применяет выбранные значения; поля без выбора получают значение из CRM
func (r *Reconciler) ResolveConflict(ctx context.Context, id string, chosen entity.Fields) (*conflict.Record, error) {
	rec, err := r.conflicts.GetConflict(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status == conflict.StatusResolved {
		return nil, conflict.ErrAlreadyResolved
	}
	known := make(map[string]struct{}, len(rec.Fields))
	for _, f := range rec.FieldNames() {
		known[f] = struct{}{}
	}
	for f := range chosen {
		if _, ok := known[f]; !ok {
			return nil, fmt.Errorf("%w: %s", conflict.ErrUnknownField, f)
		}
	}

	key := rec.Key()
	unlock := r.locks.Lock(key)
	defer unlock()

	started := r.now()
	var (
		entry    *ledger.Entry
		resolved *conflict.Record
	)
	err = r.store.WithinEntity(context.WithoutCancel(ctx), key, func(ctx context.Context, tx EntityTx) error {
		current, err := tx.GetConflict(ctx, id)
		if err != nil {
			return fmt.Errorf("get conflict: %w", err)
		}
		if current == nil {
			return conflict.ErrNotFound
		}
		if current.Status == conflict.StatusResolved {
			return conflict.ErrAlreadyResolved
		}
		stored, err := tx.GetByExternalID(ctx, key)
		if err != nil {
			return fmt.Errorf("get mirror row: %w", err)
		}
		if stored == nil {
			return ErrEntityNotMapped
		}
		baseline, err := tx.GetSnapshot(ctx, key)
		if err != nil {
			return fmt.Errorf("get snapshot: %w", err)
		}

		incoming := &entity.MirrorEntity{
			Type:       key.Type,
			KeapID:     key.KeapID,
			Fields:     current.RemoteData,
			ModifiedAt: current.RemoteAt,
		}
		resolution := entity.Fields{}
		for _, c := range current.Fields {
			if v, ok := chosen[c.Field]; ok {
				resolution[c.Field] = v
			} else {
				resolution[c.Field] = c.Remote
			}
		}
		merged, _ := conflict.Resolve(conflict.Detect(incoming, stored, baseline), func(field string, _, remote, _ any) (any, bool) {
			if v, ok := resolution[field]; ok {
				return v, true
			}
			return remote, true
		})

		now := r.now().UTC()
		row := stored.Clone()
		row.Fields = merged
		if incoming.ModifiedAt.After(row.ModifiedAt) {
			row.ModifiedAt = incoming.ModifiedAt
		}
		row.UpdatedAt = now
		row.LastSyncedAt = now
		row.SyncDirection = entity.DirectionBidirectional
		row.ConflictStatus = entity.ConflictResolved
		if err := tx.Upsert(ctx, row); err != nil {
			return fmt.Errorf("update mirror row: %w", err)
		}
		if err := tx.SaveSnapshot(ctx, entity.SnapshotOf(incoming, now)); err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}

		current.MarkResolved(conflict.PolicyManual, resolution, now)
		if err := tx.UpdateConflict(ctx, current); err != nil {
			return fmt.Errorf("update conflict: %w", err)
		}

		entry = newEntry(current.RunID, key, ledger.OpResolve, ledger.StatusSuccess, entity.DirectionBidirectional)
		entry.Changes = current.FieldNames()
		entry.DurationMS = time.Since(started).Milliseconds()
		resolved = current
		return r.ledger.Record(ctx, tx, entry)
	})
	if err != nil {
		switch {
		case errors.Is(err, conflict.ErrNotFound),
			errors.Is(err, conflict.ErrAlreadyResolved),
			errors.Is(err, ErrEntityNotMapped),
			errors.Is(err, ledger.ErrLedgerWrite):
			return nil, err
		}
		return nil, &StoreWriteError{Key: key, Err: err}
	}

	r.ledger.Publish(*entry)
	r.log.Info("Conflict resolved", "conflict_id", id, "entity_type", key.Type, "keap_id", key.KeapID)
	return resolved, nil
}

func newEntry(runID string, key entity.Key, op ledger.Operation, status ledger.Status, dir entity.Direction) *ledger.Entry {
	return &ledger.Entry{
		RunID:      runID,
		EntityType: key.Type,
		KeapID:     key.KeapID,
		Direction:  dir,
		Operation:  op,
		Status:     status,
		Processed:  1,
	}
}

// tracker ведет состояние обработки одной сущности
type tracker struct {
	state State
	log   *slog.Logger
}

func (t *tracker) to(s State) {
	if t.state == s {
		return
	}
	if !CanTransition(t.state, s) {
		t.log.Warn("Unexpected state transition", "from", t.state, "to", s)
	}
	t.state = s
}
