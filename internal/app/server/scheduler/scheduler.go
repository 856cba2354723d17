package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"keapsync/internal/domain/entity"
	"keapsync/internal/domain/sync"
)

// CursorName имя курсора пакетных запусков планировщика
const CursorName = "scheduler"

// cursorOverlap сдвигает since назад, чтобы не потерять правки, пришедшие во время запуска
const cursorOverlap = time.Minute

// Runner выполняет пакетный запуск
type Runner interface {
	Run(ctx context.Context, req sync.RunRequest) (*sync.RunSummary, error)
}

// Pruner чистит журнал старше срока хранения
type Pruner interface {
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

// Config параметры планировщика
type Config struct {
	Interval  time.Duration
	Types     []entity.Type
	Retention time.Duration
}

// Scheduler периодически запускает инкрементальную синхронизацию
type Scheduler struct {
	runner  Runner
	cursors sync.CursorStore
	pruner  Pruner
	cfg     Config
	log     *slog.Logger

	now   func() time.Time
	newID func() string
}

func New(runner Runner, cursors sync.CursorStore, pruner Pruner, cfg Config, log *slog.Logger) *Scheduler {
	return &Scheduler{
		runner:  runner,
		cursors: cursors,
		pruner:  pruner,
		cfg:     cfg,
		log:     log.With("component", "scheduler"),
		now:     time.Now,
		newID:   func() string { return uuid.Must(uuid.NewV7()).String() },
	}
}

// Start выполняет первый запуск сразу, затем по тикеру; блокируется до отмены ctx
func (s *Scheduler) Start(ctx context.Context) {
	if s.cfg.Interval <= 0 {
		s.log.Info("Scheduler disabled")
		return
	}

	s.log.Info("Scheduler started", "interval", s.cfg.Interval)

	s.tick(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		s.log.Error("Scheduled run failed", "error", err)
	}
	if s.pruner != nil && s.cfg.Retention > 0 {
		if _, err := s.pruner.Prune(ctx, s.cfg.Retention); err != nil {
			s.log.Warn("Failed to prune ledger", "error", err)
		}
	}
}

// RunOnce выполняет один запуск: полный без курсора, иначе инкрементальный с since = курсор.
// Курсор сдвигается только после полного запуска. Если уже идет другой запуск, возвращает nil, nil.
func (s *Scheduler) RunOnce(ctx context.Context) (*sync.RunSummary, error) {
	since, err := s.cursors.GetCursor(ctx, CursorName)
	if err != nil {
		return nil, fmt.Errorf("failed to read cursor: %w", err)
	}

	req := sync.RunRequest{
		RunID: s.newID(),
		Mode:  sync.ModeFull,
		Types: s.cfg.Types,
	}
	if since != nil {
		req.Mode = sync.ModeIncremental
		req.Since = since
	}

	startedAt := s.now()
	summary, err := s.runner.Run(ctx, req)
	if errors.Is(err, sync.ErrRunInProgress) {
		s.log.Info("Run already in progress, tick skipped")
		return nil, nil
	}
	if err != nil {
		return summary, err
	}

	if !summary.Complete() {
		s.log.Warn("Run incomplete, cursor kept",
			"run_id", summary.RunID,
			"pages_failed", summary.PagesFailed,
			"cancelled", summary.Cancelled)
		return summary, nil
	}

	next := startedAt.Add(-cursorOverlap).UTC()
	if err := s.cursors.SetCursor(ctx, CursorName, next); err != nil {
		return summary, fmt.Errorf("failed to save cursor: %w", err)
	}

	s.log.Info("Scheduled run finished",
		"run_id", summary.RunID,
		"mode", req.Mode,
		"applied", summary.Applied,
		"conflicted", summary.Conflicted,
		"errored", summary.Errored,
		"cursor", next)
	return summary, nil
}
