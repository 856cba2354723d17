package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"keapsync/internal/domain/entity"
	"keapsync/internal/domain/source"
)

// Servicer интерфейс сервиса синхронизации для API, планировщика и CLI
type Servicer interface {
	// StartRun запускает пакетную синхронизацию; по умолчанию в фоне
	StartRun(ctx context.Context, req StartRunRequest) (*StartRunResponse, error)

	// Run выполняет пакетный запуск синхронно; одновременно допускается только один пакетный запуск
	Run(ctx context.Context, req RunRequest) (*RunSummary, error)

	// SyncEntity синхронизирует одну сущность по ее идентификатору в CRM
	SyncEntity(ctx context.Context, t entity.Type, keapID string) (*SyncEntityResponse, error)

	// HandleWebhook обрабатывает события одной доставки вебхука
	HandleWebhook(ctx context.Context, events []source.Event) (*WebhookResponse, error)

	// ResolveConflict применяет ручное решение конфликта
	ResolveConflict(ctx context.Context, id string, req ResolveConflictRequest) (*ResolveConflictResponse, error)
}

// Service реализация сервиса синхронизации
type Service struct {
	rec     *Reconciler
	log     *slog.Logger
	running atomic.Bool

	// фоновые запуски живут дольше запроса, но завершаются вместе с сервисом
	bg     context.Context
	cancel context.CancelFunc
	wg     gosync.WaitGroup
}

// NewService создает новый сервис синхронизации
func NewService(rec *Reconciler, log *slog.Logger) *Service {
	bg, cancel := context.WithCancel(context.Background())
	return &Service{
		rec:    rec,
		log:    log.With("component", "sync_service"),
		bg:     bg,
		cancel: cancel,
	}
}

func (s *Service) Run(ctx context.Context, req RunRequest) (*RunSummary, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer s.running.Store(false)
	return s.rec.Run(ctx, req)
}

// Running сообщает, идет ли сейчас пакетный запуск
func (s *Service) Running() bool {
	return s.running.Load()
}

func (s *Service) StartRun(ctx context.Context, req StartRunRequest) (*StartRunResponse, error) {
	runReq, err := s.buildRequest(req)
	if err != nil {
		return nil, err
	}

	if req.Wait {
		summary, err := s.Run(ctx, runReq)
		if err != nil {
			if summary == nil {
				return nil, err
			}
			return &StartRunResponse{Status: "Error", Error: err.Error(), RunID: summary.RunID, Summary: summary}, nil
		}
		return &StartRunResponse{Status: "Ok", RunID: summary.RunID, Summary: summary}, nil
	}

	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		if _, err := s.rec.Run(s.bg, runReq); err != nil {
			s.log.Warn("Background run finished with error", "run_id", runReq.RunID, "error", err)
		}
	}()

	return &StartRunResponse{Status: "Ok", RunID: runReq.RunID}, nil
}

func (s *Service) buildRequest(req StartRunRequest) (RunRequest, error) {
	mode := req.Mode
	if mode == "" {
		mode = ModeIncremental
	}
	if mode == ModeSingleEntity {
		return RunRequest{}, fmt.Errorf("%w: use the entity endpoint for single entity sync", ErrInvalidRun)
	}
	types, err := entity.ParseTypes(req.Types)
	if err != nil {
		return RunRequest{}, fmt.Errorf("%w: %v", ErrInvalidRun, err)
	}
	runReq := RunRequest{
		RunID: uuid.Must(uuid.NewV7()).String(),
		Mode:  mode,
		Types: types,
		Since: req.Since,
	}
	if err := runReq.validate(); err != nil {
		return RunRequest{}, err
	}
	return runReq, nil
}

func (s *Service) SyncEntity(ctx context.Context, t entity.Type, keapID string) (*SyncEntityResponse, error) {
	summary, err := s.rec.RunEntity(ctx, t, keapID)
	if err != nil {
		if summary == nil {
			return nil, err
		}
		return &SyncEntityResponse{Status: "Error", Error: err.Error(), Summary: summary}, nil
	}
	if summary.Errored > 0 {
		return &SyncEntityResponse{Status: "Error", Error: "entity sync failed, see ledger", Summary: summary}, nil
	}
	return &SyncEntityResponse{Status: "Ok", Summary: summary}, nil
}

func (s *Service) HandleWebhook(ctx context.Context, events []source.Event) (*WebhookResponse, error) {
	resp := &WebhookResponse{Status: "Ok", Received: len(events)}
	var retry []error
	for _, ev := range events {
		if ev.Type == "" {
			if err := s.rec.RecordSkipped(ctx, "", "", "unsupported event "+ev.Key); err != nil {
				return nil, err
			}
			resp.Skipped++
			continue
		}

		summary, err := s.rec.HandleEvent(ctx, ev)
		if summary != nil {
			resp.Applied += summary.Applied
			resp.Unchanged += summary.Unchanged
			resp.Conflicts += summary.Conflicted
			resp.Skipped += summary.Skipped
			resp.Errored += summary.Errored
			if summary.Retryable > 0 {
				retry = append(retry, fmt.Errorf("%w: %s %s", ErrRetryLater, ev.Key, ev.KeapID))
			}
		}
		if err != nil {
			if errors.Is(err, ErrInvalidRun) {
				s.log.Warn("Invalid webhook event", "event", ev.Key, "keap_id", ev.KeapID, "error", err)
				resp.Errored++
				continue
			}
			// без следа в журнале доставку нельзя подтверждать: Keap доставит ее повторно
			return nil, err
		}
	}
	// подтверждать доставку нельзя, пока хотя бы одно событие можно повторить;
	// остальные события уже применены и повтор для них безопасен
	if len(retry) > 0 {
		s.log.Warn("Webhook delivery needs redelivery", "events", len(events), "retryable", len(retry))
		return nil, errors.Join(retry...)
	}
	if resp.Errored > 0 {
		resp.Status = "Error"
		resp.Error = fmt.Sprintf("%d event(s) failed", resp.Errored)
	}
	return resp, nil
}

func (s *Service) ResolveConflict(ctx context.Context, id string, req ResolveConflictRequest) (*ResolveConflictResponse, error) {
	rec, err := s.rec.ResolveConflict(ctx, id, req.Values)
	if err != nil {
		return nil, err
	}
	return &ResolveConflictResponse{Status: "Ok", Conflict: rec}, nil
}

// Shutdown отменяет фоновые запуски и ждет их завершения
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
