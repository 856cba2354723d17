package ledger

import (
	"context"
	"time"

	"golang.org/x/exp/slog"
)

// Servicer чтение журнала для API и CLI
type Servicer interface {
	// Stats возвращает долю успешных операций, разбивку по типам, тренд и число ожидающих конфликтов
	Stats(ctx context.Context, req StatsRequest) (*StatsResponse, error)

	// Entries возвращает последние записи по фильтру
	Entries(ctx context.Context, req EntriesRequest) (*EntriesResponse, error)
}

// PendingCounter считает ожидающие конфликты
type PendingCounter func(ctx context.Context) (int, error)

type Service struct {
	ledger  *Ledger
	pending PendingCounter
	log     *slog.Logger
}

func NewService(ledger *Ledger, pending PendingCounter, log *slog.Logger) *Service {
	return &Service{
		ledger:  ledger,
		pending: pending,
		log:     log.With("component", "ledger_service"),
	}
}

func (s *Service) Stats(ctx context.Context, req StatsRequest) (*StatsResponse, error) {
	if req.WindowHours <= 0 {
		req.WindowHours = 24
	}
	stats, err := s.ledger.Stats(ctx, time.Duration(req.WindowHours)*time.Hour)
	if err != nil {
		return nil, err
	}

	resp := &StatsResponse{Status: "Ok", Stats: stats}
	if s.pending != nil {
		n, err := s.pending(ctx)
		if err != nil {
			// статистика журнала полезна и без счетчика конфликтов
			s.log.Warn("Failed to count pending conflicts", "error", err)
		}
		resp.PendingConflicts = n
	}
	return resp, nil
}

func (s *Service) Entries(ctx context.Context, req EntriesRequest) (*EntriesResponse, error) {
	if req.EntityType != "" {
		if err := req.EntityType.Validate(); err != nil {
			return nil, err
		}
	}
	entries, err := s.ledger.Recent(ctx, req.Limit, Filter{
		EntityType: req.EntityType,
		KeapID:     req.KeapID,
		Status:     req.Status,
		RunID:      req.RunID,
	})
	if err != nil {
		return nil, err
	}
	return &EntriesResponse{Status: "Ok", Entries: entries}, nil
}
