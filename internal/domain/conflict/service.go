package conflict

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/exp/slog"
)

// Servicer чтение конфликтов для API и CLI
type Servicer interface {
	// List возвращает конфликты по фильтру и число ожидающих
	List(ctx context.Context, req ListRequest) (*ListResponse, error)

	// Get возвращает конфликт по идентификатору
	Get(ctx context.Context, id string) (*GetResponse, error)
}

type Service struct {
	repo Repository
	log  *slog.Logger
}

func NewService(repo Repository, log *slog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With("component", "conflict_service"),
	}
}

func (s *Service) List(ctx context.Context, req ListRequest) (*ListResponse, error) {
	if req.Limit <= 0 {
		req.Limit = 50
	}
	if req.Status != "" && req.Status != StatusPending && req.Status != StatusResolved {
		return nil, fmt.Errorf("unknown conflict status %q", req.Status)
	}
	if req.EntityType != "" {
		if err := req.EntityType.Validate(); err != nil {
			return nil, err
		}
	}

	records, err := s.repo.ListConflicts(ctx, Filter{
		Status:     req.Status,
		EntityType: req.EntityType,
		KeapID:     req.KeapID,
		Limit:      req.Limit,
		Offset:     req.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}

	pending, err := s.repo.CountConflicts(ctx, StatusPending)
	if err != nil {
		s.log.Warn("Failed to count pending conflicts", "error", err)
	}

	return &ListResponse{
		Status:    "Ok",
		Conflicts: records,
		Pending:   pending,
	}, nil
}

func (s *Service) Get(ctx context.Context, id string) (*GetResponse, error) {
	rec, err := s.repo.GetConflict(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get conflict: %w", err)
	}
	return &GetResponse{Status: "Ok", Conflict: rec}, nil
}
