package sync

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"

	"keapsync/internal/domain/conflict"
	"keapsync/internal/domain/entity"
	"keapsync/internal/domain/sync"
)

type Handler struct {
	service    sync.Servicer
	conflicts  conflict.Servicer
	log        *slog.Logger
	middleware huma.Middlewares
}

func NewHandler(service sync.Servicer, conflicts conflict.Servicer, log *slog.Logger, middleware huma.Middlewares) *Handler {
	return &Handler{
		service:    service,
		conflicts:  conflicts,
		log:        log.With("component", "sync_handler"),
		middleware: middleware,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.startRunOp(), h.startRun)
	huma.Register(api, h.syncEntityOp(), h.syncEntity)
	huma.Register(api, h.listConflictsOp(), h.listConflicts)
	huma.Register(api, h.getConflictOp(), h.getConflict)
	huma.Register(api, h.resolveConflictOp(), h.resolveConflict)
}

func (h *Handler) startRun(ctx context.Context, input *startRunInput) (*startRunOutput, error) {
	response, err := h.service.StartRun(ctx, input.Body)
	if err != nil {
		h.log.Warn("Failed to start sync run", "mode", input.Body.Mode, "error", err)
		return &startRunOutput{
			Body: sync.StartRunResponse{
				Status: "Error",
				Error:  err.Error(),
			},
		}, nil
	}

	return &startRunOutput{
		Body: *response,
	}, nil
}

func (h *Handler) syncEntity(ctx context.Context, input *syncEntityInput) (*syncEntityOutput, error) {
	t, err := entity.ParseType(input.Type)
	if err != nil {
		return &syncEntityOutput{
			Body: sync.SyncEntityResponse{
				Status: "Error",
				Error:  err.Error(),
			},
		}, nil
	}

	response, err := h.service.SyncEntity(ctx, t, input.KeapID)
	if err != nil {
		return &syncEntityOutput{
			Body: sync.SyncEntityResponse{
				Status: "Error",
				Error:  err.Error(),
			},
		}, nil
	}

	return &syncEntityOutput{
		Body: *response,
	}, nil
}

func (h *Handler) listConflicts(ctx context.Context, input *listConflictsInput) (*listConflictsOutput, error) {
	t, err := parseEntityType(input.EntityType)
	if err != nil {
		return &listConflictsOutput{
			Body: conflict.ListResponse{
				Status: "Error",
				Error:  err.Error(),
			},
		}, nil
	}

	response, err := h.conflicts.List(ctx, conflict.ListRequest{
		Status:     input.Status,
		EntityType: t,
		KeapID:     input.KeapID,
		Limit:      input.Limit,
		Offset:     input.Offset,
	})
	if err != nil {
		return &listConflictsOutput{
			Body: conflict.ListResponse{
				Status: "Error",
				Error:  err.Error(),
			},
		}, nil
	}

	return &listConflictsOutput{
		Body: *response,
	}, nil
}

func (h *Handler) getConflict(ctx context.Context, input *getConflictInput) (*getConflictOutput, error) {
	response, err := h.conflicts.Get(ctx, input.ID)
	if err != nil {
		return &getConflictOutput{
			Body: conflict.GetResponse{
				Status: "Error",
				Error:  err.Error(),
			},
		}, nil
	}

	return &getConflictOutput{
		Body: *response,
	}, nil
}

func (h *Handler) resolveConflict(ctx context.Context, input *resolveConflictInput) (*resolveConflictOutput, error) {
	response, err := h.service.ResolveConflict(ctx, input.ID, input.Body)
	if err != nil {
		h.log.Warn("Failed to resolve conflict", "conflict_id", input.ID, "error", err)
		return &resolveConflictOutput{
			Body: sync.ResolveConflictResponse{
				Status: "Error",
				Error:  err.Error(),
			},
		}, nil
	}

	return &resolveConflictOutput{
		Body: *response,
	}, nil
}
