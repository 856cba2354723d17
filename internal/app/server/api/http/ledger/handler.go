package ledger

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"

	"keapsync/internal/domain/entity"
	"keapsync/internal/domain/ledger"
)

type Handler struct {
	service    ledger.Servicer
	log        *slog.Logger
	middleware huma.Middlewares
}

func NewHandler(service ledger.Servicer, log *slog.Logger, middleware huma.Middlewares) *Handler {
	return &Handler{
		service:    service,
		log:        log,
		middleware: middleware,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.statsOp(), h.stats)
	huma.Register(api, h.entriesOp(), h.entries)
}

func (h *Handler) stats(ctx context.Context, input *statsInput) (*statsOutput, error) {
	response, err := h.service.Stats(ctx, ledger.StatsRequest{WindowHours: input.WindowHours})
	if err != nil {
		return &statsOutput{
			Body: ledger.StatsResponse{
				Status: "Error",
				Error:  err.Error(),
			},
		}, nil
	}

	return &statsOutput{
		Body: *response,
	}, nil
}

func (h *Handler) entries(ctx context.Context, input *entriesInput) (*entriesOutput, error) {
	req := ledger.EntriesRequest{
		Limit:  input.Limit,
		KeapID: input.KeapID,
		Status: input.Status,
		RunID:  input.RunID,
	}
	if input.EntityType != "" {
		t, err := entity.ParseType(input.EntityType)
		if err != nil {
			return &entriesOutput{
				Body: ledger.EntriesResponse{
					Status: "Error",
					Error:  err.Error(),
				},
			}, nil
		}
		req.EntityType = t
	}

	response, err := h.service.Entries(ctx, req)
	if err != nil {
		return &entriesOutput{
			Body: ledger.EntriesResponse{
				Status: "Error",
				Error:  err.Error(),
			},
		}, nil
	}

	return &entriesOutput{
		Body: *response,
	}, nil
}
