package health

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"
)

// Pinger проверяет доступность хранилища зеркала
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	db         Pinger
	running    func() bool
	log        *slog.Logger
	middleware huma.Middlewares
}

func NewHandler(db Pinger, running func() bool, log *slog.Logger, middleware huma.Middlewares) *Handler {
	return &Handler{
		db:         db,
		running:    running,
		log:        log,
		middleware: middleware,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.healthCheckOp(), h.healthCheck)
}

func (h *Handler) healthCheck(ctx context.Context, _ *Input) (*Output, error) {
	h.log.Debug("health check request received")

	resp := Response{Status: "OK", Database: "ok"}
	if h.db != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := h.db.Ping(pingCtx); err != nil {
			h.log.Warn("Mirror store is unreachable", "error", err)
			resp.Status = "Degraded"
			resp.Database = "unavailable"
		}
	}
	if h.running != nil {
		resp.Running = h.running()
	}
	return &Output{Body: resp}, nil
}
