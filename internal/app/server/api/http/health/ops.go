package health

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func (h *Handler) healthCheckOp() huma.Operation {
	return huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/v1/health",
		Summary:     "Health check endpoint",
		Description: "Reports service status, mirror store reachability and whether a sync run is in progress",
		Tags:        []string{"health"},
		Middlewares: h.middleware,
	}
}
