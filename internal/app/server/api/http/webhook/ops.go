package webhook

import (
	"net/http"
	"slices"

	"github.com/danielgtaylor/huma/v2"
)

func (h *Handler) receiveOp() huma.Operation {
	return huma.Operation{
		OperationID: "keap-webhook",
		Method:      http.MethodPost,
		Path:        "/api/v1/keap/webhook",
		Summary:     "Прием вебхуков Keap",
		Description: "Проверяет подпись доставки и синхронизирует каждую упомянутую сущность",
		Tags:        []string{"webhook"},
		Middlewares: append(slices.Clone(h.middleware), h.handshake),
	}
}
