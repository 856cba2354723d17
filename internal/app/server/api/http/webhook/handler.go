package webhook

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"

	"keapsync/internal/domain/sync"
	"keapsync/internal/infrastructure/keap"
)

type Handler struct {
	service    sync.Servicer
	secret     string
	log        *slog.Logger
	middleware huma.Middlewares
}

func NewHandler(service sync.Servicer, secret string, log *slog.Logger, middleware huma.Middlewares) *Handler {
	return &Handler{
		service:    service,
		secret:     secret,
		log:        log.With("component", "webhook_handler"),
		middleware: middleware,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.receiveOp(), h.receive)
}

// handshake отвечает на проверку при регистрации REST Hook: Keap присылает X-Hook-Secret
// без подписи и пустое тело и ждет тот же заголовок в ответе.
// Срабатывает до чтения тела, которое huma для RawBody считает обязательным.
func (h *Handler) handshake(ctx huma.Context, next func(huma.Context)) {
	secret := ctx.Header("X-Hook-Secret")
	if secret == "" || ctx.Header("X-Hook-Signature") != "" || ctx.Header("X-Keap-Signature") != "" {
		next(ctx)
		return
	}

	h.log.Info("REST hook verification handshake")
	ctx.SetHeader("X-Hook-Secret", secret)
	ctx.SetHeader("Content-Type", "application/json")
	ctx.SetStatus(http.StatusOK)
	if err := json.NewEncoder(ctx.BodyWriter()).Encode(sync.WebhookResponse{Status: "Ok"}); err != nil {
		h.log.Warn("Failed to write handshake response", "error", err)
	}
}

func (h *Handler) receive(ctx context.Context, input *receiveInput) (*receiveOutput, error) {
	signature := input.Signature
	if signature == "" {
		signature = input.LegacySignature
	}
	if err := keap.VerifySignature(input.RawBody, h.secret, signature); err != nil {
		h.log.Warn("Rejected webhook delivery", "error", err)
		return nil, huma.Error401Unauthorized("invalid webhook signature")
	}

	events, err := keap.ParseWebhook(input.RawBody)
	if err != nil {
		h.log.Warn("Malformed webhook delivery", "error", err)
		return nil, huma.Error400BadRequest(err.Error())
	}

	response, err := h.service.HandleWebhook(ctx, events)
	if err != nil {
		h.log.Error("Webhook delivery failed", "events", len(events), "error", err)
		// 5xx заставит Keap доставить событие повторно
		return nil, huma.Error500InternalServerError("webhook processing failed", err)
	}

	return &receiveOutput{
		Body: *response,
	}, nil
}
