// GET  /api/v1/health                           # Состояние сервиса (публичный)
// POST /api/v1/sync/runs                        # Запустить синхронизацию (auth)
// POST /api/v1/sync/entities/{type}/{keapId}    # Синхронизировать одну сущность (auth)
// GET  /api/v1/sync/conflicts                   # Список конфликтов (auth)
// GET  /api/v1/sync/conflicts/{id}              # Конфликт (auth)
// POST /api/v1/sync/conflicts/{id}/resolve      # Разрешить конфликт (auth)
// GET  /api/v1/ledger/stats                     # Статистика журнала (auth)
// GET  /api/v1/ledger/entries                   # Последние записи журнала (auth)
// GET  /api/v1/ledger/feed                      # Websocket-лента журнала (auth)
// POST /api/v1/keap/webhook                     # Вебхуки Keap (подпись HMAC)

package api

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"golang.org/x/exp/slog"

	"keapsync/internal/app/server/api/http/feed"
	healthAPI "keapsync/internal/app/server/api/http/health"
	ledgerAPI "keapsync/internal/app/server/api/http/ledger"
	"keapsync/internal/app/server/api/http/middleware"
	"keapsync/internal/app/server/api/http/middleware/auth"
	"keapsync/internal/app/server/api/http/middleware/logger"
	syncAPI "keapsync/internal/app/server/api/http/sync"
	webhookAPI "keapsync/internal/app/server/api/http/webhook"
	"keapsync/internal/app/server/config"
	"keapsync/internal/domain/conflict"
	"keapsync/internal/domain/ledger"
	"keapsync/internal/domain/sync"
)

// Services доменные сервисы, которые обслуживает HTTP-слой
type Services struct {
	Sync      sync.Servicer
	Conflicts conflict.Servicer
	Ledger    ledger.Servicer
	Feed      feed.Subscriber
	DB        healthAPI.Pinger
	Running   func() bool
}

type Handlers struct {
	Health  *healthAPI.Handler
	Sync    *syncAPI.Handler
	Ledger  *ledgerAPI.Handler
	Webhook *webhookAPI.Handler
}

// New создает *chi.Mux со всеми операциями через huma.Register и websocket-лентой журнала
func New(cfg *config.Config, svc Services, log *slog.Logger) *chi.Mux {
	mux := chi.NewMux()

	humaConfig := huma.DefaultConfig("Keap Sync API", "1.0.0")
	humaConfig.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearer": {Type: "http", Scheme: "bearer"},
	}

	API := humachi.New(mux, humaConfig)

	authMW := auth.New(cfg.Server.APITokenHash, log)
	loggerMW := logger.New(log)

	h := handlers(cfg, svc, authMW, loggerMW, log)
	h.Health.SetupRoutes(API)
	h.Sync.SetupRoutes(API)
	h.Ledger.SetupRoutes(API)
	h.Webhook.SetupRoutes(API)

	if svc.Feed != nil {
		mux.Method("GET", feed.Path, loggerMW.Wrap(authMW.Wrap(feed.NewHandler(svc.Feed, log))))
	}

	return mux
}

func handlers(cfg *config.Config, svc Services, authMW *auth.Auth, loggerMW *logger.Logger, log *slog.Logger) *Handlers {
	middlewares := middleware.NewContainer(loggerMW.Middleware()).RequireToken(authMW.Middleware())

	healthHandler := healthAPI.NewHandler(svc.DB, svc.Running, log, middlewares.Public())
	syncHandler := syncAPI.NewHandler(svc.Sync, svc.Conflicts, log, middlewares.Admin())
	ledgerHandler := ledgerAPI.NewHandler(svc.Ledger, log, middlewares.Admin())
	// вебхук аутентифицируется подписью, а не bearer-токеном
	webhookHandler := webhookAPI.NewHandler(svc.Sync, cfg.Keap.WebhookSecret, log, middlewares.Public())

	return &Handlers{
		Health:  healthHandler,
		Sync:    syncHandler,
		Ledger:  ledgerHandler,
		Webhook: webhookHandler,
	}
}
