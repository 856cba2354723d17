package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/exp/slog"
	"golang.org/x/sync/errgroup"

	"keapsync/internal/app/server/api"
	"keapsync/internal/app/server/config"
	"keapsync/internal/app/server/scheduler"
	"keapsync/internal/domain/conflict"
	"keapsync/internal/domain/entity"
	"keapsync/internal/domain/ledger"
	"keapsync/internal/domain/sync"
	"keapsync/internal/infrastructure/keap"
	"keapsync/internal/infrastructure/storage"
	"keapsync/internal/infrastructure/storage/postgres"
	"keapsync/internal/infrastructure/storage/sqlite"
)

const shutdownTimeout = 30 * time.Second

// OpenStorage применяет миграции и открывает хранилище по store_driver
func OpenStorage(ctx context.Context, cfg *config.Config, log *slog.Logger) (storage.Storage, error) {
	switch cfg.DB.Driver {
	case config.DriverPostgres:
		return postgres.New(ctx, cfg, log)
	case config.DriverSQLite:
		return sqlite.New(cfg, log)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.DB.Driver)
	}
}

// Core граф доменных сервисов поверх открытого хранилища; общий для сервера и CLI
type Core struct {
	Store      storage.Storage
	Ledger     *ledger.Ledger
	Reconciler *sync.Reconciler
	Sync       *sync.Service
	Conflicts  *conflict.Service
	Journal    *ledger.Service
	Types      []entity.Type
}

// NewCore собирает сервисы поверх store
func NewCore(cfg *config.Config, store storage.Storage, log *slog.Logger) (*Core, error) {
	types, err := cfg.EntityTypes()
	if err != nil {
		return nil, err
	}

	mapper, err := entity.NewMapper(entity.WithActiveClientTags(cfg.Sync.ActiveClientTags...))
	if err != nil {
		return nil, fmt.Errorf("failed to build mapper: %w", err)
	}

	crm := keap.NewClient(keap.Options{
		BaseURL:     cfg.Keap.BaseURL,
		AccessToken: cfg.Keap.AccessToken,
		Timeout:     cfg.Keap.Timeout,
		MaxRetries:  cfg.Keap.MaxRetries,
	}, log)

	l := ledger.New(store, log)
	rec := sync.NewReconciler(store, crm, mapper, l, store, sync.Options{
		Workers:  cfg.Sync.Workers,
		PageSize: cfg.Keap.PageSize,
		Policies: cfg.Policies,
	}, log)

	pending := func(ctx context.Context) (int, error) {
		return store.CountConflicts(ctx, conflict.StatusPending)
	}

	return &Core{
		Store:      store,
		Ledger:     l,
		Reconciler: rec,
		Sync:       sync.NewService(rec, log),
		Conflicts:  conflict.NewService(store, log),
		Journal:    ledger.NewService(l, pending, log),
		Types:      types,
	}, nil
}

// Close дожидается фоновых запусков и закрывает хранилище
func (c *Core) Close(ctx context.Context) error {
	shutdownErr := c.Sync.Shutdown(ctx)
	return errors.Join(shutdownErr, c.Store.Close())
}

// App HTTP-сервер, планировщик и доменные сервисы одного процесса
type App struct {
	cfg       *config.Config
	log       *slog.Logger
	core      *Core
	http      *http.Server
	scheduler *scheduler.Scheduler
}

func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	store, err := OpenStorage(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	core, err := NewCore(cfg, store, log)
	if err != nil {
		store.Close()
		return nil, err
	}

	router := api.New(cfg, api.Services{
		Sync:      core.Sync,
		Conflicts: core.Conflicts,
		Ledger:    core.Journal,
		Feed:      core.Ledger,
		DB:        store,
		Running:   core.Sync.Running,
	}, log)

	sched := scheduler.New(core.Sync, store, core.Ledger, scheduler.Config{
		Interval:  cfg.Sync.Interval,
		Types:     core.Types,
		Retention: time.Duration(cfg.Ledger.RetentionDays) * 24 * time.Hour,
	}, log)

	return &App{
		cfg:  cfg,
		log:  log,
		core: core,
		http: &http.Server{
			Addr:              cfg.Server.RunAddress,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		scheduler: sched,
	}, nil
}

// Run обслуживает HTTP и планировщик до отмены ctx, затем корректно останавливается
func (a *App) Run(ctx context.Context) error {
	a.cfg.WatchPolicies(a.log)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("Starting server", "address", a.http.Addr, "store", a.cfg.DB.Driver)
		if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		a.scheduler.Start(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()

		httpErr := a.http.Shutdown(shutdownCtx)
		return errors.Join(httpErr, a.core.Close(shutdownCtx))
	})

	return g.Wait()
}
