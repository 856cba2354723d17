package cli

import (
	"context"
	"errors"
	"time"

	"golang.org/x/exp/slog"

	"keapsync/internal/app/server"
	"keapsync/internal/app/server/config"
)

const closeTimeout = 30 * time.Second

var ErrNotInitialized = errors.New("cli environment is not initialized")

// Env окружение, которое корневая команда готовит для подкоманд
type Env struct {
	Config *config.Config
	Log    *slog.Logger
	Out    *Printer
}

type envKey struct{}

func WithEnv(ctx context.Context, env *Env) context.Context {
	return context.WithValue(ctx, envKey{}, env)
}

func EnvFrom(ctx context.Context) (*Env, error) {
	env, ok := ctx.Value(envKey{}).(*Env)
	if !ok || env == nil {
		return nil, ErrNotInitialized
	}
	return env, nil
}

// App открытое хранилище и доменные сервисы для одной команды
type App struct {
	*Env
	Core *server.Core
}

// Open применяет миграции, открывает хранилище и собирает сервисы
func (e *Env) Open(ctx context.Context) (*App, error) {
	store, err := server.OpenStorage(ctx, e.Config, e.Log)
	if err != nil {
		return nil, err
	}
	core, err := server.NewCore(e.Config, store, e.Log)
	if err != nil {
		store.Close()
		return nil, err
	}
	return &App{Env: e, Core: core}, nil
}

func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return a.Core.Close(ctx)
}
