package logger

import (
	"io"
	"os"

	"golang.org/x/exp/slog"
	"gopkg.in/natefinch/lumberjack.v2"

	"keapsync/internal/app/server/config"
)

// New создает логгер для окружения: local: цветной вывод, dev: JSON/DEBUG, prod: JSON/INFO
func New(env string) *slog.Logger {
	return newLogger(env, os.Stdout)
}

// NewWithFile дублирует вывод в ротируемый файл, если path не пуст
func NewWithFile(env, path string) *slog.Logger {
	if path == "" {
		return New(env)
	}
	sink := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	}
	return newLogger(env, io.MultiWriter(os.Stdout, sink))
}

// NewWriter пишет в w; CLI отдает логи в stderr, оставляя stdout для вывода команд
func NewWriter(env string, w io.Writer) *slog.Logger {
	return newLogger(env, w)
}

func newLogger(env string, out io.Writer) *slog.Logger {
	switch env {
	case config.EnvLocal:
		return setupPrettySlog(out)
	case config.EnvDev:
		return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug}))
	default:
		return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
}

func setupPrettySlog(out io.Writer) *slog.Logger {
	return slog.New(newPrettyHandler(out, slog.LevelDebug))
}
