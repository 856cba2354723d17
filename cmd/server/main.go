package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"keapsync/internal/app/server"
	"keapsync/internal/app/server/config"
	"keapsync/internal/utils/logger"
)

func main() {
	var cfgFile string

	cmd := &cobra.Command{
		Use:           "keapsync-server",
		Short:         "Сервер синхронизации Keap CRM с зеркалом",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			log := logger.NewWithFile(cfg.Env, cfg.Logger.File)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := server.New(ctx, cfg, log)
			if err != nil {
				log.Error("Failed to start", "error", err)
				return err
			}
			if err := app.Run(ctx); err != nil {
				log.Error("Server stopped with error", "error", err)
				return err
			}
			log.Info("Server stopped")
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgFile, "config", "c", "", "путь к конфигурационному файлу (yaml)")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Stderr.WriteString("keapsync-server: " + err.Error() + "\n")
		os.Exit(1)
	}
}
