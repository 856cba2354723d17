package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"keapsync/cmd/keapsync/cmd/conflicts"
	"keapsync/cmd/keapsync/cmd/ledger"
	"keapsync/cmd/keapsync/cmd/migrate"
	"keapsync/cmd/keapsync/cmd/sync"
	"keapsync/internal/app/cli"
	"keapsync/internal/app/server/config"
	"keapsync/internal/utils/logger"
)

var (
	cfgFile    string
	jsonOutput bool
	storeFlag  string
)

var rootCmd = &cobra.Command{
	Use:   "keapsync",
	Short: "keapsync - сверка Keap CRM с реляционным зеркалом",
	Long: `keapsync синхронизирует контакты, заказы, подписки и теги Keap CRM
с локальным зеркалом (PostgreSQL или SQLite), ведет журнал операций
и позволяет разбирать конфликты вручную.

Вывод в терминал печатается таблицами, в пайп - JSON.`,
	PersistentPreRunE: setupEnv,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func setupEnv(cmd *cobra.Command, _ []string) error {
	if storeFlag != "" {
		// флаг важнее .env и файла: viper читает окружение первым
		if err := os.Setenv("STORE_DRIVER", storeFlag); err != nil {
			return err
		}
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}

	env := &cli.Env{
		Config: cfg,
		Log:    logger.NewWriter(cfg.Env, os.Stderr),
		Out:    cli.NewPrinter(os.Stdout, jsonOutput),
	}
	cmd.SetContext(cli.WithEnv(cmd.Context(), env))
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "конфигурационный файл (yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "вывод в формате JSON")
	rootCmd.PersistentFlags().StringVar(&storeFlag, "store", "", "хранилище зеркала: postgres или sqlite")

	rootCmd.AddCommand(sync.SyncCmd)
	rootCmd.AddCommand(conflicts.ConflictsCmd)
	rootCmd.AddCommand(ledger.LedgerCmd)
	rootCmd.AddCommand(migrate.MigrateCmd)
}
