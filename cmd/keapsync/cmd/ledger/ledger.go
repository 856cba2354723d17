package ledger

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"keapsync/internal/app/cli"
	"keapsync/internal/domain/entity"
	domainledger "keapsync/internal/domain/ledger"
)

var (
	statsWindow int

	recentLimit  int
	recentType   string
	recentKeapID string
	recentStatus string
	recentRunID  string

	pruneDays int
)

// LedgerCmd - родительская команда журнала синхронизации
var LedgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Журнал синхронизации",
	Long:  `Статистика, последние записи и очистка журнала операций.`,
}

var StatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Успешность и объем операций",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := open(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		resp, err := app.Core.Journal.Stats(cmd.Context(), domainledger.StatsRequest{WindowHours: statsWindow})
		if err != nil {
			return fmt.Errorf("ошибка получения статистики: %w", err)
		}
		return app.Out.Stats(resp)
	},
}

var RecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Последние записи журнала",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := open(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		req := domainledger.EntriesRequest{
			Limit:  recentLimit,
			KeapID: recentKeapID,
			Status: domainledger.Status(recentStatus),
			RunID:  recentRunID,
		}
		if recentType != "" {
			if req.EntityType, err = entity.ParseType(recentType); err != nil {
				return err
			}
		}

		resp, err := app.Core.Journal.Entries(cmd.Context(), req)
		if err != nil {
			return fmt.Errorf("ошибка чтения журнала: %w", err)
		}
		return app.Out.Entries(resp.Entries)
	},
}

var PruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Удалить старые записи журнала",
	Long:  `Удаляет записи старше срока хранения (по умолчанию ledger_retention_days).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := open(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		days := pruneDays
		if days <= 0 {
			days = app.Config.Ledger.RetentionDays
		}
		retention := time.Duration(days) * 24 * time.Hour

		n, err := app.Core.Ledger.Prune(cmd.Context(), retention)
		if err != nil {
			return fmt.Errorf("ошибка очистки журнала: %w", err)
		}
		return app.Out.Pruned(n, retention)
	},
}

func open(cmd *cobra.Command) (*cli.App, error) {
	env, err := cli.EnvFrom(cmd.Context())
	if err != nil {
		return nil, err
	}
	app, err := env.Open(cmd.Context())
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия хранилища: %w", err)
	}
	return app, nil
}

func init() {
	StatsCmd.Flags().IntVarP(&statsWindow, "window", "w", 24, "окно в часах")

	RecentCmd.Flags().IntVarP(&recentLimit, "limit", "n", 20, "количество записей")
	RecentCmd.Flags().StringVarP(&recentType, "type", "t", "", "фильтр по типу сущности")
	RecentCmd.Flags().StringVar(&recentKeapID, "keap-id", "", "фильтр по идентификатору Keap")
	RecentCmd.Flags().StringVarP(&recentStatus, "status", "s", "", "success, error или conflict")
	RecentCmd.Flags().StringVar(&recentRunID, "run", "", "фильтр по запуску")

	PruneCmd.Flags().IntVar(&pruneDays, "days", 0, "срок хранения в днях")

	LedgerCmd.AddCommand(StatsCmd)
	LedgerCmd.AddCommand(RecentCmd)
	LedgerCmd.AddCommand(PruneCmd)
}
