package sync

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"keapsync/internal/app/cli"
	"keapsync/internal/app/server/scheduler"
	"keapsync/internal/domain/entity"
	domainsync "keapsync/internal/domain/sync"
)

var (
	runFull  bool
	runSince string
	runTypes []string
)

// SyncCmd - родительская команда синхронизации
var SyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Синхронизация с Keap",
	Long:  `Пакетные запуски и синхронизация отдельных сущностей.`,
}

var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Пакетный запуск",
	Long: `Без флагов выполняет инкрементальный запуск от сохраненного курсора
(или полный, если курсора еще нет) и сдвигает курсор после успешного завершения.

--full и --since запускают синхронизацию явно, курсор при этом не меняется.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := cli.EnvFrom(cmd.Context())
		if err != nil {
			return err
		}

		lock, err := cli.AcquireRunLock(cli.LockPath(env.Config))
		if err != nil {
			if errors.Is(err, cli.ErrLocked) {
				return fmt.Errorf("синхронизация уже выполняется другим процессом")
			}
			return err
		}
		defer lock.Release()

		app, err := env.Open(cmd.Context())
		if err != nil {
			return fmt.Errorf("ошибка открытия хранилища: %w", err)
		}
		defer app.Close()

		types := app.Core.Types
		if len(runTypes) > 0 {
			if types, err = entity.ParseTypes(runTypes); err != nil {
				return err
			}
		}

		var summary *domainsync.RunSummary
		switch {
		case runFull || runSince != "":
			req := domainsync.RunRequest{
				RunID: uuid.Must(uuid.NewV7()).String(),
				Mode:  domainsync.ModeFull,
				Types: types,
			}
			if runSince != "" {
				since, err := time.Parse(time.RFC3339, runSince)
				if err != nil {
					return fmt.Errorf("неверный формат --since (нужен RFC3339): %w", err)
				}
				req.Mode = domainsync.ModeIncremental
				req.Since = &since
			}
			summary, err = app.Core.Sync.Run(cmd.Context(), req)
		default:
			sched := scheduler.New(app.Core.Sync, app.Core.Store, nil, scheduler.Config{Types: types}, env.Log)
			summary, err = sched.RunOnce(cmd.Context())
		}

		if summary != nil {
			if perr := env.Out.Summary(summary); perr != nil {
				return perr
			}
		}
		if err != nil {
			return fmt.Errorf("ошибка синхронизации: %w", err)
		}
		if summary == nil {
			env.Out.Message("Запуск уже выполняется, пропущено")
		}
		return nil
	},
}

var EntityCmd = &cobra.Command{
	Use:   "entity <type> <keap-id>",
	Short: "Синхронизировать одну сущность",
	Long:  `Загружает сущность из Keap по идентификатору и применяет ее к зеркалу.`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := cli.EnvFrom(cmd.Context())
		if err != nil {
			return err
		}

		t, err := entity.ParseType(args[0])
		if err != nil {
			return err
		}

		app, err := env.Open(cmd.Context())
		if err != nil {
			return fmt.Errorf("ошибка открытия хранилища: %w", err)
		}
		defer app.Close()

		resp, err := app.Core.Sync.SyncEntity(cmd.Context(), t, args[1])
		if err != nil {
			return fmt.Errorf("ошибка синхронизации сущности: %w", err)
		}
		if resp.Summary != nil {
			if err := env.Out.Summary(resp.Summary); err != nil {
				return err
			}
		}
		if resp.Status != "Ok" {
			return errors.New(resp.Error)
		}
		return nil
	},
}

func init() {
	RunCmd.Flags().BoolVar(&runFull, "full", false, "полный запуск без нижней границы")
	RunCmd.Flags().StringVar(&runSince, "since", "", "инкрементальный запуск от момента (RFC3339)")
	RunCmd.Flags().StringSliceVarP(&runTypes, "types", "t", nil, "типы: contacts, orders, subscriptions, tags, all")
	RunCmd.MarkFlagsMutuallyExclusive("full", "since")

	SyncCmd.AddCommand(RunCmd)
	SyncCmd.AddCommand(EntityCmd)
}
