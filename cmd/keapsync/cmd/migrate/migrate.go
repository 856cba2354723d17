package migrate

import (
	"fmt"

	"github.com/spf13/cobra"

	"keapsync/internal/app/cli"
	"keapsync/internal/infrastructure/migration"
)

// MigrateCmd - управление схемой зеркала
var MigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Миграции схемы зеркала",
	Long:  `Применяет или откатывает миграции из migrations_path для текущего store_driver.`,
}

var UpCmd = &cobra.Command{
	Use:   "up",
	Short: "Применить все миграции",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, "up")
	},
}

var DownCmd = &cobra.Command{
	Use:   "down",
	Short: "Откатить все миграции",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, "down")
	},
}

func run(cmd *cobra.Command, direction string) error {
	env, err := cli.EnvFrom(cmd.Context())
	if err != nil {
		return err
	}

	mg := migration.NewMigration(env.Config, nil)
	if direction == "down" {
		err = mg.Down()
	} else {
		err = mg.Up()
	}
	if err != nil {
		return fmt.Errorf("ошибка миграции (%s): %w", direction, err)
	}

	env.Log.Info("Migrations applied", "direction", direction, "driver", env.Config.DB.Driver)
	env.Out.Message("✓ Миграции выполнены (%s, %s)", direction, env.Config.DB.Driver)
	return nil
}

func init() {
	MigrateCmd.AddCommand(UpCmd)
	MigrateCmd.AddCommand(DownCmd)
}
