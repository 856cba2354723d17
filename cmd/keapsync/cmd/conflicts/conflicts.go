package conflicts

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"keapsync/internal/app/cli"
	"keapsync/internal/domain/conflict"
	"keapsync/internal/domain/entity"
	"keapsync/internal/domain/sync"
)

var (
	listStatus string
	listType   string
	listLimit  int
	listOffset int

	keepLocal bool
	setValues []string
)

// ConflictsCmd - родительская команда для работы с конфликтами
var ConflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Конфликты синхронизации",
	Long:  `Просмотр и ручное разрешение конфликтов между Keap и зеркалом.`,
}

var ListCmd = &cobra.Command{
	Use:   "list",
	Short: "Список конфликтов",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := open(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		req := conflict.ListRequest{
			Status: conflict.Status(listStatus),
			Limit:  listLimit,
			Offset: listOffset,
		}
		if listType != "" {
			if req.EntityType, err = entity.ParseType(listType); err != nil {
				return err
			}
		}

		resp, err := app.Core.Conflicts.List(cmd.Context(), req)
		if err != nil {
			return fmt.Errorf("ошибка получения конфликтов: %w", err)
		}
		return app.Out.Conflicts(resp.Conflicts, resp.Pending)
	},
}

var ShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Показать конфликт с разницей значений",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := open(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		resp, err := app.Core.Conflicts.Get(cmd.Context(), args[0])
		if err != nil {
			if errors.Is(err, conflict.ErrNotFound) {
				return fmt.Errorf("конфликт %s не найден", args[0])
			}
			return fmt.Errorf("ошибка получения конфликта: %w", err)
		}
		return app.Out.Conflict(resp.Conflict)
	},
}

var ResolveCmd = &cobra.Command{
	Use:   "resolve <id>",
	Short: "Разрешить конфликт",
	Long: `Применяет решение к зеркалу. Поля, не указанные явно, получают значение из Keap.

--keep-local оставляет значения зеркала для всех конфликтующих полей.
--set field=value задает значение поля; value разбирается как JSON, иначе берется строкой.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := open(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		values := entity.Fields{}
		if keepLocal {
			resp, err := app.Core.Conflicts.Get(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("ошибка получения конфликта: %w", err)
			}
			for _, f := range resp.Conflict.Fields {
				values[f.Field] = f.Local
			}
		}
		for _, kv := range setValues {
			field, value, err := parseAssignment(kv)
			if err != nil {
				return err
			}
			values[field] = value
		}

		resp, err := app.Core.Sync.ResolveConflict(cmd.Context(), args[0], sync.ResolveConflictRequest{Values: values})
		if err != nil {
			switch {
			case errors.Is(err, conflict.ErrNotFound):
				return fmt.Errorf("конфликт %s не найден", args[0])
			case errors.Is(err, conflict.ErrAlreadyResolved):
				return fmt.Errorf("конфликт %s уже разрешен", args[0])
			case errors.Is(err, conflict.ErrUnknownField):
				return fmt.Errorf("поле не участвует в конфликте: %w", err)
			}
			return fmt.Errorf("ошибка разрешения конфликта: %w", err)
		}

		app.Out.Message("✓ Конфликт разрешен")
		return app.Out.Conflict(resp.Conflict)
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

func parseAssignment(kv string) (string, any, error) {
	field, raw, ok := strings.Cut(kv, "=")
	field = strings.TrimSpace(field)
	if !ok || field == "" {
		return "", nil, fmt.Errorf("неверное значение --set %q, нужно field=value", kv)
	}
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return field, raw, nil
	}
	return field, value, nil
}

func init() {
	ListCmd.Flags().StringVarP(&listStatus, "status", "s", string(conflict.StatusPending), "статус: pending или resolved (пусто - все)")
	ListCmd.Flags().StringVarP(&listType, "type", "t", "", "фильтр по типу сущности")
	ListCmd.Flags().IntVar(&listLimit, "limit", 50, "ограничение количества")
	ListCmd.Flags().IntVar(&listOffset, "offset", 0, "смещение для пагинации")

	ResolveCmd.Flags().BoolVar(&keepLocal, "keep-local", false, "оставить значения зеркала")
	ResolveCmd.Flags().StringArrayVar(&setValues, "set", nil, "значение поля: field=value")

	ConflictsCmd.AddCommand(ListCmd)
	ConflictsCmd.AddCommand(ShowCmd)
	ConflictsCmd.AddCommand(ResolveCmd)
}
