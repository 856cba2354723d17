package migration

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	// Драйверы migrate регистрируются через blank import
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"keapsync/internal/app/server/config"
)

// Migrator — интерфейс для самой библиотеки migrate.Migrate
type Migrator interface {
	Up() error
	Down() error
	Close() (error, error)
}

// MigrationEngine — фабрика для создания мигратора (чтобы не лезть в ФС и БД в тестах)
type MigrationEngine func(sourceURL, databaseURL string) (Migrator, error)

type Migration struct {
	cfg    *config.Config
	engine MigrationEngine
}

func NewMigration(conf *config.Config, engine MigrationEngine) *Migration {
	if engine == nil {
		engine = DefaultEngine
	}
	return &Migration{
		cfg:    conf,
		engine: engine,
	}
}

// DefaultEngine — реальная реализация для продакшена
func DefaultEngine(sourceURL, databaseURL string) (Migrator, error) {
	return migrate.New(sourceURL, databaseURL)
}

// URLs возвращает адрес каталога миграций выбранного драйвера и адрес базы в формате migrate
func (mg *Migration) URLs() (string, string, error) {
	dir := filepath.ToSlash(filepath.Join(mg.cfg.DB.Migrations, mg.cfg.DB.Driver))
	switch mg.cfg.DB.Driver {
	case config.DriverPostgres:
		return "file://" + dir, mg.cfg.DB.DatabaseURI, nil
	case config.DriverSQLite:
		return "file://" + dir, "sqlite3://" + mg.cfg.DB.SQLitePath, nil
	default:
		return "", "", fmt.Errorf("unknown store driver %q", mg.cfg.DB.Driver)
	}
}

func (mg *Migration) Up() error {
	return mg.apply("up", Migrator.Up)
}

// Down откатывает все миграции; используется только из CLI
func (mg *Migration) Down() error {
	return mg.apply("down", Migrator.Down)
}

func (mg *Migration) apply(name string, step func(Migrator) error) (err error) {
	sourceURL, databaseURL, err := mg.URLs()
	if err != nil {
		return err
	}
	m, err := mg.engine(sourceURL, databaseURL)
	if err != nil {
		return fmt.Errorf("open migrator: %w", err)
	}
	defer func() {
		serr, dberr := m.Close()
		if serr != nil {
			if err != nil {
				err = fmt.Errorf("%w; migration source error: %v", err, serr)
			} else {
				err = serr
			}
		}
		if dberr != nil {
			if err != nil {
				err = fmt.Errorf("%w; migration database error: %v", err, dberr)
			} else {
				err = dberr
			}
		}
	}()
	if err := step(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration %s: %w", name, err)
	}
	return nil
}
