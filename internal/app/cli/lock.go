package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"keapsync/internal/app/server/config"
)

var ErrLocked = errors.New("another sync run is in progress")

// RunLock файловая блокировка, не дающая двум процессам CLI запускать синхронизацию одновременно
type RunLock struct {
	fl *flock.Flock
}

// AcquireRunLock берет блокировку без ожидания
func AcquireRunLock(path string) (*RunLock, error) {
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock %s: %w", path, err)
	}
	if !locked {
		return nil, ErrLocked
	}
	return &RunLock{fl: fl}, nil
}

func (l *RunLock) Release() error {
	return l.fl.Unlock()
}

// LockPath лежит рядом с файлом SQLite, для postgres во временном каталоге
func LockPath(cfg *config.Config) string {
	if cfg.DB.Driver == config.DriverSQLite && cfg.DB.SQLitePath != "" {
		return cfg.DB.SQLitePath + ".lock"
	}
	return filepath.Join(os.TempDir(), "keapsync.lock")
}
