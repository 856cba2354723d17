package sync

import (
	"errors"
	"fmt"

	"keapsync/internal/domain/entity"
)

var (
	ErrStoreWrite      = errors.New("mirror store write failed")
	ErrInvalidRun      = errors.New("invalid run request")
	ErrRunInProgress   = errors.New("batch run already in progress")
	ErrEntityNotMapped = errors.New("entity is not present in the mirror")
	ErrRetryLater      = errors.New("event failed with a retryable error")
)

// StoreWriteError сбой хранилища зеркала; фатален для сущности, но не для запуска
type StoreWriteError struct {
	Key entity.Key
	Err error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Key, e.Err)
}

func (e *StoreWriteError) Unwrap() error {
	return e.Err
}

func (e *StoreWriteError) Is(target error) bool {
	return target == ErrStoreWrite
}
