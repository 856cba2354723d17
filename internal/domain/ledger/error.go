package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrLedgerWrite  = errors.New("ledger write failed")
	ErrInvalidEntry = errors.New("invalid ledger entry")
)

// WriteError журнал не удалось записать; запуск синхронизации должен прерваться
type WriteError struct {
	Entry Entry
	Err   error
}

func (e *WriteError) Error() string {
	target := string(e.Entry.Operation)
	if e.Entry.KeapID != "" {
		target = fmt.Sprintf("%s %s:%s", e.Entry.Operation, e.Entry.EntityType, e.Entry.KeapID)
	}
	return fmt.Sprintf("ledger write (%s): %v", target, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

func (e *WriteError) Is(target error) bool {
	return target == ErrLedgerWrite
}
