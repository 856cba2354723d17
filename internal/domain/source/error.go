package source

import (
	"errors"
	"fmt"

	"keapsync/internal/domain/entity"
)

var (
	ErrTransientFetch    = errors.New("transient fetch error")
	ErrSourceUnavailable = errors.New("change source unavailable")
	ErrEntityNotFound    = errors.New("entity not found in crm")
	ErrUnsupportedEvent  = errors.New("unsupported webhook event")
)

// TransientFetchError сетевая ошибка или таймаут после исчерпания повторов
type TransientFetchError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *TransientFetchError) Unwrap() error {
	return e.Err
}

func (e *TransientFetchError) Is(target error) bool {
	return target == ErrTransientFetch
}

// PageError не удалось получить страницу; обход этого типа прекращается, запуск продолжается
type PageError struct {
	Type   entity.Type
	Offset int
	Err    error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("fetch %s page at offset %d: %v", e.Type.Plural(), e.Offset, e.Err)
}

func (e *PageError) Unwrap() error {
	return e.Err
}
