package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"keapsync/internal/domain/conflict"
	"keapsync/internal/domain/ledger"
	"keapsync/internal/domain/sync"
)

// Storage хранилище зеркала: строки, базовые версии, конфликты, журнал и курсоры
type Storage interface {
	sync.Store
	sync.CursorStore
	ledger.Repository
	conflict.Repository

	Ping(ctx context.Context) error
	Close() error
}

// EncodeJSON сериализует значение для колонки JSON/TEXT; nil-срезы и карты пишутся как null
func EncodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode json column: %w", err)
	}
	return string(data), nil
}

// NullableJSON как EncodeJSON, но пустое значение превращается в SQL NULL
func NullableJSON(v any) (*string, error) {
	s, err := EncodeJSON(v)
	if err != nil {
		return nil, err
	}
	if s == "null" || s == "[]" || s == "{}" {
		return nil, nil
	}
	return &s, nil
}

// DecodeJSON разбирает колонку JSON; NULL и пустая строка оставляют v нетронутым
func DecodeJSON(data []byte, v any) error {
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode json column: %w", err)
	}
	return nil
}
