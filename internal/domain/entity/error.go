package entity

import (
	"errors"
	"fmt"
)

var ErrMapping = errors.New("mapping failed")

// MappingError некорректный или неполный payload; сущность пропускается
type MappingError struct {
	Type   Type
	KeapID string
	Reason string
}

func (e *MappingError) Error() string {
	if e.KeapID != "" {
		return fmt.Sprintf("map %s %s: %s", e.Type, e.KeapID, e.Reason)
	}
	return fmt.Sprintf("map %s: %s", e.Type, e.Reason)
}

func (e *MappingError) Is(target error) bool {
	return target == ErrMapping
}

func mappingErr(t Type, id, format string, args ...any) *MappingError {
	return &MappingError{Type: t, KeapID: id, Reason: fmt.Sprintf(format, args...)}
}
