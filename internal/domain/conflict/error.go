package conflict

import "errors"

var (
	ErrNotFound        = errors.New("conflict not found")
	ErrAlreadyResolved = errors.New("conflict already resolved")
	ErrUnknownField    = errors.New("field is not part of the conflict")
)
