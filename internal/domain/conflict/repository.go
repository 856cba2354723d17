package conflict

import "context"

// Repository чтение конфликтов из хранилища зеркала
type Repository interface {
	ListConflicts(ctx context.Context, filter Filter) ([]Record, error)
	GetConflict(ctx context.Context, id string) (*Record, error)
	CountConflicts(ctx context.Context, status Status) (int, error)
}
