package source

import (
	"context"
	"encoding/json"
	"iter"
	"time"

	"keapsync/internal/domain/entity"
)

// Change кандидат на синхронизацию: (тип, сырой payload, момент наблюдения)
type Change struct {
	Type       entity.Type
	KeapID     string
	Payload    json.RawMessage
	ObservedAt time.Time
	// EventKey заполняется для изменений из вебхука
	EventKey string
}

func (c Change) Key() entity.Key {
	return entity.Key{Type: c.Type, KeapID: c.KeapID}
}

// Source производит последовательность изменений. Повторный вызов Changes начинает обход заново.
type Source interface {
	Changes(ctx context.Context) iter.Seq2[Change, error]
}

type PageRequest struct {
	Offset int
	Limit  int
}

type Page struct {
	Items   []json.RawMessage
	HasMore bool
}

// CRM то, что движку нужно от внешней CRM
type CRM interface {
	// ListChanged возвращает страницу сущностей, измененных не раньше since (nil: все)
	ListChanged(ctx context.Context, t entity.Type, since *time.Time, page PageRequest) (*Page, error)

	// GetEntity возвращает сырой payload одной сущности
	GetEntity(ctx context.Context, t entity.Type, id string) (json.RawMessage, error)
}
