package source

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strings"
	"time"

	"keapsync/internal/domain/entity"
)

type Action string

const (
	ActionAdd    Action = "add"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

// Event одно уведомление вебхука об одной сущности
type Event struct {
	Key     string
	Type    entity.Type
	Action  Action
	KeapID  string
	Payload json.RawMessage
	At      time.Time
}

// ParseEventKey разбирает ключ события Keap вида "order.edit" или "recurringOrder.add"
func ParseEventKey(key string) (entity.Type, Action, error) {
	object, action, ok := strings.Cut(strings.TrimSpace(key), ".")
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedEvent, key)
	}
	t, err := entity.ParseType(object)
	if err != nil {
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedEvent, key)
	}
	switch a := Action(strings.ToLower(action)); a {
	case ActionAdd, ActionEdit, ActionDelete:
		return t, a, nil
	}
	return "", "", fmt.Errorf("%w: %q", ErrUnsupportedEvent, key)
}

// Push отдает ровно одно изменение для события; повтор возможен только повторной доставкой извне
type Push struct {
	crm   CRM
	event Event
}

func NewPush(crm CRM, event Event) *Push {
	return &Push{crm: crm, event: event}
}

func (p *Push) Changes(ctx context.Context) iter.Seq2[Change, error] {
	return func(yield func(Change, error) bool) {
		ch := Change{
			Type:       p.event.Type,
			KeapID:     p.event.KeapID,
			Payload:    p.event.Payload,
			ObservedAt: p.event.At,
			EventKey:   p.event.Key,
		}
		if ch.ObservedAt.IsZero() {
			ch.ObservedAt = time.Now().UTC()
		}
		if len(ch.Payload) == 0 {
			raw, err := p.crm.GetEntity(ctx, p.event.Type, p.event.KeapID)
			if err != nil {
				yield(ch, fmt.Errorf("get %s %s: %w", p.event.Type, p.event.KeapID, err))
				return
			}
			ch.Payload = raw
		}
		if modified, ok := entity.ModifiedAt(ch.Payload); ok {
			ch.ObservedAt = modified
		}
		yield(ch, nil)
	}
}
