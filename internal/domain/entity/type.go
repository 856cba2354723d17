package entity

import (
	"fmt"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

type Type string

const (
	TypeContact      Type = "contact"
	TypeOrder        Type = "order"
	TypeSubscription Type = "subscription"
	TypeTag          Type = "tag"
)

// Types перечисляет типы в порядке зависимостей: теги, контакты, заказы, подписки
var Types = []Type{TypeTag, TypeContact, TypeOrder, TypeSubscription}

func (Type) Schema(huma.Registry) *huma.Schema {
	return &huma.Schema{
		Type: "string",
		Enum: []any{
			string(TypeContact),
			string(TypeOrder),
			string(TypeSubscription),
			string(TypeTag),
		},
		Description: "Тип сущности CRM",
		Examples:    []any{TypeContact},
	}
}

// Validate реализует интерфейс huma.Validatable.
func (t Type) Validate() error {
	switch t {
	case TypeContact, TypeOrder, TypeSubscription, TypeTag:
		return nil
	}
	return fmt.Errorf("unknown entity type: %q", string(t))
}

func (t Type) String() string {
	return string(t)
}

// Plural возвращает имя коллекции в Keap REST API
func (t Type) Plural() string {
	switch t {
	case TypeContact:
		return "contacts"
	case TypeOrder:
		return "orders"
	case TypeSubscription:
		return "subscriptions"
	case TypeTag:
		return "tags"
	default:
		return string(t) + "s"
	}
}

// ParseType принимает единственное и множественное число, а также имена объектов вебхуков Keap
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "contact", "contacts":
		return TypeContact, nil
	case "order", "orders":
		return TypeOrder, nil
	case "subscription", "subscriptions", "recurringorder", "recurring_order":
		return TypeSubscription, nil
	case "tag", "tags", "contactgroup", "contact_group":
		return TypeTag, nil
	}
	return "", fmt.Errorf("unknown entity type: %q", s)
}

// ParseTypes разворачивает список типов; "all" или пустой список дают все типы
func ParseTypes(in []string) ([]Type, error) {
	if len(in) == 0 {
		return append([]Type(nil), Types...), nil
	}
	seen := make(map[Type]bool, len(Types))
	for _, s := range in {
		if strings.EqualFold(strings.TrimSpace(s), "all") {
			return append([]Type(nil), Types...), nil
		}
		t, err := ParseType(s)
		if err != nil {
			return nil, err
		}
		seen[t] = true
	}
	out := make([]Type, 0, len(seen))
	for _, t := range Types {
		if seen[t] {
			out = append(out, t)
		}
	}
	return out, nil
}
