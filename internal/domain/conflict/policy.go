package conflict

import (
	"fmt"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"keapsync/internal/domain/entity"
)

// Strategy разрешает одно конфликтующее поле. при ok=false поле остается на ручное разрешение.
type Strategy func(field string, local, remote, baseline any) (resolved any, ok bool)

// Policy именованная политика разрешения конфликтов для типа сущности
type Policy string

const (
	PolicyManual     Policy = "manual"
	PolicyKeapWins   Policy = "keap_wins"
	PolicyMirrorWins Policy = "mirror_wins"
	PolicyNewestWins Policy = "newest_wins"
)

func (Policy) Schema(huma.Registry) *huma.Schema {
	return &huma.Schema{
		Type: "string",
		Enum: []any{
			string(PolicyManual),
			string(PolicyKeapWins),
			string(PolicyMirrorWins),
			string(PolicyNewestWins),
		},
		Description: "Политика разрешения конфликтов",
		Examples:    []any{PolicyManual},
	}
}

func (p Policy) Validate() error {
	switch p {
	case PolicyManual, PolicyKeapWins, PolicyMirrorWins, PolicyNewestWins:
		return nil
	}
	return fmt.Errorf("unknown conflict policy: %q", string(p))
}

// ParsePolicy понимает также дефисные имена из настроек панели (keap-wins, supabase-wins)
func ParsePolicy(s string) (Policy, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	switch norm {
	case "", "manual":
		return PolicyManual, nil
	case "keap_wins", "remote_wins":
		return PolicyKeapWins, nil
	case "mirror_wins", "supabase_wins", "local_wins":
		return PolicyMirrorWins, nil
	case "newest_wins", "last_write_wins":
		return PolicyNewestWins, nil
	}
	return "", fmt.Errorf("unknown conflict policy: %q", s)
}

// PolicySource отдает текущую политику для типа сущности
type PolicySource interface {
	PolicyFor(t entity.Type) Policy
}

// StaticPolicy одна политика для всех типов
type StaticPolicy Policy

func (p StaticPolicy) PolicyFor(entity.Type) Policy {
	return Policy(p)
}

// Strategy строит функцию разрешения для конкретной пары строк
func (p Policy) Strategy(local, remote *entity.MirrorEntity) Strategy {
	switch p {
	case PolicyKeapWins:
		return KeapWins
	case PolicyMirrorWins:
		return MirrorWins
	case PolicyNewestWins:
		var localAt, remoteAt time.Time
		if local != nil {
			localAt = local.UpdatedAt
		}
		if remote != nil {
			remoteAt = remote.ModifiedAt
		}
		return NewestWins(localAt, remoteAt)
	default:
		return Manual
	}
}

func Manual(string, any, any, any) (any, bool) {
	return nil, false
}

func KeapWins(_ string, _, remote, _ any) (any, bool) {
	return remote, true
}

func MirrorWins(_ string, local, _, _ any) (any, bool) {
	return local, true
}

// NewestWins отдает значение стороны с более поздним изменением; при равенстве или неизвестном времени побеждает CRM
func NewestWins(localAt, remoteAt time.Time) Strategy {
	return func(_ string, local, remote, _ any) (any, bool) {
		if !localAt.IsZero() && localAt.After(remoteAt) {
			return local, true
		}
		return remote, true
	}
}
