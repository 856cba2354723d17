package keap

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"keapsync/internal/domain/entity"
	"keapsync/internal/domain/source"
)

var (
	ErrBadSignature = errors.New("invalid webhook signature")
	ErrBadPayload   = errors.New("invalid webhook payload")
)

// hookPayload покрывает оба формата доставки: REST Hooks (object_keys) и одиночное событие (object_id + data)
type hookPayload struct {
	EventKey   string            `json:"event_key"`
	ObjectType string            `json:"object_type"`
	ObjectKeys []json.RawMessage `json:"object_keys"`
	ObjectID   json.RawMessage   `json:"object_id"`
	Data       json.RawMessage   `json:"data"`
	Timestamp  string            `json:"timestamp"`
}

type objectKey struct {
	Timestamp string `json:"timestamp"`
}

// VerifySignature сравнивает подпись HMAC-SHA256 тела за постоянное время.
// Подпись принимается в base64 и в hex.
func VerifySignature(body []byte, secret, signature string) error {
	signature = strings.TrimSpace(signature)
	if secret == "" {
		return nil
	}
	if signature == "" {
		return fmt.Errorf("%w: missing signature", ErrBadSignature)
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	for _, decode := range []func(string) ([]byte, error){
		base64.StdEncoding.DecodeString,
		hex.DecodeString,
	} {
		if got, err := decode(signature); err == nil && hmac.Equal(got, expected) {
			return nil
		}
	}
	return ErrBadSignature
}

// Sign возвращает подпись тела в формате заголовка X-Hook-Signature
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ParseWebhook раскладывает доставку на события по одной сущности.
// Неподдерживаемые события возвращаются с пустым Type, чтобы их можно было учесть как пропущенные.
func ParseWebhook(body []byte) ([]source.Event, error) {
	var p hookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if p.EventKey == "" {
		return nil, fmt.Errorf("%w: event_key is required", ErrBadPayload)
	}

	t, action, err := source.ParseEventKey(p.EventKey)
	supported := err == nil

	newEvent := func(id string, at time.Time) source.Event {
		ev := source.Event{Key: p.EventKey, KeapID: id, At: at}
		if supported {
			ev.Type = t
			ev.Action = action
		}
		return ev
	}

	var events []source.Event
	for _, raw := range p.ObjectKeys {
		id, ok := entity.ExternalID(raw)
		if !ok {
			return nil, fmt.Errorf("%w: object key without id", ErrBadPayload)
		}
		var key objectKey
		_ = json.Unmarshal(raw, &key)
		events = append(events, newEvent(id, parseTimestamp(key.Timestamp)))
	}

	if len(p.ObjectKeys) == 0 && len(p.ObjectID) > 0 {
		id, ok := entity.ExternalID(json.RawMessage(`{"id":` + string(p.ObjectID) + `}`))
		if !ok {
			return nil, fmt.Errorf("%w: bad object_id", ErrBadPayload)
		}
		ev := newEvent(id, parseTimestamp(p.Timestamp))
		if supported && isObject(p.Data) {
			ev.Payload = withID(p.Data, id)
		}
		events = append(events, ev)
	}
	return events, nil
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func isObject(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return strings.HasPrefix(trimmed, "{")
}

// withID добавляет id во встроенный payload, если его там нет: маппер требует идентификатор
func withID(raw json.RawMessage, id string) json.RawMessage {
	if _, ok := entity.ExternalID(raw); ok {
		return raw
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return raw
	}
	idJSON, _ := json.Marshal(id)
	obj["id"] = idJSON
	out, err := json.Marshal(obj)
	if err != nil {
		return raw
	}
	return out
}
