package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

type Direction string

const (
	DirectionKeapToMirror  Direction = "keap_to_mirror"
	DirectionMirrorToKeap  Direction = "mirror_to_keap"
	DirectionBidirectional Direction = "bidirectional"
)

type ConflictStatus string

const (
	ConflictNone     ConflictStatus = "none"
	ConflictPending  ConflictStatus = "pending"
	ConflictResolved ConflictStatus = "resolved"
)

// Key идентифицирует строку зеркала: не более одной строки на пару (тип, keap_id)
type Key struct {
	Type   Type
	KeapID string
}

func (k Key) String() string {
	return string(k.Type) + ":" + k.KeapID
}

// Fields нормализованный набор отслеживаемых полей сущности
type Fields map[string]any

// MirrorEntity строка зеркальной базы
type MirrorEntity struct {
	ID             int64          `json:"id"`
	Type           Type           `json:"entity_type"`
	KeapID         string         `json:"keap_id"`
	Fields         Fields         `json:"fields"`
	ModifiedAt     time.Time      `json:"modified_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	LastSyncedAt   time.Time      `json:"last_synced_at"`
	SyncDirection  Direction      `json:"sync_direction"`
	ConflictStatus ConflictStatus `json:"conflict_status"`
}

func (e *MirrorEntity) Key() Key {
	return Key{Type: e.Type, KeapID: e.KeapID}
}

func (e *MirrorEntity) Clone() *MirrorEntity {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Fields = e.Fields.Clone()
	return &cp
}

// Snapshot последнее успешно синхронизированное представление сущности (базовая версия)
type Snapshot struct {
	Type     Type      `json:"entity_type"`
	KeapID   string    `json:"keap_id"`
	Fields   Fields    `json:"fields"`
	SyncedAt time.Time `json:"synced_at"`
}

// SnapshotOf снимает базовую версию с примененной сущности
func SnapshotOf(e *MirrorEntity, at time.Time) *Snapshot {
	return &Snapshot{
		Type:     e.Type,
		KeapID:   e.KeapID,
		Fields:   e.Fields.Clone(),
		SyncedAt: at,
	}
}

func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Names возвращает отсортированные имена полей
func (f Fields) Names() []string {
	names := make([]string, 0, len(f))
	for k := range f {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Diff возвращает отсортированные имена полей, значения которых различаются
func (f Fields) Diff(other Fields) []string {
	union := make(map[string]struct{}, len(f)+len(other))
	for k := range f {
		union[k] = struct{}{}
	}
	for k := range other {
		union[k] = struct{}{}
	}
	var diff []string
	for k := range union {
		if !ValueEqual(f[k], other[k]) {
			diff = append(diff, k)
		}
	}
	sort.Strings(diff)
	return diff
}

// ValueEqual сравнивает значения по их каноническому JSON-представлению
func ValueEqual(a, b any) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}

// FieldsOf раскладывает типизированную запись в набор полей
func FieldsOf(rec Record) (Fields, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode %s fields: %w", rec.EntityType(), err)
	}
	var fields Fields
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode %s fields: %w", rec.EntityType(), err)
	}
	return fields, nil
}
