package conflict

import (
	"time"

	"github.com/google/uuid"

	"keapsync/internal/domain/entity"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusResolved Status = "resolved"
)

// Record зафиксированный конфликт; не удаляется, меняется только действием разрешения
type Record struct {
	ID         string          `json:"id"`
	EntityType entity.Type     `json:"entity_type"`
	KeapID     string          `json:"keap_id"`
	RunID      string          `json:"run_id,omitempty"`
	Fields     []FieldConflict `json:"fields"`
	LocalData  entity.Fields   `json:"local_data"`
	RemoteData entity.Fields   `json:"remote_data"`
	RemoteAt   time.Time       `json:"remote_modified_at"`
	Status     Status          `json:"status"`
	Strategy   Policy          `json:"strategy,omitempty"`
	Resolution entity.Fields   `json:"resolution,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`
}

// NewRecord создает ожидающую запись конфликта
func NewRecord(incoming, stored *entity.MirrorEntity, res Result, runID string, now time.Time) *Record {
	rec := &Record{
		ID:         uuid.Must(uuid.NewV7()).String(),
		EntityType: incoming.Type,
		KeapID:     incoming.KeapID,
		RunID:      runID,
		Fields:     res.Conflicts,
		RemoteData: incoming.Fields.Clone(),
		RemoteAt:   incoming.ModifiedAt,
		Status:     StatusPending,
		CreatedAt:  now,
	}
	if stored != nil {
		rec.LocalData = stored.Fields.Clone()
	}
	return rec
}

// Refresh обновляет ожидающий конфликт свежими данными с обеих сторон, сохраняя его идентификатор
func (r *Record) Refresh(incoming, stored *entity.MirrorEntity, res Result, runID string) {
	r.Fields = res.Conflicts
	r.RemoteData = incoming.Fields.Clone()
	r.RemoteAt = incoming.ModifiedAt
	if stored != nil {
		r.LocalData = stored.Fields.Clone()
	}
	if runID != "" {
		r.RunID = runID
	}
}

// MarkResolved фиксирует примененное решение
func (r *Record) MarkResolved(strategy Policy, resolution entity.Fields, at time.Time) {
	r.Status = StatusResolved
	r.Strategy = strategy
	r.Resolution = resolution
	r.ResolvedAt = &at
}

func (r *Record) Key() entity.Key {
	return entity.Key{Type: r.EntityType, KeapID: r.KeapID}
}

// FieldNames возвращает имена конфликтующих полей
func (r *Record) FieldNames() []string {
	names := make([]string, 0, len(r.Fields))
	for _, f := range r.Fields {
		names = append(names, f.Field)
	}
	return names
}

// Filter условия выборки конфликтов
type Filter struct {
	Status     Status
	EntityType entity.Type
	KeapID     string
	Limit      int
	Offset     int
}
