package sync

import (
	"time"

	"keapsync/internal/domain/conflict"
	"keapsync/internal/domain/entity"
)

// StartRunRequest запрос на запуск синхронизации
type StartRunRequest struct {
	Mode  Mode       `json:"mode" default:"incremental"`
	Types []string   `json:"entity_types,omitempty" doc:"contacts, orders, subscriptions, tags или all"`
	Since *time.Time `json:"since,omitempty" format:"date-time" doc:"Нижняя граница изменений для инкрементального запуска"`
	Wait  bool       `json:"wait,omitempty" doc:"Дождаться завершения и вернуть сводку"`
}

// StartRunResponse ответ на запуск синхронизации
type StartRunResponse struct {
	Status  string      `json:"status"`
	Error   string      `json:"error,omitempty"`
	RunID   string      `json:"run_id,omitempty"`
	Summary *RunSummary `json:"summary,omitempty"`
}

// SyncEntityResponse ответ на синхронизацию одной сущности
type SyncEntityResponse struct {
	Status  string      `json:"status"`
	Error   string      `json:"error,omitempty"`
	Summary *RunSummary `json:"summary,omitempty"`
}

// ResolveConflictRequest выбранные значения полей; отсутствующие поля получают значение из CRM
type ResolveConflictRequest struct {
	Values entity.Fields `json:"values,omitempty"`
}

// ResolveConflictResponse ответ на разрешение конфликта
type ResolveConflictResponse struct {
	Status   string           `json:"status"`
	Error    string           `json:"error,omitempty"`
	Conflict *conflict.Record `json:"conflict,omitempty"`
}

// WebhookResponse итог обработки доставки вебхука
type WebhookResponse struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	Received  int    `json:"received"`
	Applied   int    `json:"applied"`
	Unchanged int    `json:"unchanged"`
	Conflicts int    `json:"conflicts"`
	Skipped   int    `json:"skipped"`
	Errored   int    `json:"errored"`
}
