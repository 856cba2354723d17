package ledger

import (
	"time"

	"keapsync/internal/domain/entity"
)

type Status string

const (
	StatusSuccess  Status = "success"
	StatusError    Status = "error"
	StatusConflict Status = "conflict"
)

type Operation string

const (
	OpInsert    Operation = "insert"
	OpUpdate    Operation = "update"
	OpUnchanged Operation = "unchanged"
	OpConflict  Operation = "conflict"
	OpResolve   Operation = "resolve"
	OpSkip      Operation = "skip"
	OpFetch     Operation = "fetch"
	OpRun       Operation = "run"
)

// Entry одна попытка синхронизации сущности или пакета; после записи не меняется
type Entry struct {
	ID         int64            `json:"id"`
	RunID      string           `json:"run_id,omitempty"`
	EntityType entity.Type      `json:"entity_type,omitempty"`
	KeapID     string           `json:"keap_id,omitempty"`
	Direction  entity.Direction `json:"direction"`
	Operation  Operation        `json:"operation"`
	Status     Status           `json:"status"`
	Error      string           `json:"error,omitempty"`
	Processed  int              `json:"records_processed"`
	Changes    []string         `json:"changes,omitempty"`
	DurationMS int64            `json:"duration_ms"`
	CreatedAt  time.Time        `json:"created_at"`
}

// IsBatch сообщает, что это запись уровня запуска, а не отдельной сущности
func (e *Entry) IsBatch() bool {
	return e.KeapID == ""
}

// Filter условия выборки журнала; QueryLogs возвращает записи от новых к старым
type Filter struct {
	Since      time.Time
	Until      time.Time
	EntityType entity.Type
	KeapID     string
	Status     Status
	RunID      string
	// Limit 0: без ограничения
	Limit int
}

// TypeStats показатели по одному типу сущности
type TypeStats struct {
	Total       int     `json:"total"`
	Success     int     `json:"success"`
	Errors      int     `json:"errors"`
	Conflicts   int     `json:"conflicts"`
	SuccessRate float64 `json:"success_rate"`
}

// DayVolume объем операций за сутки (UTC)
type DayVolume struct {
	Day       string `json:"day"`
	Success   int    `json:"success"`
	Errors    int    `json:"errors"`
	Conflicts int    `json:"conflicts"`
}

// Stats агрегаты журнала за окно
type Stats struct {
	Since        time.Time                 `json:"since"`
	Until        time.Time                 `json:"until"`
	Runs         int                       `json:"runs"`
	FailedRuns   int                       `json:"failed_runs"`
	Total        int                       `json:"total"`
	Success      int                       `json:"success"`
	Errors       int                       `json:"errors"`
	Conflicts    int                       `json:"conflicts"`
	SuccessRate  float64                   `json:"success_rate"`
	ByEntityType map[entity.Type]TypeStats `json:"by_entity_type"`
	Trend        []DayVolume               `json:"trend"`
	LastRunAt    *time.Time                `json:"last_run_at,omitempty"`
}
