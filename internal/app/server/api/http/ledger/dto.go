package ledger

import "keapsync/internal/domain/ledger"

type statsInput struct {
	WindowHours int `query:"window_hours" minimum:"1" maximum:"2160" default:"24" doc:"Окно агрегации в часах"`
}

type statsOutput struct {
	Body ledger.StatsResponse
}

type entriesInput struct {
	Limit      int           `query:"limit" minimum:"1" maximum:"1000" default:"50"`
	EntityType string        `query:"entity_type" doc:"Фильтр по типу сущности"`
	KeapID     string        `query:"keap_id"`
	Status     ledger.Status `query:"status" enum:"success,error,conflict"`
	RunID      string        `query:"run_id"`
}

type entriesOutput struct {
	Body ledger.EntriesResponse
}
