package ledger

import "keapsync/internal/domain/entity"

type StatsRequest struct {
	WindowHours int `query:"window_hours" minimum:"1" maximum:"2160" default:"24" doc:"Окно агрегации в часах"`
}

type StatsResponse struct {
	Status           string `json:"status"`
	Error            string `json:"error,omitempty"`
	Stats            *Stats `json:"stats,omitempty"`
	PendingConflicts int    `json:"pending_conflicts"`
}

type EntriesRequest struct {
	Limit      int         `query:"limit" minimum:"1" maximum:"1000" default:"50"`
	EntityType entity.Type `query:"entity_type" required:"false"`
	KeapID     string      `query:"keap_id"`
	Status     Status      `query:"status" enum:"success,error,conflict"`
	RunID      string      `query:"run_id"`
}

type EntriesResponse struct {
	Status  string  `json:"status"`
	Error   string  `json:"error,omitempty"`
	Entries []Entry `json:"entries,omitempty"`
}
