package conflict

import "keapsync/internal/domain/entity"

type ListRequest struct {
	Status     Status      `query:"status" enum:"pending,resolved" doc:"Фильтр по статусу"`
	EntityType entity.Type `query:"entity_type" required:"false"`
	KeapID     string      `query:"keap_id"`
	Limit      int         `query:"limit" minimum:"1" maximum:"500" default:"50"`
	Offset     int         `query:"offset" minimum:"0" default:"0"`
}

type ListResponse struct {
	Status    string   `json:"status"`
	Error     string   `json:"error,omitempty"`
	Conflicts []Record `json:"conflicts,omitempty"`
	Pending   int      `json:"pending"`
}

type GetResponse struct {
	Status   string  `json:"status"`
	Error    string  `json:"error,omitempty"`
	Conflict *Record `json:"conflict,omitempty"`
}
