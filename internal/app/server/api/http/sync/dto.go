package sync

import (
	"keapsync/internal/domain/conflict"
	"keapsync/internal/domain/entity"
	"keapsync/internal/domain/sync"
)

type startRunInput struct {
	Body sync.StartRunRequest
}

type startRunOutput struct {
	Body sync.StartRunResponse
}

type syncEntityInput struct {
	Type   string `path:"type" doc:"contacts, orders, subscriptions или tags"`
	KeapID string `path:"keapId" doc:"Идентификатор сущности в Keap"`
}

type syncEntityOutput struct {
	Body sync.SyncEntityResponse
}

type listConflictsInput struct {
	Status     conflict.Status `query:"status" enum:"pending,resolved" doc:"Фильтр по статусу"`
	EntityType string          `query:"entity_type" doc:"Фильтр по типу сущности"`
	KeapID     string          `query:"keap_id"`
	Limit      int             `query:"limit" minimum:"1" maximum:"500" default:"50"`
	Offset     int             `query:"offset" minimum:"0" default:"0"`
}

type listConflictsOutput struct {
	Body conflict.ListResponse
}

type getConflictInput struct {
	ID string `path:"id"`
}

type getConflictOutput struct {
	Body conflict.GetResponse
}

type resolveConflictInput struct {
	ID   string `path:"id"`
	Body sync.ResolveConflictRequest
}

type resolveConflictOutput struct {
	Body sync.ResolveConflictResponse
}

func parseEntityType(s string) (entity.Type, error) {
	if s == "" {
		return "", nil
	}
	return entity.ParseType(s)
}
