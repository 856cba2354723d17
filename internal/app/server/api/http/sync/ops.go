package sync

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func (h *Handler) startRunOp() huma.Operation {
	return huma.Operation{
		OperationID: "sync-start-run",
		Method:      http.MethodPost,
		Path:        "/api/v1/sync/runs",
		Summary:     "Запустить синхронизацию",
		Description: "Запускает полную или инкрементальную синхронизацию выбранных типов; с wait=true возвращает сводку",
		Tags:        []string{"sync"},
		Middlewares: h.middleware,
	}
}

func (h *Handler) syncEntityOp() huma.Operation {
	return huma.Operation{
		OperationID: "sync-entity",
		Method:      http.MethodPost,
		Path:        "/api/v1/sync/entities/{type}/{keapId}",
		Summary:     "Синхронизировать одну сущность",
		Description: "Загружает сущность из Keap и применяет ее к зеркалу",
		Tags:        []string{"sync"},
		Middlewares: h.middleware,
	}
}

func (h *Handler) listConflictsOp() huma.Operation {
	return huma.Operation{
		OperationID: "sync-list-conflicts",
		Method:      http.MethodGet,
		Path:        "/api/v1/sync/conflicts",
		Summary:     "Получить конфликты синхронизации",
		Description: "Возвращает конфликты по фильтру и число ожидающих разрешения",
		Tags:        []string{"conflicts"},
		Middlewares: h.middleware,
	}
}

func (h *Handler) getConflictOp() huma.Operation {
	return huma.Operation{
		OperationID: "sync-get-conflict",
		Method:      http.MethodGet,
		Path:        "/api/v1/sync/conflicts/{id}",
		Summary:     "Получить конфликт",
		Tags:        []string{"conflicts"},
		Middlewares: h.middleware,
	}
}

func (h *Handler) resolveConflictOp() huma.Operation {
	return huma.Operation{
		OperationID: "sync-resolve-conflict",
		Method:      http.MethodPost,
		Path:        "/api/v1/sync/conflicts/{id}/resolve",
		Summary:     "Разрешить конфликт синхронизации",
		Description: "Применяет выбранные значения полей; поля без значения получают значение из Keap",
		Tags:        []string{"conflicts"},
		Middlewares: h.middleware,
	}
}
