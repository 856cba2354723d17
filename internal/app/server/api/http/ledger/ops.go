package ledger

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func (h *Handler) statsOp() huma.Operation {
	return huma.Operation{
		OperationID: "ledger-stats",
		Method:      http.MethodGet,
		Path:        "/api/v1/ledger/stats",
		Summary:     "Статистика синхронизации",
		Description: "Доля успешных операций, разбивка по типам, ожидающие конфликты и объем по дням",
		Tags:        []string{"ledger"},
		Middlewares: h.middleware,
	}
}

func (h *Handler) entriesOp() huma.Operation {
	return huma.Operation{
		OperationID: "ledger-entries",
		Method:      http.MethodGet,
		Path:        "/api/v1/ledger/entries",
		Summary:     "Последние записи журнала",
		Tags:        []string{"ledger"},
		Middlewares: h.middleware,
	}
}
