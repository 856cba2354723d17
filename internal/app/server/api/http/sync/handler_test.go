package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"keapsync/internal/domain/conflict"
	"keapsync/internal/domain/entity"
	"keapsync/internal/domain/source"
	"keapsync/internal/domain/sync"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) StartRun(ctx context.Context, req sync.StartRunRequest) (*sync.StartRunResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sync.StartRunResponse), args.Error(1)
}

func (m *MockService) Run(ctx context.Context, req sync.RunRequest) (*sync.RunSummary, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sync.RunSummary), args.Error(1)
}

func (m *MockService) SyncEntity(ctx context.Context, t entity.Type, keapID string) (*sync.SyncEntityResponse, error) {
	args := m.Called(ctx, t, keapID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sync.SyncEntityResponse), args.Error(1)
}

func (m *MockService) HandleWebhook(ctx context.Context, events []source.Event) (*sync.WebhookResponse, error) {
	args := m.Called(ctx, events)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sync.WebhookResponse), args.Error(1)
}

func (m *MockService) ResolveConflict(ctx context.Context, id string, req sync.ResolveConflictRequest) (*sync.ResolveConflictResponse, error) {
	args := m.Called(ctx, id, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sync.ResolveConflictResponse), args.Error(1)
}

type MockConflictService struct {
	mock.Mock
}

func (m *MockConflictService) List(ctx context.Context, req conflict.ListRequest) (*conflict.ListResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*conflict.ListResponse), args.Error(1)
}

func (m *MockConflictService) Get(ctx context.Context, id string) (*conflict.GetResponse, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*conflict.GetResponse), args.Error(1)
}

func newHandler() (*Handler, *MockService, *MockConflictService) {
	svc := new(MockService)
	conflicts := new(MockConflictService)
	return NewHandler(svc, conflicts, slog.Default(), huma.Middlewares{}), svc, conflicts
}

func TestHandler_startRun(t *testing.T) {
	tests := []struct {
		name       string
		response   *sync.StartRunResponse
		err        error
		wantStatus string
		wantError  string
		wantRunID  string
	}{
		{
			name:       "started",
			response:   &sync.StartRunResponse{Status: "Ok", RunID: "0190"},
			wantStatus: "Ok",
			wantRunID:  "0190",
		},
		{
			name:       "run in progress",
			err:        sync.ErrRunInProgress,
			wantStatus: "Error",
			wantError:  sync.ErrRunInProgress.Error(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, svc, _ := newHandler()
			ctx := context.Background()
			req := sync.StartRunRequest{Mode: sync.ModeFull, Types: []string{"orders"}}
			if tt.response != nil {
				svc.On("StartRun", ctx, req).Return(tt.response, nil)
			} else {
				svc.On("StartRun", ctx, req).Return(nil, tt.err)
			}

			out, err := h.startRun(ctx, &startRunInput{Body: req})

			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, out.Body.Status)
			assert.Equal(t, tt.wantError, out.Body.Error)
			assert.Equal(t, tt.wantRunID, out.Body.RunID)
			svc.AssertExpectations(t)
		})
	}
}

func TestHandler_syncEntity(t *testing.T) {
	h, svc, _ := newHandler()
	ctx := context.Background()
	svc.On("SyncEntity", ctx, entity.TypeOrder, "42").
		Return(&sync.SyncEntityResponse{Status: "Ok", Summary: &sync.RunSummary{Applied: 1}}, nil)

	out, err := h.syncEntity(ctx, &syncEntityInput{Type: "orders", KeapID: "42"})

	require.NoError(t, err)
	assert.Equal(t, "Ok", out.Body.Status)
	assert.Equal(t, 1, out.Body.Summary.Applied)

	out, err = h.syncEntity(ctx, &syncEntityInput{Type: "invoices", KeapID: "42"})

	require.NoError(t, err)
	assert.Equal(t, "Error", out.Body.Status)
	assert.Contains(t, out.Body.Error, "invoices")
	svc.AssertNumberOfCalls(t, "SyncEntity", 1)
}

func TestHandler_listConflicts(t *testing.T) {
	h, _, conflicts := newHandler()
	ctx := context.Background()
	conflicts.On("List", ctx, conflict.ListRequest{Status: conflict.StatusPending, EntityType: entity.TypeContact, Limit: 50}).
		Return(&conflict.ListResponse{Status: "Ok", Conflicts: []conflict.Record{{ID: "c1"}}, Pending: 1}, nil)

	out, err := h.listConflicts(ctx, &listConflictsInput{Status: conflict.StatusPending, EntityType: "contacts", Limit: 50})

	require.NoError(t, err)
	assert.Equal(t, "Ok", out.Body.Status)
	assert.Equal(t, 1, out.Body.Pending)
	require.Len(t, out.Body.Conflicts, 1)
	conflicts.AssertExpectations(t)
}

func TestHandler_getConflict_NotFound(t *testing.T) {
	h, _, conflicts := newHandler()
	ctx := context.Background()
	conflicts.On("Get", ctx, "missing").Return(nil, conflict.ErrNotFound)

	out, err := h.getConflict(ctx, &getConflictInput{ID: "missing"})

	require.NoError(t, err)
	assert.Equal(t, "Error", out.Body.Status)
	assert.Equal(t, conflict.ErrNotFound.Error(), out.Body.Error)
}

func TestHandler_resolveConflict(t *testing.T) {
	h, svc, _ := newHandler()
	ctx := context.Background()
	req := sync.ResolveConflictRequest{Values: entity.Fields{"status": "paid"}}
	svc.On("ResolveConflict", ctx, "c1", req).
		Return(&sync.ResolveConflictResponse{Status: "Ok", Conflict: &conflict.Record{ID: "c1", Status: conflict.StatusResolved}}, nil)
	svc.On("ResolveConflict", ctx, "c2", req).Return(nil, errors.New("conflict already resolved"))

	out, err := h.resolveConflict(ctx, &resolveConflictInput{ID: "c1", Body: req})
	require.NoError(t, err)
	assert.Equal(t, "Ok", out.Body.Status)
	assert.Equal(t, conflict.StatusResolved, out.Body.Conflict.Status)

	out, err = h.resolveConflict(ctx, &resolveConflictInput{ID: "c2", Body: req})
	require.NoError(t, err)
	assert.Equal(t, "Error", out.Body.Status)
	assert.Equal(t, "conflict already resolved", out.Body.Error)
}
