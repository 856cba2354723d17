package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"keapsync/internal/domain/entity"
	"keapsync/internal/domain/ledger"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) Stats(ctx context.Context, req ledger.StatsRequest) (*ledger.StatsResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.StatsResponse), args.Error(1)
}

func (m *MockService) Entries(ctx context.Context, req ledger.EntriesRequest) (*ledger.EntriesResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.EntriesResponse), args.Error(1)
}

func TestHandler_stats(t *testing.T) {
	svc := new(MockService)
	h := NewHandler(svc, slog.Default(), huma.Middlewares{})
	ctx := context.Background()

	svc.On("Stats", ctx, ledger.StatsRequest{WindowHours: 24}).
		Return(&ledger.StatsResponse{Status: "Ok", Stats: &ledger.Stats{SuccessRate: 97.5}, PendingConflicts: 2}, nil)
	svc.On("Stats", ctx, ledger.StatsRequest{WindowHours: 1}).Return(nil, errors.New("query entries for stats: timeout"))

	out, err := h.stats(ctx, &statsInput{WindowHours: 24})
	require.NoError(t, err)
	assert.Equal(t, "Ok", out.Body.Status)
	assert.Equal(t, 2, out.Body.PendingConflicts)
	assert.Equal(t, 97.5, out.Body.Stats.SuccessRate)

	out, err = h.stats(ctx, &statsInput{WindowHours: 1})
	require.NoError(t, err)
	assert.Equal(t, "Error", out.Body.Status)
	assert.Contains(t, out.Body.Error, "timeout")
}

func TestHandler_entries(t *testing.T) {
	svc := new(MockService)
	h := NewHandler(svc, slog.Default(), huma.Middlewares{})
	ctx := context.Background()

	svc.On("Entries", ctx, ledger.EntriesRequest{Limit: 10, EntityType: entity.TypeSubscription, RunID: "r1"}).
		Return(&ledger.EntriesResponse{Status: "Ok", Entries: []ledger.Entry{{KeapID: "8"}}}, nil)

	out, err := h.entries(ctx, &entriesInput{Limit: 10, EntityType: "subscriptions", RunID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, "Ok", out.Body.Status)
	require.Len(t, out.Body.Entries, 1)

	out, err = h.entries(ctx, &entriesInput{Limit: 10, EntityType: "deals"})
	require.NoError(t, err)
	assert.Equal(t, "Error", out.Body.Status)
	svc.AssertNumberOfCalls(t, "Entries", 1)
}
