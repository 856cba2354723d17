package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"keapsync/internal/domain/entity"
)

type MockCRM struct {
	mock.Mock
}

func (m *MockCRM) ListChanged(ctx context.Context, t entity.Type, since *time.Time, page PageRequest) (*Page, error) {
	args := m.Called(ctx, t, since, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Page), args.Error(1)
}

func (m *MockCRM) GetEntity(ctx context.Context, t entity.Type, id string) (json.RawMessage, error) {
	args := m.Called(ctx, t, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(json.RawMessage), args.Error(1)
}

func rawItems(ids ...string) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(ids))
	for _, id := range ids {
		out = append(out, json.RawMessage(fmt.Sprintf(`{"id": %q}`, id)))
	}
	return out
}

func collect(t *testing.T, src Source) ([]Change, []error) {
	t.Helper()
	var changes []Change
	var errs []error
	for ch, err := range src.Changes(context.Background()) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		changes = append(changes, ch)
	}
	return changes, errs
}

func TestPull_PaginatesAcrossTypes(t *testing.T) {
	crm := new(MockCRM)
	crm.On("ListChanged", mock.Anything, entity.TypeTag, (*time.Time)(nil), PageRequest{Offset: 0, Limit: 2}).
		Return(&Page{Items: rawItems("t1", "t2"), HasMore: true}, nil)
	crm.On("ListChanged", mock.Anything, entity.TypeTag, (*time.Time)(nil), PageRequest{Offset: 2, Limit: 2}).
		Return(&Page{Items: rawItems("t3"), HasMore: false}, nil)
	crm.On("ListChanged", mock.Anything, entity.TypeOrder, (*time.Time)(nil), PageRequest{Offset: 0, Limit: 2}).
		Return(&Page{Items: rawItems("o1"), HasMore: false}, nil)

	pull := NewPull(crm, []entity.Type{entity.TypeTag, entity.TypeOrder}, nil, 2, slog.Default())
	changes, errs := collect(t, pull)

	assert.Empty(t, errs)
	require.Len(t, changes, 4)
	assert.Equal(t, entity.Key{Type: entity.TypeTag, KeapID: "t1"}, changes[0].Key())
	assert.Equal(t, entity.Key{Type: entity.TypeOrder, KeapID: "o1"}, changes[3].Key())
	crm.AssertExpectations(t)
}

func TestPull_IsRestartable(t *testing.T) {
	crm := new(MockCRM)
	crm.On("ListChanged", mock.Anything, entity.TypeTag, mock.Anything, PageRequest{Offset: 0, Limit: 10}).
		Return(&Page{Items: rawItems("t1", "t2")}, nil)

	fetchedAt := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	pull := NewPull(crm, []entity.Type{entity.TypeTag}, nil, 10, slog.Default())
	pull.now = func() time.Time { return fetchedAt }

	first, _ := collect(t, pull)
	second, _ := collect(t, pull)

	require.Len(t, first, 2)
	assert.Equal(t, fetchedAt, first[0].ObservedAt)
	assert.Equal(t, first, second)
	crm.AssertNumberOfCalls(t, "ListChanged", 2)
}

func TestPull_FiltersOutsideWindowAndDuplicates(t *testing.T) {
	since := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	crm := new(MockCRM)
	crm.On("ListChanged", mock.Anything, entity.TypeContact, &since, mock.Anything).
		Return(&Page{Items: []json.RawMessage{
			json.RawMessage(`{"id": 1, "last_updated": "2024-05-30T10:00:00Z"}`),
			json.RawMessage(`{"id": 2, "last_updated": "2024-06-01T00:00:00Z"}`),
			json.RawMessage(`{"id": 2, "last_updated": "2024-06-01T00:00:00Z"}`),
			json.RawMessage(`{"id": 3}`),
		}}, nil)

	pull := NewPull(crm, []entity.Type{entity.TypeContact}, &since, 100, slog.Default())
	changes, errs := collect(t, pull)

	assert.Empty(t, errs)
	require.Len(t, changes, 2)
	assert.Equal(t, "2", changes[0].KeapID)
	assert.Equal(t, since, changes[0].ObservedAt)
	assert.Equal(t, "3", changes[1].KeapID)
}

func TestPull_UnreachableSourceAbortsOnce(t *testing.T) {
	crm := new(MockCRM)
	crm.On("ListChanged", mock.Anything, entity.TypeTag, mock.Anything, mock.Anything).
		Return(nil, &TransientFetchError{Op: "list tags", Attempts: 3, Err: errors.New("dial tcp: refused")})

	pull := NewPull(crm, nil, nil, 100, slog.Default())
	changes, errs := collect(t, pull)

	assert.Empty(t, changes)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrSourceUnavailable)
	assert.ErrorIs(t, errs[0], ErrTransientFetch)
	crm.AssertNumberOfCalls(t, "ListChanged", 1)
}

func TestPull_LaterPageFailureIsNotFatal(t *testing.T) {
	crm := new(MockCRM)
	crm.On("ListChanged", mock.Anything, entity.TypeTag, mock.Anything, PageRequest{Offset: 0, Limit: 1}).
		Return(&Page{Items: rawItems("t1"), HasMore: true}, nil)
	crm.On("ListChanged", mock.Anything, entity.TypeTag, mock.Anything, PageRequest{Offset: 1, Limit: 1}).
		Return(nil, errors.New("timeout"))
	crm.On("ListChanged", mock.Anything, entity.TypeOrder, mock.Anything, PageRequest{Offset: 0, Limit: 1}).
		Return(&Page{Items: rawItems("o1")}, nil)

	pull := NewPull(crm, []entity.Type{entity.TypeTag, entity.TypeOrder}, nil, 1, slog.Default())
	changes, errs := collect(t, pull)

	require.Len(t, changes, 2)
	require.Len(t, errs, 1)
	var perr *PageError
	require.ErrorAs(t, errs[0], &perr)
	assert.Equal(t, entity.TypeTag, perr.Type)
	assert.Equal(t, 1, perr.Offset)
	assert.NotErrorIs(t, errs[0], ErrSourceUnavailable)
}

func TestPush_FetchesMissingPayload(t *testing.T) {
	crm := new(MockCRM)
	crm.On("GetEntity", mock.Anything, entity.TypeOrder, "500").
		Return(json.RawMessage(`{"id": 500, "modification_time": "2024-06-02T10:00:00Z"}`), nil)

	push := NewPush(crm, Event{Key: "order.edit", Type: entity.TypeOrder, Action: ActionEdit, KeapID: "500"})
	changes, errs := collect(t, push)

	assert.Empty(t, errs)
	require.Len(t, changes, 1)
	assert.Equal(t, "order.edit", changes[0].EventKey)
	assert.Equal(t, time.Date(2024, 6, 2, 10, 0, 0, 0, time.UTC), changes[0].ObservedAt)
	crm.AssertExpectations(t)
}

func TestPush_UsesEmbeddedPayload(t *testing.T) {
	crm := new(MockCRM)
	at := time.Date(2024, 6, 2, 10, 0, 0, 0, time.UTC)

	push := NewPush(crm, Event{Type: entity.TypeTag, KeapID: "9", Payload: json.RawMessage(`{"id": 9}`), At: at})
	changes, errs := collect(t, push)

	assert.Empty(t, errs)
	require.Len(t, changes, 1)
	assert.Equal(t, at, changes[0].ObservedAt)
	crm.AssertNotCalled(t, "GetEntity", mock.Anything, mock.Anything, mock.Anything)
}

func TestPush_FetchErrorYieldsSingleError(t *testing.T) {
	crm := new(MockCRM)
	crm.On("GetEntity", mock.Anything, entity.TypeContact, "1").Return(nil, ErrEntityNotFound)

	push := NewPush(crm, Event{Type: entity.TypeContact, KeapID: "1"})
	changes, errs := collect(t, push)

	assert.Empty(t, changes)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrEntityNotFound)
}

func TestParseEventKey(t *testing.T) {
	tests := []struct {
		key     string
		typ     entity.Type
		action  Action
		wantErr bool
	}{
		{key: "contact.add", typ: entity.TypeContact, action: ActionAdd},
		{key: "order.edit", typ: entity.TypeOrder, action: ActionEdit},
		{key: "recurringOrder.delete", typ: entity.TypeSubscription, action: ActionDelete},
		{key: "contactGroup.add", typ: entity.TypeTag, action: ActionAdd},
		{key: "contactGroup.applied", wantErr: true},
		{key: "invoice.add", wantErr: true},
		{key: "contact", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			typ, action, err := ParseEventKey(tt.key)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedEvent)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.typ, typ)
			assert.Equal(t, tt.action, action)
		})
	}
}
