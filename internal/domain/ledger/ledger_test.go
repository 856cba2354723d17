package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"keapsync/internal/domain/entity"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) AppendLog(ctx context.Context, entry *Entry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockRepository) QueryLogs(ctx context.Context, filter Filter) ([]Entry, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Entry), args.Error(1)
}

func (m *MockRepository) DeleteLogsBefore(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

var fixedNow = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

func newTestLedger(repo Repository) *Ledger {
	l := New(repo, slog.Default())
	l.now = func() time.Time { return fixedNow }
	return l
}

func TestLedger_Record(t *testing.T) {
	mockRepo := new(MockRepository)
	l := newTestLedger(mockRepo)
	ctx := context.Background()

	var published []Entry
	unsubscribe := l.Subscribe(func(e Entry) { published = append(published, e) })
	defer unsubscribe()

	mockRepo.On("AppendLog", ctx, mock.MatchedBy(func(e *Entry) bool {
		return e.KeapID == "500" && e.CreatedAt.Equal(fixedNow)
	})).Return(nil)

	err := l.Record(ctx, nil, &Entry{
		EntityType: entity.TypeOrder,
		KeapID:     "500",
		Direction:  entity.DirectionKeapToMirror,
		Operation:  OpInsert,
		Status:     StatusSuccess,
		Processed:  1,
	})

	require.NoError(t, err)
	require.Len(t, published, 1)
	assert.Equal(t, "500", published[0].KeapID)
	mockRepo.AssertExpectations(t)
}

func TestLedger_Record_ThroughWriterDoesNotPublish(t *testing.T) {
	mockRepo := new(MockRepository)
	tx := new(MockRepository)
	l := newTestLedger(mockRepo)
	ctx := context.Background()

	published := 0
	l.Subscribe(func(Entry) { published++ })

	tx.On("AppendLog", ctx, mock.Anything).Return(nil)

	err := l.Record(ctx, tx, &Entry{EntityType: entity.TypeTag, KeapID: "1", Operation: OpUpdate, Status: StatusSuccess})

	require.NoError(t, err)
	assert.Equal(t, 0, published)
	mockRepo.AssertNotCalled(t, "AppendLog", mock.Anything, mock.Anything)
	tx.AssertExpectations(t)
}

func TestLedger_Record_WriteFailureEscalates(t *testing.T) {
	mockRepo := new(MockRepository)
	l := newTestLedger(mockRepo)
	ctx := context.Background()

	mockRepo.On("AppendLog", ctx, mock.Anything).Return(errors.New("disk full"))

	err := l.Record(ctx, nil, &Entry{EntityType: entity.TypeOrder, KeapID: "7", Operation: OpUpdate, Status: StatusSuccess})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLedgerWrite)
	var werr *WriteError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, "7", werr.Entry.KeapID)
	assert.Contains(t, err.Error(), "disk full")
}

func TestLedger_Record_InvalidEntry(t *testing.T) {
	mockRepo := new(MockRepository)
	l := newTestLedger(mockRepo)

	tests := []struct {
		name  string
		entry *Entry
	}{
		{name: "unknown status", entry: &Entry{Operation: OpRun, Status: "partial"}},
		{name: "missing operation", entry: &Entry{Status: StatusSuccess}},
		{name: "entity id without type", entry: &Entry{KeapID: "1", Operation: OpInsert, Status: StatusSuccess}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := l.Record(context.Background(), nil, tt.entry)
			assert.ErrorIs(t, err, ErrLedgerWrite)
			assert.ErrorIs(t, err, ErrInvalidEntry)
		})
	}
	mockRepo.AssertNotCalled(t, "AppendLog", mock.Anything, mock.Anything)
}

func TestSummarize(t *testing.T) {
	day1 := time.Date(2024, 6, 9, 8, 0, 0, 0, time.UTC)
	day2 := time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC)

	entries := []Entry{
		{EntityType: entity.TypeContact, KeapID: "1", Operation: OpInsert, Status: StatusSuccess, CreatedAt: day1},
		{EntityType: entity.TypeContact, KeapID: "2", Operation: OpUpdate, Status: StatusSuccess, CreatedAt: day1},
		{EntityType: entity.TypeContact, KeapID: "3", Operation: OpInsert, Status: StatusError, CreatedAt: day2},
		{EntityType: entity.TypeOrder, KeapID: "500", Operation: OpConflict, Status: StatusConflict, CreatedAt: day2},
		{EntityType: entity.TypeOrder, KeapID: "501", Operation: OpUpdate, Status: StatusSuccess, CreatedAt: day2},
		{Operation: OpRun, Status: StatusSuccess, Processed: 5, CreatedAt: day2},
		{Operation: OpRun, Status: StatusError, CreatedAt: day1},
	}

	stats := Summarize(entries, day1.Add(-time.Hour), fixedNow)

	assert.Equal(t, 5, stats.Total)
	assert.Equal(t, 3, stats.Success)
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 1, stats.Conflicts)
	assert.InDelta(t, 75.0, stats.SuccessRate, 0.001)
	assert.Equal(t, 2, stats.Runs)
	assert.Equal(t, 1, stats.FailedRuns)
	require.NotNil(t, stats.LastRunAt)
	assert.Equal(t, day2, *stats.LastRunAt)

	contacts := stats.ByEntityType[entity.TypeContact]
	assert.Equal(t, 3, contacts.Total)
	assert.InDelta(t, 66.666, contacts.SuccessRate, 0.01)

	orders := stats.ByEntityType[entity.TypeOrder]
	assert.Equal(t, 1, orders.Conflicts)
	assert.InDelta(t, 100.0, orders.SuccessRate, 0.001)

	require.Len(t, stats.Trend, 2)
	assert.Equal(t, DayVolume{Day: "2024-06-09", Success: 2}, stats.Trend[0])
	assert.Equal(t, DayVolume{Day: "2024-06-10", Success: 1, Errors: 1, Conflicts: 1}, stats.Trend[1])
}

func TestSummarize_NoOperationsIsHealthy(t *testing.T) {
	stats := Summarize(nil, fixedNow.Add(-time.Hour), fixedNow)

	assert.Equal(t, 0, stats.Total)
	assert.Equal(t, 100.0, stats.SuccessRate)
	assert.Empty(t, stats.Trend)
}

func TestSummarize_ConflictsDoNotLowerSuccessRate(t *testing.T) {
	entries := []Entry{
		{EntityType: entity.TypeOrder, KeapID: "1", Operation: OpUpdate, Status: StatusSuccess, CreatedAt: fixedNow},
		{EntityType: entity.TypeOrder, KeapID: "2", Operation: OpConflict, Status: StatusConflict, CreatedAt: fixedNow},
		{EntityType: entity.TypeOrder, KeapID: "3", Operation: OpConflict, Status: StatusConflict, CreatedAt: fixedNow},
	}

	stats := Summarize(entries, fixedNow.Add(-time.Hour), fixedNow)

	assert.Equal(t, 100.0, stats.SuccessRate)
}

func TestLedger_Stats(t *testing.T) {
	mockRepo := new(MockRepository)
	l := newTestLedger(mockRepo)
	ctx := context.Background()

	mockRepo.On("QueryLogs", ctx, Filter{Since: fixedNow.Add(-24 * time.Hour), Until: fixedNow}).
		Return([]Entry{{EntityType: entity.TypeTag, KeapID: "1", Operation: OpInsert, Status: StatusSuccess, CreatedAt: fixedNow}}, nil)

	stats, err := l.Stats(ctx, 24*time.Hour)

	require.NoError(t, err)
	assert.Equal(t, 1, stats.Success)
	assert.Equal(t, fixedNow, stats.Until)
	mockRepo.AssertExpectations(t)
}

func TestLedger_Recent(t *testing.T) {
	mockRepo := new(MockRepository)
	l := newTestLedger(mockRepo)
	ctx := context.Background()

	mockRepo.On("QueryLogs", ctx, Filter{Status: StatusError, Limit: 10}).Return([]Entry{}, nil)
	mockRepo.On("QueryLogs", ctx, Filter{Limit: 50}).Return(nil, errors.New("connection refused"))

	entries, err := l.Recent(ctx, 10, Filter{Status: StatusError})
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = l.Recent(ctx, 0, Filter{})
	assert.Error(t, err)
}

func TestLedger_Prune(t *testing.T) {
	mockRepo := new(MockRepository)
	l := newTestLedger(mockRepo)
	ctx := context.Background()

	mockRepo.On("DeleteLogsBefore", ctx, fixedNow.Add(-DefaultRetention)).Return(int64(12), nil)

	n, err := l.Prune(ctx, 0)

	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
	mockRepo.AssertExpectations(t)
}
