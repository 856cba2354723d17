package scheduler

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
	"keapsync/internal/domain/sync"
)

type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, req sync.RunRequest) (*sync.RunSummary, error) {
	args := m.Called(ctx, req)
	summary, _ := args.Get(0).(*sync.RunSummary)
	return summary, args.Error(1)
}

type MockCursors struct {
	mock.Mock
}

func (m *MockCursors) GetCursor(ctx context.Context, name string) (*time.Time, error) {
	args := m.Called(ctx, name)
	at, _ := args.Get(0).(*time.Time)
	return at, args.Error(1)
}

func (m *MockCursors) SetCursor(ctx context.Context, name string, at time.Time) error {
	args := m.Called(ctx, name, at)
	return args.Error(0)
}

type MockPruner struct {
	mock.Mock
}

func (m *MockPruner) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	args := m.Called(ctx, retention)
	return args.Get(0).(int64), args.Error(1)
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestScheduler(runner Runner, cursors sync.CursorStore, pruner Pruner, cfg Config) *Scheduler {
	s := New(runner, cursors, pruner, cfg, slog.Default())
	s.now = func() time.Time { return fixedNow }
	s.newID = func() string { return "run-1" }
	return s
}

func TestScheduler_RunOnce(t *testing.T) {
	since := fixedNow.Add(-time.Hour)
	types := []entity.Type{entity.TypeContact}

	tests := []struct {
		name       string
		cursor     *time.Time
		wantMode   sync.Mode
		summary    *sync.RunSummary
		runErr     error
		wantCursor bool
		wantErr    bool
	}{
		{
			name:       "no cursor runs full",
			wantMode:   sync.ModeFull,
			summary:    &sync.RunSummary{RunID: "run-1", State: sync.StateIdle},
			wantCursor: true,
		},
		{
			name:       "cursor runs incremental",
			cursor:     &since,
			wantMode:   sync.ModeIncremental,
			summary:    &sync.RunSummary{RunID: "run-1", State: sync.StateIdle},
			wantCursor: true,
		},
		{
			name:     "failed page keeps cursor",
			cursor:   &since,
			wantMode: sync.ModeIncremental,
			summary:  &sync.RunSummary{RunID: "run-1", State: sync.StateIdle, PagesFailed: 1},
		},
		{
			name:     "run error keeps cursor",
			cursor:   &since,
			wantMode: sync.ModeIncremental,
			summary:  &sync.RunSummary{RunID: "run-1", State: sync.StateFailed},
			runErr:   errors.New("ledger down"),
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			runner := new(MockRunner)
			cursors := new(MockCursors)

			cursors.On("GetCursor", ctx, CursorName).Return(tt.cursor, nil)
			runner.On("Run", ctx, mock.MatchedBy(func(req sync.RunRequest) bool {
				if req.Mode != tt.wantMode || req.RunID != "run-1" {
					return false
				}
				if tt.cursor == nil {
					return req.Since == nil
				}
				return req.Since != nil && req.Since.Equal(*tt.cursor)
			})).Return(tt.summary, tt.runErr)
			if tt.wantCursor {
				cursors.On("SetCursor", ctx, CursorName, fixedNow.Add(-cursorOverlap)).Return(nil)
			}

			s := newTestScheduler(runner, cursors, nil, Config{Interval: time.Minute, Types: types})
			summary, err := s.RunOnce(ctx)

			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.summary, summary)
			}
			runner.AssertExpectations(t)
			cursors.AssertExpectations(t)
			if !tt.wantCursor {
				cursors.AssertNotCalled(t, "SetCursor", mock.Anything, mock.Anything, mock.Anything)
			}
		})
	}
}

func TestScheduler_RunOnce_InProgress(t *testing.T) {
	ctx := context.Background()
	runner := new(MockRunner)
	cursors := new(MockCursors)

	cursors.On("GetCursor", ctx, CursorName).Return(nil, nil)
	runner.On("Run", ctx, mock.Anything).Return(nil, sync.ErrRunInProgress)

	s := newTestScheduler(runner, cursors, nil, Config{Interval: time.Minute})
	summary, err := s.RunOnce(ctx)

	require.NoError(t, err)
	assert.Nil(t, summary)
	cursors.AssertNotCalled(t, "SetCursor", mock.Anything, mock.Anything, mock.Anything)
}

func TestScheduler_RunOnce_CursorError(t *testing.T) {
	ctx := context.Background()
	runner := new(MockRunner)
	cursors := new(MockCursors)

	cursors.On("GetCursor", ctx, CursorName).Return(nil, errors.New("db closed"))

	s := newTestScheduler(runner, cursors, nil, Config{Interval: time.Minute})
	_, err := s.RunOnce(ctx)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read cursor")
	runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestScheduler_Start_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := new(MockRunner)
	cursors := new(MockCursors)
	pruner := new(MockPruner)

	cursors.On("GetCursor", mock.Anything, CursorName).Return(nil, nil)
	cursors.On("SetCursor", mock.Anything, CursorName, mock.Anything).Return(nil)
	runner.On("Run", mock.Anything, mock.Anything).
		Return(&sync.RunSummary{RunID: "run-1", State: sync.StateIdle}, nil)
	pruner.On("Prune", mock.Anything, 24*time.Hour).Return(int64(2), nil).
		Run(func(mock.Arguments) { cancel() })

	s := newTestScheduler(runner, cursors, pruner, Config{Interval: time.Hour, Retention: 24 * time.Hour})

	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	runner.AssertNumberOfCalls(t, "Run", 1)
	pruner.AssertExpectations(t)
}

func TestScheduler_Start_Disabled(t *testing.T) {
	runner := new(MockRunner)
	s := newTestScheduler(runner, new(MockCursors), nil, Config{})

	s.Start(context.Background())

	runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}
