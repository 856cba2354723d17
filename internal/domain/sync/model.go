package sync

import (
	"fmt"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"keapsync/internal/domain/entity"
)

type Mode string

const (
	ModeFull         Mode = "full"
	ModeIncremental  Mode = "incremental"
	ModeSingleEntity Mode = "single_entity"
)

func (Mode) Schema(huma.Registry) *huma.Schema {
	return &huma.Schema{
		Type:        "string",
		Enum:        []any{string(ModeFull), string(ModeIncremental), string(ModeSingleEntity)},
		Description: "Режим запуска синхронизации",
		Examples:    []any{ModeIncremental},
	}
}

func (m Mode) Validate() error {
	switch m {
	case ModeFull, ModeIncremental, ModeSingleEntity:
		return nil
	}
	return fmt.Errorf("unknown run mode: %q", string(m))
}

func ParseMode(s string) (Mode, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_") {
	case "full":
		return ModeFull, nil
	case "", "incremental", "incr":
		return ModeIncremental, nil
	case "single_entity", "single", "entity":
		return ModeSingleEntity, nil
	}
	return "", fmt.Errorf("unknown run mode: %q", s)
}

// State шаг конечного автомата запуска
type State string

const (
	StateIdle       State = "idle"
	StateFetching   State = "fetching"
	StateMapping    State = "mapping"
	StateDetecting  State = "detecting"
	StateApplying   State = "applying"
	StateConflicted State = "conflicted"
	StateLogging    State = "logging"
	StateFailed     State = "failed"
)

var transitions = map[State][]State{
	StateIdle:       {StateFetching},
	StateFetching:   {StateMapping, StateIdle},
	StateMapping:    {StateDetecting, StateLogging},
	StateDetecting:  {StateApplying, StateConflicted, StateLogging},
	StateApplying:   {StateLogging},
	StateConflicted: {StateLogging},
	StateLogging:    {StateFetching, StateMapping, StateIdle},
}

// CanTransition сообщает, допустим ли переход; в Failed можно попасть из любого шага
func CanTransition(from, to State) bool {
	if to == StateFailed {
		return from != StateFailed
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// RunRequest параметры одного запуска. Since передается явно и сохраняется вызывающей стороной.
type RunRequest struct {
	RunID  string
	Mode   Mode
	Types  []entity.Type
	Since  *time.Time
	KeapID string
}

func (r RunRequest) validate() error {
	if err := r.Mode.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRun, err)
	}
	for _, t := range r.Types {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRun, err)
		}
	}
	switch r.Mode {
	case ModeIncremental:
		if r.Since == nil {
			return fmt.Errorf("%w: incremental run requires since", ErrInvalidRun)
		}
	case ModeSingleEntity:
		if len(r.Types) != 1 || strings.TrimSpace(r.KeapID) == "" {
			return fmt.Errorf("%w: single entity run requires one type and keap id", ErrInvalidRun)
		}
	}
	return nil
}

// RunSummary итог запуска; возвращается всегда, даже при частичном сбое
type RunSummary struct {
	RunID       string        `json:"run_id"`
	Mode        Mode          `json:"mode"`
	Types       []entity.Type `json:"entity_types"`
	Since       *time.Time    `json:"since,omitempty"`
	State       State         `json:"state"`
	Total       int           `json:"total"`
	Applied     int           `json:"applied"`
	Unchanged   int           `json:"unchanged"`
	Conflicted  int           `json:"conflicted"`
	Resolved    int           `json:"resolved"`
	Skipped     int           `json:"skipped"`
	Errored     int           `json:"errored"`
	Retryable   int           `json:"retryable,omitempty"`
	PagesFailed int           `json:"pages_failed"`
	Cancelled   bool          `json:"cancelled,omitempty"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
}

// Complete сообщает, что запуск прошел до конца без пропущенных страниц; только тогда можно сдвигать курсор
func (s *RunSummary) Complete() bool {
	return s.State == StateIdle && !s.Cancelled && s.PagesFailed == 0
}

func (s *RunSummary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// outcome результат обработки одной сущности
type outcome int

const (
	outcomeApplied outcome = iota
	outcomeUnchanged
	outcomeConflicted
	outcomeResolved
	outcomeSkipped
	outcomeErrored
	// сбой, который исчезнет при повторе: сеть CRM или запись в зеркало
	outcomeRetryable
)

func (s *RunSummary) add(o outcome) {
	s.Total++
	switch o {
	case outcomeApplied:
		s.Applied++
	case outcomeUnchanged:
		s.Unchanged++
	case outcomeConflicted:
		s.Conflicted++
	case outcomeResolved:
		s.Applied++
		s.Resolved++
	case outcomeSkipped:
		s.Skipped++
	case outcomeErrored:
		s.Errored++
	case outcomeRetryable:
		s.Errored++
		s.Retryable++
	}
}
