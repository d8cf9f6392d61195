package models

import (
	"slices"
	"time"
)

// ExecutionStatus is the lifecycle state of an Execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusPaused    ExecutionStatus = "paused"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// CancellationError marks a failed execution as canceled by a user. There is no separate
// canceled status; cancellation is stored as failed with this error.
const CancellationError = "execution canceled by user"

// ValidExecutionTransitions lists, for each status, the statuses it may move to.
var ValidExecutionTransitions = map[ExecutionStatus][]ExecutionStatus{
	ExecutionStatusPending: {ExecutionStatusRunning, ExecutionStatusFailed},
	ExecutionStatusRunning: {ExecutionStatusPaused, ExecutionStatusCompleted, ExecutionStatusFailed},
	ExecutionStatusPaused:  {ExecutionStatusRunning, ExecutionStatusFailed},
}

// IsTerminal reports whether no further transition is allowed out of s.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed
}

// IsValid reports whether s is a known execution status.
func (s ExecutionStatus) IsValid() bool {
	switch s {
	case ExecutionStatusPending, ExecutionStatusRunning, ExecutionStatusPaused,
		ExecutionStatusCompleted, ExecutionStatusFailed:
		return true
	}

	return false
}

// CanTransition reports whether from -> to is allowed by the execution state machine.
func CanTransition(from, to ExecutionStatus) bool {
	return slices.Contains(ValidExecutionTransitions[from], to)
}

// TransitionSources returns every status that may move to the given status.
func TransitionSources(to ExecutionStatus) []ExecutionStatus {
	var sources []ExecutionStatus

	for _, from := range []ExecutionStatus{ExecutionStatusPending, ExecutionStatusRunning, ExecutionStatusPaused} {
		if CanTransition(from, to) {
			sources = append(sources, from)
		}
	}

	return sources
}

// Execution is one run of a workflow.
type Execution struct {
	ID          string          `json:"id"`
	WorkflowID  string          `json:"workflow_id"`
	Status      ExecutionStatus `json:"status"`
	TriggeredBy *string         `json:"triggered_by,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
	Error       string          `json:"error,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
	// Generation identifies the job that owns the execution. Jobs carrying another generation
	// are stale.
	Generation int `json:"generation"`
	// Released is set while a paused execution is not held by any worker.
	Released bool `json:"released"`
}

// IsCanceled reports whether the execution failed because a user canceled it.
func (e *Execution) IsCanceled() bool {
	return e.Status == ExecutionStatusFailed && e.Error == CancellationError
}

// Duration returns the wall-clock duration of a finished execution.
func (e *Execution) Duration() (time.Duration, bool) {
	if e.FinishedAt == nil {
		return 0, false
	}

	return e.FinishedAt.Sub(e.StartedAt), true
}

// ExecutionTransition describes a conditional status change applied by a store.
type ExecutionTransition struct {
	ExecutionID string
	From        []ExecutionStatus
	To          ExecutionStatus
	Error       string
	At          time.Time
	// Generation, when set, restricts the transition to executions at that generation.
	Generation *int
	// Released, when set, restricts the transition to executions whose released flag matches.
	Released *bool
	// Release hands a paused execution back: the generation is bumped, so jobs issued before
	// it become stale, and the execution is flagged released until it runs again.
	Release bool
}

// NewReleaseTransition builds the transition a worker applies when it lets go of a paused
// execution it owns at generation.
func NewReleaseTransition(executionID string, from ExecutionStatus, generation int, at time.Time) ExecutionTransition {
	return ExecutionTransition{
		ExecutionID: executionID,
		From:        []ExecutionStatus{from},
		To:          ExecutionStatusPaused,
		At:          at,
		Release:     true,
	}.OwnedBy(generation)
}

// OwnedBy restricts the transition to the given generation.
func (t ExecutionTransition) OwnedBy(generation int) ExecutionTransition {
	t.Generation = &generation

	return t
}

// WhenReleased restricts the transition to executions whose released flag equals released.
func (t ExecutionTransition) WhenReleased(released bool) ExecutionTransition {
	t.Released = &released

	return t
}

// Matches reports whether the transition's conditions hold for the execution.
func (t ExecutionTransition) Matches(execution *Execution) bool {
	if !slices.Contains(t.From, execution.Status) {
		return false
	}

	if t.Generation != nil && *t.Generation != execution.Generation {
		return false
	}

	return t.Released == nil || *t.Released == execution.Released
}

// NewExecutionTransition builds a transition to the given status from every status the state
// machine allows.
func NewExecutionTransition(executionID string, to ExecutionStatus, errMessage string, at time.Time) ExecutionTransition {
	return ExecutionTransition{
		ExecutionID: executionID,
		From:        TransitionSources(to),
		To:          to,
		Error:       errMessage,
		At:          at,
	}
}

// Apply mutates the execution according to the transition, keeping finished_at and error
// consistent with the target status.
func (t ExecutionTransition) Apply(execution *Execution) {
	execution.Status = t.To
	execution.UpdatedAt = t.At

	if t.To.IsTerminal() {
		at := t.At
		execution.FinishedAt = &at
	} else {
		execution.FinishedAt = nil
	}

	if t.To == ExecutionStatusFailed {
		execution.Error = t.Error
	} else {
		execution.Error = ""
	}

	switch {
	case t.Release:
		execution.Generation++
		execution.Released = true
	case t.To == ExecutionStatusRunning:
		execution.Released = false
	}
}
