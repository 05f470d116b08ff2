package task

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending           Status = "pending"
	StatusDispatched        Status = "dispatched"
	StatusRunning           Status = "running"
	StatusRedispatchPending Status = "redispatch_pending"
	StatusSucceeded         Status = "succeeded"
	StatusFailed            Status = "failed"
)

var validTransitions = map[Status][]Status{
	StatusPending:           {StatusDispatched},
	StatusDispatched:        {StatusRunning, StatusPending, StatusRedispatchPending},
	StatusRunning:           {StatusSucceeded, StatusFailed, StatusPending, StatusRedispatchPending},
	StatusRedispatchPending: {StatusPending, StatusFailed},
	StatusSucceeded:         {},
	StatusFailed:            {},
}

func (s Status) CanTransitionTo(target Status) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions can occur.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// IsActive reports whether the task is owned by a controller.
func (s Status) IsActive() bool {
	return s == StatusDispatched || s == StatusRunning
}

func (s Status) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}

type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// FailureKind classifies why an attempt failed.
type FailureKind string

const (
	FailureExecution      FailureKind = "execution"
	FailureTimeout        FailureKind = "timeout"
	FailurePanic          FailureKind = "panic"
	FailureUnsupported    FailureKind = "unsupported"
	FailureControllerLost FailureKind = "controller_lost"
	FailureDispatchLost   FailureKind = "dispatch_lost"
)

// Permanent failures are not retried regardless of the retry budget.
func (k FailureKind) Permanent() bool {
	return k == FailureUnsupported
}

type Task struct {
	ID         string        `json:"id"`
	Type       string        `json:"type"`
	Properties Properties    `json:"properties"`
	Timeout    time.Duration `json:"timeout,omitempty"`
	Status     Status        `json:"status"`
	Retries    int           `json:"retries"`
	Attempt    int           `json:"attempt"`
	Run        int           `json:"run"`
	// AttemptBase is Attempt as it stood when this run began. Attempt keeps
	// counting across runs of the same id so late messages from an earlier
	// run never match the current one.
	AttemptBase  int        `json:"attempt_base,omitempty"`
	ControllerID string     `json:"controller_id,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	SubmittedAt  time.Time  `json:"submitted_at"`
	DispatchedAt *time.Time `json:"dispatched_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// New builds a pending task. An empty id is replaced by a random UUID.
func New(id, typeTag string, props Properties) Task {
	if id == "" {
		id = uuid.NewString()
	}
	return Task{
		ID:          id,
		Type:        typeTag,
		Properties:  props,
		Status:      StatusPending,
		SubmittedAt: time.Now().UTC(),
	}
}

// Result is what a terminal transition hands to the result sink.
type Result struct {
	TaskID       string          `json:"task_id"`
	Type         string          `json:"type"`
	Run          int             `json:"run"`
	Outcome      Outcome         `json:"outcome"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Error        string          `json:"error,omitempty"`
	FailureKind  FailureKind     `json:"failure_kind,omitempty"`
	Attempts     int             `json:"attempts"`
	Retries      int             `json:"retries"`
	ControllerID string          `json:"controller_id,omitempty"`
	FinishedAt   time.Time       `json:"finished_at"`
}

type ListFilters struct {
	Status *Status
	Type   string
}

func (f ListFilters) Match(t Task) bool {
	if f.Status != nil && t.Status != *f.Status {
		return false
	}
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	return true
}
