// Package message defines the payloads exchanged between the master and its controllers.
package message

import (
	"encoding/json"
	"time"

	"github.com/alanyang/task-mesh/internal/domain/controller"
	"github.com/alanyang/task-mesh/internal/domain/task"
)

// Dispatch assigns one attempt of a task to a controller.
type Dispatch struct {
	TaskID     string          `json:"task_id"`
	Type       string          `json:"type"`
	Properties task.Properties `json:"properties"`
	Timeout    time.Duration   `json:"timeout,omitempty"`
	Attempt    int             `json:"attempt"`
}

// DispatchFor builds the dispatch message for the task's current attempt.
func DispatchFor(t task.Task) Dispatch {
	return Dispatch{
		TaskID:     t.ID,
		Type:       t.Type,
		Properties: t.Properties,
		Timeout:    t.Timeout,
		Attempt:    t.Attempt,
	}
}

// Ack tells the master whether a dispatch was bound to a worker.
type Ack struct {
	TaskID       string `json:"task_id"`
	ControllerID string `json:"controller_id"`
	Attempt      int    `json:"attempt"`
	Accepted     bool   `json:"accepted"`
	Reason       string `json:"reason,omitempty"`
}

// Rejection reasons carried on a negative Ack.
const (
	ReasonAtCapacity   = "at_capacity"
	ReasonShuttingDown = "shutting_down"
)

type StatusReport struct {
	TaskID       string           `json:"task_id"`
	ControllerID string           `json:"controller_id"`
	Attempt      int              `json:"attempt"`
	Outcome      task.Outcome     `json:"outcome"`
	Payload      json.RawMessage  `json:"payload,omitempty"`
	Error        string           `json:"error,omitempty"`
	FailureKind  task.FailureKind `json:"failure_kind,omitempty"`
}

type Heartbeat struct {
	ControllerID string   `json:"controller_id"`
	InFlight     []string `json:"in_flight"`
}

type Registration struct {
	ControllerID string          `json:"controller_id"`
	Address      string          `json:"address"`
	Capacity     int             `json:"capacity"`
	Meta         controller.Meta `json:"meta"`
}

type Deregistration struct {
	ControllerID string `json:"controller_id"`
}

// Shutdown is broadcast to every controller when the master stops distributing work.
type Shutdown struct {
	Reason string `json:"reason,omitempty"`
}
