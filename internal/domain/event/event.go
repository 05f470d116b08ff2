package event

import (
	"time"
)

type Type string

const (
	TypeTaskSubmitted       Type = "task_submitted"
	TypeTaskDispatched      Type = "task_dispatched"
	TypeTaskRunning         Type = "task_running"
	TypeTaskRequeued        Type = "task_requeued"
	TypeTaskSucceeded       Type = "task_succeeded"
	TypeTaskFailed          Type = "task_failed"
	TypeTaskCancelled       Type = "task_cancelled"
	TypeControllerOnline    Type = "controller_online"
	TypeControllerSuspect   Type = "controller_suspect"
	TypeControllerDead      Type = "controller_dead"
	TypeControllerOffline   Type = "controller_offline"
	TypeControllerHeartbeat Type = "controller_heartbeat"
)

// Channel is a domain-scoped pub/sub channel.
// All event types within a domain share one subscription.
type Channel string

const (
	ChannelTask       Channel = "task"
	ChannelController Channel = "controller"
)

var typeToChannel = map[Type]Channel{
	TypeTaskSubmitted:       ChannelTask,
	TypeTaskDispatched:      ChannelTask,
	TypeTaskRunning:         ChannelTask,
	TypeTaskRequeued:        ChannelTask,
	TypeTaskSucceeded:       ChannelTask,
	TypeTaskFailed:          ChannelTask,
	TypeTaskCancelled:       ChannelTask,
	TypeControllerOnline:    ChannelController,
	TypeControllerSuspect:   ChannelController,
	TypeControllerDead:      ChannelController,
	TypeControllerOffline:   ChannelController,
	TypeControllerHeartbeat: ChannelController,
}

// ChannelFor returns the domain channel for a given event type.
func ChannelFor(t Type) Channel { return typeToChannel[t] }

// IsTerminal reports whether the event marks a task's final state.
func (t Type) IsTerminal() bool {
	return t == TypeTaskSucceeded || t == TypeTaskFailed
}

// Event carries identifiers only, not full state.
// Subscribers query the master for the current record.
type Event struct {
	Type         Type      `json:"type"`
	TaskID       string    `json:"task_id,omitempty"`
	ControllerID string    `json:"controller_id,omitempty"`
	Attempt      int       `json:"attempt,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

func New(eventType Type, taskID, controllerID string) Event {
	return Event{
		Type:         eventType,
		TaskID:       taskID,
		ControllerID: controllerID,
		Timestamp:    time.Now().UTC(),
	}
}

func (e Event) WithAttempt(attempt int) Event {
	e.Attempt = attempt
	return e
}

func (e Event) WithReason(reason string) Event {
	e.Reason = reason
	return e
}
