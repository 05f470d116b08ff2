package coordinator

//go:generate mockgen -destination=../../mocks/mock_coordinator.go -package=mocks . Coordinator

import (
	"context"

	"github.com/alanyang/task-mesh/internal/domain/controller"
	"github.com/alanyang/task-mesh/internal/domain/message"
	"github.com/alanyang/task-mesh/internal/domain/task"
)

// Submitter accepts new tasks.
type Submitter interface {
	Submit(ctx context.Context, t task.Task) (task.Task, error)
}

// Coordinator is the master as seen from its transports (operator API, MCP, controller link).
// [ISP] Transports depend on this, never on the concrete master.
type Coordinator interface {
	Submitter
	Cancel(ctx context.Context, taskID string) (task.Task, error)
	Task(ctx context.Context, taskID string) (task.Task, error)
	Tasks(ctx context.Context, filters task.ListFilters) ([]task.Task, error)
	Controllers(ctx context.Context) ([]controller.Controller, error)
	Stats(ctx context.Context) (Stats, error)

	RegisterController(ctx context.Context, reg message.Registration) (controller.Controller, error)
	DeregisterController(ctx context.Context, dereg message.Deregistration) error
	Heartbeat(ctx context.Context, hb message.Heartbeat) error
	Ack(ctx context.Context, ack message.Ack) error
	Report(ctx context.Context, report message.StatusReport) error
}

// Stats is a point-in-time summary of the master's state.
type Stats struct {
	Tasks       map[task.Status]int       `json:"tasks"`
	Controllers map[controller.Health]int `json:"controllers"`
	Load        int                       `json:"load"`
	Capacity    int                       `json:"capacity"`
}
