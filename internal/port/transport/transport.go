package transport

//go:generate mockgen -destination=../../mocks/mock_transport.go -package=mocks . ControllerLink,MasterLink

import (
	"context"

	"github.com/alanyang/task-mesh/internal/domain/message"
)

// ControllerLink is the master's outbound side: commands addressed to one controller.
// A nil error means the message was handed to the transport, not that it arrived.
type ControllerLink interface {
	Dispatch(ctx context.Context, controllerID string, msg message.Dispatch) error
}

// Broadcaster sends a cluster event to every connected controller.
type Broadcaster interface {
	Broadcast(ctx context.Context, msg message.Shutdown) error
}

// MasterLink is the controller's outbound side.
type MasterLink interface {
	Register(ctx context.Context, reg message.Registration) error
	Deregister(ctx context.Context, dereg message.Deregistration) error
	Heartbeat(ctx context.Context, hb message.Heartbeat) error
	Ack(ctx context.Context, ack message.Ack) error
	Report(ctx context.Context, report message.StatusReport) error
}

// DispatchHandler is implemented by the controller to receive master commands.
type DispatchHandler interface {
	OnDispatch(ctx context.Context, msg message.Dispatch) error
	OnShutdown(ctx context.Context, msg message.Shutdown)
}
