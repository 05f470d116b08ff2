package wire

import (
	"context"
	"errors"

	"github.com/alanyang/task-mesh/internal/adapter/memory"
	"github.com/alanyang/task-mesh/internal/domain/message"
	porttransport "github.com/alanyang/task-mesh/internal/port/transport"
)

type controllerLink interface {
	porttransport.ControllerLink
	porttransport.Broadcaster
}

var _ controllerLink = splitLink{}

// splitLink reaches in-process controllers over the memory network and
// everyone else over the websocket link.
type splitLink struct {
	local  *memory.Network
	remote controllerLink
}

func (l splitLink) Dispatch(ctx context.Context, controllerID string, msg message.Dispatch) error {
	err := l.local.Dispatch(ctx, controllerID, msg)
	if errors.Is(err, memory.ErrNotAttached) {
		return l.remote.Dispatch(ctx, controllerID, msg)
	}
	return err
}

func (l splitLink) Broadcast(ctx context.Context, msg message.Shutdown) error {
	return errors.Join(l.local.Broadcast(ctx, msg), l.remote.Broadcast(ctx, msg))
}
