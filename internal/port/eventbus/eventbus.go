package eventbus

//go:generate mockgen -destination=../../mocks/mock_eventbus.go -package=mocks . EventBus

import (
	"context"

	"github.com/alanyang/task-mesh/internal/domain/event"
)

type Handler func(ctx context.Context, e event.Event)

type Subscription interface {
	Unsubscribe()
}

// EventBus fans cluster events out to observers (websocket clients, metrics, MCP watchers).
type EventBus interface {
	Publish(ctx context.Context, e event.Event) error
	Subscribe(ctx context.Context, ch event.Channel, handler Handler) (Subscription, error)
}
