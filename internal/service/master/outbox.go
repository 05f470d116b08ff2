package master

import (
	"context"
	"log/slog"
	"sync"
)

// outbox hands loop output to a slow collaborator without blocking the loop.
// Items are delivered in push order, one deliver call each.
type outbox[T any] struct {
	name    string
	deliver func(context.Context, T) error

	mu     sync.Mutex
	items  []T
	closed bool
	signal chan struct{}
}

func newOutbox[T any](name string, deliver func(context.Context, T) error) *outbox[T] {
	return &outbox[T]{
		name:    name,
		deliver: deliver,
		signal:  make(chan struct{}, 1),
	}
}

func (o *outbox[T]) push(v T) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		slog.Warn("master: outbox closed, dropping item", "outbox", o.name)
		return
	}
	o.items = append(o.items, v)
	o.mu.Unlock()
	o.wake()
}

func (o *outbox[T]) close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.wake()
}

func (o *outbox[T]) wake() {
	select {
	case o.signal <- struct{}{}:
	default:
	}
}

// run delivers until close has been called and the backlog is empty.
func (o *outbox[T]) run(ctx context.Context) {
	for {
		o.mu.Lock()
		batch := o.items
		o.items = nil
		closed := o.closed
		o.mu.Unlock()

		for _, v := range batch {
			if err := o.deliver(ctx, v); err != nil {
				slog.ErrorContext(ctx, "master: outbox delivery failed", "outbox", o.name, "error", err)
			}
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-o.signal
	}
}
