package wire

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyang/task-mesh/internal/domain/event"
	"github.com/alanyang/task-mesh/internal/domain/message"
	porteventbus "github.com/alanyang/task-mesh/internal/port/eventbus"
	"github.com/alanyang/task-mesh/internal/service/master"
)

type deregisterer interface {
	DeregisterController(ctx context.Context, dereg message.Deregistration) error
}

// startReaper forgets controllers that stay dead for ttl. A controller that
// comes back online within ttl keeps its entry. The returned func stops every
// pending timer.
func startReaper(ctx context.Context, coord deregisterer, bus porteventbus.EventBus, ttl time.Duration) (func(), error) {
	var (
		mu     sync.Mutex
		timers = make(map[string]*time.Timer)
	)

	reap := func(controllerID string, self **time.Timer) {
		mu.Lock()
		current := timers[controllerID] == *self
		if current {
			delete(timers, controllerID)
		}
		mu.Unlock()
		if !current {
			return
		}

		err := coord.DeregisterController(context.WithoutCancel(ctx), message.Deregistration{ControllerID: controllerID})
		switch {
		case errors.Is(err, master.ErrUnknownController):
		case err != nil:
			slog.Error("reaper: forget dead controller failed", "controller_id", controllerID, "error", err)
		default:
			slog.Info("reaper: dead controller forgotten", "controller_id", controllerID, "ttl", ttl)
		}
	}

	cancel := func(controllerID string) {
		if t, ok := timers[controllerID]; ok {
			t.Stop()
			delete(timers, controllerID)
		}
	}

	_, err := bus.Subscribe(ctx, event.ChannelController, func(_ context.Context, e event.Event) {
		mu.Lock()
		defer mu.Unlock()
		switch e.Type {
		case event.TypeControllerDead:
			cancel(e.ControllerID)
			id := e.ControllerID
			var t *time.Timer
			t = time.AfterFunc(ttl, func() { reap(id, &t) })
			timers[id] = t
		case event.TypeControllerOnline, event.TypeControllerOffline:
			cancel(e.ControllerID)
		}
	})
	if err != nil {
		return nil, err
	}

	return func() {
		mu.Lock()
		defer mu.Unlock()
		for id := range timers {
			cancel(id)
		}
	}, nil
}
