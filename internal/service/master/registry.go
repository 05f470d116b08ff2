package master

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyang/task-mesh/internal/domain/controller"
	"github.com/alanyang/task-mesh/internal/domain/event"
	"github.com/alanyang/task-mesh/internal/domain/message"
	"github.com/alanyang/task-mesh/internal/domain/task"
	porttransport "github.com/alanyang/task-mesh/internal/port/transport"
)

// RegisterController adds or refreshes a registry entry.
func (m *Master) RegisterController(ctx context.Context, reg message.Registration) (controller.Controller, error) {
	if reg.ControllerID == "" {
		return controller.Controller{}, fmt.Errorf("register controller: empty id: %w", ErrInvalidRegistration)
	}
	if reg.Capacity < 1 {
		return controller.Controller{}, fmt.Errorf("register controller %s: %w", reg.ControllerID, ErrInvalidCapacity)
	}

	var (
		out controller.Controller
		err error
	)
	if callErr := m.do(ctx, m.control, func(ctx context.Context) {
		out, err = m.register(ctx, reg)
	}); callErr != nil {
		return controller.Controller{}, fmt.Errorf("register controller: %w", callErr)
	}
	return out, err
}

func (m *Master) register(ctx context.Context, reg message.Registration) (controller.Controller, error) {
	if m.draining {
		return controller.Controller{}, fmt.Errorf("register controller %s: %w", reg.ControllerID, ErrDraining)
	}
	now := m.now()

	if c, ok := m.controllers[reg.ControllerID]; ok {
		if c.Address == reg.Address {
			wasHealth := c.Health
			c.Capacity = reg.Capacity
			c.Meta = reg.Meta
			c.Health = controller.HealthAlive
			c.Saturated = false
			c.RecordHeartbeat(now)
			slog.InfoContext(ctx, "master: controller re-registered",
				"controller_id", c.ID, "address", c.Address, "capacity", c.Capacity, "previous_health", wasHealth)
			m.emit(event.New(event.TypeControllerOnline, "", c.ID).WithReason("re-registered"))
			return *c, nil
		}
		if c.Health == controller.HealthAlive {
			slog.WarnContext(ctx, "master: registry conflict, registration rejected",
				"controller_id", c.ID, "address", c.Address, "conflicting_address", reg.Address)
			return controller.Controller{}, fmt.Errorf("register controller %s at %s: %w", reg.ControllerID, reg.Address, ErrDuplicateController)
		}
		// A non-alive entry at another address is replaced; its work is gone with it.
		m.redispatchAll(ctx, c, m.ownedBy(c.ID), task.FailureControllerLost, "controller replaced")
		delete(m.assigned, c.ID)
	}

	entry := controller.New(reg.ControllerID, reg.Address, reg.Capacity, reg.Meta, now)
	m.controllers[entry.ID] = &entry
	m.assigned[entry.ID] = make(map[string]*task.Task)

	slog.InfoContext(ctx, "master: controller registered",
		"controller_id", entry.ID, "address", entry.Address, "capacity", entry.Capacity)
	m.emit(event.New(event.TypeControllerOnline, "", entry.ID))
	return entry, nil
}

// DeregisterController removes a controller that is exiting cleanly. Any task
// it still owns goes back through the redispatch path.
func (m *Master) DeregisterController(ctx context.Context, dereg message.Deregistration) error {
	var err error
	if callErr := m.do(ctx, m.control, func(ctx context.Context) {
		c, ok := m.controllers[dereg.ControllerID]
		if !ok {
			err = fmt.Errorf("deregister controller %s: %w", dereg.ControllerID, ErrUnknownController)
			return
		}
		m.redispatchAll(ctx, c, m.ownedBy(c.ID), task.FailureControllerLost, "controller deregistered")
		delete(m.controllers, c.ID)
		delete(m.assigned, c.ID)
		slog.InfoContext(ctx, "master: controller deregistered", "controller_id", c.ID)
		m.emit(event.New(event.TypeControllerOffline, "", c.ID))
	}); callErr != nil {
		return fmt.Errorf("deregister controller: %w", callErr)
	}
	return err
}

// Heartbeat refreshes liveness and reconciles the controller's in-flight set
// against what the master believes it owns.
func (m *Master) Heartbeat(ctx context.Context, hb message.Heartbeat) error {
	var err error
	if callErr := m.do(ctx, m.heartbeats, func(ctx context.Context) {
		err = m.heartbeat(ctx, hb)
	}); callErr != nil {
		return fmt.Errorf("heartbeat: %w", callErr)
	}
	return err
}

func (m *Master) heartbeat(ctx context.Context, hb message.Heartbeat) error {
	c, ok := m.controllers[hb.ControllerID]
	if !ok {
		slog.WarnContext(ctx, "master: heartbeat from unknown controller discarded", "controller_id", hb.ControllerID)
		return fmt.Errorf("heartbeat from %s: %w", hb.ControllerID, ErrUnknownController)
	}
	if c.Health == controller.HealthDead {
		return fmt.Errorf("heartbeat from %s: %w", hb.ControllerID, ErrControllerDead)
	}

	now := m.now()
	c.RecordHeartbeat(now)
	c.Saturated = false
	if c.Health == controller.HealthSuspect {
		c.Health = controller.HealthAlive
		slog.InfoContext(ctx, "master: suspect controller recovered", "controller_id", c.ID)
		m.emit(event.New(event.TypeControllerOnline, "", c.ID).WithReason("heartbeat resumed"))
	}

	reported := make(map[string]bool, len(hb.InFlight))
	for _, id := range hb.InFlight {
		reported[id] = true
	}

	var lost []*task.Task
	for _, t := range m.ownedBy(c.ID) {
		if reported[t.ID] {
			delete(reported, t.ID)
			m.markRunning(ctx, t)
			continue
		}
		if t.DispatchedAt != nil && now.Sub(*t.DispatchedAt) > m.cfg.HeartbeatInterval {
			lost = append(lost, t)
		}
	}
	if len(lost) > 0 {
		slog.WarnContext(ctx, "master: dispatched tasks missing from heartbeat, redispatching",
			"controller_id", c.ID, "count", len(lost))
		m.redispatchAll(ctx, c, lost, task.FailureDispatchLost, "dispatch lost")
	}
	for id := range reported {
		slog.DebugContext(ctx, "master: controller reports a task it does not own", "controller_id", c.ID, "task_id", id)
	}
	return nil
}

// checkTimeouts is the failure detector: alive → suspect after
// heartbeat_timeout, suspect → dead after a further suspect_grace.
func (m *Master) checkTimeouts(ctx context.Context) {
	now := m.now()
	for _, id := range m.controllerIDs() {
		c := m.controllers[id]
		silence := c.Silence(now)

		if c.Health == controller.HealthAlive && silence > m.cfg.HeartbeatTimeout {
			c.Health = controller.HealthSuspect
			slog.WarnContext(ctx, "master: controller suspect", "controller_id", c.ID, "silence", silence)
			m.emit(event.New(event.TypeControllerSuspect, "", c.ID))
		}
		if c.Health == controller.HealthSuspect && silence > m.cfg.HeartbeatTimeout+m.cfg.SuspectGrace {
			m.markDead(ctx, c, silence)
		}
	}
	m.pruneTerminal()
}

func (m *Master) markDead(ctx context.Context, c *controller.Controller, silence time.Duration) {
	c.Health = controller.HealthDead
	c.Saturated = false
	lost := m.ownedBy(c.ID)
	slog.ErrorContext(ctx, "master: controller dead, redispatching its tasks",
		"controller_id", c.ID, "silence", silence, "tasks", len(lost))
	m.emit(event.New(event.TypeControllerDead, "", c.ID))
	m.redispatchAll(ctx, c, lost, task.FailureControllerLost, "controller lost")
}

// Shutdown stops distribution, tells every controller to exit and waits until
// all of them have deregistered or been declared dead. The caller stops Run afterwards.
func (m *Master) Shutdown(ctx context.Context) error {
	if err := m.do(ctx, m.control, func(ctx context.Context) {
		m.draining = true
		slog.InfoContext(ctx, "master: draining, distribution stopped", "pending", m.pending.Len())
	}); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	if b, ok := m.link.(porttransport.Broadcaster); ok {
		if err := b.Broadcast(ctx, message.Shutdown{Reason: "master shutting down"}); err != nil {
			slog.ErrorContext(ctx, "master: shutdown broadcast failed", "error", err)
		}
	}

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		remaining := 0
		if err := m.do(ctx, m.control, func(context.Context) {
			for _, c := range m.controllers {
				if c.Health != controller.HealthDead {
					remaining++
				}
			}
		}); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		if remaining == 0 {
			slog.InfoContext(ctx, "master: all controllers gone")
			return nil
		}
		select {
		case <-ctx.Done():
			slog.WarnContext(ctx, "master: shutdown wait expired", "controllers_remaining", remaining)
			return fmt.Errorf("shutdown: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}
