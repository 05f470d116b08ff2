package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/alanyang/task-mesh/internal/domain/message"
	portcoord "github.com/alanyang/task-mesh/internal/port/coordinator"
	porttransport "github.com/alanyang/task-mesh/internal/port/transport"
)

var (
	ErrNotAttached = errors.New("controller not attached to network")
	ErrUnreachable = errors.New("network partitioned")
)

var (
	_ porttransport.ControllerLink = (*Network)(nil)
	_ porttransport.Broadcaster    = (*Network)(nil)
	_ porttransport.MasterLink     = (*Endpoint)(nil)
)

// DropFunc decides whether a dispatch to controllerID is silently lost.
type DropFunc func(controllerID string, msg message.Dispatch) bool

// Network is an in-process link between one master and many controllers.
// Dispatches and broadcasts are delivered on their own goroutines, as a
// real transport would, so handlers may call back into the master.
type Network struct {
	mu          sync.RWMutex
	coord       portcoord.Coordinator
	handlers    map[string]porttransport.DispatchHandler
	partitioned map[string]bool
	drop        DropFunc
	wg          sync.WaitGroup
}

func NewNetwork() *Network {
	return &Network{
		handlers:    make(map[string]porttransport.DispatchHandler),
		partitioned: make(map[string]bool),
	}
}

func (n *Network) SetCoordinator(c portcoord.Coordinator) {
	n.mu.Lock()
	n.coord = c
	n.mu.Unlock()
}

// Attach connects a controller and returns its side of the link.
func (n *Network) Attach(controllerID string, h porttransport.DispatchHandler) *Endpoint {
	n.mu.Lock()
	n.handlers[controllerID] = h
	n.mu.Unlock()
	return &Endpoint{net: n, controllerID: controllerID}
}

// Endpoint returns the controller side of the link without a handler yet.
func (n *Network) Endpoint(controllerID string) *Endpoint {
	return &Endpoint{net: n, controllerID: controllerID}
}

func (n *Network) SetHandler(controllerID string, h porttransport.DispatchHandler) {
	n.mu.Lock()
	n.handlers[controllerID] = h
	n.mu.Unlock()
}

func (n *Network) Detach(controllerID string) {
	n.mu.Lock()
	delete(n.handlers, controllerID)
	n.mu.Unlock()
}

// Partition cuts (or restores) all traffic to and from controllerID.
// Dispatches into a partition are accepted and lost.
func (n *Network) Partition(controllerID string, cut bool) {
	n.mu.Lock()
	n.partitioned[controllerID] = cut
	n.mu.Unlock()
}

func (n *Network) SetDropFunc(fn DropFunc) {
	n.mu.Lock()
	n.drop = fn
	n.mu.Unlock()
}

// Wait blocks until every in-flight delivery goroutine has returned.
func (n *Network) Wait() { n.wg.Wait() }

func (n *Network) Dispatch(ctx context.Context, controllerID string, msg message.Dispatch) error {
	n.mu.RLock()
	h, ok := n.handlers[controllerID]
	cut := n.partitioned[controllerID]
	drop := n.drop
	n.mu.RUnlock()

	if !ok {
		return fmt.Errorf("dispatch to %s: %w", controllerID, ErrNotAttached)
	}
	if cut || (drop != nil && drop(controllerID, msg)) {
		return nil
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		_ = h.OnDispatch(context.WithoutCancel(ctx), msg)
	}()
	return nil
}

func (n *Network) Broadcast(ctx context.Context, msg message.Shutdown) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for id, h := range n.handlers {
		if n.partitioned[id] {
			continue
		}
		n.wg.Add(1)
		go func(h porttransport.DispatchHandler) {
			defer n.wg.Done()
			h.OnShutdown(context.WithoutCancel(ctx), msg)
		}(h)
	}
	return nil
}

func (n *Network) reach(controllerID string) (portcoord.Coordinator, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.partitioned[controllerID] {
		return nil, ErrUnreachable
	}
	if n.coord == nil {
		return nil, ErrNotAttached
	}
	return n.coord, nil
}

// Endpoint is one controller's view of the network.
type Endpoint struct {
	net          *Network
	controllerID string
}

func (e *Endpoint) Register(ctx context.Context, reg message.Registration) error {
	c, err := e.net.reach(e.controllerID)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	_, err = c.RegisterController(ctx, reg)
	return err
}

func (e *Endpoint) Deregister(ctx context.Context, dereg message.Deregistration) error {
	c, err := e.net.reach(e.controllerID)
	if err != nil {
		return fmt.Errorf("deregister: %w", err)
	}
	return c.DeregisterController(ctx, dereg)
}

func (e *Endpoint) Heartbeat(ctx context.Context, hb message.Heartbeat) error {
	c, err := e.net.reach(e.controllerID)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return c.Heartbeat(ctx, hb)
}

func (e *Endpoint) Ack(ctx context.Context, ack message.Ack) error {
	c, err := e.net.reach(e.controllerID)
	if err != nil {
		return fmt.Errorf("ack: %w", err)
	}
	return c.Ack(ctx, ack)
}

func (e *Endpoint) Report(ctx context.Context, report message.StatusReport) error {
	c, err := e.net.reach(e.controllerID)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}
	return c.Report(ctx, report)
}
