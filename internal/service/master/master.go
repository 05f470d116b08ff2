package master

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/alanyang/task-mesh/internal/domain/controller"
	"github.com/alanyang/task-mesh/internal/domain/event"
	"github.com/alanyang/task-mesh/internal/domain/task"
	portcoord "github.com/alanyang/task-mesh/internal/port/coordinator"
	portdist "github.com/alanyang/task-mesh/internal/port/distributor"
	porteventbus "github.com/alanyang/task-mesh/internal/port/eventbus"
	portsink "github.com/alanyang/task-mesh/internal/port/sink"
	porttransport "github.com/alanyang/task-mesh/internal/port/transport"
	distsvc "github.com/alanyang/task-mesh/internal/service/distributor"
)

var (
	ErrTaskConflict        = errors.New("task id already active")
	ErrTaskNotFound        = errors.New("task not found")
	ErrNotPending          = errors.New("task is not pending")
	ErrInvalidTask         = errors.New("invalid task")
	ErrInvalidRegistration = errors.New("invalid controller registration")
	ErrInvalidCapacity     = errors.New("controller capacity must be at least 1")
	ErrDuplicateController = errors.New("controller id registered with a different address")
	ErrUnknownController   = errors.New("unknown controller")
	ErrControllerDead      = errors.New("controller was declared dead")
	ErrDraining            = errors.New("master is shutting down")
	ErrStopped             = errors.New("master is not running")
	ErrAlreadyRunning      = errors.New("master already running")
)

var _ portcoord.Coordinator = (*Master)(nil)

type Config struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	SuspectGrace      time.Duration
	MaxRetries        int
	CheckInterval     time.Duration
	SendTimeout       time.Duration
	ResultRetention   time.Duration
	FlushTimeout      time.Duration
}

func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 5 * time.Second,
		HeartbeatTimeout:  15 * time.Second,
		SuspectGrace:      15 * time.Second,
		MaxRetries:        3,
		CheckInterval:     time.Second,
		SendTimeout:       2 * time.Second,
		ResultRetention:   time.Hour,
		FlushTimeout:      5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 3 * c.HeartbeatInterval
	}
	if c.SuspectGrace <= 0 {
		c.SuspectGrace = 3 * c.HeartbeatInterval
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = c.HeartbeatInterval / 2
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = d.SendTimeout
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = d.FlushTimeout
	}
	return c
}

type Option func(*Master)

// WithClock replaces time.Now; tests drive the failure detector with it.
func WithClock(now func() time.Time) Option {
	return func(m *Master) { m.now = now }
}

func WithDistributor(d portdist.Distributor) Option {
	return func(m *Master) { m.dist = d }
}

func WithSink(s portsink.ResultSink) Option {
	return func(m *Master) { m.sink = s }
}

func WithEventBus(b porteventbus.EventBus) Option {
	return func(m *Master) { m.bus = b }
}

// op is one unit of work for the coordination loop.
type op struct {
	apply func(ctx context.Context)
	done  chan struct{}
}

// Master owns the task queue and the controller registry.
// [SRP] Every mutation happens on the goroutine running Run; public methods
// only post ops to it and wait for the reply.
type Master struct {
	cfg  Config
	link porttransport.ControllerLink
	dist portdist.Distributor
	sink portsink.ResultSink
	bus  porteventbus.EventBus
	now  func() time.Time

	submissions chan op
	heartbeats  chan op
	reports     chan op
	control     chan op

	startOnce sync.Once
	started   chan struct{}
	stopped   chan struct{}

	// ── loop-owned state ─────────────────────────────────────────────────────
	tasks       map[string]*task.Task
	pending     *orderedmap.OrderedMap[string, *task.Task]
	controllers map[string]*controller.Controller
	assigned    map[string]map[string]*task.Task // controllerID → taskID → task
	retired     map[string]retiredRun
	draining    bool

	results *outbox[task.Result]
	events  *outbox[event.Event]
}

func New(cfg Config, link porttransport.ControllerLink, opts ...Option) *Master {
	m := &Master{
		cfg:         cfg.withDefaults(),
		link:        link,
		dist:        distsvc.NewService(),
		now:         func() time.Time { return time.Now().UTC() },
		submissions: make(chan op),
		heartbeats:  make(chan op),
		reports:     make(chan op),
		control:     make(chan op),
		started:     make(chan struct{}),
		stopped:     make(chan struct{}),
		tasks:       make(map[string]*task.Task),
		pending:     orderedmap.New[string, *task.Task](),
		controllers: make(map[string]*controller.Controller),
		assigned:    make(map[string]map[string]*task.Task),
		retired:     make(map[string]retiredRun),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.results = newOutbox("results", func(ctx context.Context, r task.Result) error {
		if m.sink == nil {
			return nil
		}
		return m.sink.Deliver(ctx, r)
	})
	m.events = newOutbox("events", func(ctx context.Context, e event.Event) error {
		if m.bus == nil {
			return nil
		}
		return m.bus.Publish(ctx, e)
	})
	return m
}

// Config returns the effective configuration after defaults.
func (m *Master) Config() Config { return m.cfg }

// Run drives the coordination loop until ctx is cancelled, then flushes the
// result and event outboxes within FlushTimeout.
func (m *Master) Run(ctx context.Context) error {
	first := false
	m.startOnce.Do(func() { first = true })
	if !first {
		return ErrAlreadyRunning
	}

	outCtx, cancelOut := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelOut()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); m.results.run(outCtx) }()
	go func() { defer wg.Done(); m.events.run(outCtx) }()

	close(m.started)
	slog.InfoContext(ctx, "master: coordination loop started",
		"heartbeat_timeout", m.cfg.HeartbeatTimeout,
		"suspect_grace", m.cfg.SuspectGrace,
		"max_retries", m.cfg.MaxRetries,
	)
	m.loop(ctx)
	close(m.stopped)

	m.results.close()
	m.events.close()
	flushed := make(chan struct{})
	go func() { wg.Wait(); close(flushed) }()
	select {
	case <-flushed:
	case <-time.After(m.cfg.FlushTimeout):
		slog.Warn("master: outbox flush timed out", "timeout", m.cfg.FlushTimeout)
		cancelOut()
		<-flushed
	}
	slog.Info("master: coordination loop stopped")
	return nil
}

func (m *Master) loop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case o := <-m.submissions:
			m.handle(ctx, o)
		case o := <-m.heartbeats:
			m.handle(ctx, o)
		case o := <-m.reports:
			m.handle(ctx, o)
		case o := <-m.control:
			m.handle(ctx, o)
		case <-ticker.C:
			m.handle(ctx, op{apply: m.checkTimeouts})
		}
	}
}

// handle applies one op and then runs a dispatch pass. A panic inside an op
// is logged and the loop keeps serving.
func (m *Master) handle(ctx context.Context, o op) {
	defer func() {
		if o.done != nil {
			close(o.done)
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "master: recovered from panic in coordination loop",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()

	o.apply(ctx)
	m.dispatchPending(ctx)
}

// do posts fn to the loop through ch and waits until it has been applied.
func (m *Master) do(ctx context.Context, ch chan op, fn func(ctx context.Context)) error {
	o := op{apply: fn, done: make(chan struct{})}
	select {
	case ch <- o:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.stopped:
		return ErrStopped
	}
	select {
	case <-o.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.stopped:
		return ErrStopped
	}
}

// CheckTimeouts runs the failure detector immediately instead of waiting for the ticker.
func (m *Master) CheckTimeouts(ctx context.Context) error {
	return m.do(ctx, m.control, m.checkTimeouts)
}

// Started is closed once Run has begun serving.
func (m *Master) Started() <-chan struct{} { return m.started }

func (m *Master) emit(e event.Event) {
	e.Timestamp = m.now()
	m.events.push(e)
}
