package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	domainctrl "github.com/alanyang/task-mesh/internal/domain/controller"
	"github.com/alanyang/task-mesh/internal/domain/message"
	domainworker "github.com/alanyang/task-mesh/internal/domain/worker"
	porttransport "github.com/alanyang/task-mesh/internal/port/transport"
	"github.com/alanyang/task-mesh/internal/service/master"
	"github.com/alanyang/task-mesh/internal/service/worker"
)

var (
	ErrAtCapacity    = errors.New("controller at capacity")
	ErrShuttingDown  = errors.New("controller is shutting down")
	ErrInvalidConfig = errors.New("invalid controller config")
)

const (
	MinPoolSize = 1
	MaxPoolSize = 1000
)

var _ porttransport.DispatchHandler = (*Service)(nil)

type Config struct {
	ID                string
	Address           string
	PoolSize          int
	HeartbeatInterval time.Duration
	ShutdownTimeout   time.Duration
	Version           string
}

func (c Config) validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: empty controller id", ErrInvalidConfig)
	}
	if c.PoolSize < MinPoolSize || c.PoolSize > MaxPoolSize {
		return fmt.Errorf("%w: worker pool size %d outside %d..%d", ErrInvalidConfig, c.PoolSize, MinPoolSize, MaxPoolSize)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("%w: heartbeat interval must be positive", ErrInvalidConfig)
	}
	return nil
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMeta overrides the host metadata sent at registration.
func WithMeta(meta domainctrl.Meta) Option {
	return func(s *Service) { s.meta = &meta }
}

// Service is the agent process: a fixed pool of worker slots fed by the master.
type Service struct {
	cfg    Config
	link   porttransport.MasterLink
	runner *worker.Runner
	now    func() time.Time
	meta   *domainctrl.Meta

	mu         sync.Mutex
	workers    []domainworker.Worker
	unreported map[string]message.StatusReport
	accepting  bool

	running    sync.WaitGroup
	execCtx    context.Context
	execCancel context.CancelFunc

	shutdown     chan struct{}
	shutdownOnce sync.Once
}

func New(cfg Config, link porttransport.MasterLink, runner *worker.Runner, opts ...Option) (*Service, error) {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	execCtx, execCancel := context.WithCancel(context.Background())
	s := &Service{
		cfg:        cfg,
		link:       link,
		runner:     runner,
		now:        time.Now,
		workers:    make([]domainworker.Worker, cfg.PoolSize),
		unreported: make(map[string]message.StatusReport),
		accepting:  true,
		execCtx:    execCtx,
		execCancel: execCancel,
		shutdown:   make(chan struct{}),
	}
	for i := range s.workers {
		s.workers[i] = domainworker.New(i)
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Service) ID() string { return s.cfg.ID }

// Run registers with the master, heartbeats until ctx is cancelled or the
// master broadcasts a shutdown, then drains the pool and deregisters.
func (s *Service) Run(ctx context.Context) error {
	if err := s.register(ctx); err != nil {
		return fmt.Errorf("controller run: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return s.heartbeatLoop(gctx) })
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-s.shutdown:
			slog.InfoContext(ctx, "controller: shutdown requested by master", "controller_id", s.cfg.ID)
		}
		cancel()
		return nil
	})
	if err := g.Wait(); err != nil {
		slog.ErrorContext(ctx, "controller: run loop failed", "controller_id", s.cfg.ID, "error", err)
	}

	drainCtx, drainCancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer drainCancel()
	return s.drain(drainCtx)
}

// OnDispatch binds the dispatch to an idle slot and acknowledges it.
func (s *Service) OnDispatch(ctx context.Context, d message.Dispatch) error {
	s.mu.Lock()
	if !s.accepting {
		s.mu.Unlock()
		s.ack(ctx, d, false, message.ReasonShuttingDown)
		return fmt.Errorf("dispatch %s: %w", d.TaskID, ErrShuttingDown)
	}
	if s.busyWith(d.TaskID, d.Attempt) {
		s.mu.Unlock()
		slog.DebugContext(ctx, "controller: duplicate dispatch acknowledged", "task_id", d.TaskID, "attempt", d.Attempt)
		s.ack(ctx, d, true, "")
		return nil
	}
	slot := s.idleSlot()
	if slot < 0 {
		s.mu.Unlock()
		slog.WarnContext(ctx, "controller: dispatch rejected, pool full", "task_id", d.TaskID, "pool_size", s.cfg.PoolSize)
		s.ack(ctx, d, false, message.ReasonAtCapacity)
		return fmt.Errorf("dispatch %s: %w", d.TaskID, ErrAtCapacity)
	}
	s.workers[slot].Bind(d.TaskID, d.Attempt, s.now())
	s.running.Add(1)
	s.mu.Unlock()

	s.ack(ctx, d, true, "")
	slog.InfoContext(ctx, "controller: task started",
		"task_id", d.TaskID, "type", d.Type, "attempt", d.Attempt, "slot", slot)
	go s.work(slot, d)
	return nil
}

// OnShutdown starts the drain. Repeated broadcasts are ignored.
func (s *Service) OnShutdown(ctx context.Context, msg message.Shutdown) {
	s.shutdownOnce.Do(func() {
		slog.InfoContext(ctx, "controller: cluster shutdown received", "reason", msg.Reason)
		close(s.shutdown)
	})
}

// Workers returns a snapshot of the pool.
func (s *Service) Workers() []domainworker.Worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domainworker.Worker, len(s.workers))
	copy(out, s.workers)
	return out
}

// InFlight lists every task the master should still consider ours: running
// ones and finished ones whose report has not been delivered.
func (s *Service) InFlight() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlightLocked()
}

func (s *Service) inFlightLocked() []string {
	ids := make([]string, 0, len(s.workers)+len(s.unreported))
	for _, w := range s.workers {
		if !w.IsIdle() {
			ids = append(ids, w.TaskID)
		}
	}
	for id := range s.unreported {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Service) work(slot int, d message.Dispatch) {
	defer s.running.Done()
	res := s.runner.Run(s.execCtx, d)
	s.onWorkerComplete(s.execCtx, slot, d, res)
}

func (s *Service) onWorkerComplete(ctx context.Context, slot int, d message.Dispatch, res worker.Result) {
	rep := res.Report(s.cfg.ID, d)

	s.mu.Lock()
	s.workers[slot].Release()
	s.unreported[d.TaskID] = rep
	s.mu.Unlock()

	slog.InfoContext(ctx, "controller: task finished",
		"task_id", d.TaskID, "attempt", d.Attempt, "outcome", rep.Outcome, "failure_kind", rep.FailureKind)
	s.sendReport(ctx, rep)
}

func (s *Service) sendReport(ctx context.Context, rep message.StatusReport) {
	if err := s.link.Report(ctx, rep); err != nil {
		slog.WarnContext(ctx, "controller: status report not delivered, will retry",
			"task_id", rep.TaskID, "attempt", rep.Attempt, "error", err)
		return
	}
	s.mu.Lock()
	if cur, ok := s.unreported[rep.TaskID]; ok && cur.Attempt == rep.Attempt {
		delete(s.unreported, rep.TaskID)
	}
	s.mu.Unlock()
}

func (s *Service) flushReports(ctx context.Context) {
	s.mu.Lock()
	pending := make([]message.StatusReport, 0, len(s.unreported))
	for _, rep := range s.unreported {
		pending = append(pending, rep)
	}
	s.mu.Unlock()

	sort.Slice(pending, func(i, j int) bool { return pending[i].TaskID < pending[j].TaskID })
	for _, rep := range pending {
		s.sendReport(ctx, rep)
	}
}

func (s *Service) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.beat(ctx)
		}
	}
}

// beat retries undelivered reports, then sends one heartbeat. A master that
// no longer knows us gets a fresh registration.
func (s *Service) beat(ctx context.Context) {
	s.flushReports(ctx)

	s.mu.Lock()
	hb := message.Heartbeat{ControllerID: s.cfg.ID, InFlight: s.inFlightLocked()}
	busy := 0
	for _, w := range s.workers {
		if !w.IsIdle() {
			busy++
		}
	}
	s.mu.Unlock()

	slog.DebugContext(ctx, "controller: status", "controller_id", s.cfg.ID, "busy", busy, "pool_size", s.cfg.PoolSize, "in_flight", len(hb.InFlight))

	err := s.link.Heartbeat(ctx, hb)
	switch {
	case err == nil:
	case errors.Is(err, master.ErrUnknownController), errors.Is(err, master.ErrControllerDead):
		slog.WarnContext(ctx, "controller: master lost our registration, re-registering",
			"controller_id", s.cfg.ID, "error", err)
		if regErr := s.register(ctx); regErr != nil {
			slog.ErrorContext(ctx, "controller: re-registration failed", "controller_id", s.cfg.ID, "error", regErr)
		}
	default:
		slog.WarnContext(ctx, "controller: heartbeat failed", "controller_id", s.cfg.ID, "error", err)
	}
}

func (s *Service) register(ctx context.Context) error {
	meta := s.hostMeta(ctx)
	reg := message.Registration{
		ControllerID: s.cfg.ID,
		Address:      s.cfg.Address,
		Capacity:     s.cfg.PoolSize,
		Meta:         meta,
	}
	if err := s.link.Register(ctx, reg); err != nil {
		return fmt.Errorf("register controller %s: %w", s.cfg.ID, err)
	}
	slog.InfoContext(ctx, "controller: registered with master",
		"controller_id", s.cfg.ID, "address", s.cfg.Address, "capacity", s.cfg.PoolSize, "hostname", meta.Hostname)
	return nil
}

func (s *Service) hostMeta(ctx context.Context) domainctrl.Meta {
	if s.meta != nil {
		return *s.meta
	}
	return HostMeta(ctx, s.cfg.Version)
}

// drain stops accepting work, waits for running tasks up to ctx's deadline,
// flushes reports and deregisters.
func (s *Service) drain(ctx context.Context) error {
	s.mu.Lock()
	s.accepting = false
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.running.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.WarnContext(ctx, "controller: shutdown timeout, abandoning running tasks",
			"controller_id", s.cfg.ID, "in_flight", len(s.InFlight()))
		s.execCancel()
	}

	flushCtx := context.WithoutCancel(ctx)
	s.flushReports(flushCtx)
	if err := s.link.Deregister(flushCtx, message.Deregistration{ControllerID: s.cfg.ID}); err != nil {
		return fmt.Errorf("deregister controller %s: %w", s.cfg.ID, err)
	}
	s.execCancel()
	slog.InfoContext(ctx, "controller: deregistered", "controller_id", s.cfg.ID)
	return nil
}

func (s *Service) ack(ctx context.Context, d message.Dispatch, accepted bool, reason string) {
	err := s.link.Ack(ctx, message.Ack{
		TaskID:       d.TaskID,
		ControllerID: s.cfg.ID,
		Attempt:      d.Attempt,
		Accepted:     accepted,
		Reason:       reason,
	})
	if err != nil {
		slog.WarnContext(ctx, "controller: ack not delivered", "task_id", d.TaskID, "error", err)
	}
}

func (s *Service) busyWith(taskID string, attempt int) bool {
	for _, w := range s.workers {
		if !w.IsIdle() && w.TaskID == taskID && w.Attempt == attempt {
			return true
		}
	}
	return false
}

func (s *Service) idleSlot() int {
	for i, w := range s.workers {
		if w.IsIdle() {
			return i
		}
	}
	return -1
}
