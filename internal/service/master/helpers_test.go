package master_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyang/task-mesh/internal/adapter/memory"
	"github.com/alanyang/task-mesh/internal/domain/controller"
	"github.com/alanyang/task-mesh/internal/domain/message"
	"github.com/alanyang/task-mesh/internal/domain/task"
	"github.com/alanyang/task-mesh/internal/service/master"
)

var errLinkDown = errors.New("link down")

// recordingLink captures dispatches and can be told to fail per controller.
type recordingLink struct {
	mu         sync.Mutex
	sent       map[string][]message.Dispatch
	failing    map[string]bool
	broadcasts []message.Shutdown
}

func newRecordingLink() *recordingLink {
	return &recordingLink{
		sent:    make(map[string][]message.Dispatch),
		failing: make(map[string]bool),
	}
}

func (l *recordingLink) Dispatch(_ context.Context, controllerID string, msg message.Dispatch) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failing[controllerID] {
		return errLinkDown
	}
	l.sent[controllerID] = append(l.sent[controllerID], msg)
	return nil
}

func (l *recordingLink) Broadcast(_ context.Context, msg message.Shutdown) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.broadcasts = append(l.broadcasts, msg)
	return nil
}

func (l *recordingLink) setFailing(controllerID string, failing bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failing[controllerID] = failing
}

func (l *recordingLink) sentTo(controllerID string) []message.Dispatch {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]message.Dispatch, len(l.sent[controllerID]))
	copy(out, l.sent[controllerID])
	return out
}

func (l *recordingLink) total() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, s := range l.sent {
		n += len(s)
	}
	return n
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	m     *master.Master
	link  *recordingLink
	sink  *memory.Sink
	clock *fakeClock
	ctx   context.Context
}

func testConfig() master.Config {
	return master.Config{
		HeartbeatInterval: 5 * time.Second,
		HeartbeatTimeout:  10 * time.Second,
		SuspectGrace:      30 * time.Second,
		MaxRetries:        3,
		CheckInterval:     time.Hour, // tests drive the detector via CheckTimeouts
		ResultRetention:   time.Hour,
	}
}

// tb is satisfied by both *testing.T and *rapid.T.
type tb interface {
	Helper()
	Errorf(format string, args ...any)
	Fatalf(format string, args ...any)
	FailNow()
}

func startMaster(t testing.TB, cfg master.Config) *harness {
	t.Helper()
	h, stop := newHarness(cfg)
	t.Cleanup(stop)
	return h
}

// newHarness runs a master against a recording link; stop cancels and waits for it.
func newHarness(cfg master.Config) (*harness, func()) {
	h := &harness{
		link:  newRecordingLink(),
		sink:  memory.NewSink(0),
		clock: newFakeClock(),
	}
	h.m = master.New(cfg, h.link, master.WithClock(h.clock.Now), master.WithSink(h.sink))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.m.Run(ctx)
	}()
	<-h.m.Started()
	h.ctx = context.Background()
	return h, func() {
		cancel()
		<-done
	}
}

func (h *harness) register(t tb, id string, capacity int) {
	t.Helper()
	_, err := h.m.RegisterController(h.ctx, message.Registration{ControllerID: id, Address: id + ":7000", Capacity: capacity})
	require.NoError(t, err)
}

func (h *harness) submit(t tb, id string) task.Task {
	t.Helper()
	out, err := h.m.Submit(h.ctx, task.New(id, "echo", task.NewProperties("k", "v")))
	require.NoError(t, err)
	return out
}

func (h *harness) get(t tb, id string) task.Task {
	t.Helper()
	out, err := h.m.Task(h.ctx, id)
	require.NoError(t, err)
	return out
}

func (h *harness) succeed(t tb, id string) {
	t.Helper()
	cur := h.get(t, id)
	require.NoError(t, h.m.Report(h.ctx, message.StatusReport{
		TaskID:       id,
		ControllerID: cur.ControllerID,
		Attempt:      cur.Attempt,
		Outcome:      task.OutcomeSucceeded,
	}))
}

func (h *harness) fail(t tb, id string, kind task.FailureKind) {
	t.Helper()
	cur := h.get(t, id)
	require.NoError(t, h.m.Report(h.ctx, message.StatusReport{
		TaskID:       id,
		ControllerID: cur.ControllerID,
		Attempt:      cur.Attempt,
		Outcome:      task.OutcomeFailed,
		Error:        "boom",
		FailureKind:  kind,
	}))
}

func (h *harness) loads(t tb) map[string]int {
	t.Helper()
	cs, err := h.m.Controllers(h.ctx)
	require.NoError(t, err)
	out := make(map[string]int, len(cs))
	for _, c := range cs {
		out[c.ID] = c.Load
	}
	return out
}

func (h *harness) controller(t tb, id string) controller.Controller {
	t.Helper()
	cs, err := h.m.Controllers(h.ctx)
	require.NoError(t, err)
	for _, c := range cs {
		if c.ID == id {
			return c
		}
	}
	t.Fatalf("controller %s not registered", id)
	return controller.Controller{}
}
