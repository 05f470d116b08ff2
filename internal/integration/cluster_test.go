package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyang/task-mesh/internal/adapter/memory"
	domainctrl "github.com/alanyang/task-mesh/internal/domain/controller"
	"github.com/alanyang/task-mesh/internal/domain/task"
	portexec "github.com/alanyang/task-mesh/internal/port/executor"
	porttransport "github.com/alanyang/task-mesh/internal/port/transport"
	ctrlsvc "github.com/alanyang/task-mesh/internal/service/controller"
	"github.com/alanyang/task-mesh/internal/service/executor"
	"github.com/alanyang/task-mesh/internal/service/master"
	"github.com/alanyang/task-mesh/internal/service/worker"
)

const (
	controllerHeartbeat = 25 * time.Millisecond
	waitFor             = 5 * time.Second
	tick                = 10 * time.Millisecond
)

func masterConfig() master.Config {
	return master.Config{
		HeartbeatInterval: 100 * time.Millisecond,
		HeartbeatTimeout:  150 * time.Millisecond,
		SuspectGrace:      150 * time.Millisecond,
		MaxRetries:        3,
		CheckInterval:     20 * time.Millisecond,
		ResultRetention:   time.Hour,
	}
}

type cluster struct {
	t      *testing.T
	master *master.Master
	net    *memory.Network
	sink   *memory.Sink
	ctx    context.Context

	mu    sync.Mutex
	stops map[string]context.CancelFunc
	exits map[string]chan error
}

func newCluster(t *testing.T, cfg master.Config) *cluster {
	t.Helper()
	c := &cluster{
		t:     t,
		net:   memory.NewNetwork(),
		sink:  memory.NewSink(0),
		ctx:   context.Background(),
		stops: make(map[string]context.CancelFunc),
		exits: make(map[string]chan error),
	}
	c.master = master.New(cfg, c.net, master.WithSink(c.sink))
	c.net.SetCoordinator(c.master)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.master.Run(ctx)
	}()
	<-c.master.Started()

	t.Cleanup(func() {
		c.mu.Lock()
		for _, stop := range c.stops {
			stop()
		}
		exits := c.exits
		c.mu.Unlock()
		for _, ch := range exits {
			<-ch
		}
		cancel()
		<-done
		c.net.Wait()
	})
	return c
}

// addController starts a controller whose registry holds the built-ins plus extra.
func (c *cluster) addController(id string, poolSize int, extra map[string]portexec.Executor) *ctrlsvc.Service {
	c.t.Helper()
	reg := executor.NewRegistry()
	executor.RegisterBuiltins(reg)
	for tag, e := range extra {
		reg.MustRegister(tag, e)
	}

	endpoint := c.net.Endpoint(id)
	svc, err := ctrlsvc.New(ctrlsvc.Config{
		ID:                id,
		Address:           id + ":7000",
		PoolSize:          poolSize,
		HeartbeatInterval: controllerHeartbeat,
		ShutdownTimeout:   2 * time.Second,
	}, endpoint, worker.NewRunner(reg, 5*time.Second), ctrlsvc.WithMeta(domainctrl.Meta{Hostname: id}))
	require.NoError(c.t, err)
	c.net.SetHandler(id, svc)

	ctx, cancel := context.WithCancel(context.Background())
	exit := make(chan error, 1)
	go func() { exit <- svc.Run(ctx) }()

	c.mu.Lock()
	c.stops[id] = cancel
	c.exits[id] = exit
	c.mu.Unlock()

	require.Eventually(c.t, func() bool {
		_, ok := c.controller(id)
		return ok
	}, waitFor, tick)
	return svc
}

func (c *cluster) controller(id string) (domainctrl.Controller, bool) {
	cs, err := c.master.Controllers(c.ctx)
	require.NoError(c.t, err)
	for _, ctrl := range cs {
		if ctrl.ID == id {
			return ctrl, true
		}
	}
	return domainctrl.Controller{}, false
}

func (c *cluster) submit(id, typ string, kv ...string) {
	c.t.Helper()
	_, err := c.master.Submit(c.ctx, task.New(id, typ, task.NewProperties(kv...)))
	require.NoError(c.t, err)
}

func (c *cluster) task(id string) task.Task {
	c.t.Helper()
	got, err := c.master.Task(c.ctx, id)
	require.NoError(c.t, err)
	return got
}

func (c *cluster) awaitResults(n int) []task.Result {
	c.t.Helper()
	require.Eventually(c.t, func() bool { return len(c.sink.Results()) >= n }, waitFor, tick,
		"waiting for %d results", n)
	return c.sink.Results()
}

// gate is an executor that blocks until released or cancelled.
type gate struct {
	once    sync.Once
	release chan struct{}
	started chan string
}

func newGate() *gate {
	return &gate{release: make(chan struct{}), started: make(chan string, 32)}
}

func (g *gate) Open() { g.once.Do(func() { close(g.release) }) }

func (g *gate) Execute(ctx context.Context, props task.Properties) (json.RawMessage, error) {
	id, _ := props.Get("id")
	g.started <- id
	select {
	case <-g.release:
		return json.RawMessage(fmt.Sprintf(`{"released":%q}`, id)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func instant(name string) portexec.Executor {
	return portexec.ExecutorFunc(func(context.Context, task.Properties) (json.RawMessage, error) {
		return json.RawMessage(fmt.Sprintf(`{"by":%q}`, name)), nil
	})
}

var _ porttransport.DispatchHandler = (*ctrlsvc.Service)(nil)
