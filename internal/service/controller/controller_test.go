package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	domainctrl "github.com/alanyang/task-mesh/internal/domain/controller"
	"github.com/alanyang/task-mesh/internal/domain/message"
	"github.com/alanyang/task-mesh/internal/domain/task"
	"github.com/alanyang/task-mesh/internal/mocks"
	portexec "github.com/alanyang/task-mesh/internal/port/executor"
	"github.com/alanyang/task-mesh/internal/service/executor"
	"github.com/alanyang/task-mesh/internal/service/master"
	"github.com/alanyang/task-mesh/internal/service/worker"
)

var errOffline = errors.New("link offline")

// gate blocks the "block" task type until released.
type gate struct {
	started chan string
	release chan struct{}
}

func newGate() *gate {
	return &gate{started: make(chan string, 16), release: make(chan struct{})}
}

func newTestService(t *testing.T, poolSize int, g *gate) (*Service, *mocks.MockMasterLink) {
	t.Helper()
	reg := executor.NewRegistry()
	reg.MustRegister("ok", portexec.ExecutorFunc(func(context.Context, task.Properties) (json.RawMessage, error) {
		return json.RawMessage(`{"ok":true}`), nil
	}))
	if g != nil {
		reg.MustRegister("block", portexec.ExecutorFunc(func(ctx context.Context, props task.Properties) (json.RawMessage, error) {
			id, _ := props.Get("id")
			g.started <- id
			select {
			case <-g.release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return json.RawMessage(`"done"`), nil
		}))
	}

	link := mocks.NewMockMasterLink(gomock.NewController(t))
	svc, err := New(Config{
		ID:                "ctrl-1",
		Address:           "127.0.0.1:7000",
		PoolSize:          poolSize,
		HeartbeatInterval: 10 * time.Millisecond,
		ShutdownTimeout:   time.Second,
	}, link, worker.NewRunner(reg, time.Second), WithMeta(domainctrl.Meta{Hostname: "test"}))
	require.NoError(t, err)
	return svc, link
}

func dispatch(id, typ string, attempt int) message.Dispatch {
	return message.Dispatch{TaskID: id, Type: typ, Properties: task.NewProperties("id", id), Attempt: attempt}
}

func TestNew_ValidatesPoolSize(t *testing.T) {
	for _, size := range []int{0, MaxPoolSize + 1} {
		t.Run(fmt.Sprint(size), func(t *testing.T) {
			_, err := New(Config{ID: "c", PoolSize: size, HeartbeatInterval: time.Second}, nil, nil)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}
	_, err := New(Config{PoolSize: 1, HeartbeatInterval: time.Second}, nil, nil)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestOnDispatch_RunsAndReports(t *testing.T) {
	svc, link := newTestService(t, 2, nil)
	reported := make(chan message.StatusReport, 1)

	link.EXPECT().Ack(gomock.Any(), message.Ack{TaskID: "t1", ControllerID: "ctrl-1", Attempt: 1, Accepted: true}).Return(nil)
	link.EXPECT().Report(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, r message.StatusReport) error {
		reported <- r
		return nil
	})

	require.NoError(t, svc.OnDispatch(context.Background(), dispatch("t1", "ok", 1)))

	select {
	case r := <-reported:
		assert.Equal(t, "t1", r.TaskID)
		assert.Equal(t, 1, r.Attempt)
		assert.Equal(t, task.OutcomeSucceeded, r.Outcome)
		assert.JSONEq(t, `{"ok":true}`, string(r.Payload))
	case <-time.After(time.Second):
		t.Fatal("no status report")
	}
	assert.Eventually(t, func() bool { return len(svc.InFlight()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestOnDispatch_UnsupportedTypeReportsFailure(t *testing.T) {
	svc, link := newTestService(t, 1, nil)
	reported := make(chan message.StatusReport, 1)

	link.EXPECT().Ack(gomock.Any(), gomock.Any()).Return(nil)
	link.EXPECT().Report(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, r message.StatusReport) error {
		reported <- r
		return nil
	})

	require.NoError(t, svc.OnDispatch(context.Background(), dispatch("t1", "nope", 1)))
	r := <-reported
	assert.Equal(t, task.OutcomeFailed, r.Outcome)
	assert.Equal(t, task.FailureUnsupported, r.FailureKind)
}

func TestOnDispatch_AtCapacity(t *testing.T) {
	g := newGate()
	svc, link := newTestService(t, 1, g)
	done := make(chan struct{})

	link.EXPECT().Ack(gomock.Any(), message.Ack{TaskID: "t1", ControllerID: "ctrl-1", Attempt: 1, Accepted: true}).Return(nil)
	link.EXPECT().Ack(gomock.Any(), message.Ack{
		TaskID: "t2", ControllerID: "ctrl-1", Attempt: 1, Accepted: false, Reason: message.ReasonAtCapacity,
	}).Return(nil)
	link.EXPECT().Report(gomock.Any(), gomock.Any()).DoAndReturn(func(context.Context, message.StatusReport) error {
		close(done)
		return nil
	})

	require.NoError(t, svc.OnDispatch(context.Background(), dispatch("t1", "block", 1)))
	<-g.started

	err := svc.OnDispatch(context.Background(), dispatch("t2", "block", 1))
	assert.True(t, errors.Is(err, ErrAtCapacity))
	assert.Equal(t, []string{"t1"}, svc.InFlight())

	close(g.release)
	<-done
}

func TestOnDispatch_DuplicateIsAcknowledgedNotRerun(t *testing.T) {
	g := newGate()
	svc, link := newTestService(t, 2, g)
	done := make(chan struct{})

	link.EXPECT().Ack(gomock.Any(), gomock.Any()).Return(nil).Times(2)
	link.EXPECT().Report(gomock.Any(), gomock.Any()).DoAndReturn(func(context.Context, message.StatusReport) error {
		close(done)
		return nil
	}).Times(1)

	require.NoError(t, svc.OnDispatch(context.Background(), dispatch("t1", "block", 1)))
	<-g.started
	require.NoError(t, svc.OnDispatch(context.Background(), dispatch("t1", "block", 1)))

	busy := 0
	for _, w := range svc.Workers() {
		if !w.IsIdle() {
			busy++
		}
	}
	assert.Equal(t, 1, busy)

	close(g.release)
	<-done
}

func TestUndeliveredReportRetriedOnHeartbeat(t *testing.T) {
	svc, link := newTestService(t, 1, nil)
	firstTry := make(chan struct{})

	link.EXPECT().Ack(gomock.Any(), gomock.Any()).Return(nil)
	gomock.InOrder(
		link.EXPECT().Report(gomock.Any(), gomock.Any()).DoAndReturn(func(context.Context, message.StatusReport) error {
			close(firstTry)
			return errOffline
		}),
		link.EXPECT().Report(gomock.Any(), gomock.Any()).Return(nil),
	)

	require.NoError(t, svc.OnDispatch(context.Background(), dispatch("t1", "ok", 3)))
	<-firstTry
	assert.Eventually(t, func() bool {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		_, ok := svc.unreported["t1"]
		return ok && svc.workers[0].IsIdle()
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"t1"}, svc.InFlight(), "an unreported task is still in flight")

	link.EXPECT().Heartbeat(gomock.Any(), message.Heartbeat{ControllerID: "ctrl-1", InFlight: []string{}}).Return(nil)
	svc.beat(context.Background())
	assert.Empty(t, svc.InFlight())
}

func TestHeartbeat_ReregistersWhenForgotten(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "unknown", err: fmt.Errorf("heartbeat: %w", master.ErrUnknownController)},
		{name: "dead", err: fmt.Errorf("heartbeat: %w", master.ErrControllerDead)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, link := newTestService(t, 4, nil)
			link.EXPECT().Heartbeat(gomock.Any(), gomock.Any()).Return(tt.err)
			link.EXPECT().Register(gomock.Any(), message.Registration{
				ControllerID: "ctrl-1",
				Address:      "127.0.0.1:7000",
				Capacity:     4,
				Meta:         domainctrl.Meta{Hostname: "test"},
			}).Return(nil)

			svc.beat(context.Background())
		})
	}
}

func TestHeartbeat_TransportErrorDoesNotReregister(t *testing.T) {
	svc, link := newTestService(t, 1, nil)
	link.EXPECT().Heartbeat(gomock.Any(), gomock.Any()).Return(errOffline)
	svc.beat(context.Background())
}

func TestRun_ShutdownBroadcastDrainsAndDeregisters(t *testing.T) {
	g := newGate()
	svc, link := newTestService(t, 1, g)

	link.EXPECT().Register(gomock.Any(), gomock.Any()).Return(nil)
	link.EXPECT().Heartbeat(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	link.EXPECT().Ack(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	reported := link.EXPECT().Report(gomock.Any(), gomock.Any()).Return(nil)
	link.EXPECT().Deregister(gomock.Any(), message.Deregistration{ControllerID: "ctrl-1"}).Return(nil).After(reported)

	errc := make(chan error, 1)
	go func() { errc <- svc.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		return svc.OnDispatch(context.Background(), dispatch("t1", "block", 1)) == nil
	}, time.Second, 5*time.Millisecond)
	<-g.started

	svc.OnShutdown(context.Background(), message.Shutdown{Reason: "test"})
	svc.OnShutdown(context.Background(), message.Shutdown{Reason: "again"})

	// New work is refused while draining.
	assert.Eventually(t, func() bool {
		err := svc.OnDispatch(context.Background(), dispatch("t2", "ok", 1))
		return errors.Is(err, ErrShuttingDown)
	}, time.Second, 5*time.Millisecond)

	close(g.release)
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("controller did not stop")
	}
}

func TestRun_RegistrationFailureStops(t *testing.T) {
	svc, link := newTestService(t, 1, nil)
	link.EXPECT().Register(gomock.Any(), gomock.Any()).Return(errOffline)

	err := svc.Run(context.Background())
	assert.True(t, errors.Is(err, errOffline))
}

func TestDefaultPoolSizeWithinLimits(t *testing.T) {
	n := DefaultPoolSize(context.Background())
	assert.GreaterOrEqual(t, n, MinPoolSize)
	assert.LessOrEqual(t, n, MaxPoolSize)
}
