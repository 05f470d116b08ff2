package prometheus_test

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/alanyang/task-mesh/internal/adapter/memory"
	promadapter "github.com/alanyang/task-mesh/internal/adapter/prometheus"
	"github.com/alanyang/task-mesh/internal/domain/controller"
	"github.com/alanyang/task-mesh/internal/domain/event"
	"github.com/alanyang/task-mesh/internal/domain/task"
	"github.com/alanyang/task-mesh/internal/mocks"
	portcoord "github.com/alanyang/task-mesh/internal/port/coordinator"
)

func TestMetrics_CountsBusEvents(t *testing.T) {
	coord := mocks.NewMockCoordinator(gomock.NewController(t))
	coord.EXPECT().Stats(gomock.Any()).Return(portcoord.Stats{}, nil).AnyTimes()
	m := promadapter.New(coord)

	bus := memory.NewEventBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Subscribe(ctx, bus))

	for _, e := range []event.Event{
		event.New(event.TypeTaskSubmitted, "t1", ""),
		event.New(event.TypeTaskSucceeded, "t1", "c1"),
		event.New(event.TypeTaskSubmitted, "t2", ""),
		event.New(event.TypeControllerDead, "", "c2"),
		event.New(event.TypeControllerHeartbeat, "", "c1"),
	} {
		require.NoError(t, bus.Publish(ctx, e))
	}

	body := scrape(t, m)
	assert.Contains(t, body, `task_mesh_task_events_total{type="task_submitted"} 2`)
	assert.Contains(t, body, `task_mesh_task_events_total{type="task_succeeded"} 1`)
	assert.Contains(t, body, `task_mesh_controller_events_total{type="controller_dead"} 1`)
	assert.NotContains(t, body, "controller_heartbeat")
}

func TestMetrics_GaugesFromStats(t *testing.T) {
	coord := mocks.NewMockCoordinator(gomock.NewController(t))
	coord.EXPECT().Stats(gomock.Any()).Return(portcoord.Stats{
		Tasks:       map[task.Status]int{task.StatusPending: 3, task.StatusRunning: 2},
		Controllers: map[controller.Health]int{controller.HealthAlive: 2},
		Load:        2,
		Capacity:    4,
	}, nil)
	m := promadapter.New(coord)

	expected := `
# HELP task_mesh_capacity Worker slots across alive controllers.
# TYPE task_mesh_capacity gauge
task_mesh_capacity 4
# HELP task_mesh_load Tasks owned by alive controllers.
# TYPE task_mesh_load gauge
task_mesh_load 2
# HELP task_mesh_tasks Tasks known to the master by status.
# TYPE task_mesh_tasks gauge
task_mesh_tasks{status="pending"} 3
task_mesh_tasks{status="running"} 2
`
	err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"task_mesh_capacity", "task_mesh_load", "task_mesh_tasks")
	assert.NoError(t, err)
}

func TestMetrics_StatsErrorSkipsGauges(t *testing.T) {
	coord := mocks.NewMockCoordinator(gomock.NewController(t))
	coord.EXPECT().Stats(gomock.Any()).Return(portcoord.Stats{}, errors.New("stopped")).AnyTimes()
	m := promadapter.New(coord)

	body := scrape(t, m)
	assert.NotContains(t, body, "task_mesh_load")
}

func scrape(t *testing.T, m *promadapter.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	b, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(b)
}

func TestMetrics_SubscribeError(t *testing.T) {
	ctrl := gomock.NewController(t)
	bus := mocks.NewMockEventBus(ctrl)
	bus.EXPECT().Subscribe(gomock.Any(), event.ChannelTask, gomock.Any()).Return(nil, errors.New("listen failed"))

	m := promadapter.New(mocks.NewMockCoordinator(ctrl))
	err := m.Subscribe(context.Background(), bus)
	assert.ErrorContains(t, err, "listen failed")
}
