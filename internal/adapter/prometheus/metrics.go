// Package prometheus exposes master activity as Prometheus metrics.
// Counters follow the event bus; gauges are read from Stats on every scrape.
package prometheus

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyang/task-mesh/internal/domain/event"
	portcoord "github.com/alanyang/task-mesh/internal/port/coordinator"
	porteventbus "github.com/alanyang/task-mesh/internal/port/eventbus"
)

const namespace = "task_mesh"

// StatsReader is the part of the master the gauges need.
type StatsReader interface {
	Stats(ctx context.Context) (portcoord.Stats, error)
}

type Metrics struct {
	registry *prometheus.Registry
	stats    StatsReader

	taskEvents       *prometheus.CounterVec
	controllerEvents *prometheus.CounterVec

	tasksDesc       *prometheus.Desc
	controllersDesc *prometheus.Desc
	loadDesc        *prometheus.Desc
	capacityDesc    *prometheus.Desc
}

func New(stats StatsReader) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		stats:    stats,
		taskEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_events_total",
			Help:      "Task lifecycle events by type.",
		}, []string{"type"}),
		controllerEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "controller_events_total",
			Help:      "Controller membership and health events by type.",
		}, []string{"type"}),
		tasksDesc: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "tasks"),
			"Tasks known to the master by status.", []string{"status"}, nil),
		controllersDesc: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "controllers"),
			"Registered controllers by health.", []string{"health"}, nil),
		loadDesc: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "load"),
			"Tasks owned by alive controllers.", nil, nil),
		capacityDesc: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "capacity"),
			"Worker slots across alive controllers.", nil, nil),
	}
	m.registry.MustRegister(m.taskEvents, m.controllerEvents, m)
	m.registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return m
}

// Subscribe counts every task and controller event published on bus until ctx ends.
func (m *Metrics) Subscribe(ctx context.Context, bus porteventbus.EventBus) error {
	if _, err := bus.Subscribe(ctx, event.ChannelTask, m.Observe); err != nil {
		return fmt.Errorf("subscribing task metrics: %w", err)
	}
	if _, err := bus.Subscribe(ctx, event.ChannelController, m.Observe); err != nil {
		return fmt.Errorf("subscribing controller metrics: %w", err)
	}
	return nil
}

func (m *Metrics) Observe(_ context.Context, e event.Event) {
	switch event.ChannelFor(e.Type) {
	case event.ChannelTask:
		m.taskEvents.WithLabelValues(string(e.Type)).Inc()
	case event.ChannelController:
		if e.Type == event.TypeControllerHeartbeat {
			return
		}
		m.controllerEvents.WithLabelValues(string(e.Type)).Inc()
	}
}

func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.tasksDesc
	ch <- m.controllersDesc
	ch <- m.loadDesc
	ch <- m.capacityDesc
}

func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := m.stats.Stats(ctx)
	if err != nil {
		slog.Warn("metrics scrape: reading stats", "error", err)
		return
	}
	for status, n := range st.Tasks {
		ch <- prometheus.MustNewConstMetric(m.tasksDesc, prometheus.GaugeValue, float64(n), string(status))
	}
	for health, n := range st.Controllers {
		ch <- prometheus.MustNewConstMetric(m.controllersDesc, prometheus.GaugeValue, float64(n), string(health))
	}
	ch <- prometheus.MustNewConstMetric(m.loadDesc, prometheus.GaugeValue, float64(st.Load))
	ch <- prometheus.MustNewConstMetric(m.capacityDesc, prometheus.GaugeValue, float64(st.Capacity))
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
