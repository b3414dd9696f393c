// Package metrics holds the Prometheus collectors for the bridge. Collectors
// live on a private registry so tests and multiple add-in instances do not
// clash on the default one.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the bridge collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	HandlesInterned  prometheus.Counter
	HandleCollisions prometheus.Counter
	ToolCalls        *prometheus.CounterVec
	ToolDuration     *prometheus.HistogramVec
	Queries          *prometheus.CounterVec
	AgentEvents      *prometheus.CounterVec
	Runs             *prometheus.CounterVec
	PaletteClients   prometheus.Gauge
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		HandlesInterned: f.NewCounter(prometheus.CounterOpts{
			Name: "cadlink_handles_interned_total",
			Help: "Total number of entities interned into the handle table",
		}),
		HandleCollisions: f.NewCounter(prometheus.CounterOpts{
			Name: "cadlink_handle_collisions_total",
			Help: "Total number of handle bindings overwritten by a different identity",
		}),
		ToolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cadlink_tool_calls_total",
			Help: "Total number of tool calls dispatched",
		}, []string{"tool", "status"}),
		ToolDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cadlink_tool_call_duration_seconds",
			Help:    "Duration of tool calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		Queries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cadlink_queries_total",
			Help: "Total number of document queries executed",
		}, []string{"command", "object_type", "status"}),
		AgentEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cadlink_agent_events_total",
			Help: "Total number of events received from the agent process",
		}, []string{"event"}),
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cadlink_runs_total",
			Help: "Total number of runs by final state",
		}, []string{"state"}),
		PaletteClients: f.NewGauge(prometheus.GaugeOpts{
			Name: "cadlink_palette_clients",
			Help: "Number of connected palette clients",
		}),
	}
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HandleInterned() {
	if m == nil {
		return
	}
	m.HandlesInterned.Inc()
}

func (m *Metrics) HandleCollision() {
	if m == nil {
		return
	}
	m.HandleCollisions.Inc()
}

// ToolCall records one dispatched call. status is "ok" or "error".
func (m *Metrics) ToolCall(tool, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, status).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

func (m *Metrics) Query(command, objectType, status string) {
	if m == nil {
		return
	}
	m.Queries.WithLabelValues(command, objectType, status).Inc()
}

func (m *Metrics) AgentEvent(event string) {
	if m == nil {
		return
	}
	m.AgentEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) RunFinished(state string) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(state).Inc()
}

func (m *Metrics) PaletteConnected() {
	if m == nil {
		return
	}
	m.PaletteClients.Inc()
}

func (m *Metrics) PaletteDisconnected() {
	if m == nil {
		return
	}
	m.PaletteClients.Dec()
}
