// Package metrics exposes run and step counters for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector groups the runner's collectors on a private registry. A nil
// *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	transitions  *prometheus.CounterVec
	items        *prometheus.CounterVec
	itemDuration *prometheus.HistogramVec
	runs         *prometheus.CounterVec
	activeRuns   prometheus.Gauge
	captures     *prometheus.CounterVec
}

// New creates a Collector with its own registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "action_runner_state_transitions_total",
			Help: "Run state transitions by target state.",
		}, []string{"state"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "action_runner_items_total",
			Help: "Dispatched queue items by syntax and status.",
		}, []string{"syntax", "status"}),
		itemDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "action_runner_item_duration_seconds",
			Help:    "Time from dispatch to reply.",
			Buckets: prometheus.DefBuckets,
		}, []string{"syntax"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "action_runner_runs_total",
			Help: "Completed runs by outcome.",
		}, []string{"outcome"}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "action_runner_active_runs",
			Help: "Runs currently executing.",
		}),
		captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "action_runner_tree_captures_total",
			Help: "Hierarchy captures by whether the content changed.",
		}, []string{"changed"}),
	}
	c.registry.MustRegister(c.transitions, c.items, c.itemDuration, c.runs, c.activeRuns, c.captures)
	return c
}

// Registry returns the registry holding the collectors.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Transition counts a run entering state.
func (c *Collector) Transition(state string) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(state).Inc()
}

// Item records a finished dispatch.
func (c *Collector) Item(syntax, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.items.WithLabelValues(syntax, status).Inc()
	c.itemDuration.WithLabelValues(syntax).Observe(d.Seconds())
}

// RunStarted marks a run as active.
func (c *Collector) RunStarted() {
	if c == nil {
		return
	}
	c.activeRuns.Inc()
}

// RunEnded marks a run as done with outcome.
func (c *Collector) RunEnded(outcome string) {
	if c == nil {
		return
	}
	c.activeRuns.Dec()
	c.runs.WithLabelValues(outcome).Inc()
}

// Capture counts a hierarchy capture.
func (c *Collector) Capture(changed bool) {
	if c == nil {
		return
	}
	label := "false"
	if changed {
		label = "true"
	}
	c.captures.WithLabelValues(label).Inc()
}

// Handler serves /metrics and /healthz.
func Handler(c *Collector) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	return r
}
