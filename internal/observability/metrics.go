package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for runs, steps and HTTP traffic.
type Metrics struct {
	registry     *prometheus.Registry
	runs         *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	steps        *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	requests     *prometheus.CounterVec
	reqDuration  *prometheus.HistogramVec
	enqueued     *prometheus.CounterVec
}

// NewMetrics registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studio",
			Name:      "workflow_runs_total",
			Help:      "Workflow runs finished, by workflow and final status.",
		}, []string{"workflow", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "studio",
			Name:      "workflow_run_duration_seconds",
			Help:      "Wall time of one run execution.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"workflow"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studio",
			Name:      "workflow_steps_total",
			Help:      "Step executions by outcome (completed, replayed, retried, failed).",
		}, []string{"workflow", "step", "outcome"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "studio",
			Name:      "workflow_step_duration_seconds",
			Help:      "Wall time of executed steps, including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"workflow", "step"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studio",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		reqDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "studio",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studio",
			Name:      "workflow_runs_enqueued_total",
			Help:      "Runs published to the queue, by workflow.",
		}, []string{"workflow"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.runs, m.runDuration, m.steps, m.stepDuration, m.requests, m.reqDuration, m.enqueued,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// StepObserved records one step outcome. Replayed steps carry no duration.
func (m *Metrics) StepObserved(workflow, step, outcome string, d time.Duration) {
	m.steps.WithLabelValues(workflow, step, outcome).Inc()
	if d > 0 {
		m.stepDuration.WithLabelValues(workflow, step).Observe(d.Seconds())
	}
}

// RunFinished records the end of one run execution.
func (m *Metrics) RunFinished(workflow, status string, d time.Duration) {
	m.runs.WithLabelValues(workflow, status).Inc()
	m.runDuration.WithLabelValues(workflow).Observe(d.Seconds())
}

// RunEnqueued counts a run published to the queue.
func (m *Metrics) RunEnqueued(workflow string) {
	m.enqueued.WithLabelValues(workflow).Inc()
}

// RequestObserved records one HTTP request.
func (m *Metrics) RequestObserved(method, route string, code int, d time.Duration) {
	m.requests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.reqDuration.WithLabelValues(route).Observe(d.Seconds())
}
