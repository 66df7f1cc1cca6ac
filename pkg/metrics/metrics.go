// Package metrics exposes Prometheus instrumentation for the job
// orchestration pipeline: job lifecycle counters, a running-jobs gauge,
// per-tool execution counters and merged-line totals.
//
// A Collector owns its own registry so the process never pollutes the
// global default registry. All methods are safe on a nil receiver, which
// lets components treat instrumentation as optional.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the service's Prometheus metrics.
type Collector struct {
	registry *prometheus.Registry

	jobsTotal   *prometheus.CounterVec
	jobsRunning prometheus.Gauge
	toolRuns    *prometheus.CounterVec
	mergedLines prometheus.Counter
}

// New creates a Collector with all metrics registered on a fresh registry.
func New() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subsentry_jobs_total",
				Help: "Total number of jobs by terminal status",
			},
			[]string{"status"},
		),
		jobsRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "subsentry_jobs_running",
				Help: "Number of jobs currently accepted for execution",
			},
		),
		toolRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subsentry_tool_runs_total",
				Help: "Total number of tool executions by tool and status",
			},
			[]string{"tool", "status"},
		),
		mergedLines: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "subsentry_merged_lines_total",
				Help: "Total number of unique lines written to merged files",
			},
		),
	}

	registry.MustRegister(c.jobsTotal, c.jobsRunning, c.toolRuns, c.mergedLines)
	return c
}

// Handler returns an HTTP handler serving the collector's registry.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// JobStarted records a job entering execution.
func (c *Collector) JobStarted() {
	if c == nil {
		return
	}
	c.jobsRunning.Inc()
}

// JobFinished records a job reaching a terminal status.
func (c *Collector) JobFinished(status string) {
	if c == nil {
		return
	}
	c.jobsRunning.Dec()
	c.jobsTotal.WithLabelValues(status).Inc()
}

// ToolRun records one tool execution outcome.
func (c *Collector) ToolRun(tool, status string) {
	if c == nil {
		return
	}
	c.toolRuns.WithLabelValues(tool, status).Inc()
}

// MergedLines records unique lines produced by a merge pass.
func (c *Collector) MergedLines(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.mergedLines.Add(float64(n))
}
