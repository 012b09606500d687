// Package telemetry wires up the debugger's Prometheus collectors and
// OpenTelemetry tracer. Adapted from the teacher's pkg/metrics and
// pkg/tracing: same registry-plus-config shape, generalized from HTTP
// request metrics to debug-session metrics (stop counter, breakpoint hits,
// eval latency, live thread/module counts).
package telemetry

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the debugger's Prometheus collectors.
type Metrics struct {
	stopCounter       prometheus.Counter
	breakpointHits    *prometheus.CounterVec
	evalDuration      *prometheus.HistogramVec
	activeThreads     prometheus.Gauge
	modulesLoaded     prometheus.Gauge
	goroutines        prometheus.Gauge

	registry *prometheus.Registry
}

// Config configures the metrics namespace.
type Config struct {
	Namespace string
}

// DefaultConfig returns the default namespace used by the debugger binary.
func DefaultConfig() Config {
	return Config{Namespace: "netcoredbg"}
}

// New creates and registers all collectors.
func New(config Config) *Metrics {
	if config.Namespace == "" {
		config = DefaultConfig()
	}

	registry := prometheus.NewRegistry()
	m := &Metrics{registry: registry}

	m.stopCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Name:      "stop_counter",
		Help:      "Monotonic count of controller state transitions into a stopped state",
	})

	m.breakpointHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "breakpoint_hits_total",
			Help:      "Total number of breakpoint hit callbacks, by breakpoint kind",
		},
		[]string{"kind"},
	)

	m.evalDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Name:      "eval_duration_seconds",
			Help:      "Function-eval round-trip latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"outcome"},
	)

	m.activeThreads = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: config.Namespace,
		Name:      "active_threads",
		Help:      "Number of threads currently tracked in the debuggee",
	})

	m.modulesLoaded = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: config.Namespace,
		Name:      "modules_loaded",
		Help:      "Number of modules currently loaded in the debuggee",
	})

	m.goroutines = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: config.Namespace,
		Subsystem: "runtime",
		Name:      "goroutines",
		Help:      "Number of goroutines running in the debugger process itself",
	})

	registry.MustRegister(
		m.stopCounter,
		m.breakpointHits,
		m.evalDuration,
		m.activeThreads,
		m.modulesLoaded,
		m.goroutines,
	)

	go m.collectRuntimeMetrics()
	return m
}

func (m *Metrics) collectRuntimeMetrics() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		m.goroutines.Set(float64(runtime.NumGoroutine()))
	}
}

// IncStopCounter records one controller stop transition.
func (m *Metrics) IncStopCounter() { m.stopCounter.Inc() }

// RecordBreakpointHit records a hit of the given breakpoint kind (e.g.
// "line", "function", "exception").
func (m *Metrics) RecordBreakpointHit(kind string) {
	m.breakpointHits.WithLabelValues(kind).Inc()
}

// RecordEval records one function-eval's outcome and latency.
func (m *Metrics) RecordEval(outcome string, d time.Duration) {
	m.evalDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// SetActiveThreads reports the current live thread count.
func (m *Metrics) SetActiveThreads(n int) { m.activeThreads.Set(float64(n)) }

// SetModulesLoaded reports the current loaded module count.
func (m *Metrics) SetModulesLoaded(n int) { m.modulesLoaded.Set(float64(n)) }

// Handler serves the collectors over /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry exposes the underlying registry, e.g. for tests that want to
// scrape collected values directly.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
