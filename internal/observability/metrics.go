package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "depscope"

// Metrics holds the depscope Prometheus collectors.
type Metrics struct {
	DetectionRuns     *prometheus.CounterVec
	DetectionDuration *prometheus.HistogramVec
	CyclesFound       *prometheus.CounterVec
	NodesVisited      *prometheus.CounterVec
	Truncations       *prometheus.CounterVec
	Timeouts          *prometheus.CounterVec
	FetchErrors       prometheus.Counter

	AnalysisRuns     *prometheus.CounterVec
	AnalysisDuration *prometheus.HistogramVec
	GraphFiles       *prometheus.GaugeVec
	GraphModularity  *prometheus.GaugeVec

	ActiveRuns prometheus.Gauge
}

// NewMetrics creates and registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		DetectionRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "detection",
			Name:      "runs_total",
			Help:      "Cycle detection runs by namespace",
		}, []string{"namespace"}),
		DetectionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "detection",
			Name:      "duration_seconds",
			Help:      "Cycle detection wall time",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}, []string{"namespace"}),
		CyclesFound: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "detection",
			Name:      "cycles_total",
			Help:      "Cycles found by namespace and severity",
		}, []string{"namespace", "severity"}),
		NodesVisited: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "detection",
			Name:      "nodes_visited_total",
			Help:      "Nodes entered by the search",
		}, []string{"namespace"}),
		Truncations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "detection",
			Name:      "truncated_total",
			Help:      "Runs stopped by the cycle limit",
		}, []string{"namespace"}),
		Timeouts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "detection",
			Name:      "timeouts_total",
			Help:      "Runs stopped by the time budget",
		}, []string{"namespace"}),
		FetchErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "provider",
			Name:      "fetch_errors_total",
			Help:      "Edge lookups that failed and were treated as leaves",
		}),
		AnalysisRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "analysis",
			Name:      "runs_total",
			Help:      "Analysis runs by namespace and status",
		}, []string{"namespace", "status"}),
		AnalysisDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "analysis",
			Name:      "duration_seconds",
			Help:      "End-to-end analysis time",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}, []string{"namespace"}),
		GraphFiles: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "graph",
			Name:      "files",
			Help:      "Node count of the last analyzed graph",
		}, []string{"namespace"}),
		GraphModularity: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "graph",
			Name:      "modularity",
			Help:      "Share of intra-directory edges in the last analyzed graph",
		}, []string{"namespace"}),
		ActiveRuns: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_runs",
			Help:      "Analyses currently in progress",
		}),
	}
}

// DetectionSample is what one detection run reports.
type DetectionSample struct {
	Namespace    string
	Duration     time.Duration
	NodesVisited int
	Truncated    bool
	TimedOut     bool
}

// RecordDetection records one finished detection run.
func (m *Metrics) RecordDetection(s DetectionSample) {
	m.DetectionRuns.WithLabelValues(s.Namespace).Inc()
	m.DetectionDuration.WithLabelValues(s.Namespace).Observe(s.Duration.Seconds())
	m.NodesVisited.WithLabelValues(s.Namespace).Add(float64(s.NodesVisited))
	if s.Truncated {
		m.Truncations.WithLabelValues(s.Namespace).Inc()
	}
	if s.TimedOut {
		m.Timeouts.WithLabelValues(s.Namespace).Inc()
	}
}

// RecordCycle counts one reported cycle.
func (m *Metrics) RecordCycle(namespace, severity string) {
	m.CyclesFound.WithLabelValues(namespace, severity).Inc()
}

// RecordAnalysis records a finished analysis. files and modularity are only
// applied on success.
func (m *Metrics) RecordAnalysis(namespace string, duration time.Duration, files int, modularity float64, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.AnalysisRuns.WithLabelValues(namespace, status).Inc()
	m.AnalysisDuration.WithLabelValues(namespace).Observe(duration.Seconds())
	if err == nil {
		m.GraphFiles.WithLabelValues(namespace).Set(float64(files))
		m.GraphModularity.WithLabelValues(namespace).Set(modularity)
	}
}

// Handler serves the collectors registered on g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
