// Package analysis runs cycle detection and the metrics pass over one
// provider, or over several independent namespaces at once.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/efebarandurmaz/depscope/internal/cycles"
	"github.com/efebarandurmaz/depscope/internal/depgraph"
	"github.com/efebarandurmaz/depscope/internal/graph"
	"github.com/efebarandurmaz/depscope/internal/observability"
)

// Report is the outcome of one namespace analysis.
type Report struct {
	Namespace string                       `json:"namespace"`
	Detection *cycles.Result               `json:"detection"`
	Analysis  *depgraph.DependencyAnalysis `json:"analysis"`
	Nodes     []graph.NodeInfo             `json:"nodes"`
	Edges     []graph.Edge                 `json:"edges"`
	Duration  time.Duration                `json:"duration_ns"`
}

// Graph bundles the collected graph with its analysis for the exporters.
func (r *Report) Graph() *depgraph.Graph {
	return &depgraph.Graph{Nodes: r.Nodes, Edges: r.Edges, Analysis: r.Analysis}
}

// Runner wires a detector and an analyzer together. It holds no per-run
// state and is safe for concurrent use.
type Runner struct {
	analyzer    *depgraph.Analyzer
	metrics     *observability.Metrics
	audit       *observability.AuditLogger
	logger      *slog.Logger
	concurrency int
	now         func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithAnalyzer replaces the default metrics analyzer.
func WithAnalyzer(a *depgraph.Analyzer) Option {
	return func(r *Runner) { r.analyzer = a }
}

// WithMetrics records every run on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithAudit appends run events to l.
func WithAudit(l *observability.AuditLogger) Option {
	return func(r *Runner) { r.audit = l }
}

// WithLogger sets the logger for the runner and its detectors.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithConcurrency caps how many namespaces RunAll analyzes at once.
// Zero or less means no cap.
func WithConcurrency(n int) Option {
	return func(r *Runner) { r.concurrency = n }
}

// NewRunner creates a runner.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	if r.analyzer == nil {
		r.analyzer = depgraph.NewAnalyzer(depgraph.WithLogger(r.logger))
	}
	return r
}

// Run detects cycles in p and computes the dependency analysis. Edges are
// fetched once per node and shared by both passes.
func (r *Runner) Run(ctx context.Context, namespace string, p graph.Provider, opts cycles.Options) (*Report, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	ctx, span := observability.StartAnalysisSpan(ctx, namespace)
	defer span.End()

	if r.metrics != nil {
		r.metrics.ActiveRuns.Inc()
		defer r.metrics.ActiveRuns.Dec()
	}
	r.audit.LogAnalysisStart(namespace, opts.MaxDepth, opts.MaxCycles, opts.Timeout)
	logger := r.logger.With("namespace", namespace)

	started := r.now()
	report, err := r.run(ctx, namespace, p, opts, logger)
	elapsed := r.now().Sub(started)

	if err != nil {
		observability.RecordError(span, err)
		r.audit.LogAnalysisError(namespace, err)
		if r.metrics != nil {
			r.metrics.RecordAnalysis(namespace, elapsed, 0, 0, err)
		}
		return nil, fmt.Errorf("analyze %s: %w", namespace, err)
	}

	report.Duration = elapsed
	a := report.Analysis
	observability.RecordAnalysisResult(span, a.TotalFiles, a.TotalDependencies, len(a.CircularDependencies), report.Detection.Truncated, elapsed)
	r.audit.LogAnalysisComplete(namespace, elapsed, a.TotalFiles, len(a.CircularDependencies),
		report.Detection.Truncated, report.Detection.Stats.TimeoutOccurred)
	if r.metrics != nil {
		r.metrics.RecordAnalysis(namespace, elapsed, a.TotalFiles, a.ComplexityMetrics.Modularity, nil)
		for _, c := range a.CircularDependencies {
			r.metrics.RecordCycle(namespace, string(c.Severity))
		}
	}

	logger.Info("analysis complete",
		"files", a.TotalFiles,
		"dependencies", a.TotalDependencies,
		"cycles", len(a.CircularDependencies),
		"truncated", report.Detection.Truncated,
		"timeout", report.Detection.Stats.TimeoutOccurred,
		"duration", elapsed,
	)
	return report, nil
}

func (r *Runner) run(ctx context.Context, namespace string, p graph.Provider, opts cycles.Options, logger *slog.Logger) (*Report, error) {
	cached := newCachingProvider(p)

	detOpts := []cycles.Option{cycles.WithLogger(logger)}
	if r.metrics != nil {
		detOpts = append(detOpts, cycles.WithFetchErrorHook(func(graph.NodeID, error) {
			r.metrics.FetchErrors.Inc()
		}))
	}

	detStarted := r.now()
	res, err := cycles.New(cached, detOpts...).Detect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	if r.metrics != nil {
		r.metrics.RecordDetection(observability.DetectionSample{
			Namespace:    namespace,
			Duration:     r.now().Sub(detStarted),
			NodesVisited: res.Stats.TotalNodesVisited,
			Truncated:    res.Truncated,
			TimedOut:     res.Stats.TimeoutOccurred,
		})
	}

	ctx, span := observability.StartMetricsSpan(ctx, len(cached.seen))
	defer span.End()
	g, err := r.analyzer.AnalyzeProvider(ctx, cached, res.Cycles)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	logger.Debug("edges fetched", "calls", cached.calls)

	return &Report{
		Namespace: namespace,
		Detection: res,
		Analysis:  g.Analysis,
		Nodes:     g.Nodes,
		Edges:     g.Edges,
	}, nil
}

// RunAll analyzes independent namespaces concurrently, each against its own
// provider. Reports come back sorted by namespace. The first failure cancels
// the remaining runs.
func (r *Runner) RunAll(ctx context.Context, providers map[string]graph.Provider, opts cycles.Options) ([]*Report, error) {
	namespaces := make([]string, 0, len(providers))
	for ns := range providers {
		namespaces = append(namespaces, ns)
	}
	sort.Strings(namespaces)

	reports := make([]*Report, len(namespaces))
	g, gCtx := errgroup.WithContext(ctx)
	if r.concurrency > 0 {
		g.SetLimit(r.concurrency)
	}
	for i, ns := range namespaces {
		i, ns := i, ns
		g.Go(func() error {
			rep, err := r.Run(gCtx, ns, providers[ns], opts)
			if err != nil {
				return err
			}
			reports[i] = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}
