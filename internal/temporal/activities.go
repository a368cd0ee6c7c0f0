package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/efebarandurmaz/depscope/internal/cycles"
	"github.com/efebarandurmaz/depscope/internal/depgraph"
	"github.com/efebarandurmaz/depscope/internal/graph"
	"github.com/efebarandurmaz/depscope/internal/observability"
	"github.com/efebarandurmaz/depscope/internal/vector"
)

// ProviderFactory opens the graph of one namespace for an activity.
type ProviderFactory func(ctx context.Context, namespace string) (graph.Provider, error)

// Activities holds the resources injected into activities. Register a
// pointer with the worker; workflows reference the methods through a nil
// *Activities.
type Activities struct {
	ProviderFor ProviderFactory
	Publisher   *vector.Publisher // optional; publishing is skipped when nil
	Metrics     *observability.Metrics
	Audit       *observability.AuditLogger // nil disables the audit trail
	Logger      *slog.Logger
}

// DetectOutput is the result of CollectAndDetectActivity: the detection
// result plus the raw graph the metrics pass needs.
type DetectOutput struct {
	Namespace string           `json:"namespace"`
	Detection *cycles.Result   `json:"detection"`
	Nodes     []graph.NodeInfo `json:"nodes"`
	Edges     []graph.Edge     `json:"edges"`
}

// PublishInput feeds PublishProfilesActivity.
type PublishInput struct {
	Detect   DetectOutput                 `json:"detect"`
	Analysis *depgraph.DependencyAnalysis `json:"analysis"`
}

// MetricsInput feeds ComputeMetricsActivity.
type MetricsInput struct {
	Detect DetectOutput `json:"detect"`
	TopN   int          `json:"top_n,omitempty"`
}

func (a *Activities) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

// CollectAndDetectActivity runs bounded cycle detection over a namespace and
// collects its nodes and edges. Fetch failures are logged and count as zero
// edges in both passes.
func (a *Activities) CollectAndDetectActivity(ctx context.Context, in AnalysisInput) (*DetectOutput, error) {
	if a.ProviderFor == nil {
		return nil, fmt.Errorf("no provider factory configured")
	}
	p, err := a.ProviderFor(ctx, in.Namespace)
	if err != nil {
		return nil, fmt.Errorf("open namespace %s: %w", in.Namespace, err)
	}

	logger := a.logger().With("namespace", in.Namespace)
	onFetchErr := func(id graph.NodeID, err error) {
		if a.Metrics != nil {
			a.Metrics.FetchErrors.Inc()
		}
	}

	a.Audit.LogAnalysisStart(in.Namespace, in.Options.MaxDepth, in.Options.MaxCycles, in.Options.Timeout)
	started := time.Now()
	res, err := cycles.New(p, cycles.WithLogger(logger), cycles.WithFetchErrorHook(onFetchErr)).Detect(ctx, in.Options)
	if err != nil {
		a.Audit.LogAnalysisError(in.Namespace, err)
		return nil, fmt.Errorf("detect: %w", err)
	}
	if a.Metrics != nil {
		a.Metrics.RecordDetection(observability.DetectionSample{
			Namespace:    in.Namespace,
			Duration:     time.Since(started),
			NodesVisited: res.Stats.TotalNodesVisited,
			Truncated:    res.Truncated,
			TimedOut:     res.Stats.TimeoutOccurred,
		})
	}

	nodes, err := p.AllNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	edges, err := graph.CollectEdges(ctx, p, nodes, func(id graph.NodeID, err error) {
		logger.Warn("edge fetch failed", "node", id, "error", err)
		onFetchErr(id, err)
	})
	if err != nil {
		return nil, fmt.Errorf("collect edges: %w", err)
	}

	a.Audit.LogAnalysisComplete(in.Namespace, time.Since(started), len(nodes), len(res.Cycles), res.Truncated, res.Stats.TimeoutOccurred)
	logger.Info("detection complete",
		"cycles", len(res.Cycles),
		"nodes", len(nodes),
		"edges", len(edges),
		"truncated", res.Truncated,
	)
	return &DetectOutput{Namespace: in.Namespace, Detection: res, Nodes: nodes, Edges: edges}, nil
}

// ComputeMetricsActivity scores the detected cycles and computes the
// whole-graph metrics.
func (a *Activities) ComputeMetricsActivity(ctx context.Context, in MetricsInput) (*depgraph.DependencyAnalysis, error) {
	ctx, span := observability.StartMetricsSpan(ctx, len(in.Detect.Edges))
	defer span.End()

	var found []cycles.Cycle
	if in.Detect.Detection != nil {
		found = in.Detect.Detection.Cycles
	}
	analyzer := depgraph.NewAnalyzer(depgraph.WithTopN(in.TopN), depgraph.WithLogger(a.logger()))
	result := analyzer.Analyze(in.Detect.Edges, in.Detect.Nodes, found)

	if a.Metrics != nil {
		for _, c := range result.CircularDependencies {
			a.Metrics.RecordCycle(in.Detect.Namespace, string(c.Severity))
		}
	}
	return result, nil
}

// PublishProfilesActivity upserts the risk profile of every node to the
// vector store and returns the number of points written.
func (a *Activities) PublishProfilesActivity(ctx context.Context, in PublishInput) (int, error) {
	logger := a.logger().With("namespace", in.Detect.Namespace)
	if a.Publisher == nil {
		logger.Warn("publishing requested but no vector store is configured")
		return 0, nil
	}

	ctx, span := observability.StartStoreSpan(ctx, "qdrant", "publish")
	defer span.End()

	g := &depgraph.Graph{Nodes: in.Detect.Nodes, Edges: in.Detect.Edges, Analysis: in.Analysis}
	n, err := a.Publisher.Publish(ctx, in.Detect.Namespace, g)
	if err != nil {
		observability.RecordError(span, err)
		return n, fmt.Errorf("publish %s: %w", in.Detect.Namespace, err)
	}
	return n, nil
}
