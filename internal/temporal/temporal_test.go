package temporal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/efebarandurmaz/depscope/internal/cycles"
	"github.com/efebarandurmaz/depscope/internal/graph"
	"github.com/efebarandurmaz/depscope/internal/observability"
	"github.com/efebarandurmaz/depscope/internal/vector"
)

func imp(from, to string) graph.Edge {
	return graph.Edge{From: graph.NodeID(from), To: graph.NodeID(to), Type: graph.EdgeImports}
}

// failingProvider fails every fetch of one node.
type failingProvider struct {
	*graph.MemoryProvider
	bad graph.NodeID
}

func (f failingProvider) EdgesOf(ctx context.Context, id graph.NodeID) ([]graph.Edge, error) {
	if id == f.bad {
		return nil, errors.New("backend unavailable")
	}
	return f.MemoryProvider.EdgesOf(ctx, id)
}

func testActivities(graphs map[string]graph.Provider, m *observability.Metrics) *Activities {
	return &Activities{
		ProviderFor: func(_ context.Context, ns string) (graph.Provider, error) {
			p, ok := graphs[ns]
			if !ok {
				return nil, fmt.Errorf("unknown namespace %q", ns)
			}
			return p, nil
		},
		Metrics: m,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func testGraphs() map[string]graph.Provider {
	return map[string]graph.Provider{
		"web": graph.NewMemoryProvider(nil, []graph.Edge{imp("a", "b"), imp("b", "c"), imp("c", "a")}),
		"api": graph.NewMemoryProvider(nil, []graph.Edge{imp("x", "y")}),
	}
}

func TestAnalysisWorkflow(t *testing.T) {
	var s testsuite.WorkflowTestSuite
	env := s.NewTestWorkflowEnvironment()
	env.RegisterActivity(testActivities(testGraphs(), nil))

	env.ExecuteWorkflow(AnalysisWorkflow, AnalysisInput{Namespace: "web", Options: cycles.DefaultOptions()})

	if !env.IsWorkflowCompleted() {
		t.Fatal("workflow did not complete")
	}
	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow failed: %v", err)
	}

	var out AnalysisOutput
	if err := env.GetWorkflowResult(&out); err != nil {
		t.Fatal(err)
	}
	if out.Namespace != "web" || out.NodeCount != 3 || out.EdgeCount != 3 {
		t.Errorf("unexpected output header %+v", out)
	}
	if len(out.Detection.Cycles) != 1 {
		t.Errorf("expected 1 cycle, got %d", len(out.Detection.Cycles))
	}
	if len(out.Analysis.CircularDependencies) != 1 || out.Analysis.CircularDependencies[0].Severity != "medium" {
		t.Errorf("unexpected enriched cycles %+v", out.Analysis.CircularDependencies)
	}
	if out.Analysis.Levels["a"] != 3 {
		t.Errorf("level of a = %d, want 3", out.Analysis.Levels["a"])
	}
}

func TestAnalysisWorkflow_InvalidOptions(t *testing.T) {
	var s testsuite.WorkflowTestSuite
	env := s.NewTestWorkflowEnvironment()
	env.RegisterActivity(testActivities(testGraphs(), nil))

	env.ExecuteWorkflow(AnalysisWorkflow, AnalysisInput{Namespace: "web"})

	err := env.GetWorkflowError()
	if err == nil {
		t.Fatal("expected an error for zero options")
	}
	var appErr *temporal.ApplicationError
	if !errors.As(err, &appErr) || !appErr.NonRetryable() {
		t.Errorf("expected a non-retryable application error, got %v", err)
	}
}

func TestAnalysisWorkflow_UnknownNamespace(t *testing.T) {
	var s testsuite.WorkflowTestSuite
	env := s.NewTestWorkflowEnvironment()
	env.RegisterActivity(testActivities(testGraphs(), nil))

	env.ExecuteWorkflow(AnalysisWorkflow, AnalysisInput{Namespace: "missing", Options: cycles.DefaultOptions()})

	if err := env.GetWorkflowError(); err == nil {
		t.Fatal("expected the workflow to fail")
	}
}

func TestBatchAnalysisWorkflow(t *testing.T) {
	var s testsuite.WorkflowTestSuite
	env := s.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(AnalysisWorkflow)
	env.RegisterActivity(testActivities(testGraphs(), nil))

	env.ExecuteWorkflow(BatchAnalysisWorkflow, BatchInput{
		Namespaces: []string{"web", "missing", "api", "web"},
		Options:    cycles.DefaultOptions(),
	})

	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("batch failed: %v", err)
	}
	var out BatchOutput
	if err := env.GetWorkflowResult(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Reports) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(out.Reports))
	}
	if out.Reports[0].Namespace != "api" || out.Reports[1].Namespace != "web" {
		t.Errorf("reports not sorted: %s, %s", out.Reports[0].Namespace, out.Reports[1].Namespace)
	}
	if _, ok := out.Failed["missing"]; !ok || len(out.Failed) != 1 {
		t.Errorf("expected only missing to fail, got %v", out.Failed)
	}
}

func TestCollectAndDetectActivity_FetchErrors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)
	graphs := map[string]graph.Provider{
		"web": failingProvider{
			MemoryProvider: graph.NewMemoryProvider(nil, []graph.Edge{imp("a", "b"), imp("b", "a"), imp("a", "c")}),
			bad:            "b",
		},
	}
	acts := testActivities(graphs, m)

	var s testsuite.WorkflowTestSuite
	env := s.NewTestActivityEnvironment()
	env.RegisterActivity(acts)

	val, err := env.ExecuteActivity(acts.CollectAndDetectActivity, AnalysisInput{Namespace: "web", Options: cycles.DefaultOptions()})
	if err != nil {
		t.Fatalf("activity failed: %v", err)
	}
	var out DetectOutput
	if err := val.Get(&out); err != nil {
		t.Fatal(err)
	}

	if len(out.Detection.Cycles) != 0 {
		t.Errorf("b has no readable edges, expected no cycles, got %v", out.Detection.Cycles)
	}
	if len(out.Edges) != 2 {
		t.Errorf("expected a's 2 edges, got %d", len(out.Edges))
	}
	// one failure in the detector, one in edge collection
	if got := testutil.ToFloat64(m.FetchErrors); got != 2 {
		t.Errorf("fetch errors = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.DetectionRuns.WithLabelValues("web")); got != 1 {
		t.Errorf("detection runs = %v, want 1", got)
	}
}

func TestComputeMetricsActivity(t *testing.T) {
	acts := testActivities(nil, nil)
	in := MetricsInput{
		Detect: DetectOutput{
			Namespace: "web",
			Detection: &cycles.Result{Cycles: []cycles.Cycle{cycles.NewCycle([]graph.NodeID{"a", "b", "a"})}},
			Nodes:     []graph.NodeInfo{{ID: "a"}, {ID: "b"}, {ID: "c"}},
			Edges:     []graph.Edge{imp("a", "b"), imp("b", "a")},
		},
		TopN: 1,
	}

	out, err := acts.ComputeMetricsActivity(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if out.TotalFiles != 3 || out.TotalDependencies != 2 {
		t.Errorf("totals = %d files, %d deps", out.TotalFiles, out.TotalDependencies)
	}
	if len(out.HeaviestDependencies) != 1 {
		t.Errorf("top-n not applied: %v", out.HeaviestDependencies)
	}
	if len(out.IsolatedFiles) != 1 || out.IsolatedFiles[0] != "c" {
		t.Errorf("isolated = %v", out.IsolatedFiles)
	}
}

func TestActivityTimeout(t *testing.T) {
	if got := activityTimeout(30 * time.Second); got != 30*time.Second+activitySlack {
		t.Errorf("activityTimeout(30s) = %v", got)
	}
	if got := activityTimeout(time.Duration(1<<63 - 1)); got != maxActivityTimeout {
		t.Errorf("unbounded timeout should be capped, got %v", got)
	}
}

type recordingRepo struct {
	upserted []vector.Document
}

func (r *recordingRepo) EnsureCollection(context.Context, int) error { return nil }
func (r *recordingRepo) Upsert(_ context.Context, docs []vector.Document) error {
	r.upserted = append(r.upserted, docs...)
	return nil
}
func (r *recordingRepo) Search(context.Context, []float32, int, map[string]string) ([]vector.SearchResult, error) {
	return nil, nil
}
func (r *recordingRepo) Close() error { return nil }

func TestAnalysisWorkflow_Publish(t *testing.T) {
	repo := &recordingRepo{}
	acts := testActivities(testGraphs(), nil)
	acts.Publisher = vector.NewPublisher(repo, vector.WithPublisherLogger(acts.Logger))

	var s testsuite.WorkflowTestSuite
	env := s.NewTestWorkflowEnvironment()
	env.RegisterActivity(acts)

	env.ExecuteWorkflow(AnalysisWorkflow, AnalysisInput{Namespace: "web", Options: cycles.DefaultOptions(), Publish: true})

	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow failed: %v", err)
	}
	var out AnalysisOutput
	if err := env.GetWorkflowResult(&out); err != nil {
		t.Fatal(err)
	}
	if out.Published != 3 || len(repo.upserted) != 3 {
		t.Errorf("published = %d, upserted = %d, want 3", out.Published, len(repo.upserted))
	}
	if repo.upserted[0].Payload[vector.KeyNamespace] != "web" {
		t.Errorf("unexpected payload %v", repo.upserted[0].Payload)
	}
}

func TestPublishProfilesActivity_NoPublisher(t *testing.T) {
	acts := testActivities(nil, nil)
	n, err := acts.PublishProfilesActivity(context.Background(), PublishInput{Detect: DetectOutput{Namespace: "web"}})
	if err != nil || n != 0 {
		t.Fatalf("expected a no-op, got %d, %v", n, err)
	}
}

func TestCollectAndDetectActivity_Audit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	audit, err := observability.NewAuditLogger(&observability.AuditConfig{Enabled: true, OutputPath: path, SessionID: "worker-1"})
	if err != nil {
		t.Fatal(err)
	}
	acts := testActivities(testGraphs(), nil)
	acts.Audit = audit

	var s testsuite.WorkflowTestSuite
	env := s.NewTestActivityEnvironment()
	env.RegisterActivity(acts)

	if _, err := env.ExecuteActivity(acts.CollectAndDetectActivity, AnalysisInput{Namespace: "web", Options: cycles.DefaultOptions()}); err != nil {
		t.Fatalf("activity failed: %v", err)
	}
	if err := audit.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected start and complete events, got %d lines:\n%s", len(lines), data)
	}
	if !strings.Contains(lines[0], `"analysis.start"`) || !strings.Contains(lines[1], `"analysis.complete"`) {
		t.Errorf("unexpected events:\n%s", data)
	}
	if !strings.Contains(lines[1], `"worker-1"`) {
		t.Errorf("session id missing: %s", lines[1])
	}
}
