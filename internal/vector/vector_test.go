package vector

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"testing"

	"github.com/efebarandurmaz/depscope/internal/cycles"
	"github.com/efebarandurmaz/depscope/internal/depgraph"
	"github.com/efebarandurmaz/depscope/internal/graph"
)

func testGraph(t *testing.T, edges ...graph.Edge) *depgraph.Graph {
	t.Helper()
	p := graph.NewMemoryProvider(nil, edges)
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	res, err := cycles.New(p, cycles.WithLogger(quiet)).Detect(context.Background(), cycles.DefaultOptions())
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	nodes, err := p.AllNodes(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return &depgraph.Graph{
		Nodes:    nodes,
		Edges:    p.Edges(),
		Analysis: depgraph.Analyze(p.Edges(), nodes, res.Cycles),
	}
}

func imp(from, to string) graph.Edge {
	return graph.Edge{From: graph.NodeID(from), To: graph.NodeID(to), Type: graph.EdgeImports}
}

func TestPointID_Deterministic(t *testing.T) {
	if PointID("web", "a.go") != PointID("web", "a.go") {
		t.Error("same node should map to the same point")
	}
	if PointID("web", "a.go") == PointID("api", "a.go") {
		t.Error("namespace must be part of the id")
	}
	if PointID("web", "a.go") == PointID("web", "b.go") {
		t.Error("distinct nodes collided")
	}
	if n := len(PointID("web", "a.go")); n != 36 {
		t.Errorf("id length = %d, want a 36-char UUID", n)
	}
}

func TestProfiles(t *testing.T) {
	// a <-> b cycle, b -> c, d -> c
	g := testGraph(t, imp("a", "b"), imp("b", "a"), imp("b", "c"), imp("d", "c"))
	profiles := Profiles(g)
	if len(profiles) != 4 {
		t.Fatalf("expected 4 profiles, got %d", len(profiles))
	}

	byNode := make(map[graph.NodeID]Profile)
	for _, p := range profiles {
		byNode[p.Node] = p
	}

	b := byNode["b"]
	if b.FanOut != 2 || b.FanIn != 1 {
		t.Errorf("b fan-out/in = %d/%d, want 2/1", b.FanOut, b.FanIn)
	}
	if !b.InCycle || b.Severity != depgraph.SeverityLow {
		t.Errorf("b should be in a low-severity cycle: %+v", b)
	}
	if b.MaxImpact <= 0 {
		t.Errorf("b max impact = %v, want > 0", b.MaxImpact)
	}

	c := byNode["c"]
	if c.FanOut != 0 || c.FanIn != 2 {
		t.Errorf("c fan-out/in = %d/%d, want 0/2", c.FanOut, c.FanIn)
	}
	if c.InCycle || c.Severity != "" {
		t.Errorf("c is not in a cycle: %+v", c)
	}
	if c.Level != 1 {
		t.Errorf("c level = %d, want 1", c.Level)
	}
}

func TestProfileDocuments(t *testing.T) {
	g := testGraph(t, imp("a", "b"), imp("b", "a"), imp("b", "c"), imp("d", "c"))
	docs := ProfileDocuments("web", g)
	if len(docs) != 4 {
		t.Fatalf("expected 4 documents, got %d", len(docs))
	}

	for _, d := range docs {
		if len(d.Vector) != Dimensions {
			t.Fatalf("%s: vector has %d dims, want %d", d.Payload[KeyNode], len(d.Vector), Dimensions)
		}
		for i, v := range d.Vector {
			if v < 0 || v > 1 {
				t.Errorf("%s dim %d = %v, outside [0,1]", d.Payload[KeyNode], i, v)
			}
		}
		if d.Payload[KeyNamespace] != "web" {
			t.Errorf("namespace = %q", d.Payload[KeyNamespace])
		}
		if d.ID != PointID("web", graph.NodeID(d.Payload[KeyNode])) {
			t.Errorf("%s: id %s does not match PointID", d.Payload[KeyNode], d.ID)
		}
	}

	// b has the largest fan-out, c the largest fan-in.
	b, c := docs[1], docs[2]
	if b.Payload[KeyNode] != "b" || c.Payload[KeyNode] != "c" {
		t.Fatalf("documents out of node order: %s, %s", b.Payload[KeyNode], c.Payload[KeyNode])
	}
	if b.Vector[1] != 1 || c.Vector[2] != 1 {
		t.Errorf("fan-out/fan-in not normalised to the maximum: b=%v c=%v", b.Vector, c.Vector)
	}
	if b.Vector[3] != 1 || c.Vector[3] != 0 {
		t.Errorf("cycle flag: b=%v c=%v", b.Vector[3], c.Vector[3])
	}
	if b.Payload[KeySeverity] != "low" || c.Payload[KeySeverity] != "" {
		t.Errorf("severity payloads: b=%q c=%q", b.Payload[KeySeverity], c.Payload[KeySeverity])
	}
}

func TestProfileDocuments_NoEdges(t *testing.T) {
	g := &depgraph.Graph{
		Nodes:    []graph.NodeInfo{{ID: "solo", Type: graph.NodeFile}},
		Analysis: depgraph.Analyze(nil, nil, nil),
	}
	docs := ProfileDocuments("web", g)
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}
	if !slices.Equal(docs[0].Vector, make([]float32, Dimensions)) {
		t.Errorf("isolated node should have a zero vector, got %v", docs[0].Vector)
	}
	if docs[0].Payload[KeyNodeType] != "file" {
		t.Errorf("node type = %q", docs[0].Payload[KeyNodeType])
	}
}

type fakeRepo struct {
	dims    []int
	batches [][]Document
	stored  []Document
	filter  map[string]string
	failOn  int
}

func (f *fakeRepo) EnsureCollection(_ context.Context, dim int) error {
	f.dims = append(f.dims, dim)
	return nil
}

func (f *fakeRepo) Upsert(_ context.Context, docs []Document) error {
	if f.failOn > 0 && len(f.batches)+1 == f.failOn {
		return errors.New("unavailable")
	}
	f.batches = append(f.batches, docs)
	f.stored = append(f.stored, docs...)
	return nil
}

// Search returns every stored point in insertion order with a fake score.
func (f *fakeRepo) Search(_ context.Context, _ []float32, topK int, filter map[string]string) ([]SearchResult, error) {
	f.filter = filter
	var out []SearchResult
	for i, d := range f.stored {
		if len(out) == topK {
			break
		}
		out = append(out, SearchResult{ID: d.ID, Score: float32(i), Payload: d.Payload})
	}
	return out, nil
}

func (f *fakeRepo) Close() error { return nil }

func quietPublisher(repo Repository, opts ...PublisherOption) *Publisher {
	opts = append(opts, WithPublisherLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	return NewPublisher(repo, opts...)
}

func TestPublisher_Publish(t *testing.T) {
	repo := &fakeRepo{}
	g := testGraph(t, imp("a", "b"), imp("b", "c"), imp("c", "d"), imp("d", "e"))

	n, err := quietPublisher(repo, WithBatchSize(2)).Publish(context.Background(), "web", g)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if n != 5 {
		t.Errorf("published %d points, want 5", n)
	}
	if !slices.Equal(repo.dims, []int{Dimensions}) {
		t.Errorf("collection dims = %v", repo.dims)
	}
	if len(repo.batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(repo.batches))
	}
	if len(repo.batches[2]) != 1 {
		t.Errorf("last batch has %d points, want 1", len(repo.batches[2]))
	}
}

func TestPublisher_PublishEmpty(t *testing.T) {
	repo := &fakeRepo{}
	n, err := quietPublisher(repo).Publish(context.Background(), "web", &depgraph.Graph{Analysis: depgraph.Analyze(nil, nil, nil)})
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("published %d points, want 0", n)
	}
	if len(repo.dims) != 0 {
		t.Error("no collection for an empty graph")
	}
}

func TestPublisher_PublishUpsertError(t *testing.T) {
	repo := &fakeRepo{failOn: 2}
	g := testGraph(t, imp("a", "b"), imp("b", "c"), imp("c", "d"))

	n, err := quietPublisher(repo, WithBatchSize(2)).Publish(context.Background(), "web", g)
	if err == nil {
		t.Fatal("expected an upsert error")
	}
	if !strings.Contains(err.Error(), "upsert points 2-4") {
		t.Errorf("error %q does not name the failed range", err)
	}
	if n != 2 {
		t.Errorf("published %d points before the failure, want 2", n)
	}
}

func TestPublisher_SimilarNodes(t *testing.T) {
	repo := &fakeRepo{}
	g := testGraph(t, imp("a", "b"), imp("b", "a"), imp("c", "d"))
	pub := quietPublisher(repo)
	if _, err := pub.Publish(context.Background(), "web", g); err != nil {
		t.Fatal(err)
	}

	results, err := pub.SimilarNodes(context.Background(), "web", g, "a", 2)
	if err != nil {
		t.Fatalf("SimilarNodes failed: %v", err)
	}
	if !maps.Equal(repo.filter, map[string]string{KeyNamespace: "web"}) {
		t.Errorf("filter = %v", repo.filter)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, r := range results {
		if r.ID == PointID("web", "a") {
			t.Error("query node must be excluded")
		}
	}
	if results[0].Payload[KeyNode] != "b" {
		t.Errorf("first result = %q, want b", results[0].Payload[KeyNode])
	}
}

func TestPublisher_SimilarNodesUnknown(t *testing.T) {
	g := testGraph(t, imp("a", "b"))
	_, err := quietPublisher(&fakeRepo{}).SimilarNodes(context.Background(), "web", g, "zzz", 3)
	if !errors.Is(err, ErrUnknownNode) {
		t.Errorf("expected ErrUnknownNode, got %v", err)
	}
}
