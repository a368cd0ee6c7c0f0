// Package depgraph turns raw edges and detected cycles into per-node levels,
// cycle scores and whole-graph health metrics.
package depgraph

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/efebarandurmaz/depscope/internal/cycles"
	"github.com/efebarandurmaz/depscope/internal/graph"
)

// DefaultTopN is the length of the heaviest / most-dependent rankings.
const DefaultTopN = 10

// Analyzer computes a DependencyAnalysis. The zero value is not usable;
// construct with NewAnalyzer.
type Analyzer struct {
	topN     int
	groupKey func(graph.NodeID) string
	logger   *slog.Logger
}

// AnalyzerOption configures an Analyzer.
type AnalyzerOption func(*Analyzer)

// WithTopN sets the ranking length. Values below 1 are ignored.
func WithTopN(n int) AnalyzerOption {
	return func(a *Analyzer) {
		if n > 0 {
			a.topN = n
		}
	}
}

// WithGroupKey overrides how nodes are grouped for modularity.
func WithGroupKey(fn func(graph.NodeID) string) AnalyzerOption {
	return func(a *Analyzer) {
		if fn != nil {
			a.groupKey = fn
		}
	}
}

// WithLogger sets the logger used for recovered provider failures.
func WithLogger(l *slog.Logger) AnalyzerOption {
	return func(a *Analyzer) { a.logger = l }
}

// NewAnalyzer creates an analyzer with directory grouping and top-10 rankings.
func NewAnalyzer(opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{
		topN:     DefaultTopN,
		groupKey: DirectoryKey,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Analyze is NewAnalyzer().Analyze.
func Analyze(edges []graph.Edge, nodes []graph.NodeInfo, found []cycles.Cycle) *DependencyAnalysis {
	return NewAnalyzer().Analyze(edges, nodes, found)
}

// AnalyzeProvider pulls every node and edge from p, one fetch at a time,
// and analyzes them. It also returns the collected graph.
func (a *Analyzer) AnalyzeProvider(ctx context.Context, p graph.Provider, found []cycles.Cycle) (*Graph, error) {
	nodes, err := p.AllNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	edges, err := graph.CollectEdges(ctx, p, nodes, func(id graph.NodeID, err error) {
		a.logger.Warn("edge lookup failed, treating node as a leaf", "node", id, "error", err)
	})
	if err != nil {
		return nil, fmt.Errorf("collect edges: %w", err)
	}
	return &Graph{Nodes: nodes, Edges: edges, Analysis: a.Analyze(edges, nodes, found)}, nil
}

// Analyze computes the report. Nodes that only appear as edge endpoints are
// counted after the listed nodes, in the order first seen.
func (a *Analyzer) Analyze(edges []graph.Edge, nodes []graph.NodeInfo, found []cycles.Cycle) *DependencyAnalysis {
	order := nodeOrder(nodes, edges)

	fanOut := make(map[graph.NodeID]int, len(order))
	fanIn := make(map[graph.NodeID]int, len(order))
	adj := make(map[graph.NodeID][]graph.NodeID, len(order))
	internal := 0
	for _, e := range edges {
		fanOut[e.From]++
		fanIn[e.To]++
		adj[e.From] = append(adj[e.From], e.To)
		if a.groupKey(e.From) == a.groupKey(e.To) {
			internal++
		}
	}

	levels := ComputeLevels(order, adj)
	maxLevel := 0
	for _, l := range levels {
		if l > maxLevel {
			maxLevel = l
		}
	}

	isolated := []graph.NodeID{}
	for _, id := range order {
		if fanOut[id] == 0 && fanIn[id] == 0 {
			isolated = append(isolated, id)
		}
	}

	metrics := ComplexityMetrics{
		MaxDependencyDepth: maxLevel,
		Modularity:         1.0,
	}
	if len(order) > 0 {
		metrics.AverageDependencies = float64(len(edges)) / float64(len(order))
	}
	if len(edges) > 0 {
		metrics.Modularity = float64(internal) / float64(len(edges))
	}

	return &DependencyAnalysis{
		TotalFiles:           len(order),
		TotalDependencies:    len(edges),
		CircularDependencies: EnrichCycles(found, edges),
		IsolatedFiles:        isolated,
		HeaviestDependencies: topN(order, fanOut, a.topN),
		MostDependent:        topN(order, fanIn, a.topN),
		ComplexityMetrics:    metrics,
		Levels:               levels,
		ConnectedComponents:  countComponents(order, edges),
	}
}

// DirectoryKey groups a node by everything before its last path separator.
// Ids without a separator share the root group.
func DirectoryKey(id graph.NodeID) string {
	s := string(id)
	if i := strings.LastIndexAny(s, `/\`); i >= 0 {
		return s[:i]
	}
	return ""
}

func nodeOrder(nodes []graph.NodeInfo, edges []graph.Edge) []graph.NodeID {
	seen := make(map[graph.NodeID]bool, len(nodes))
	order := make([]graph.NodeID, 0, len(nodes))
	add := func(id graph.NodeID) {
		if !seen[id] {
			seen[id] = true
			order = append(order, id)
		}
	}
	for _, n := range nodes {
		add(n.ID)
	}
	for _, e := range edges {
		add(e.From)
		add(e.To)
	}
	return order
}

// topN ranks nodes with a non-zero count; ties keep insertion order.
func topN(order []graph.NodeID, counts map[graph.NodeID]int, n int) []NodeCount {
	ranked := make([]NodeCount, 0, len(order))
	for _, id := range order {
		if c := counts[id]; c > 0 {
			ranked = append(ranked, NodeCount{ID: id, Count: c})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Count > ranked[j].Count
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// countComponents counts weakly connected components via union-find.
func countComponents(order []graph.NodeID, edges []graph.Edge) int {
	parent := make(map[graph.NodeID]graph.NodeID, len(order))
	var find func(graph.NodeID) graph.NodeID
	find = func(x graph.NodeID) graph.NodeID {
		p, ok := parent[x]
		if !ok {
			parent[x] = x
			return x
		}
		if p != x {
			parent[x] = find(p)
		}
		return parent[x]
	}

	for _, id := range order {
		find(id)
	}
	for _, e := range edges {
		if fa, fb := find(e.From), find(e.To); fa != fb {
			parent[fa] = fb
		}
	}

	roots := make(map[graph.NodeID]bool)
	for _, id := range order {
		roots[find(id)] = true
	}
	return len(roots)
}
