package depgraph

import (
	"github.com/efebarandurmaz/depscope/internal/cycles"
	"github.com/efebarandurmaz/depscope/internal/graph"
)

// Severity ranks how hard a cycle is to live with.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// EnrichedCycle is a detected cycle scored for reporting.
type EnrichedCycle struct {
	cycles.Cycle
	Severity    Severity `json:"severity"`
	Impact      float64  `json:"impact"`
	MeanWeight  float64  `json:"mean_weight"`
	Suggestions []string `json:"suggestions"`
}

// NodeCount pairs a node with an edge count.
type NodeCount struct {
	ID    graph.NodeID `json:"id"`
	Count int          `json:"count"`
}

// ComplexityMetrics are whole-graph health figures.
type ComplexityMetrics struct {
	AverageDependencies float64 `json:"average_dependencies"`
	MaxDependencyDepth  int     `json:"max_dependency_depth"`
	Modularity          float64 `json:"modularity"` // internal edges / all edges
}

// DependencyAnalysis is the whole-graph report.
type DependencyAnalysis struct {
	TotalFiles           int                  `json:"total_files"`
	TotalDependencies    int                  `json:"total_dependencies"`
	CircularDependencies []EnrichedCycle      `json:"circular_dependencies"` // descending impact
	IsolatedFiles        []graph.NodeID       `json:"isolated_files"`
	HeaviestDependencies []NodeCount          `json:"heaviest_dependencies"` // most outgoing edges
	MostDependent        []NodeCount          `json:"most_dependent"`        // most incoming edges
	ComplexityMetrics    ComplexityMetrics    `json:"complexity_metrics"`
	Levels               map[graph.NodeID]int `json:"levels"`
	ConnectedComponents  int                  `json:"connected_components"`
}

// Graph bundles the raw graph with its analysis for exporters.
type Graph struct {
	Nodes    []graph.NodeInfo    `json:"nodes"`
	Edges    []graph.Edge        `json:"edges"`
	Analysis *DependencyAnalysis `json:"analysis"`
}
