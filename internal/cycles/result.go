package cycles

import (
	"strings"

	"github.com/efebarandurmaz/depscope/internal/graph"
)

// Cycle is a closed path. Nodes[0] == Nodes[len(Nodes)-1] and
// Depth == len(Nodes)-1. A self-loop is [A, A] with depth 1.
type Cycle struct {
	Nodes []graph.NodeID `json:"nodes"`
	Depth int            `json:"depth"`
}

// NewCycle builds a cycle from a closed node sequence.
func NewCycle(nodes []graph.NodeID) Cycle {
	return Cycle{Nodes: nodes, Depth: len(nodes) - 1}
}

// Key identifies the exact node sequence. Rotations of the same loop have
// different keys.
func (c Cycle) Key() string {
	parts := make([]string, len(c.Nodes))
	for i, n := range c.Nodes {
		parts[i] = string(n)
	}
	return strings.Join(parts, "\x00")
}

// Contains reports whether id lies on the cycle.
func (c Cycle) Contains(id graph.NodeID) bool {
	for _, n := range c.Nodes {
		if n == id {
			return true
		}
	}
	return false
}

// Distinct returns the nodes of the cycle without the closing repeat, in order.
func (c Cycle) Distinct() []graph.NodeID {
	seen := make(map[graph.NodeID]bool, len(c.Nodes))
	out := make([]graph.NodeID, 0, len(c.Nodes))
	for _, n := range c.Nodes {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

func (c Cycle) String() string {
	parts := make([]string, len(c.Nodes))
	for i, n := range c.Nodes {
		parts[i] = string(n)
	}
	return strings.Join(parts, " -> ")
}

// Stats describes how much of the graph a run explored.
type Stats struct {
	TotalNodesVisited int  `json:"total_nodes_visited"`
	MaxDepthReached   int  `json:"max_depth_reached"`
	TimeoutOccurred   bool `json:"timeout_occurred"`
}

// Result is the outcome of one detection run. Truncated is set when the
// cycle limit stopped the search; it is independent of Stats.TimeoutOccurred.
// Callers must check both to know whether the result is exhaustive.
type Result struct {
	Cycles    []Cycle `json:"cycles"`
	Stats     Stats   `json:"stats"`
	Truncated bool    `json:"truncated"`
}

// Exhaustive reports whether the search ran to completion.
func (r *Result) Exhaustive() bool {
	return !r.Truncated && !r.Stats.TimeoutOccurred
}
