package depgraph

import "github.com/efebarandurmaz/depscope/internal/graph"

const (
	levelUnseen = iota
	levelInProgress
	levelDone
)

// ComputeLevels returns the longest outward dependency chain of every node:
// 0 for a node without outgoing edges, otherwise 1 + the deepest target.
// A target still being computed contributes 0, so nodes on a cycle are not
// inflated by their own loop.
func ComputeLevels(order []graph.NodeID, adj map[graph.NodeID][]graph.NodeID) map[graph.NodeID]int {
	levels := make(map[graph.NodeID]int, len(order))
	state := make(map[graph.NodeID]int, len(order))

	var level func(n graph.NodeID) int
	level = func(n graph.NodeID) int {
		switch state[n] {
		case levelDone:
			return levels[n]
		case levelInProgress:
			return 0
		}
		state[n] = levelInProgress
		best := 0
		for _, t := range adj[n] {
			if l := level(t) + 1; l > best {
				best = l
			}
		}
		state[n] = levelDone
		levels[n] = best
		return best
	}

	for _, n := range order {
		level(n)
	}
	return levels
}
