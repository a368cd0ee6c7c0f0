package depgraph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/efebarandurmaz/depscope/internal/cycles"
	"github.com/efebarandurmaz/depscope/internal/graph"
)

type nodePair struct{ from, to graph.NodeID }

// EnrichCycles scores every cycle against the edges it runs along and sorts
// the result by descending impact. Parallel edges between the same pair
// count with the heaviest weight.
func EnrichCycles(found []cycles.Cycle, edges []graph.Edge) []EnrichedCycle {
	weights := make(map[nodePair]float64, len(edges))
	for _, e := range edges {
		k := nodePair{e.From, e.To}
		if w := EdgeWeight(e); w > weights[k] {
			weights[k] = w
		}
	}

	out := make([]EnrichedCycle, 0, len(found))
	for _, c := range found {
		out = append(out, enrich(c, weights))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Impact > out[j].Impact
	})
	return out
}

func enrich(c cycles.Cycle, weights map[nodePair]float64) EnrichedCycle {
	var sum float64
	hops := 0
	for i := 0; i+1 < len(c.Nodes); i++ {
		w, ok := weights[nodePair{c.Nodes[i], c.Nodes[i+1]}]
		if !ok {
			w = baseEdgeWeight
		}
		sum += w
		hops++
	}
	mean := 0.0
	if hops > 0 {
		mean = sum / float64(hops)
	}

	distinct := c.Distinct()
	return EnrichedCycle{
		Cycle:       c,
		Severity:    severity(c.Depth, mean),
		Impact:      0.3*float64(c.Depth) + 0.4*mean + 0.3*float64(len(distinct)),
		MeanWeight:  mean,
		Suggestions: suggestions(distinct),
	}
}

func severity(depth int, meanWeight float64) Severity {
	switch {
	case depth <= 2 && meanWeight < 2.0:
		return SeverityLow
	case depth <= 4 && meanWeight < 3.0:
		return SeverityMedium
	default:
		return SeverityHigh
	}
}

func suggestions(nodes []graph.NodeID) []string {
	switch len(nodes) {
	case 0:
		return nil
	case 1:
		return []string{
			fmt.Sprintf("Remove the self-reference in %s by folding the recursive use into one definition", nodes[0]),
			fmt.Sprintf("Inject the dependency of %s on itself through an interface or callback", nodes[0]),
		}
	case 2:
		a, b := nodes[0], nodes[1]
		return []string{
			fmt.Sprintf("Consider merging %s and %s, they depend on each other directly", a, b),
			fmt.Sprintf("Inject the dependency of %s on %s through an interface or callback", b, a),
		}
	}
	names := make([]string, len(nodes))
	for i, n := range nodes {
		names[i] = string(n)
	}
	return []string{
		"Extract the contract shared by the cycle into an interface the participants depend on",
		fmt.Sprintf("Introduce a mediator that owns the interaction between %s", strings.Join(names, ", ")),
		fmt.Sprintf("Split %s so the part the loop relies on becomes its own module", nodes[0]),
	}
}
