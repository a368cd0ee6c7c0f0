package depgraph

import (
	"math"

	"github.com/efebarandurmaz/depscope/internal/graph"
)

const (
	baseEdgeWeight     = 1.0
	defaultImportBonus = 0.5
	perItemBonus       = 0.2
	maxEdgeWeight      = 5.0
)

// EdgeWeight scores how tightly an edge couples its endpoints. It feeds
// cycle severity and impact only, never traversal.
func EdgeWeight(e graph.Edge) float64 {
	w := baseEdgeWeight
	if e.Metadata.ImportKind == graph.ImportDefault {
		w += defaultImportBonus
	}
	if e.Metadata.ImportedItems > 0 {
		w += perItemBonus * float64(e.Metadata.ImportedItems)
	}
	switch e.Metadata.Category {
	case graph.CategoryExternal:
		w += 0.1
	case graph.CategoryInternal:
		w += 0.3
	case graph.CategoryRelative:
		w += 0.5
	}
	return math.Min(w, maxEdgeWeight)
}
