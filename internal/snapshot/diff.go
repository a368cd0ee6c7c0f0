package snapshot

import (
	"fmt"
	"sort"
	"strings"

	"github.com/efebarandurmaz/depscope/internal/depgraph"
	"github.com/efebarandurmaz/depscope/internal/graph"
)

// DiffType indicates the kind of change.
type DiffType string

const (
	DiffAdded   DiffType = "added"
	DiffRemoved DiffType = "removed"
)

// SnapshotDiff compares two analyses of the same codebase.
type SnapshotDiff struct {
	OldID  string `json:"old_id"`
	NewID  string `json:"new_id"`
	OldTag string `json:"old_tag,omitempty"`
	NewTag string `json:"new_tag,omitempty"`

	Introduced []depgraph.EnrichedCycle `json:"introduced"` // present only in new
	Resolved   []depgraph.EnrichedCycle `json:"resolved"`   // present only in old
	Changed    []SeverityChange         `json:"changed,omitempty"`
	Persisting int                      `json:"persisting"`

	Metrics   MetricDelta `json:"metrics"`
	EdgeDiffs []EdgeDiff  `json:"edge_diffs,omitempty"`
	Summary   DiffSummary `json:"summary"`
}

// SeverityChange is a cycle present in both snapshots whose severity moved.
type SeverityChange struct {
	Cycle       []graph.NodeID    `json:"cycle"`
	OldSeverity depgraph.Severity `json:"old_severity"`
	NewSeverity depgraph.Severity `json:"new_severity"`
	ImpactDelta float64           `json:"impact_delta"`
}

// MetricDelta is new minus old for each scalar metric.
type MetricDelta struct {
	TotalFiles          int     `json:"total_files"`
	TotalDependencies   int     `json:"total_dependencies"`
	AverageDependencies float64 `json:"average_dependencies"`
	MaxDependencyDepth  int     `json:"max_dependency_depth"`
	Modularity          float64 `json:"modularity"`
	ConnectedComponents int     `json:"connected_components"`
	IsolatedFiles       int     `json:"isolated_files"`
	Cycles              int     `json:"cycles"`
}

// EdgeDiff is one edge added or removed between the two graphs.
type EdgeDiff struct {
	Type DiffType       `json:"type"`
	From graph.NodeID   `json:"from"`
	To   graph.NodeID   `json:"to"`
	Kind graph.EdgeType `json:"kind"`
}

// DiffSummary provides aggregate stats about the diff.
type DiffSummary struct {
	EdgesAdded   int  `json:"edges_added"`
	EdgesRemoved int  `json:"edges_removed"`
	Improved     bool `json:"improved"` // fewer cycles, or as many with none introduced
}

// Diff computes the differences between two snapshots. If store is not nil
// the graph payloads are loaded and compared edge by edge.
func Diff(old, new *Snapshot, store *Store) (*SnapshotDiff, error) {
	d := &SnapshotDiff{
		OldID:  old.ID,
		NewID:  new.ID,
		OldTag: old.Tag,
		NewTag: new.Tag,
	}

	diffCycles(d, old.Cycles, new.Cycles)
	d.Metrics = diffMetrics(old, new)

	if store != nil && old.GraphHash != new.GraphHash {
		oldDoc, err := store.LoadGraph(old)
		if err != nil {
			return nil, fmt.Errorf("load old graph: %w", err)
		}
		newDoc, err := store.LoadGraph(new)
		if err != nil {
			return nil, fmt.Errorf("load new graph: %w", err)
		}
		d.EdgeDiffs = diffEdges(oldDoc.Edges, newDoc.Edges)
	}

	d.Summary = computeSummary(d)
	return d, nil
}

func diffCycles(d *SnapshotDiff, oldCycles, newCycles []depgraph.EnrichedCycle) {
	oldMap := make(map[string]depgraph.EnrichedCycle, len(oldCycles))
	for _, c := range oldCycles {
		oldMap[cycleKey(c.Nodes)] = c
	}
	newMap := make(map[string]depgraph.EnrichedCycle, len(newCycles))
	for _, c := range newCycles {
		newMap[cycleKey(c.Nodes)] = c
	}

	d.Introduced = []depgraph.EnrichedCycle{}
	d.Resolved = []depgraph.EnrichedCycle{}
	for _, k := range sortedKeys(newMap) {
		nc := newMap[k]
		oc, ok := oldMap[k]
		if !ok {
			d.Introduced = append(d.Introduced, nc)
			continue
		}
		d.Persisting++
		if oc.Severity != nc.Severity {
			d.Changed = append(d.Changed, SeverityChange{
				Cycle:       nc.Nodes,
				OldSeverity: oc.Severity,
				NewSeverity: nc.Severity,
				ImpactDelta: nc.Impact - oc.Impact,
			})
		}
	}
	for _, k := range sortedKeys(oldMap) {
		if _, ok := newMap[k]; !ok {
			d.Resolved = append(d.Resolved, oldMap[k])
		}
	}
}

func diffMetrics(old, new *Snapshot) MetricDelta {
	o, n := old.Metrics, new.Metrics
	return MetricDelta{
		TotalFiles:          n.TotalFiles - o.TotalFiles,
		TotalDependencies:   n.TotalDependencies - o.TotalDependencies,
		AverageDependencies: n.AverageDependencies - o.AverageDependencies,
		MaxDependencyDepth:  n.MaxDependencyDepth - o.MaxDependencyDepth,
		Modularity:          n.Modularity - o.Modularity,
		ConnectedComponents: n.ConnectedComponents - o.ConnectedComponents,
		IsolatedFiles:       n.IsolatedFiles - o.IsolatedFiles,
		Cycles:              len(new.Cycles) - len(old.Cycles),
	}
}

type edgeKey struct {
	from, to graph.NodeID
	kind     graph.EdgeType
}

func diffEdges(oldEdges, newEdges []graph.Edge) []EdgeDiff {
	oldSet := make(map[edgeKey]bool, len(oldEdges))
	for _, e := range oldEdges {
		oldSet[edgeKey{e.From, e.To, e.Type}] = true
	}
	newSet := make(map[edgeKey]bool, len(newEdges))
	for _, e := range newEdges {
		newSet[edgeKey{e.From, e.To, e.Type}] = true
	}

	var diffs []EdgeDiff
	for k := range newSet {
		if !oldSet[k] {
			diffs = append(diffs, EdgeDiff{Type: DiffAdded, From: k.from, To: k.to, Kind: k.kind})
		}
	}
	for k := range oldSet {
		if !newSet[k] {
			diffs = append(diffs, EdgeDiff{Type: DiffRemoved, From: k.from, To: k.to, Kind: k.kind})
		}
	}

	sort.Slice(diffs, func(i, j int) bool {
		a, b := diffs[i], diffs[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.To != b.To {
			return a.To < b.To
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Type < b.Type
	})
	return diffs
}

func computeSummary(d *SnapshotDiff) DiffSummary {
	s := DiffSummary{
		Improved: d.Metrics.Cycles < 0 || (d.Metrics.Cycles == 0 && len(d.Introduced) == 0),
	}
	for _, ed := range d.EdgeDiffs {
		switch ed.Type {
		case DiffAdded:
			s.EdgesAdded++
		case DiffRemoved:
			s.EdgesRemoved++
		}
	}
	return s
}

// FormatDiff returns a human-readable string representation of the diff.
func FormatDiff(d *SnapshotDiff) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Diff: %s -> %s\n", d.OldID, d.NewID))
	if d.OldTag != "" || d.NewTag != "" {
		sb.WriteString(fmt.Sprintf("Tags: %s -> %s\n", d.OldTag, d.NewTag))
	}
	sb.WriteString(fmt.Sprintf("Cycles: %+d (introduced %d, resolved %d, persisting %d)\n",
		d.Metrics.Cycles, len(d.Introduced), len(d.Resolved), d.Persisting))
	sb.WriteString(fmt.Sprintf("Files: %+d  Dependencies: %+d  Max depth: %+d\n",
		d.Metrics.TotalFiles, d.Metrics.TotalDependencies, d.Metrics.MaxDependencyDepth))
	sb.WriteString(fmt.Sprintf("Modularity: %+.2f  Avg deps: %+.2f  Components: %+d\n",
		d.Metrics.Modularity, d.Metrics.AverageDependencies, d.Metrics.ConnectedComponents))

	if len(d.Introduced) > 0 {
		sb.WriteString("\nIntroduced:\n")
		for _, c := range d.Introduced {
			sb.WriteString(fmt.Sprintf("  + [%s] %s\n", c.Severity, c.Cycle))
		}
	}
	if len(d.Resolved) > 0 {
		sb.WriteString("\nResolved:\n")
		for _, c := range d.Resolved {
			sb.WriteString(fmt.Sprintf("  - [%s] %s\n", c.Severity, c.Cycle))
		}
	}
	if len(d.Changed) > 0 {
		sb.WriteString("\nSeverity changes:\n")
		for _, c := range d.Changed {
			sb.WriteString(fmt.Sprintf("  ~ %s: %s -> %s (impact %+.2f)\n",
				joinPath(c.Cycle), c.OldSeverity, c.NewSeverity, c.ImpactDelta))
		}
	}

	if len(d.EdgeDiffs) > 0 {
		sb.WriteString(fmt.Sprintf("\nEdges: +%d -%d\n", d.Summary.EdgesAdded, d.Summary.EdgesRemoved))
		for _, ed := range d.EdgeDiffs {
			icon := "+"
			if ed.Type == DiffRemoved {
				icon = "-"
			}
			sb.WriteString(fmt.Sprintf("  %s %s -> %s (%s)\n", icon, ed.From, ed.To, ed.Kind))
		}
	}

	return sb.String()
}

func joinPath(nodes []graph.NodeID) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = string(n)
	}
	return strings.Join(parts, " -> ")
}
