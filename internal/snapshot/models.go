package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/efebarandurmaz/depscope/internal/analysis"
	"github.com/efebarandurmaz/depscope/internal/depgraph"
	"github.com/efebarandurmaz/depscope/internal/graph"
)

// ErrNotFound is returned for unknown snapshot ids and tags.
var ErrNotFound = errors.New("snapshot not found")

// Snapshot is a point-in-time record of one namespace analysis. The graph
// itself is stored separately as a content-addressed object.
type Snapshot struct {
	ID          string                   `json:"id"`
	ParentID    string                   `json:"parent_id,omitempty"`
	Tag         string                   `json:"tag,omitempty"`
	Description string                   `json:"description,omitempty"`
	Namespace   string                   `json:"namespace"`
	CreatedAt   time.Time                `json:"created_at"`
	GraphHash   string                   `json:"graph_hash"`
	NodeCount   int                      `json:"node_count"`
	EdgeCount   int                      `json:"edge_count"`
	Truncated   bool                     `json:"truncated"`
	TimedOut    bool                     `json:"timed_out"`
	Metrics     Metrics                  `json:"metrics"`
	Cycles      []depgraph.EnrichedCycle `json:"cycles"`
	Metadata    map[string]string        `json:"metadata,omitempty"`
}

// Metrics is the scalar part of a DependencyAnalysis.
type Metrics struct {
	TotalFiles          int     `json:"total_files"`
	TotalDependencies   int     `json:"total_dependencies"`
	AverageDependencies float64 `json:"average_dependencies"`
	MaxDependencyDepth  int     `json:"max_dependency_depth"`
	Modularity          float64 `json:"modularity"`
	ConnectedComponents int     `json:"connected_components"`
	IsolatedFiles       int     `json:"isolated_files"`
}

// SnapshotIndex is a lightweight listing of all snapshots for fast lookup.
type SnapshotIndex struct {
	Snapshots []SnapshotSummary `json:"snapshots"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// SnapshotSummary is the minimal info for listing snapshots.
type SnapshotSummary struct {
	ID         string    `json:"id"`
	ParentID   string    `json:"parent_id,omitempty"`
	Tag        string    `json:"tag,omitempty"`
	Namespace  string    `json:"namespace"`
	CreatedAt  time.Time `json:"created_at"`
	NodeCount  int       `json:"node_count"`
	CycleCount int       `json:"cycle_count"`
	Modularity float64   `json:"modularity"`
}

// NewSnapshot captures a report. The returned document is the payload to
// pass to Store.Save.
func NewSnapshot(rep *analysis.Report) (*Snapshot, *graph.Document) {
	a := rep.Analysis
	snap := &Snapshot{
		ID:        uuid.NewString(),
		Namespace: rep.Namespace,
		CreatedAt: time.Now().UTC(),
		NodeCount: len(rep.Nodes),
		EdgeCount: len(rep.Edges),
		Truncated: rep.Detection.Truncated,
		TimedOut:  rep.Detection.Stats.TimeoutOccurred,
		Metrics: Metrics{
			TotalFiles:          a.TotalFiles,
			TotalDependencies:   a.TotalDependencies,
			AverageDependencies: a.ComplexityMetrics.AverageDependencies,
			MaxDependencyDepth:  a.ComplexityMetrics.MaxDependencyDepth,
			Modularity:          a.ComplexityMetrics.Modularity,
			ConnectedComponents: a.ConnectedComponents,
			IsolatedFiles:       len(a.IsolatedFiles),
		},
		Cycles:   a.CircularDependencies,
		Metadata: make(map[string]string),
	}
	return snap, &graph.Document{Nodes: rep.Nodes, Edges: rep.Edges}
}

// ContentHash computes SHA-256 of content.
func ContentHash(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])
}

// Summary returns a lightweight summary of this snapshot.
func (s *Snapshot) Summary() SnapshotSummary {
	return SnapshotSummary{
		ID:         s.ID,
		ParentID:   s.ParentID,
		Tag:        s.Tag,
		Namespace:  s.Namespace,
		CreatedAt:  s.CreatedAt,
		NodeCount:  s.NodeCount,
		CycleCount: len(s.Cycles),
		Modularity: s.Metrics.Modularity,
	}
}

// cycleKey identifies a cycle independently of where the search entered
// it: the distinct nodes rotated to start at the smallest id.
func cycleKey(nodes []graph.NodeID) string {
	if len(nodes) < 2 {
		return ""
	}
	ring := nodes[:len(nodes)-1]
	start := 0
	for i, n := range ring {
		if n < ring[start] {
			start = i
		}
	}
	parts := make([]string, len(ring))
	for i := range ring {
		parts[i] = string(ring[(start+i)%len(ring)])
	}
	return strings.Join(parts, "\x00")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
