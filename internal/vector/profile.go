package vector

import (
	"strconv"

	"github.com/google/uuid"

	"github.com/efebarandurmaz/depscope/internal/depgraph"
	"github.com/efebarandurmaz/depscope/internal/graph"
)

// Dimensions is the length of a risk-profile vector.
const Dimensions = 6

// Payload keys written on every profile point.
const (
	KeyNamespace = "namespace"
	KeyNode      = "node"
	KeyNodeType  = "node_type"
	KeyLevel     = "level"
	KeySeverity  = "severity"
)

// pointNamespace scopes the deterministic point ids.
var pointNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/efebarandurmaz/depscope/node"))

// PointID is the stable point id of node within namespace. Republishing a
// namespace overwrites its points.
func PointID(namespace string, node graph.NodeID) string {
	return uuid.NewSHA1(pointNamespace, []byte(namespace+"\x00"+string(node))).String()
}

// Profile is the raw, unnormalized risk figures of one node.
type Profile struct {
	Node      graph.NodeID
	Type      graph.NodeType
	Level     int
	FanOut    int
	FanIn     int
	InCycle   bool
	MaxImpact float64
	Severity  depgraph.Severity // worst severity among its cycles, empty if none
}

var severityRank = map[depgraph.Severity]float64{
	depgraph.SeverityLow:    1.0 / 3,
	depgraph.SeverityMedium: 2.0 / 3,
	depgraph.SeverityHigh:   1.0,
}

// Profiles computes the risk figures of every node of g, in node order.
func Profiles(g *depgraph.Graph) []Profile {
	out := make(map[graph.NodeID]int, len(g.Edges))
	in := make(map[graph.NodeID]int, len(g.Edges))
	for _, e := range g.Edges {
		out[e.From]++
		in[e.To]++
	}

	impact := make(map[graph.NodeID]float64)
	worst := make(map[graph.NodeID]depgraph.Severity)
	var levels map[graph.NodeID]int
	if g.Analysis != nil {
		levels = g.Analysis.Levels
		for _, c := range g.Analysis.CircularDependencies {
			for _, n := range c.Distinct() {
				if c.Impact > impact[n] {
					impact[n] = c.Impact
				}
				if severityRank[c.Severity] > severityRank[worst[n]] {
					worst[n] = c.Severity
				}
			}
		}
	}

	profiles := make([]Profile, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		_, inCycle := worst[n.ID]
		profiles = append(profiles, Profile{
			Node:      n.ID,
			Type:      n.Type,
			Level:     levels[n.ID],
			FanOut:    out[n.ID],
			FanIn:     in[n.ID],
			InCycle:   inCycle,
			MaxImpact: impact[n.ID],
			Severity:  worst[n.ID],
		})
	}
	return profiles
}

// ProfileDocuments turns every node of g into a point. Each dimension is
// scaled into [0, 1] against the namespace maximum, so vectors from
// differently sized graphs stay comparable.
func ProfileDocuments(namespace string, g *depgraph.Graph) []Document {
	profiles := Profiles(g)

	var maxLevel, maxOut, maxIn int
	var maxImpact float64
	for _, p := range profiles {
		maxLevel = max(maxLevel, p.Level)
		maxOut = max(maxOut, p.FanOut)
		maxIn = max(maxIn, p.FanIn)
		maxImpact = max(maxImpact, p.MaxImpact)
	}

	docs := make([]Document, 0, len(profiles))
	for _, p := range profiles {
		var inCycle float32
		if p.InCycle {
			inCycle = 1
		}
		docs = append(docs, Document{
			ID: PointID(namespace, p.Node),
			Vector: []float32{
				ratio(float64(p.Level), float64(maxLevel)),
				ratio(float64(p.FanOut), float64(maxOut)),
				ratio(float64(p.FanIn), float64(maxIn)),
				inCycle,
				ratio(p.MaxImpact, maxImpact),
				float32(severityRank[p.Severity]),
			},
			Payload: map[string]string{
				KeyNamespace: namespace,
				KeyNode:      string(p.Node),
				KeyNodeType:  string(p.Type),
				KeyLevel:     strconv.Itoa(p.Level),
				KeySeverity:  string(p.Severity),
			},
		})
	}
	return docs
}

func ratio(v, limit float64) float32 {
	if limit <= 0 {
		return 0
	}
	return float32(v / limit)
}
