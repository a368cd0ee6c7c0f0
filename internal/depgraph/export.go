package depgraph

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/efebarandurmaz/depscope/internal/graph"
)

// ExportDOT generates a Graphviz DOT representation of the graph. Nodes are
// clustered by directory and edges that lie on a detected cycle are drawn
// bold red.
func ExportDOT(g *Graph) string {
	var b strings.Builder
	b.WriteString("digraph dependencies {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [fontname=\"Helvetica\"];\n")
	b.WriteString("  edge [fontname=\"Helvetica\" fontsize=10];\n\n")

	groups, keys := groupNodes(g.Nodes)
	levels := levelsOf(g)
	for _, key := range keys {
		indent := "  "
		if key != "" {
			b.WriteString(fmt.Sprintf("  subgraph cluster_%s {\n", sanitizeID(key)))
			b.WriteString(fmt.Sprintf("    label=%q;\n", key))
			b.WriteString("    style=dashed;\n")
			b.WriteString("    color=\"#58a6ff\";\n")
			indent = "    "
		}
		for _, n := range groups[key] {
			b.WriteString(fmt.Sprintf("%s%q [label=%q shape=%s style=filled fillcolor=\"%s\" tooltip=\"level %d\"];\n",
				indent, n.ID, shortName(n.ID), nodeShape(n.Type), nodeColor(n.Type), levels[n.ID]))
		}
		if key != "" {
			b.WriteString("  }\n")
		}
		b.WriteString("\n")
	}

	onCycle := cycleEdges(g)
	for _, e := range g.Edges {
		style, color := edgeStyle(e.Type), "#8b949e"
		if onCycle[nodePair{e.From, e.To}] {
			style, color = "bold", "#f85149"
		}
		b.WriteString(fmt.Sprintf("  %q -> %q [style=%s color=\"%s\" label=%q];\n",
			e.From, e.To, style, color, string(e.Type)))
	}

	b.WriteString("}\n")
	return b.String()
}

// ExportMermaid generates a Mermaid flowchart. Cycle edges use thick arrows.
func ExportMermaid(g *Graph) string {
	var b strings.Builder
	b.WriteString("graph LR\n")

	groups, keys := groupNodes(g.Nodes)
	for _, key := range keys {
		if key != "" {
			b.WriteString(fmt.Sprintf("  subgraph %s[\"%s\"]\n", sanitizeID("dir_"+key), key))
		}
		for _, n := range groups[key] {
			b.WriteString(fmt.Sprintf("    %s%s\n", sanitizeID(string(n.ID)), mermaidNodeShape(n)))
		}
		if key != "" {
			b.WriteString("  end\n")
		}
	}

	onCycle := cycleEdges(g)
	for _, e := range g.Edges {
		arrow := "-->"
		if onCycle[nodePair{e.From, e.To}] {
			arrow = "==>"
		}
		label := ""
		if e.Type != "" {
			label = "|" + string(e.Type) + "|"
		}
		b.WriteString(fmt.Sprintf("  %s %s%s %s\n",
			sanitizeID(string(e.From)), arrow, label, sanitizeID(string(e.To))))
	}

	return b.String()
}

// ExportJSON serializes the graph and its analysis.
func ExportJSON(g *Graph) ([]byte, error) {
	return json.MarshalIndent(g, "", "  ")
}

// FormatSummary returns a human-readable summary of an analysis.
func FormatSummary(a *DependencyAnalysis) string {
	var b strings.Builder
	b.WriteString("Dependency Analysis\n")
	b.WriteString("===================\n\n")
	b.WriteString(fmt.Sprintf("Files:          %d\n", a.TotalFiles))
	b.WriteString(fmt.Sprintf("Dependencies:   %d\n", a.TotalDependencies))
	b.WriteString(fmt.Sprintf("Average deps:   %.2f\n", a.ComplexityMetrics.AverageDependencies))
	b.WriteString(fmt.Sprintf("Max depth:      %d\n", a.ComplexityMetrics.MaxDependencyDepth))
	b.WriteString(fmt.Sprintf("Modularity:     %.2f\n", a.ComplexityMetrics.Modularity))
	b.WriteString(fmt.Sprintf("Components:     %d\n", a.ConnectedComponents))
	b.WriteString(fmt.Sprintf("Isolated files: %d\n", len(a.IsolatedFiles)))

	if len(a.CircularDependencies) > 0 {
		b.WriteString(fmt.Sprintf("\nCircular Dependencies: %d\n", len(a.CircularDependencies)))
		for i, c := range a.CircularDependencies {
			b.WriteString(fmt.Sprintf("  %d. [%s] impact %.2f: %s\n", i+1, c.Severity, c.Impact, c.Cycle))
			for _, s := range c.Suggestions {
				b.WriteString(fmt.Sprintf("       - %s\n", s))
			}
		}
	}

	writeRanking(&b, "Heaviest Dependencies (outgoing)", a.HeaviestDependencies)
	writeRanking(&b, "Most Dependent (incoming)", a.MostDependent)
	return b.String()
}

func writeRanking(b *strings.Builder, title string, ranked []NodeCount) {
	if len(ranked) == 0 {
		return
	}
	b.WriteString(fmt.Sprintf("\n%s:\n", title))
	for _, nc := range ranked {
		b.WriteString(fmt.Sprintf("  %-40s %d\n", nc.ID, nc.Count))
	}
}

func groupNodes(nodes []graph.NodeInfo) (map[string][]graph.NodeInfo, []string) {
	groups := make(map[string][]graph.NodeInfo)
	for _, n := range nodes {
		k := DirectoryKey(n.ID)
		groups[k] = append(groups[k], n)
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return groups, keys
}

func levelsOf(g *Graph) map[graph.NodeID]int {
	if g.Analysis == nil {
		return nil
	}
	return g.Analysis.Levels
}

func cycleEdges(g *Graph) map[nodePair]bool {
	set := make(map[nodePair]bool)
	if g.Analysis == nil {
		return set
	}
	for _, c := range g.Analysis.CircularDependencies {
		for i := 0; i+1 < len(c.Nodes); i++ {
			set[nodePair{c.Nodes[i], c.Nodes[i+1]}] = true
		}
	}
	return set
}

func shortName(id graph.NodeID) string {
	s := string(id)
	if i := strings.LastIndexAny(s, `/\`); i >= 0 {
		return s[i+1:]
	}
	return s
}

func sanitizeID(s string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			return r
		}
		return '_'
	}, s)
}

func nodeShape(t graph.NodeType) string {
	switch t {
	case graph.NodeModule:
		return "box3d"
	case graph.NodeFile:
		return "note"
	case graph.NodeClass:
		return "component"
	case graph.NodeFunction:
		return "box"
	case graph.NodeLibrary:
		return "cylinder"
	default:
		return "box"
	}
}

func nodeColor(t graph.NodeType) string {
	switch t {
	case graph.NodeModule:
		return "#1f6feb"
	case graph.NodeFile:
		return "#30363d"
	case graph.NodeClass:
		return "#8957e5"
	case graph.NodeFunction:
		return "#238636"
	case graph.NodeLibrary:
		return "#d29922"
	default:
		return "#6e7681"
	}
}

func edgeStyle(t graph.EdgeType) string {
	switch t {
	case graph.EdgeCalls:
		return "solid"
	case graph.EdgeContains:
		return "dashed"
	case graph.EdgeUses:
		return "dotted"
	case graph.EdgeExtends, graph.EdgeImplements:
		return "bold"
	default:
		return "solid"
	}
}

func mermaidNodeShape(n graph.NodeInfo) string {
	name := shortName(n.ID)
	switch n.Type {
	case graph.NodeModule:
		return fmt.Sprintf("[[\"%s\"]]", name)
	case graph.NodeClass:
		return fmt.Sprintf("([\"%s\"])", name)
	case graph.NodeLibrary:
		return fmt.Sprintf("[(\"%s\")]", name)
	default:
		return fmt.Sprintf("[\"%s\"]", name)
	}
}
