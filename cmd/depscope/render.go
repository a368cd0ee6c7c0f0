package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/efebarandurmaz/depscope/internal/analysis"
	"github.com/efebarandurmaz/depscope/internal/cycles"
	"github.com/efebarandurmaz/depscope/internal/depgraph"
	"github.com/efebarandurmaz/depscope/internal/snapshot"
	temporalmod "github.com/efebarandurmaz/depscope/internal/temporal"
	"github.com/efebarandurmaz/depscope/internal/vector"
)

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	if title != "" {
		t.SetTitle(title)
	}
	return t
}

func renderReport(w io.Writer, rep *analysis.Report, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	case "table":
		renderTables(w, rep)
		return nil
	case "text", "":
		_, err := io.WriteString(w, depgraph.FormatSummary(rep.Analysis))
		if err == nil {
			err = writeBoundsNote(w, rep.Detection)
		}
		return err
	}
	return fmt.Errorf("unknown format %q (want text, table or json)", format)
}

func renderTables(w io.Writer, rep *analysis.Report) {
	a := rep.Analysis

	t := newTable(w, "Metrics: "+rep.Namespace)
	t.AppendRows([]table.Row{
		{"Files", a.TotalFiles},
		{"Dependencies", a.TotalDependencies},
		{"Average dependencies", fmt.Sprintf("%.2f", a.ComplexityMetrics.AverageDependencies)},
		{"Max dependency depth", a.ComplexityMetrics.MaxDependencyDepth},
		{"Modularity", fmt.Sprintf("%.2f", a.ComplexityMetrics.Modularity)},
		{"Connected components", a.ConnectedComponents},
		{"Isolated files", len(a.IsolatedFiles)},
		{"Cycles", len(a.CircularDependencies)},
		{"Duration", rep.Duration.Round(time.Millisecond)},
	})
	t.Render()

	renderCycles(w, a.CircularDependencies)

	for _, r := range []struct {
		title string
		nodes []depgraph.NodeCount
	}{
		{"Heaviest dependencies (outgoing)", a.HeaviestDependencies},
		{"Most depended on (incoming)", a.MostDependent},
	} {
		if len(r.nodes) == 0 {
			continue
		}
		rt := newTable(w, r.title)
		rt.AppendHeader(table.Row{"#", "Node", "Edges", "Level"})
		for i, n := range r.nodes {
			rt.AppendRow(table.Row{i + 1, n.ID, n.Count, a.Levels[n.ID]})
		}
		rt.Render()
	}
	_ = writeBoundsNote(w, rep.Detection)
}

func renderCycles(w io.Writer, found []depgraph.EnrichedCycle) {
	if len(found) == 0 {
		fmt.Fprintln(w, "No circular dependencies.")
		return
	}
	t := newTable(w, "Circular dependencies")
	t.AppendHeader(table.Row{"Severity", "Impact", "Depth", "Cycle", "Suggestion"})
	for _, c := range found {
		suggestion := ""
		if len(c.Suggestions) > 0 {
			suggestion = c.Suggestions[0]
		}
		t.AppendRow(table.Row{strings.ToUpper(string(c.Severity)), fmt.Sprintf("%.2f", c.Impact), c.Depth, c.String(), suggestion})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, WidthMax: 60},
		{Number: 5, WidthMax: 50},
		{Number: 2, Align: text.AlignRight},
	})
	t.Render()
}

func renderDetection(w io.Writer, res *cycles.Result) {
	if len(res.Cycles) == 0 {
		fmt.Fprintln(w, "No circular dependencies.")
	} else {
		t := newTable(w, "")
		t.AppendHeader(table.Row{"#", "Depth", "Cycle"})
		for i, c := range res.Cycles {
			t.AppendRow(table.Row{i + 1, c.Depth, c.String()})
		}
		t.Render()
	}
	fmt.Fprintf(w, "Visited %d nodes, max depth %d\n", res.Stats.TotalNodesVisited, res.Stats.MaxDepthReached)
	_ = writeBoundsNote(w, res)
}

// writeBoundsNote warns that a result is partial.
func writeBoundsNote(w io.Writer, res *cycles.Result) error {
	if res == nil || res.Exhaustive() {
		return nil
	}
	var reasons []string
	if res.Truncated {
		reasons = append(reasons, "cycle limit reached")
	}
	if res.Stats.TimeoutOccurred {
		reasons = append(reasons, "timeout")
	}
	_, err := fmt.Fprintf(w, "Partial result: %s\n", strings.Join(reasons, ", "))
	return err
}

func renderSnapshots(w io.Writer, list []snapshot.SnapshotSummary) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No snapshots.")
		return
	}
	t := newTable(w, "")
	t.AppendHeader(table.Row{"ID", "Tag", "Namespace", "Created", "Nodes", "Cycles", "Modularity"})
	for _, s := range list {
		t.AppendRow(table.Row{s.ID, s.Tag, s.Namespace, s.CreatedAt.Format("2006-01-02 15:04:05"), s.NodeCount, s.CycleCount, fmt.Sprintf("%.2f", s.Modularity)})
	}
	t.Render()
}

func renderSimilar(w io.Writer, node string, results []vector.SearchResult) {
	t := newTable(w, "Nodes with a risk profile like "+node)
	t.AppendHeader(table.Row{"Node", "Type", "Level", "Severity", "Distance"})
	for _, r := range results {
		p := r.Payload
		t.AppendRow(table.Row{p[vector.KeyNode], p[vector.KeyNodeType], p[vector.KeyLevel], p[vector.KeySeverity], fmt.Sprintf("%.3f", r.Score)})
	}
	t.Render()
}

func renderBatch(w io.Writer, out *temporalmod.BatchOutput) {
	t := newTable(w, "Batch analysis")
	t.AppendHeader(table.Row{"Namespace", "Files", "Dependencies", "Cycles", "Modularity", "Status"})
	for _, r := range out.Reports {
		status := "ok"
		if r.Detection != nil && !r.Detection.Exhaustive() {
			status = "partial"
		}
		a := r.Analysis
		t.AppendRow(table.Row{r.Namespace, a.TotalFiles, a.TotalDependencies, len(a.CircularDependencies), fmt.Sprintf("%.2f", a.ComplexityMetrics.Modularity), status})
	}
	for ns, msg := range out.Failed {
		t.AppendRow(table.Row{ns, "", "", "", "", "failed: " + msg})
	}
	t.SortBy([]table.SortBy{{Name: "Namespace", Mode: table.Asc}})
	t.Render()
}

func exportGraph(rep *analysis.Report, format string) ([]byte, error) {
	g := rep.Graph()
	switch format {
	case "dot":
		return []byte(depgraph.ExportDOT(g)), nil
	case "mermaid":
		return []byte(depgraph.ExportMermaid(g)), nil
	case "json":
		return depgraph.ExportJSON(g)
	}
	return nil, fmt.Errorf("unknown export format %q (want dot, mermaid or json)", format)
}
