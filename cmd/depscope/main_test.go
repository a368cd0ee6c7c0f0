package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/efebarandurmaz/depscope/internal/analysis"
	"github.com/efebarandurmaz/depscope/internal/cycles"
	"github.com/efebarandurmaz/depscope/internal/snapshot"
)

const triangleGraph = `{
  "nodes": [
    {"id": "src/a.ts", "type": "file"},
    {"id": "src/b.ts", "type": "file"},
    {"id": "src/c.ts", "type": "file"},
    {"id": "lib/util.ts", "type": "file"}
  ],
  "edges": [
    {"from": "src/a.ts", "to": "src/b.ts", "type": "imports"},
    {"from": "src/b.ts", "to": "src/c.ts", "type": "imports"},
    {"from": "src/c.ts", "to": "src/a.ts", "type": "imports"},
    {"from": "src/a.ts", "to": "lib/util.ts", "type": "imports"}
  ]
}`

// setupCLI writes the test graph and points the snapshot store at a temp dir.
func setupCLI(t *testing.T) (graphPath string) {
	t.Helper()
	dir := t.TempDir()
	graphPath = filepath.Join(dir, "graph.json")
	if err := os.WriteFile(graphPath, []byte(triangleGraph), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DEPSCOPE_SNAPSHOT_DIR", filepath.Join(dir, "snapshots"))
	t.Setenv("DEPSCOPE_LOG_LEVEL", "error")
	return graphPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestAnalyze_Text(t *testing.T) {
	g := setupCLI(t)
	out, err := execute(t, "analyze", "--graph", g)
	if err != nil {
		t.Fatalf("analyze failed: %v\n%s", err, out)
	}
	for _, want := range []string{"Files:          4", "Circular Dependencies: 1", "[medium]"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestAnalyze_JSON(t *testing.T) {
	g := setupCLI(t)
	out, err := execute(t, "analyze", "--graph", g, "--format", "json", "--namespace", "web")
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	var rep analysis.Report
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("output is not a report: %v\n%s", err, out)
	}
	if rep.Namespace != "web" || rep.Analysis.TotalDependencies != 4 {
		t.Errorf("unexpected report %+v", rep)
	}
}

func TestAnalyze_Table(t *testing.T) {
	g := setupCLI(t)
	out, err := execute(t, "analyze", "--graph", g, "--format", "table", "--top", "1")
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if !strings.Contains(out, "Circular dependencies") || !strings.Contains(out, "MEDIUM") {
		t.Errorf("expected the cycle table:\n%s", out)
	}
	if !strings.Contains(out, "src/a.ts") {
		t.Errorf("expected the rankings:\n%s", out)
	}
}

func TestAnalyze_UnknownFormat(t *testing.T) {
	g := setupCLI(t)
	if _, err := execute(t, "analyze", "--graph", g, "--format", "xml"); err == nil {
		t.Fatal("expected an error for an unknown format")
	}
}

func TestAnalyze_NoInput(t *testing.T) {
	setupCLI(t)
	_, err := execute(t, "analyze")
	if !errors.Is(err, errNoInput) {
		t.Fatalf("expected errNoInput, got %v", err)
	}
}

func TestCycles_PartialResult(t *testing.T) {
	g := setupCLI(t)
	t.Setenv("DEPSCOPE_DETECTION_TIMEOUT", "1ns")
	out, err := execute(t, "cycles", "--graph", g, "--max-cycles", "1")
	if err != nil {
		t.Fatalf("bounded runs are not errors: %v", err)
	}
	if !strings.Contains(out, "Partial result") {
		t.Errorf("expected a partial-result note:\n%s", out)
	}
}

func TestCycles_InvalidLimits(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"negative depth", []string{"--max-depth=-3"}},
		{"zero depth", []string{"--max-depth=0"}},
		{"negative cycles", []string{"--max-cycles=-1"}},
		{"negative timeout", []string{"--timeout=-5s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := setupCLI(t)
			for _, cmd := range []string{"cycles", "analyze"} {
				out, err := execute(t, append([]string{cmd, "--graph", g}, tt.args...)...)
				if !errors.Is(err, cycles.ErrInvalidOptions) {
					t.Errorf("%s %v: expected ErrInvalidOptions, got %v\n%s", cmd, tt.args, err, out)
				}
				if strings.Contains(out, "src/a.ts -> src/b.ts") {
					t.Errorf("%s %v: traversal ran:\n%s", cmd, tt.args, out)
				}
			}
		})
	}
}

func TestCycles_NegativeConfigLimit(t *testing.T) {
	g := setupCLI(t)
	t.Setenv("DEPSCOPE_DETECTION_MAX_DEPTH", "-2")
	if _, err := execute(t, "cycles", "--graph", g); !errors.Is(err, cycles.ErrInvalidOptions) {
		t.Errorf("expected ErrInvalidOptions, got %v", err)
	}
}

func TestCycles(t *testing.T) {
	g := setupCLI(t)
	out, err := execute(t, "cycles", "--graph", g)
	if err != nil {
		t.Fatalf("cycles failed: %v", err)
	}
	if !strings.Contains(out, "src/a.ts -> src/b.ts -> src/c.ts -> src/a.ts") {
		t.Errorf("expected the triangle:\n%s", out)
	}
	if !strings.Contains(out, "Visited 4 nodes") {
		t.Errorf("expected stats:\n%s", out)
	}
}

func TestCycles_From(t *testing.T) {
	g := setupCLI(t)
	out, err := execute(t, "cycles", "--graph", g, "--from", "lib/util.ts")
	if err != nil {
		t.Fatalf("cycles failed: %v", err)
	}
	if !strings.Contains(out, "No circular dependencies.") {
		t.Errorf("util reaches no cycle:\n%s", out)
	}
}

func TestPath(t *testing.T) {
	g := setupCLI(t)
	out, err := execute(t, "path", "src/a.ts", "src/c.ts", "--graph", g)
	if err != nil {
		t.Fatalf("path failed: %v", err)
	}
	if strings.TrimSpace(out) != "src/a.ts -> src/b.ts -> src/c.ts -> src/a.ts" {
		t.Errorf("unexpected path %q", out)
	}

	out, err = execute(t, "path", "lib/util.ts", "src/a.ts", "--graph", g)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "No path") {
		t.Errorf("expected no path, got %q", out)
	}
}

func TestExport(t *testing.T) {
	g := setupCLI(t)
	out, err := execute(t, "export", "--graph", g, "--format", "mermaid")
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if !strings.HasPrefix(out, "graph") || !strings.Contains(out, "==>") {
		t.Errorf("unexpected mermaid output:\n%s", out)
	}

	target := filepath.Join(t.TempDir(), "graph.dot")
	if _, err := execute(t, "export", "--graph", g, "-o", target); err != nil {
		t.Fatalf("export to file failed: %v", err)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "digraph") {
		t.Errorf("unexpected dot output:\n%s", data)
	}
}

func TestSnapshotLifecycle(t *testing.T) {
	g := setupCLI(t)

	if out, err := execute(t, "snapshot", "save", "--graph", g, "--tag", "before", "-n", "web"); err != nil {
		t.Fatalf("save failed: %v\n%s", err, out)
	}

	fixed := strings.Replace(triangleGraph,
		`{"from": "src/c.ts", "to": "src/a.ts", "type": "imports"},`, "", 1)
	fixedPath := filepath.Join(t.TempDir(), "fixed.json")
	if err := os.WriteFile(fixedPath, []byte(fixed), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "analyze", "--graph", fixedPath, "--save", "--tag", "after", "-n", "web"); err != nil {
		t.Fatalf("analyze --save failed: %v", err)
	}

	out, err := execute(t, "snapshot", "list")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "before") || !strings.Contains(out, "after") {
		t.Errorf("list missing tags:\n%s", out)
	}

	out, err = execute(t, "snapshot", "diff", "before", "after")
	if err != nil {
		t.Fatalf("diff failed: %v", err)
	}
	if !strings.Contains(out, "resolved 1") || !strings.Contains(out, "- src/c.ts -> src/a.ts (imports)") {
		t.Errorf("unexpected diff:\n%s", out)
	}

	out, err = execute(t, "cycles", "--snapshot", "after")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "No circular dependencies.") {
		t.Errorf("snapshot graph should be acyclic:\n%s", out)
	}

	if _, err := execute(t, "snapshot", "delete", "before"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := execute(t, "snapshot", "diff", "before", "after"); !errors.Is(err, snapshot.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestStore_RequiresGraphURI(t *testing.T) {
	g := setupCLI(t)
	_, err := execute(t, "store", "--graph", g)
	if err == nil || !strings.Contains(err.Error(), "graph.uri") {
		t.Fatalf("expected a missing uri error, got %v", err)
	}
}

func TestPublish_RequiresVectorHost(t *testing.T) {
	g := setupCLI(t)
	_, err := execute(t, "publish", "--graph", g)
	if err == nil || !strings.Contains(err.Error(), "vector.host") {
		t.Fatalf("expected a missing host error, got %v", err)
	}
}

func TestAuditFlag(t *testing.T) {
	g := setupCLI(t)
	auditPath := filepath.Join(t.TempDir(), "audit.jsonl")
	if _, err := execute(t, "--audit", auditPath, "analyze", "--graph", g); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(auditPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"analysis.complete"`) {
		t.Errorf("expected an analysis.complete event:\n%s", data)
	}
}
