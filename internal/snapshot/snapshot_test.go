package snapshot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/efebarandurmaz/depscope/internal/analysis"
	"github.com/efebarandurmaz/depscope/internal/cycles"
	"github.com/efebarandurmaz/depscope/internal/graph"
)

func e(from, to string) graph.Edge {
	return graph.Edge{From: graph.NodeID(from), To: graph.NodeID(to), Type: graph.EdgeImports}
}

func makeReport(t *testing.T, ns string, edges ...graph.Edge) *analysis.Report {
	t.Helper()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	rep, err := analysis.NewRunner(analysis.WithLogger(quiet)).
		Run(context.Background(), ns, graph.NewMemoryProvider(nil, edges), cycles.DefaultOptions())
	if err != nil {
		t.Fatalf("analysis failed: %v", err)
	}
	return rep
}

func saveReport(t *testing.T, store *Store, rep *analysis.Report) *Snapshot {
	t.Helper()
	snap, doc := NewSnapshot(rep)
	if err := store.Save(snap, doc); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	return snap
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "store"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return store
}

func TestContentHash(t *testing.T) {
	h1 := ContentHash([]byte("hello world"))
	h2 := ContentHash([]byte("hello world"))
	if h1 != h2 {
		t.Fatalf("ContentHash not deterministic: %s != %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Fatalf("unexpected hash length: %d", len(h1))
	}
	if h1 == ContentHash([]byte("different")) {
		t.Fatal("different content produced same hash")
	}
}

func TestNewStore(t *testing.T) {
	dir := t.TempDir()
	if _, err := NewStore(filepath.Join(dir, "store")); err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	for _, sub := range []string{"snapshots", "objects"} {
		if _, err := os.Stat(filepath.Join(dir, "store", sub)); err != nil {
			t.Fatalf("%s dir missing: %v", sub, err)
		}
	}
}

func TestNewSnapshot(t *testing.T) {
	rep := makeReport(t, "web", e("a", "b"), e("b", "a"), e("c", "d"))
	snap, doc := NewSnapshot(rep)

	if snap.ID == "" || snap.Namespace != "web" {
		t.Fatalf("unexpected snapshot header %+v", snap)
	}
	if snap.NodeCount != 4 || snap.EdgeCount != 3 {
		t.Errorf("counts = %d nodes %d edges", snap.NodeCount, snap.EdgeCount)
	}
	if len(snap.Cycles) != 1 {
		t.Errorf("expected 1 cycle, got %d", len(snap.Cycles))
	}
	if snap.Metrics.ConnectedComponents != 2 {
		t.Errorf("components = %d, want 2", snap.Metrics.ConnectedComponents)
	}
	if len(doc.Edges) != 3 {
		t.Errorf("payload edges = %d", len(doc.Edges))
	}
}

func TestStoreSaveAndLoad(t *testing.T) {
	store := newTestStore(t)
	snap := saveReport(t, store, makeReport(t, "web", e("a", "b"), e("b", "a")))

	if snap.GraphHash == "" {
		t.Fatal("Save should record the graph hash")
	}

	loaded, err := store.Load(snap.ID)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Namespace != "web" || loaded.GraphHash != snap.GraphHash {
		t.Errorf("loaded snapshot mismatch: %+v", loaded)
	}
	if len(loaded.Cycles) != 1 || loaded.Cycles[0].Depth != 2 {
		t.Errorf("cycles did not survive the roundtrip: %+v", loaded.Cycles)
	}

	doc, err := store.LoadGraph(loaded)
	if err != nil {
		t.Fatalf("LoadGraph failed: %v", err)
	}
	if len(doc.Edges) != 2 {
		t.Errorf("expected 2 edges, got %d", len(doc.Edges))
	}
}

func TestStoreLoad_NotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Load("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.FindByTag("v9"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for tag, got %v", err)
	}
	if err := store.Tag("missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on Tag, got %v", err)
	}
	if err := store.Delete("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on Delete, got %v", err)
	}
}

func TestStoreProvider(t *testing.T) {
	store := newTestStore(t)
	snap := saveReport(t, store, makeReport(t, "web", e("a", "b"), e("b", "c"), e("c", "a")))

	p, err := store.Provider(snap.ID)
	if err != nil {
		t.Fatalf("Provider failed: %v", err)
	}
	if p.Len() != 3 {
		t.Errorf("expected 3 nodes, got %d", p.Len())
	}

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	res, err := cycles.New(p, cycles.WithLogger(quiet)).Detect(context.Background(), cycles.DefaultOptions())
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(res.Cycles) != 1 {
		t.Errorf("re-running detection on the snapshot should find the cycle, got %d", len(res.Cycles))
	}
}

func TestStoreList(t *testing.T) {
	store := newTestStore(t)
	first := saveReport(t, store, makeReport(t, "web", e("a", "b")))
	time.Sleep(5 * time.Millisecond)
	second := saveReport(t, store, makeReport(t, "api", e("x", "y")))

	list := store.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(list))
	}
	if list[0].ID != second.ID || list[1].ID != first.ID {
		t.Error("List should be newest first")
	}

	latest, err := store.Latest("web")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest.ID != first.ID {
		t.Errorf("Latest(web) = %s, want %s", latest.ID, first.ID)
	}
	if _, err := store.Latest("cli"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreIndexPersists(t *testing.T) {
	root := filepath.Join(t.TempDir(), "store")
	store, err := NewStore(root)
	if err != nil {
		t.Fatal(err)
	}
	snap := saveReport(t, store, makeReport(t, "web", e("a", "b")))

	reopened, err := NewStore(root)
	if err != nil {
		t.Fatal(err)
	}
	list := reopened.List()
	if len(list) != 1 || list[0].ID != snap.ID {
		t.Errorf("reopened index = %+v", list)
	}
}

func TestStoreTag(t *testing.T) {
	store := newTestStore(t)
	snap := saveReport(t, store, makeReport(t, "web", e("a", "b")))

	if err := store.Tag(snap.ID, "baseline"); err != nil {
		t.Fatalf("Tag failed: %v", err)
	}

	found, err := store.FindByTag("baseline")
	if err != nil {
		t.Fatalf("FindByTag failed: %v", err)
	}
	if found.ID != snap.ID || found.Tag != "baseline" {
		t.Errorf("unexpected snapshot %+v", found)
	}

	resolved, err := store.Resolve("baseline")
	if err != nil || resolved.ID != snap.ID {
		t.Errorf("Resolve by tag failed: %v", err)
	}
	resolved, err = store.Resolve(snap.ID)
	if err != nil || resolved.ID != snap.ID {
		t.Errorf("Resolve by id failed: %v", err)
	}
}

func TestStoreDelete(t *testing.T) {
	store := newTestStore(t)
	snap := saveReport(t, store, makeReport(t, "web", e("a", "b")))

	if err := store.Delete(snap.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Load(snap.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if len(store.List()) != 0 {
		t.Error("index should be empty")
	}
	if _, err := store.readObject(snap.GraphHash); err == nil {
		t.Error("unreferenced graph object should be removed")
	}
}

func TestContentDeduplication(t *testing.T) {
	store := newTestStore(t)
	rep := makeReport(t, "web", e("a", "b"), e("b", "a"))
	first := saveReport(t, store, rep)
	second := saveReport(t, store, rep)

	if first.GraphHash != second.GraphHash {
		t.Fatal("identical graphs should share one object")
	}

	if err := store.Delete(first.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.LoadGraph(second); err != nil {
		t.Errorf("shared object should survive deleting one snapshot: %v", err)
	}
}

func TestDiffIdentical(t *testing.T) {
	rep := makeReport(t, "web", e("a", "b"), e("b", "a"))
	old, _ := NewSnapshot(rep)
	new, _ := NewSnapshot(rep)

	d, err := Diff(old, new, nil)
	if err != nil {
		t.Fatalf("Diff failed: %v", err)
	}
	if len(d.Introduced) != 0 || len(d.Resolved) != 0 {
		t.Errorf("identical snapshots should not differ: %+v", d)
	}
	if d.Persisting != 1 {
		t.Errorf("persisting = %d, want 1", d.Persisting)
	}
	if !d.Summary.Improved {
		t.Error("no change counts as not regressed")
	}
}

func TestDiffIntroducedAndResolved(t *testing.T) {
	store := newTestStore(t)
	old := saveReport(t, store, makeReport(t, "web",
		e("a", "b"), e("b", "a"),
		e("x", "y"),
	))
	new := saveReport(t, store, makeReport(t, "web",
		e("a", "b"),
		e("x", "y"), e("y", "z"), e("z", "x"),
	))

	d, err := Diff(old, new, store)
	if err != nil {
		t.Fatalf("Diff failed: %v", err)
	}
	if len(d.Resolved) != 1 || d.Resolved[0].Depth != 2 {
		t.Errorf("resolved = %+v", d.Resolved)
	}
	if len(d.Introduced) != 1 || d.Introduced[0].Depth != 3 {
		t.Errorf("introduced = %+v", d.Introduced)
	}
	if d.Metrics.Cycles != 0 || d.Metrics.TotalFiles != 1 {
		t.Errorf("metric deltas = %+v", d.Metrics)
	}
	if d.Summary.Improved {
		t.Error("a new cycle with none removed on net is not an improvement")
	}
	if d.Summary.EdgesAdded != 2 || d.Summary.EdgesRemoved != 1 {
		t.Errorf("edge summary = %+v", d.Summary)
	}
}

func TestDiffRotatedCycleIsSame(t *testing.T) {
	old := &Snapshot{ID: "old"}
	new := &Snapshot{ID: "new"}
	old.Cycles = makeReport(t, "web", e("a", "b"), e("b", "c"), e("c", "a")).Analysis.CircularDependencies
	// start the walk from c so the same loop is reported in another rotation
	new.Cycles = makeReport(t, "web", e("c", "a"), e("a", "b"), e("b", "c")).Analysis.CircularDependencies

	if old.Cycles[0].Nodes[0] == new.Cycles[0].Nodes[0] {
		t.Fatalf("test setup should produce different rotations")
	}
	d, _ := Diff(old, new, nil)
	if len(d.Introduced) != 0 || len(d.Resolved) != 0 || d.Persisting != 1 {
		t.Errorf("rotations should match: %+v", d)
	}
}

func TestDiffSeverityChange(t *testing.T) {
	old := &Snapshot{ID: "old"}
	new := &Snapshot{ID: "new"}
	old.Cycles = makeReport(t, "web", e("a", "b"), e("b", "a")).Analysis.CircularDependencies

	heavy := graph.Edge{From: "a", To: "b", Type: graph.EdgeImports, Metadata: graph.EdgeMetadata{ImportedItems: 10}}
	new.Cycles = makeReport(t, "web", heavy, e("b", "a")).Analysis.CircularDependencies

	d, _ := Diff(old, new, nil)
	if len(d.Changed) != 1 {
		t.Fatalf("expected 1 severity change, got %+v", d.Changed)
	}
	c := d.Changed[0]
	if c.OldSeverity != "low" || c.NewSeverity != "medium" || c.ImpactDelta <= 0 {
		t.Errorf("unexpected change %+v", c)
	}
}

func TestFormatDiff(t *testing.T) {
	store := newTestStore(t)
	old := saveReport(t, store, makeReport(t, "web", e("a", "b"), e("b", "a")))
	new := saveReport(t, store, makeReport(t, "web", e("a", "b"), e("c", "c")))
	if err := store.Tag(old.ID, "v1"); err != nil {
		t.Fatal(err)
	}
	old, _ = store.Load(old.ID)

	d, err := Diff(old, new, store)
	if err != nil {
		t.Fatalf("Diff failed: %v", err)
	}
	out := FormatDiff(d)
	for _, want := range []string{
		"Diff: " + old.ID + " -> " + new.ID,
		"Tags: v1 -> ",
		"introduced 1, resolved 1",
		"Introduced:",
		"+ [low] c -> c",
		"Resolved:",
		"- b -> a (imports)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("FormatDiff output missing %q:\n%s", want, out)
		}
	}
}
