// Package cycles enumerates circular dependency chains in a lazily fetched
// graph under depth, count and wall-clock limits.
//
// A run owns all of its traversal state (visited, on-path and path) and
// issues provider fetches one at a time, so independent runs may execute
// concurrently against separate providers without locking.
package cycles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/efebarandurmaz/depscope/internal/graph"
)

const tracerName = "github.com/efebarandurmaz/depscope/internal/cycles"

// errNoSource is returned when neither the call nor the detector supplies edges.
var errNoSource = errors.New("cycles: no edge source")

// Detector runs bounded depth-first cycle searches over a graph.Provider.
type Detector struct {
	provider graph.Provider
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
	onFetch  func(graph.NodeID, error)
}

// Option configures a Detector.
type Option func(*Detector)

// WithLogger sets the logger used for recovered provider failures.
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) { d.logger = l }
}

// WithClock overrides the wall clock used for the timeout budget.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// WithFetchErrorHook registers fn to be called for every recovered provider
// failure, after it is logged.
func WithFetchErrorHook(fn func(graph.NodeID, error)) Option {
	return func(d *Detector) { d.onFetch = fn }
}

// New creates a detector. p may be nil when only DetectFromNode or
// FindCircularPath are used with an explicit edge source.
func New(p graph.Provider, opts ...Option) *Detector {
	d := &Detector{
		provider: p,
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Detect walks every node returned by AllNodes that has not been visited by
// an earlier walk and collects distinct cycles.
func (d *Detector) Detect(ctx context.Context, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if d.provider == nil {
		return nil, errNoSource
	}

	ctx, span := d.tracer.Start(ctx, "cycles.Detect")
	defer span.End()

	started := d.now()
	nodes, err := d.provider.AllNodes(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	types := make(map[graph.NodeID]graph.NodeType, len(nodes))
	for _, n := range nodes {
		types[n.ID] = n.Type
	}

	w := d.newWalk(ctx, d.provider, opts, started, func(id graph.NodeID) graph.NodeType { return types[id] })
	defer w.cancel()
	for _, n := range nodes {
		if w.stopped {
			break
		}
		if w.visited[n.ID] || w.excluded(n.ID) {
			continue
		}
		w.visit(n.ID, 0)
	}

	res := w.finish()
	annotate(span, res, len(nodes))
	return res, nil
}

// DetectFromNode runs the same search restricted to the nodes reachable from
// start. src may be nil to use the detector's provider.
func (d *Detector) DetectFromNode(ctx context.Context, start graph.NodeID, src graph.EdgeSource, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	src = d.source(src)
	if src == nil {
		return nil, errNoSource
	}

	ctx, span := d.tracer.Start(ctx, "cycles.DetectFromNode",
		trace.WithAttributes(attribute.String("cycles.start", string(start))))
	defer span.End()

	started := d.now()
	w := d.newWalk(ctx, src, opts, started, d.typeResolver(ctx, src, opts))
	defer w.cancel()
	if !w.excluded(start) {
		w.visit(start, 0)
	}

	res := w.finish()
	annotate(span, res, -1)
	return res, nil
}

// FindCircularPath looks for any path from a to b and closes it back to a.
// It reports false when b is unreachable from a, and returns the context error
// when the search was cut short before it could tell. When a == b the path found
// is already closed. The path is the first found, not the shortest.
func (d *Detector) FindCircularPath(ctx context.Context, a, b graph.NodeID, src graph.EdgeSource) (Cycle, bool, error) {
	src = d.source(src)
	if src == nil {
		return Cycle{}, false, errNoSource
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	visited := make(map[graph.NodeID]bool)
	var path []graph.NodeID

	var search func(n graph.NodeID) bool
	search = func(n graph.NodeID) bool {
		if ctx.Err() != nil {
			return false
		}
		visited[n] = true
		path = append(path, n)
		for _, e := range d.fetch(ctx, src, n) {
			if e.To == b {
				path = append(path, b)
				return true
			}
			if !visited[e.To] && search(e.To) {
				return true
			}
		}
		path = path[:len(path)-1]
		return false
	}

	if !search(a) {
		if err := ctx.Err(); err != nil {
			return Cycle{}, false, fmt.Errorf("path %s to %s: search stopped: %w", a, b, err)
		}
		return Cycle{}, false, nil
	}
	if a != b {
		path = append(path, a)
	}
	return NewCycle(path), true, nil
}

func (d *Detector) source(src graph.EdgeSource) graph.EdgeSource {
	if src != nil {
		return src
	}
	if d.provider != nil {
		return d.provider
	}
	return nil
}

// typeResolver returns how a reachability-only walk learns node types. It is
// nil when nothing is excluded.
func (d *Detector) typeResolver(ctx context.Context, src graph.EdgeSource, opts Options) func(graph.NodeID) graph.NodeType {
	if len(opts.ExcludeNodeTypes) == 0 {
		return nil
	}

	var lookup graph.NodeTypeLookup
	if l, ok := src.(graph.NodeTypeLookup); ok {
		lookup = l
	} else if l, ok := d.provider.(graph.NodeTypeLookup); ok {
		lookup = l
	}

	cache := make(map[graph.NodeID]graph.NodeType)
	if lookup != nil {
		return func(id graph.NodeID) graph.NodeType {
			if t, ok := cache[id]; ok {
				return t
			}
			t, err := lookup.NodeTypeOf(ctx, id)
			if err != nil {
				d.logger.Debug("node type lookup failed", "node", id, "error", err)
			}
			cache[id] = t
			return t
		}
	}

	if d.provider == nil {
		d.logger.Warn("node type exclusion requested but no type source is available")
		return nil
	}
	nodes, err := d.provider.AllNodes(ctx)
	if err != nil {
		d.logger.Warn("cannot index node types", "error", err)
		return nil
	}
	for _, n := range nodes {
		cache[n.ID] = n.Type
	}
	return func(id graph.NodeID) graph.NodeType { return cache[id] }
}

// fetch treats a failed lookup as a node without outgoing edges.
func (d *Detector) fetch(ctx context.Context, src graph.EdgeSource, id graph.NodeID) []graph.Edge {
	edges, err := src.EdgesOf(ctx, id)
	if err != nil {
		d.logger.Warn("edge lookup failed, treating node as a leaf", "node", id, "error", err)
		if d.onFetch != nil {
			d.onFetch(id, err)
		}
		return nil
	}
	return edges
}

func annotate(span trace.Span, res *Result, seeds int) {
	attrs := []attribute.KeyValue{
		attribute.Int("cycles.found", len(res.Cycles)),
		attribute.Int("cycles.nodes_visited", res.Stats.TotalNodesVisited),
		attribute.Int("cycles.max_depth_reached", res.Stats.MaxDepthReached),
		attribute.Bool("cycles.timeout", res.Stats.TimeoutOccurred),
		attribute.Bool("cycles.truncated", res.Truncated),
	}
	if seeds >= 0 {
		attrs = append(attrs, attribute.Int("cycles.seed_nodes", seeds))
	}
	span.SetAttributes(attrs...)
}
