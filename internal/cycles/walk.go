package cycles

import (
	"context"
	"time"

	"github.com/efebarandurmaz/depscope/internal/graph"
)

// walk holds the mutable state of one detection run.
type walk struct {
	d       *Detector
	ctx     context.Context
	cancel  context.CancelFunc
	src     graph.EdgeSource
	opts    Options
	started time.Time

	edgeTypes map[graph.EdgeType]struct{}
	exclude   map[graph.NodeType]struct{}
	typeOf    func(graph.NodeID) graph.NodeType

	visited map[graph.NodeID]bool
	onPath  map[graph.NodeID]bool
	path    []graph.NodeID
	seen    map[string]struct{}

	result  Result
	stopped bool
}

func (d *Detector) newWalk(ctx context.Context, src graph.EdgeSource, opts Options, started time.Time, typeOf func(graph.NodeID) graph.NodeType) *walk {
	// Provider calls share the run's budget so a hung fetch cannot outlive it.
	var cancel context.CancelFunc
	if now := time.Now(); now.Add(opts.Timeout).After(now) {
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	return &walk{
		d:         d,
		ctx:       ctx,
		cancel:    cancel,
		src:       src,
		opts:      opts,
		started:   started,
		edgeTypes: edgeTypeSet(opts.EdgeTypes),
		exclude:   nodeTypeSet(opts.ExcludeNodeTypes),
		typeOf:    typeOf,
		visited:   make(map[graph.NodeID]bool),
		onPath:    make(map[graph.NodeID]bool),
		seen:      make(map[string]struct{}),
		result:    Result{Cycles: []Cycle{}},
	}
}

// visit is one frame of the depth-first search.
func (w *walk) visit(node graph.NodeID, depth int) {
	if w.stopped {
		return
	}
	if w.expired() {
		w.result.Stats.TimeoutOccurred = true
		w.stopped = true
		return
	}

	if depth > w.result.Stats.MaxDepthReached {
		w.result.Stats.MaxDepthReached = depth
	}
	w.visited[node] = true
	w.result.Stats.TotalNodesVisited++
	w.onPath[node] = true
	w.path = append(w.path, node)

	for _, e := range w.d.fetch(w.ctx, w.src, node) {
		if w.stopped {
			break
		}
		if !w.traversable(e) {
			continue
		}
		if w.onPath[e.To] {
			w.record(e.To)
			continue
		}
		if w.visited[e.To] {
			continue
		}
		if depth+1 > w.opts.MaxDepth {
			continue
		}
		w.visit(e.To, depth+1)
	}

	w.path = w.path[:len(w.path)-1]
	delete(w.onPath, node)
}

func (w *walk) expired() bool {
	if w.d.now().Sub(w.started) > w.opts.Timeout {
		return true
	}
	return w.ctx.Err() != nil
}

func (w *walk) traversable(e graph.Edge) bool {
	if w.edgeTypes != nil {
		if _, ok := w.edgeTypes[e.Type]; !ok {
			return false
		}
	}
	return !w.excluded(e.To)
}

func (w *walk) excluded(id graph.NodeID) bool {
	if w.exclude == nil || w.typeOf == nil {
		return false
	}
	_, ok := w.exclude[w.typeOf(id)]
	return ok
}

// record slices the cycle closed by a back-edge to target out of the path.
func (w *walk) record(target graph.NodeID) {
	start := -1
	for i, n := range w.path {
		if n == target {
			start = i
			break
		}
	}
	if start < 0 {
		return
	}

	nodes := make([]graph.NodeID, 0, len(w.path)-start+1)
	nodes = append(nodes, w.path[start:]...)
	nodes = append(nodes, target)
	c := NewCycle(nodes)

	key := c.Key()
	if _, dup := w.seen[key]; dup {
		return
	}
	w.seen[key] = struct{}{}
	w.result.Cycles = append(w.result.Cycles, c)

	if len(w.result.Cycles) >= w.opts.MaxCycles {
		w.result.Truncated = true
		w.stopped = true
	}
}

func (w *walk) finish() *Result {
	res := w.result
	return &res
}
