package analysis

import (
	"context"

	"github.com/efebarandurmaz/depscope/internal/graph"
)

type fetched struct {
	edges []graph.Edge
	err   error
}

// cachingProvider memoizes EdgesOf so the detector and the metrics pass
// share one fetch per node. It is owned by a single run.
type cachingProvider struct {
	graph.Provider
	seen  map[graph.NodeID]fetched
	calls int
}

func newCachingProvider(p graph.Provider) *cachingProvider {
	return &cachingProvider{Provider: p, seen: make(map[graph.NodeID]fetched)}
}

func (c *cachingProvider) EdgesOf(ctx context.Context, id graph.NodeID) ([]graph.Edge, error) {
	if f, ok := c.seen[id]; ok {
		return f.edges, f.err
	}
	edges, err := c.Provider.EdgesOf(ctx, id)
	c.calls++
	// A cancelled fetch says nothing about the node; let the next caller retry.
	if err == nil || ctx.Err() == nil {
		c.seen[id] = fetched{edges: edges, err: err}
	}
	return edges, err
}

// NodeTypeOf forwards to the wrapped provider when it supports lookups.
func (c *cachingProvider) NodeTypeOf(ctx context.Context, id graph.NodeID) (graph.NodeType, error) {
	if l, ok := c.Provider.(graph.NodeTypeLookup); ok {
		return l.NodeTypeOf(ctx, id)
	}
	nodes, err := c.Provider.AllNodes(ctx)
	if err != nil {
		return "", err
	}
	for _, n := range nodes {
		if n.ID == id {
			return n.Type, nil
		}
	}
	return "", graph.ErrNodeNotFound
}
