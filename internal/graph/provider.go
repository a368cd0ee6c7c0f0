package graph

import (
	"context"
	"errors"
)

var (
	// ErrNodeNotFound is returned by lookups for an id the provider has never seen.
	ErrNodeNotFound = errors.New("node not found")

	// ErrUnsupportedFormat is returned when a graph file has an unknown extension.
	ErrUnsupportedFormat = errors.New("unsupported graph file format")
)

// EdgeSource fetches the outgoing edges of one node.
type EdgeSource interface {
	EdgesOf(ctx context.Context, id NodeID) ([]Edge, error)
}

// EdgeSourceFunc adapts a function to EdgeSource.
type EdgeSourceFunc func(ctx context.Context, id NodeID) ([]Edge, error)

// EdgesOf calls f.
func (f EdgeSourceFunc) EdgesOf(ctx context.Context, id NodeID) ([]Edge, error) {
	return f(ctx, id)
}

// Provider is the lazily-fetched graph the analysis core pulls from. The
// core issues one call at a time; implementations need not be safe for
// concurrent use by a single run.
type Provider interface {
	EdgeSource
	// AllNodes enumerates every known node in a stable order.
	AllNodes(ctx context.Context) ([]NodeInfo, error)
}

// NodeTypeLookup is implemented by providers that can resolve a single
// node's type without enumerating the graph.
type NodeTypeLookup interface {
	NodeTypeOf(ctx context.Context, id NodeID) (NodeType, error)
}

// CollectEdges pulls every outgoing edge of every node, one fetch at a time.
// A failed fetch is reported through onErr and contributes no edges.
func CollectEdges(ctx context.Context, p Provider, nodes []NodeInfo, onErr func(NodeID, error)) ([]Edge, error) {
	var edges []Edge
	for _, n := range nodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := p.EdgesOf(ctx, n.ID)
		if err != nil {
			if onErr != nil {
				onErr(n.ID, err)
			}
			continue
		}
		edges = append(edges, out...)
	}
	return edges, nil
}
