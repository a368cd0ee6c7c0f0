package graph

import (
	"context"
	"fmt"
)

// MemoryProvider is an in-memory Provider. Nodes keep insertion order, and
// so do the edges of each node.
type MemoryProvider struct {
	order []NodeID
	types map[NodeID]NodeType
	out   map[NodeID][]Edge
}

// NewMemoryProvider builds a provider from explicit nodes and edges. Edge
// endpoints that are not listed in nodes are added with an empty type, in
// the order they are first seen.
func NewMemoryProvider(nodes []NodeInfo, edges []Edge) *MemoryProvider {
	m := &MemoryProvider{
		types: make(map[NodeID]NodeType),
		out:   make(map[NodeID][]Edge),
	}
	for _, n := range nodes {
		m.AddNode(n.ID, n.Type)
	}
	for _, e := range edges {
		m.AddEdge(e)
	}
	return m
}

// AddNode registers a node. Re-adding an existing node only updates a
// previously empty type.
func (m *MemoryProvider) AddNode(id NodeID, t NodeType) {
	if existing, ok := m.types[id]; ok {
		if existing == "" && t != "" {
			m.types[id] = t
		}
		return
	}
	m.order = append(m.order, id)
	m.types[id] = t
}

// AddEdge appends an edge, registering unknown endpoints.
func (m *MemoryProvider) AddEdge(e Edge) {
	m.AddNode(e.From, "")
	m.AddNode(e.To, "")
	m.out[e.From] = append(m.out[e.From], e)
}

// EdgesOf returns a copy of the outgoing edges of id.
func (m *MemoryProvider) EdgesOf(_ context.Context, id NodeID) ([]Edge, error) {
	if _, ok := m.types[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	edges := m.out[id]
	cp := make([]Edge, len(edges))
	copy(cp, edges)
	return cp, nil
}

// AllNodes returns every node in insertion order.
func (m *MemoryProvider) AllNodes(_ context.Context) ([]NodeInfo, error) {
	nodes := make([]NodeInfo, len(m.order))
	for i, id := range m.order {
		nodes[i] = NodeInfo{ID: id, Type: m.types[id]}
	}
	return nodes, nil
}

// NodeTypeOf resolves the type of a single node.
func (m *MemoryProvider) NodeTypeOf(_ context.Context, id NodeID) (NodeType, error) {
	t, ok := m.types[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return t, nil
}

// Edges returns every edge grouped by source in node order.
func (m *MemoryProvider) Edges() []Edge {
	var all []Edge
	for _, id := range m.order {
		all = append(all, m.out[id]...)
	}
	return all
}

// Len returns the number of nodes.
func (m *MemoryProvider) Len() int {
	return len(m.order)
}

var (
	_ Provider       = (*MemoryProvider)(nil)
	_ NodeTypeLookup = (*MemoryProvider)(nil)
)
