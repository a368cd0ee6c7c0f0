// Package neo4j stores dependency graphs in Neo4j and serves them back as a
// graph.Provider. Every node and relationship carries a namespace so several
// projects can share one database.
package neo4j

import (
	"context"
	"fmt"

	"github.com/efebarandurmaz/depscope/internal/graph"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const (
	queryEdgesOf = `MATCH (a:DepNode {namespace: $ns, id: $id})-[r:DEPENDS]->(b:DepNode)
RETURN a.id AS from, b.id AS to, r.type AS type, r.line AS line,
       r.import_kind AS import_kind, r.imported_items AS imported_items, r.category AS category
ORDER BY r.seq`

	queryExists = `MATCH (n:DepNode {namespace: $ns, id: $id}) RETURN n.type AS type`

	queryAllNodes = `MATCH (n:DepNode {namespace: $ns}) RETURN n.id AS id, n.type AS type ORDER BY n.id`

	queryMergeNodes = `UNWIND $batch AS row
MERGE (n:DepNode {namespace: $ns, id: row.id})
SET n.type = CASE WHEN row.type = '' THEN coalesce(n.type, '') ELSE row.type END`

	// One relationship per row: parallel edges of the same type are kept.
	// StoreGraph clears the namespace first, so nothing is duplicated.
	queryCreateEdges = `UNWIND $batch AS row
MATCH (a:DepNode {namespace: $ns, id: row.from})
MATCH (b:DepNode {namespace: $ns, id: row.to})
CREATE (a)-[r:DEPENDS {type: row.type, seq: row.seq}]->(b)
SET r.line = row.line, r.import_kind = row.import_kind,
    r.imported_items = row.imported_items, r.category = row.category`

	queryClear = `MATCH (n:DepNode {namespace: $ns}) DETACH DELETE n`

	queryIndex = `CREATE INDEX dep_node_key IF NOT EXISTS FOR (n:DepNode) ON (n.namespace, n.id)`
)

// Store is a Neo4j-backed graph store.
type Store struct {
	driver   neo4j.DriverWithContext
	database string
}

// New connects to Neo4j and verifies connectivity.
func New(ctx context.Context, uri, username, password, database string) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}
	return &Store{driver: driver, database: database}, nil
}

// Ping checks the server is reachable. Used by the worker readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

func (s *Store) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: s.database})
}

// StoreGraph replaces the namespace's graph with nodes and edges. Edge
// endpoints missing from nodes are created with an empty type.
func (s *Store) StoreGraph(ctx context.Context, namespace string, nodes []graph.NodeInfo, edges []graph.Edge) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	if _, err := session.Run(ctx, queryIndex, nil); err != nil {
		return fmt.Errorf("create index: %w", err)
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, queryClear, map[string]any{"ns": namespace}); err != nil {
			return nil, fmt.Errorf("clear namespace: %w", err)
		}
		if _, err := tx.Run(ctx, queryMergeNodes, map[string]any{"ns": namespace, "batch": nodeRows(nodes, edges)}); err != nil {
			return nil, fmt.Errorf("store nodes: %w", err)
		}
		if _, err := tx.Run(ctx, queryCreateEdges, map[string]any{"ns": namespace, "batch": edgeRows(edges)}); err != nil {
			return nil, fmt.Errorf("store edges: %w", err)
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("store graph %s: %w", namespace, err)
	}
	return nil
}

// Provider returns a read-only view of one namespace.
func (s *Store) Provider(namespace string) *Provider {
	return &Provider{store: s, namespace: namespace}
}

// Close releases the driver.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// Provider serves a namespace as a graph.Provider. Each call opens its own
// read session.
type Provider struct {
	store     *Store
	namespace string
}

// EdgesOf returns the outgoing edges of id in insertion order.
func (p *Provider) EdgesOf(ctx context.Context, id graph.NodeID) ([]graph.Edge, error) {
	session := p.store.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		params := map[string]any{"ns": p.namespace, "id": string(id)}

		exists, err := tx.Run(ctx, queryExists, params)
		if err != nil {
			return nil, err
		}
		if !exists.Next(ctx) {
			return nil, fmt.Errorf("%w: %s", graph.ErrNodeNotFound, id)
		}

		records, err := tx.Run(ctx, queryEdgesOf, params)
		if err != nil {
			return nil, err
		}
		var edges []graph.Edge
		for records.Next(ctx) {
			edges = append(edges, edgeFromRow(records.Record().AsMap()))
		}
		return edges, records.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.([]graph.Edge), nil
}

// AllNodes returns every node of the namespace ordered by id.
func (p *Provider) AllNodes(ctx context.Context) ([]graph.NodeInfo, error) {
	session := p.store.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := tx.Run(ctx, queryAllNodes, map[string]any{"ns": p.namespace})
		if err != nil {
			return nil, err
		}
		var nodes []graph.NodeInfo
		for records.Next(ctx) {
			nodes = append(nodes, nodeFromRow(records.Record().AsMap()))
		}
		return nodes, records.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.([]graph.NodeInfo), nil
}

// NodeTypeOf resolves one node's type.
func (p *Provider) NodeTypeOf(ctx context.Context, id graph.NodeID) (graph.NodeType, error) {
	session := p.store.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := tx.Run(ctx, queryExists, map[string]any{"ns": p.namespace, "id": string(id)})
		if err != nil {
			return nil, err
		}
		if !records.Next(ctx) {
			return nil, fmt.Errorf("%w: %s", graph.ErrNodeNotFound, id)
		}
		return graph.NodeType(stringValue(records.Record().AsMap()["type"])), nil
	})
	if err != nil {
		return "", err
	}
	return result.(graph.NodeType), nil
}

var (
	_ graph.Provider       = (*Provider)(nil)
	_ graph.NodeTypeLookup = (*Provider)(nil)
)
