package neo4j

import "github.com/efebarandurmaz/depscope/internal/graph"

// nodeRows flattens nodes, then any edge endpoint not already listed, into
// UNWIND parameters.
func nodeRows(nodes []graph.NodeInfo, edges []graph.Edge) []map[string]any {
	seen := make(map[graph.NodeID]bool, len(nodes))
	rows := make([]map[string]any, 0, len(nodes))
	add := func(id graph.NodeID, t graph.NodeType) {
		if seen[id] {
			return
		}
		seen[id] = true
		rows = append(rows, map[string]any{"id": string(id), "type": string(t)})
	}
	for _, n := range nodes {
		add(n.ID, n.Type)
	}
	for _, e := range edges {
		add(e.From, "")
		add(e.To, "")
	}
	return rows
}

// edgeRows flattens edges. seq preserves insertion order on read.
func edgeRows(edges []graph.Edge) []map[string]any {
	rows := make([]map[string]any, len(edges))
	for i, e := range edges {
		rows[i] = map[string]any{
			"seq":            int64(i),
			"from":           string(e.From),
			"to":             string(e.To),
			"type":           string(e.Type),
			"line":           int64(e.Metadata.Line),
			"import_kind":    string(e.Metadata.ImportKind),
			"imported_items": int64(e.Metadata.ImportedItems),
			"category":       string(e.Metadata.Category),
		}
	}
	return rows
}

func edgeFromRow(row map[string]any) graph.Edge {
	return graph.Edge{
		From: graph.NodeID(stringValue(row["from"])),
		To:   graph.NodeID(stringValue(row["to"])),
		Type: graph.EdgeType(stringValue(row["type"])),
		Metadata: graph.EdgeMetadata{
			Line:          intValue(row["line"]),
			ImportKind:    graph.ImportKind(stringValue(row["import_kind"])),
			ImportedItems: intValue(row["imported_items"]),
			Category:      graph.PathCategory(stringValue(row["category"])),
		},
	}
}

func nodeFromRow(row map[string]any) graph.NodeInfo {
	return graph.NodeInfo{
		ID:   graph.NodeID(stringValue(row["id"])),
		Type: graph.NodeType(stringValue(row["type"])),
	}
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

// intValue accepts the int64 the driver returns as well as plain ints.
func intValue(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}
