// Package graph defines the node, edge and provider types shared by the
// cycle detector and the metrics calculator.
package graph

// NodeID identifies a vertex (file path, symbol id or module name). It is
// unique within one analysis run.
type NodeID string

// NodeType tags a node for filtering. Unknown values are allowed.
type NodeType string

const (
	NodeFile     NodeType = "file"
	NodeFunction NodeType = "function"
	NodeClass    NodeType = "class"
	NodeModule   NodeType = "module"
	NodeLibrary  NodeType = "library"
)

// Known reports whether t is one of the built-in node tags.
func (t NodeType) Known() bool {
	switch t {
	case NodeFile, NodeFunction, NodeClass, NodeModule, NodeLibrary:
		return true
	}
	return false
}

// EdgeType tags a relationship. Unknown values are allowed.
type EdgeType string

const (
	EdgeImports    EdgeType = "imports"
	EdgeCalls      EdgeType = "calls"
	EdgeExtends    EdgeType = "extends"
	EdgeImplements EdgeType = "implements"
	EdgeDependsOn  EdgeType = "depends_on"
	EdgeContains   EdgeType = "contains"
	EdgeUses       EdgeType = "uses"
)

// Known reports whether t is one of the built-in edge tags.
func (t EdgeType) Known() bool {
	switch t {
	case EdgeImports, EdgeCalls, EdgeExtends, EdgeImplements, EdgeDependsOn, EdgeContains, EdgeUses:
		return true
	}
	return false
}

// ImportKind describes how an import binds names.
type ImportKind string

const (
	ImportDefault    ImportKind = "default"
	ImportNamed      ImportKind = "named"
	ImportNamespace  ImportKind = "namespace"
	ImportSideEffect ImportKind = "side_effect"
)

// PathCategory classifies the import specifier the edge came from.
type PathCategory string

const (
	CategoryExternal PathCategory = "external" // third-party package
	CategoryInternal PathCategory = "internal" // module inside the project
	CategoryRelative PathCategory = "relative" // ./ or ../ path
)

// EdgeMetadata is what the extraction layer knew about an edge.
type EdgeMetadata struct {
	Line          int          `json:"line,omitempty" yaml:"line,omitempty"`
	ImportKind    ImportKind   `json:"import_kind,omitempty" yaml:"import_kind,omitempty"`
	ImportedItems int          `json:"imported_items,omitempty" yaml:"imported_items,omitempty"`
	Category      PathCategory `json:"category,omitempty" yaml:"category,omitempty"`
}

// Edge is a directed, typed relation. Two edges between the same pair with
// different types are distinct.
type Edge struct {
	From     NodeID       `json:"from" yaml:"from"`
	To       NodeID       `json:"to" yaml:"to"`
	Type     EdgeType     `json:"type" yaml:"type"`
	Metadata EdgeMetadata `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// NodeInfo is one entry of Provider.AllNodes.
type NodeInfo struct {
	ID   NodeID   `json:"id" yaml:"id"`
	Type NodeType `json:"type,omitempty" yaml:"type,omitempty"`
}
