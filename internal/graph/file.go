package graph

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is the on-disk form of a normalized graph, as produced by the
// extraction layer.
type Document struct {
	Nodes []NodeInfo `json:"nodes" yaml:"nodes"`
	Edges []Edge     `json:"edges" yaml:"edges"`
}

// LoadFile reads a JSON or YAML graph document and returns a provider over it.
func LoadFile(path string) (*MemoryProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph file: %w", err)
	}
	doc, err := Decode(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return NewMemoryProvider(doc.Nodes, doc.Edges), nil
}

// Decode parses a graph document. ext selects the format (".json", ".yaml"
// or ".yml").
func Decode(data []byte, ext string) (*Document, error) {
	var doc Document
	switch strings.ToLower(ext) {
	case ".json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	for i, e := range doc.Edges {
		if e.From == "" || e.To == "" {
			return nil, fmt.Errorf("edge %d: from and to are required", i)
		}
	}
	return &doc, nil
}
