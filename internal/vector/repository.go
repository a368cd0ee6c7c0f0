package vector

import "context"

// Document is one point: a vector plus string payload.
type Document struct {
	ID      string
	Vector  []float32
	Payload map[string]string
}

// SearchResult is a single match from a similarity search.
type SearchResult struct {
	ID      string
	Score   float32
	Payload map[string]string
}

// Repository provides vector storage and similarity search.
type Repository interface {
	// EnsureCollection creates the collection for vectors of size dim if it
	// does not exist yet.
	EnsureCollection(ctx context.Context, dim int) error
	// Upsert inserts or updates documents.
	Upsert(ctx context.Context, docs []Document) error
	// Search finds the top-k closest documents whose payload matches every
	// entry of filter.
	Search(ctx context.Context, vector []float32, topK int, filter map[string]string) ([]SearchResult, error)
	// Close releases resources.
	Close() error
}
