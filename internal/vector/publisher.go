package vector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/efebarandurmaz/depscope/internal/depgraph"
	"github.com/efebarandurmaz/depscope/internal/graph"
)

// DefaultBatchSize bounds the points sent in one upsert.
const DefaultBatchSize = 256

// ErrUnknownNode is returned by SimilarNodes for a node absent from the graph.
var ErrUnknownNode = errors.New("node not in graph")

// Publisher writes node risk profiles to a Repository.
type Publisher struct {
	repo      Repository
	batchSize int
	logger    *slog.Logger
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithBatchSize overrides DefaultBatchSize.
func WithBatchSize(n int) PublisherOption {
	return func(p *Publisher) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithPublisherLogger sets the logger.
func WithPublisherLogger(l *slog.Logger) PublisherOption {
	return func(p *Publisher) { p.logger = l }
}

// NewPublisher creates a Publisher.
func NewPublisher(repo Repository, opts ...PublisherOption) *Publisher {
	p := &Publisher{repo: repo, batchSize: DefaultBatchSize, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish upserts one point per node of g and returns how many were written.
func (p *Publisher) Publish(ctx context.Context, namespace string, g *depgraph.Graph) (int, error) {
	docs := ProfileDocuments(namespace, g)
	if len(docs) == 0 {
		return 0, nil
	}
	if err := p.repo.EnsureCollection(ctx, Dimensions); err != nil {
		return 0, fmt.Errorf("ensure collection: %w", err)
	}

	written := 0
	for start := 0; start < len(docs); start += p.batchSize {
		end := min(start+p.batchSize, len(docs))
		if err := p.repo.Upsert(ctx, docs[start:end]); err != nil {
			return written, fmt.Errorf("upsert points %d-%d: %w", start, end, err)
		}
		written = end
	}

	p.logger.Info("published risk profiles", "namespace", namespace, "points", written)
	return written, nil
}

// SimilarNodes returns up to topK nodes of the same namespace whose risk
// profile is closest to node's. The node itself is not included.
func (p *Publisher) SimilarNodes(ctx context.Context, namespace string, g *depgraph.Graph, node graph.NodeID, topK int) ([]SearchResult, error) {
	var query *Document
	for _, d := range ProfileDocuments(namespace, g) {
		if d.Payload[KeyNode] == string(node) {
			query = &d
			break
		}
	}
	if query == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, node)
	}

	results, err := p.repo.Search(ctx, query.Vector, topK+1, map[string]string{KeyNamespace: namespace})
	if err != nil {
		return nil, fmt.Errorf("search similar to %s: %w", node, err)
	}

	out := make([]SearchResult, 0, topK)
	for _, r := range results {
		if r.ID == query.ID {
			continue
		}
		if len(out) == topK {
			break
		}
		out = append(out, r)
	}
	return out, nil
}
