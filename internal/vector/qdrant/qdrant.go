package qdrant

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/efebarandurmaz/depscope/internal/vector"
)

// Repository implements vector.Repository using Qdrant over gRPC.
type Repository struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
}

// Option configures the gRPC connection.
type Option func(*[]grpc.DialOption)

// WithAPIKey sends key in the api-key header of every call.
func WithAPIKey(key string) Option {
	return func(opts *[]grpc.DialOption) {
		if key != "" {
			*opts = append(*opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(key)))
		}
	}
}

func apiKeyInterceptor(key string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", key)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// New creates a Qdrant-backed repository. The connection is established
// lazily on the first call.
func New(host string, port int, collection string, opts ...Option) (*Repository, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	dialOpts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	for _, o := range opts {
		o(&dialOpts)
	}
	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	return &Repository{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// EnsureCollection creates the collection with Euclidean distance. Profile
// vectors may be all zero, which cosine distance cannot score.
func (r *Repository) EnsureCollection(ctx context.Context, dim int) error {
	exists, err := r.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: r.collection})
	if err != nil {
		return fmt.Errorf("check collection %s: %w", r.collection, err)
	}
	if exists.GetResult().GetExists() {
		return nil
	}

	_, err = r.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: r.collection,
		VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{Params: &pb.VectorParams{
			Size:     uint64(dim),
			Distance: pb.Distance_Euclid,
		}}},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", r.collection, err)
	}
	return nil
}

func (r *Repository) Upsert(ctx context.Context, docs []vector.Document) error {
	wait := true
	_, err := r.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: r.collection,
		Wait:           &wait,
		Points:         pointStructs(docs),
	})
	return err
}

func (r *Repository) Search(ctx context.Context, vec []float32, topK int, filter map[string]string) ([]vector.SearchResult, error) {
	resp, err := r.points.Search(ctx, &pb.SearchPoints{
		CollectionName: r.collection,
		Vector:         vec,
		Filter:         keywordFilter(filter),
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, err
	}

	results := make([]vector.SearchResult, len(resp.GetResult()))
	for i, pt := range resp.GetResult() {
		results[i] = vector.SearchResult{
			ID:      pt.GetId().GetUuid(),
			Score:   pt.GetScore(),
			Payload: stringPayload(pt.GetPayload()),
		}
	}
	return results, nil
}

func (r *Repository) Close() error {
	return r.conn.Close()
}

func pointStructs(docs []vector.Document) []*pb.PointStruct {
	points := make([]*pb.PointStruct, len(docs))
	for i, d := range docs {
		payload := make(map[string]*pb.Value, len(d.Payload))
		for k, v := range d.Payload {
			payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
		}
		points[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: d.ID}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: d.Vector}}},
			Payload: payload,
		}
	}
	return points
}

// keywordFilter requires an exact match on every entry. Nil for no filter.
func keywordFilter(filter map[string]string) *pb.Filter {
	if len(filter) == 0 {
		return nil
	}
	must := make([]*pb.Condition, 0, len(filter))
	for k, v := range filter {
		must = append(must, &pb.Condition{ConditionOneOf: &pb.Condition_Field{Field: &pb.FieldCondition{
			Key:   k,
			Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: v}},
		}}})
	}
	return &pb.Filter{Must: must}
}

func stringPayload(payload map[string]*pb.Value) map[string]string {
	out := make(map[string]string, len(payload))
	for k, v := range payload {
		out[k] = v.GetStringValue()
	}
	return out
}

var _ vector.Repository = (*Repository)(nil)
