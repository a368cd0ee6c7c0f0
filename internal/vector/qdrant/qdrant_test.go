package qdrant

import (
	"context"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/efebarandurmaz/depscope/internal/vector"
)

func TestPointStructs(t *testing.T) {
	docs := []vector.Document{{
		ID:      "2b1c8a53-7a4e-5e54-9a3c-1d6f0e3c9b21",
		Vector:  []float32{0.5, 1, 0, 0, 0, 0},
		Payload: map[string]string{"node": "src/a.ts", "namespace": "web"},
	}}

	points := pointStructs(docs)
	if len(points) != 1 {
		t.Fatalf("expected 1 point, got %d", len(points))
	}
	pt := points[0]
	if pt.GetId().GetUuid() != docs[0].ID {
		t.Errorf("id = %q", pt.GetId().GetUuid())
	}
	if got := pt.GetVectors().GetVector().GetData(); len(got) != 6 || got[0] != 0.5 {
		t.Errorf("vector = %v", got)
	}
	if pt.GetPayload()["node"].GetStringValue() != "src/a.ts" {
		t.Errorf("payload = %v", pt.GetPayload())
	}
}

func TestKeywordFilter(t *testing.T) {
	if keywordFilter(nil) != nil {
		t.Error("empty filter should be nil")
	}

	f := keywordFilter(map[string]string{"namespace": "web"})
	if len(f.GetMust()) != 1 {
		t.Fatalf("expected 1 condition, got %d", len(f.GetMust()))
	}
	field := f.GetMust()[0].GetField()
	if field.GetKey() != "namespace" || field.GetMatch().GetKeyword() != "web" {
		t.Errorf("unexpected condition %v", field)
	}
}

func TestStringPayload(t *testing.T) {
	got := stringPayload(map[string]*pb.Value{
		"node":  {Kind: &pb.Value_StringValue{StringValue: "a"}},
		"level": {Kind: &pb.Value_IntegerValue{IntegerValue: 3}},
	})
	if got["node"] != "a" {
		t.Errorf("node = %q", got["node"])
	}
	if got["level"] != "" {
		t.Errorf("non-string values should read as empty, got %q", got["level"])
	}
}

func TestAPIKeyInterceptor(t *testing.T) {
	var got []string
	invoker := func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		md, _ := metadata.FromOutgoingContext(ctx)
		got = md.Get("api-key")
		return nil
	}
	if err := apiKeyInterceptor("k1")(context.Background(), "/qdrant.Points/Upsert", nil, nil, nil, invoker); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "k1" {
		t.Errorf("api-key = %v", got)
	}
}

func TestWithAPIKey_EmptySkipsInterceptor(t *testing.T) {
	var opts []grpc.DialOption
	WithAPIKey("")(&opts)
	if len(opts) != 0 {
		t.Errorf("expected no dial options, got %d", len(opts))
	}
	WithAPIKey("k1")(&opts)
	if len(opts) != 1 {
		t.Errorf("expected one dial option, got %d", len(opts))
	}
}
