package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDefaultTracingConfig(t *testing.T) {
	cfg := DefaultTracingConfig()
	if cfg == nil {
		t.Fatal("expected non-nil config")
	}
	if cfg.ServiceName != "depscope" {
		t.Fatalf("expected service name 'depscope', got %s", cfg.ServiceName)
	}
	if cfg.SampleRate != 1.0 {
		t.Fatalf("expected sample rate 1.0, got %f", cfg.SampleRate)
	}
}

func TestInitTracing_NoEndpoint(t *testing.T) {
	ctx := context.Background()
	tp, err := InitTracing(ctx, &TracingConfig{
		ServiceName: "test",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tp == nil {
		t.Fatal("expected non-nil tracer provider")
	}
	if tp.Tracer() == nil {
		t.Fatal("expected non-nil tracer")
	}
	if err := tp.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestInitTracing_NilConfig(t *testing.T) {
	tp, err := InitTracing(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tp == nil {
		t.Fatal("expected non-nil tracer provider")
	}
}

func TestTracerProvider_Shutdown_NilProvider(t *testing.T) {
	tp := &TracerProvider{}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("expected nil error for nil provider, got: %v", err)
	}
}

// recordSpans installs an in-memory tracer provider for the test.
func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func attrValue(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestAnalysisSpan_Attributes(t *testing.T) {
	rec := recordSpans(t)

	_, span := StartAnalysisSpan(context.Background(), "web")
	RecordAnalysisResult(span, 12, 30, 2, true, 150*time.Millisecond)
	span.End()

	ended := rec.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected 1 span, got %d", len(ended))
	}
	s := ended[0]
	if s.Name() != "analysis.run" {
		t.Errorf("span name = %s", s.Name())
	}
	if v, ok := attrValue(s.Attributes(), "depscope.namespace"); !ok || v.AsString() != "web" {
		t.Errorf("namespace attribute = %v", v)
	}
	if v, ok := attrValue(s.Attributes(), "analysis.cycles"); !ok || v.AsInt64() != 2 {
		t.Errorf("cycles attribute = %v", v)
	}
	if v, ok := attrValue(s.Attributes(), "analysis.truncated"); !ok || !v.AsBool() {
		t.Errorf("truncated attribute = %v", v)
	}
}

func TestNestedSpans(t *testing.T) {
	rec := recordSpans(t)

	ctx, root := StartAnalysisSpan(context.Background(), "api")
	_, metrics := StartMetricsSpan(ctx, 42)
	metrics.End()
	_, snap := StartSnapshotSpan(ctx, "save", "abc")
	snap.End()
	root.End()

	ended := rec.Ended()
	if len(ended) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(ended))
	}
	rootID := ended[2].SpanContext().SpanID()
	for _, s := range ended[:2] {
		if s.Parent().SpanID() != rootID {
			t.Errorf("span %s should be a child of analysis.run", s.Name())
		}
	}
	if ended[1].Name() != "snapshot.save" {
		t.Errorf("unexpected span name %s", ended[1].Name())
	}
}

func TestStoreSpan_Kind(t *testing.T) {
	rec := recordSpans(t)

	_, a := StartStoreSpan(context.Background(), "qdrant", "publish")
	a.End()
	_, b := StartStoreSpan(context.Background(), "neo4j", "store_graph")
	b.End()

	ended := rec.Ended()
	if v, _ := attrValue(ended[0].Attributes(), "depscope.span.kind"); v.AsString() != SpanKindPublish {
		t.Errorf("publish span kind = %s", v.AsString())
	}
	if v, _ := attrValue(ended[1].Attributes(), "depscope.span.kind"); v.AsString() != SpanKindStore {
		t.Errorf("store span kind = %s", v.AsString())
	}
	if ended[1].Name() != "neo4j.store_graph" {
		t.Errorf("unexpected span name %s", ended[1].Name())
	}
}

func TestRecordError(t *testing.T) {
	rec := recordSpans(t)

	_, span := StartAnalysisSpan(context.Background(), "x")
	RecordError(span, nil)
	RecordError(span, errors.New("provider unreachable"))
	span.End()

	s := rec.Ended()[0]
	if s.Status().Code != codes.Error {
		t.Errorf("expected error status, got %v", s.Status().Code)
	}
	if len(s.Events()) != 1 {
		t.Errorf("expected 1 exception event, got %d", len(s.Events()))
	}
}

func TestTracerName(t *testing.T) {
	if TracerName != "github.com/efebarandurmaz/depscope" {
		t.Fatalf("unexpected tracer name: %s", TracerName)
	}
}
