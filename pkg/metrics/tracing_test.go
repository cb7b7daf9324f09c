package metrics

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNoOpTracer(t *testing.T) {
	tracer := NoOpTracer{}
	ctx := context.Background()

	newCtx, end := tracer.StartSpan(ctx, "test")

	// Should return same context
	if newCtx != ctx {
		t.Error("NoOpTracer should return same context")
	}

	// End should not panic
	end(nil)
	end(errors.New("test error"))
}

func TestSimpleTracer(t *testing.T) {
	tracer := NewSimpleTracer()
	ctx := context.Background()

	_, end := tracer.StartSpan(ctx, SpanServeSession, WithSpanKind(SpanKindServer))
	time.Sleep(10 * time.Millisecond)
	end(nil)

	spans := tracer.Spans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	span := spans[0]
	if span.Name != SpanServeSession {
		t.Errorf("expected name %q, got %s", SpanServeSession, span.Name)
	}
	if span.Kind != SpanKindServer {
		t.Errorf("expected kind SpanKindServer, got %v", span.Kind)
	}
	if span.Duration < 10*time.Millisecond {
		t.Errorf("expected duration >= 10ms, got %v", span.Duration)
	}
	if span.Error != nil {
		t.Error("expected no error")
	}
}

func TestSimpleTracerWithError(t *testing.T) {
	tracer := NewSimpleTracer()
	ctx := context.Background()

	expectedErr := errors.New("link down")
	_, end := tracer.StartSpan(ctx, SpanAskParity, WithSpanKind(SpanKindClient))
	end(expectedErr)

	spans := tracer.Spans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	if spans[0].Error != expectedErr {
		t.Errorf("expected error %v, got %v", expectedErr, spans[0].Error)
	}
}

func TestSimpleTracerAttributes(t *testing.T) {
	tracer := NewSimpleTracer()
	ctx := context.Background()

	attrs := ReconcileAttributes{SessionID: "abc123", KeySize: 1024}.ToMap()

	_, end := tracer.StartSpan(ctx, SpanReconcile, WithAttributes(attrs))
	end(nil)

	spans := tracer.Spans()
	if spans[0].Attributes["cascade.session_id"] != "abc123" {
		t.Error("expected session id attribute")
	}
	if spans[0].Attributes["cascade.key_size"] != 1024 {
		t.Error("expected key size attribute")
	}
}

func TestSimpleTracerParentSpan(t *testing.T) {
	tracer := NewSimpleTracer()
	ctx := context.Background()

	ctx, endParent := tracer.StartSpan(ctx, SpanReconcile)
	_, endChild := tracer.StartSpan(ctx, SpanPass)
	endChild(nil)

	endParent(nil)

	spans := tracer.Spans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}

	var child, parent *RecordedSpan
	for i := range spans {
		if spans[i].Name == SpanReconcile {
			parent = &spans[i]
		}
	}
	for i := range spans {
		if spans[i].Name == SpanPass {
			child = &spans[i]
			break
		}
	}

	if child == nil {
		t.Fatal("child span not found")
	}

	if parent == nil || child.ParentID != parent.SpanID {
		t.Fatal("expected child to point at the parent span")
	}
	if child.TraceID != parent.TraceID {
		t.Error("expected child to share the parent's trace")
	}
}

func TestSimpleTracerReset(t *testing.T) {
	tracer := NewSimpleTracer()
	ctx := context.Background()

	_, end := tracer.StartSpan(ctx, "span1")
	end(nil)
	_, end = tracer.StartSpan(ctx, "span2")
	end(nil)

	if len(tracer.Spans()) != 2 {
		t.Fatal("expected 2 spans before reset")
	}

	tracer.Reset()

	if len(tracer.Spans()) != 0 {
		t.Error("expected 0 spans after reset")
	}
}

func TestGlobalTracer(t *testing.T) {
	// Default is NoOpTracer
	tracer := GetTracer()
	if _, ok := tracer.(NoOpTracer); !ok {
		t.Error("default tracer should be NoOpTracer")
	}

	// Set custom tracer
	simple := NewSimpleTracer()
	SetTracer(simple)

	if GetTracer() != simple {
		t.Error("expected custom tracer")
	}

	// Test StartSpan with global tracer
	ctx := context.Background()
	_, end := StartSpan(ctx, "global-test")
	end(nil)

	if len(simple.Spans()) != 1 {
		t.Error("expected span from global StartSpan")
	}

	// Reset to NoOp
	SetTracer(NoOpTracer{})
}

func TestSpanKinds(t *testing.T) {
	if SpanKindInternal != 0 {
		t.Error("SpanKindInternal should be 0")
	}
	if SpanKindServer != 1 {
		t.Error("SpanKindServer should be 1")
	}
	if SpanKindClient != 2 {
		t.Error("SpanKindClient should be 2")
	}
}

func TestReconcileAttributes(t *testing.T) {
	attrs := ReconcileAttributes{
		SessionID: "6f1c",
		Algorithm: "option7",
		KeySize:   10000,
		Pass:      3,
		BlockSize: 5000,
		Remote:    "10.0.0.2:8484",
	}

	m := attrs.ToMap()
	want := map[string]interface{}{
		"cascade.session_id": "6f1c",
		"cascade.algorithm":  "option7",
		"cascade.key_size":   10000,
		"cascade.pass":       3,
		"cascade.block_size": 5000,
		"net.peer.addr":      "10.0.0.2:8484",
	}
	if len(m) != len(want) {
		t.Fatalf("expected %d attributes, got %d", len(want), len(m))
	}
	for k, v := range want {
		if m[k] != v {
			t.Errorf("%s: expected %v, got %v", k, v, m[k])
		}
	}

	if len(ReconcileAttributes{}.ToMap()) != 0 {
		t.Error("expected empty map for empty attributes")
	}
}

func TestSpanNames(t *testing.T) {
	seen := make(map[string]bool)
	for _, name := range []string{
		SpanReconcile,
		SpanPass,
		SpanAskParity,
		SpanVerify,
		SpanServeSession,
		SpanServeParity,
	} {
		if !strings.HasPrefix(name, "cascade.") {
			t.Errorf("span %q lacks the cascade prefix", name)
		}
		if seen[name] {
			t.Errorf("duplicate span name %q", name)
		}
		seen[name] = true
	}
}

func TestGeneratedIDsDiffer(t *testing.T) {
	a, b := generateID(), generateID()
	if len(a) != 16 || a == b {
		t.Errorf("unexpected ids %q %q", a, b)
	}
}

func TestSimpleTracerConcurrency(t *testing.T) {
	tracer := NewSimpleTracer()
	ctx := context.Background()

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				_, end := tracer.StartSpan(ctx, "concurrent-span")
				time.Sleep(time.Microsecond)
				end(nil)
			}
			done <- true
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	spans := tracer.Spans()
	if len(spans) != 1000 {
		t.Errorf("expected 1000 spans, got %d", len(spans))
	}
}
