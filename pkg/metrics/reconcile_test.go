package metrics

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/brunorijsman/qkd-cascade/pkg/cascade"
	"github.com/brunorijsman/qkd-cascade/pkg/crypto"
)

var _ cascade.Observer = (*ReconcileObserver)(nil)

func TestReconcileObserverDrivesCollector(t *testing.T) {
	c := NewCollector(nil)
	tracer := NewSimpleTracer()
	var buf bytes.Buffer
	obs := NewReconcileObserver(ReconcileObserverConfig{
		Collector: c,
		Tracer:    tracer,
		Logger:    TestLogger(&buf),
		SessionID: "s-1",
		Algorithm: "original",
	})

	s, _, alice, err := cascade.NewMockSession(2000, 1, 2, cascade.OriginalParameters, cascade.WithObserver(obs))
	if err != nil {
		t.Fatalf("NewMockSession: %v", err)
	}
	bob, err := alice.CopyWithNoise(20, crypto.NewRand(3))
	if err != nil {
		t.Fatalf("CopyWithNoise: %v", err)
	}
	if _, err := s.CorrectKey(context.Background(), bob, 0.01); err != nil {
		t.Fatalf("CorrectKey: %v", err)
	}

	stats := s.Stats()
	snap := c.Snapshot()

	if snap.ReconcilesTotal != 1 || snap.ReconcilesActive != 0 || snap.ReconcilesFailed != 0 {
		t.Errorf("unexpected reconcile counters %d/%d/%d", snap.ReconcilesTotal, snap.ReconcilesActive, snap.ReconcilesFailed)
	}
	if snap.PassesTotal != uint64(stats.Passes) {
		t.Errorf("passes: collector %d, stats %d", snap.PassesTotal, stats.Passes)
	}
	if snap.ParityQueries != uint64(stats.AskParityMessages) {
		t.Errorf("queries: collector %d, stats %d", snap.ParityQueries, stats.AskParityMessages)
	}
	if snap.ParityInferred != uint64(stats.InferParityBlocks) {
		t.Errorf("inferred: collector %d, stats %d", snap.ParityInferred, stats.InferParityBlocks)
	}
	if snap.BitsCorrected != uint64(stats.BitsCorrected) {
		t.Errorf("corrected: collector %d, stats %d", snap.BitsCorrected, stats.BitsCorrected)
	}
	if snap.CascadePushes != uint64(stats.CascadePushes) || snap.StalePops != uint64(stats.StalePops) {
		t.Errorf("cascade: collector %d/%d, stats %d/%d", snap.CascadePushes, snap.StalePops, stats.CascadePushes, stats.StalePops)
	}
	if snap.BlocksCreated == 0 {
		t.Error("expected top-level blocks to be counted")
	}
	if snap.QueriesPerRun.Count != 1 || snap.QueriesPerRun.Sum != float64(stats.AskParityMessages) {
		t.Errorf("unexpected queries-per-run summary %+v", snap.QueriesPerRun)
	}

	spans := tracer.Spans()
	if len(spans) != stats.Passes+1 {
		t.Fatalf("expected %d spans, got %d", stats.Passes+1, len(spans))
	}
	root := spans[len(spans)-1]
	if root.Name != SpanReconcile || root.Attributes["cascade.key_size"] != 2000 {
		t.Errorf("unexpected root span %+v", root)
	}
	for i, span := range spans[:len(spans)-1] {
		if span.Name != SpanPass || span.ParentID != root.SpanID {
			t.Errorf("span %d: expected a pass span under the reconcile span, got %+v", i, span)
		}
		if span.Attributes["cascade.pass"] != i+1 {
			t.Errorf("span %d: unexpected pass attribute %v", i, span.Attributes["cascade.pass"])
		}
	}

	out := buf.String()
	for _, want := range []string{"reconciliation finished", "pass finished", "session_id=s-1", "algorithm=original"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in log output", want)
		}
	}
}

func TestReconcileObserverFailure(t *testing.T) {
	c := NewCollector(nil)
	tracer := NewSimpleTracer()
	var buf bytes.Buffer
	obs := NewReconcileObserver(ReconcileObserverConfig{Collector: c, Tracer: tracer, Logger: TestLogger(&buf)})

	_, end := obs.OnReconcileStart(context.Background(), 64)
	obs.OnParityQuery(32)
	obs.OnParityQuery(16)
	failure := errors.New("link down")
	end(failure)

	snap := c.Snapshot()
	if snap.ReconcilesFailed != 1 || snap.ParityQueries != 2 {
		t.Errorf("unexpected counters failed=%d queries=%d", snap.ReconcilesFailed, snap.ParityQueries)
	}
	if snap.QueryBlockSize.Count != 2 {
		t.Errorf("expected two block-size observations, got %d", snap.QueryBlockSize.Count)
	}
	spans := tracer.Spans()
	if len(spans) != 1 || spans[0].Error != failure {
		t.Errorf("expected one failed span, got %+v", spans)
	}
	if !strings.Contains(buf.String(), "reconciliation failed") || !strings.Contains(buf.String(), "link down") {
		t.Errorf("unexpected log output %q", buf.String())
	}
}

func TestReconcileObserverQueryCountResets(t *testing.T) {
	c := NewCollector(nil)
	obs := NewReconcileObserver(ReconcileObserverConfig{Collector: c, Tracer: NoOpTracer{}, Logger: NullLogger()})

	for run := 0; run < 2; run++ {
		_, end := obs.OnReconcileStart(context.Background(), 8)
		for i := 0; i < 3; i++ {
			obs.OnParityQuery(4)
		}
		end(nil)
	}

	snap := c.Snapshot()
	if snap.QueriesPerRun.Count != 2 || snap.QueriesPerRun.Sum != 6 {
		t.Errorf("expected two runs of three queries, got %+v", snap.QueriesPerRun)
	}
}

func TestReconcileObserverVerify(t *testing.T) {
	c := NewCollector(nil)
	tracer := NewSimpleTracer()
	var buf bytes.Buffer
	obs := NewReconcileObserver(ReconcileObserverConfig{Collector: c, Tracer: tracer, Logger: TestLogger(&buf)})

	_, done := obs.OnVerify(context.Background())
	done(true, nil)
	_, done = obs.OnVerify(context.Background())
	done(false, nil)
	_, done = obs.OnVerify(context.Background())
	done(false, errors.New("timeout"))

	snap := c.Snapshot()
	if snap.VerificationsTotal != 2 || snap.VerificationsFailed != 1 {
		t.Errorf("unexpected verification counters %d/%d", snap.VerificationsTotal, snap.VerificationsFailed)
	}
	if snap.ChannelErrors != 1 {
		t.Errorf("expected one channel error, got %d", snap.ChannelErrors)
	}
	if !strings.Contains(buf.String(), "residual errors") {
		t.Error("expected a warning about residual errors")
	}
	for _, span := range tracer.Spans() {
		if span.Name != SpanVerify || span.Kind != SpanKindClient {
			t.Errorf("unexpected span %+v", span)
		}
	}
}
