package metrics

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/brunorijsman/qkd-cascade/pkg/cascade"
	"github.com/brunorijsman/qkd-cascade/pkg/channel"
	"github.com/brunorijsman/qkd-cascade/pkg/crypto"
	"github.com/brunorijsman/qkd-cascade/pkg/key"
)

// TestObservedReconciliationOverTCP wires both observers into a real
// client and server and checks that their views agree.
func TestObservedReconciliationOverTCP(t *testing.T) {
	aliceMetrics := NewCollector(Labels{"role": "alice"})
	bobMetrics := NewCollector(Labels{"role": "bob"})
	aliceTracer := NewSimpleTracer()

	alice := key.NewRandom(3000, crypto.NewRand(1))
	serverObs := NewServerObserver(aliceMetrics, aliceTracer, NullLogger())
	cfg := channel.DefaultServerConfig()
	cfg.Observer = serverObs
	cfg.RateLimitObserver = serverObs
	srv, err := channel.NewServer(alice, cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = srv.Serve(ln) }()

	ctx := context.Background()
	client, err := channel.Dial(ctx, ln.Addr().String(), channel.DefaultClientConfig())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	bobObs := NewReconcileObserver(ReconcileObserverConfig{
		Collector: bobMetrics,
		Tracer:    NoOpTracer{},
		Logger:    NullLogger(),
		Algorithm: cascade.Option8Parameters.Name,
		Remote:    ln.Addr().String(),
	})
	session, err := cascade.NewSession(cascade.Option8Parameters, client,
		cascade.WithObserver(bobObs), cascade.WithRand(crypto.NewRand(2)))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	bob, err := alice.CopyWithNoise(30, crypto.NewRand(3))
	if err != nil {
		t.Fatalf("CopyWithNoise: %v", err)
	}
	if _, err := session.CorrectKey(ctx, bob, 0.01); err != nil {
		t.Fatalf("CorrectKey: %v", err)
	}
	vctx, done := bobObs.OnVerify(ctx)
	match, err := client.Verify(vctx, bob)
	done(match, err)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}

	_ = client.Close()
	// Close waits for the connection handler, so every server event is in
	if err := srv.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	a, b := aliceMetrics.Snapshot(), bobMetrics.Snapshot()
	if a.ParityServed != b.ParityQueries {
		t.Errorf("alice served %d parities, bob asked %d", a.ParityServed, b.ParityQueries)
	}
	if a.ConnectionsTotal != 1 || a.ConnectionsActive != 0 {
		t.Errorf("unexpected connection counters %d/%d", a.ConnectionsTotal, a.ConnectionsActive)
	}
	if a.VerificationsTotal != 1 || b.VerificationsTotal != 1 {
		t.Errorf("expected one verification on each side, got %d and %d", a.VerificationsTotal, b.VerificationsTotal)
	}
	if a.VerificationsFailed != b.VerificationsFailed {
		t.Errorf("sides disagree on the verification result")
	}
	if a.ProtocolErrors != 0 || a.ChannelErrors != 0 || b.ChannelErrors != 0 {
		t.Errorf("unexpected errors alice=%d/%d bob=%d", a.ProtocolErrors, a.ChannelErrors, b.ChannelErrors)
	}

	spans := aliceTracer.Spans()
	if len(spans) != 1 || spans[0].Name != SpanServeSession || spans[0].Error != nil {
		t.Errorf("expected one clean server session span, got %+v", spans)
	}

	server := NewServer(ServerConfig{Collector: aliceMetrics, Namespace: "it"})
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(w.Result().Body)
	want := fmt.Sprintf(`it_parity_served_total{role="alice"} %d`, a.ParityServed)
	if !strings.Contains(string(body), want) {
		t.Errorf("expected %q in the Prometheus output", want)
	}
}
