package channel

import "context"

// ServerObserver provides hooks for connection and reconciliation lifecycle
// on Alice's side. Implementations should be lightweight; callbacks run on
// the connection goroutine.
type ServerObserver interface {
	OnConnectionOpen(remote string)
	OnConnectionClose(remote string, err error)
	OnReconcileStart(ctx context.Context, remote, sessionID string, keySize int) (context.Context, func(error))
	OnParityServed(blockSize int)
	OnShuffleCache(hit bool)
	OnVerify(remote string, match bool)
	OnProtocolError(remote string, err error)
}

// RateLimitObserver receives notifications when rate limits are hit.
type RateLimitObserver interface {
	// OnConnectionRateLimit is called when a connection is rejected due to per-IP limits.
	OnConnectionRateLimit(remoteIP string)
	// OnStartRateLimit is called when a reconciliation start is refused by the global limiter.
	OnStartRateLimit(remoteIP string)
}

// NoOpServerObserver is a no-op implementation of ServerObserver.
type NoOpServerObserver struct{}

var _ ServerObserver = NoOpServerObserver{}

// OnConnectionOpen implements ServerObserver.
func (NoOpServerObserver) OnConnectionOpen(string) {}

// OnConnectionClose implements ServerObserver.
func (NoOpServerObserver) OnConnectionClose(string, error) {}

// OnReconcileStart implements ServerObserver.
func (NoOpServerObserver) OnReconcileStart(ctx context.Context, _, _ string, _ int) (context.Context, func(error)) {
	return ctx, func(error) {}
}

// OnParityServed implements ServerObserver.
func (NoOpServerObserver) OnParityServed(int) {}

// OnShuffleCache implements ServerObserver.
func (NoOpServerObserver) OnShuffleCache(bool) {}

// OnVerify implements ServerObserver.
func (NoOpServerObserver) OnVerify(string, bool) {}

// OnProtocolError implements ServerObserver.
func (NoOpServerObserver) OnProtocolError(string, error) {}
