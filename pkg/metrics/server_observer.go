package metrics

import (
	"context"
	"time"

	"github.com/brunorijsman/qkd-cascade/pkg/channel"
)

// ServerObserver records metrics, traces and logs for Alice's channel
// server. It implements channel.ServerObserver and channel.RateLimitObserver.
type ServerObserver struct {
	collector *Collector
	tracer    Tracer
	logger    *Logger
}

var (
	_ channel.ServerObserver    = (*ServerObserver)(nil)
	_ channel.RateLimitObserver = (*ServerObserver)(nil)
)

// NewServerObserver creates a server observer. Nil arguments fall back to
// the global collector, tracer and logger.
func NewServerObserver(collector *Collector, tracer Tracer, logger *Logger) *ServerObserver {
	if collector == nil {
		collector = Global()
	}
	if tracer == nil {
		tracer = GetTracer()
	}
	if logger == nil {
		logger = GetLogger()
	}
	return &ServerObserver{
		collector: collector,
		tracer:    tracer,
		logger:    logger.Named("server"),
	}
}

// OnConnectionOpen implements channel.ServerObserver.
func (o *ServerObserver) OnConnectionOpen(remote string) {
	o.collector.ConnectionOpened()
	o.logger.Info("connection opened", Fields{"remote": remote})
}

// OnConnectionClose implements channel.ServerObserver.
func (o *ServerObserver) OnConnectionClose(remote string, err error) {
	o.collector.ConnectionClosed()
	if err != nil {
		o.collector.RecordChannelError()
		o.logger.Warn("connection closed", Fields{"remote": remote, "error": err})
		return
	}
	o.logger.Info("connection closed", Fields{"remote": remote})
}

// OnReconcileStart implements channel.ServerObserver.
func (o *ServerObserver) OnReconcileStart(ctx context.Context, remote, sessionID string, keySize int) (context.Context, func(error)) {
	attrs := ReconcileAttributes{SessionID: sessionID, KeySize: keySize, Remote: remote}
	start := time.Now()
	ctx, endSpan := o.tracer.StartSpan(ctx, SpanServeSession,
		WithSpanKind(SpanKindServer), WithAttributes(attrs.ToMap()))

	log := o.logger.With(Fields{"session_id": sessionID, "remote": remote})
	log.Debug("reconciliation started", Fields{"key_size": keySize})

	return ctx, func(err error) {
		if err != nil {
			log.Warn("reconciliation aborted", Fields{"error": err})
		} else {
			log.Debug("reconciliation ended", Fields{"duration": time.Since(start).String()})
		}
		endSpan(err)
	}
}

// OnParityServed implements channel.ServerObserver.
func (o *ServerObserver) OnParityServed(int) {
	o.collector.RecordParityServed()
}

// OnShuffleCache implements channel.ServerObserver.
func (o *ServerObserver) OnShuffleCache(hit bool) {
	o.collector.RecordShuffleCache(hit)
}

// OnVerify implements channel.ServerObserver.
func (o *ServerObserver) OnVerify(remote string, match bool) {
	o.collector.RecordVerification(match)
	if !match {
		o.logger.Warn("fingerprint mismatch", Fields{"remote": remote})
	}
}

// OnProtocolError implements channel.ServerObserver.
func (o *ServerObserver) OnProtocolError(remote string, err error) {
	o.collector.RecordProtocolError()
	o.logger.Error("protocol error", Fields{"remote": remote, "error": err})
}

// OnConnectionRateLimit implements channel.RateLimitObserver.
func (o *ServerObserver) OnConnectionRateLimit(remoteIP string) {
	o.collector.RecordRateLimited()
	o.logger.Warn("connection rate limit exceeded", Fields{"remote_ip": remoteIP})
}

// OnStartRateLimit implements channel.RateLimitObserver.
func (o *ServerObserver) OnStartRateLimit(remoteIP string) {
	o.collector.RecordRateLimited()
	o.logger.Warn("reconciliation rate limit exceeded", Fields{"remote_ip": remoteIP})
}
