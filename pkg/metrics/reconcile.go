package metrics

import (
	"context"
	"sync/atomic"
	"time"
)

// ReconcileObserver records metrics, traces and logs for one reconciling
// party. It satisfies cascade.Observer and is safe to share between
// sessions, although the per-run query count is only meaningful when
// reconciliations do not overlap.
type ReconcileObserver struct {
	collector *Collector
	tracer    Tracer
	logger    *Logger
	attrs     ReconcileAttributes
	queries   atomic.Int64
}

// ReconcileObserverConfig configures a reconcile observer.
type ReconcileObserverConfig struct {
	Collector *Collector
	Tracer    Tracer
	Logger    *Logger
	SessionID string
	Algorithm string
	Remote    string
}

// NewReconcileObserver creates a new reconcile observer. Unset fields fall
// back to the global collector, tracer and logger.
func NewReconcileObserver(cfg ReconcileObserverConfig) *ReconcileObserver {
	if cfg.Collector == nil {
		cfg.Collector = Global()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = GetTracer()
	}
	if cfg.Logger == nil {
		cfg.Logger = GetLogger()
	}

	fields := Fields{"algorithm": cfg.Algorithm}
	if cfg.SessionID != "" {
		fields["session_id"] = cfg.SessionID
	}
	return &ReconcileObserver{
		collector: cfg.Collector,
		tracer:    cfg.Tracer,
		logger:    cfg.Logger.Named("cascade").With(fields),
		attrs: ReconcileAttributes{
			SessionID: cfg.SessionID,
			Algorithm: cfg.Algorithm,
			Remote:    cfg.Remote,
		},
	}
}

// OnReconcileStart opens the reconcile span.
func (o *ReconcileObserver) OnReconcileStart(ctx context.Context, keySize int) (context.Context, func(error)) {
	o.queries.Store(0)
	o.collector.ReconcileStarted()

	attrs := o.attrs
	attrs.KeySize = keySize
	start := time.Now()
	ctx, endSpan := o.tracer.StartSpan(ctx, SpanReconcile, WithAttributes(attrs.ToMap()))
	o.logger.Debug("reconciliation started", Fields{"key_size": keySize})

	return ctx, func(err error) {
		duration := time.Since(start)
		queries := int(o.queries.Load())
		o.collector.ReconcileEnded(duration, queries, err)

		if err != nil {
			o.logger.Error("reconciliation failed", Fields{
				"error":    err,
				"duration": duration.String(),
			})
		} else {
			o.logger.Info("reconciliation finished", Fields{
				"key_size":       keySize,
				"parity_queries": queries,
				"duration":       duration.String(),
			})
		}
		endSpan(err)
	}
}

// OnPassStart opens a pass span as a child of the reconcile span.
func (o *ReconcileObserver) OnPassStart(ctx context.Context, pass, blockSize int) (context.Context, func(error)) {
	o.collector.RecordPass()

	attrs := o.attrs
	attrs.Pass = pass
	attrs.BlockSize = blockSize
	ctx, endSpan := o.tracer.StartSpan(ctx, SpanPass, WithAttributes(attrs.ToMap()))
	before := o.queries.Load()

	return ctx, func(err error) {
		o.logger.Debug("pass finished", Fields{
			"pass":           pass,
			"block_size":     blockSize,
			"parity_queries": o.queries.Load() - before,
		})
		endSpan(err)
	}
}

// OnBlocksCreated records newly created top-level blocks.
func (o *ReconcileObserver) OnBlocksCreated(_, count int) {
	o.collector.RecordBlocksCreated(count)
}

// OnParityQuery records a parity request sent to the peer.
func (o *ReconcileObserver) OnParityQuery(blockSize int) {
	o.queries.Add(1)
	o.collector.RecordParityQuery(blockSize)
}

// OnParityInferred records a parity derived locally.
func (o *ReconcileObserver) OnParityInferred() {
	o.collector.RecordParityInferred()
}

// OnBitCorrected records a flipped key bit.
func (o *ReconcileObserver) OnBitCorrected(_ int) {
	o.collector.RecordBitCorrected()
}

// OnCascadePush records a block queued by cascade propagation.
func (o *ReconcileObserver) OnCascadePush() {
	o.collector.RecordCascadePush()
}

// OnStalePop records a queued block that was already even.
func (o *ReconcileObserver) OnStalePop() {
	o.collector.RecordStalePop()
}

// OnVerify traces a fingerprint comparison. The returned function takes the
// comparison result; err is set when the exchange itself failed.
func (o *ReconcileObserver) OnVerify(ctx context.Context) (context.Context, func(match bool, err error)) {
	ctx, endSpan := o.tracer.StartSpan(ctx, SpanVerify, WithSpanKind(SpanKindClient))
	return ctx, func(match bool, err error) {
		if err != nil {
			o.collector.RecordChannelError()
			endSpan(err)
			return
		}
		o.collector.RecordVerification(match)
		if !match {
			o.logger.Warn("residual errors remain after reconciliation")
		}
		endSpan(nil)
	}
}

// Logger returns the observer's logger.
func (o *ReconcileObserver) Logger() *Logger {
	return o.logger
}
