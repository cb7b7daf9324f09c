package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector aggregates metrics from reconciliation sessions and the Alice server.
type Collector struct {
	// Reconciliation metrics
	reconcilesActive atomic.Uint64
	reconcilesTotal  atomic.Uint64
	reconcilesFailed atomic.Uint64
	passesTotal      atomic.Uint64

	// Engine metrics
	parityQueries   atomic.Uint64
	parityInferred  atomic.Uint64
	bitsCorrected   atomic.Uint64
	blocksCreated   atomic.Uint64
	cascadePushes   atomic.Uint64
	stalePops       atomic.Uint64
	residualChecked atomic.Uint64
	residualFailed  atomic.Uint64

	// Server metrics
	connectionsTotal   atomic.Uint64
	connectionsActive  atomic.Uint64
	parityServed       atomic.Uint64
	rateLimited        atomic.Uint64
	shuffleCacheHits   atomic.Uint64
	shuffleCacheMisses atomic.Uint64

	// Error metrics
	channelErrors  atomic.Uint64
	protocolErrors atomic.Uint64

	// Distributions
	reconcileDuration *Histogram
	queriesPerRun     *Histogram
	queryBlockSize    *Histogram

	createdAt time.Time
	labels    Labels
}

// Labels represents key-value pairs for metric labeling.
type Labels map[string]string

// NewCollector creates a new metrics collector.
func NewCollector(labels Labels) *Collector {
	if labels == nil {
		labels = make(Labels)
	}

	return &Collector{
		reconcileDuration: NewHistogram(DurationBuckets),
		queriesPerRun:     NewHistogram(QueryCountBuckets),
		queryBlockSize:    NewHistogram(BlockSizeBuckets),
		createdAt:         time.Now(),
		labels:            labels,
	}
}

// Default bucket configurations for histograms.
var (
	// DurationBuckets for reconciliation duration (milliseconds).
	DurationBuckets = []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 30000}

	// QueryCountBuckets for parity queries per reconciliation.
	QueryCountBuckets = []float64{10, 100, 1000, 5000, 10000, 50000, 100000, 500000}

	// BlockSizeBuckets for the size of blocks whose parity is asked.
	BlockSizeBuckets = []float64{1, 2, 4, 8, 16, 64, 256, 1024, 8192, 65536}
)

// --- Reconciliation Metrics ---

// ReconcileStarted increments active and total reconciliation counters.
func (c *Collector) ReconcileStarted() {
	c.reconcilesActive.Add(1)
	c.reconcilesTotal.Add(1)
}

// ReconcileEnded records a finished reconciliation, successful or not.
func (c *Collector) ReconcileEnded(d time.Duration, queries int, err error) {
	decrement(&c.reconcilesActive)
	if err != nil {
		c.reconcilesFailed.Add(1)
	}
	c.reconcileDuration.Observe(float64(d.Milliseconds()))
	c.queriesPerRun.Observe(float64(queries))
}

// RecordPass increments the pass counter.
func (c *Collector) RecordPass() {
	c.passesTotal.Add(1)
}

// RecordParityQuery records a parity request for a block of the given size.
func (c *Collector) RecordParityQuery(blockSize int) {
	c.parityQueries.Add(1)
	c.queryBlockSize.Observe(float64(blockSize))
}

// RecordParityInferred records a parity derived without a channel request.
func (c *Collector) RecordParityInferred() {
	c.parityInferred.Add(1)
}

// RecordBitCorrected increments the corrected bit counter.
func (c *Collector) RecordBitCorrected() {
	c.bitsCorrected.Add(1)
}

// RecordBlocksCreated adds to the created block counter.
func (c *Collector) RecordBlocksCreated(n int) {
	c.blocksCreated.Add(uint64(n))
}

// RecordCascadePush increments the cascade push counter.
func (c *Collector) RecordCascadePush() {
	c.cascadePushes.Add(1)
}

// RecordStalePop increments the stale pop counter.
func (c *Collector) RecordStalePop() {
	c.stalePops.Add(1)
}

// RecordVerification records a fingerprint comparison after reconciliation.
func (c *Collector) RecordVerification(match bool) {
	c.residualChecked.Add(1)
	if !match {
		c.residualFailed.Add(1)
	}
}

// --- Server Metrics ---

// ConnectionOpened records a new classical channel connection.
func (c *Collector) ConnectionOpened() {
	c.connectionsTotal.Add(1)
	c.connectionsActive.Add(1)
}

// ConnectionClosed decrements the active connection gauge.
func (c *Collector) ConnectionClosed() {
	decrement(&c.connectionsActive)
}

// RecordParityServed increments the count of parity queries Alice answered.
func (c *Collector) RecordParityServed() {
	c.parityServed.Add(1)
}

// RecordRateLimited counts a connection or reconciliation refused by a rate limiter.
func (c *Collector) RecordRateLimited() {
	c.rateLimited.Add(1)
}

// RecordShuffleCache records a shuffle cache lookup.
func (c *Collector) RecordShuffleCache(hit bool) {
	if hit {
		c.shuffleCacheHits.Add(1)
	} else {
		c.shuffleCacheMisses.Add(1)
	}
}

// --- Error Metrics ---

// RecordChannelError increments the channel error counter.
func (c *Collector) RecordChannelError() {
	c.channelErrors.Add(1)
}

// RecordProtocolError increments the protocol error counter.
func (c *Collector) RecordProtocolError() {
	c.protocolErrors.Add(1)
}

func decrement(v *atomic.Uint64) {
	for {
		current := v.Load()
		if current == 0 {
			return
		}
		if v.CompareAndSwap(current, current-1) {
			return
		}
	}
}

// --- Snapshot ---

// Snapshot is a point-in-time copy of all metrics.
type Snapshot struct {
	Timestamp time.Time
	Uptime    time.Duration

	ReconcilesActive uint64
	ReconcilesTotal  uint64
	ReconcilesFailed uint64
	PassesTotal      uint64

	ParityQueries  uint64
	ParityInferred uint64
	BitsCorrected  uint64
	BlocksCreated  uint64
	CascadePushes  uint64
	StalePops      uint64

	VerificationsTotal  uint64
	VerificationsFailed uint64

	ConnectionsTotal   uint64
	ConnectionsActive  uint64
	ParityServed       uint64
	RateLimited        uint64
	ShuffleCacheHits   uint64
	ShuffleCacheMisses uint64

	ChannelErrors  uint64
	ProtocolErrors uint64

	ReconcileDuration HistogramSummary
	QueriesPerRun     HistogramSummary
	QueryBlockSize    HistogramSummary

	Labels Labels
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		Timestamp:           time.Now(),
		Uptime:              time.Since(c.createdAt),
		ReconcilesActive:    c.reconcilesActive.Load(),
		ReconcilesTotal:     c.reconcilesTotal.Load(),
		ReconcilesFailed:    c.reconcilesFailed.Load(),
		PassesTotal:         c.passesTotal.Load(),
		ParityQueries:       c.parityQueries.Load(),
		ParityInferred:      c.parityInferred.Load(),
		BitsCorrected:       c.bitsCorrected.Load(),
		BlocksCreated:       c.blocksCreated.Load(),
		CascadePushes:       c.cascadePushes.Load(),
		StalePops:           c.stalePops.Load(),
		VerificationsTotal:  c.residualChecked.Load(),
		VerificationsFailed: c.residualFailed.Load(),
		ConnectionsTotal:    c.connectionsTotal.Load(),
		ConnectionsActive:   c.connectionsActive.Load(),
		ParityServed:        c.parityServed.Load(),
		RateLimited:         c.rateLimited.Load(),
		ShuffleCacheHits:    c.shuffleCacheHits.Load(),
		ShuffleCacheMisses:  c.shuffleCacheMisses.Load(),
		ChannelErrors:       c.channelErrors.Load(),
		ProtocolErrors:      c.protocolErrors.Load(),
		ReconcileDuration:   c.reconcileDuration.Summary(),
		QueriesPerRun:       c.queriesPerRun.Summary(),
		QueryBlockSize:      c.queryBlockSize.Summary(),
		Labels:              c.labels,
	}
}

// Reset clears all metrics (useful for testing).
func (c *Collector) Reset() {
	for _, v := range []*atomic.Uint64{
		&c.reconcilesActive, &c.reconcilesTotal, &c.reconcilesFailed, &c.passesTotal,
		&c.parityQueries, &c.parityInferred, &c.bitsCorrected, &c.blocksCreated,
		&c.cascadePushes, &c.stalePops, &c.residualChecked, &c.residualFailed,
		&c.connectionsTotal, &c.connectionsActive, &c.parityServed, &c.rateLimited,
		&c.shuffleCacheHits, &c.shuffleCacheMisses, &c.channelErrors, &c.protocolErrors,
	} {
		v.Store(0)
	}
	c.reconcileDuration.Reset()
	c.queriesPerRun.Reset()
	c.queryBlockSize.Reset()
	c.createdAt = time.Now()
}

// --- Global Collector ---

var (
	globalCollector     *Collector
	globalCollectorOnce sync.Once
)

// Global returns the global metrics collector.
// Creates one with default settings if not already initialized.
func Global() *Collector {
	globalCollectorOnce.Do(func() {
		if globalCollector == nil {
			globalCollector = NewCollector(Labels{"instance": "default"})
		}
	})
	return globalCollector
}

// SetGlobal sets the global metrics collector.
// Should be called during initialization before any metrics are recorded.
func SetGlobal(c *Collector) {
	globalCollectorOnce.Do(func() {})
	globalCollector = c
}
