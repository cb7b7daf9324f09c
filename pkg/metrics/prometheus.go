package metrics

import (
	"math"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every exported metric name.
const DefaultNamespace = "qkd_cascade"

type scalarMetric struct {
	desc  *prometheus.Desc
	kind  prometheus.ValueType
	value func(Snapshot) uint64
}

type histogramMetric struct {
	desc  *prometheus.Desc
	scale float64
	value func(Snapshot) HistogramSummary
}

// PrometheusExporter exposes a Collector as a prometheus.Collector. Values
// are read from a fresh Snapshot on every scrape.
type PrometheusExporter struct {
	collector  *Collector
	scalars    []scalarMetric
	histograms []histogramMetric
	registry   *prometheus.Registry
}

var _ prometheus.Collector = (*PrometheusExporter)(nil)

// NewPrometheusExporter creates an exporter for c. The namespace is prepended
// to all metric names; the collector's labels become constant labels. The
// exporter's registry also carries the Go runtime and process collectors.
func NewPrometheusExporter(c *Collector, namespace string) *PrometheusExporter {
	if c == nil {
		c = Global()
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	constLabels := prometheus.Labels(c.labels)

	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, constLabels)
	}
	counter := func(name, help string, v func(Snapshot) uint64) scalarMetric {
		return scalarMetric{desc: desc(name, help), kind: prometheus.CounterValue, value: v}
	}
	gauge := func(name, help string, v func(Snapshot) uint64) scalarMetric {
		return scalarMetric{desc: desc(name, help), kind: prometheus.GaugeValue, value: v}
	}

	e := &PrometheusExporter{
		collector: c,
		scalars: []scalarMetric{
			gauge("reconciliations_active", "Reconciliations in progress",
				func(s Snapshot) uint64 { return s.ReconcilesActive }),
			counter("reconciliations_total", "Reconciliations started",
				func(s Snapshot) uint64 { return s.ReconcilesTotal }),
			counter("reconciliations_failed_total", "Reconciliations aborted by an error",
				func(s Snapshot) uint64 { return s.ReconcilesFailed }),
			counter("passes_total", "Cascade passes executed",
				func(s Snapshot) uint64 { return s.PassesTotal }),
			counter("parity_queries_total", "Parity bits requested from Alice",
				func(s Snapshot) uint64 { return s.ParityQueries }),
			counter("parity_inferred_total", "Parities derived without a request",
				func(s Snapshot) uint64 { return s.ParityInferred }),
			counter("bits_corrected_total", "Bits flipped in Bob's key",
				func(s Snapshot) uint64 { return s.BitsCorrected }),
			counter("blocks_created_total", "Blocks created, top-level and bisection",
				func(s Snapshot) uint64 { return s.BlocksCreated }),
			counter("cascade_pushes_total", "Blocks queued by cascade propagation",
				func(s Snapshot) uint64 { return s.CascadePushes }),
			counter("stale_pops_total", "Queued blocks found even when popped",
				func(s Snapshot) uint64 { return s.StalePops }),
			counter("verifications_total", "Fingerprint comparisons after reconciliation",
				func(s Snapshot) uint64 { return s.VerificationsTotal }),
			counter("verifications_failed_total", "Fingerprint comparisons that found residual errors",
				func(s Snapshot) uint64 { return s.VerificationsFailed }),
			counter("connections_total", "Classical channel connections accepted",
				func(s Snapshot) uint64 { return s.ConnectionsTotal }),
			gauge("connections_active", "Classical channel connections open",
				func(s Snapshot) uint64 { return s.ConnectionsActive }),
			counter("parity_served_total", "Parity queries answered by Alice",
				func(s Snapshot) uint64 { return s.ParityServed }),
			counter("rate_limited_total", "Connections and reconciliations refused by rate limiters",
				func(s Snapshot) uint64 { return s.RateLimited }),
			counter("shuffle_cache_hits_total", "Shuffle cache hits",
				func(s Snapshot) uint64 { return s.ShuffleCacheHits }),
			counter("shuffle_cache_misses_total", "Shuffle cache misses",
				func(s Snapshot) uint64 { return s.ShuffleCacheMisses }),
			counter("channel_errors_total", "Classical channel failures",
				func(s Snapshot) uint64 { return s.ChannelErrors }),
			counter("protocol_errors_total", "Malformed or unexpected protocol messages",
				func(s Snapshot) uint64 { return s.ProtocolErrors }),
		},
		histograms: []histogramMetric{
			// recorded in milliseconds, exported in seconds
			{desc("reconcile_duration_seconds", "Duration of a reconciliation"), 0.001,
				func(s Snapshot) HistogramSummary { return s.ReconcileDuration }},
			{desc("queries_per_reconciliation", "Parity queries issued by one reconciliation"), 1,
				func(s Snapshot) HistogramSummary { return s.QueriesPerRun }},
			{desc("query_block_size", "Size of blocks whose parity was requested"), 1,
				func(s Snapshot) HistogramSummary { return s.QueryBlockSize }},
		},
		registry: prometheus.NewRegistry(),
	}

	e.registry.MustRegister(
		e,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: namespace}),
	)
	return e
}

// Describe implements prometheus.Collector.
func (e *PrometheusExporter) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range e.scalars {
		ch <- m.desc
	}
	for _, m := range e.histograms {
		ch <- m.desc
	}
}

// Collect implements prometheus.Collector.
func (e *PrometheusExporter) Collect(ch chan<- prometheus.Metric) {
	snap := e.collector.Snapshot()
	for _, m := range e.scalars {
		ch <- prometheus.MustNewConstMetric(m.desc, m.kind, float64(m.value(snap)))
	}
	for _, m := range e.histograms {
		h := m.value(snap)
		buckets := make(map[float64]uint64, len(h.Buckets))
		for _, b := range h.Buckets {
			if !math.IsInf(b.UpperBound, 1) {
				buckets[b.UpperBound*m.scale] = b.Count
			}
		}
		ch <- prometheus.MustNewConstHistogram(m.desc, h.Count, h.Sum*m.scale, buckets)
	}
}

// Registry returns the registry the exporter is registered with.
func (e *PrometheusExporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler returns an http.Handler serving the registry in the Prometheus
// exposition format.
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
