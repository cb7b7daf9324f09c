// Package metrics provides observability for Cascade reconciliation.
//
// # Overview
//
// The package covers both ends of the classical channel:
//   - Metrics collection (counters, gauges, histograms)
//   - Prometheus export through client_golang
//   - Tracing behind a small Tracer interface, with an OpenTelemetry adapter
//   - Structured logging with levels
//   - Health check endpoints
//
// # Metrics Collection
//
// The Collector aggregates metrics from reconciliations and from the
// parity server:
//
//	collector := metrics.NewCollector(metrics.Labels{"instance": "bob-1"})
//
//	collector.ReconcileStarted()
//	collector.RecordParityQuery(blockSize)
//	collector.ReconcileEnded(d, queries, err)
//
//	snap := collector.Snapshot()
//
// Most code does not call the collector directly. ReconcileObserver
// implements cascade.Observer and feeds one party's engine events into a
// collector, a tracer and a logger:
//
//	obs := metrics.NewReconcileObserver(metrics.ReconcileObserverConfig{
//		Collector: collector,
//		Algorithm: "original",
//	})
//	session, err := cascade.NewSession(params, client, cascade.WithObserver(obs))
//
// ServerObserver does the same for Alice's channel.Server, including the
// rate limiter events.
//
// # Prometheus Export
//
//	exporter := metrics.NewPrometheusExporter(collector, "cascade")
//	http.Handle("/metrics", exporter.Handler())
//
// # Tracing
//
//	tracer := metrics.NewSimpleTracer() // records spans in memory
//	metrics.SetTracer(tracer)
//
//	// OpenTelemetry adapter (uses the global provider).
//	// Build with -tags otel to enable it.
//	metrics.SetTracer(metrics.NewOTelTracer("cascade"))
//
// A reconciliation produces one SpanReconcile span with a SpanPass child
// per pass.
//
// # Structured Logging
//
//	logger := metrics.NewLogger(
//		metrics.WithLevel(metrics.LevelInfo),
//		metrics.WithFormat(metrics.FormatJSON),
//	)
//	logger.Named("server").Info("listening", metrics.Fields{"addr": addr})
//
// # Observability Server
//
//	server := metrics.NewServer(metrics.ServerConfig{
//		Collector: collector,
//		Version:   version.String(),
//		Namespace: "cascade",
//	})
//	go server.ListenAndServe(ctx, ":9090")
//
// This provides:
//   - /metrics - Prometheus metrics
//   - /health  - Detailed health status
//   - /healthz - Liveness probe
//   - /readyz  - Readiness probe
package metrics
