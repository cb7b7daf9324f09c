package main

import (
	"fmt"
	"strings"

	"github.com/brunorijsman/qkd-cascade/internal/config"
	"github.com/brunorijsman/qkd-cascade/pkg/metrics"
)

// setupObservability installs the global logger, tracer and collector.
func setupObservability(cfg *config.Config, tracing, role string) (*metrics.Collector, *metrics.Logger, error) {
	logger := cfg.Logger().With(metrics.Fields{"app": "cascade", "role": role})
	metrics.SetLogger(logger)

	switch strings.ToLower(tracing) {
	case "none", "":
		metrics.SetTracer(metrics.NoOpTracer{})
	case "simple":
		metrics.SetTracer(metrics.NewSimpleTracer())
	case "otel":
		if !metrics.OTelEnabled() {
			return nil, nil, fmt.Errorf("otel tracing not enabled (build with -tags otel)")
		}
		metrics.SetTracer(metrics.NewOTelTracer("cascade"))
	default:
		return nil, nil, fmt.Errorf("invalid tracing mode: %s (use none, simple, or otel)", tracing)
	}

	collector := metrics.NewCollector(metrics.Labels{
		"service": "cascade",
		"role":    role,
	})
	metrics.SetGlobal(collector)
	return collector, logger, nil
}
