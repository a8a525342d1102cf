// Package observability provides logging, metrics, and tracing
// for the traffic gateway.
//
// # Logging
//
//	logger, err := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer func() { _ = logger.Sync() }()
//
//	logger.Info("backend selected",
//	    observability.String("backend", "svc-a"),
//	    observability.Int("connections", 3),
//	)
//
// # Metrics
//
// Metrics owns a private Prometheus registry. Components record
// admission decisions, selections, forwarded requests and probe
// outcomes through it; Handler exposes the registry.
//
//	metrics := observability.NewMetrics("trafficgw")
//	http.Handle("/metrics", metrics.Handler())
//
// # Tracing
//
// Tracer wraps an OpenTelemetry tracer provider with an optional OTLP
// gRPC exporter. When tracing is disabled the global no-op provider is
// used, so spans are always safe to start.
package observability
