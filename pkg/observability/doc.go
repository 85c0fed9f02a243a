// Package observability provides logging, Prometheus metrics, OpenTelemetry
// tracing and the metrics/health HTTP endpoints for repostats.
//
// # Logging
//
// NewLogger builds a logrus logger from the logging configuration. Output goes
// to stderr and, when a path and file name are configured, to an append-only
// log file as well:
//
//	log, closer, err := observability.NewLogger(cfg.Logging)
//	defer closer.Close()
//
// The logger is passed to every component constructor; no package-level
// logger is used.
//
// # Metrics
//
// NewMetrics registers the pipeline collectors on a registry. All recording
// methods are safe to call on a nil *Metrics, so components can be built
// without metrics in tests:
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.StageFinished("collection", observability.StatusOK, time.Second)
//
// # Tracing
//
// InitOTel installs OTLP/gRPC trace and metric exporters as the global
// providers. Pipeline code obtains tracers through Tracer and never depends
// on whether tracing is enabled.
//
// # HTTP endpoints
//
// NewServer exposes /metrics, /healthz and /readyz on a gorilla/mux router for
// the long running schedule mode.
package observability
