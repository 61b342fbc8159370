// Package observability provides structured logging, Prometheus metrics,
// health probes, OpenTelemetry setup and graceful shutdown.
//
// Logging is backed by logrus with a JSON formatter:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("source", "lammp").Warn("source unavailable")
//
// Request handlers pull a request-scoped logger from the context:
//
//	observability.FromContext(r.Context()).Infof("synced %d accounts", n)
//
// Metrics are registered on a caller-supplied registry so tests can use a
// fresh one:
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.ObserveSourceFetch("ping", "connected", 12*time.Millisecond)
package observability
