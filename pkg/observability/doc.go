// Package observability carries the service's logging, metrics, tracing,
// health and shutdown plumbing.
//
// Logging is logrus with a JSON formatter. A request-scoped logger travels in
// the context:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	ctx = observability.WithLogger(ctx, logger.WithField("request_id", id))
//	observability.FromContext(ctx).Info("invitation created")
//
// Prometheus metrics are registered on a caller-supplied registry. A nil
// *Metrics is valid and records nothing, which keeps tests free of registry
// plumbing:
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.RecordSeatLimitRejection()
//
// Tracing uses the global OpenTelemetry provider installed by InitOTel.
//
// Health exposes /healthz (liveness) and /readyz (database required, redis
// optional).
package observability
