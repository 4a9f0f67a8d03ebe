// Package observability wires logging, metrics, tracing, health probes and
// graceful shutdown for the authorization service.
//
// Logging uses logrus; NewLogger selects level and JSON or text output and
// WithTraceContext stamps trace and span ids onto a logger.
//
// Metrics implements the rbac engine's recorder on Prometheus and exposes HTTP
// request metrics labelled by mux route template:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	router.Use(observability.HTTPMetricsMiddleware(metrics))
//	observability.RegisterMetricsEndpoint(router, registry)
//
// OTelMetrics records the same decision and cache series through
// OpenTelemetry. Combine both with Recorders.
//
// HealthChecker serves /healthz and /readyz. ShutdownManager stops the HTTP
// server and then runs the registered cleanup functions.
package observability
