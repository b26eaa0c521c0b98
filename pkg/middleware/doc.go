// Package middleware provides HTTP middleware for GhostWatch servers.
//
// This package includes:
//   - OpenTelemetry distributed tracing middleware
//   - Prometheus request metrics middleware
//   - Structured request logging
//
// All middleware has the func(http.Handler) http.Handler shape and plugs
// into a chi router:
//
//	r := chi.NewRouter()
//	r.Use(chimw.RequestID)
//	r.Use(middleware.OpenTelemetry())
//	r.Use(middleware.Prometheus(middleware.WithRegistry(reg)))
//	r.Use(middleware.Logger(logger))
//
// # OpenTelemetry Middleware
//
// Each request gets a server span named after its chi route pattern. An
// incoming traceparent header continues the caller's trace. The tracer comes
// from the global provider unless WithTracerProvider is used.
//
// # Prometheus Metrics
//
// Requests are counted and timed by method, route pattern and status.
// Compression-layer metrics live in package metrics.
package middleware
