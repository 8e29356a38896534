package app

import (
	"net/http"

	"github.com/thushan/codex-helper-proxy/internal/adapter/control"
	"github.com/thushan/codex-helper-proxy/internal/adapter/proxy"
	"github.com/thushan/codex-helper-proxy/internal/app/middleware"
	"github.com/thushan/codex-helper-proxy/internal/router"
)

const (
	ContentTypeJSON   = "application/json"
	ContentTypeText   = "text/plain"
	ContentTypeHeader = "Content-Type"
)

// buildServiceMux assembles one service's listen surface: the proxy
// pipeline as the catch-all route, the control endpoints, the
// Prometheus scrape endpoint and the process-wide /internal/* routes,
// all registered through the same RouteRegistry so the startup routes
// table stays consistent.
func buildServiceMux(a *Application, pipeline *proxy.Pipeline, handlers *control.Handlers, service string) http.Handler {
	registry := router.NewRouteRegistry(*a.logger)

	registry.RegisterWithMethod("/internal/health", a.healthHandler, "Health check endpoint", "GET")
	registry.RegisterWithMethod("/internal/process", a.processStatsHandler, "Process statistics", "GET")
	registry.RegisterWithMethod("/internal/version", a.versionHandler, "Version and build info", "GET")

	registry.RegisterWithMethod("/__codex_helper/status/active", handlers.StatusActive, "In-flight request snapshot", "GET")
	registry.RegisterWithMethod("/__codex_helper/status/recent", handlers.StatusRecent, "Recently completed requests", "GET")
	registry.RegisterWithMethod("/__codex_helper/override/session", handlers.OverrideSession, "Session override get/set", "GET,POST")
	registry.RegisterWithMethod("/__codex_helper/metrics", a.metricsRegistry.Handler().ServeHTTP, "Prometheus metrics", "GET")

	registry.RegisterProxyRoute("/", pipeline.ServeHTTP, "Proxy catch-all for "+service, "")

	sizeLimiter := NewRequestSizeLimiter(a.rawCfg.Server.RequestLimits, a.logger)
	clientIPResolver := NewClientIPResolver(a.rawCfg.Server.RequestLimits, a.logger)

	mux := http.NewServeMux()
	registry.WireUpWithMiddleware(mux, sizeLimiter.Middleware)

	withLogging := middleware.EnhancedLoggingMiddleware(a.logger, clientIPResolver)(mux)
	return middleware.AccessLoggingMiddleware(a.logger)(withLogging)
}
