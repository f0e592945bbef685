// Package server implements the rpma daemon's admin HTTP surface: a
// ConnectRPC grpchealth readiness check, Prometheus metrics exposition, and
// read-only JSON introspection of live Peers, Memory Regions, and
// Connections, all served over h2c so the surface answers both plain
// HTTP/1.1 probes and HTTP/2 clients without TLS.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"connectrpc.com/grpchealth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// readHeaderTimeout bounds how long the admin server waits for a client to
// finish sending request headers.
const readHeaderTimeout = 10 * time.Second

// NewAdminHandler builds the admin HTTP surface. metricsPath is the
// Prometheus exposition path (config.AdminConfig.MetricsPath); opts are
// applied to the health handler so callers can wire the same logging and
// recovery interceptors used elsewhere.
func NewAdminHandler(
	registry *Registry,
	reg *prometheus.Registry,
	metricsPath string,
	logger *slog.Logger,
	opts ...connect.HandlerOption,
) http.Handler {
	mux := http.NewServeMux()

	checker := newHealthChecker(registry)
	mux.Handle(grpchealth.NewHandler(checker, opts...))

	mux.Handle(metricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	registerDebugRoutes(mux, registry)

	logger.Debug("admin handler constructed", slog.String("metrics_path", metricsPath))

	return mux
}

// NewAdminServer wraps handler in an h2c-capable *http.Server bound to addr.
func NewAdminServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: readHeaderTimeout,
	}
}
