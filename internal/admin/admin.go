// Package admin serves cephsumd's operational HTTP surface: Prometheus
// metrics and pprof profiles. It is entirely separate from the TCP
// request protocol (internal/server), which never touches net/http.
package admin

import (
	"context"
	"net/http"
	"net/http/pprof"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/snafus/cephsum-server/internal/middleware"
)

// Server is a small HTTP server exposing /metrics and /debug/pprof/*.
type Server struct {
	httpServer *http.Server
}

// New builds an admin Server bound to addr, scraping reg for /metrics.
func New(addr string, reg *prometheus.Registry, log *logrus.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	handler := middleware.RecoveryMiddleware(log)(middleware.LoggingMiddleware(log)(mux))

	return &Server{httpServer: &http.Server{Addr: addr, Handler: handler}}
}

// ListenAndServe runs the admin server until it errors or is shut down.
// http.ErrServerClosed is swallowed since it signals a clean Shutdown.
func (s *Server) ListenAndServe() error {
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the admin server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the underlying http.Handler, for tests that want to
// exercise routes with httptest rather than a real listener.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
