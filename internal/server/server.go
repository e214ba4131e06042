package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/deepquery/guardrail/internal/admission"
	"github.com/deepquery/guardrail/internal/metrics"
)

// Options configures the HTTP server.
type Options struct {
	Port           int
	RequestTimeout time.Duration

	// Table drives the admission middleware. Required.
	Table *admission.Table

	// Metrics and Recorder are optional observation sinks for admission
	// decisions.
	Metrics  *metrics.Metrics
	Recorder DecisionRecorder
}

// Server owns the router and the governance middleware chain.
type Server struct {
	Router     *chi.Mux
	logger     *slog.Logger
	httpServer *http.Server
}

// New builds the server with the full middleware chain. Order matters:
// security headers wrap the limiter so denials carry them too, and the
// admission check runs strictly before any downstream handler.
func New(opts Options, logger *slog.Logger) *Server {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(SecurityHeadersMiddleware)
	r.Use(RateLimitMiddleware(opts.Table, logger, opts.Metrics, opts.Recorder))

	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	r.Use(TimeoutMiddleware(timeout))
	r.Use(middleware.Recoverer)

	// Wrap with OpenTelemetry HTTP instrumentation
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "guardrail")
	})

	return &Server{
		Router: r,
		logger: logger,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf(":%d", opts.Port),
			Handler: r,
		},
	}
}

// Start begins serving and blocks until the listener closes.
func (s *Server) Start() error {
	s.logger.Info("starting server", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
