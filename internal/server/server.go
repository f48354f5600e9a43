// Package server implements the HTTP API of the recorridos runtime.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sendas-app/recorridos/internal/auth"
	"github.com/sendas-app/recorridos/internal/ctxutil"
	"github.com/sendas-app/recorridos/internal/ratelimit"
	"github.com/sendas-app/recorridos/internal/service/journey"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the recorridos HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Limiter, OpenAPISpec. An empty ServiceKeyHash
// disables POST /auth/token.
type ServerConfig struct {
	// Required dependencies.
	Journeys *journey.Service
	JWTMgr   *auth.JWTManager
	Store    Pinger
	Logger   *slog.Logger

	// Optional dependencies (nil = disabled).
	Limiter ratelimit.Limiter

	// StoreName is reported by /health ("postgres" or "sqlite").
	StoreName      string
	ServiceKeyHash string
	RateLimit      ratelimit.Rule

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64

	OpenAPISpec []byte // Embedded OpenAPI YAML.
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) (*Server, error) {
	if cfg.Journeys == nil || cfg.JWTMgr == nil || cfg.Store == nil {
		return nil, fmt.Errorf("server: journeys, jwt manager and store are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxRequestBodyBytes <= 0 {
		cfg.MaxRequestBodyBytes = 1 << 20
	}

	h := NewHandlers(HandlersDeps{
		Journeys:            cfg.Journeys,
		JWTMgr:              cfg.JWTMgr,
		Store:               cfg.Store,
		StoreName:           cfg.StoreName,
		ServiceKeyHash:      cfg.ServiceKeyHash,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         cfg.OpenAPISpec,
	})

	// Request ID extractor for rate limit error responses.
	reqIDFunc := func(r *http.Request) string {
		return ctxutil.RequestIDFromContext(r.Context())
	}

	studentRL := ratelimit.Middleware(cfg.Limiter, cfg.RateLimit, studentKeyFunc, reqIDFunc)
	authRL := ratelimit.Middleware(cfg.Limiter, ratelimit.Rule{
		Prefix: "auth", Limit: 60, Window: time.Minute,
	}, ratelimit.IPKeyFunc, reqIDFunc)

	mux := http.NewServeMux()

	// Token exchange for the Sendas backend (service key, rate limited by IP).
	mux.Handle("POST /auth/token", authRL(http.HandlerFunc(h.HandleAuthToken)))

	// Student runtime (bearer token, rate limited per student).
	student := func(f http.HandlerFunc) http.Handler { return studentRL(requireStudent(f)) }
	mux.Handle("POST /v1/recorridos/{recorrido_id}/start", student(h.HandleStartRun))
	mux.Handle("GET /v1/recorridos/{recorrido_id}/active-run", student(h.HandleActiveRun))
	mux.Handle("GET /v1/runs/{run_id}", student(h.HandleGetRun))
	mux.Handle("POST /v1/runs/{run_id}/steps/{step_id}/submit", student(h.HandleSubmitStep))
	mux.Handle("POST /v1/runs/{run_id}/abandon", student(h.HandleAbandonRun))

	// OpenAPI document (no auth, no rate limit).
	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}, nil
}

// studentKeyFunc rate limits by the authenticated student.
func studentKeyFunc(r *http.Request) string {
	return ctxutil.UserIDFromContext(r.Context())
}

// Start begins serving HTTP requests. It returns http.ErrServerClosed after
// Shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
