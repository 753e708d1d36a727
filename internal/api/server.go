// Package api exposes the HTTP surface of the advisory backend: the chat
// endpoint and a liveness probe, behind a small hand-rolled middleware chain.
package api

import (
	"errors"
	"net/http"

	"github.com/littletone/littletone/internal/chat"
	"github.com/littletone/littletone/internal/log"
	"github.com/littletone/littletone/internal/ratelimit"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger      log.Logger
	Service     *chat.Service      // Required
	Limiter     *ratelimit.Limiter // Required
	CORSOrigins []string
	TrustProxy  bool // trust X-Forwarded-For when deriving client identity
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates the API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Service == nil {
		return nil, errors.New("chat service is required")
	}
	if cfg.Limiter == nil {
		return nil, errors.New("rate limiter is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	ch := &chatHandler{service: cfg.Service, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", ch.send)

	// Middleware stack (outermost first):
	//   Recovery → Logging → CORS → RateLimit → Routes
	// CORS sits before RateLimit so preflight OPTIONS is never throttled.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(cfg.Limiter, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Health probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health(logger))
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
