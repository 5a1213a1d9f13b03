package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/shiko/internal/auth"
	"github.com/ashita-ai/shiko/internal/ratelimit"
	"github.com/ashita-ai/shiko/internal/service/tree"
)

// Server is the shiko HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Pinger reports whether an optional backing component is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): JWTMgr, Limiter, Ledger.
type ServerConfig struct {
	// Required dependencies.
	Tree      *tree.Controller
	MCPServer *mcpserver.MCPServer
	Logger    *slog.Logger

	// Optional dependencies (nil = disabled).
	JWTMgr     *auth.JWTManager
	APIKeyHash string
	Limiter    ratelimit.Limiter
	Ledger     Pinger

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.NoopLimiter{}
	}
	rl := ratelimit.Middleware(limiter, ratelimit.ClientKeyFunc, cfg.Logger)

	h := NewHandlers(HandlersDeps{
		Tree:       cfg.Tree,
		JWTMgr:     cfg.JWTMgr,
		APIKeyHash: cfg.APIKeyHash,
		Ledger:     cfg.Ledger,
		Logger:     cfg.Logger,
		Version:    cfg.Version,
	})

	mux := http.NewServeMux()

	// Token exchange only exists when auth is on; rate limited by IP.
	if cfg.JWTMgr != nil {
		mux.Handle("POST /auth/token", rl(http.HandlerFunc(h.HandleAuthToken)))
	}

	// MCP StreamableHTTP transport (auth required when enabled, rate limited).
	mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
	mux.Handle("/mcp", rl(mcpHTTP))

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → body limit → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	if cfg.MaxRequestBodyBytes > 0 {
		handler = bodyLimitMiddleware(cfg.MaxRequestBodyBytes, handler)
	}
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(newHTTPMetrics(), handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Addr is the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
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
