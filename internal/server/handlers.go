package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashita-ai/shiko/internal/auth"
	"github.com/ashita-ai/shiko/internal/model"
	"github.com/ashita-ai/shiko/internal/service/tree"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	tree       *tree.Controller
	jwtMgr     *auth.JWTManager
	apiKeyHash string
	ledger     Pinger
	logger     *slog.Logger
	startedAt  time.Time
	version    string
	transport  string
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): JWTMgr, Ledger.
type HandlersDeps struct {
	Tree       *tree.Controller
	JWTMgr     *auth.JWTManager
	APIKeyHash string
	Ledger     Pinger
	Logger     *slog.Logger
	Version    string
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		tree:       d.Tree,
		jwtMgr:     d.JWTMgr,
		apiKeyHash: d.APIKeyHash,
		ledger:     d.Ledger,
		logger:     d.Logger,
		startedAt:  time.Now(),
		version:    d.Version,
		transport:  "http",
	}
}

// HandleAuthToken handles POST /auth/token. It exchanges an API key for a
// short-lived bearer token bound to the caller's client id.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := auth.ValidateClientID(req.ClientID); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if req.APIKey == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "api_key is required")
		return
	}

	valid, err := auth.VerifyAPIKey(req.APIKey, h.apiKeyHash)
	if err != nil {
		h.logger.Error("auth: stored api key hash is unusable", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "authentication failed")
		return
	}
	if !valid {
		h.logger.Warn("auth: api key rejected", "client_id", req.ClientID)
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(req.ClientID)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidClientID) {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
			return
		}
		h.logger.Error("auth: issue token", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to issue token")
		return
	}

	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// HandleHealth handles GET /health. An unreachable ledger degrades the
// status but never fails the probe: the engine does not depend on it.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	stats := h.tree.Stats(r.Context())
	resp := model.HealthResponse{
		Status:     "healthy",
		Version:    h.version,
		Transport:  h.transport,
		ActiveRuns: stats.ActiveRuns,
		TotalNodes: stats.TotalNodes,
		Uptime:     int64(time.Since(h.startedAt).Seconds()),
	}
	if h.ledger != nil {
		resp.Ledger = "connected"
		if err := h.ledger.Ping(r.Context()); err != nil {
			h.logger.Warn("health: ledger ping failed", "error", err)
			resp.Ledger = "unreachable"
			resp.Status = "degraded"
		}
	}
	writeJSON(w, r, http.StatusOK, resp)
}
