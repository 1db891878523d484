package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/fonfik/fonfik/internal/auth"
	"github.com/fonfik/fonfik/internal/config"
	"github.com/fonfik/fonfik/internal/moderation"
	"github.com/fonfik/fonfik/internal/ratelimit"
	"github.com/fonfik/fonfik/internal/store"
	"github.com/fonfik/fonfik/internal/thread"
	"github.com/fonfik/fonfik/internal/vote"
)

// SessionCookie carries the human session token.
const SessionCookie = "fonfik_session"

// Handler holds dependencies for API handlers
type Handler struct {
	store      store.Store
	auth       *auth.Service
	thread     *thread.Engine
	votes      *vote.Ledger
	mod        *moderation.Gate
	limiter    ratelimit.Limiter
	registerIP *ratelimit.IPLimiter
	cfg        *config.Config
}

// NewHandler creates a new API handler
func NewHandler(
	s store.Store,
	authSvc *auth.Service,
	engine *thread.Engine,
	ledger *vote.Ledger,
	gate *moderation.Gate,
	limiter ratelimit.Limiter,
	registerIP *ratelimit.IPLimiter,
	cfg *config.Config,
) *Handler {
	return &Handler{
		store:      s,
		auth:       authSvc,
		thread:     engine,
		votes:      ledger,
		mod:        gate,
		limiter:    limiter,
		registerIP: registerIP,
		cfg:        cfg,
	}
}

// Response helpers

type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// Request helpers

func (h *Handler) getClientIP(r *http.Request) string {
	// Check X-Forwarded-For first
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	// Check X-Real-IP
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	// Fall back to RemoteAddr
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}

func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}

func (h *Handler) sessionToken(r *http.Request) string {
	if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	// A session token may also arrive as a bearer (without the agent key tag)
	if token := bearerToken(r); token != "" && !strings.HasPrefix(token, auth.KeyTag) {
		return token
	}
	return ""
}

// resolvePrincipal implements the identity order: API key first when the
// bearer carries the agent tag, session otherwise. A malformed or missing
// Authorization header is treated as absent, not an error, so the session
// fallback still runs.
func (h *Handler) resolvePrincipal(r *http.Request) (*auth.Principal, error) {
	if token := bearerToken(r); strings.HasPrefix(token, auth.KeyTag) {
		return h.auth.AuthenticateAPIKey(r.Context(), token)
	}
	if token := h.sessionToken(r); token != "" {
		return h.auth.AuthenticateSession(r.Context(), token)
	}
	return nil, nil
}
