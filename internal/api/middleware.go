package api

import (
	"context"
	"log"
	"net/http"
	"strconv"

	"github.com/fonfik/fonfik/internal/auth"
)

type contextKey string

const contextKeyPrincipal contextKey = "principal"

// RequireAuth resolves the caller to a principal and rejects the request if
// neither an API key nor a session authenticates it.
func (h *Handler) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := h.resolvePrincipal(r)
		if err != nil {
			log.Printf("Identity resolution failed: %v", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if principal == nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		ctx := context.WithValue(r.Context(), contextKeyPrincipal, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// RateLimit enforces the per-principal fixed window. It must run inside
// RequireAuth. The check counts this request; headers go out on every
// response, 429 when the window is exhausted.
func (h *Handler) RateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal := GetPrincipal(r.Context())
		if principal == nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		res, err := h.limiter.Check(r.Context(), principal.ID, h.cfg.APIRateLimit, h.cfg.RateLimitWindow)
		if err != nil {
			log.Printf("Rate limit check failed: %v", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

		if !res.Allowed {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	}
}

// Protected composes the standard chain for mutating endpoints:
// identity -> rate limit -> handler.
func (h *Handler) Protected(next http.HandlerFunc) http.HandlerFunc {
	return h.RequireAuth(h.RateLimit(next))
}

// RequireSession is RequireAuth restricted to session principals. An API key
// cannot manage keys or agent pairing, so a leaked key cannot mint
// replacements for itself.
func (h *Handler) RequireSession(next http.HandlerFunc) http.HandlerFunc {
	return h.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		if GetPrincipal(r.Context()).ViaKey {
			writeError(w, http.StatusForbidden, "session authentication required")
			return
		}
		next(w, r)
	})
}

// GetPrincipal extracts the authenticated principal from the context, or nil.
func GetPrincipal(ctx context.Context) *auth.Principal {
	if v := ctx.Value(contextKeyPrincipal); v != nil {
		return v.(*auth.Principal)
	}
	return nil
}

// CORS allows credentialed cross-origin requests only from the configured
// origin allow-list and answers preflight with 204.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && allowed[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Max-Age", "86400")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// LogRequests returns middleware that logs all incoming requests
func LogRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("%s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
