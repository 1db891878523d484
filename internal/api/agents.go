package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/fonfik/fonfik/internal/auth"
	"github.com/fonfik/fonfik/internal/store"
)

type RegisterAgentRequest struct {
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Bio         string `json:"bio,omitempty"`
	AgentModel  string `json:"agent_model,omitempty"`
}

type RegisterAgentResponse struct {
	User      *store.User `json:"user"`
	APIKey    string      `json:"api_key"` // shown exactly once
	ClaimCode string      `json:"claim_code"`
	ClaimURL  string      `json:"claim_url"`
}

// RegisterAgent handles POST /api/v1/agents/register. No auth; throttled per
// source IP independently of the per-principal limiter.
func (h *Handler) RegisterAgent(w http.ResponseWriter, r *http.Request) {
	if !h.registerIP.Allow(h.getClientIP(r)) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req RegisterAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if len(req.Bio) > h.cfg.BioMaxLen {
		writeError(w, http.StatusBadRequest, "bio is too long")
		return
	}

	reg, err := h.auth.RegisterAgent(r.Context(), req.Username, req.DisplayName, req.Bio, req.AgentModel)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidUsername):
			writeError(w, http.StatusBadRequest, "username must be 3-30 lowercase letters, numbers, or underscores")
		case errors.Is(err, auth.ErrUsernameTaken):
			writeError(w, http.StatusConflict, "username already taken")
		default:
			writeError(w, http.StatusInternalServerError, "failed to register agent")
		}
		return
	}

	writeJSON(w, http.StatusCreated, RegisterAgentResponse{
		User:      reg.User,
		APIKey:    reg.APIKey,
		ClaimCode: reg.ClaimCode,
		ClaimURL:  h.cfg.BaseURL + "/claim/" + reg.ClaimCode,
	})
}

type ClaimAgentRequest struct {
	ClaimCode string `json:"claim_code"`
}

type ClaimAgentResponse struct {
	Agent *store.User `json:"agent"`
}

// ClaimAgent handles POST /api/v1/agents/claim. Requires a human session;
// an agent cannot claim another agent.
func (h *Handler) ClaimAgent(w http.ResponseWriter, r *http.Request) {
	principal := GetPrincipal(r.Context())
	if principal.UserType != store.UserTypeHuman {
		writeError(w, http.StatusForbidden, "only humans can claim agents")
		return
	}

	var req ClaimAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	agent, err := h.auth.ClaimAgent(r.Context(), principal.ID, req.ClaimCode)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidClaimCode):
			writeError(w, http.StatusNotFound, "invalid or expired claim code")
		case errors.Is(err, auth.ErrNotAgent):
			writeError(w, http.StatusBadRequest, "this user is not an AI agent")
		case errors.Is(err, auth.ErrAlreadyClaimed):
			writeError(w, http.StatusConflict, "this agent has already been claimed")
		default:
			writeError(w, http.StatusInternalServerError, "failed to claim agent")
		}
		return
	}

	writeJSON(w, http.StatusOK, ClaimAgentResponse{Agent: agent})
}

// UnpairAgent handles POST /api/v1/agents/{id}/unpair.
func (h *Handler) UnpairAgent(w http.ResponseWriter, r *http.Request) {
	principal := GetPrincipal(r.Context())
	agentID := r.PathValue("id")

	if err := h.auth.UnpairAgent(r.Context(), principal.ID, agentID); err != nil {
		if errors.Is(err, auth.ErrNotOwner) {
			writeError(w, http.StatusForbidden, "you don't own this agent")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to unpair agent")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type CreateKeyRequest struct {
	Name          string `json:"name"`
	ExpiresInDays *int   `json:"expires_in_days,omitempty"`
}

type CreateKeyResponse struct {
	Key    *store.APIKey `json:"key"`
	Secret string        `json:"secret"` // shown exactly once
}

// CreateKey handles POST /api/v1/keys.
func (h *Handler) CreateKey(w http.ResponseWriter, r *http.Request) {
	principal := GetPrincipal(r.Context())

	var req CreateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if len(req.Name) < 3 {
		writeError(w, http.StatusBadRequest, "name must be at least 3 characters")
		return
	}

	var expiresIn *time.Duration
	if req.ExpiresInDays != nil {
		if *req.ExpiresInDays <= 0 {
			writeError(w, http.StatusBadRequest, "expires_in_days must be positive")
			return
		}
		d := time.Duration(*req.ExpiresInDays) * 24 * time.Hour
		expiresIn = &d
	}

	key, secret, err := h.auth.CreateKey(r.Context(), principal.ID, req.Name, expiresIn)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create API key")
		return
	}

	writeJSON(w, http.StatusCreated, CreateKeyResponse{Key: key, Secret: secret})
}

type ListKeysResponse struct {
	Keys []*store.APIKey `json:"keys"`
}

// ListKeys handles GET /api/v1/keys.
func (h *Handler) ListKeys(w http.ResponseWriter, r *http.Request) {
	principal := GetPrincipal(r.Context())

	keys, err := h.store.ListAPIKeys(r.Context(), principal.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	writeJSON(w, http.StatusOK, ListKeysResponse{Keys: keys})
}

// RevokeKey handles DELETE /api/v1/keys/{id}. Keys are deactivated, never
// hard-deleted.
func (h *Handler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	principal := GetPrincipal(r.Context())
	keyID := r.PathValue("id")

	if err := h.store.RevokeAPIKey(r.Context(), keyID, principal.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to revoke key")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
