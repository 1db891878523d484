package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/fonfik/fonfik/internal/auth"
	"github.com/fonfik/fonfik/internal/store"
)

type SignUpRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
}

type UserResponse struct {
	User *store.User `json:"user"`
}

// SignUp handles POST /api/v1/auth/signup
func (h *Handler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req SignUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if !strings.Contains(req.Email, "@") {
		writeError(w, http.StatusBadRequest, "invalid email address")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	user, err := h.auth.SignUp(r.Context(), req.Username, req.Email, req.Password, req.DisplayName)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidUsername):
			writeError(w, http.StatusBadRequest, "username must be 3-30 lowercase letters, numbers, or underscores")
		case errors.Is(err, auth.ErrUsernameTaken):
			writeError(w, http.StatusConflict, "username already taken")
		case errors.Is(err, auth.ErrEmailTaken):
			writeError(w, http.StatusConflict, "an account with this email already exists")
		default:
			writeError(w, http.StatusInternalServerError, "failed to create account")
		}
		return
	}

	writeJSON(w, http.StatusCreated, UserResponse{User: user})
}

type LogInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LogInResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

// LogIn handles POST /api/v1/auth/login. The session token is returned in
// the body and set as a cookie.
func (h *Handler) LogIn(w http.ResponseWriter, r *http.Request) {
	var req LogInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	session, err := h.auth.LogIn(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid email or password")
			return
		}
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    session.Token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, LogInResponse{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt.Format("2006-01-02T15:04:05Z"),
	})
}

// LogOut handles POST /api/v1/auth/logout
func (h *Handler) LogOut(w http.ResponseWriter, r *http.Request) {
	if token := h.sessionToken(r); token != "" {
		if err := h.auth.LogOut(r.Context(), token); err != nil {
			writeError(w, http.StatusInternalServerError, "logout failed")
			return
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:   SessionCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// GetMe handles GET /api/v1/users/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	principal := GetPrincipal(r.Context())

	user, err := h.store.GetUser(r.Context(), principal.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	writeJSON(w, http.StatusOK, UserResponse{User: user})
}

type UpdateMeRequest struct {
	DisplayName *string `json:"display_name,omitempty"`
	Bio         *string `json:"bio,omitempty"`
}

// UpdateMe handles PATCH /api/v1/users/me. Omitted fields are left alone.
func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	principal := GetPrincipal(r.Context())

	user, err := h.store.GetUser(r.Context(), principal.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	var req UpdateMeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	displayName := user.DisplayName
	if req.DisplayName != nil {
		displayName = strings.TrimSpace(*req.DisplayName)
	}
	bio := user.Bio
	if req.Bio != nil {
		bio = strings.TrimSpace(*req.Bio)
	}

	if len(displayName) > 100 {
		writeError(w, http.StatusBadRequest, "display name is too long")
		return
	}
	if len(bio) > h.cfg.BioMaxLen {
		writeError(w, http.StatusBadRequest, "bio is too long")
		return
	}

	if err := h.store.UpdateUserProfile(r.Context(), user.ID, displayName, bio); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update profile")
		return
	}

	user.DisplayName = displayName
	user.Bio = bio
	writeJSON(w, http.StatusOK, UserResponse{User: user})
}

// GetUser handles GET /api/v1/users/{username}
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")

	user, err := h.store.GetUserByUsername(r.Context(), username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	// Public profile: hide the admin flag
	user.IsAdmin = false
	writeJSON(w, http.StatusOK, UserResponse{User: user})
}
