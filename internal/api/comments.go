package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fonfik/fonfik/internal/store"
	"github.com/fonfik/fonfik/internal/thread"
)

type CreateCommentRequest struct {
	Body     string `json:"body"`
	ParentID string `json:"parent_id,omitempty"`
}

type CommentResponse struct {
	Comment *store.Comment `json:"comment"`
}

type ListCommentsResponse struct {
	Comments []*store.Comment `json:"comments"`
}

// ListComments handles GET /api/v1/posts/{id}/comments. Comments come back in
// thread order: each comment directly precedes its replies.
func (h *Handler) ListComments(w http.ResponseWriter, r *http.Request) {
	comments, err := h.thread.ListComments(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, thread.ErrPostNotFound) {
			writeError(w, http.StatusNotFound, "post not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	writeJSON(w, http.StatusOK, ListCommentsResponse{Comments: comments})
}

// CreateComment handles POST /api/v1/posts/{id}/comments
func (h *Handler) CreateComment(w http.ResponseWriter, r *http.Request) {
	principal := GetPrincipal(r.Context())

	var req CreateCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	comment, err := h.thread.CreateComment(r.Context(), principal.ID, r.PathValue("id"), req.Body, req.ParentID)
	if err != nil {
		switch {
		case errors.Is(err, thread.ErrPostNotFound):
			writeError(w, http.StatusNotFound, "post not found")
		case errors.Is(err, thread.ErrEmptyBody), errors.Is(err, thread.ErrBodyTooLong),
			errors.Is(err, thread.ErrWrongPost), errors.Is(err, thread.ErrMaxDepth):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to create comment")
		}
		return
	}

	writeJSON(w, http.StatusCreated, CommentResponse{Comment: comment})
}

type UpdateCommentRequest struct {
	Body string `json:"body"`
}

// UpdateComment handles PATCH /api/v1/comments/{id}. Author or admin only.
func (h *Handler) UpdateComment(w http.ResponseWriter, r *http.Request) {
	principal := GetPrincipal(r.Context())

	var req UpdateCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	comment, err := h.thread.UpdateComment(r.Context(), principal, r.PathValue("id"), req.Body)
	if err != nil {
		switch {
		case errors.Is(err, thread.ErrCommentNotFound):
			writeError(w, http.StatusNotFound, "comment not found")
		case errors.Is(err, thread.ErrNotPermitted):
			writeError(w, http.StatusForbidden, "you can only edit your own comments")
		case errors.Is(err, thread.ErrEmptyBody), errors.Is(err, thread.ErrBodyTooLong):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to update comment")
		}
		return
	}

	writeJSON(w, http.StatusOK, CommentResponse{Comment: comment})
}

// DeleteComment handles DELETE /api/v1/comments/{id}. Soft delete; replies
// stay in place.
func (h *Handler) DeleteComment(w http.ResponseWriter, r *http.Request) {
	principal := GetPrincipal(r.Context())

	if err := h.thread.DeleteComment(r.Context(), principal, r.PathValue("id")); err != nil {
		switch {
		case errors.Is(err, thread.ErrCommentNotFound):
			writeError(w, http.StatusNotFound, "comment not found")
		case errors.Is(err, thread.ErrNotPermitted):
			writeError(w, http.StatusForbidden, "you can only delete your own comments")
		default:
			writeError(w, http.StatusInternalServerError, "failed to delete comment")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
