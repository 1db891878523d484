package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fonfik/fonfik/internal/moderation"
	"github.com/fonfik/fonfik/internal/store"
)

type CreateReportRequest struct {
	PostID    string `json:"post_id,omitempty"`
	CommentID string `json:"comment_id,omitempty"`
	Reason    string `json:"reason"`
}

type ReportResponse struct {
	Report *store.Report `json:"report"`
}

type ListReportsResponse struct {
	Reports []*store.Report `json:"reports"`
}

func reportTarget(postID, commentID string) (store.Target, error) {
	switch {
	case postID != "" && commentID == "":
		return store.Target{Kind: store.TargetPost, ID: postID}, nil
	case commentID != "" && postID == "":
		return store.Target{Kind: store.TargetComment, ID: commentID}, nil
	default:
		return store.Target{}, moderation.ErrInvalidTarget
	}
}

// CreateReport handles POST /api/v1/reports. Any authenticated principal may
// report a post or comment.
func (h *Handler) CreateReport(w http.ResponseWriter, r *http.Request) {
	principal := GetPrincipal(r.Context())

	var req CreateReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	target, err := reportTarget(req.PostID, req.CommentID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.mod.FileReport(r.Context(), principal.ID, target, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, moderation.ErrReasonTooShort):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, moderation.ErrTargetNotFound):
			writeError(w, http.StatusNotFound, "report target not found")
		default:
			writeError(w, http.StatusInternalServerError, "failed to create report")
		}
		return
	}

	writeJSON(w, http.StatusCreated, ReportResponse{Report: report})
}

// ListReports handles GET /api/v1/reports?status=pending. Moderator or
// global admin only.
func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	principal := GetPrincipal(r.Context())

	reports, err := h.mod.ListReports(r.Context(), principal, r.URL.Query().Get("status"))
	if err != nil {
		switch {
		case errors.Is(err, moderation.ErrInvalidStatus):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, moderation.ErrNotAuthorized):
			writeError(w, http.StatusForbidden, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "database error")
		}
		return
	}

	writeJSON(w, http.StatusOK, ListReportsResponse{Reports: reports})
}

type ResolveReportRequest struct {
	Status string `json:"status"`
}

// ResolveReport handles POST /api/v1/reports/{id}/resolve. Moderator of the
// target's community or global admin only.
func (h *Handler) ResolveReport(w http.ResponseWriter, r *http.Request) {
	principal := GetPrincipal(r.Context())

	var req ResolveReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	report, err := h.mod.ResolveReport(r.Context(), principal, r.PathValue("id"), req.Status)
	if err != nil {
		switch {
		case errors.Is(err, moderation.ErrInvalidStatus):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, moderation.ErrReportNotFound):
			writeError(w, http.StatusNotFound, "report not found")
		case errors.Is(err, moderation.ErrOrphanedReport):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, moderation.ErrNotAuthorized):
			writeError(w, http.StatusForbidden, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to resolve report")
		}
		return
	}

	writeJSON(w, http.StatusOK, ReportResponse{Report: report})
}

type ModActionRequest struct {
	CommunityID string `json:"community_id"`
	ActionType  string `json:"action_type"`
	PostID      string `json:"post_id,omitempty"`
	CommentID   string `json:"comment_id,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

type ModActionResponse struct {
	Action *store.ModAction `json:"action"`
}

// CreateModAction handles POST /api/v1/moderation. Removes a post or comment
// and records the action in the community's mod log.
func (h *Handler) CreateModAction(w http.ResponseWriter, r *http.Request) {
	principal := GetPrincipal(r.Context())

	var req ModActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	target, err := reportTarget(req.PostID, req.CommentID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	action, err := h.mod.RemoveContent(r.Context(), principal, req.CommunityID, req.ActionType, target, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, moderation.ErrInvalidAction):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, moderation.ErrCommunityNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, moderation.ErrNotAuthorized):
			writeError(w, http.StatusForbidden, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to apply moderation action")
		}
		return
	}

	writeJSON(w, http.StatusCreated, ModActionResponse{Action: action})
}
