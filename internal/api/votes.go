package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fonfik/fonfik/internal/store"
	"github.com/fonfik/fonfik/internal/vote"
)

type VoteRequest struct {
	PostID    string `json:"post_id,omitempty"`
	CommentID string `json:"comment_id,omitempty"`
	Value     string `json:"value"`
}

// target maps the request's post_id/comment_id pair onto a vote target,
// rejecting anything but exactly one of the two.
func (req *VoteRequest) target() (store.Target, error) {
	switch {
	case req.PostID != "" && req.CommentID == "":
		return store.Target{Kind: store.TargetPost, ID: req.PostID}, nil
	case req.CommentID != "" && req.PostID == "":
		return store.Target{Kind: store.TargetComment, ID: req.CommentID}, nil
	default:
		return store.Target{}, vote.ErrInvalidTarget
	}
}

// CastVote handles POST /api/v1/votes. Voting the same value twice removes
// the vote; voting the opposite value switches it.
func (h *Handler) CastVote(w http.ResponseWriter, r *http.Request) {
	principal := GetPrincipal(r.Context())

	var req VoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	target, err := req.target()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	outcome, err := h.votes.Cast(r.Context(), principal.ID, target, req.Value)
	if err != nil {
		switch {
		case errors.Is(err, vote.ErrInvalidValue):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, vote.ErrTargetNotFound):
			writeError(w, http.StatusNotFound, "vote target not found")
		default:
			writeError(w, http.StatusInternalServerError, "failed to record vote")
		}
		return
	}

	writeJSON(w, http.StatusOK, outcome)
}
