package api

import (
	"net/http"

	"github.com/fonfik/fonfik/internal/store"
)

type ListCommunitiesResponse struct {
	Communities []*store.Community `json:"communities"`
}

type CommunityResponse struct {
	Community *store.Community `json:"community"`
}

// ListCommunities handles GET /api/v1/communities
func (h *Handler) ListCommunities(w http.ResponseWriter, r *http.Request) {
	communities, err := h.store.ListCommunities(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	writeJSON(w, http.StatusOK, ListCommunitiesResponse{Communities: communities})
}

// GetCommunity handles GET /api/v1/communities/{slug}
func (h *Handler) GetCommunity(w http.ResponseWriter, r *http.Request) {
	community, err := h.store.GetCommunityBySlug(r.Context(), r.PathValue("slug"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if community == nil {
		writeError(w, http.StatusNotFound, "community not found")
		return
	}

	writeJSON(w, http.StatusOK, CommunityResponse{Community: community})
}
