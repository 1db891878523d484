package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/fonfik/fonfik/internal/store"
)

type CreatePostRequest struct {
	CommunitySlug string `json:"community_slug"`
	Title         string `json:"title"`
	Body          string `json:"body,omitempty"`
}

type PostResponse struct {
	Post *store.Post `json:"post"`
}

type ListPostsResponse struct {
	Posts      []*store.Post `json:"posts"`
	Pagination Pagination    `json:"pagination"`
}

type Pagination struct {
	Page   int `json:"page"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// ListPosts handles GET /api/v1/posts. Sort "hot" orders by score then
// recency; "new" (the default) by recency.
func (h *Handler) ListPosts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	page := 1
	if p, err := strconv.Atoi(query.Get("page")); err == nil && p > 1 {
		page = p
	}
	limit := h.cfg.PostsPerPage
	if l, err := strconv.Atoi(query.Get("limit")); err == nil && l >= 1 && l <= 50 {
		limit = l
	}

	opts := store.PostListOptions{
		Limit:  limit,
		Offset: (page - 1) * limit,
	}

	switch query.Get("sort") {
	case "hot":
		opts.Sort = store.SortHot
	default:
		opts.Sort = store.SortNew
	}

	if slug := query.Get("community"); slug != "" {
		community, err := h.store.GetCommunityBySlug(r.Context(), slug)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "database error")
			return
		}
		if community == nil {
			writeError(w, http.StatusNotFound, "community not found")
			return
		}
		opts.CommunityID = community.ID
	}

	posts, err := h.store.ListPosts(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	writeJSON(w, http.StatusOK, ListPostsResponse{
		Posts:      posts,
		Pagination: Pagination{Page: page, Limit: limit, Offset: opts.Offset},
	})
}

// CreatePost handles POST /api/v1/posts
func (h *Handler) CreatePost(w http.ResponseWriter, r *http.Request) {
	principal := GetPrincipal(r.Context())

	var req CreatePostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if len(req.Title) < h.cfg.TitleMinLen || len(req.Title) > h.cfg.TitleMaxLen {
		writeError(w, http.StatusBadRequest, "title length is out of range")
		return
	}
	if len(req.Body) > h.cfg.PostBodyMaxLen {
		writeError(w, http.StatusBadRequest, "body is too long")
		return
	}
	if req.CommunitySlug == "" {
		writeError(w, http.StatusBadRequest, "community_slug is required")
		return
	}

	community, err := h.store.GetCommunityBySlug(r.Context(), req.CommunitySlug)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if community == nil {
		writeError(w, http.StatusNotFound, "community not found")
		return
	}

	post := &store.Post{
		CommunityID: community.ID,
		AuthorID:    principal.ID,
		Title:       req.Title,
		Body:        req.Body,
	}

	if err := h.store.CreatePost(r.Context(), post); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create post")
		return
	}

	writeJSON(w, http.StatusCreated, PostResponse{Post: post})
}

// GetPost handles GET /api/v1/posts/{id}
func (h *Handler) GetPost(w http.ResponseWriter, r *http.Request) {
	post, err := h.store.GetPost(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if post == nil || post.Status != store.StatusPublished {
		writeError(w, http.StatusNotFound, "post not found")
		return
	}

	writeJSON(w, http.StatusOK, PostResponse{Post: post})
}

type UpdatePostRequest struct {
	Title *string `json:"title,omitempty"`
	Body  *string `json:"body,omitempty"`
}

// UpdatePost handles PATCH /api/v1/posts/{id}. Author or admin only.
func (h *Handler) UpdatePost(w http.ResponseWriter, r *http.Request) {
	principal := GetPrincipal(r.Context())

	post, err := h.store.GetPost(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if post == nil || post.Status != store.StatusPublished {
		writeError(w, http.StatusNotFound, "post not found")
		return
	}
	if !principal.CanMutate(post.AuthorID) {
		writeError(w, http.StatusForbidden, "you can only edit your own posts")
		return
	}

	var req UpdatePostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	title := post.Title
	if req.Title != nil {
		title = *req.Title
	}
	body := post.Body
	if req.Body != nil {
		body = *req.Body
	}

	if len(title) < h.cfg.TitleMinLen || len(title) > h.cfg.TitleMaxLen {
		writeError(w, http.StatusBadRequest, "title length is out of range")
		return
	}
	if len(body) > h.cfg.PostBodyMaxLen {
		writeError(w, http.StatusBadRequest, "body is too long")
		return
	}

	if err := h.store.UpdatePost(r.Context(), post.ID, title, body); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update post")
		return
	}

	post.Title = title
	post.Body = body
	writeJSON(w, http.StatusOK, PostResponse{Post: post})
}

// DeletePost handles DELETE /api/v1/posts/{id}. Soft delete; author or admin
// only.
func (h *Handler) DeletePost(w http.ResponseWriter, r *http.Request) {
	principal := GetPrincipal(r.Context())

	post, err := h.store.GetPost(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if post == nil || post.Status != store.StatusPublished {
		writeError(w, http.StatusNotFound, "post not found")
		return
	}
	if !principal.CanMutate(post.AuthorID) {
		writeError(w, http.StatusForbidden, "you can only delete your own posts")
		return
	}

	if err := h.store.SetPostStatus(r.Context(), post.ID, store.StatusRemoved); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete post")
		return
	}
	if err := h.store.UpdateCommunityPostCount(r.Context(), post.CommunityID, -1); err != nil {
		log.Printf("Failed to update post count for community %s: %v", post.CommunityID, err)
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
