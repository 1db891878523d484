package thread

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/fonfik/fonfik/internal/auth"
	"github.com/fonfik/fonfik/internal/store"
)

var (
	ErrPostNotFound    = errors.New("post not found")
	ErrCommentNotFound = errors.New("comment not found")
	ErrEmptyBody       = errors.New("comment body is required")
	ErrBodyTooLong     = errors.New("comment body is too long")
	ErrWrongPost       = errors.New("parent comment is from a different post")
	ErrMaxDepth        = errors.New("maximum comment depth reached")
	ErrNotPermitted    = errors.New("not permitted")
)

// PathSeparator joins comment ids into a materialized path. "." sorts below
// the id alphabet, so a parent's path is a strict lexicographic prefix of
// every descendant's.
const PathSeparator = "."

// Engine creates, orders, and soft-deletes threaded comments.
type Engine struct {
	store      store.Store
	maxDepth   int
	maxBodyLen int
}

func NewEngine(s store.Store, maxDepth, maxBodyLen int) *Engine {
	return &Engine{
		store:      s,
		maxDepth:   maxDepth,
		maxBodyLen: maxBodyLen,
	}
}

// CreateComment inserts a comment under postID, optionally as a reply to
// parentID. The comment's path extends its parent's path with a freshly
// generated id; a reply whose parent has vanished (deleted between read and
// submit) is demoted to a root comment rather than rejected, so the write
// still lands attributed and visible.
func (e *Engine) CreateComment(ctx context.Context, authorID, postID, body, parentID string) (*store.Comment, error) {
	if body == "" {
		return nil, ErrEmptyBody
	}
	if len(body) > e.maxBodyLen {
		return nil, ErrBodyTooLong
	}

	post, err := e.store.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post == nil || post.Status != store.StatusPublished {
		return nil, ErrPostNotFound
	}

	id := uuid.New().String()
	path := id
	depth := 0

	if parentID != "" {
		parent, err := e.store.GetComment(ctx, parentID)
		if err != nil {
			return nil, err
		}
		if parent != nil && parent.PostID != postID {
			return nil, ErrWrongPost
		}
		if parent != nil && parent.Status == store.StatusPublished {
			if parent.Depth >= e.maxDepth {
				return nil, ErrMaxDepth
			}
			path = parent.Path + PathSeparator + id
			depth = parent.Depth + 1
		}
		// Missing or removed parent: fall through as a root comment.
	}

	comment := &store.Comment{
		ID:       id,
		PostID:   postID,
		ParentID: parentID,
		AuthorID: authorID,
		Body:     body,
		Path:     path,
		Depth:    depth,
		Status:   store.StatusPublished,
	}

	if err := e.store.CreateComment(ctx, comment); err != nil {
		return nil, err
	}

	return comment, nil
}

// ListComments returns a post's published comments ordered by path ascending,
// which is a pre-order traversal: each parent sorts immediately before its
// subtree. Siblings order by id (uuids are not time-ordered), not by creation
// time.
func (e *Engine) ListComments(ctx context.Context, postID string) ([]*store.Comment, error) {
	post, err := e.store.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post == nil || post.Status != store.StatusPublished {
		return nil, ErrPostNotFound
	}

	return e.store.ListComments(ctx, postID)
}

// UpdateComment edits a comment's body. Author or admin only.
func (e *Engine) UpdateComment(ctx context.Context, principal *auth.Principal, commentID, body string) (*store.Comment, error) {
	if body == "" {
		return nil, ErrEmptyBody
	}
	if len(body) > e.maxBodyLen {
		return nil, ErrBodyTooLong
	}

	comment, err := e.store.GetComment(ctx, commentID)
	if err != nil {
		return nil, err
	}
	if comment == nil || comment.Status != store.StatusPublished {
		return nil, ErrCommentNotFound
	}
	if !principal.CanMutate(comment.AuthorID) {
		return nil, ErrNotPermitted
	}

	if err := e.store.UpdateComment(ctx, commentID, body); err != nil {
		return nil, err
	}

	comment.Body = body
	return comment, nil
}

// DeleteComment soft-deletes a comment. Descendants keep their path and depth
// and stay independently readable; nothing is renumbered or reparented.
func (e *Engine) DeleteComment(ctx context.Context, principal *auth.Principal, commentID string) error {
	comment, err := e.store.GetComment(ctx, commentID)
	if err != nil {
		return err
	}
	if comment == nil || comment.Status != store.StatusPublished {
		return ErrCommentNotFound
	}
	if !principal.CanMutate(comment.AuthorID) {
		return ErrNotPermitted
	}

	return e.store.SetCommentStatus(ctx, commentID, store.StatusRemoved)
}
