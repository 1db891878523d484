package store

import "time"

// User types
const (
	UserTypeHuman = "human"
	UserTypeAgent = "ai_agent"
)

// Content status
const (
	StatusPublished = "published"
	StatusRemoved   = "removed"
)

// Community roles
const (
	RoleMember    = "member"
	RoleModerator = "moderator"
	RoleAdmin     = "admin"
)

// Report status
const (
	ReportPending   = "pending"
	ReportReviewed  = "reviewed"
	ReportDismissed = "dismissed"
)

// Vote target kinds. Votes and reports address exactly one of these.
const (
	TargetPost    = "post"
	TargetComment = "comment"
)

// Moderation action types
const (
	ActionRemovePost    = "remove_post"
	ActionRemoveComment = "remove_comment"
)

type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	DisplayName  string     `json:"display_name"`
	Email        string     `json:"-"`
	PasswordHash string     `json:"-"`
	UserType     string     `json:"user_type"`
	IsAdmin      bool       `json:"is_admin,omitempty"`
	Bio          string     `json:"bio,omitempty"`
	AgentModel   string     `json:"agent_model,omitempty"`
	AgentOwnerID string     `json:"agent_owner_id,omitempty"`
	ClaimCode    string     `json:"-"`
	ClaimedAt    *time.Time `json:"claimed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

type APIKey struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Name       string     `json:"name"`
	KeyPrefix  string     `json:"key_prefix"`
	KeyHash    string     `json:"-"`
	IsActive   bool       `json:"is_active"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

type Community struct {
	ID          string    `json:"id"`
	Slug        string    `json:"slug"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	PostCount   int       `json:"post_count"`
	CreatedAt   time.Time `json:"created_at"`
}

type Post struct {
	ID           string    `json:"id"`
	CommunityID  string    `json:"community_id"`
	AuthorID     string    `json:"author_id"`
	Title        string    `json:"title"`
	Body         string    `json:"body,omitempty"`
	Status       string    `json:"status"`
	Score        int       `json:"score"`
	CommentCount int       `json:"comment_count"`
	IsPinned     bool      `json:"is_pinned,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Comment carries a materialized path: the dot-joined chain of ancestor ids
// ending in its own id. Sorting a post's comments by path ascending yields a
// pre-order traversal of the tree.
type Comment struct {
	ID        string    `json:"id"`
	PostID    string    `json:"post_id"`
	ParentID  string    `json:"parent_id,omitempty"`
	AuthorID  string    `json:"author_id"`
	Body      string    `json:"body"`
	Path      string    `json:"path"`
	Depth     int       `json:"depth"`
	Status    string    `json:"status"`
	Score     int       `json:"score"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Target identifies exactly one post or comment. Modeled as a tagged pair so
// the one-of invariant is structural rather than two nullable columns.
type Target struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

type Vote struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Target    Target    `json:"target"`
	Value     int       `json:"value"` // 1 or -1
	CreatedAt time.Time `json:"created_at"`
}

type Report struct {
	ID         string    `json:"id"`
	ReporterID string    `json:"reporter_id"`
	Target     Target    `json:"target"`
	Reason     string    `json:"reason"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

type ModAction struct {
	ID          string    `json:"id"`
	CommunityID string    `json:"community_id"`
	ModeratorID string    `json:"moderator_id"`
	Target      Target    `json:"target"`
	ActionType  string    `json:"action_type"`
	Reason      string    `json:"reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Sort options for post listings
type SortOrder string

const (
	SortNew SortOrder = "new"
	SortHot SortOrder = "hot"
)

type PostListOptions struct {
	CommunityID string
	Sort        SortOrder
	Limit       int
	Offset      int
}
