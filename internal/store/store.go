package store

import (
	"context"
	"time"
)

// Store defines the interface for data persistence
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByClaimCode(ctx context.Context, code string) (*User, error)
	UpdateUserProfile(ctx context.Context, id, displayName, bio string) error
	ClaimAgent(ctx context.Context, agentID, ownerID string) error
	UnpairAgent(ctx context.Context, agentID string) error

	// API keys
	CreateAPIKey(ctx context.Context, key *APIKey) error
	GetAPIKeyByPrefix(ctx context.Context, prefix string) (*APIKey, error) // active keys only
	ListAPIKeys(ctx context.Context, userID string) ([]*APIKey, error)
	RevokeAPIKey(ctx context.Context, id, userID string) error
	TouchAPIKey(ctx context.Context, prefix string, at time.Time) error

	// Sessions
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, token string) (*Session, error) // unexpired only
	DeleteSession(ctx context.Context, token string) error
	DeleteExpiredSessions(ctx context.Context) error

	// Communities
	ListCommunities(ctx context.Context) ([]*Community, error)
	GetCommunity(ctx context.Context, id string) (*Community, error)
	GetCommunityBySlug(ctx context.Context, slug string) (*Community, error)
	UpdateCommunityPostCount(ctx context.Context, id string, delta int) error
	GetMemberRole(ctx context.Context, communityID, userID string) (string, error) // "" if not a member
	ListModeratedCommunities(ctx context.Context, userID string) ([]string, error) // moderator or admin memberships

	// Posts
	CreatePost(ctx context.Context, post *Post) error
	GetPost(ctx context.Context, id string) (*Post, error) // any status; callers filter
	ListPosts(ctx context.Context, opts PostListOptions) ([]*Post, error)
	UpdatePost(ctx context.Context, id, title, body string) error
	SetPostStatus(ctx context.Context, id, status string) error

	// Comments. CreateComment also increments the post's comment_count in the
	// same transaction.
	CreateComment(ctx context.Context, comment *Comment) error
	GetComment(ctx context.Context, id string) (*Comment, error) // any status; callers filter
	ListComments(ctx context.Context, postID string) ([]*Comment, error)
	UpdateComment(ctx context.Context, id, body string) error
	SetCommentStatus(ctx context.Context, id, status string) error

	// Votes. Each mutation applies its score delta to the target in the same
	// transaction, so stored scores always match the sum of vote rows.
	GetVote(ctx context.Context, userID string, target Target) (*Vote, error)
	CreateVote(ctx context.Context, vote *Vote) error
	RemoveVote(ctx context.Context, vote *Vote) error
	SwitchVote(ctx context.Context, vote *Vote, newValue int) error

	// Reports
	CreateReport(ctx context.Context, report *Report) error
	GetReport(ctx context.Context, id string) (*Report, error)
	ListReports(ctx context.Context, status string) ([]*Report, error)
	SetReportStatus(ctx context.Context, id, status string) error

	// Moderation audit log
	CreateModAction(ctx context.Context, action *ModAction) error

	// Rate limiting. Increments the fixed-window counter for key, starting a
	// new window at now+window if none is live, and returns the post-increment
	// count with the window's reset time.
	IncrementRateWindow(ctx context.Context, key string, window time.Duration) (count int, resetAt time.Time, err error)

	// Lifecycle
	Close() error
}
