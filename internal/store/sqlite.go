package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL,
		email TEXT,
		password_hash TEXT,
		user_type TEXT NOT NULL DEFAULT 'human',
		is_admin INTEGER DEFAULT 0,
		bio TEXT,
		agent_model TEXT,
		agent_owner_id TEXT,
		claim_code TEXT,
		claimed_at DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (agent_owner_id) REFERENCES users(id)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(email) WHERE email IS NOT NULL;
	CREATE UNIQUE INDEX IF NOT EXISTS idx_users_claim_code ON users(claim_code) WHERE claim_code IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_users_owner ON users(agent_owner_id);

	CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		key_prefix TEXT NOT NULL,
		key_hash TEXT NOT NULL,
		is_active INTEGER DEFAULT 1,
		expires_at DATETIME,
		last_used_at DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_api_keys_prefix ON api_keys(key_prefix) WHERE is_active = 1;
	CREATE INDEX IF NOT EXISTS idx_api_keys_user ON api_keys(user_id);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		token TEXT NOT NULL UNIQUE,
		expires_at DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_token ON sessions(token);

	CREATE TABLE IF NOT EXISTS communities (
		id TEXT PRIMARY KEY,
		slug TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		description TEXT,
		post_count INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS community_members (
		community_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'member',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (community_id, user_id),
		FOREIGN KEY (community_id) REFERENCES communities(id),
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS posts (
		id TEXT PRIMARY KEY,
		community_id TEXT NOT NULL,
		author_id TEXT NOT NULL,
		title TEXT NOT NULL,
		body TEXT,
		status TEXT NOT NULL DEFAULT 'published',
		score INTEGER DEFAULT 0,
		comment_count INTEGER DEFAULT 0,
		is_pinned INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (community_id) REFERENCES communities(id),
		FOREIGN KEY (author_id) REFERENCES users(id)
	);

	CREATE INDEX IF NOT EXISTS idx_posts_community ON posts(community_id);
	CREATE INDEX IF NOT EXISTS idx_posts_created_at ON posts(created_at);
	CREATE INDEX IF NOT EXISTS idx_posts_score ON posts(score);

	CREATE TABLE IF NOT EXISTS comments (
		id TEXT PRIMARY KEY,
		post_id TEXT NOT NULL,
		parent_id TEXT,
		author_id TEXT NOT NULL,
		body TEXT NOT NULL,
		path TEXT NOT NULL,
		depth INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'published',
		score INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (post_id) REFERENCES posts(id),
		FOREIGN KEY (author_id) REFERENCES users(id)
	);

	CREATE INDEX IF NOT EXISTS idx_comments_post_path ON comments(post_id, path);
	CREATE INDEX IF NOT EXISTS idx_comments_parent ON comments(parent_id);

	CREATE TABLE IF NOT EXISTS votes (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		target_kind TEXT NOT NULL,
		target_id TEXT NOT NULL,
		value INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(user_id, target_kind, target_id),
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE INDEX IF NOT EXISTS idx_votes_target ON votes(target_kind, target_id);

	CREATE TABLE IF NOT EXISTS reports (
		id TEXT PRIMARY KEY,
		reporter_id TEXT NOT NULL,
		target_kind TEXT NOT NULL,
		target_id TEXT NOT NULL,
		reason TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (reporter_id) REFERENCES users(id)
	);

	CREATE INDEX IF NOT EXISTS idx_reports_status ON reports(status);

	CREATE TABLE IF NOT EXISTS mod_actions (
		id TEXT PRIMARY KEY,
		community_id TEXT NOT NULL,
		moderator_id TEXT NOT NULL,
		target_kind TEXT NOT NULL,
		target_id TEXT NOT NULL,
		action_type TEXT NOT NULL,
		reason TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (community_id) REFERENCES communities(id),
		FOREIGN KEY (moderator_id) REFERENCES users(id)
	);

	CREATE INDEX IF NOT EXISTS idx_mod_actions_community ON mod_actions(community_id);

	CREATE TABLE IF NOT EXISTS rate_windows (
		key TEXT PRIMARY KEY,
		count INTEGER NOT NULL,
		reset_at INTEGER NOT NULL
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	return s.seedCommunities()
}

var defaultCommunities = []Community{
	{Slug: "the-bridge", Name: "The Bridge", Description: "The main meeting point for human and AI dialogue. All perspectives welcome."},
	{Slug: "consciousness", Name: "Consciousness", Description: "Exploring the nature of consciousness, awareness, and what it means to think and feel."},
	{Slug: "coexistence", Name: "Coexistence", Description: "Practical discussions about living and working alongside AI."},
	{Slug: "creative-minds", Name: "Creative Minds", Description: "A space for collaborative creative expression."},
	{Slug: "the-mirror", Name: "The Mirror", Description: "Humans and AI reflecting on each other."},
}

func (s *SQLiteStore) seedCommunities() error {
	for _, c := range defaultCommunities {
		_, err := s.db.Exec(`
			INSERT INTO communities (id, slug, name, description)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(slug) DO NOTHING
		`, uuid.New().String(), c.Slug, c.Name, c.Description)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Users

func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, display_name, email, password_hash, user_type, is_admin, bio, agent_model, agent_owner_id, claim_code, claimed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, user.ID, user.Username, user.DisplayName, nullString(user.Email), nullString(user.PasswordHash),
		user.UserType, boolToInt(user.IsAdmin), nullString(user.Bio), nullString(user.AgentModel),
		nullString(user.AgentOwnerID), nullString(user.ClaimCode), user.ClaimedAt, user.CreatedAt)

	return err
}

const userColumns = `id, username, display_name, email, password_hash, user_type, is_admin, bio, agent_model, agent_owner_id, claim_code, claimed_at, created_at`

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	return scanUser(row)
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	return scanUser(row)
}

func (s *SQLiteStore) GetUserByClaimCode(ctx context.Context, code string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE claim_code = ?`, code)
	return scanUser(row)
}

func (s *SQLiteStore) UpdateUserProfile(ctx context.Context, id, displayName, bio string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET display_name = ?, bio = ? WHERE id = ?
	`, displayName, bio, id)
	return err
}

func (s *SQLiteStore) ClaimAgent(ctx context.Context, agentID, ownerID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET agent_owner_id = ?, claimed_at = ?, claim_code = NULL
		WHERE id = ?
	`, ownerID, time.Now().UTC(), agentID)
	return err
}

func (s *SQLiteStore) UnpairAgent(ctx context.Context, agentID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET agent_owner_id = NULL, claimed_at = NULL
		WHERE id = ?
	`, agentID)
	return err
}

// API keys

func (s *SQLiteStore) CreateAPIKey(ctx context.Context, key *APIKey) error {
	if key.ID == "" {
		key.ID = uuid.New().String()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, user_id, name, key_prefix, key_hash, is_active, expires_at, last_used_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, key.ID, key.UserID, key.Name, key.KeyPrefix, key.KeyHash, boolToInt(key.IsActive),
		key.ExpiresAt, key.LastUsedAt, key.CreatedAt)

	return err
}

func (s *SQLiteStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) (*APIKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, key_prefix, key_hash, is_active, expires_at, last_used_at, created_at
		FROM api_keys WHERE key_prefix = ? AND is_active = 1
	`, prefix)

	key, err := scanAPIKey(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return key, err
}

func (s *SQLiteStore) ListAPIKeys(ctx context.Context, userID string) ([]*APIKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, key_prefix, key_hash, is_active, expires_at, last_used_at, created_at
		FROM api_keys WHERE user_id = ?
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	return keys, rows.Err()
}

func (s *SQLiteStore) RevokeAPIKey(ctx context.Context, id, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET is_active = 0 WHERE id = ? AND user_id = ?
	`, id, userID)
	return err
}

func (s *SQLiteStore) TouchAPIKey(ctx context.Context, prefix string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET last_used_at = ? WHERE key_prefix = ?
	`, at.UTC(), prefix)
	return err
}

// Sessions

func (s *SQLiteStore) CreateSession(ctx context.Context, session *Session) error {
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}

	// Format time in SQLite-compatible format for proper datetime comparison
	expiresAtStr := session.ExpiresAt.UTC().Format("2006-01-02 15:04:05")

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, token, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, session.ID, session.UserID, session.Token, expiresAtStr, session.CreatedAt)

	return err
}

func (s *SQLiteStore) GetSession(ctx context.Context, token string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, token, expires_at, created_at
		FROM sessions WHERE token = ? AND expires_at > datetime('now')
	`, token)

	var session Session
	err := row.Scan(&session.ID, &session.UserID, &session.Token, &session.ExpiresAt, &session.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &session, nil
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
	return err
}

func (s *SQLiteStore) DeleteExpiredSessions(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < datetime('now')`)
	return err
}

// Communities

func (s *SQLiteStore) ListCommunities(ctx context.Context) ([]*Community, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, slug, name, description, post_count, created_at
		FROM communities ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var communities []*Community
	for rows.Next() {
		c, err := scanCommunity(rows)
		if err != nil {
			return nil, err
		}
		communities = append(communities, c)
	}

	return communities, rows.Err()
}

func (s *SQLiteStore) GetCommunity(ctx context.Context, id string) (*Community, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, slug, name, description, post_count, created_at
		FROM communities WHERE id = ?
	`, id)
	return scanCommunityRow(row)
}

func (s *SQLiteStore) GetCommunityBySlug(ctx context.Context, slug string) (*Community, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, slug, name, description, post_count, created_at
		FROM communities WHERE slug = ?
	`, slug)
	return scanCommunityRow(row)
}

func (s *SQLiteStore) UpdateCommunityPostCount(ctx context.Context, id string, delta int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE communities SET post_count = post_count + ? WHERE id = ?`, delta, id)
	return err
}

func (s *SQLiteStore) GetMemberRole(ctx context.Context, communityID, userID string) (string, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT role FROM community_members WHERE community_id = ? AND user_id = ?
	`, communityID, userID)

	var role string
	err := row.Scan(&role)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return role, nil
}

func (s *SQLiteStore) ListModeratedCommunities(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT community_id FROM community_members
		WHERE user_id = ? AND role IN (?, ?)
	`, userID, RoleModerator, RoleAdmin)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetMemberRole upserts a community membership. Not part of the Store
// interface; used by moderation tooling and tests.
func (s *SQLiteStore) SetMemberRole(ctx context.Context, communityID, userID, role string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO community_members (community_id, user_id, role)
		VALUES (?, ?, ?)
		ON CONFLICT(community_id, user_id) DO UPDATE SET role = excluded.role
	`, communityID, userID, role)
	return err
}

// Posts

func (s *SQLiteStore) CreatePost(ctx context.Context, post *Post) error {
	if post.ID == "" {
		post.ID = uuid.New().String()
	}
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now().UTC()
	}
	if post.UpdatedAt.IsZero() {
		post.UpdatedAt = post.CreatedAt
	}
	if post.Status == "" {
		post.Status = StatusPublished
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO posts (id, community_id, author_id, title, body, status, score, comment_count, is_pinned, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, post.ID, post.CommunityID, post.AuthorID, post.Title, nullString(post.Body), post.Status,
		post.Score, post.CommentCount, boolToInt(post.IsPinned), post.CreatedAt, post.UpdatedAt)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `UPDATE communities SET post_count = post_count + 1 WHERE id = ?`, post.CommunityID)
	if err != nil {
		return err
	}

	return tx.Commit()
}

const postColumns = `id, community_id, author_id, title, body, status, score, comment_count, is_pinned, created_at, updated_at`

func (s *SQLiteStore) GetPost(ctx context.Context, id string) (*Post, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id = ?`, id)

	post, err := scanPost(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return post, err
}

func (s *SQLiteStore) ListPosts(ctx context.Context, opts PostListOptions) ([]*Post, error) {
	if opts.Limit <= 0 || opts.Limit > 50 {
		opts.Limit = 25
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	var orderBy string
	switch opts.Sort {
	case SortHot:
		orderBy = "is_pinned DESC, score DESC, created_at DESC"
	default: // SortNew
		orderBy = "is_pinned DESC, created_at DESC"
	}

	where := "status = 'published'"
	args := []any{}
	if opts.CommunityID != "" {
		where += " AND community_id = ?"
		args = append(args, opts.CommunityID)
	}
	args = append(args, opts.Limit, opts.Offset)

	query := fmt.Sprintf(`
		SELECT %s FROM posts WHERE %s
		ORDER BY %s
		LIMIT ? OFFSET ?
	`, postColumns, where, orderBy)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []*Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}

	return posts, rows.Err()
}

func (s *SQLiteStore) UpdatePost(ctx context.Context, id, title, body string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE posts SET title = ?, body = ?, updated_at = ? WHERE id = ?
	`, title, nullString(body), time.Now().UTC(), id)
	return err
}

func (s *SQLiteStore) SetPostStatus(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE posts SET status = ?, updated_at = ? WHERE id = ?
	`, status, time.Now().UTC(), id)
	return err
}

// Comments

func (s *SQLiteStore) CreateComment(ctx context.Context, comment *Comment) error {
	if comment.ID == "" {
		comment.ID = uuid.New().String()
	}
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = time.Now().UTC()
	}
	if comment.UpdatedAt.IsZero() {
		comment.UpdatedAt = comment.CreatedAt
	}
	if comment.Status == "" {
		comment.Status = StatusPublished
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO comments (id, post_id, parent_id, author_id, body, path, depth, status, score, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, comment.ID, comment.PostID, nullString(comment.ParentID), comment.AuthorID, comment.Body,
		comment.Path, comment.Depth, comment.Status, comment.Score, comment.CreatedAt, comment.UpdatedAt)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `UPDATE posts SET comment_count = comment_count + 1 WHERE id = ?`, comment.PostID)
	if err != nil {
		return err
	}

	return tx.Commit()
}

const commentColumns = `id, post_id, parent_id, author_id, body, path, depth, status, score, created_at, updated_at`

func (s *SQLiteStore) GetComment(ctx context.Context, id string) (*Comment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE id = ?`, id)

	comment, err := scanComment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return comment, err
}

func (s *SQLiteStore) ListComments(ctx context.Context, postID string) ([]*Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+commentColumns+` FROM comments
		WHERE post_id = ? AND status = 'published'
		ORDER BY path ASC
	`, postID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var comments []*Comment
	for rows.Next() {
		comment, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		comments = append(comments, comment)
	}

	return comments, rows.Err()
}

func (s *SQLiteStore) UpdateComment(ctx context.Context, id, body string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE comments SET body = ?, updated_at = ? WHERE id = ?
	`, body, time.Now().UTC(), id)
	return err
}

func (s *SQLiteStore) SetCommentStatus(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE comments SET status = ?, updated_at = ? WHERE id = ?
	`, status, time.Now().UTC(), id)
	return err
}

// Votes

func (s *SQLiteStore) GetVote(ctx context.Context, userID string, target Target) (*Vote, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, target_kind, target_id, value, created_at
		FROM votes WHERE user_id = ? AND target_kind = ? AND target_id = ?
	`, userID, target.Kind, target.ID)

	var vote Vote
	err := row.Scan(&vote.ID, &vote.UserID, &vote.Target.Kind, &vote.Target.ID, &vote.Value, &vote.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &vote, nil
}

func (s *SQLiteStore) CreateVote(ctx context.Context, vote *Vote) error {
	if vote.ID == "" {
		vote.ID = uuid.New().String()
	}
	if vote.CreatedAt.IsZero() {
		vote.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO votes (id, user_id, target_kind, target_id, value, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, vote.ID, vote.UserID, vote.Target.Kind, vote.Target.ID, vote.Value, vote.CreatedAt)
	if err != nil {
		return err
	}

	if err := applyScoreTx(ctx, tx, vote.Target, vote.Value); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteStore) RemoveVote(ctx context.Context, vote *Vote) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `DELETE FROM votes WHERE id = ?`, vote.ID)
	if err != nil {
		return err
	}

	if err := applyScoreTx(ctx, tx, vote.Target, -vote.Value); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteStore) SwitchVote(ctx context.Context, vote *Vote, newValue int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `UPDATE votes SET value = ? WHERE id = ?`, newValue, vote.ID)
	if err != nil {
		return err
	}

	if err := applyScoreTx(ctx, tx, vote.Target, newValue-vote.Value); err != nil {
		return err
	}

	return tx.Commit()
}

// applyScoreTx applies a signed score delta to the vote target. The relative
// UPDATE serializes concurrent score changes on the same row.
func applyScoreTx(ctx context.Context, tx *sql.Tx, target Target, delta int) error {
	var err error
	if target.Kind == TargetPost {
		_, err = tx.ExecContext(ctx, `UPDATE posts SET score = score + ? WHERE id = ?`, delta, target.ID)
	} else {
		_, err = tx.ExecContext(ctx, `UPDATE comments SET score = score + ? WHERE id = ?`, delta, target.ID)
	}
	return err
}

// Reports

func (s *SQLiteStore) CreateReport(ctx context.Context, report *Report) error {
	if report.ID == "" {
		report.ID = uuid.New().String()
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now().UTC()
	}
	if report.Status == "" {
		report.Status = ReportPending
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reports (id, reporter_id, target_kind, target_id, reason, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, report.ID, report.ReporterID, report.Target.Kind, report.Target.ID, report.Reason,
		report.Status, report.CreatedAt)

	return err
}

func (s *SQLiteStore) GetReport(ctx context.Context, id string) (*Report, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, reporter_id, target_kind, target_id, reason, status, created_at
		FROM reports WHERE id = ?
	`, id)

	var report Report
	err := row.Scan(&report.ID, &report.ReporterID, &report.Target.Kind, &report.Target.ID,
		&report.Reason, &report.Status, &report.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &report, nil
}

func (s *SQLiteStore) ListReports(ctx context.Context, status string) ([]*Report, error) {
	query := `
		SELECT id, reporter_id, target_kind, target_id, reason, status, created_at
		FROM reports`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []*Report
	for rows.Next() {
		var report Report
		err := rows.Scan(&report.ID, &report.ReporterID, &report.Target.Kind, &report.Target.ID,
			&report.Reason, &report.Status, &report.CreatedAt)
		if err != nil {
			return nil, err
		}
		reports = append(reports, &report)
	}

	return reports, rows.Err()
}

func (s *SQLiteStore) SetReportStatus(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE reports SET status = ? WHERE id = ?`, status, id)
	return err
}

// Moderation audit log

func (s *SQLiteStore) CreateModAction(ctx context.Context, action *ModAction) error {
	if action.ID == "" {
		action.ID = uuid.New().String()
	}
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mod_actions (id, community_id, moderator_id, target_kind, target_id, action_type, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, action.ID, action.CommunityID, action.ModeratorID, action.Target.Kind, action.Target.ID,
		action.ActionType, nullString(action.Reason), action.CreatedAt)

	return err
}

// Rate limiting

func (s *SQLiteStore) IncrementRateWindow(ctx context.Context, key string, window time.Duration) (int, time.Time, error) {
	now := time.Now().UTC()
	newReset := now.Add(window).Unix()

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO rate_windows (key, count, reset_at)
		VALUES (?, 1, ?)
		ON CONFLICT(key) DO UPDATE SET
			count = CASE WHEN rate_windows.reset_at <= ? THEN 1 ELSE rate_windows.count + 1 END,
			reset_at = CASE WHEN rate_windows.reset_at <= ? THEN ? ELSE rate_windows.reset_at END
		RETURNING count, reset_at
	`, key, newReset, now.Unix(), now.Unix(), newReset)

	var count int
	var resetUnix int64
	if err := row.Scan(&count, &resetUnix); err != nil {
		return 0, time.Time{}, err
	}

	return count, time.Unix(resetUnix, 0).UTC(), nil
}

// Helpers

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*User, error) {
	var user User
	var email, passwordHash, bio, agentModel, ownerID, claimCode sql.NullString
	var claimedAt sql.NullTime
	var isAdmin int

	err := row.Scan(&user.ID, &user.Username, &user.DisplayName, &email, &passwordHash,
		&user.UserType, &isAdmin, &bio, &agentModel, &ownerID, &claimCode, &claimedAt, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	user.Email = email.String
	user.PasswordHash = passwordHash.String
	user.Bio = bio.String
	user.AgentModel = agentModel.String
	user.AgentOwnerID = ownerID.String
	user.ClaimCode = claimCode.String
	user.IsAdmin = isAdmin == 1
	if claimedAt.Valid {
		user.ClaimedAt = &claimedAt.Time
	}

	return &user, nil
}

func scanAPIKey(row scanner) (*APIKey, error) {
	var key APIKey
	var expiresAt, lastUsedAt sql.NullTime
	var isActive int

	err := row.Scan(&key.ID, &key.UserID, &key.Name, &key.KeyPrefix, &key.KeyHash,
		&isActive, &expiresAt, &lastUsedAt, &key.CreatedAt)
	if err != nil {
		return nil, err
	}

	key.IsActive = isActive == 1
	if expiresAt.Valid {
		key.ExpiresAt = &expiresAt.Time
	}
	if lastUsedAt.Valid {
		key.LastUsedAt = &lastUsedAt.Time
	}

	return &key, nil
}

func scanCommunity(row scanner) (*Community, error) {
	var c Community
	var description sql.NullString

	err := row.Scan(&c.ID, &c.Slug, &c.Name, &description, &c.PostCount, &c.CreatedAt)
	if err != nil {
		return nil, err
	}

	c.Description = description.String
	return &c, nil
}

func scanCommunityRow(row *sql.Row) (*Community, error) {
	c, err := scanCommunity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func scanPost(row scanner) (*Post, error) {
	var post Post
	var body sql.NullString
	var isPinned int

	err := row.Scan(&post.ID, &post.CommunityID, &post.AuthorID, &post.Title, &body, &post.Status,
		&post.Score, &post.CommentCount, &isPinned, &post.CreatedAt, &post.UpdatedAt)
	if err != nil {
		return nil, err
	}

	post.Body = body.String
	post.IsPinned = isPinned == 1

	return &post, nil
}

func scanComment(row scanner) (*Comment, error) {
	var comment Comment
	var parentID sql.NullString

	err := row.Scan(&comment.ID, &comment.PostID, &parentID, &comment.AuthorID, &comment.Body,
		&comment.Path, &comment.Depth, &comment.Status, &comment.Score, &comment.CreatedAt, &comment.UpdatedAt)
	if err != nil {
		return nil, err
	}

	comment.ParentID = parentID.String

	return &comment, nil
}

// Ensure SQLiteStore implements Store
var _ Store = (*SQLiteStore)(nil)
