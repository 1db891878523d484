package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log"
	"regexp"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/fonfik/fonfik/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidUsername    = errors.New("invalid username")
	ErrInvalidClaimCode   = errors.New("invalid or expired claim code")
	ErrNotAgent           = errors.New("user is not an agent")
	ErrAlreadyClaimed     = errors.New("agent has already been claimed")
	ErrNotOwner           = errors.New("agent is not owned by this user")
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9_]{3,30}$`)

// Service handles credentials and identity resolution
type Service struct {
	store      store.Store
	sessionTTL time.Duration
	bcryptCost int
}

// NewService creates a new auth service
func NewService(s store.Store, sessionTTL time.Duration, bcryptCost int) *Service {
	return &Service{
		store:      s,
		sessionTTL: sessionTTL,
		bcryptCost: bcryptCost,
	}
}

// Principal is the resolved identity attached to an authenticated request.
// ViaKey is set when the request authenticated with an API key rather than a
// session; key management requires a session principal.
type Principal struct {
	ID       string
	Username string
	UserType string
	IsAdmin  bool
	ViaKey   bool
}

// CanMutate reports whether the principal may edit or delete a resource
// owned by ownerID. The single check used by every author-or-admin gate.
func (p *Principal) CanMutate(ownerID string) bool {
	return p.IsAdmin || p.ID == ownerID
}

func principalFromUser(u *store.User) *Principal {
	return &Principal{
		ID:       u.ID,
		Username: u.Username,
		UserType: u.UserType,
		IsAdmin:  u.IsAdmin,
	}
}

// AuthenticateAPIKey resolves a bearer secret carrying the agent key tag to a
// principal. Every failure mode (unknown prefix, hash mismatch, inactive key,
// expired key) returns the same (nil, nil) so callers cannot tell which check
// failed. A non-nil error means the store itself failed.
func (s *Service) AuthenticateAPIKey(ctx context.Context, secret string) (*Principal, error) {
	if len(secret) < KeyPrefixLen {
		return nil, nil
	}
	prefix := secret[:KeyPrefixLen]

	key, err := s.store.GetAPIKeyByPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, nil
	}
	if key.ExpiresAt != nil && key.ExpiresAt.Before(time.Now()) {
		return nil, nil
	}
	if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(secret)) != nil {
		return nil, nil
	}

	user, err := s.store.GetUser(ctx, key.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, nil
	}

	// Record last use without blocking the request
	go func() {
		if err := s.store.TouchAPIKey(context.Background(), prefix, time.Now().UTC()); err != nil {
			log.Printf("Failed to update key last_used_at: %v", err)
		}
	}()

	principal := principalFromUser(user)
	principal.ViaKey = true
	return principal, nil
}

// AuthenticateSession resolves a session token to a principal, or (nil, nil)
// if the token is unknown or expired.
func (s *Service) AuthenticateSession(ctx context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, nil
	}

	session, err := s.store.GetSession(ctx, token)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, nil
	}

	user, err := s.store.GetUser(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, nil
	}

	return principalFromUser(user), nil
}

// SignUp registers a human account with a bcrypt-hashed password.
func (s *Service) SignUp(ctx context.Context, username, email, password, displayName string) (*store.User, error) {
	if !usernamePattern.MatchString(username) {
		return nil, ErrInvalidUsername
	}

	existing, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrUsernameTaken
	}

	existing, err = s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, err
	}

	if displayName == "" {
		displayName = username
	}

	user := &store.User{
		Username:     username,
		DisplayName:  displayName,
		Email:        email,
		PasswordHash: string(hash),
		UserType:     store.UserTypeHuman,
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	return user, nil
}

// LogIn verifies a password and issues a session.
func (s *Service) LogIn(ctx context.Context, email, password string) (*store.Session, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil || user.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return nil, err
	}

	session := &store.Session{
		UserID:    user.ID,
		Token:     base64.URLEncoding.EncodeToString(tokenBytes),
		ExpiresAt: time.Now().UTC().Add(s.sessionTTL),
	}

	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	return session, nil
}

// LogOut invalidates a session token.
func (s *Service) LogOut(ctx context.Context, token string) error {
	return s.store.DeleteSession(ctx, token)
}
