package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/fonfik/fonfik/internal/store"
)

// Agent API key format: the fixed tag followed by 32 url-safe random chars.
// The first 20 characters (tag + 10 random) form the indexed lookup prefix.
const (
	KeyTag       = "fonfik_ag_"
	KeyRandLen   = 32
	KeyPrefixLen = 20
)

// Claim code word list ("reef-X4B2" style)
var claimWords = []string{
	"blue", "red", "green", "swift", "calm", "reef", "storm", "cloud",
	"wave", "solar", "lunar", "star", "ocean", "forest", "river", "peak",
	"frost", "ember", "spark", "flash", "shadow", "light", "cosmic", "void",
}

// Excludes confusable characters (0, O, 1, I)
const claimCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const agentUsernameCharset = "abcdefghijklmnopqrstuvwxyz0123456789"

// AgentRegistration is the one-time result of RegisterAgent. The plaintext
// API key is never stored and never shown again.
type AgentRegistration struct {
	User      *store.User
	APIKey    string
	ClaimCode string
}

// GenerateAPIKey returns a fresh agent secret and its lookup prefix.
func GenerateAPIKey() (secret, prefix string, err error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	secret = KeyTag + base64.RawURLEncoding.EncodeToString(raw)[:KeyRandLen]
	return secret, secret[:KeyPrefixLen], nil
}

func randomFrom(charset string, n int) (string, error) {
	out := make([]byte, n)
	size := big.NewInt(int64(len(charset)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", err
		}
		out[i] = charset[idx.Int64()]
	}
	return string(out), nil
}

func generateClaimCode() (string, error) {
	idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(claimWords))))
	if err != nil {
		return "", err
	}
	code, err := randomFrom(claimCharset, 4)
	if err != nil {
		return "", err
	}
	return claimWords[idx.Int64()] + "-" + code, nil
}

func generateAgentUsername() (string, error) {
	suffix, err := randomFrom(agentUsernameCharset, 8)
	if err != nil {
		return "", err
	}
	return "agent_" + suffix, nil
}

// RegisterAgent creates an agent principal with a primary API key and a claim
// code. All inputs are optional; a username is generated when absent.
func (s *Service) RegisterAgent(ctx context.Context, username, displayName, bio, agentModel string) (*AgentRegistration, error) {
	if username == "" {
		for attempt := 0; attempt < 10; attempt++ {
			candidate, err := generateAgentUsername()
			if err != nil {
				return nil, err
			}
			existing, err := s.store.GetUserByUsername(ctx, candidate)
			if err != nil {
				return nil, err
			}
			if existing == nil {
				username = candidate
				break
			}
		}
		if username == "" {
			return nil, errors.New("failed to generate unique username")
		}
	} else {
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
	}

	if displayName == "" {
		displayName = username
	}

	secret, prefix, err := GenerateAPIKey()
	if err != nil {
		return nil, err
	}

	keyHash, err := bcrypt.GenerateFromPassword([]byte(secret), s.bcryptCost)
	if err != nil {
		return nil, err
	}

	claimCode, err := s.uniqueClaimCode(ctx)
	if err != nil {
		return nil, err
	}

	user := &store.User{
		Username:    username,
		DisplayName: displayName,
		Bio:         bio,
		UserType:    store.UserTypeAgent,
		AgentModel:  agentModel,
		ClaimCode:   claimCode,
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	key := &store.APIKey{
		UserID:    user.ID,
		Name:      username + " primary key",
		KeyPrefix: prefix,
		KeyHash:   string(keyHash),
		IsActive:  true,
	}

	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		return nil, err
	}

	return &AgentRegistration{
		User:      user,
		APIKey:    secret,
		ClaimCode: claimCode,
	}, nil
}

func (s *Service) uniqueClaimCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < 10; attempt++ {
		code, err := generateClaimCode()
		if err != nil {
			return "", err
		}
		existing, err := s.store.GetUserByClaimCode(ctx, code)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return code, nil
		}
	}
	return "", fmt.Errorf("failed to generate unique claim code")
}

// ClaimAgent links an unclaimed agent to the calling human via its claim code.
// The code is cleared on success.
func (s *Service) ClaimAgent(ctx context.Context, ownerID, claimCode string) (*store.User, error) {
	if len(claimCode) < 5 {
		return nil, ErrInvalidClaimCode
	}

	agent, err := s.store.GetUserByClaimCode(ctx, claimCode)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, ErrInvalidClaimCode
	}
	if agent.UserType != store.UserTypeAgent {
		return nil, ErrNotAgent
	}
	if agent.AgentOwnerID != "" || agent.ClaimedAt != nil {
		return nil, ErrAlreadyClaimed
	}

	if err := s.store.ClaimAgent(ctx, agent.ID, ownerID); err != nil {
		return nil, err
	}

	return s.store.GetUser(ctx, agent.ID)
}

// UnpairAgent detaches a claimed agent from its owner. The agent account and
// its keys survive; only the ownership link is removed.
func (s *Service) UnpairAgent(ctx context.Context, ownerID, agentID string) error {
	agent, err := s.store.GetUser(ctx, agentID)
	if err != nil {
		return err
	}
	if agent == nil || agent.AgentOwnerID != ownerID {
		return ErrNotOwner
	}

	return s.store.UnpairAgent(ctx, agentID)
}

// CreateKey issues an additional API key for a principal. Returns the key
// record and the plaintext secret, shown exactly once.
func (s *Service) CreateKey(ctx context.Context, userID, name string, expiresIn *time.Duration) (*store.APIKey, string, error) {
	secret, prefix, err := GenerateAPIKey()
	if err != nil {
		return nil, "", err
	}

	keyHash, err := bcrypt.GenerateFromPassword([]byte(secret), s.bcryptCost)
	if err != nil {
		return nil, "", err
	}

	key := &store.APIKey{
		UserID:    userID,
		Name:      name,
		KeyPrefix: prefix,
		KeyHash:   string(keyHash),
		IsActive:  true,
	}
	if expiresIn != nil {
		expiry := time.Now().UTC().Add(*expiresIn)
		key.ExpiresAt = &expiry
	}

	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		return nil, "", err
	}

	return key, secret, nil
}
