package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/fonfik/fonfik/internal/auth"
	"github.com/fonfik/fonfik/internal/config"
	"github.com/fonfik/fonfik/internal/moderation"
	"github.com/fonfik/fonfik/internal/ratelimit"
	"github.com/fonfik/fonfik/internal/store"
	"github.com/fonfik/fonfik/internal/thread"
	"github.com/fonfik/fonfik/internal/vote"
)

type testServer struct {
	handler *Handler
	store   *store.SQLiteStore
	cleanup func()
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "fonfik-api-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpFile.Close()

	sqliteStore, err := store.NewSQLiteStore(tmpFile.Name())
	if err != nil {
		os.Remove(tmpFile.Name())
		t.Fatalf("failed to create store: %v", err)
	}

	cfg := &config.Config{
		BaseURL:         "http://localhost:8080",
		APIRateLimit:    100,
		RateLimitWindow: time.Hour,
		RegisterLimit:   100,
		RegisterWindow:  time.Hour,
		SessionTTL:      24 * time.Hour,
		BcryptCost:      4,
		TitleMinLen:     3,
		TitleMaxLen:     300,
		PostBodyMaxLen:  40000,
		CommentMaxLen:   10000,
		BioMaxLen:       500,
		MaxCommentDepth: 10,
		PostsPerPage:    25,
	}

	limiter := ratelimit.NewMemoryLimiter()
	registerIP := ratelimit.NewIPLimiter(cfg.RegisterLimit, cfg.RegisterWindow)
	authService := auth.NewService(sqliteStore, cfg.SessionTTL, cfg.BcryptCost)
	engine := thread.NewEngine(sqliteStore, cfg.MaxCommentDepth, cfg.CommentMaxLen)
	ledger := vote.NewLedger(sqliteStore)
	gate := moderation.NewGate(sqliteStore)

	handler := NewHandler(sqliteStore, authService, engine, ledger, gate, limiter, registerIP, cfg)

	cleanup := func() {
		sqliteStore.Close()
		os.Remove(tmpFile.Name())
	}

	return &testServer{
		handler: handler,
		store:   sqliteStore,
		cleanup: cleanup,
	}
}

func jsonRequest(method, target string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// registerAgent creates an agent through the registration endpoint and
// returns the decoded response.
func (ts *testServer) registerAgent(t *testing.T) RegisterAgentResponse {
	t.Helper()

	req := jsonRequest("POST", "/api/v1/agents/register", map[string]any{})
	rec := httptest.NewRecorder()
	ts.handler.RegisterAgent(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("register agent: got status %d: %s", rec.Code, rec.Body.String())
	}

	var resp RegisterAgentResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

// firstCommunity returns a seeded community slug for post creation.
func (ts *testServer) firstCommunity(t *testing.T) *store.Community {
	t.Helper()

	communities, err := ts.store.ListCommunities(context.Background())
	if err != nil || len(communities) == 0 {
		t.Fatalf("failed to list communities: %v", err)
	}
	return communities[0]
}

func TestRegisterAgentAPI(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	resp := ts.registerAgent(t)

	usernamePattern := regexp.MustCompile(`^agent_[a-z0-9]{8}$`)
	if !usernamePattern.MatchString(resp.User.Username) {
		t.Errorf("generated username should match agent_xxxxxxxx, got %q", resp.User.Username)
	}
	if !strings.HasPrefix(resp.APIKey, auth.KeyTag) {
		t.Errorf("API key should carry the agent tag, got %q", resp.APIKey)
	}
	if resp.ClaimCode == "" {
		t.Error("claim code should be returned")
	}
	if !strings.HasSuffix(resp.ClaimURL, "/claim/"+resp.ClaimCode) {
		t.Errorf("claim URL should end with the code, got %q", resp.ClaimURL)
	}
	if resp.User.UserType != store.UserTypeAgent {
		t.Errorf("user_type should be ai_agent, got %q", resp.User.UserType)
	}
}

func TestRegisterAgentValidation(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	tests := []struct {
		name       string
		body       map[string]any
		wantStatus int
	}{
		{
			name:       "invalid username",
			body:       map[string]any{"username": "Bad Name!"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "bio too long",
			body:       map[string]any{"bio": strings.Repeat("x", 501)},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "custom username",
			body:       map[string]any{"username": "my_agent_bot"},
			wantStatus: http.StatusCreated,
		},
		{
			name:       "duplicate username",
			body:       map[string]any{"username": "my_agent_bot"},
			wantStatus: http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := jsonRequest("POST", "/api/v1/agents/register", tt.body)
			rec := httptest.NewRecorder()
			ts.handler.RegisterAgent(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("got status %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestRegisterAgentIPThrottle(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	// A tight limiter just for this test
	ts.handler.registerIP = ratelimit.NewIPLimiter(2, time.Hour)

	for i := 0; i < 2; i++ {
		req := jsonRequest("POST", "/api/v1/agents/register", map[string]any{})
		rec := httptest.NewRecorder()
		ts.handler.RegisterAgent(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("request %d: got status %d", i+1, rec.Code)
		}
	}

	req := jsonRequest("POST", "/api/v1/agents/register", map[string]any{})
	rec := httptest.NewRecorder()
	ts.handler.RegisterAgent(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("third registration should be throttled, got %d", rec.Code)
	}
}

func TestRequireAuthRejectsBadCredentials(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	reg := ts.registerAgent(t)

	protected := ts.handler.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
	}{
		{"no credentials", "", http.StatusUnauthorized},
		{"valid key", "Bearer " + reg.APIKey, http.StatusOK},
		{"tampered key", "Bearer " + reg.APIKey[:len(reg.APIKey)-4] + "XXXX", http.StatusUnauthorized},
		{"unknown key", "Bearer " + auth.KeyTag + "completely_unknown_material_123", http.StatusUnauthorized},
		{"malformed header", "NotBearer stuff", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/protected", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()
			protected(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("got status %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestRateLimitHeaders(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	ts.handler.cfg.APIRateLimit = 3

	reg := ts.registerAgent(t)

	protected := ts.handler.Protected(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})

	for i := 1; i <= 3; i++ {
		req := httptest.NewRequest("POST", "/limited", nil)
		req.Header.Set("Authorization", "Bearer "+reg.APIKey)
		rec := httptest.NewRecorder()
		protected(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: got status %d", i, rec.Code)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "3" {
			t.Errorf("request %d: limit header should be 3, got %q", i, got)
		}
		if want := strconv.Itoa(3 - i); rec.Header().Get("X-RateLimit-Remaining") != want {
			t.Errorf("request %d: remaining header should be %s, got %q", i, want, rec.Header().Get("X-RateLimit-Remaining"))
		}
	}

	req := httptest.NewRequest("POST", "/limited", nil)
	req.Header.Set("Authorization", "Bearer "+reg.APIKey)
	rec := httptest.NewRecorder()
	protected(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("request 4 should be limited, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("remaining header should be 0, got %q", got)
	}
	if rec.Header().Get("X-RateLimit-Reset") == "" {
		t.Error("reset header should be present on 429")
	}
}

func TestSignUpLogInAndSessionFlow(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	// Sign up
	req := jsonRequest("POST", "/api/v1/auth/signup", map[string]any{
		"username": "alice",
		"email":    "alice@example.com",
		"password": "password123",
	})
	rec := httptest.NewRecorder()
	ts.handler.SignUp(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup: got status %d: %s", rec.Code, rec.Body.String())
	}

	// Log in
	req = jsonRequest("POST", "/api/v1/auth/login", map[string]any{
		"email":    "alice@example.com",
		"password": "password123",
	})
	rec = httptest.NewRecorder()
	ts.handler.LogIn(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: got status %d: %s", rec.Code, rec.Body.String())
	}

	var loginResp LogInResponse
	if err := json.NewDecoder(rec.Body).Decode(&loginResp); err != nil {
		t.Fatalf("failed to decode login response: %v", err)
	}
	if loginResp.Token == "" {
		t.Fatal("login should return a token")
	}

	var sessionCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookie {
			sessionCookie = c
		}
	}
	if sessionCookie == nil {
		t.Fatal("login should set the session cookie")
	}
	if !sessionCookie.HttpOnly {
		t.Error("session cookie should be HttpOnly")
	}

	// The cookie authenticates GetMe
	getMe := ts.handler.RequireAuth(ts.handler.GetMe)
	req = httptest.NewRequest("GET", "/api/v1/users/me", nil)
	req.AddCookie(sessionCookie)
	rec = httptest.NewRecorder()
	getMe(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("get me: got status %d: %s", rec.Code, rec.Body.String())
	}

	var meResp UserResponse
	if err := json.NewDecoder(rec.Body).Decode(&meResp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if meResp.User.Username != "alice" {
		t.Errorf("username mismatch: got %q", meResp.User.Username)
	}

	// Log out, then the cookie no longer works
	logOut := ts.handler.RequireAuth(ts.handler.LogOut)
	req = httptest.NewRequest("POST", "/api/v1/auth/logout", nil)
	req.AddCookie(sessionCookie)
	rec = httptest.NewRecorder()
	logOut(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout: got status %d", rec.Code)
	}

	req = httptest.NewRequest("GET", "/api/v1/users/me", nil)
	req.AddCookie(sessionCookie)
	rec = httptest.NewRecorder()
	getMe(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("stale session should be rejected, got %d", rec.Code)
	}
}

func TestLogInWrongPassword(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	req := jsonRequest("POST", "/api/v1/auth/signup", map[string]any{
		"username": "bob",
		"email":    "bob@example.com",
		"password": "password123",
	})
	rec := httptest.NewRecorder()
	ts.handler.SignUp(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup: got status %d", rec.Code)
	}

	req = jsonRequest("POST", "/api/v1/auth/login", map[string]any{
		"email":    "bob@example.com",
		"password": "wrong-password",
	})
	rec = httptest.NewRecorder()
	ts.handler.LogIn(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong password should get 401, got %d", rec.Code)
	}
}

func TestClaimAgentAPI(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	reg := ts.registerAgent(t)

	// A human owner
	req := jsonRequest("POST", "/api/v1/auth/signup", map[string]any{
		"username": "owner",
		"email":    "owner@example.com",
		"password": "password123",
	})
	rec := httptest.NewRecorder()
	ts.handler.SignUp(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup: got status %d", rec.Code)
	}

	req = jsonRequest("POST", "/api/v1/auth/login", map[string]any{
		"email":    "owner@example.com",
		"password": "password123",
	})
	rec = httptest.NewRecorder()
	ts.handler.LogIn(rec, req)
	var loginResp LogInResponse
	json.NewDecoder(rec.Body).Decode(&loginResp)

	claim := ts.handler.RequireAuth(ts.handler.ClaimAgent)

	// An agent cannot claim another agent
	req = jsonRequest("POST", "/api/v1/agents/claim", map[string]any{"claim_code": reg.ClaimCode})
	req.Header.Set("Authorization", "Bearer "+reg.APIKey)
	rec = httptest.NewRecorder()
	claim(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("agent claiming should get 403, got %d", rec.Code)
	}

	// The human claims it
	req = jsonRequest("POST", "/api/v1/agents/claim", map[string]any{"claim_code": reg.ClaimCode})
	req.Header.Set("Authorization", "Bearer "+loginResp.Token)
	rec = httptest.NewRecorder()
	claim(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("claim: got status %d: %s", rec.Code, rec.Body.String())
	}

	var claimResp ClaimAgentResponse
	if err := json.NewDecoder(rec.Body).Decode(&claimResp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if claimResp.Agent.ID != reg.User.ID {
		t.Errorf("claimed agent mismatch: got %q", claimResp.Agent.ID)
	}

	// A used code 404s
	req = jsonRequest("POST", "/api/v1/agents/claim", map[string]any{"claim_code": reg.ClaimCode})
	req.Header.Set("Authorization", "Bearer "+loginResp.Token)
	rec = httptest.NewRecorder()
	claim(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("used code should get 404, got %d", rec.Code)
	}
}

func TestCreatePostAPI(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	reg := ts.registerAgent(t)
	community := ts.firstCommunity(t)

	create := ts.handler.Protected(ts.handler.CreatePost)

	tests := []struct {
		name       string
		body       map[string]any
		wantStatus int
	}{
		{
			name: "valid post",
			body: map[string]any{
				"community_slug": community.Slug,
				"title":          "A valid post title",
				"body":           "Some body text",
			},
			wantStatus: http.StatusCreated,
		},
		{
			name: "title too short",
			body: map[string]any{
				"community_slug": community.Slug,
				"title":          "ab",
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "missing community",
			body: map[string]any{
				"title": "A valid post title",
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "unknown community",
			body: map[string]any{
				"community_slug": "does-not-exist",
				"title":          "A valid post title",
			},
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := jsonRequest("POST", "/api/v1/posts", tt.body)
			req.Header.Set("Authorization", "Bearer "+reg.APIKey)
			rec := httptest.NewRecorder()
			create(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("got status %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestPostLifecycleAPI(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	author := ts.registerAgent(t)
	stranger := ts.registerAgent(t)
	community := ts.firstCommunity(t)

	create := ts.handler.Protected(ts.handler.CreatePost)
	req := jsonRequest("POST", "/api/v1/posts", map[string]any{
		"community_slug": community.Slug,
		"title":          "Original title",
	})
	req.Header.Set("Authorization", "Bearer "+author.APIKey)
	rec := httptest.NewRecorder()
	create(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: got status %d: %s", rec.Code, rec.Body.String())
	}

	var created PostResponse
	json.NewDecoder(rec.Body).Decode(&created)
	postID := created.Post.ID

	// Read it back
	req = httptest.NewRequest("GET", "/api/v1/posts/"+postID, nil)
	req.SetPathValue("id", postID)
	rec = httptest.NewRecorder()
	ts.handler.GetPost(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: got status %d", rec.Code)
	}

	// A stranger cannot edit it
	update := ts.handler.Protected(ts.handler.UpdatePost)
	req = jsonRequest("PATCH", "/api/v1/posts/"+postID, map[string]any{"title": "Hijacked title"})
	req.SetPathValue("id", postID)
	req.Header.Set("Authorization", "Bearer "+stranger.APIKey)
	rec = httptest.NewRecorder()
	update(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("stranger edit should get 403, got %d", rec.Code)
	}

	// The author can
	req = jsonRequest("PATCH", "/api/v1/posts/"+postID, map[string]any{"title": "Updated title"})
	req.SetPathValue("id", postID)
	req.Header.Set("Authorization", "Bearer "+author.APIKey)
	rec = httptest.NewRecorder()
	update(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("author edit: got status %d: %s", rec.Code, rec.Body.String())
	}

	var updated PostResponse
	json.NewDecoder(rec.Body).Decode(&updated)
	if updated.Post.Title != "Updated title" {
		t.Errorf("title mismatch: got %q", updated.Post.Title)
	}

	// Delete, then reads 404
	del := ts.handler.Protected(ts.handler.DeletePost)
	req = httptest.NewRequest("DELETE", "/api/v1/posts/"+postID, nil)
	req.SetPathValue("id", postID)
	req.Header.Set("Authorization", "Bearer "+author.APIKey)
	rec = httptest.NewRecorder()
	del(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: got status %d", rec.Code)
	}

	req = httptest.NewRequest("GET", "/api/v1/posts/"+postID, nil)
	req.SetPathValue("id", postID)
	rec = httptest.NewRecorder()
	ts.handler.GetPost(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("deleted post should 404, got %d", rec.Code)
	}

	// The community post count drops back down
	after, err := ts.store.GetCommunity(context.Background(), community.ID)
	if err != nil {
		t.Fatalf("failed to get community: %v", err)
	}
	if after.PostCount != community.PostCount {
		t.Errorf("post count mismatch: got %d, want %d", after.PostCount, community.PostCount)
	}
}

func TestCommentThreadAPI(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	agent := ts.registerAgent(t)
	community := ts.firstCommunity(t)

	create := ts.handler.Protected(ts.handler.CreatePost)
	req := jsonRequest("POST", "/api/v1/posts", map[string]any{
		"community_slug": community.Slug,
		"title":          "Discussion post",
	})
	req.Header.Set("Authorization", "Bearer "+agent.APIKey)
	rec := httptest.NewRecorder()
	create(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create post: got status %d", rec.Code)
	}

	var post PostResponse
	json.NewDecoder(rec.Body).Decode(&post)
	postID := post.Post.ID

	createComment := ts.handler.Protected(ts.handler.CreateComment)

	postComment := func(body, parentID string) CommentResponse {
		t.Helper()
		req := jsonRequest("POST", "/api/v1/posts/"+postID+"/comments", map[string]any{
			"body":      body,
			"parent_id": parentID,
		})
		req.SetPathValue("id", postID)
		req.Header.Set("Authorization", "Bearer "+agent.APIKey)
		rec := httptest.NewRecorder()
		createComment(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("create comment: got status %d: %s", rec.Code, rec.Body.String())
		}
		var resp CommentResponse
		json.NewDecoder(rec.Body).Decode(&resp)
		return resp
	}

	root := postComment("root comment", "")
	reply := postComment("a reply", root.Comment.ID)
	postComment("deeper", reply.Comment.ID)

	if reply.Comment.Depth != 1 {
		t.Errorf("reply depth should be 1, got %d", reply.Comment.Depth)
	}

	// Listing preserves thread order
	req = httptest.NewRequest("GET", "/api/v1/posts/"+postID+"/comments", nil)
	req.SetPathValue("id", postID)
	rec = httptest.NewRecorder()
	ts.handler.ListComments(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list comments: got status %d", rec.Code)
	}

	var listed ListCommentsResponse
	json.NewDecoder(rec.Body).Decode(&listed)
	if len(listed.Comments) != 3 {
		t.Fatalf("expected 3 comments, got %d", len(listed.Comments))
	}
	for i, c := range listed.Comments {
		if c.Depth != i {
			t.Errorf("comment %d should sit at depth %d, got %d", i, i, c.Depth)
		}
	}

	// Replying beyond the depth cap is rejected
	parentID := listed.Comments[2].ID
	for depth := 3; depth <= 10; depth++ {
		c := postComment("nested", parentID)
		parentID = c.Comment.ID
	}

	req = jsonRequest("POST", "/api/v1/posts/"+postID+"/comments", map[string]any{
		"body":      "too deep",
		"parent_id": parentID,
	})
	req.SetPathValue("id", postID)
	req.Header.Set("Authorization", "Bearer "+agent.APIKey)
	rec = httptest.NewRecorder()
	createComment(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("over-deep reply should get 400, got %d", rec.Code)
	}
}

func TestVoteAPI(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	agent := ts.registerAgent(t)
	community := ts.firstCommunity(t)

	create := ts.handler.Protected(ts.handler.CreatePost)
	req := jsonRequest("POST", "/api/v1/posts", map[string]any{
		"community_slug": community.Slug,
		"title":          "Votable post",
	})
	req.Header.Set("Authorization", "Bearer "+agent.APIKey)
	rec := httptest.NewRecorder()
	create(rec, req)
	var post PostResponse
	json.NewDecoder(rec.Body).Decode(&post)

	cast := ts.handler.Protected(ts.handler.CastVote)

	castVote := func(body map[string]any) (*httptest.ResponseRecorder, vote.Outcome) {
		t.Helper()
		req := jsonRequest("POST", "/api/v1/votes", body)
		req.Header.Set("Authorization", "Bearer "+agent.APIKey)
		rec := httptest.NewRecorder()
		cast(rec, req)
		var outcome vote.Outcome
		json.Unmarshal(rec.Body.Bytes(), &outcome)
		return rec, outcome
	}

	rec2, outcome := castVote(map[string]any{"post_id": post.Post.ID, "value": "up"})
	if rec2.Code != http.StatusOK {
		t.Fatalf("vote: got status %d: %s", rec2.Code, rec2.Body.String())
	}
	if outcome.Action != vote.ActionCreated {
		t.Errorf("action mismatch: got %q", outcome.Action)
	}
	if !strings.Contains(rec2.Body.String(), `"value":"up"`) {
		t.Errorf("response should carry the vote value field: %s", rec2.Body.String())
	}

	// Same value again toggles off
	rec2, outcome = castVote(map[string]any{"post_id": post.Post.ID, "value": "up"})
	if rec2.Code != http.StatusOK || outcome.Action != vote.ActionRemoved {
		t.Errorf("toggle: status %d action %q", rec2.Code, outcome.Action)
	}

	// Exactly one target is required
	rec2, _ = castVote(map[string]any{"value": "up"})
	if rec2.Code != http.StatusBadRequest {
		t.Errorf("missing target should get 400, got %d", rec2.Code)
	}
	rec2, _ = castVote(map[string]any{"post_id": "a", "comment_id": "b", "value": "up"})
	if rec2.Code != http.StatusBadRequest {
		t.Errorf("double target should get 400, got %d", rec2.Code)
	}
	rec2, _ = castVote(map[string]any{"post_id": post.Post.ID, "value": "sideways"})
	if rec2.Code != http.StatusBadRequest {
		t.Errorf("bad value should get 400, got %d", rec2.Code)
	}
}

func TestListPostsAPI(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	agent := ts.registerAgent(t)
	community := ts.firstCommunity(t)

	create := ts.handler.Protected(ts.handler.CreatePost)
	for _, title := range []string{"First post", "Second post"} {
		req := jsonRequest("POST", "/api/v1/posts", map[string]any{
			"community_slug": community.Slug,
			"title":          title,
		})
		req.Header.Set("Authorization", "Bearer "+agent.APIKey)
		rec := httptest.NewRecorder()
		create(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("create post: got status %d", rec.Code)
		}
	}

	req := httptest.NewRequest("GET", "/api/v1/posts?community="+community.Slug+"&sort=new", nil)
	rec := httptest.NewRecorder()
	ts.handler.ListPosts(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list posts: got status %d", rec.Code)
	}

	var listed ListPostsResponse
	json.NewDecoder(rec.Body).Decode(&listed)
	if len(listed.Posts) != 2 {
		t.Errorf("expected 2 posts, got %d", len(listed.Posts))
	}
	if listed.Pagination.Page != 1 || listed.Pagination.Limit != 25 {
		t.Errorf("pagination defaults wrong: %+v", listed.Pagination)
	}

	req = httptest.NewRequest("GET", "/api/v1/posts?community=no-such-community", nil)
	rec = httptest.NewRecorder()
	ts.handler.ListPosts(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown community should get 404, got %d", rec.Code)
	}
}

func TestReportAndModerationAPI(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	agent := ts.registerAgent(t)
	community := ts.firstCommunity(t)

	create := ts.handler.Protected(ts.handler.CreatePost)
	req := jsonRequest("POST", "/api/v1/posts", map[string]any{
		"community_slug": community.Slug,
		"title":          "Reportable post",
	})
	req.Header.Set("Authorization", "Bearer "+agent.APIKey)
	rec := httptest.NewRecorder()
	create(rec, req)
	var post PostResponse
	json.NewDecoder(rec.Body).Decode(&post)

	// File a report
	fileReport := ts.handler.Protected(ts.handler.CreateReport)
	req = jsonRequest("POST", "/api/v1/reports", map[string]any{
		"post_id": post.Post.ID,
		"reason":  "spam content",
	})
	req.Header.Set("Authorization", "Bearer "+agent.APIKey)
	rec = httptest.NewRecorder()
	fileReport(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("report: got status %d: %s", rec.Code, rec.Body.String())
	}

	var report ReportResponse
	json.NewDecoder(rec.Body).Decode(&report)

	// The reporting agent holds no moderator role; the queue is off limits
	list := ts.handler.RequireAuth(ts.handler.ListReports)
	req = httptest.NewRequest("GET", "/api/v1/reports", nil)
	req.Header.Set("Authorization", "Bearer "+agent.APIKey)
	rec = httptest.NewRecorder()
	list(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("non-moderator listing reports should get 403, got %d", rec.Code)
	}

	// The reporting agent is not a moderator; resolution is denied
	resolve := ts.handler.RequireAuth(ts.handler.ResolveReport)
	req = jsonRequest("POST", "/api/v1/reports/"+report.Report.ID+"/resolve", map[string]any{
		"status": "reviewed",
	})
	req.SetPathValue("id", report.Report.ID)
	req.Header.Set("Authorization", "Bearer "+agent.APIKey)
	rec = httptest.NewRecorder()
	resolve(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("non-moderator resolve should get 403, got %d", rec.Code)
	}

	// Promote the agent to community moderator, then it works
	if err := ts.store.SetMemberRole(context.Background(), community.ID, agent.User.ID, store.RoleModerator); err != nil {
		t.Fatalf("failed to set role: %v", err)
	}

	req = jsonRequest("POST", "/api/v1/reports/"+report.Report.ID+"/resolve", map[string]any{
		"status": "reviewed",
	})
	req.SetPathValue("id", report.Report.ID)
	req.Header.Set("Authorization", "Bearer "+agent.APIKey)
	rec = httptest.NewRecorder()
	resolve(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("moderator resolve: got status %d: %s", rec.Code, rec.Body.String())
	}

	// As a moderator the queue is visible
	req = httptest.NewRequest("GET", "/api/v1/reports?status=reviewed", nil)
	req.Header.Set("Authorization", "Bearer "+agent.APIKey)
	rec = httptest.NewRecorder()
	list(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("moderator listing reports: got status %d: %s", rec.Code, rec.Body.String())
	}
	var listing ListReportsResponse
	json.NewDecoder(rec.Body).Decode(&listing)
	if len(listing.Reports) != 1 {
		t.Errorf("expected 1 reviewed report, got %d", len(listing.Reports))
	}

	// Remove the post through the moderation endpoint
	modAction := ts.handler.RequireAuth(ts.handler.CreateModAction)
	req = jsonRequest("POST", "/api/v1/moderation", map[string]any{
		"community_id": community.ID,
		"action_type":  "remove_post",
		"post_id":      post.Post.ID,
		"reason":       "confirmed spam",
	})
	req.Header.Set("Authorization", "Bearer "+agent.APIKey)
	rec = httptest.NewRecorder()
	modAction(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("mod action: got status %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest("GET", "/api/v1/posts/"+post.Post.ID, nil)
	req.SetPathValue("id", post.Post.ID)
	rec = httptest.NewRecorder()
	ts.handler.GetPost(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("removed post should 404, got %d", rec.Code)
	}
}

func TestGetUserHidesAdminFlag(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	user := &store.User{
		Username:    "quietadmin",
		DisplayName: "Quiet Admin",
		UserType:    store.UserTypeHuman,
		IsAdmin:     true,
	}
	if err := ts.store.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/v1/users/quietadmin", nil)
	req.SetPathValue("username", "quietadmin")
	rec := httptest.NewRecorder()
	ts.handler.GetUser(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("get user: got status %d", rec.Code)
	}

	if strings.Contains(rec.Body.String(), "is_admin") {
		t.Error("public profile should not expose the admin flag")
	}
}

func TestKeyManagementRequiresSession(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	agent := ts.registerAgent(t)

	// An API key cannot mint or list keys
	createKey := ts.handler.RequireSession(ts.handler.CreateKey)
	req := jsonRequest("POST", "/api/v1/keys", map[string]any{"name": "rotation"})
	req.Header.Set("Authorization", "Bearer "+agent.APIKey)
	rec := httptest.NewRecorder()
	createKey(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("key-authenticated create should get 403, got %d", rec.Code)
	}

	listKeys := ts.handler.RequireSession(ts.handler.ListKeys)
	req = httptest.NewRequest("GET", "/api/v1/keys", nil)
	req.Header.Set("Authorization", "Bearer "+agent.APIKey)
	rec = httptest.NewRecorder()
	listKeys(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("key-authenticated list should get 403, got %d", rec.Code)
	}

	// A session principal manages keys normally
	req = jsonRequest("POST", "/api/v1/auth/signup", map[string]any{
		"username": "keeper",
		"email":    "keeper@example.com",
		"password": "password123",
	})
	rec = httptest.NewRecorder()
	ts.handler.SignUp(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup: got status %d", rec.Code)
	}

	req = jsonRequest("POST", "/api/v1/auth/login", map[string]any{
		"email":    "keeper@example.com",
		"password": "password123",
	})
	rec = httptest.NewRecorder()
	ts.handler.LogIn(rec, req)
	var loginResp LogInResponse
	json.NewDecoder(rec.Body).Decode(&loginResp)

	req = jsonRequest("POST", "/api/v1/keys", map[string]any{"name": "automation"})
	req.Header.Set("Authorization", "Bearer "+loginResp.Token)
	rec = httptest.NewRecorder()
	createKey(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("session create key: got status %d: %s", rec.Code, rec.Body.String())
	}

	var created CreateKeyResponse
	json.NewDecoder(rec.Body).Decode(&created)
	if !strings.HasPrefix(created.Secret, auth.KeyTag) {
		t.Errorf("secret should carry the key tag, got %q", created.Secret)
	}

	req = httptest.NewRequest("GET", "/api/v1/keys", nil)
	req.Header.Set("Authorization", "Bearer "+loginResp.Token)
	rec = httptest.NewRecorder()
	listKeys(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("session list keys: got status %d", rec.Code)
	}
	var listed ListKeysResponse
	json.NewDecoder(rec.Body).Decode(&listed)
	if len(listed.Keys) != 1 {
		t.Errorf("expected 1 key, got %d", len(listed.Keys))
	}

	revoke := ts.handler.RequireSession(ts.handler.RevokeKey)
	req = httptest.NewRequest("DELETE", "/api/v1/keys/"+created.Key.ID, nil)
	req.SetPathValue("id", created.Key.ID)
	req.Header.Set("Authorization", "Bearer "+loginResp.Token)
	rec = httptest.NewRecorder()
	revoke(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("session revoke key: got status %d", rec.Code)
	}
}

func TestUpdateProfileAPI(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	agent := ts.registerAgent(t)
	update := ts.handler.RequireAuth(ts.handler.UpdateMe)

	req := jsonRequest("PATCH", "/api/v1/users/me", map[string]any{
		"display_name": "  Friendly Bot  ",
		"bio":          "I summarize threads.",
	})
	req.Header.Set("Authorization", "Bearer "+agent.APIKey)
	rec := httptest.NewRecorder()
	update(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("update profile: got status %d: %s", rec.Code, rec.Body.String())
	}

	var resp UserResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.User.DisplayName != "Friendly Bot" {
		t.Errorf("display name mismatch: got %q", resp.User.DisplayName)
	}

	// An omitted field is left alone
	req = jsonRequest("PATCH", "/api/v1/users/me", map[string]any{"bio": "Updated bio."})
	req.Header.Set("Authorization", "Bearer "+agent.APIKey)
	rec = httptest.NewRecorder()
	update(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("update bio: got status %d", rec.Code)
	}
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.User.DisplayName != "Friendly Bot" || resp.User.Bio != "Updated bio." {
		t.Errorf("partial update mismatch: %q / %q", resp.User.DisplayName, resp.User.Bio)
	}

	// The change persists
	user, err := ts.store.GetUser(context.Background(), agent.User.ID)
	if err != nil {
		t.Fatalf("failed to get user: %v", err)
	}
	if user.Bio != "Updated bio." {
		t.Errorf("bio not persisted: got %q", user.Bio)
	}

	// Limits
	req = jsonRequest("PATCH", "/api/v1/users/me", map[string]any{
		"bio": strings.Repeat("x", 501),
	})
	req.Header.Set("Authorization", "Bearer "+agent.APIKey)
	rec = httptest.NewRecorder()
	update(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("oversized bio should get 400, got %d", rec.Code)
	}
	req = jsonRequest("PATCH", "/api/v1/users/me", map[string]any{
		"display_name": strings.Repeat("x", 101),
	})
	req.Header.Set("Authorization", "Bearer "+agent.APIKey)
	rec = httptest.NewRecorder()
	update(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("oversized display name should get 400, got %d", rec.Code)
	}
}
