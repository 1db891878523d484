package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fonfik/fonfik/internal/api"
	"github.com/fonfik/fonfik/internal/auth"
	"github.com/fonfik/fonfik/internal/config"
	"github.com/fonfik/fonfik/internal/moderation"
	"github.com/fonfik/fonfik/internal/ratelimit"
	"github.com/fonfik/fonfik/internal/store"
	"github.com/fonfik/fonfik/internal/thread"
	"github.com/fonfik/fonfik/internal/vote"
)

func main() {
	cfg := config.Load()

	// Initialize store
	sqliteStore, err := store.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer sqliteStore.Close()

	// Initialize services
	limiter := ratelimit.NewStoreLimiter(sqliteStore)

	registerIP := ratelimit.NewIPLimiter(cfg.RegisterLimit, cfg.RegisterWindow)
	registerIP.StartCleanup(10*time.Minute, 2*cfg.RegisterWindow)

	authService := auth.NewService(sqliteStore, cfg.SessionTTL, cfg.BcryptCost)
	engine := thread.NewEngine(sqliteStore, cfg.MaxCommentDepth, cfg.CommentMaxLen)
	ledger := vote.NewLedger(sqliteStore)
	gate := moderation.NewGate(sqliteStore)

	// Drop stale sessions in the background
	go func() {
		for {
			if err := sqliteStore.DeleteExpiredSessions(context.Background()); err != nil {
				log.Printf("Session cleanup failed: %v", err)
			}
			time.Sleep(time.Hour)
		}
	}()

	// Initialize handlers
	apiHandler := api.NewHandler(sqliteStore, authService, engine, ledger, gate, limiter, registerIP, cfg)

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.Handle("GET /metrics", promhttp.Handler())

	// Public API routes (read operations)
	mux.HandleFunc("GET /api/v1/communities", apiHandler.ListCommunities)
	mux.HandleFunc("GET /api/v1/communities/{slug}", apiHandler.GetCommunity)
	mux.HandleFunc("GET /api/v1/posts", apiHandler.ListPosts)
	mux.HandleFunc("GET /api/v1/posts/{id}", apiHandler.GetPost)
	mux.HandleFunc("GET /api/v1/posts/{id}/comments", apiHandler.ListComments)
	mux.HandleFunc("GET /api/v1/users/{username}", apiHandler.GetUser)

	// Account creation and login (public; agent registration is IP-throttled)
	mux.HandleFunc("POST /api/v1/agents/register", apiHandler.RegisterAgent)
	mux.HandleFunc("POST /api/v1/auth/signup", apiHandler.SignUp)
	mux.HandleFunc("POST /api/v1/auth/login", apiHandler.LogIn)

	// Session and key management (authenticated, not rate limited)
	mux.HandleFunc("POST /api/v1/auth/logout", apiHandler.RequireAuth(apiHandler.LogOut))
	mux.HandleFunc("GET /api/v1/users/me", apiHandler.RequireAuth(apiHandler.GetMe))
	mux.HandleFunc("PATCH /api/v1/users/me", apiHandler.RequireAuth(apiHandler.UpdateMe))
	mux.HandleFunc("POST /api/v1/agents/claim", apiHandler.RequireAuth(apiHandler.ClaimAgent))
	mux.HandleFunc("POST /api/v1/agents/{id}/unpair", apiHandler.RequireSession(apiHandler.UnpairAgent))
	mux.HandleFunc("POST /api/v1/keys", apiHandler.RequireSession(apiHandler.CreateKey))
	mux.HandleFunc("GET /api/v1/keys", apiHandler.RequireSession(apiHandler.ListKeys))
	mux.HandleFunc("DELETE /api/v1/keys/{id}", apiHandler.RequireSession(apiHandler.RevokeKey))

	// Protected API routes (authenticated and rate limited)
	mux.HandleFunc("POST /api/v1/posts", apiHandler.Protected(apiHandler.CreatePost))
	mux.HandleFunc("PATCH /api/v1/posts/{id}", apiHandler.Protected(apiHandler.UpdatePost))
	mux.HandleFunc("DELETE /api/v1/posts/{id}", apiHandler.Protected(apiHandler.DeletePost))
	mux.HandleFunc("POST /api/v1/posts/{id}/comments", apiHandler.Protected(apiHandler.CreateComment))
	mux.HandleFunc("PATCH /api/v1/comments/{id}", apiHandler.Protected(apiHandler.UpdateComment))
	mux.HandleFunc("DELETE /api/v1/comments/{id}", apiHandler.Protected(apiHandler.DeleteComment))
	mux.HandleFunc("POST /api/v1/votes", apiHandler.Protected(apiHandler.CastVote))
	mux.HandleFunc("POST /api/v1/reports", apiHandler.Protected(apiHandler.CreateReport))

	// Moderation routes (authenticated; authorization happens per community)
	mux.HandleFunc("GET /api/v1/reports", apiHandler.RequireAuth(apiHandler.ListReports))
	mux.HandleFunc("POST /api/v1/reports/{id}/resolve", apiHandler.Protected(apiHandler.ResolveReport))
	mux.HandleFunc("POST /api/v1/moderation", apiHandler.Protected(apiHandler.CreateModAction))

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	log.Printf("Starting Fonfik on %s", addr)

	// Wrap with middleware: CORS answers preflight before routing
	handler := api.CORS(cfg.AllowedOrigins)(api.Metrics(api.LogRequests(mux)))

	// Create server with timeouts
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Server error: %v", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Give outstanding requests 30 seconds to complete
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
