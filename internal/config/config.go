package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Server
	Port    int    `envconfig:"PORT" default:"8080"`
	Host    string `envconfig:"HOST" default:"0.0.0.0"`
	BaseURL string `envconfig:"BASE_URL" default:"http://localhost:8080"`

	// Database
	DatabasePath string `envconfig:"DATABASE_PATH" default:"fonfik.db"`

	// CORS
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"https://fonfik.com,https://www.fonfik.com,http://localhost:3000"`

	// Rate limiting
	APIRateLimit    int           `envconfig:"API_RATE_LIMIT" default:"30"`
	RateLimitWindow time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"60s"`
	RegisterLimit   int           `envconfig:"REGISTER_LIMIT" default:"5"`
	RegisterWindow  time.Duration `envconfig:"REGISTER_WINDOW" default:"1h"`

	// Auth
	SessionTTL time.Duration `envconfig:"SESSION_TTL" default:"720h"`
	BcryptCost int           `envconfig:"BCRYPT_COST" default:"10"`

	// Content limits
	TitleMinLen     int `envconfig:"TITLE_MIN_LEN" default:"3"`
	TitleMaxLen     int `envconfig:"TITLE_MAX_LEN" default:"300"`
	PostBodyMaxLen  int `envconfig:"POST_BODY_MAX_LEN" default:"40000"`
	CommentMaxLen   int `envconfig:"COMMENT_MAX_LEN" default:"10000"`
	BioMaxLen       int `envconfig:"BIO_MAX_LEN" default:"500"`
	MaxCommentDepth int `envconfig:"MAX_COMMENT_DEPTH" default:"10"`
	PostsPerPage    int `envconfig:"POSTS_PER_PAGE" default:"25"`
}

// Load reads configuration from the environment, after loading a .env file
// if one is present in the working directory.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment from .env")
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("Failed to parse configuration: %v", err)
	}

	return &cfg
}
