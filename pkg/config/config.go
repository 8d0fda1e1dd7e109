package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds server configuration, loaded once at startup from the
// environment per §6.
type Config struct {
	Host string
	Port string

	LogLevel  string
	LogFormat string

	DatabaseURL string

	AdminAPIKey           string
	JWTPrivateKey         string // PEM; empty generates an ephemeral key at startup
	JWTAlgorithm          string // only "RS256" passes Validate
	JWTAgentExpireSeconds int
	JWTAdminExpireSeconds int

	WebhookURL    string
	WebhookSecret string

	RateLimitEnabled    bool
	RateLimitStorageURI string // "memory://" or "redis://host:port/db"
	CORSOrigins         []string
	RequestTimeout      time.Duration

	EvidenceBucketURI string // "", "s3://bucket/prefix", or "gs://bucket/prefix"
	SeedFilePath      string // optional YAML fixture of dev agents/admins/policies
}

// Load reads configuration from environment variables, applying the same
// defaults-then-override shape as the teacher's Load().
func Load() *Config {
	jwtAgentTTL, err := strconv.Atoi(getenv("JWT_AGENT_EXPIRE_SECONDS", "3600"))
	if err != nil {
		jwtAgentTTL = 3600
	}
	jwtAdminTTL, err := strconv.Atoi(getenv("JWT_ADMIN_EXPIRE_SECONDS", "28800"))
	if err != nil {
		jwtAdminTTL = 28800
	}
	requestTimeout, err := time.ParseDuration(getenv("REQUEST_TIMEOUT", "30s"))
	if err != nil {
		requestTimeout = 30 * time.Second
	}

	return &Config{
		Host: getenv("HOST", "0.0.0.0"),
		Port: getenv("PORT", "8080"),

		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getenv("LOG_FORMAT", "json")),

		DatabaseURL: getenv("DATABASE_URL", "postgres://agentguard@localhost:5432/agentguard?sslmode=disable"),

		AdminAPIKey:           os.Getenv("ADMIN_API_KEY"),
		JWTPrivateKey:         os.Getenv("JWT_PRIVATE_KEY"),
		JWTAlgorithm:          getenv("JWT_ALGORITHM", "RS256"),
		JWTAgentExpireSeconds: jwtAgentTTL,
		JWTAdminExpireSeconds: jwtAdminTTL,

		WebhookURL:    os.Getenv("WEBHOOK_URL"),
		WebhookSecret: os.Getenv("WEBHOOK_SECRET"),

		RateLimitEnabled:    getenv("RATE_LIMIT_ENABLED", "true") == "true",
		RateLimitStorageURI: getenv("RATE_LIMIT_STORAGE_URI", "memory://"),
		CORSOrigins:         splitCSV(os.Getenv("CORS_ORIGINS")),
		RequestTimeout:      requestTimeout,

		EvidenceBucketURI: os.Getenv("EVIDENCE_BUCKET_URI"),
		SeedFilePath:      os.Getenv("SEED_FILE"),
	}
}

// Validate enforces the invariants named in §10.3: a recognized JWT
// algorithm, a rate-limit storage URI the process knows how to open, and a
// database URL with a supported scheme. cmd/agentguard exits non-zero when
// this returns an error.
func (c *Config) Validate() error {
	switch c.JWTAlgorithm {
	case "RS256":
	default:
		return fmt.Errorf("config: unsupported jwt_algorithm %q (only RS256 is implemented)", c.JWTAlgorithm)
	}

	if !strings.HasPrefix(c.RateLimitStorageURI, "memory://") && !strings.HasPrefix(c.RateLimitStorageURI, "redis://") {
		return fmt.Errorf("config: unsupported rate_limit_storage_uri %q (want memory:// or redis://)", c.RateLimitStorageURI)
	}

	switch {
	case strings.HasPrefix(c.DatabaseURL, "postgres://"), strings.HasPrefix(c.DatabaseURL, "postgresql://"), strings.HasPrefix(c.DatabaseURL, "sqlite://"):
	default:
		return fmt.Errorf("config: unsupported database_url scheme in %q (want postgres://, postgresql://, or sqlite://)", c.DatabaseURL)
	}

	if c.JWTAgentExpireSeconds <= 0 || c.JWTAdminExpireSeconds <= 0 {
		return fmt.Errorf("config: jwt expiry seconds must be positive")
	}

	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
