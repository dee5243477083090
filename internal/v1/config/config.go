package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/tempolink/tempolink/internal/v1/types"
)

const (
	// DefaultRoomMaxUsers is the default player cap per room. The value from
	// the environment is clamped to [MinRoomMaxUsers, MaxRoomMaxUsers].
	DefaultRoomMaxUsers = 8
	MinRoomMaxUsers     = 1
	MaxRoomMaxUsers     = 64
)

// Config holds validated environment configuration.
type Config struct {
	// Required variables
	Port            string
	AdminPort       string
	IdentityBaseURL string
	AdminJWTSecret  string

	// Optional variables with defaults
	ServerName          string
	RoomListTip         string
	QuoteURL            string
	Monitors            []types.UserID
	RoomMaxUsers        int
	ReplayEnabled       bool
	ReplayDir           string
	RoomCreationEnabled bool
	AllowedOrigins      string
	DevelopmentMode     bool

	// Rate limits (ulule/limiter formatted, e.g. "100-M")
	RateLimitAPIGlobal string
	RateLimitAPIAdmin  string

	// Tracing
	OtelCollectorAddr string
}

// ValidateEnv validates all required environment variables and returns a
// Config object. Returns an error listing every missing or invalid variable.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	// Required: PORT (game TCP listener)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errs = append(errs, "PORT is required")
	} else if !isValidPort(cfg.Port) {
		errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	// Required: ADMIN_PORT (HTTP admin surface)
	cfg.AdminPort = os.Getenv("ADMIN_PORT")
	if cfg.AdminPort == "" {
		errs = append(errs, "ADMIN_PORT is required")
	} else if !isValidPort(cfg.AdminPort) {
		errs = append(errs, fmt.Sprintf("ADMIN_PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.AdminPort))
	}

	// Required: IDENTITY_BASE_URL (upstream identity service)
	cfg.IdentityBaseURL = os.Getenv("IDENTITY_BASE_URL")
	if cfg.IdentityBaseURL == "" {
		errs = append(errs, "IDENTITY_BASE_URL is required")
	} else if u, err := url.Parse(cfg.IdentityBaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Sprintf("IDENTITY_BASE_URL must be an http(s) URL (got '%s')", cfg.IdentityBaseURL))
	}

	// Required: ADMIN_JWT_SECRET (minimum 32 characters)
	cfg.AdminJWTSecret = os.Getenv("ADMIN_JWT_SECRET")
	if cfg.AdminJWTSecret == "" {
		errs = append(errs, "ADMIN_JWT_SECRET is required")
	} else if len(cfg.AdminJWTSecret) < 32 {
		errs = append(errs, fmt.Sprintf("ADMIN_JWT_SECRET must be at least 32 characters (got %d)", len(cfg.AdminJWTSecret)))
	}

	// Optional: banner content
	cfg.ServerName = getEnvOrDefault("SERVER_NAME", "tempolink")
	cfg.RoomListTip = os.Getenv("ROOM_LIST_TIP")
	cfg.QuoteURL = os.Getenv("QUOTE_URL")

	// Optional: MONITORS (comma-separated user ids permitted to spectate)
	if raw := os.Getenv("MONITORS"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 32)
			if err != nil {
				errs = append(errs, fmt.Sprintf("MONITORS must be comma-separated user ids (got '%s')", part))
				continue
			}
			cfg.Monitors = append(cfg.Monitors, types.UserID(id))
		}
	}

	// Optional: ROOM_MAX_USERS (clamped to [1, 64], default 8)
	cfg.RoomMaxUsers = DefaultRoomMaxUsers
	if raw := os.Getenv("ROOM_MAX_USERS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			errs = append(errs, fmt.Sprintf("ROOM_MAX_USERS must be an integer (got '%s')", raw))
		} else {
			cfg.RoomMaxUsers = ClampRoomMaxUsers(n)
		}
	}

	cfg.ReplayEnabled = os.Getenv("REPLAY_ENABLED") == "true"
	cfg.ReplayDir = getEnvOrDefault("REPLAY_DIR", "replays")
	cfg.RoomCreationEnabled = os.Getenv("ROOM_CREATION_ENABLED") != "false"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")
	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"

	// Rate limits
	cfg.RateLimitAPIGlobal = getEnvOrDefault("RATE_LIMIT_API_GLOBAL", "1000-M")
	cfg.RateLimitAPIAdmin = getEnvOrDefault("RATE_LIMIT_API_ADMIN", "100-M")

	// Tracing (optional)
	cfg.OtelCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return cfg, nil
}

// ClampRoomMaxUsers bounds a requested player cap to the supported range.
func ClampRoomMaxUsers(n int) int {
	if n < MinRoomMaxUsers {
		return MinRoomMaxUsers
	}
	if n > MaxRoomMaxUsers {
		return MaxRoomMaxUsers
	}
	return n
}

func isValidPort(s string) bool {
	port, err := strconv.Atoi(s)
	return err == nil && port >= 1 && port <= 65535
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// RedactSecret redacts a secret by showing only the first 8 characters.
func RedactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
