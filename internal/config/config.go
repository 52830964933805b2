package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	MatchModeAutoConnect    = "auto_connect"
	MatchModeExplicitAccept = "explicit_accept"

	SignalingBackendMemory = "memory"
	SignalingBackendRedis  = "redis"
)

type Config struct {
	// Server
	Port     string
	Env      string
	LogLevel string

	// Database
	DatabaseDriver string
	DatabaseURL    string

	// Redis (비어 있으면 비활성화)
	RedisURL string

	// JWT
	JWTSecret     string
	JWTExpiration time.Duration

	// CORS
	CORSAllowedOrigins []string

	// Matchmaking
	MatchingInterval      time.Duration
	MatchingTimeout       time.Duration
	MatchingAcceptTimeout time.Duration
	MatchingMinDwell      time.Duration
	MatchingCrossTier     bool
	MatchingMode          string
	QueueRetention        time.Duration
	DefaultMaxWait        time.Duration
	DefaultAvatarURL      string

	// Signaling
	SignalingBackend string
	SignalingTTL     time.Duration
	ICEServerURLs    []string
	ICEUsername      string
	ICECredential    string
}

func Load() (*Config, error) {
	// .env 파일 로드 (있는 경우)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                  getEnv("PORT", "8080"),
		Env:                   getEnv("ENV", "development"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		DatabaseDriver:        getEnv("DATABASE_DRIVER", "postgres"),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		RedisURL:              getEnv("REDIS_URL", ""),
		JWTSecret:             getEnv("JWT_SECRET", "your-secret-key"),
		JWTExpiration:         parseDuration(getEnv("JWT_EXPIRATION", "24h"), 24*time.Hour),
		CORSAllowedOrigins:    splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")),
		MatchingInterval:      parseDuration(getEnv("MATCHING_INTERVAL", "5s"), 5*time.Second),
		MatchingTimeout:       parseDuration(getEnv("MATCHING_TIMEOUT", "5m"), 5*time.Minute),
		MatchingAcceptTimeout: parseDuration(getEnv("MATCHING_ACCEPT_TIMEOUT", "60s"), 60*time.Second),
		MatchingMinDwell:      parseDuration(getEnv("MATCHING_MIN_DWELL", "2s"), 2*time.Second),
		MatchingCrossTier:     parseBool(getEnv("MATCHING_CROSS_TIER", "false")),
		MatchingMode:          getEnv("MATCHING_MODE", MatchModeAutoConnect),
		QueueRetention:        parseDuration(getEnv("QUEUE_RETENTION", "24h"), 24*time.Hour),
		DefaultMaxWait:        parseDuration(getEnv("DEFAULT_MAX_WAIT", "300s"), 300*time.Second),
		DefaultAvatarURL:      getEnv("DEFAULT_AVATAR_URL", "/static/avatars/anonymous.png"),
		SignalingBackend:      getEnv("SIGNALING_BACKEND", SignalingBackendMemory),
		SignalingTTL:          parseDuration(getEnv("SIGNALING_TTL", "2h"), 2*time.Hour),
		ICEServerURLs:         splitList(getEnv("RTC_ICE_SERVERS", "stun:stun.l.google.com:19302,stun:stun1.l.google.com:19302")),
		ICEUsername:           strings.TrimSpace(os.Getenv("RTC_ICE_USERNAME")),
		ICECredential:         strings.TrimSpace(os.Getenv("RTC_ICE_CREDENTIAL")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate 설정 값 검증
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver)
	}

	switch c.MatchingMode {
	case MatchModeAutoConnect, MatchModeExplicitAccept:
	default:
		return fmt.Errorf("unsupported MATCHING_MODE %q", c.MatchingMode)
	}

	switch c.SignalingBackend {
	case SignalingBackendMemory:
	case SignalingBackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("SIGNALING_BACKEND=redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("unsupported SIGNALING_BACKEND %q", c.SignalingBackend)
	}

	if c.MatchingInterval <= 0 || c.MatchingTimeout <= 0 {
		return fmt.Errorf("matching interval and timeout must be positive")
	}
	if c.MatchingAcceptTimeout <= 0 {
		return fmt.Errorf("MATCHING_ACCEPT_TIMEOUT must be positive")
	}
	if c.MatchingMinDwell < 0 || c.QueueRetention <= 0 || c.DefaultMaxWait <= 0 {
		return fmt.Errorf("invalid queue timing configuration")
	}

	return nil
}

// IsProduction 운영 환경 여부
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false
	}
	return b
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
