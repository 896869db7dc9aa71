package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS（変更フィードのWebSocket Originにも使用する）
	CORSAllowedOrigin string

	// Rate Limit（ユーザーごとの1分あたりリクエスト数）
	RateLimitGeneral int
	RateLimitWrite   int

	// Notify
	NotifyBufferSize        int
	NotifyKeepAliveInterval time.Duration
	WebhookURL              string
	WebhookTimeout          time.Duration

	// Aggregation
	DefaultTimezone  string
	DefaultWeekStart string

	// Cleanup
	CleanupInterval        time.Duration
	LegacyTagRetentionDays int

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitWrite = getEnvInt("RATE_LIMIT_WRITE", 60)
	cfg.NotifyBufferSize = getEnvInt("NOTIFY_BUFFER_SIZE", 16)
	cfg.NotifyKeepAliveInterval = getEnvDuration("NOTIFY_KEEPALIVE_INTERVAL", 30*time.Second)
	cfg.WebhookURL = getEnvString("WEBHOOK_URL", "")
	cfg.WebhookTimeout = getEnvDuration("WEBHOOK_TIMEOUT", 5*time.Second)
	cfg.DefaultTimezone = getEnvString("DEFAULT_TIMEZONE", "UTC")
	cfg.DefaultWeekStart = strings.ToLower(getEnvString("DEFAULT_WEEK_START", "monday"))
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)
	cfg.LegacyTagRetentionDays = getEnvInt("LEGACY_TAG_RETENTION_DAYS", 30)
	cfg.LogLevel = strings.ToLower(getEnvString("LOG_LEVEL", "info"))

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate は起動前に検出できる設定値の誤りを返す。
func (c *Config) validate() error {
	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
		return fmt.Errorf("invalid DEFAULT_TIMEZONE %q: %w", c.DefaultTimezone, err)
	}
	switch c.DefaultWeekStart {
	case "sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday":
	default:
		return fmt.Errorf("invalid DEFAULT_WEEK_START %q", c.DefaultWeekStart)
	}
	if c.NotifyBufferSize <= 0 {
		return fmt.Errorf("NOTIFY_BUFFER_SIZE must be positive: %d", c.NotifyBufferSize)
	}
	if c.RateLimitGeneral <= 0 || c.RateLimitWrite <= 0 {
		return fmt.Errorf("rate limits must be positive: general=%d write=%d", c.RateLimitGeneral, c.RateLimitWrite)
	}
	return nil
}

// LegacyTagRetention はレガシータグの保持期間を返す。
func (c *Config) LegacyTagRetention() time.Duration {
	return time.Duration(c.LegacyTagRetentionDays) * 24 * time.Hour
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
