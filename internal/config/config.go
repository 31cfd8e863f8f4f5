// Package config は環境変数からアプリケーション設定を読み込む。
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
	ServerPort  string
	MetricsPort string

	// Publish worker
	PollInterval         time.Duration
	PublishMaxConcurrent int
	PublishTimeout       time.Duration

	// Redis（ティックのリース。空の場合はリースなし）
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TickLeaseTTL  time.Duration

	// Media probe
	MediaProbeEnabled bool
	MediaProbeTimeout time.Duration

	// Session cleanup
	SessionCleanupSchedule string

	// Rate Limit（req/min/user）
	RateLimitGeneral  int
	RateLimitSchedule int

	// CORS
	CORSAllowedOrigin string

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
// 任意の値が解析できない場合はデフォルト値を使う。
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

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.MetricsPort = getEnvString("METRICS_PORT", "9090")
	cfg.PollInterval = getEnvDuration("POLL_INTERVAL", time.Minute)
	cfg.PublishMaxConcurrent = getEnvInt("PUBLISH_MAX_CONCURRENT", 4)
	cfg.PublishTimeout = getEnvDuration("PUBLISH_TIMEOUT", 30*time.Second)
	cfg.RedisAddr = getEnvString("REDIS_ADDR", "")
	cfg.RedisPassword = getEnvString("REDIS_PASSWORD", "")
	cfg.RedisDB = getEnvInt("REDIS_DB", 0)
	cfg.TickLeaseTTL = getEnvDuration("TICK_LEASE_TTL", 0)
	cfg.MediaProbeEnabled = getEnvBool("MEDIA_PROBE_ENABLED", false)
	cfg.MediaProbeTimeout = getEnvDuration("MEDIA_PROBE_TIMEOUT", 5*time.Second)
	cfg.SessionCleanupSchedule = getEnvString("SESSION_CLEANUP_SCHEDULE", "@daily")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitSchedule = getEnvInt("RATE_LIMIT_SCHEDULE", 30)
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "")
	cfg.LogLevel = strings.ToLower(getEnvString("LOG_LEVEL", "info"))

	if cfg.PollInterval < time.Second {
		return nil, fmt.Errorf("POLL_INTERVAL must be at least 1s: %v", cfg.PollInterval)
	}
	if cfg.PublishMaxConcurrent <= 0 {
		cfg.PublishMaxConcurrent = 4
	}
	// リースはポーリング間隔より短くないと次のティックが取得できない
	if cfg.TickLeaseTTL <= 0 || cfg.TickLeaseTTL >= cfg.PollInterval {
		cfg.TickLeaseTTL = cfg.PollInterval / 2
	}

	return cfg, nil
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

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
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
