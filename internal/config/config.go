package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string

	// Upstream triage services
	TriageBaseURL    string
	CatalogBaseURL   string
	CartBaseURL      string
	HistoryTurnLimit int

	// Session lifecycle
	CompletionDelay time.Duration
	WelcomeMessage  string

	// Bundled session-store service
	SessionStoreEnabled bool
	DatabaseURL         string

	// Transcript cache
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	CORSAllowedOrigins []string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		TriageBaseURL:    getEnv("TRIAGE_BASE_URL", "http://localhost:8080"),
		CatalogBaseURL:   getEnv("CATALOG_BASE_URL", ""),
		CartBaseURL:      getEnv("CART_BASE_URL", ""),
		HistoryTurnLimit: getEnvAsInt("HISTORY_TURN_LIMIT", 16),

		CompletionDelay: getEnvAsDuration("COMPLETION_DELAY", time.Second),
		WelcomeMessage:  getEnv("WELCOME_MESSAGE", "Halo! Ceritakan keluhan yang Anda rasakan, saya bantu cek."),

		SessionStoreEnabled: getEnvAsBool("SESSION_STORE_ENABLED", true),
		DatabaseURL:         getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		CORSAllowedOrigins: splitAndTrim(getEnv("CORS_ALLOWED_ORIGINS", "")),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func splitAndTrim(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
