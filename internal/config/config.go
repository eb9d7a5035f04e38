package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

// Config holds all application configuration
type Config struct {
	// Server
	Environment    string
	Port           string
	LogLevel       string
	AllowedOrigins []string

	// Gateway
	GatewayMode    string // "graphql", "memory"
	GatewayURL     string
	GatewayTimeout time.Duration

	// Query cache
	CacheStore  string // "memory", "redis", "postgres"
	CacheTTL    time.Duration
	RedisURL    string
	DatabaseURL string

	// Per-viewer reconciler state unused this long is dropped
	StateIdleTTL time.Duration

	// JWT
	JWTSecret string

	// WebSocket
	WSSendBuffer int
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		// Server
		Environment:    getEnv("ENVIRONMENT", "development"),
		Port:           getEnv("PORT", "8080"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		AllowedOrigins: getListEnv("ALLOWED_ORIGINS"),

		// Gateway
		GatewayMode:    getEnv("GATEWAY_MODE", "graphql"),
		GatewayURL:     getEnv("GATEWAY_URL", "http://localhost:4000/graphql"),
		GatewayTimeout: getDuration("GATEWAY_TIMEOUT", 10*time.Second),

		// Query cache
		CacheStore:  getEnv("CACHE_STORE", "memory"),
		CacheTTL:    getDuration("CACHE_TTL", 5*time.Minute),
		RedisURL:    getEnv("REDIS_URL", ""),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		StateIdleTTL: getDuration("STATE_IDLE_TTL", 30*time.Minute),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", defaultJWTSecret),

		// WebSocket
		WSSendBuffer: getIntEnv("WS_SEND_BUFFER", 64),
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.GatewayMode {
	case "graphql":
		if c.GatewayURL == "" {
			return fmt.Errorf("GATEWAY_URL is required when GATEWAY_MODE=graphql")
		}
	case "memory":
		if c.Environment == "production" {
			return fmt.Errorf("GATEWAY_MODE=memory is not allowed in production")
		}
	default:
		return fmt.Errorf("unknown GATEWAY_MODE %q", c.GatewayMode)
	}

	switch c.CacheStore {
	case "memory":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when CACHE_STORE=redis")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when CACHE_STORE=postgres")
		}
	default:
		return fmt.Errorf("unknown CACHE_STORE %q", c.CacheStore)
	}

	if c.JWTSecret == "" || c.JWTSecret == defaultJWTSecret {
		if c.Environment == "production" {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
	}
	if c.StateIdleTTL <= 0 {
		return fmt.Errorf("STATE_IDLE_TTL must be positive")
	}
	if c.WSSendBuffer <= 0 {
		return fmt.Errorf("WS_SEND_BUFFER must be positive")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getListEnv(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
