package config

import (
	"os"
	"strconv"
	"time"
)

// Server holds configuration for the reference widget server.
type Server struct {
	// Server settings
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PublicURL    string

	// Auth settings
	PublicKey string
	JWTSecret string

	// NATS settings (optional session persistence)
	NATSURL   string
	NATSToken string

	// LLM settings
	AnthropicAPIKey string
	OpenAIAPIKey    string
	DefaultModel    string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// LoadServer reads server configuration from environment variables.
func LoadServer() *Server {
	return &Server{
		Port:         getEnv("PORT", "8080"),
		ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),
		PublicURL:    getEnv("PUBLIC_URL", "http://localhost:8080"),

		PublicKey: getEnv("WIDGET_PUBLIC_KEY", ""),
		JWTSecret: getEnv("JWT_SECRET", ""),

		NATSURL:   getEnv("NATS_URL", ""),
		NATSToken: getEnv("NATS_TOKEN", ""),

		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		DefaultModel:    getEnv("DEFAULT_MODEL", ""),

		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		LogLevel: getEnv("LOG_LEVEL", "info"),

		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
