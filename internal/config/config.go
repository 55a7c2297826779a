// Package config provides configuration for the annotator.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// FixtureBackend selects the embedded demo dataset instead of a remote backend.
const FixtureBackend = "fixture"

// Config holds the annotator configuration.
type Config struct {
	// Server settings
	HTTPPort int // backend REST API
	UIPort   int // annotation workbench

	// Database
	DatabaseURL string
	SeedDemo    bool

	// Store client settings
	BackendURL     string
	PublicWSURL    string
	RequestTimeout time.Duration

	// Placeholder identity recorded on every annotation
	Annotator string

	CORSOrigin string
	PolicyFile string

	// WebSocket settings
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64

	// Logging
	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables, after an optional .env file.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPPort:       getEnvInt("HTTP_PORT", 8000),
		UIPort:         getEnvInt("UI_PORT", 8001),
		DatabaseURL:    getEnv("DATABASE_URL", "file:annotator.db?cache=shared&mode=rwc"),
		SeedDemo:       getEnvBool("SEED_DEMO", true),
		BackendURL:     getEnv("BACKEND_URL", "http://localhost:8000/api"),
		PublicWSURL:    getEnv("PUBLIC_WS_URL", "ws://localhost:8000/ws"),
		RequestTimeout: time.Duration(getEnvInt("REQUEST_TIMEOUT_MS", 10000)) * time.Millisecond,
		Annotator:      getEnv("ANNOTATOR_ID", "anonymous"),
		CORSOrigin:     getEnv("CORS_ORIGIN", "*"),
		PolicyFile:     getEnv("POLICY_FILE", ""),
		PingInterval:   time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		WriteTimeout:   time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		ReadTimeout:    time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		MaxMessageSize: int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 65536)),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "text"),
	}
	return cfg
}

// UsesFixture reports whether the workbench should read from the embedded dataset.
func (c *Config) UsesFixture() bool {
	return strings.EqualFold(strings.TrimSpace(c.BackendURL), FixtureBackend)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if boolVal, err := strconv.ParseBool(val); err == nil {
			return boolVal
		}
	}
	return defaultVal
}
