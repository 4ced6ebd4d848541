// Package config provides configuration loading for ava.
package config

import (
	"os"
	"runtime"
	"strconv"
	"time"
)

// Config holds all configuration for ava.
type Config struct {
	// Server configuration
	Port          string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	ShutdownGrace time.Duration

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Run journal configuration
	JournalType string // "memory" or "redis"
	JournalTTL  time.Duration
	EventMaxLen int64

	// Execution
	Workers       int
	KeepGoing     bool
	DispatchRate  float64 // dispatches per second, 0 = unlimited
	RenderTimeout time.Duration
	RenderWorkDir string

	// Tracing
	OTLPEndpoint string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		// Server
		Port:          getEnv("PORT", "7070"),
		ReadTimeout:   getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:  getDuration("WRITE_TIMEOUT", 30*time.Second),
		ShutdownGrace: getDuration("SHUTDOWN_GRACE", 10*time.Second),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "redis://localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),

		// Journal
		JournalType: getEnv("AVA_JOURNAL", "memory"), // "memory" or "redis"
		JournalTTL:  getDuration("JOURNAL_TTL", 7*24*time.Hour),
		EventMaxLen: getInt64("EVENT_MAX_LEN", 5000),

		// Execution
		Workers:       getInt("AVA_WORKERS", runtime.NumCPU()),
		KeepGoing:     getBool("AVA_KEEP_GOING", false),
		DispatchRate:  getFloat("AVA_DISPATCH_RATE", 0),
		RenderTimeout: getDuration("AVA_RENDER_TIMEOUT", 10*time.Minute),
		RenderWorkDir: getEnv("AVA_WORKDIR", ""),

		// Tracing
		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
