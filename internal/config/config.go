// Package config loads the core's environment-driven configuration plus
// the YAML model-routing table referenced by MODEL_ROUTES_FILE: godotenv
// for local .env loading, goccy/go-yaml for the routing file, plain
// getEnvOrDefault helpers for everything else.
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every environment variable the core recognizes.
type Config struct {
	ListenAddr string
	AuthSecret string
	LogLevel string
	BlobBucket string
	MaxConnections int
	QueueCapacity int

	DatabaseURL string
	ModelRoutesFile string
	JWTValidatorType string
	JWKSURL string
	MetricsAddr string
	CORSAllowedOrigins string
	InstanceID string

	// TTSSessionTTL and TTSCleanupInterval drive the background session
	// reaper (cmd/server/main.go): a session idle longer than TTSSessionTTL
	// is swept every TTSCleanupInterval. Named for the TTS-heavy sessions
	// that motivated the sweep (a duplex TTS connection left idle holds a
	// session row open indefinitely otherwise), but the reaper applies to
	// every session regardless of workflow type.
	TTSSessionTTL time.Duration
	TTSCleanupInterval time.Duration
}

// Load reads configuration from the process environment, loading a local
//.env file first when present (pattern; harmless in prod where
// no.env exists).
func Load() *Config {
	if err := godotenv.Load(".env"); err != nil {
		log.Println("no.env file found, using environment variables")
	}

	return &Config{
		ListenAddr: getEnvOrDefault("LISTEN_ADDR", ":8080"),
		AuthSecret: getEnvOrDefault("AUTH_SECRET", ""),
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
		BlobBucket: getEnvOrDefault("BLOB_BUCKET", "streamgate-uploads"),
		MaxConnections: getEnvAsInt("MAX_CONNECTIONS", 10_000),
		QueueCapacity: getEnvAsInt("QUEUE_CAPACITY", 128),

		DatabaseURL: getEnvOrDefault("DATABASE_URL", "postgres://localhost/streamgate?sslmode=disable"),
		ModelRoutesFile: getEnvOrDefault("MODEL_ROUTES_FILE", "model_routes.yaml"),
		JWTValidatorType: getEnvOrDefault("JWT_VALIDATOR_TYPE", "hs256"),
		JWKSURL: getEnvOrDefault("JWKS_URL", ""),
		MetricsAddr: getEnvOrDefault("METRICS_ADDR", ":9090"),
		CORSAllowedOrigins: getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*"),
		InstanceID: getEnvOrDefault("INSTANCE_ID", "streamgate-0"),

		TTSSessionTTL: getEnvAsDuration("TTS_SESSION_TTL", 10*time.Minute),
		TTSCleanupInterval: getEnvAsDuration("TTS_CLEANUP_INTERVAL", time.Minute),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
		log.Printf("warning: failed to parse %s=%q as int, using default %d", key, v, defaultValue)
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
		log.Printf("warning: failed to parse %s=%q as duration, using default %v", key, v, defaultValue)
	}
	return defaultValue
}
