package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	DatabaseURL string
	Port        string
	JWTSecret   string

	// Optional Redis cache for last-known partner locations. Empty
	// means the cache is disabled and reads fall through to Postgres.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Firebase credentials (either may be empty; push disabled if both are)
	FirebaseCredentialsFile   string
	FirebaseCredentialsBase64 string

	// Presence tuning
	HeartbeatSweepInterval time.Duration
	HeartbeatTimeout       time.Duration

	// Geofencing
	ArrivalRadiusMeters float64
	JobCatchmentKm      float64
}

// Load reads configuration from the environment. DATABASE_URL and
// APP_JWT_SECRET are required; everything else has a default.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:               os.Getenv("DATABASE_URL"),
		Port:                      getEnv("PORT", "8080"),
		JWTSecret:                 os.Getenv("APP_JWT_SECRET"),
		RedisAddr:                 os.Getenv("REDIS_ADDR"),
		RedisPassword:             os.Getenv("REDIS_PASSWORD"),
		RedisDB:                   getEnvInt("REDIS_DB", 0),
		FirebaseCredentialsFile:   os.Getenv("FIREBASE_CREDENTIALS_FILE"),
		FirebaseCredentialsBase64: os.Getenv("FIREBASE_CREDENTIALS_BASE64"),
		HeartbeatSweepInterval:    time.Duration(getEnvInt("HEARTBEAT_SWEEP_SECONDS", 5)) * time.Second,
		HeartbeatTimeout:          time.Duration(getEnvInt("HEARTBEAT_TIMEOUT_SECONDS", 20)) * time.Second,
		ArrivalRadiusMeters:       getEnvFloat("ARRIVAL_RADIUS_METERS", 50),
		JobCatchmentKm:            getEnvFloat("JOB_CATCHMENT_KM", 8),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("APP_JWT_SECRET environment variable is required")
	}
	if cfg.HeartbeatSweepInterval <= 0 || cfg.HeartbeatTimeout <= 0 {
		return nil, fmt.Errorf("heartbeat sweep interval and timeout must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
