package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bianutri/backend/internal/domain"
	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Port        int
	JWTSecret   string
	DatabaseURL string
	CORSOrigins []string

	Trial domain.TrialConfig

	RedisURL             string
	SubscriptionCacheTTL time.Duration

	LogLevel  string
	LogFormat string
}

// LoadDotEnv reads a .env file into the environment if one exists. Variables
// already set are not overridden.
func LoadDotEnv(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	port, err := getInt("PORT", 4001)
	if err != nil {
		return nil, err
	}

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	dbURL := getEnv("DATABASE_URL", "")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	trial, err := loadTrial()
	if err != nil {
		return nil, err
	}

	cacheTTL, err := time.ParseDuration(getEnv("SUBSCRIPTION_CACHE_TTL", "5s"))
	if err != nil {
		return nil, fmt.Errorf("SUBSCRIPTION_CACHE_TTL: %w", err)
	}

	origins := strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:8080"), ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}

	return &Config{
		Port:                 port,
		JWTSecret:            jwtSecret,
		DatabaseURL:          dbURL,
		CORSOrigins:          origins,
		Trial:                trial,
		RedisURL:             getEnv("REDIS_URL", ""),
		SubscriptionCacheTTL: cacheTTL,
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFormat:            getEnv("LOG_FORMAT", "auto"),
	}, nil
}

// loadTrial derives the enforced limit. TRIAL_LIMIT_SECONDS wins over
// TRIAL_MINUTES when both are set.
func loadTrial() (domain.TrialConfig, error) {
	minutes, err := getInt("TRIAL_MINUTES", domain.DefaultTrialMinutes)
	if err != nil {
		return domain.TrialConfig{}, err
	}
	limit, err := getInt("TRIAL_LIMIT_SECONDS", minutes*60)
	if err != nil {
		return domain.TrialConfig{}, err
	}
	maxIncrement, err := getInt("TRIAL_MAX_INCREMENT_SECONDS", domain.DefaultMaxIncrementSeconds)
	if err != nil {
		return domain.TrialConfig{}, err
	}
	heartbeat, err := getInt("HEARTBEAT_INTERVAL_SECONDS", int(domain.DefaultHeartbeatInterval/time.Second))
	if err != nil {
		return domain.TrialConfig{}, err
	}

	switch {
	case limit <= 0:
		return domain.TrialConfig{}, fmt.Errorf("trial limit must be positive, got %d seconds", limit)
	case maxIncrement <= 0:
		return domain.TrialConfig{}, fmt.Errorf("TRIAL_MAX_INCREMENT_SECONDS must be positive, got %d", maxIncrement)
	case heartbeat <= 0 || heartbeat > maxIncrement:
		return domain.TrialConfig{}, fmt.Errorf("HEARTBEAT_INTERVAL_SECONDS must be between 1 and %d, got %d", maxIncrement, heartbeat)
	}

	return domain.TrialConfig{
		LimitSeconds:        limit,
		Minutes:             (limit + 59) / 60,
		HeartbeatSeconds:    heartbeat,
		MaxIncrementSeconds: maxIncrement,
	}, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}
