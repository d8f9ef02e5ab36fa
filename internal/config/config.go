package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServerPort       string
	DatabaseURL      string
	RedisURL         string
	ProviderBaseURL  string
	CallsPerSecond   float64
	DefaultSyncDelay time.Duration
	StaleAttemptAge  time.Duration
	SyncInterval     time.Duration
	WorkerLimit      int
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		ServerPort:      getEnv("SERVER_PORT", "8080"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		ProviderBaseURL: getEnv("PROVIDER_BASE_URL", "https://esi.evetech.net/latest"),
	}

	var err error
	if cfg.CallsPerSecond, err = getEnvFloat("CALLS_PER_SECOND", 5); err != nil {
		return nil, err
	}
	if cfg.DefaultSyncDelay, err = getEnvDuration("DEFAULT_SYNC_DELAY", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.StaleAttemptAge, err = getEnvDuration("STALE_ATTEMPT_AGE", time.Hour); err != nil {
		return nil, err
	}
	if cfg.SyncInterval, err = getEnvDuration("SYNC_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.WorkerLimit, err = getEnvInt("WORKER_LIMIT", 8); err != nil {
		return nil, err
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}

	return cfg, nil
}

// Helper: get env with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s format", key)
	}
	return d, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s format", key)
	}
	return f, nil
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s format", key)
	}
	return n, nil
}
