package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Config holds all configuration for the survey CLI.
type Config struct {
	DatabaseURL string
	RedisURL    string
	Store       string
	SQLitePath  string
	LogMode     string
	ProjectRoot string

	PersistAttempts int
	PersistBackoff  time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	projectRoot, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}

	cfg := &Config{
		DatabaseURL: getEnv("SURVEY_DATABASE_URL", "postgres://localhost:5432/surveyflow?sslmode=disable"),
		RedisURL:    os.Getenv("SURVEY_REDIS_URL"),
		Store:       getEnv("SURVEY_STORE", StoreSQLite),
		SQLitePath:  getEnv("SURVEY_SQLITE_PATH", "surveyflow.db"),
		LogMode:     getEnv("SURVEY_LOG_MODE", "dev"),
		ProjectRoot: getEnv("SURVEY_PROJECT_ROOT", projectRoot),
	}

	switch cfg.Store {
	case StorePostgres, StoreSQLite:
	default:
		return nil, fmt.Errorf("SURVEY_STORE: unknown backend %q (want %s or %s)", cfg.Store, StorePostgres, StoreSQLite)
	}

	if v := os.Getenv("SURVEY_PERSIST_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("SURVEY_PERSIST_ATTEMPTS: %q is not a positive integer", v)
		}
		cfg.PersistAttempts = n
	}
	if v := os.Getenv("SURVEY_PERSIST_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("SURVEY_PERSIST_BACKOFF: %q is not a positive duration", v)
		}
		cfg.PersistBackoff = d
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
