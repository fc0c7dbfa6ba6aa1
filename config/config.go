package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Server
	Port      string
	JWTSecret string

	// Database
	DBPath string

	// Rebuild pipeline
	GroupWorkers      int            // parallel (account, symbol) groups per user
	UserWorkers       int            // parallel users in batch/background runs
	ProcessorInterval time.Duration  // background incremental rebuild cadence
	MarketTimezone    *time.Location // calendar used for the intraday/multiday split
}

// Load reads configuration from environment variables, with a .env file as an
// optional source. Validation problems are collected and reported together.
func Load() (*Config, error) {
	// Allow running from pure env vars, .env is optional.
	_ = godotenv.Load()

	cfg := &Config{}
	var errs []string

	cfg.Port = getEnv("PORT", "8080")

	cfg.JWTSecret = getEnv("JWT_SECRET", "")
	if cfg.JWTSecret == "" {
		errs = append(errs, "JWT_SECRET must be set")
	}

	cfg.DBPath = getEnv("DB_PATH", "journal.db")

	var err error
	cfg.GroupWorkers, err = getEnvAsInt("GROUP_WORKERS", 4)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid GROUP_WORKERS: %v", err))
	} else if cfg.GroupWorkers <= 0 {
		errs = append(errs, "GROUP_WORKERS must be positive")
	}

	cfg.UserWorkers, err = getEnvAsInt("USER_WORKERS", 4)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid USER_WORKERS: %v", err))
	} else if cfg.UserWorkers <= 0 {
		errs = append(errs, "USER_WORKERS must be positive")
	}

	cfg.ProcessorInterval, err = getEnvAsDuration("PROCESSOR_INTERVAL", 5*time.Minute)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid PROCESSOR_INTERVAL: %v", err))
	}

	tzName := getEnv("MARKET_TIMEZONE", "America/New_York")
	cfg.MarketTimezone, err = time.LoadLocation(tzName)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MARKET_TIMEZONE %q: %v", tzName, err))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	return strconv.Atoi(value)
}

func getEnvAsDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	return time.ParseDuration(value)
}
