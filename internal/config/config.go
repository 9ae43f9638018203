package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv        string
	Port          string
	DatabaseURL   string
	RedisURL      string
	PublicBaseURL string
	LogLevel      string
	LogFormat     string

	// MaxSinksPerChannel limits concurrent subscriber connections per channel.
	MaxSinksPerChannel int
	// KeepaliveInterval is the streaming-sink ping period.
	KeepaliveInterval time.Duration
}

func Load() (*Config, error) {
	// Missing .env is fine; real deployments use plain environment variables.
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:        getEnv("APP_ENV", "development"),
		Port:          getEnv("PORT", "8080"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisURL:      getEnv("REDIS_URL", ""),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "text"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	if cfg.PublicBaseURL != "" {
		u, err := url.Parse(cfg.PublicBaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("PUBLIC_BASE_URL must be an absolute URL")
		}
	}

	var err error
	cfg.MaxSinksPerChannel, err = getEnvInt("MAX_SINKS_PER_CHANNEL", 50)
	if err != nil {
		return nil, err
	}
	if cfg.MaxSinksPerChannel < 1 {
		return nil, fmt.Errorf("MAX_SINKS_PER_CHANNEL must be at least 1")
	}

	keepaliveSeconds, err := getEnvInt("KEEPALIVE_INTERVAL_SECONDS", 30)
	if err != nil {
		return nil, err
	}
	if keepaliveSeconds < 1 {
		return nil, fmt.Errorf("KEEPALIVE_INTERVAL_SECONDS must be at least 1")
	}
	cfg.KeepaliveInterval = time.Duration(keepaliveSeconds) * time.Second

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}
