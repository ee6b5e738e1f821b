package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Load loads configuration from a file path and applies environment variable overrides
// Validation is deferred to allow CLI flag overrides to be applied first
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		fileConfig, err := loadFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = fileConfig
	}

	applyEnvironmentOverrides(cfg)

	// Note: Validation is NOT performed here to allow CLI flags to override
	// Call cfg.Validate() after applying CLI overrides in the caller

	return cfg, nil
}

// loadFromFile loads configuration from a JSON file on top of the defaults
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigFileNotFound
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfigFormat, err)
	}

	return cfg, nil
}

// applyEnvironmentOverrides applies configuration from environment variables
func applyEnvironmentOverrides(cfg *Config) {
	if apiURL := os.Getenv("PRODUCTSYNC_API_BASE_URL"); apiURL != "" {
		cfg.APIBaseURL = apiURL
	}

	if token := os.Getenv("PRODUCTSYNC_TOKEN"); token != "" {
		cfg.Token = token
	}

	if sub := os.Getenv("PRODUCTSYNC_DEV_SUB"); sub != "" {
		cfg.DevSub = sub
	}

	if dir := os.Getenv("PRODUCTSYNC_STATE_DIR"); dir != "" {
		cfg.StateDir = dir
	}

	if redisURL := os.Getenv("PRODUCTSYNC_REDIS_URL"); redisURL != "" {
		cfg.RedisURL = redisURL
	}

	if logLevel := os.Getenv("PRODUCTSYNC_LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}

	if debug := os.Getenv("PRODUCTSYNC_DEBUG"); debug == "true" || debug == "1" {
		cfg.Debug = true
	}
}

// LoadFromEnvironment creates a configuration using only environment variables
// Validation is deferred to allow CLI flag overrides to be applied first
func LoadFromEnvironment() (*Config, error) {
	cfg := DefaultConfig()
	applyEnvironmentOverrides(cfg)
	return cfg, nil
}

// LoadServer reads the server configuration from environment variables and validates it
func LoadServer() (*Server, error) {
	s := &Server{
		HTTPAddr:       env("HTTP_ADDR", ":3000"),
		Env:            env("ENV", "dev"),
		LogLevel:       env("LOG_LEVEL", "info"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		JWTSecret:      os.Getenv("JWT_HS256_SECRET"),
		JWTIssuer:      os.Getenv("JWT_ISSUER"),
		DevMode:        envBool("DEV_MODE"),
		AllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
	}

	var err error
	if s.RateLimitMax, err = envInt("RATE_LIMIT_MAX", 600); err != nil {
		return nil, err
	}
	if s.RateLimitBurst, err = envInt("RATE_LIMIT_BURST", 120); err != nil {
		return nil, err
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string) bool {
	v := os.Getenv(key)
	return v == "true" || v == "1"
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

// splitList splits a comma-separated list, dropping blanks
func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
