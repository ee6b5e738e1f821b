package config

import (
	"net/url"
	"strings"
	"time"
)

// Config holds all configuration for the productsync client
type Config struct {
	APIBaseURL string `json:"apiBaseUrl"`
	Token      string `json:"token,omitempty"`
	// DevSub authenticates as a raw subject against a server in dev mode
	DevSub   string `json:"devSub,omitempty"`
	StateDir string `json:"stateDir,omitempty"`
	// RedisURL switches the durable local store from files to Redis
	RedisURL string `json:"redisUrl,omitempty"`
	LogLevel string `json:"logLevel"`
	Debug    bool   `json:"debug"`
	// ProbeIntervalSeconds controls how often reachability is checked
	ProbeIntervalSeconds int `json:"probeIntervalSeconds,omitempty"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return ErrMissingAPIBaseURL
	}
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidAPIBaseURL
	}

	if c.Token == "" && c.DevSub == "" {
		return ErrMissingCredentials
	}

	if c.RedisURL == "" && c.StateDir == "" {
		return ErrMissingStateDir
	}

	return nil
}

// LiveURL derives the WebSocket endpoint from the API base URL
func (c *Config) LiveURL() string {
	base := strings.TrimRight(c.APIBaseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws"
}

// ProbeInterval returns the reachability polling interval
func (c *Config) ProbeInterval() time.Duration {
	if c.ProbeIntervalSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.ProbeIntervalSeconds) * time.Second
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		APIBaseURL: "http://localhost:3000",
		StateDir:   ".productsync",
		LogLevel:   "info",
	}
}

// Server holds the API server configuration, read from the environment
type Server struct {
	HTTPAddr       string
	Env            string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	JWTSecret      string
	JWTIssuer      string
	DevMode        bool
	AllowedOrigins []string
	// RateLimitMax requests per minute per owner; 0 disables limiting
	RateLimitMax   int
	RateLimitBurst int
}

// Validate checks if the server configuration is valid
func (s *Server) Validate() error {
	if !s.DevMode && s.JWTSecret == "" {
		return ErrMissingJWTSecret
	}
	if s.RateLimitMax < 0 || s.RateLimitBurst < 0 {
		return ErrInvalidRateLimit
	}
	return nil
}

// IsProduction reports whether logs should be JSON rather than console
func (s *Server) IsProduction() bool {
	return s.Env != "dev"
}
