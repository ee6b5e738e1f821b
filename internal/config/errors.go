package config

import "errors"

var (
	// ErrMissingAPIBaseURL indicates that the API base URL is not configured
	ErrMissingAPIBaseURL = errors.New("apiBaseUrl is required in configuration")

	// ErrInvalidAPIBaseURL indicates that the API base URL is not an http(s) URL
	ErrInvalidAPIBaseURL = errors.New("apiBaseUrl must be an absolute http or https URL")

	// ErrMissingCredentials indicates that neither a token nor a dev subject is configured
	ErrMissingCredentials = errors.New("token is required unless devSub is set")

	// ErrMissingStateDir indicates that no local state directory is configured
	ErrMissingStateDir = errors.New("stateDir is required when redisUrl is not set")

	// ErrMissingJWTSecret indicates that the server has no signing secret outside dev mode
	ErrMissingJWTSecret = errors.New("JWT_HS256_SECRET is required when not in dev mode")

	// ErrInvalidRateLimit indicates negative rate limit settings
	ErrInvalidRateLimit = errors.New("rate limit values must not be negative")

	// ErrConfigFileNotFound indicates that the config file was not found
	ErrConfigFileNotFound = errors.New("configuration file not found")

	// ErrInvalidConfigFormat indicates that the config file has invalid JSON
	ErrInvalidConfigFormat = errors.New("invalid configuration file format")
)
