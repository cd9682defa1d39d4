package api

import (
	"errors"
	"time"

	"github.com/vulntor/scanpilot/pkg/config"
)

// ErrInvalidTimeout is returned when a timeout value is negative.
var ErrInvalidTimeout = errors.New("invalid timeout: must be >= 0")

// Config holds API-level configuration.
type Config struct {
	// HandlerTimeout is the maximum duration for an API handler to complete.
	// Handlers that exceed it answer 504 Gateway Timeout. Zero disables it.
	//
	// Default: 30 seconds
	// Environment variable: SCANPILOT_SERVER_HANDLER_TIMEOUT
	HandlerTimeout time.Duration

	// Token, when set, must be presented as "Authorization: Bearer <token>".
	Token string
}

// DefaultConfig returns the default API configuration.
func DefaultConfig() Config {
	return Config{
		HandlerTimeout: 30 * time.Second,
	}
}

// ConfigFrom extracts the API settings from the server configuration.
func ConfigFrom(cfg config.ServerConfig) Config {
	return Config{
		HandlerTimeout: cfg.HandlerTimeout,
		Token:          cfg.Token,
	}
}

// Validate checks that the configuration is valid.
func (c Config) Validate() error {
	if c.HandlerTimeout < 0 {
		return ErrInvalidTimeout
	}
	return nil
}
