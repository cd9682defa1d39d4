package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config holds storage backend configuration.
type Config struct {
	// WorkspaceRoot is the workspace directory. Runs live in <root>/runs.
	WorkspaceRoot string `yaml:"workspace_root"`
}

// Validate checks the configuration and normalizes WorkspaceRoot to an
// absolute path.
func (c *Config) Validate() error {
	if c.WorkspaceRoot == "" {
		return NewInvalidInputError("workspace_root", "workspace root directory is required")
	}

	if strings.HasPrefix(c.WorkspaceRoot, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		c.WorkspaceRoot = filepath.Join(home, c.WorkspaceRoot[2:])
	}

	absPath, err := filepath.Abs(c.WorkspaceRoot)
	if err != nil {
		return NewInvalidInputError("workspace_root", fmt.Sprintf("invalid path: %v", err))
	}
	c.WorkspaceRoot = absPath
	return nil
}

// Factory creates a Backend.
type Factory func(ctx context.Context, cfg *Config) (Backend, error)

// DefaultFactory is the backend factory used by NewBackend.
var DefaultFactory Factory = func(ctx context.Context, cfg *Config) (Backend, error) {
	b, err := NewLocalBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// NewBackend validates cfg, creates a backend with DefaultFactory and
// initializes it.
func NewBackend(ctx context.Context, cfg *Config) (Backend, error) {
	if cfg == nil {
		return nil, NewInvalidInputError("config", "storage config is required")
	}
	if DefaultFactory == nil {
		return nil, fmt.Errorf("no storage backend factory registered")
	}

	backend, err := DefaultFactory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create storage backend: %w", err)
	}
	if err := backend.Initialize(ctx); err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("initialize storage backend: %w", err)
	}
	return backend, nil
}
