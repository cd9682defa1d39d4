package bind

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vulntor/scanpilot/pkg/config"
	"github.com/vulntor/scanpilot/pkg/orchestrator"
)

// BindServeOptions validates the server section after flags were merged into
// cfg and applies --token-env when set.
//
// Flags read:
//   - --token-env: name of an environment variable holding the API token
func BindServeOptions(cmd *cobra.Command, cfg config.Config, getenv func(string) string) (config.Config, error) {
	tokenEnv, _ := cmd.Flags().GetString("token-env")
	if tokenEnv != "" {
		token := getenv(tokenEnv)
		if token == "" {
			return cfg, fmt.Errorf("%w: environment variable %s is empty", orchestrator.ErrInvalidSpec, tokenEnv)
		}
		cfg.Server.Token = token
	}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return cfg, fmt.Errorf("%w: listen port %d out of range", orchestrator.ErrInvalidSpec, cfg.Server.Port)
	}
	if cfg.Server.Concurrency < 1 {
		return cfg, fmt.Errorf("%w: concurrency must be at least 1, got %d", orchestrator.ErrInvalidSpec, cfg.Server.Concurrency)
	}
	return cfg, nil
}
