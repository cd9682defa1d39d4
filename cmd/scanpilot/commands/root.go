package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vulntor/scanpilot/pkg/appctx"
	"github.com/vulntor/scanpilot/pkg/config"
	"github.com/vulntor/scanpilot/pkg/logging"
	"github.com/vulntor/scanpilot/pkg/orchestrator"
	"github.com/vulntor/scanpilot/pkg/paths"
	"github.com/vulntor/scanpilot/pkg/storage"
	"github.com/vulntor/scanpilot/pkg/workspace"
)

const cliExecutable = "scanpilot"

// NewCommand constructs the top-level scanpilot CLI command, wiring global
// flags, configuration loading, logging and the shared workspace.
func NewCommand() *cobra.Command {
	var (
		configFile     string
		debug          bool
		verbosityCount int
		backend        storage.Backend
		logCloser      io.Closer
	)

	// release closes what PersistentPreRunE opened. Cobra skips
	// PersistentPostRunE when RunE fails, so every RunE defers it instead.
	release := func() error {
		var errs []error
		if backend != nil {
			errs = append(errs, backend.Close())
			backend = nil
		}
		if logCloser != nil {
			errs = append(errs, logCloser.Close())
			logCloser = nil
		}
		return errors.Join(errs...)
	}

	cmd := &cobra.Command{
		Use:   cliExecutable,
		Short: "Scanpilot drives a ZAP scanner from submission to exported reports",
		Long: `Scanpilot connects to a running ZAP scanning service, submits an active scan,
polls it until it completes and exports the HTML and Markdown reports.

Runs are recorded in a local workspace and can be listed later, or driven
remotely through the control plane started by "scanpilot serve".`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) (err error) {
			defer func() {
				if err != nil {
					_ = release()
				}
			}()
			if configFile == "" {
				configFile = paths.DefaultConfigFile()
			}
			manager := config.NewManager()
			if err := manager.Load(config.DefaultSources(configFile, cmd.Flags(), debug || verbosityCount > 0)...); err != nil {
				return orchestrator.WithErrorCode(fmt.Errorf("load configuration: %w", err), orchestrator.CodeInvalidInput)
			}
			cfg := manager.Get()

			closer, err := logging.ConfigureGlobalLogging(cfg.Log)
			if err != nil {
				return fmt.Errorf("configure logging: %w", err)
			}
			logCloser = closer
			if verbosityCount > 1 {
				logging.ConfigureGlobal(zerolog.TraceLevel)
			}

			prepared, err := workspace.Prepare(cfg.Workspace.Dir)
			if err != nil {
				return fmt.Errorf("prepare workspace: %w", err)
			}
			log.Debug().Str("workspace", prepared).Msg("workspace ready")

			backend, err = storage.NewBackend(cmd.Context(), &storage.Config{WorkspaceRoot: prepared})
			if err != nil {
				return fmt.Errorf("open run store: %w", err)
			}

			ctx := appctx.WithConfig(cmd.Context(), manager)
			ctx = workspace.WithContext(ctx, prepared)
			ctx = storage.WithBackend(ctx, backend)

			cmd.SetContext(ctx)
			if root := cmd.Root(); root != nil && root != cmd {
				root.SetContext(ctx)
			}
			return nil
		},
	}

	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path (default: <config dir>/scanpilot/config.yaml)")
	cmd.PersistentFlags().String("workspace-dir", "", "Override workspace root directory")
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().CountVarP(&verbosityCount, "verbosity", "v", "Increase logging verbosity (repeatable)")
	cmd.PersistentFlags().Bool("no-color", false, "Disable colored output")
	cmd.PersistentFlags().BoolP("quiet", "q", false, "Suppress summaries and suggestions")
	cmd.PersistentFlags().String("log-file", "", "Also write JSON logs to this rotated file")
	cmd.PersistentFlags().String("log-format", "", "Console log format: text | json")

	cmd.AddGroup(&cobra.Group{ID: "scan", Title: "Scan Commands"})
	cmd.AddGroup(&cobra.Group{ID: "core", Title: "Core Commands"})

	cmd.AddCommand(newScanCommand())
	cmd.AddCommand(newRunsCommand())
	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newVersionCommand(cliExecutable))

	releaseAfterRun(cmd, release)
	return cmd
}

// releaseAfterRun wraps the RunE of every command under cmd so release
// runs whether or not the command succeeds. A release error is returned
// only when the command itself succeeded.
func releaseAfterRun(cmd *cobra.Command, release func() error) {
	for _, sub := range cmd.Commands() {
		releaseAfterRun(sub, release)
	}
	if cmd.RunE == nil {
		return
	}
	run := cmd.RunE
	cmd.RunE = func(c *cobra.Command, args []string) (err error) {
		defer func() {
			if cerr := release(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		return run(c, args)
	}
}

// backendFrom returns the run store opened by the root command.
func backendFrom(ctx context.Context) (storage.Backend, error) {
	b, ok := storage.BackendFromContext(ctx)
	if !ok {
		return nil, errors.New("run store is not available")
	}
	return b, nil
}
