package commands

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vulntor/scanpilot/cmd/scanpilot/internal/bind"
	"github.com/vulntor/scanpilot/cmd/scanpilot/internal/format"
	"github.com/vulntor/scanpilot/pkg/appctx"
	"github.com/vulntor/scanpilot/pkg/config"
	"github.com/vulntor/scanpilot/pkg/logging"
	"github.com/vulntor/scanpilot/pkg/scanrun"
	"github.com/vulntor/scanpilot/pkg/server/app"
	"github.com/vulntor/scanpilot/pkg/zap"
)

func newServeCommand() *cobra.Command {
	def := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:     "serve",
		GroupID: "core",
		Short:   "Start the control plane server",
		Long: `Start an HTTP server that accepts runs on POST /api/v1/runs, executes them
on a bounded worker pool and serves the recorded runs.

The server stops gracefully on SIGINT or SIGTERM; runs still in flight are
recorded as cancelled.`,
		Example: `  scanpilot serve
  scanpilot serve --addr 0.0.0.0 --listen-port 9090 --concurrency 4
  SCANPILOT_TOKEN=s3cret scanpilot serve --token-env SCANPILOT_TOKEN`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := format.FromCommand(cmd)
			ctx := cmd.Context()

			cfg, err := bind.BindServeOptions(cmd, appctx.MustConfig(ctx), os.Getenv)
			if err != nil {
				return fail(out, err)
			}

			backend, err := backendFrom(ctx)
			if err != nil {
				return fail(out, err)
			}

			level := zerolog.GlobalLevel()
			runs := scanrun.NewService(zap.Dialer{Config: cfg.Scanner.ClientConfig()}, backend.Runs()).
				WithLogger(logging.NewLogger("scanrun", level))

			a, err := app.New(ctx, cfg, &app.Deps{
				Storage: backend,
				Runs:    runs,
				Logger:  logging.NewLogger("server", level),
			})
			if err != nil {
				return fail(out, err)
			}
			return a.Run(ctx)
		},
	}

	f := cmd.Flags()
	f.String("addr", def.Server.Addr, "Server listen address")
	f.Int("listen-port", def.Server.Port, "Server listen port")
	f.Int("concurrency", def.Server.Concurrency, "Number of concurrent runs")
	f.Int("queue-size", def.Server.QueueSize, "Queued runs before submissions are rejected")
	f.String("token-env", "", "Environment variable holding the API bearer token")
	f.String("host", def.Scanner.Host, "Scanner API host")
	f.Int("port", def.Scanner.Port, "Scanner API port")
	f.String("api-key", "", "Scanner API key")

	return cmd
}
