package bind

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/vulntor/scanpilot/pkg/config"
	"github.com/vulntor/scanpilot/pkg/orchestrator"
)

func newScanCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "scan"}
	cmd.Flags().StringArray("format", nil, "")
	cmd.Flags().Int("parallel", 1, "")
	cmd.Flags().Bool("progress", false, "")
	require.NoError(t, cmd.Flags().Parse(args))
	return cmd
}

func TestBindScanOptions_Defaults(t *testing.T) {
	cfg := config.DefaultConfig()
	cmd := newScanCmd(t)

	opts, err := BindScanOptions(cmd, []string{"https://example.com"}, cfg)
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com"}, opts.Targets)
	require.Equal(t, orchestrator.Endpoint{Host: "localhost", Port: 8090}, opts.Endpoint)
	require.Equal(t, orchestrator.DefaultPolicy, opts.Policy)
	require.Equal(t, 5*time.Second, opts.Options.PollInterval)
	require.Equal(t, 1, opts.Parallel)
	require.False(t, opts.Progress)
	require.Equal(t, []orchestrator.ReportFormat{
		{Name: "traditional-html", Destination: "zap-report.html"},
		{Name: "markdown", Destination: "zap-report.md"},
	}, opts.Reports)

	p := opts.Params("https://example.com")
	require.False(t, p.NestReports)
	require.NoError(t, p.Validate())
}

func TestBindScanOptions_FormatsAndParallel(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Reports.Dir = "/reports"
	cmd := newScanCmd(t, "--format", "traditional-json=out.json", "--format", "markdown:risk-confidence=out.md", "--parallel", "3", "--progress")

	opts, err := BindScanOptions(cmd, []string{"https://a.example", "https://b.example", "https://a.example"}, cfg)
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, opts.Targets)
	require.Equal(t, 3, opts.Parallel)
	require.True(t, opts.Progress)
	require.Equal(t, []orchestrator.ReportFormat{
		{Name: "traditional-json", Destination: filepath.Join("/reports", "out.json")},
		{Name: "markdown", Template: "risk-confidence", Destination: filepath.Join("/reports", "out.md")},
	}, opts.Reports)
	require.True(t, opts.Params("https://a.example").NestReports)
}

func TestBindScanOptions_TargetFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Scan.Target = "https://configured.example"

	opts, err := BindScanOptions(newScanCmd(t), nil, cfg)
	require.NoError(t, err)
	require.Equal(t, []string{"https://configured.example"}, opts.Targets)
}

func TestBindScanOptions_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
		cmd  []string
		cfg  func(*config.Config)
	}{
		{name: "no target"},
		{name: "bad target", args: []string{"ftp://example.com"}},
		{name: "zero parallel", args: []string{"https://example.com"}, cmd: []string{"--parallel", "0"}},
		{name: "bad format", args: []string{"https://example.com"}, cmd: []string{"--format", "markdown"}},
		{name: "duplicate destination", args: []string{"https://example.com"}, cmd: []string{"--format", "a=x.html", "--format", "b=x.html"}},
		{name: "bad poll interval", args: []string{"https://example.com"}, cfg: func(c *config.Config) { c.Scan.PollInterval = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			if tt.cfg != nil {
				tt.cfg(&cfg)
			}
			_, err := BindScanOptions(newScanCmd(t, tt.cmd...), tt.args, cfg)
			require.Error(t, err)
			require.ErrorIs(t, err, orchestrator.ErrInvalidSpec)
			require.Equal(t, 2, orchestrator.ExitCode(err))
		})
	}
}

func TestBindServeOptions(t *testing.T) {
	newCmd := func(args ...string) *cobra.Command {
		cmd := &cobra.Command{Use: "serve"}
		cmd.Flags().String("token-env", "", "")
		require.NoError(t, cmd.Flags().Parse(args))
		return cmd
	}
	env := map[string]string{"API_TOKEN": "s3cret"}
	getenv := func(k string) string { return env[k] }

	cfg, err := BindServeOptions(newCmd("--token-env", "API_TOKEN"), config.DefaultConfig(), getenv)
	require.NoError(t, err)
	require.Equal(t, "s3cret", cfg.Server.Token)

	_, err = BindServeOptions(newCmd("--token-env", "MISSING"), config.DefaultConfig(), getenv)
	require.ErrorIs(t, err, orchestrator.ErrInvalidSpec)

	bad := config.DefaultConfig()
	bad.Server.Concurrency = 0
	_, err = BindServeOptions(newCmd(), bad, getenv)
	require.ErrorIs(t, err, orchestrator.ErrInvalidSpec)

	cfg, err = BindServeOptions(newCmd(), config.DefaultConfig(), getenv)
	require.NoError(t, err)
	require.Empty(t, cfg.Server.Token)
}
