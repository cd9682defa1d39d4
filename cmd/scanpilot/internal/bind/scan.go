// Package bind turns parsed cobra flags into validated command options.
package bind

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vulntor/scanpilot/pkg/config"
	"github.com/vulntor/scanpilot/pkg/orchestrator"
	"github.com/vulntor/scanpilot/pkg/scanrun"
)

// ScanOptions holds everything the scan command needs for a batch of runs.
type ScanOptions struct {
	Targets  []string
	Endpoint orchestrator.Endpoint
	Policy   string
	Reports  []orchestrator.ReportFormat
	Options  orchestrator.Options
	Parallel int
	Progress bool
}

// Params returns the run parameters for one target. Reports are nested per
// run id when more than one target shares the report directory.
func (o ScanOptions) Params(target string) scanrun.Params {
	return scanrun.Params{
		Endpoint:    o.Endpoint,
		Target:      target,
		Policy:      o.Policy,
		Reports:     o.Reports,
		Options:     o.Options,
		NestReports: len(o.Targets) > 1,
	}
}

// BindScanOptions extracts and validates scan command flags.
//
// Scanner, polling and report settings come from cfg, which already has the
// config-mapped flags layered on top. Flags read here:
//   - --format: repeatable name[:template]=file, replaces reports.formats
//   - --parallel: number of targets scanned at once
//   - --progress: print run events to stderr
//
// Targets are the positional arguments, or scan.target when none are given.
func BindScanOptions(cmd *cobra.Command, args []string, cfg config.Config) (ScanOptions, error) {
	formats, _ := cmd.Flags().GetStringArray("format")
	parallel, _ := cmd.Flags().GetInt("parallel")
	progress, _ := cmd.Flags().GetBool("progress")

	targets := dedupe(args)
	if len(targets) == 0 && cfg.Scan.Target != "" {
		targets = []string{cfg.Scan.Target}
	}
	if len(targets) == 0 {
		return ScanOptions{}, fmt.Errorf("%w: at least one target URL is required", orchestrator.ErrInvalidSpec)
	}
	for _, t := range targets {
		if err := orchestrator.ValidateTarget(t); err != nil {
			return ScanOptions{}, err
		}
	}

	if parallel < 1 {
		return ScanOptions{}, fmt.Errorf("%w: --parallel must be at least 1, got %d", orchestrator.ErrInvalidSpec, parallel)
	}

	if len(formats) > 0 {
		parsed, err := config.ParseReportFormats(formats)
		if err != nil {
			return ScanOptions{}, fmt.Errorf("%w: %v", orchestrator.ErrInvalidSpec, err)
		}
		cfg.Reports.Formats = parsed
	}
	reports, err := cfg.Reports.ReportFormats()
	if err != nil {
		return ScanOptions{}, err
	}

	opts := cfg.Options()
	if err := opts.Validate(); err != nil {
		return ScanOptions{}, err
	}

	return ScanOptions{
		Targets:  targets,
		Endpoint: cfg.Scanner.Endpoint(),
		Policy:   cfg.Scan.Policy,
		Reports:  reports,
		Options:  opts,
		Parallel: parallel,
		Progress: progress,
	}, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
