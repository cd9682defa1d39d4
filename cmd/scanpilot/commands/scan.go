package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vulntor/scanpilot/cmd/scanpilot/internal/bind"
	"github.com/vulntor/scanpilot/cmd/scanpilot/internal/format"
	"github.com/vulntor/scanpilot/pkg/appctx"
	"github.com/vulntor/scanpilot/pkg/config"
	"github.com/vulntor/scanpilot/pkg/scanrun"
	"github.com/vulntor/scanpilot/pkg/storage"
	"github.com/vulntor/scanpilot/pkg/stringutil"
	"github.com/vulntor/scanpilot/pkg/zap"
)

func newScanCommand() *cobra.Command {
	def := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:     "scan [target...]",
		GroupID: "scan",
		Short:   "Run an active scan and export its reports",
		Long: `Connect to the scanner, submit an active scan for each target, poll until
the scan reports 100% and export the configured reports on the scanner host.

With several targets each run writes its reports into a directory named
after its run id so the files do not overwrite each other.`,
		Example: `  scanpilot scan https://example.com
  scanpilot scan https://example.com --host zap.internal --api-key $ZAP_KEY
  scanpilot scan https://a.example https://b.example --parallel 2 --progress
  scanpilot scan https://example.com --format traditional-json=report.json -o json`,
		RunE: runScan,
	}

	f := cmd.Flags()
	f.String("host", def.Scanner.Host, "Scanner API host")
	f.Int("port", def.Scanner.Port, "Scanner API port")
	f.String("scheme", def.Scanner.Scheme, "Scanner API scheme: http | https")
	f.String("api-key", "", "Scanner API key")
	f.Duration("request-timeout", def.Scanner.RequestTimeout, "Timeout of a single API request")
	f.Float64("rate-limit", def.Scanner.RateLimit, "Maximum API requests per second (0 = unlimited)")
	f.String("min-version", "", "Reject scanners older than this version")
	f.String("policy", def.Scan.Policy, "Scan policy name")
	f.Duration("poll-interval", def.Scan.PollInterval, "Wait between status polls")
	f.Duration("timeout", 0, "Maximum wait for completion (0 = none)")
	f.Int("max-polls", 0, "Maximum status polls (0 = unbounded)")
	f.Float64("backoff", 0, "Poll interval growth factor (0 or 1 = fixed)")
	f.Duration("max-poll-interval", def.Scan.MaxPollInterval, "Cap for a growing poll interval")
	f.Int("poll-retries", def.Scan.PollRetries, "Attempts per status poll")
	f.String("report-dir", def.Reports.Dir, "Report directory on the scanner host")
	f.StringArray("format", nil, "Report to export as name[:template]=file (repeatable, replaces the defaults)")
	f.Int("parallel", 1, "Number of targets scanned at once")
	f.Bool("progress", isatty.IsTerminal(os.Stderr.Fd()), "Print run progress to stderr")
	f.StringP("output", "o", string(format.ModeTable), "Output format: table | json | yaml")

	return cmd
}

func runScan(cmd *cobra.Command, args []string) error {
	out := format.FromCommand(cmd)
	ctx := cmd.Context()

	if mode, _ := cmd.Flags().GetString("output"); mode != "" {
		if err := format.ValidateMode(mode); err != nil {
			return fail(out, err)
		}
	}

	cfg := appctx.MustConfig(ctx)
	opts, err := bind.BindScanOptions(cmd, args, cfg)
	if err != nil {
		return fail(out, err)
	}

	backend, err := backendFrom(ctx)
	if err != nil {
		return fail(out, err)
	}

	svc := scanrun.NewService(zap.Dialer{Config: cfg.Scanner.ClientConfig()}, backend.Runs())
	if opts.Progress {
		noColor, _ := cmd.Flags().GetBool("no-color")
		svc = svc.WithProgressSink(format.NewProgressPrinter(cmd.ErrOrStderr(), !noColor, len(opts.Targets) > 1))
	}

	records, errs := executeScans(ctx, svc, opts)

	if err := printRuns(out, records); err != nil {
		return err
	}

	var (
		first     error
		completed int
	)
	for i, err := range errs {
		if r := records[i]; r != nil && r.Status == storage.RunCompleted {
			completed++
		}
		if err == nil {
			continue
		}
		if len(opts.Targets) > 1 {
			err = fmt.Errorf("%s: %w", opts.Targets[i], err)
		}
		// Structured output already carries the error on the record.
		if out.Mode() == format.ModeTable || records[i] == nil {
			_ = out.PrintError(err)
		}
		if first == nil {
			first = err
		}
	}
	_ = out.PrintSummary(fmt.Sprintf("%d of %d runs completed", completed, len(opts.Targets)))

	return format.Reported(first)
}

// executeScans runs every target, at most opts.Parallel at a time. A failing
// target does not stop the others.
func executeScans(ctx context.Context, svc *scanrun.Service, opts bind.ScanOptions) ([]*storage.RunRecord, []error) {
	records := make([]*storage.RunRecord, len(opts.Targets))
	errs := make([]error, len(opts.Targets))

	var g errgroup.Group
	g.SetLimit(opts.Parallel)
	for i, target := range opts.Targets {
		g.Go(func() error {
			outcome, err := svc.Run(ctx, opts.Params(target))
			if outcome != nil {
				records[i] = outcome.Run
			}
			errs[i] = err
			return nil
		})
	}
	_ = g.Wait()

	return records, errs
}

func printRuns(out format.Formatter, records []*storage.RunRecord) error {
	shown := make([]*storage.RunRecord, 0, len(records))
	for _, r := range records {
		if r != nil {
			shown = append(shown, r)
		}
	}

	if out.Mode() != format.ModeTable {
		return out.PrintData(shown)
	}
	if len(shown) == 0 {
		return nil
	}

	now := time.Now()
	rows := make([][]string, 0, len(shown))
	for _, r := range shown {
		rows = append(rows, runRow(r, now))
	}
	return out.PrintTable(runHeaders, rows)
}

const maxTargetWidth = 48

var runHeaders = []string{"id", "target", "status", "progress", "polls", "duration", "reports"}

func runRow(r *storage.RunRecord, now time.Time) []string {
	ok := 0
	for _, rep := range r.Reports {
		if rep.Error == "" {
			ok++
		}
	}
	return []string{
		r.ID,
		stringutil.Ellipsis(r.Target, maxTargetWidth),
		string(r.Status),
		strconv.Itoa(r.Progress) + "%",
		strconv.Itoa(r.Polls),
		r.Duration(now).Round(time.Second).String(),
		fmt.Sprintf("%d/%d", ok, len(r.Reports)),
	}
}

// fail prints err once and marks it so main does not print it again.
func fail(out format.Formatter, err error) error {
	_ = out.PrintError(err)
	return format.Reported(err)
}
