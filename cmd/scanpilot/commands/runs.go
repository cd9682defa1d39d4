package commands

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vulntor/scanpilot/cmd/scanpilot/internal/format"
	"github.com/vulntor/scanpilot/pkg/orchestrator"
	"github.com/vulntor/scanpilot/pkg/storage"
	"github.com/vulntor/scanpilot/pkg/stringutil"
)

const maxErrorWidth = 96

func newRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "runs",
		GroupID: "core",
		Short:   "Inspect recorded runs",
	}
	cmd.PersistentFlags().StringP("output", "o", string(format.ModeTable), "Output format: table | json | yaml")

	cmd.AddCommand(newRunsListCommand())
	cmd.AddCommand(newRunsShowCommand())
	return cmd
}

func newRunsListCommand() *cobra.Command {
	var filter storage.RunFilter
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := format.FromCommand(cmd)
			if err := validateOutput(cmd); err != nil {
				return fail(out, err)
			}

			if status != "" {
				filter.Status = storage.RunStatus(strings.ToLower(status))
				if !filter.Status.IsValid() {
					return fail(out, fmt.Errorf("%w: unknown status %q", orchestrator.ErrInvalidSpec, status))
				}
			}
			if filter.Limit < 0 || filter.Limit > storage.MaxListLimit {
				return fail(out, fmt.Errorf("%w: --limit must be between 0 and %d", orchestrator.ErrInvalidSpec, storage.MaxListLimit))
			}

			backend, err := backendFrom(cmd.Context())
			if err != nil {
				return fail(out, err)
			}
			res, err := backend.Runs().List(cmd.Context(), filter)
			if err != nil {
				return fail(out, err)
			}

			if out.Mode() != format.ModeTable {
				runs := res.Runs
				if runs == nil {
					runs = []storage.RunRecord{}
				}
				return out.PrintData(map[string]any{
					"runs":        runs,
					"next_cursor": res.NextCursor,
					"total":       res.Total,
				})
			}

			if len(res.Runs) == 0 {
				return out.PrintSummary("No runs recorded")
			}
			now := time.Now()
			rows := make([][]string, 0, len(res.Runs))
			for i := range res.Runs {
				rows = append(rows, runRow(&res.Runs[i], now))
			}
			if err := out.PrintTable(runHeaders, rows); err != nil {
				return err
			}
			summary := fmt.Sprintf("%d of %d runs", len(res.Runs), res.Total)
			if res.NextCursor != "" {
				summary += fmt.Sprintf(" (next page: --cursor %s)", res.NextCursor)
			}
			return out.PrintSummary(summary)
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Only runs with this status")
	cmd.Flags().StringVar(&filter.Target, "target", "", "Only runs for this target URL")
	cmd.Flags().IntVar(&filter.Limit, "limit", storage.DefaultListLimit, "Maximum runs to show")
	cmd.Flags().StringVar(&filter.Cursor, "cursor", "", "Continue from a previous page")
	return cmd
}

func newRunsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run with its reports",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := format.FromCommand(cmd)
			if err := validateOutput(cmd); err != nil {
				return fail(out, err)
			}

			backend, err := backendFrom(cmd.Context())
			if err != nil {
				return fail(out, err)
			}
			rec, err := backend.Runs().Get(cmd.Context(), args[0])
			if err != nil {
				return fail(out, err)
			}

			if out.Mode() != format.ModeTable {
				return out.PrintData(rec)
			}

			fields := [][]string{
				{"id", rec.ID},
				{"target", rec.Target},
				{"policy", rec.Policy},
				{"endpoint", rec.Endpoint},
				{"server version", rec.ServerVersion},
				{"job id", rec.JobID},
				{"status", string(rec.Status)},
				{"progress", strconv.Itoa(rec.Progress) + "%"},
				{"polls", strconv.Itoa(rec.Polls)},
				{"started", rec.StartedAt.Format(time.RFC3339)},
				{"duration", rec.Duration(time.Now()).Round(time.Second).String()},
			}
			if rec.Error != "" {
				fields = append(fields, []string{"error", fmt.Sprintf("%s (%s)", stringutil.Ellipsis(rec.Error, maxErrorWidth), rec.ErrorCode)})
			}
			if err := out.PrintTable([]string{"field", "value"}, fields); err != nil {
				return err
			}
			if len(rec.Reports) == 0 {
				return nil
			}

			if err := out.PrintSummary(""); err != nil {
				return err
			}
			rows := make([][]string, 0, len(rec.Reports))
			for _, r := range rec.Reports {
				result := "ok"
				if r.Error != "" {
					result = stringutil.Ellipsis(r.Error, maxErrorWidth)
				}
				rows = append(rows, []string{r.Format, r.Destination, (time.Duration(r.DurationMS) * time.Millisecond).String(), result})
			}
			return out.PrintTable([]string{"format", "destination", "duration", "result"}, rows)
		},
	}
}

func validateOutput(cmd *cobra.Command) error {
	mode, _ := cmd.Flags().GetString("output")
	if mode == "" {
		return nil
	}
	return format.ValidateMode(mode)
}
