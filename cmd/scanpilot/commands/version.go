package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vulntor/scanpilot/cmd/scanpilot/internal/format"
	"github.com/vulntor/scanpilot/pkg/version"
)

func newVersionCommand(cliExecutable string) *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:     "version",
		GroupID: "core",
		Short:   "Print version information",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.Get()
			w := cmd.OutOrStdout()

			out := format.FromCommand(cmd)
			if out.Mode() != format.ModeTable {
				return out.PrintData(info)
			}

			if short {
				_, err := fmt.Fprintln(w, info.Version)
				return err
			}
			_, err := fmt.Fprintf(w, "%s version: %s\nCommit: %s\nBuild Date: %s\nGo Version: %s\nPlatform: %s\n",
				cliExecutable, info.Version, info.Commit, info.BuildDate, info.GoVersion, info.Platform)
			return err
		},
	}

	cmd.Flags().BoolVarP(&short, "short", "s", false, "Print only the version number")
	cmd.Flags().StringP("output", "o", string(format.ModeTable), "Output format: table | json | yaml")

	return cmd
}
