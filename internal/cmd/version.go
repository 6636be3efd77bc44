package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/daverage/tinymem/internal/server"
	"github.com/daverage/tinymem/internal/updater"
)

func newVersionCmd() *cobra.Command {
	var check bool
	c := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "tinyMem %s\n", server.Version)
			fmt.Fprintf(out, "Go:      %s\n", runtime.Version())
			if !check {
				return nil
			}

			res, err := updater.New().Check(cmd.Context(), server.Version)
			switch {
			case err != nil:
				fmt.Fprintf(out, "Update check failed: %v\n", err)
			case res.UpdateAvailable:
				fmt.Fprintf(out, "Update available: %s -> %s\n%s\n", res.CurrentVersion, res.LatestVersion, res.ReleaseURL)
			default:
				fmt.Fprintln(out, "Up to date")
			}
			return nil
		},
	}
	c.Flags().BoolVar(&check, "check", false, "check GitHub for a newer release")
	return c
}
