package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/daverage/tinymem/internal/doctor"
)

func newDoctorCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostics on the store, configuration and LLM backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, closeApp, err := openApp(opts)
			if err != nil {
				return err
			}
			defer closeApp()

			report := app.Doctor.Run(cmd.Context())
			fmt.Fprint(cmd.OutOrStdout(), report.Render("=== tinyMem Diagnostic Report ==="))
			if report.Overall == doctor.StatusFail {
				return failed
			}
			return nil
		},
	}
}
