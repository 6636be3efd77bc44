package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/daverage/tinymem/internal/ralph"
)

func newRalphCmd(opts *options) *cobra.Command {
	var (
		file     string
		o        ralph.Options
		maxIters int
	)
	c := &cobra.Command{
		Use:   "ralph",
		Short: "Run a bounded repair session",
		Long: `Run a bounded repair session: run the validation command, ask the model
for patches, apply them, and repeat until the command passes and every
evidence predicate holds, or a limit is reached.

Options come from flags or from a JSON file (--file, "-" for stdin) using
the same fields as the memory_ralph tool. The result is printed as JSON.
The exit code is 0 on success and 1 otherwise.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file != "" {
				var err error
				if o, err = readRalphOptions(cmd.InOrStdin(), file); err != nil {
					return err
				}
			} else if cmd.Flags().Changed("max-iterations") {
				o.MaxIterations = &maxIters
			}

			app, closeApp, err := openApp(opts)
			if err != nil {
				return err
			}
			defer closeApp()

			res, err := app.Ralph.Run(cmd.Context(), o)
			if errors.Is(err, ralph.ErrInvalidOptions) {
				fmt.Fprintln(cmd.OutOrStdout(), err)
				return failed
			}
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if res.Status != ralph.StatusSuccess {
				return failed
			}
			return nil
		},
	}
	c.Flags().StringVarP(&file, "file", "f", "", `read options as JSON from this file ("-" for stdin)`)
	c.Flags().StringVar(&o.Task, "task", "", "what the session should achieve")
	c.Flags().StringVar(&o.Command, "command", "", "validation command")
	c.Flags().StringArrayVar(&o.Evidence, "evidence", nil, "evidence predicate (repeatable)")
	c.Flags().IntVar(&maxIters, "max-iterations", 0, "maximum patch iterations (default: ralph.max_iterations)")
	c.Flags().BoolVar(&o.Safety.AllowShell, "allow-shell", false, "allow shell syntax in commands")
	c.Flags().StringArrayVar(&o.Safety.ForbidPaths, "forbid-path", nil, "path prefix the session may not write (repeatable)")
	c.Flags().StringArrayVar(&o.Safety.ForbidCommands, "forbid-command", nil, "substring that may not appear in commands (repeatable)")
	c.Flags().StringArrayVar(&o.Recall.QueryTerms, "recall", nil, "memory query term for patch prompts (repeatable)")
	c.Flags().IntVar(&o.HumanGate.AfterIterations, "gate-after", 0, "stop for a person after this many iterations")
	c.Flags().BoolVar(&o.HumanGate.OnAmbiguity, "gate-on-ambiguity", false, "stop for a person when a patch cannot be parsed")
	return c
}

func readRalphOptions(stdin io.Reader, path string) (ralph.Options, error) {
	var (
		data []byte
		err  error
		o    ralph.Options
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return o, fmt.Errorf("reading ralph options: %w", err)
	}
	if err := json.Unmarshal(data, &o); err != nil {
		return o, fmt.Errorf("parsing ralph options: %w", err)
	}
	return o, nil
}
