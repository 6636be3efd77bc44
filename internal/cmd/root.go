// Package cmd implements the tinymem command line.
//
// Every command resolves the project from --project (or the working
// directory), loads its configuration and opens the same components the
// MCP server uses. User-facing output goes to stdout; logs go to the log
// file with warnings mirrored on stderr.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// exitError ends the process with code after the command has already
// reported the problem itself.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// failed is returned by commands that printed their own failure message.
var failed = &exitError{code: 1}

// options holds the global flags.
type options struct {
	project  string
	logLevel string
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "tinymem",
		Short: "tinyMem - persistent project memory for LLMs",
		Long: `tinyMem keeps decisions, constraints, plans and verified facts for a
project in a local SQLite store and serves them to coding assistants over MCP.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.project, "project", "", "project directory (default: detected from the working directory)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level override (debug, info, warn, error, off)")

	root.AddCommand(
		newVersionCmd(),
		newMCPCmd(opts),
		newWriteCmd(opts),
		newQueryCmd(opts),
		newRecentCmd(opts),
		newStatsCmd(opts),
		newHealthCmd(opts),
		newDoctorCmd(opts),
		newRalphCmd(opts),
	)
	return root
}

// Run executes the command line and returns the process exit code.
func Run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}

// Execute runs the command line against the process streams and stops on
// SIGINT or SIGTERM.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return Run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
}
