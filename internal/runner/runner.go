// Package runner executes validation and evidence commands with a hard
// timeout and bounded output capture.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"
)

// DefaultMaxOutput caps captured stdout and stderr, each.
const DefaultMaxOutput = 64 * 1024

// shellMeta are characters that only mean something to a shell.
const shellMeta = "|&;><`$()[]{}*?~'\"\\"

var (
	// ErrTimeout is returned when a command outlives its timeout.
	ErrTimeout = errors.New("command timed out")
	// ErrEmptyCommand is returned for blank command strings.
	ErrEmptyCommand = errors.New("command is empty")
	// ErrShellNotAllowed is returned when a command needs a shell but the
	// caller did not permit one.
	ErrShellNotAllowed = errors.New("command contains shell metacharacters but shell use is not allowed")
)

// Result is the outcome of one command execution.
type Result struct {
	ExitCode  int
	Stdout    string
	Stderr    string
	Duration  time.Duration
	TimedOut  bool
	Truncated bool
}

// Output returns stdout followed by stderr.
func (r *Result) Output() string {
	return r.Stdout + r.Stderr
}

// Options control a single execution.
type Options struct {
	Dir        string
	Timeout    time.Duration
	AllowShell bool
	MaxOutput  int
}

// NeedsShell reports whether command uses shell syntax.
func NeedsShell(command string) bool {
	return strings.ContainsAny(command, shellMeta) || strings.ContainsAny(command, "\n\r")
}

// Run executes command. Plain commands are split on whitespace and run
// directly; commands with shell syntax run under sh -c only when
// opts.AllowShell is set. A non-zero exit is not an error: it is reported
// in Result.ExitCode. Timeouts return ErrTimeout together with a result.
func Run(ctx context.Context, command string, opts Options) (*Result, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, ErrEmptyCommand
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var cmd *exec.Cmd
	if NeedsShell(command) {
		if !opts.AllowShell {
			return nil, ErrShellNotAllowed
		}
		cmd = exec.CommandContext(ctx, "sh", "-c", command)
	} else {
		parts := strings.Fields(command)
		cmd = exec.CommandContext(ctx, parts[0], parts[1:]...)
	}
	cmd.Dir = opts.Dir
	cmd.WaitDelay = time.Second

	limit := opts.MaxOutput
	if limit <= 0 {
		limit = DefaultMaxOutput
	}
	var stdout, stderr bytes.Buffer
	outW := &limitedWriter{w: &stdout, limit: limit}
	errW := &limitedWriter{w: &stderr, limit: limit}
	cmd.Stdout = outW
	cmd.Stderr = errW

	start := time.Now()
	err := cmd.Run()
	res := &Result{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Duration:  time.Since(start),
		Truncated: outW.truncated || errW.truncated,
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
		res.ExitCode = -1
		return res, ErrTimeout
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		res.ExitCode = -1
		return res, fmt.Errorf("running %q: %w", command, err)
	}
	return res, nil
}

// limitedWriter drops bytes past limit but keeps reporting full writes so
// the child process never sees a short write.
type limitedWriter struct {
	w         io.Writer
	limit     int
	written   int
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if lw.written >= lw.limit {
		lw.truncated = true
		return len(p), nil
	}
	remaining := lw.limit - lw.written
	chunk := p
	if len(chunk) > remaining {
		chunk = chunk[:remaining]
		lw.truncated = true
	}
	n, err := lw.w.Write(chunk)
	lw.written += n
	if err != nil {
		return n, err
	}
	return len(p), nil
}
