// Package evidence evaluates predicates about the project's current state.
//
// Predicates are re-evaluated on every call. Nothing is cached because the
// filesystem and command outcomes they describe can change at any time.
package evidence

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/daverage/tinymem/internal/runner"
)

// Kind names a predicate type.
type Kind string

// Supported predicate kinds.
const (
	KindFileExists  Kind = "file_exists"
	KindCommandExit Kind = "command_exit"
	KindGrepHit     Kind = "grep_hit"
)

// Separator splits a predicate kind from its argument.
const Separator = "::"

// ErrUnknownKind is returned for unrecognised predicate kinds.
var ErrUnknownKind = errors.New("unknown evidence kind")

// Ref describes one predicate.
type Ref struct {
	Kind         Kind   `json:"kind"`
	Target       string `json:"target"`
	ExpectedExit int    `json:"expected_exit,omitempty"`
}

// String renders the ref in its predicate-string form.
func (r Ref) String() string {
	if r.Kind == KindCommandExit && r.ExpectedExit != 0 {
		return fmt.Sprintf("%s:%d%s%s", r.Kind, r.ExpectedExit, Separator, r.Target)
	}
	return string(r.Kind) + Separator + r.Target
}

// ParseRef parses a predicate string such as "file_exists::out/report.txt",
// "command_exit::go test ./..." or "command_exit:2::make lint". The legacy
// kinds cmd_exit0 and test_pass are read as command_exit with exit 0.
func ParseRef(s string) (Ref, error) {
	head, arg, ok := strings.Cut(strings.TrimSpace(s), Separator)
	if !ok || strings.TrimSpace(arg) == "" {
		return Ref{}, fmt.Errorf("evidence %q: expected kind%sargument", s, Separator)
	}
	arg = strings.TrimSpace(arg)

	kind, code, hasCode := strings.Cut(head, ":")
	ref := Ref{Kind: Kind(kind), Target: arg}
	switch ref.Kind {
	case KindFileExists, KindGrepHit:
		if hasCode {
			return Ref{}, fmt.Errorf("evidence %q: %s takes no exit code", s, kind)
		}
	case KindCommandExit:
		if hasCode {
			n, err := strconv.Atoi(code)
			if err != nil {
				return Ref{}, fmt.Errorf("evidence %q: bad exit code %q", s, code)
			}
			ref.ExpectedExit = n
		}
	case "cmd_exit0", "test_pass":
		ref.Kind = KindCommandExit
	default:
		return Ref{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return ref, nil
}

// ParseRefs parses every predicate string, failing on the first bad one.
func ParseRefs(preds []string) ([]Ref, error) {
	refs := make([]Ref, 0, len(preds))
	for _, p := range preds {
		if strings.TrimSpace(p) == "" {
			continue
		}
		ref, err := ParseRef(p)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// Result is the evaluation of a single ref.
type Result struct {
	Ref       Ref    `json:"ref"`
	Satisfied bool   `json:"satisfied"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Report is the evaluation of a ref list. AllSatisfied is true for an
// empty list; callers that need at least one predicate check that first.
type Report struct {
	AllSatisfied bool     `json:"all_satisfied"`
	Results      []Result `json:"results"`
}

// Map returns predicate string to outcome, as shown to users.
func (r Report) Map() map[string]any {
	m := make(map[string]any, len(r.Results))
	for _, res := range r.Results {
		if res.Error != "" {
			m[res.Ref.String()] = "error: " + res.Error
			continue
		}
		m[res.Ref.String()] = res.Satisfied
	}
	return m
}

// CommandGate decides whether a command may run. A nil gate allows all.
type CommandGate func(command string) error

// Options configure an Engine.
type Options struct {
	Root           string
	CommandTimeout time.Duration
	AllowShell     bool
	Gate           CommandGate
}

// Engine evaluates refs against one project root.
type Engine struct {
	opts Options
}

// New creates an Engine.
func New(opts Options) *Engine {
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 20 * time.Second
	}
	return &Engine{opts: opts}
}

// Evaluate checks every ref in order.
func (e *Engine) Evaluate(ctx context.Context, refs []Ref) Report {
	report := Report{AllSatisfied: true, Results: make([]Result, 0, len(refs))}
	for _, ref := range refs {
		res := e.evaluate(ctx, ref)
		if !res.Satisfied {
			report.AllSatisfied = false
		}
		report.Results = append(report.Results, res)
	}
	return report
}

func (e *Engine) evaluate(ctx context.Context, ref Ref) Result {
	res := Result{Ref: ref}
	var err error
	switch ref.Kind {
	case KindFileExists:
		res.Satisfied, err = e.fileExists(ref.Target)
	case KindGrepHit:
		res.Satisfied, err = e.grepHit(ref.Target)
	case KindCommandExit:
		res.Satisfied, res.Detail, err = e.commandExit(ctx, ref)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownKind, ref.Kind)
	}
	if err != nil {
		res.Satisfied = false
		res.Error = err.Error()
	}
	return res
}

func (e *Engine) fileExists(path string) (bool, error) {
	abs, err := ResolveSafePath(e.opts.Root, path)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(abs); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// grepHit expects "pattern::path".
func (e *Engine) grepHit(arg string) (bool, error) {
	pattern, path, ok := strings.Cut(arg, Separator)
	if !ok {
		return false, fmt.Errorf("grep_hit: expected pattern%spath", Separator)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, fmt.Errorf("grep_hit: invalid pattern: %w", err)
	}
	abs, err := ResolveSafePath(e.opts.Root, path)
	if err != nil {
		return false, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return re.Match(data), nil
}

func (e *Engine) commandExit(ctx context.Context, ref Ref) (bool, string, error) {
	if e.opts.Gate != nil {
		if err := e.opts.Gate(ref.Target); err != nil {
			return false, "", err
		}
	}
	res, err := runner.Run(ctx, ref.Target, runner.Options{
		Dir:        e.opts.Root,
		Timeout:    e.opts.CommandTimeout,
		AllowShell: e.opts.AllowShell,
	})
	if errors.Is(err, runner.ErrTimeout) {
		return false, fmt.Sprintf("timed out after %s", e.opts.CommandTimeout), nil
	}
	if err != nil {
		return false, "", err
	}
	detail := fmt.Sprintf("exit %d (want %d)", res.ExitCode, ref.ExpectedExit)
	return res.ExitCode == ref.ExpectedExit, detail, nil
}

// ResolveSafePath joins path onto root and rejects anything that would
// land outside root.
func ResolveSafePath(root, path string) (string, error) {
	if root == "" {
		return "", errors.New("project root is not set")
	}
	cleaned := filepath.Clean(strings.TrimSpace(path))
	if cleaned == "." || cleaned == "" {
		return "", fmt.Errorf("invalid path: %q", path)
	}
	abs := cleaned
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, cleaned)
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes project root: %s", path)
	}
	return abs, nil
}

// AllowlistGate permits commands whose program, or whole-word prefix,
// appears in allowed. Nothing runs when enabled is false.
func AllowlistGate(enabled bool, allowed []string) CommandGate {
	return func(command string) error {
		if !enabled {
			return errors.New("command evidence is disabled by policy")
		}
		fields := strings.Fields(command)
		if len(fields) == 0 {
			return runner.ErrEmptyCommand
		}
		base := filepath.Base(fields[0])
		for _, a := range allowed {
			if a == base || command == a || strings.HasPrefix(command, a+" ") {
				return nil
			}
		}
		return fmt.Errorf("command not in allowlist: %s", base)
	}
}
