package ralph

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/daverage/tinymem/internal/evidence"
	"github.com/daverage/tinymem/internal/llm"
	"github.com/daverage/tinymem/internal/memory"
	"github.com/daverage/tinymem/internal/metrics"
	"github.com/daverage/tinymem/internal/recall"
	"github.com/daverage/tinymem/internal/runner"
)

const (
	defaultRecallLimit = 5
	maxPromptOutput    = 4000
	reasonDeadline     = "deadline exceeded"
)

// ErrInvalidOptions is wrapped by every Options validation failure.
var ErrInvalidOptions = errors.New("invalid ralph options")

// Recaller finds memories for patch prompts.
type Recaller interface {
	Recall(ctx context.Context, projectID string, q recall.Query) (*recall.Result, error)
}

// MemoryWriter records finished sessions.
type MemoryWriter interface {
	Write(projectID string, p memory.WriteParams) (*memory.Memory, error)
}

// Config holds engine-wide defaults for one project.
type Config struct {
	Root            string
	ProjectID       string
	MaxIterations   int
	CommandTimeout  time.Duration
	SessionTimeout  time.Duration
	EvidenceTimeout time.Duration
}

// Engine runs repair sessions for one project. Sessions are sequential
// inside; separate Engines may run concurrently.
type Engine struct {
	chat     llm.Chatter
	recaller Recaller
	mem      MemoryWriter
	cfg      Config
	log      *zap.Logger
	now      func() time.Time
}

// New creates an Engine. recaller and mem may be nil.
func New(chat llm.Chatter, recaller Recaller, mem MemoryWriter, cfg Config, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 5
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 5 * time.Minute
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 30 * time.Minute
	}
	return &Engine{chat: chat, recaller: recaller, mem: mem, cfg: cfg, log: log, now: time.Now}
}

// session is the mutable state of one Run.
type session struct {
	opts       Options
	refs       []evidence.Ref
	checker    *evidence.Engine
	result     *Result
	report     evidence.Report
	last       *runner.Result
	started    time.Time
	deadline   time.Time
	maxIter    int
	cmdTimeout time.Duration
	memSeen    map[int64]bool
}

// Run executes one session until it reaches a terminal status. The error
// is non-nil only for unusable options; every other outcome is reported
// in the Result.
func (e *Engine) Run(ctx context.Context, opts Options) (*Result, error) {
	s, err := e.newSession(opts)
	if err != nil {
		return nil, err
	}

	sessCtx, cancel := context.WithDeadline(ctx, s.deadline)
	defer cancel()

	e.log.Info("ralph session started",
		zap.String("session", s.result.SessionID),
		zap.String("task", opts.Task),
		zap.Int("max_iterations", s.maxIter))

	for !s.result.Status.IsTerminal() {
		e.step(sessCtx, s)
	}
	e.finish(ctx, s)
	return s.result, nil
}

func (e *Engine) newSession(opts Options) (*session, error) {
	if strings.TrimSpace(opts.Task) == "" {
		return nil, fmt.Errorf("%w: task is required", ErrInvalidOptions)
	}
	if strings.TrimSpace(opts.Command) == "" {
		return nil, fmt.Errorf("%w: command is required", ErrInvalidOptions)
	}
	refs, err := evidence.ParseRefs(opts.Evidence)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	maxIter := e.cfg.MaxIterations
	if opts.MaxIterations != nil {
		if *opts.MaxIterations < 0 {
			return nil, fmt.Errorf("%w: max_iterations must be >= 0", ErrInvalidOptions)
		}
		maxIter = *opts.MaxIterations
	}
	cmdTimeout := e.cfg.CommandTimeout
	if opts.CommandTimeoutSeconds > 0 {
		cmdTimeout = time.Duration(opts.CommandTimeoutSeconds) * time.Second
	}
	sessTimeout := e.cfg.SessionTimeout
	if opts.SessionTimeoutSeconds > 0 {
		sessTimeout = time.Duration(opts.SessionTimeoutSeconds) * time.Second
	}

	safety := opts.Safety
	started := e.now()
	return &session{
		opts: opts,
		refs: refs,
		checker: evidence.New(evidence.Options{
			Root:           e.cfg.Root,
			CommandTimeout: e.cfg.EvidenceTimeout,
			AllowShell:     safety.AllowShell,
			Gate:           func(cmd string) error { return checkCommand(e.cfg.Root, cmd, safety) },
		}),
		result: &Result{
			SessionID:  uuid.NewString(),
			Status:     StatusRunning,
			Evidence:   map[string]any{},
			MemoryUsed: []int64{},
		},
		started:    started,
		deadline:   started.Add(sessTimeout),
		maxIter:    maxIter,
		cmdTimeout: cmdTimeout,
		memSeen:    map[int64]bool{},
	}, nil
}

// step runs one pass of the loop and may set a terminal status.
func (e *Engine) step(ctx context.Context, s *session) {
	iter := s.result.Iterations

	if e.now().After(s.deadline) || ctx.Err() != nil {
		e.terminate(s, StatusFailure, reasonDeadline)
		return
	}

	if err := checkCommand(e.cfg.Root, s.opts.Command, s.opts.Safety); err != nil {
		e.addLog(s, iter, "safety", err.Error(), nil, nil)
		e.terminate(s, StatusFailure, err.Error())
		return
	}

	s.last = e.validate(ctx, s)
	s.report = s.checker.Evaluate(ctx, s.refs)
	exit := s.last.ExitCode
	e.addLog(s, iter, "validate", fmt.Sprintf("command exited %d, evidence satisfied: %t", exit, s.report.AllSatisfied), &exit, nil)

	if exit == 0 && s.report.AllSatisfied {
		e.terminate(s, StatusSuccess, "validation passed")
		return
	}
	if gate := s.opts.HumanGate.AfterIterations; gate > 0 && iter >= gate {
		e.terminate(s, StatusHumanGateRequired, fmt.Sprintf("human review requested after %d iterations", gate))
		return
	}
	if iter >= s.maxIter {
		e.terminate(s, StatusFailure, fmt.Sprintf("max iterations (%d) reached without passing validation", s.maxIter))
		return
	}

	s.result.Iterations++
	iter = s.result.Iterations

	if e.now().After(s.deadline) || ctx.Err() != nil {
		e.terminate(s, StatusFailure, reasonDeadline)
		return
	}

	reply, err := e.chat.Complete(ctx, patchSystemPrompt, e.prompt(ctx, s))
	if err != nil {
		e.addLog(s, iter, "patch", "patch request failed: "+err.Error(), nil, nil)
		return
	}

	var blocks PatchBlocks
	switch p := ParsePatch(reply).(type) {
	case MalformedPatch:
		perr := &PatchFormatError{Raw: p.Raw}
		e.addLog(s, iter, "patch", perr.Error(), nil, nil)
		if s.opts.HumanGate.OnAmbiguity {
			e.terminate(s, StatusHumanGateRequired, "ambiguous patch response")
		}
		return
	case PatchBlocks:
		blocks = p
	}

	targets := make([]string, len(blocks))
	for i, b := range blocks {
		abs, err := checkPath(ctx, e.cfg.Root, b.Path, s.opts.Safety)
		if err != nil {
			e.addLog(s, iter, "safety", err.Error(), nil, nil)
			e.terminate(s, StatusFailure, err.Error())
			return
		}
		targets[i] = abs
	}
	if err := applyBlocks(blocks, targets); err != nil {
		e.addLog(s, iter, "apply", err.Error(), nil, blocks.Paths())
		return
	}
	e.addLog(s, iter, "apply", fmt.Sprintf("wrote %d file(s)", len(blocks)), nil, blocks.Paths())

	s.report = s.checker.Evaluate(ctx, s.refs)
	e.addLog(s, iter, "verify", fmt.Sprintf("evidence satisfied: %t", s.report.AllSatisfied), nil, nil)
	if len(s.refs) > 0 && s.report.AllSatisfied {
		e.terminate(s, StatusSuccess, "evidence satisfied after patch")
	}
}

func (e *Engine) validate(ctx context.Context, s *session) *runner.Result {
	res, err := runner.Run(ctx, s.opts.Command, runner.Options{
		Dir:        e.cfg.Root,
		Timeout:    s.cmdTimeout,
		AllowShell: s.opts.Safety.AllowShell,
	})
	if res == nil {
		res = &runner.Result{ExitCode: -1}
	}
	switch {
	case errors.Is(err, runner.ErrTimeout):
		res.Stderr += fmt.Sprintf("\n[command timed out after %s]", s.cmdTimeout)
	case err != nil:
		res.Stderr += "\n" + err.Error()
	}
	return res
}

func applyBlocks(blocks PatchBlocks, targets []string) error {
	for i, b := range blocks {
		if err := os.MkdirAll(filepath.Dir(targets[i]), 0o755); err != nil {
			return fmt.Errorf("creating directory for %s: %w", b.Path, err)
		}
		if err := os.WriteFile(targets[i], []byte(b.Content), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", b.Path, err)
		}
	}
	return nil
}

func (e *Engine) terminate(s *session, status Status, reason string) {
	s.result.Status = status
	s.result.Reason = reason
}

func (e *Engine) addLog(s *session, iter int, phase, msg string, exit *int, files []string) {
	s.result.Log = append(s.result.Log, LogEntry{
		Iteration: iter,
		Phase:     phase,
		Message:   msg,
		ExitCode:  exit,
		Files:     files,
		Time:      e.now().UTC(),
	})
	e.log.Debug("ralph step",
		zap.String("session", s.result.SessionID),
		zap.Int("iteration", iter),
		zap.String("phase", phase),
		zap.String("message", msg))
}

// finish fills the reporting fields and records the session as a memory.
func (e *Engine) finish(ctx context.Context, s *session) {
	r := s.result
	ctx = context.WithoutCancel(ctx)

	r.Evidence = s.report.Map()
	r.FinalDiff = gitDiff(ctx, e.cfg.Root)
	r.Duration = e.now().Sub(s.started).Round(time.Millisecond).String()
	r.Summary = fmt.Sprintf("Ralph %s after %d iteration(s): %s", r.Status, r.Iterations, r.Reason)

	metrics.RalphSessions.WithLabelValues(string(r.Status)).Inc()
	metrics.RalphIterations.Observe(float64(r.Iterations))
	e.log.Info("ralph session finished",
		zap.String("session", r.SessionID),
		zap.String("status", string(r.Status)),
		zap.Int("iterations", r.Iterations),
		zap.String("reason", r.Reason))

	if e.mem == nil {
		return
	}
	detail := fmt.Sprintf("Task: %s\nCommand: %s\nStatus: %s\nIterations: %d\nReason: %s",
		s.opts.Task, s.opts.Command, r.Status, r.Iterations, r.Reason)
	if len(s.opts.Evidence) > 0 {
		detail += "\nEvidence: " + strings.Join(s.opts.Evidence, ", ")
	}
	m, err := e.mem.Write(e.cfg.ProjectID, memory.WriteParams{
		Type:    memory.Observation,
		Summary: memory.Truncate(fmt.Sprintf("Ralph session %s: %s", r.Status, s.opts.Task), 200),
		Detail:  detail,
		Source:  "ralph:" + r.SessionID,
	})
	if err != nil {
		e.log.Warn("recording ralph session", zap.Error(err))
		return
	}
	r.MemoryID = m.ID
}

// ─── Prompt ──────────────────────────────────────────────────────────────────

const patchSystemPrompt = `You repair software projects. Reply only with complete file contents in this format:

@@@ FILE: relative/path/to/file @@@
<entire new file content>
@@@ END_FILE @@@

Repeat the block for each file you change. Paths are relative to the project root. Do not use diffs.`

func (e *Engine) prompt(ctx context.Context, s *session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Task\n%s\n\n", s.opts.Task)

	fmt.Fprintf(&b, "## Validation command\n`%s` exited with code %d\n\n", s.opts.Command, s.last.ExitCode)
	if out := tail(s.last.Stdout, maxPromptOutput); out != "" {
		fmt.Fprintf(&b, "### stdout\n```\n%s\n```\n\n", out)
	}
	if out := tail(s.last.Stderr, maxPromptOutput); out != "" {
		fmt.Fprintf(&b, "### stderr\n```\n%s\n```\n\n", out)
	}

	if len(s.report.Results) > 0 {
		b.WriteString("## Evidence\n")
		for _, r := range s.report.Results {
			state := "not satisfied"
			if r.Satisfied {
				state = "satisfied"
			}
			fmt.Fprintf(&b, "- %s: %s", r.Ref, state)
			if r.Error != "" {
				fmt.Fprintf(&b, " (%s)", r.Error)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if mems := e.recallMemories(ctx, s); len(mems) > 0 {
		b.WriteString("## Relevant memories\n")
		for _, c := range mems {
			fmt.Fprintf(&b, "- [%s] %s\n", c.Memory.Type, c.Memory.Summary)
		}
		b.WriteString("\n")
	}

	if diff := gitDiff(ctx, e.cfg.Root); diff != "" {
		fmt.Fprintf(&b, "## Current diff\n```diff\n%s\n```\n", tail(diff, maxPromptOutput))
	}
	return b.String()
}

func (e *Engine) recallMemories(ctx context.Context, s *session) []recall.Candidate {
	if e.recaller == nil {
		return nil
	}
	query := strings.Join(s.opts.Recall.QueryTerms, " ")
	if query == "" {
		query = lastLine(s.last.Stderr)
	}
	if query == "" {
		return nil
	}
	limit := s.opts.Recall.Limit
	if limit <= 0 {
		limit = defaultRecallLimit
	}
	res, err := e.recaller.Recall(ctx, e.cfg.ProjectID, recall.Query{Text: query, Limit: limit})
	if err != nil {
		e.log.Warn("ralph recall failed", zap.Error(err))
		return nil
	}
	for _, c := range res.Candidates {
		if !s.memSeen[c.Memory.ID] {
			s.memSeen[c.Memory.ID] = true
			s.result.MemoryUsed = append(s.result.MemoryUsed, c.Memory.ID)
		}
	}
	return res.Candidates
}

func tail(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-max:]
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
