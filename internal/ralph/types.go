// Package ralph runs bounded repair sessions: validate, ask a model for a
// patch, apply it, re-check the evidence, repeat.
package ralph

import "time"

// Status is the session state. Every status except Running is terminal.
type Status string

// Session states.
const (
	StatusRunning           Status = "running"
	StatusSuccess           Status = "success"
	StatusFailure           Status = "failure"
	StatusHumanGateRequired Status = "human_gate_required"
)

// IsTerminal reports whether no further iterations may run.
func (s Status) IsTerminal() bool {
	return s != StatusRunning
}

// RecallOptions select memories to include in patch prompts.
type RecallOptions struct {
	QueryTerms []string `json:"query_terms,omitempty"`
	Limit      int      `json:"limit,omitempty"`
}

// SafetyOptions bound what a session may run and touch.
type SafetyOptions struct {
	AllowShell     bool     `json:"allow_shell,omitempty"`
	ForbidPaths    []string `json:"forbid_paths,omitempty"`
	ForbidCommands []string `json:"forbid_commands,omitempty"`
}

// HumanGate pauses a session for a person to step in.
type HumanGate struct {
	OnAmbiguity     bool `json:"on_ambiguity,omitempty"`
	AfterIterations int  `json:"after_iterations,omitempty"`
}

// Options describe one session. A nil MaxIterations uses the engine
// default; an explicit zero runs validation once and never patches.
type Options struct {
	Task                  string        `json:"task"`
	Command               string        `json:"command"`
	Evidence              []string      `json:"evidence,omitempty"`
	MaxIterations         *int          `json:"max_iterations,omitempty"`
	Recall                RecallOptions `json:"recall"`
	Safety                SafetyOptions `json:"safety"`
	HumanGate             HumanGate     `json:"human_gate"`
	CommandTimeoutSeconds int           `json:"command_timeout_seconds,omitempty"`
	SessionTimeoutSeconds int           `json:"session_timeout_seconds,omitempty"`
}

// LogEntry records one step of a session.
type LogEntry struct {
	Iteration int       `json:"iteration"`
	Phase     string    `json:"phase"`
	Message   string    `json:"message"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	Files     []string  `json:"files,omitempty"`
	Time      time.Time `json:"time"`
}

// Result is the final state of a session.
type Result struct {
	SessionID  string         `json:"session_id"`
	Status     Status         `json:"status"`
	Iterations int            `json:"iterations"`
	Reason     string         `json:"reason"`
	Summary    string         `json:"summary"`
	Evidence   map[string]any `json:"evidence"`
	Log        []LogEntry     `json:"log"`
	MemoryUsed []int64        `json:"memory_used"`
	FinalDiff  string         `json:"final_diff,omitempty"`
	Duration   string         `json:"duration"`
	MemoryID   int64          `json:"memory_id,omitempty"`
}
