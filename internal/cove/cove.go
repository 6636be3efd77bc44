// Package cove implements chain-of-verification: an external model judges
// recall candidates before they reach the caller.
//
// Verification is an enhancement. Every failure is reported as a
// *VerificationError and callers keep the unverified input.
package cove

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/daverage/tinymem/internal/llm"
	"github.com/daverage/tinymem/internal/metrics"
)

// Mode selects the kind of judgement requested.
type Mode string

const (
	// RecallFilter asks for include/exclude per candidate.
	RecallFilter Mode = "recall_filter"
	// CandidateConfidence asks for a confidence score per candidate.
	CandidateConfidence Mode = "candidate_confidence"
)

// ErrUnparsable is wrapped when the verifier reply is not a judgement list.
var ErrUnparsable = errors.New("unparsable verifier response")

// maxDetailChars bounds the detail text sent per candidate.
const maxDetailChars = 500

// VerificationError reports a failed verification run.
type VerificationError struct {
	Mode Mode
	Err  error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("cove: %s verification failed: %v", e.Mode, e.Err)
}

func (e *VerificationError) Unwrap() error {
	return e.Err
}

// Candidate is one item to verify.
type Candidate struct {
	ID      int64
	Type    string
	Summary string
	Detail  string
}

// Judgement is the verifier's verdict on one candidate.
type Judgement struct {
	ID         int64   `json:"id"`
	Include    bool    `json:"include"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
	Accepted   bool    `json:"accepted"`
}

// Outcome is the result of Verify. Kept preserves input order.
type Outcome struct {
	Kept       []Candidate
	Judgements map[int64]Judgement
	Evaluated  int
	Discarded  int
	// Bypassed is set when verification was disabled or had nothing to do.
	Bypassed bool
}

// StatsRecorder persists per-project counters. *memory.Store satisfies it.
type StatsRecorder interface {
	RecordCoVeStats(projectID string, evaluated, discarded int, confidences []float64, failed bool) error
}

// Options configure a Verifier.
type Options struct {
	Enabled             bool
	RecallFilterEnabled bool
	ConfidenceThreshold float64
	MaxCandidates       int
	Timeout             time.Duration
}

// Verifier asks a chat model to judge candidates.
type Verifier struct {
	chat  llm.Chatter
	stats StatsRecorder
	opts  Options
	log   *zap.Logger
}

// New creates a Verifier. stats may be nil.
func New(chat llm.Chatter, stats StatsRecorder, opts Options, log *zap.Logger) *Verifier {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = 20
	}
	return &Verifier{chat: chat, stats: stats, opts: opts, log: log}
}

// Enabled reports whether mode would call the verifier.
func (v *Verifier) Enabled(mode Mode) bool {
	if v == nil || v.chat == nil || !v.opts.Enabled {
		return false
	}
	if mode == RecallFilter {
		return v.opts.RecallFilterEnabled
	}
	return true
}

// Threshold returns the acceptance threshold for confidence mode.
func (v *Verifier) Threshold() float64 {
	return v.opts.ConfidenceThreshold
}

// Verify judges candidates. Only the first MaxCandidates are sent; the rest
// are kept unverified after the verified ones.
func (v *Verifier) Verify(ctx context.Context, projectID string, mode Mode, candidates []Candidate) (*Outcome, error) {
	if !v.Enabled(mode) || len(candidates) == 0 {
		return &Outcome{Kept: candidates, Judgements: map[int64]Judgement{}, Bypassed: true}, nil
	}

	sent := candidates
	var excess []Candidate
	if len(sent) > v.opts.MaxCandidates {
		sent, excess = candidates[:v.opts.MaxCandidates], candidates[v.opts.MaxCandidates:]
	}

	if v.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.opts.Timeout)
		defer cancel()
	}

	reply, err := v.chat.Complete(ctx, systemPrompt(mode), userPrompt(mode, sent))
	if err != nil {
		return nil, v.fail(projectID, mode, err)
	}
	raw, err := parseJudgements(reply)
	if err != nil {
		return nil, v.fail(projectID, mode, err)
	}

	out := v.apply(mode, sent, raw)
	out.Kept = append(out.Kept, excess...)
	v.record(projectID, mode, out)
	return out, nil
}

func (v *Verifier) apply(mode Mode, sent []Candidate, raw map[int64]rawJudgement) *Outcome {
	out := &Outcome{Judgements: make(map[int64]Judgement, len(sent)), Evaluated: len(sent)}
	for _, c := range sent {
		r, ok := raw[c.ID]
		j := Judgement{ID: c.ID, Reason: r.Reason}
		switch mode {
		case RecallFilter:
			j.Include = !ok || r.Include == nil || *r.Include
			j.Accepted = j.Include
		default:
			if ok && r.Confidence != nil {
				j.Confidence = clamp(*r.Confidence)
			}
			j.Accepted = j.Confidence >= v.opts.ConfidenceThreshold
			j.Include = j.Accepted
		}
		out.Judgements[c.ID] = j
		if j.Accepted {
			out.Kept = append(out.Kept, c)
		} else {
			out.Discarded++
		}
	}
	return out
}

func (v *Verifier) fail(projectID string, mode Mode, err error) error {
	metrics.CoVeErrors.WithLabelValues(string(mode)).Inc()
	v.log.Warn("verification failed, using unverified input",
		zap.String("mode", string(mode)), zap.Error(err))
	if v.stats != nil {
		if serr := v.stats.RecordCoVeStats(projectID, 0, 0, nil, true); serr != nil {
			v.log.Warn("recording cove stats", zap.Error(serr))
		}
	}
	return &VerificationError{Mode: mode, Err: err}
}

func (v *Verifier) record(projectID string, mode Mode, out *Outcome) {
	metrics.CoVeCandidates.WithLabelValues(string(mode), "kept").Add(float64(out.Evaluated - out.Discarded))
	metrics.CoVeCandidates.WithLabelValues(string(mode), "discarded").Add(float64(out.Discarded))
	if v.stats == nil {
		return
	}
	var confidences []float64
	if mode == CandidateConfidence {
		for _, j := range out.Judgements {
			confidences = append(confidences, j.Confidence)
		}
	}
	if err := v.stats.RecordCoVeStats(projectID, out.Evaluated, out.Discarded, confidences, false); err != nil {
		v.log.Warn("recording cove stats", zap.Error(err))
	}
}

// ─── Prompt / Parse ──────────────────────────────────────────────────────────

func systemPrompt(mode Mode) string {
	if mode == RecallFilter {
		return `You verify whether stored project memories are relevant and trustworthy.
Reply with a JSON array only, one object per memory:
[{"id": <id>, "include": true|false, "reason": "<short reason>"}]`
	}
	return `You estimate how likely each stored project memory is to be true.
Reply with a JSON array only, one object per memory:
[{"id": <id>, "confidence": <0.0-1.0>, "reason": "<short reason>"}]`
}

func userPrompt(mode Mode, candidates []Candidate) string {
	var b strings.Builder
	if mode == RecallFilter {
		b.WriteString("Judge each memory. Exclude memories that are vague, contradictory or speculative.\n\n")
	} else {
		b.WriteString("Score each memory.\n\n")
	}
	for _, c := range candidates {
		fmt.Fprintf(&b, "ID: %d\nType: %s\nSummary: %s\n", c.ID, c.Type, c.Summary)
		if c.Detail != "" {
			detail := c.Detail
			if r := []rune(detail); len(r) > maxDetailChars {
				detail = string(r[:maxDetailChars]) + "..."
			}
			fmt.Fprintf(&b, "Detail: %s\n", detail)
		}
		b.WriteString("\n")
	}
	return b.String()
}

type rawJudgement struct {
	ID         int64    `json:"id"`
	Include    *bool    `json:"include"`
	Confidence *float64 `json:"confidence"`
	Reason     string   `json:"reason"`
}

// parseJudgements extracts the JSON array from a reply that may carry
// surrounding prose or code fences.
func parseJudgements(reply string) (map[int64]rawJudgement, error) {
	start := strings.Index(reply, "[")
	end := strings.LastIndex(reply, "]")
	if start < 0 || end <= start {
		return nil, ErrUnparsable
	}
	var list []rawJudgement
	if err := json.Unmarshal([]byte(reply[start:end+1]), &list); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparsable, err)
	}
	out := make(map[int64]rawJudgement, len(list))
	for _, r := range list {
		out[r.ID] = r
	}
	return out, nil
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
