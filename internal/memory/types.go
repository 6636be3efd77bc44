package memory

import (
	"strings"

	"github.com/daverage/tinymem/internal/evidence"
)

// Type classifies a memory record.
type Type string

// Memory types. Fact is special: it only enters the store through the
// evidence-gated paths.
const (
	Fact        Type = "fact"
	Claim       Type = "claim"
	Plan        Type = "plan"
	Decision    Type = "decision"
	Constraint  Type = "constraint"
	Observation Type = "observation"
	Note        Type = "note"
)

// AllTypes lists every type, fact first.
func AllTypes() []Type {
	return []Type{Fact, Claim, Plan, Decision, Constraint, Observation, Note}
}

// WritableTypes lists the types accepted by the direct write path.
func WritableTypes() []Type {
	return []Type{Claim, Plan, Decision, Constraint, Observation, Note}
}

// IsValid reports whether t is a known type.
func (t Type) IsValid() bool {
	for _, v := range AllTypes() {
		if t == v {
			return true
		}
	}
	return false
}

// TypeNames joins the type names for messages.
func TypeNames(types []Type) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

// TruthState records how much a memory has been checked.
type TruthState string

// Truth states, weakest first.
const (
	Tentative TruthState = "tentative"
	Asserted  TruthState = "asserted"
	Verified  TruthState = "verified"
)

// DefaultTruthState is the state a freshly written record starts in.
func DefaultTruthState(t Type) TruthState {
	switch t {
	case Fact:
		return Verified
	case Observation, Note:
		return Tentative
	default:
		return Asserted
	}
}

// Memory is a stored record. Records are immutable after creation apart
// from their embedding and an explicit promotion to fact.
type Memory struct {
	ID         int64          `json:"id"`
	ProjectID  string         `json:"project_id"`
	Type       Type           `json:"type"`
	Summary    string         `json:"summary"`
	Detail     string         `json:"detail,omitempty"`
	Source     string         `json:"source,omitempty"`
	TruthState TruthState     `json:"truth_state"`
	Evidence   []evidence.Ref `json:"evidence,omitempty"`
	CreatedAt  string         `json:"created_at"`
	UpdatedAt  string         `json:"updated_at"`
}

// Text is the summary and detail joined, as indexed and embedded.
func (m *Memory) Text() string {
	if m.Detail == "" {
		return m.Summary
	}
	return m.Summary + "\n" + m.Detail
}

// WriteParams holds the input for a new record.
type WriteParams struct {
	Type    Type   `json:"type"`
	Summary string `json:"summary"`
	Detail  string `json:"detail,omitempty"`
	Source  string `json:"source,omitempty"`
}

// SearchResult is a memory with its FTS5 rank (lower is better).
type SearchResult struct {
	Memory
	Rank float64 `json:"rank"`
}

// Embedded pairs a record ID with its stored vector.
type Embedded struct {
	ID     int64
	Vector []float32
}

// Stats holds per-project counts.
type Stats struct {
	Total  int          `json:"total"`
	ByType map[Type]int `json:"by_type"`
	Facts  int          `json:"facts"`
	Last   string       `json:"last_created_at,omitempty"`
}

// Health is the outcome of a store self-check. It is data, not an error.
type Health struct {
	Connectivity bool   `json:"connectivity"`
	QueryOK      bool   `json:"query_ok"`
	Error        string `json:"error,omitempty"`
}

// Healthy reports whether every check passed.
func (h Health) Healthy() bool {
	return h.Connectivity && h.QueryOK
}

// CoVeStats are the persisted verification counters for one project.
type CoVeStats struct {
	Evaluated     int     `json:"candidates_evaluated"`
	Discarded     int     `json:"candidates_discarded"`
	AvgConfidence float64 `json:"avg_confidence"`
	Errors        int     `json:"errors"`
	LastUpdated   string  `json:"last_updated,omitempty"`
}
