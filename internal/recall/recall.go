// Package recall ranks project memories for a query by combining lexical
// term overlap with embedding similarity, then trims the list to the item
// and token budgets.
package recall

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/daverage/tinymem/internal/cove"
	"github.com/daverage/tinymem/internal/llm"
	"github.com/daverage/tinymem/internal/memory"
	"github.com/daverage/tinymem/internal/metrics"
)

// Recall modes reported in results and metrics.
const (
	ModeLexical = "lexical"
	ModeHybrid  = "hybrid"
)

// defaultCandidateLimit bounds the FTS candidate pool.
const defaultCandidateLimit = 50

// Store is the subset of the memory store recall needs.
type Store interface {
	Search(projectID, query string, limit int) ([]memory.SearchResult, error)
	GetMany(projectID string, ids []int64) ([]memory.Memory, error)
	Embeddings(projectID string) ([]memory.Embedded, error)
	SetEmbedding(projectID string, id int64, vec []float32) error
}

// Options configure an Engine.
type Options struct {
	SemanticEnabled bool
	HybridWeight    float64
	MaxItems        int
	MaxTokens       int
	CandidateLimit  int
}

// Query is one recall request. Zero Limit or MaxTokens use the engine
// defaults; a nil HybridWeight uses the configured weight.
type Query struct {
	Text         string
	Limit        int
	MaxTokens    int
	HybridWeight *float64
}

// Candidate is a scored memory.
type Candidate struct {
	Memory     memory.Memory `json:"memory"`
	Lexical    float64       `json:"lexical"`
	Semantic   float64       `json:"semantic"`
	Hybrid     float64       `json:"hybrid"`
	Tokens     int           `json:"tokens"`
	Verified   bool          `json:"verified"`
	Confidence float64       `json:"confidence,omitempty"`
}

// Result is the ranked, budgeted output of Recall.
type Result struct {
	Candidates  []Candidate `json:"candidates"`
	Mode        string      `json:"mode"`
	Considered  int         `json:"considered"`
	TokensUsed  int         `json:"tokens_used"`
	TokenBudget int         `json:"token_budget"`
	Truncated   bool        `json:"truncated"`
	Verified    bool        `json:"verified"`
	VerifyError string      `json:"verify_error,omitempty"`
}

// Engine runs hybrid recall.
type Engine struct {
	store    Store
	embedder llm.Embedder
	verifier *cove.Verifier
	opts     Options
	log      *zap.Logger
}

// New creates an Engine. embedder and verifier may be nil.
func New(store Store, embedder llm.Embedder, verifier *cove.Verifier, opts Options, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.CandidateLimit <= 0 {
		opts.CandidateLimit = defaultCandidateLimit
	}
	return &Engine{store: store, embedder: embedder, verifier: verifier, opts: opts, log: log}
}

// Index stores the embedding for a freshly written record. It does nothing
// when semantic recall is off.
func (e *Engine) Index(ctx context.Context, projectID string, m *memory.Memory) error {
	if !e.semantic() {
		return nil
	}
	vec, err := e.embedder.Embed(ctx, m.Text())
	if err != nil {
		metrics.EmbeddingErrors.Inc()
		return err
	}
	return e.store.SetEmbedding(projectID, m.ID, vec)
}

// Recall returns the project's memories ranked for q.
func (e *Engine) Recall(ctx context.Context, projectID string, q Query) (*Result, error) {
	start := time.Now()
	defer func() { metrics.RecallDuration.Observe(time.Since(start).Seconds()) }()

	limit := q.Limit
	if limit <= 0 {
		limit = e.opts.MaxItems
	}
	budget := q.MaxTokens
	if budget <= 0 {
		budget = e.opts.MaxTokens
	}
	weight := e.opts.HybridWeight
	if q.HybridWeight != nil {
		weight = *q.HybridWeight
	}
	weight = clamp01(weight)

	hits, err := e.store.Search(projectID, q.Text, e.opts.CandidateLimit)
	if err != nil {
		return nil, err
	}
	pool := make(map[int64]memory.Memory, len(hits))
	for _, h := range hits {
		pool[h.ID] = h.Memory
	}

	sims, semanticUsed := e.similarities(ctx, projectID, q.Text)
	if semanticUsed {
		var extra []int64
		for id, s := range sims {
			if _, ok := pool[id]; !ok && s > 0 {
				extra = append(extra, id)
			}
		}
		if len(extra) > 0 {
			more, err := e.store.GetMany(projectID, extra)
			if err != nil {
				return nil, err
			}
			for _, m := range more {
				pool[m.ID] = m
			}
		}
	} else {
		weight = 0
	}

	terms := Terms(q.Text)
	ranked := make([]Candidate, 0, len(pool))
	for _, m := range pool {
		c := Candidate{Memory: m, Lexical: LexicalScore(terms, &m)}
		c.Semantic = clamp01(sims[m.ID])
		c.Hybrid = weight*c.Semantic + (1-weight)*c.Lexical
		c.Tokens = memory.EstimateTokens(m.Text())
		ranked = append(ranked, c)
	}
	Sort(ranked)

	res := &Result{Mode: ModeLexical, Considered: len(ranked), TokenBudget: budget}
	if semanticUsed {
		res.Mode = ModeHybrid
	}
	ranked = e.verify(ctx, projectID, ranked, res)

	res.Candidates, res.TokensUsed, res.Truncated = truncate(ranked, limit, budget)

	metrics.RecallTotal.WithLabelValues(res.Mode).Inc()
	metrics.RecallItems.Observe(float64(len(res.Candidates)))
	e.log.Debug("recall",
		zap.String("project", projectID),
		zap.String("mode", res.Mode),
		zap.Int("considered", res.Considered),
		zap.Int("returned", len(res.Candidates)))
	return res, nil
}

func (e *Engine) semantic() bool {
	return e.opts.SemanticEnabled && e.embedder != nil
}

// similarities returns the cosine score of every embedded record against
// the query. The bool is false when semantic scoring is unavailable.
func (e *Engine) similarities(ctx context.Context, projectID, text string) (map[int64]float64, bool) {
	if !e.semantic() || strings.TrimSpace(text) == "" {
		return nil, false
	}
	qvec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		metrics.EmbeddingErrors.Inc()
		e.log.Warn("query embedding failed, using lexical recall", zap.Error(err))
		return nil, false
	}
	stored, err := e.store.Embeddings(projectID)
	if err != nil {
		e.log.Warn("loading embeddings failed, using lexical recall", zap.Error(err))
		return nil, false
	}
	sims := make(map[int64]float64, len(stored))
	for _, s := range stored {
		sims[s.ID] = memory.CosineSimilarity(qvec, s.Vector)
	}
	return sims, true
}

func (e *Engine) verify(ctx context.Context, projectID string, ranked []Candidate, res *Result) []Candidate {
	if !e.verifier.Enabled(cove.RecallFilter) || len(ranked) == 0 {
		return ranked
	}
	in := make([]cove.Candidate, len(ranked))
	for i, c := range ranked {
		in[i] = cove.Candidate{ID: c.Memory.ID, Type: string(c.Memory.Type), Summary: c.Memory.Summary, Detail: c.Memory.Detail}
	}
	out, err := e.verifier.Verify(ctx, projectID, cove.RecallFilter, in)
	if err != nil {
		res.VerifyError = err.Error()
		return ranked
	}
	res.Verified = true

	keep := make(map[int64]bool, len(out.Kept))
	for _, c := range out.Kept {
		keep[c.ID] = true
	}
	filtered := ranked[:0]
	for _, c := range ranked {
		if !keep[c.Memory.ID] {
			continue
		}
		if j, ok := out.Judgements[c.Memory.ID]; ok {
			c.Verified = true
			c.Confidence = j.Confidence
		}
		filtered = append(filtered, c)
	}
	return filtered
}

// truncate applies the item limit, then the cumulative token budget.
// Lower-ranked items are dropped first.
func truncate(ranked []Candidate, limit, budget int) ([]Candidate, int, bool) {
	truncated := false
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
		truncated = true
	}
	used := 0
	for i, c := range ranked {
		if budget > 0 && used+c.Tokens > budget {
			return ranked[:i], used, true
		}
		used += c.Tokens
	}
	return ranked, used, truncated
}

// Sort orders candidates by hybrid score, then newest first, then by ID.
func Sort(cs []Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if a.Hybrid != b.Hybrid {
			return a.Hybrid > b.Hybrid
		}
		if a.Memory.CreatedAt != b.Memory.CreatedAt {
			return a.Memory.CreatedAt > b.Memory.CreatedAt
		}
		return a.Memory.ID > b.Memory.ID
	})
}

// Terms lowercases text and splits it into unique words.
func Terms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

// LexicalScore is the weighted share of terms found in the record. A term
// in the summary counts twice as much as one in the detail. The result is
// in [0, 1].
func LexicalScore(terms []string, m *memory.Memory) float64 {
	if len(terms) == 0 {
		return 0
	}
	summary := strings.ToLower(m.Summary)
	detail := strings.ToLower(m.Detail)
	var summaryHits, detailHits int
	for _, t := range terms {
		if strings.Contains(summary, t) {
			summaryHits++
		}
		if strings.Contains(detail, t) {
			detailHits++
		}
	}
	return float64(2*summaryHits+detailHits) / float64(3*len(terms))
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
