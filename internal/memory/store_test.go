package memory_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/daverage/tinymem/internal/evidence"
	"github.com/daverage/tinymem/internal/memory"
)

const testProject = "/tmp/project-a"

// newTestStore creates a Store backed by a temp directory for isolation.
func newTestStore(t *testing.T) *memory.Store {
	t.Helper()
	s, err := memory.New(memory.DefaultConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// mustWrite stores a record or fails the test.
func mustWrite(t *testing.T, s *memory.Store, project string, typ memory.Type, summary, detail string) *memory.Memory {
	t.Helper()
	m, err := s.Write(project, memory.WriteParams{Type: typ, Summary: summary, Detail: detail})
	if err != nil {
		t.Fatalf("Write(%q): %v", summary, err)
	}
	return m
}

// stubChecker returns a fixed verdict for every ref.
type stubChecker struct {
	ok    bool
	calls int
}

func (c *stubChecker) Evaluate(_ context.Context, refs []evidence.Ref) evidence.Report {
	c.calls++
	report := evidence.Report{AllSatisfied: c.ok}
	for _, r := range refs {
		report.Results = append(report.Results, evidence.Result{Ref: r, Satisfied: c.ok})
	}
	return report
}

// ─── New / Initialization ───────────────────────────────────────────────────

func TestNew_CreatesDBFile(t *testing.T) {
	dir := t.TempDir()
	s, err := memory.New(memory.DefaultConfig(dir))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer s.Close()

	want := filepath.Join(dir, "store.sqlite3")
	if s.Path() != want {
		t.Errorf("Path() = %q, want %q", s.Path(), want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("database file missing: %v", err)
	}
}

func TestNew_IdempotentReopen(t *testing.T) {
	cfg := memory.DefaultConfig(t.TempDir())

	s1, err := memory.New(cfg)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	mustWrite(t, s1, testProject, memory.Note, "persisted note", "")
	s1.Close()

	// Reopen: data and triggers should survive
	s2, err := memory.New(cfg)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer s2.Close()

	results, err := s2.Search(testProject, "persisted", 10)
	if err != nil {
		t.Fatalf("Search after reopen: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("len = %d, want 1", len(results))
	}
}

// ─── Write ──────────────────────────────────────────────────────────────────

func TestWrite_Basic(t *testing.T) {
	s := newTestStore(t)
	m := mustWrite(t, s, testProject, memory.Decision, "Use SQLite", "single file, no server")

	if m.ID == 0 {
		t.Fatal("expected non-zero ID")
	}
	if m.TruthState != memory.Asserted {
		t.Errorf("TruthState = %q, want %q", m.TruthState, memory.Asserted)
	}

	got, err := s.Get(testProject, m.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Summary != "Use SQLite" || got.Detail != "single file, no server" {
		t.Errorf("unexpected record: %+v", got)
	}
	if got.CreatedAt == "" || got.CreatedAt != got.UpdatedAt {
		t.Errorf("timestamps = %q / %q", got.CreatedAt, got.UpdatedAt)
	}
}

func TestWrite_RejectsFact(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Write(testProject, memory.WriteParams{Type: memory.Fact, Summary: "the sky is blue"})
	if !errors.Is(err, memory.ErrDirectFactCreation) {
		t.Fatalf("err = %v, want ErrDirectFactCreation", err)
	}

	stats, err := s.Stats(testProject)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 0 {
		t.Errorf("Total = %d, want 0 after rejected fact", stats.Total)
	}
}

func TestWrite_Validation(t *testing.T) {
	s := newTestStore(t)
	tests := []struct {
		name    string
		project string
		params  memory.WriteParams
		field   string
	}{
		{"empty summary", testProject, memory.WriteParams{Type: memory.Note, Summary: "   "}, "summary"},
		{"unknown type", testProject, memory.WriteParams{Type: "rumour", Summary: "x"}, "type"},
		{"no project", "", memory.WriteParams{Type: memory.Note, Summary: "x"}, "project_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Write(tt.project, tt.params)
			var ve *memory.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if ve.Field != tt.field {
				t.Errorf("Field = %q, want %q", ve.Field, tt.field)
			}
		})
	}
}

func TestWrite_InvalidTypeMessage(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Write(testProject, memory.WriteParams{Type: "rumour", Summary: "x"})
	if err == nil || !strings.Contains(err.Error(), "Invalid memory type") {
		t.Errorf("err = %v, want 'Invalid memory type'", err)
	}
}

func TestWrite_DetailTruncated(t *testing.T) {
	cfg := memory.DefaultConfig(t.TempDir())
	cfg.MaxDetailLength = 20
	s, err := memory.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	m := mustWrite(t, s, testProject, memory.Note, "long", strings.Repeat("a", 100))
	if !strings.HasSuffix(m.Detail, "... [truncated]") {
		t.Errorf("Detail = %q, want truncation marker", m.Detail)
	}
}

func TestWrite_DetailTruncatedOnRuneBoundary(t *testing.T) {
	cfg := memory.DefaultConfig(t.TempDir())
	cfg.MaxDetailLength = 5
	s, err := memory.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	m := mustWrite(t, s, testProject, memory.Note, "multibyte", strings.Repeat("é", 10))
	if !utf8.ValidString(m.Detail) {
		t.Fatalf("Detail is not valid UTF-8: %q", m.Detail)
	}
	if want := strings.Repeat("é", 5) + "... [truncated]"; m.Detail != want {
		t.Errorf("Detail = %q, want %q", m.Detail, want)
	}
}

func TestWrite_CommitFailureLeavesNoRecord(t *testing.T) {
	s := newTestStore(t)
	s.FailCommits()

	if _, err := s.Write(testProject, memory.WriteParams{Type: memory.Note, Summary: "lost"}); err == nil {
		t.Fatal("expected commit error")
	}
	n, err := s.Count(testProject)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("Count = %d, want 0", n)
	}
}

func TestWrite_BeginFailure(t *testing.T) {
	s := newTestStore(t)
	s.FailBegin()

	_, err := s.Write(testProject, memory.WriteParams{Type: memory.Note, Summary: "never stored"})
	if err == nil || !strings.Contains(err.Error(), "forced begin failure") {
		t.Fatalf("err = %v, want begin failure", err)
	}
}

func TestRecordCoVeStats_ExecFailure(t *testing.T) {
	s := newTestStore(t)
	s.FailExec()

	if err := s.RecordCoVeStats(testProject, 1, 0, nil, false); err == nil {
		t.Fatal("expected exec error")
	}
}

func TestHealthCheck_QueryFailure(t *testing.T) {
	s := newTestStore(t)
	s.FailQueries()

	h := s.HealthCheck()
	if !h.Connectivity {
		t.Error("connectivity should still be reported")
	}
	if h.QueryOK {
		t.Error("QueryOK = true with failing queries")
	}
	if !strings.Contains(h.Error, "forced query failure") {
		t.Errorf("Error = %q", h.Error)
	}
	if h.Healthy() {
		t.Error("Healthy() = true")
	}
	if _, err := s.Search(testProject, "anything", 5); err == nil {
		t.Error("Search should surface the query error")
	}
}

// ─── Facts ──────────────────────────────────────────────────────────────────

func TestCreateFactWithEvidence_Satisfied(t *testing.T) {
	s := newTestStore(t)
	checker := &stubChecker{ok: true}
	refs := []evidence.Ref{{Kind: evidence.KindFileExists, Target: "go.mod"}}

	m, err := s.CreateFactWithEvidence(context.Background(), testProject,
		memory.WriteParams{Summary: "module file exists"}, refs, checker)
	if err != nil {
		t.Fatalf("CreateFactWithEvidence: %v", err)
	}
	if m.Type != memory.Fact || m.TruthState != memory.Verified {
		t.Errorf("got type=%q state=%q", m.Type, m.TruthState)
	}

	got, err := s.Get(testProject, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Evidence) != 1 || got.Evidence[0].Target != "go.mod" {
		t.Errorf("Evidence = %+v", got.Evidence)
	}
}

func TestCreateFactWithEvidence_Unsatisfied(t *testing.T) {
	s := newTestStore(t)
	refs := []evidence.Ref{{Kind: evidence.KindFileExists, Target: "missing.txt"}}

	_, err := s.CreateFactWithEvidence(context.Background(), testProject,
		memory.WriteParams{Summary: "claims a file"}, refs, &stubChecker{ok: false})

	var ee *memory.EvidenceError
	if !errors.As(err, &ee) {
		t.Fatalf("err = %v, want EvidenceError", err)
	}
	if !errors.Is(err, memory.ErrEvidenceUnsatisfied) {
		t.Error("EvidenceError should unwrap to ErrEvidenceUnsatisfied")
	}
	if n, _ := s.Count(testProject); n != 0 {
		t.Errorf("Count = %d, want 0", n)
	}
}

func TestCreateFactWithEvidence_NoRefs(t *testing.T) {
	s := newTestStore(t)
	checker := &stubChecker{ok: true}
	_, err := s.CreateFactWithEvidence(context.Background(), testProject,
		memory.WriteParams{Summary: "no proof"}, nil, checker)
	if !errors.Is(err, memory.ErrEvidenceRequired) {
		t.Fatalf("err = %v, want ErrEvidenceRequired", err)
	}
	if checker.calls != 0 {
		t.Error("checker should not run without refs")
	}
}

func TestPromoteToFact(t *testing.T) {
	s := newTestStore(t)
	claim := mustWrite(t, s, testProject, memory.Claim, "tests pass", "")
	refs := []evidence.Ref{{Kind: evidence.KindCommandExit, Target: "true"}}

	m, err := s.PromoteToFact(context.Background(), testProject, claim.ID, refs, &stubChecker{ok: true})
	if err != nil {
		t.Fatalf("PromoteToFact: %v", err)
	}
	if m.Type != memory.Fact {
		t.Errorf("Type = %q, want fact", m.Type)
	}

	// FTS index follows the type change.
	results, err := s.Search(testProject, "fact", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != claim.ID {
		t.Errorf("search by new type = %+v", results)
	}

	stats, _ := s.Stats(testProject)
	if stats.Facts != 1 || stats.ByType[memory.Claim] != 0 {
		t.Errorf("stats after promotion = %+v", stats)
	}
}

func TestPromoteToFact_Unsatisfied(t *testing.T) {
	s := newTestStore(t)
	claim := mustWrite(t, s, testProject, memory.Claim, "tests pass", "")
	refs := []evidence.Ref{{Kind: evidence.KindCommandExit, Target: "false"}}

	_, err := s.PromoteToFact(context.Background(), testProject, claim.ID, refs, &stubChecker{ok: false})
	if !errors.Is(err, memory.ErrEvidenceUnsatisfied) {
		t.Fatalf("err = %v, want ErrEvidenceUnsatisfied", err)
	}
	got, _ := s.Get(testProject, claim.ID)
	if got.Type != memory.Claim {
		t.Errorf("Type = %q, want claim unchanged", got.Type)
	}
}

func TestPromoteToFact_OtherProjectNotFound(t *testing.T) {
	s := newTestStore(t)
	claim := mustWrite(t, s, testProject, memory.Claim, "mine", "")
	_, err := s.PromoteToFact(context.Background(), "/tmp/project-b", claim.ID,
		[]evidence.Ref{{Kind: evidence.KindFileExists, Target: "x"}}, &stubChecker{ok: true})
	if !errors.Is(err, memory.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestFactsWithoutEvidence(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.CreateFactWithEvidence(context.Background(), testProject,
		memory.WriteParams{Summary: "backed"},
		[]evidence.Ref{{Kind: evidence.KindFileExists, Target: "a"}}, &stubChecker{ok: true}); err != nil {
		t.Fatal(err)
	}
	n, err := s.FactsWithoutEvidence(testProject)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("FactsWithoutEvidence = %d, want 0", n)
	}
}

// ─── Reads ──────────────────────────────────────────────────────────────────

func TestGet_NotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get(testProject, 999); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRecent_OrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	for _, summary := range []string{"first", "second", "third"} {
		mustWrite(t, s, testProject, memory.Note, summary, "")
	}

	results, err := s.Recent(testProject, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len = %d, want 2", len(results))
	}
	if results[0].Summary != "third" || results[1].Summary != "second" {
		t.Errorf("order = %q, %q", results[0].Summary, results[1].Summary)
	}
}

func TestRecent_Empty(t *testing.T) {
	s := newTestStore(t)
	results, err := s.Recent(testProject, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("len = %d, want 0", len(results))
	}
}

func TestGetMany_ScopedToProject(t *testing.T) {
	s := newTestStore(t)
	a := mustWrite(t, s, testProject, memory.Note, "a", "")
	b := mustWrite(t, s, "/tmp/project-b", memory.Note, "b", "")

	got, err := s.GetMany(testProject, []int64{a.ID, b.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != a.ID {
		t.Errorf("GetMany = %+v", got)
	}
}

// ─── Search ─────────────────────────────────────────────────────────────────

func TestSearch_Basic(t *testing.T) {
	s := newTestStore(t)
	mustWrite(t, s, testProject, memory.Note, "Query test note", "with details")
	mustWrite(t, s, testProject, memory.Note, "Unrelated", "nothing here")

	results, err := s.Search(testProject, "query test", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Summary != "Query test note" {
		t.Errorf("results = %+v", results)
	}
}

func TestSearch_AnyTermMatches(t *testing.T) {
	s := newTestStore(t)
	mustWrite(t, s, testProject, memory.Note, "alpha", "")
	mustWrite(t, s, testProject, memory.Note, "beta", "")

	results, err := s.Search(testProject, "alpha beta gamma", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Errorf("len = %d, want 2", len(results))
	}
}

func TestSearch_FilterByProject(t *testing.T) {
	s := newTestStore(t)
	mustWrite(t, s, testProject, memory.Note, "shared keyword", "")
	mustWrite(t, s, "/tmp/project-b", memory.Note, "shared keyword", "")

	results, err := s.Search(testProject, "keyword", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ProjectID != testProject {
		t.Errorf("results leaked across projects: %+v", results)
	}
}

func TestSearch_EmptyQueryFallsBackToRecent(t *testing.T) {
	s := newTestStore(t)
	mustWrite(t, s, testProject, memory.Note, "one", "")
	mustWrite(t, s, testProject, memory.Note, "two", "")

	results, err := s.Search(testProject, "  ", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || results[0].Summary != "two" {
		t.Errorf("results = %+v", results)
	}
}

func TestSearch_SpecialCharacters(t *testing.T) {
	s := newTestStore(t)
	mustWrite(t, s, testProject, memory.Note, "handle \"quoted\" AND (parens)", "")

	if _, err := s.Search(testProject, `"quoted" AND (parens) NOT*`, 10); err != nil {
		t.Fatalf("Search with FTS syntax should not fail: %v", err)
	}
}

func TestSearch_Deterministic(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 5; i++ {
		mustWrite(t, s, testProject, memory.Note, "repeat entry", "")
	}
	first, err := s.Search(testProject, "repeat", 10)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Search(testProject, "repeat", 10)
	if err != nil {
		t.Fatal(err)
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("order differs at %d: %d vs %d", i, first[i].ID, second[i].ID)
		}
	}
}

// ─── Embeddings ─────────────────────────────────────────────────────────────

func TestEmbeddings_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	m := mustWrite(t, s, testProject, memory.Note, "vector", "")
	mustWrite(t, s, testProject, memory.Note, "no vector", "")

	if err := s.SetEmbedding(testProject, m.ID, []float32{0.5, -1, 2}); err != nil {
		t.Fatalf("SetEmbedding: %v", err)
	}
	got, err := s.Embeddings(testProject)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != m.ID {
		t.Fatalf("Embeddings = %+v", got)
	}
	if got[0].Vector[1] != -1 || got[0].Vector[2] != 2 {
		t.Errorf("Vector = %v", got[0].Vector)
	}
}

func TestSetEmbedding_OtherProject(t *testing.T) {
	s := newTestStore(t)
	m := mustWrite(t, s, testProject, memory.Note, "vector", "")
	if err := s.SetEmbedding("/tmp/other", m.ID, []float32{1}); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2}, []float32{1, 2}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1}, []float32{1, 2}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := memory.CosineSimilarity(tt.a, tt.b)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("CosineSimilarity = %v, want %v", got, tt.want)
			}
		})
	}
}

// ─── Stats / Health ─────────────────────────────────────────────────────────

func TestStats_Empty(t *testing.T) {
	s := newTestStore(t)
	stats, err := s.Stats(testProject)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 0 || len(stats.ByType) != 0 || stats.Last != "" {
		t.Errorf("stats = %+v", stats)
	}
}

func TestStats_WithData(t *testing.T) {
	s := newTestStore(t)
	mustWrite(t, s, testProject, memory.Note, "n1", "")
	mustWrite(t, s, testProject, memory.Note, "n2", "")
	mustWrite(t, s, testProject, memory.Plan, "p1", "")
	mustWrite(t, s, "/tmp/other", memory.Plan, "elsewhere", "")

	stats, err := s.Stats(testProject)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 3 {
		t.Errorf("Total = %d, want 3", stats.Total)
	}
	if stats.ByType[memory.Note] != 2 || stats.ByType[memory.Plan] != 1 {
		t.Errorf("ByType = %v", stats.ByType)
	}
	if stats.Last == "" {
		t.Error("Last should be set")
	}
}

func TestHealthCheck(t *testing.T) {
	s := newTestStore(t)
	h := s.HealthCheck()
	if !h.Healthy() {
		t.Errorf("health = %+v, want healthy", h)
	}
}

func TestHealthCheck_ClosedDB(t *testing.T) {
	s := newTestStore(t)
	s.DB().Close()
	h := s.HealthCheck()
	if h.Healthy() || h.Error == "" {
		t.Errorf("health = %+v, want failure with error", h)
	}
}

// ─── CoVe stats ─────────────────────────────────────────────────────────────

func TestCoVeStats_Accumulate(t *testing.T) {
	s := newTestStore(t)

	empty, err := s.CoVeStats(testProject)
	if err != nil {
		t.Fatal(err)
	}
	if empty.Evaluated != 0 {
		t.Errorf("empty stats = %+v", empty)
	}

	if err := s.RecordCoVeStats(testProject, 4, 1, []float64{0.9, 0.5}, false); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordCoVeStats(testProject, 2, 0, []float64{0.7}, true); err != nil {
		t.Fatal(err)
	}

	st, err := s.CoVeStats(testProject)
	if err != nil {
		t.Fatal(err)
	}
	if st.Evaluated != 6 || st.Discarded != 1 || st.Errors != 1 {
		t.Errorf("stats = %+v", st)
	}
	if diff := st.AvgConfidence - 0.7; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("AvgConfidence = %v, want 0.7", st.AvgConfidence)
	}
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func TestSanitizeFTS(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"fix auth bug", `"fix" OR "auth" OR "bug"`},
		{`say "hi"`, `"say" OR "hi"`},
		{"   ", ""},
		{`""`, ""},
	}
	for _, tt := range tests {
		if got := memory.SanitizeFTS(tt.in); got != tt.want {
			t.Errorf("SanitizeFTS(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := memory.Truncate("hello", 10); got != "hello" {
		t.Errorf("got %q", got)
	}
	if got := memory.Truncate("hello world", 5); got != "hello..." {
		t.Errorf("got %q", got)
	}
}

func TestNow_ReturnsUTCFormat(t *testing.T) {
	now := memory.Now()
	if _, err := time.Parse("2006-01-02 15:04:05.000000", now); err != nil {
		t.Errorf("Now() = %q is not in the expected format: %v", now, err)
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"ab", 1},
		{strings.Repeat("x", 400), 100},
	}
	for _, tt := range tests {
		if got := memory.EstimateTokens(tt.in); got != tt.want {
			t.Errorf("EstimateTokens(len %d) = %d, want %d", len(tt.in), got, tt.want)
		}
	}
}

func TestNavigationHint(t *testing.T) {
	if got := memory.NavigationHint(5, 5, ""); got != "" {
		t.Errorf("got %q, want empty", got)
	}
	if got := memory.NavigationHint(2, 7, "Use limit."); !strings.Contains(got, "Showing 2 of 7. Use limit.") {
		t.Errorf("got %q", got)
	}
}
