package memtools

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/daverage/tinymem/internal/config"
	"github.com/daverage/tinymem/internal/cove"
	"github.com/daverage/tinymem/internal/doctor"
	"github.com/daverage/tinymem/internal/evidence"
	"github.com/daverage/tinymem/internal/memory"
	"github.com/daverage/tinymem/internal/ralph"
	"github.com/daverage/tinymem/internal/recall"
	"github.com/mark3labs/mcp-go/mcp"
)

const testProject = "/tmp/memtools-project"

// ─── Test helpers ────────────────────────────────────────────────────────────

// newTestStore creates a memory.Store in a temp directory for testing.
func newTestStore(t *testing.T) *memory.Store {
	t.Helper()
	store, err := memory.New(memory.DefaultConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// makeReq builds a mcp.CallToolRequest with the given arguments.
func makeReq(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

// resultText extracts the text content from a tool result.
func resultText(r *mcp.CallToolResult) string {
	if r == nil || len(r.Content) == 0 {
		return ""
	}
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

// mustNotError asserts the Handle call returns no Go error and no tool error.
func mustNotError(t *testing.T, r *mcp.CallToolResult, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected Go error: %v", err)
	}
	if r.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(r))
	}
}

// mustBeToolError asserts the Handle call returns a tool error (not a Go error).
func mustBeToolError(t *testing.T, r *mcp.CallToolResult, err error, wantSubstr string) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected Go error: %v", err)
	}
	if !r.IsError {
		t.Fatalf("expected tool error containing %q, got success: %s", wantSubstr, resultText(r))
	}
	if wantSubstr != "" && !strings.Contains(resultText(r), wantSubstr) {
		t.Errorf("error text %q does not contain %q", resultText(r), wantSubstr)
	}
}

// seedMemory writes a record directly through the store.
func seedMemory(t *testing.T, store *memory.Store, typ memory.Type, summary, detail string) *memory.Memory {
	t.Helper()
	m, err := store.Write(testProject, memory.WriteParams{Type: typ, Summary: summary, Detail: detail})
	if err != nil {
		t.Fatalf("seed %q: %v", summary, err)
	}
	return m
}

type stubChat struct {
	reply string
	err   error
	calls int
}

func (s *stubChat) Complete(context.Context, string, string) (string, error) {
	s.calls++
	return s.reply, s.err
}

type recordingIndexer struct {
	ids []int64
	err error
}

func (r *recordingIndexer) Index(_ context.Context, _ string, m *memory.Memory) error {
	r.ids = append(r.ids, m.ID)
	return r.err
}

func newRecall(store *memory.Store) *recall.Engine {
	return recall.New(store, nil, nil, recall.Options{MaxItems: 10, MaxTokens: 2000}, nil)
}

// ─── WriteTool ───────────────────────────────────────────────────────────────

func TestWriteTool_Definition(t *testing.T) {
	def := NewWriteTool(newTestStore(t), nil, nil, testProject, nil).Definition()
	if def.Name != "memory_write" {
		t.Errorf("Name = %q", def.Name)
	}
	for _, req := range []string{"type", "summary"} {
		found := false
		for _, r := range def.InputSchema.Required {
			if r == req {
				found = true
			}
		}
		if !found {
			t.Errorf("%q should be required", req)
		}
	}
}

func TestWriteTool_Success(t *testing.T) {
	store := newTestStore(t)
	idx := &recordingIndexer{}
	tool := NewWriteTool(store, nil, idx, testProject, nil)

	r, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"type":    "decision",
		"summary": "Use SQLite for storage",
		"detail":  "Single file, FTS5 built in",
	}))
	mustNotError(t, r, err)

	text := resultText(r)
	if !strings.Contains(text, "Memory created successfully") {
		t.Errorf("text = %q", text)
	}
	if len(idx.ids) != 1 {
		t.Errorf("indexer called %d times, want 1", len(idx.ids))
	}
	if n, _ := store.Count(testProject); n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
}

func TestWriteTool_IndexFailureStillStores(t *testing.T) {
	store := newTestStore(t)
	tool := NewWriteTool(store, nil, &recordingIndexer{err: errors.New("embedding down")}, testProject, nil)

	r, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"type": "note", "summary": "still stored",
	}))
	mustNotError(t, r, err)
	if n, _ := store.Count(testProject); n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
}

func TestWriteTool_TypeIsCaseInsensitive(t *testing.T) {
	tool := NewWriteTool(newTestStore(t), nil, nil, testProject, nil)
	r, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"type": "Note", "summary": "mixed case",
	}))
	mustNotError(t, r, err)
}

func TestWriteTool_InvalidType(t *testing.T) {
	tool := NewWriteTool(newTestStore(t), nil, nil, testProject, nil)
	r, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"type": "rumor", "summary": "x",
	}))
	mustBeToolError(t, r, err, "Invalid memory type")
}

func TestWriteTool_MissingSummary(t *testing.T) {
	tool := NewWriteTool(newTestStore(t), nil, nil, testProject, nil)
	r, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{"type": "note"}))
	mustBeToolError(t, r, err, "summary")
}

func TestWriteTool_FactWithoutEvidenceRejected(t *testing.T) {
	store := newTestStore(t)
	tool := NewWriteTool(store, evidence.New(evidence.Options{Root: t.TempDir()}), nil, testProject, nil)

	r, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"type": "fact", "summary": "The sky is green",
	}))
	mustBeToolError(t, r, err, "cannot be created directly")
	if n, _ := store.Count(testProject); n != 0 {
		t.Errorf("Count = %d, want 0", n)
	}
}

func TestWriteTool_FactWithEvidence(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "go.mod"), []byte("module x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	store := newTestStore(t)
	tool := NewWriteTool(store, evidence.New(evidence.Options{Root: root}), nil, testProject, nil)

	r, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"type":     "fact",
		"summary":  "Project is a Go module",
		"evidence": []interface{}{"file_exists::go.mod"},
	}))
	mustNotError(t, r, err)
	if !strings.Contains(resultText(r), "Evidence: file_exists::go.mod") {
		t.Errorf("text = %q", resultText(r))
	}
}

func TestWriteTool_FactEvidenceUnsatisfied(t *testing.T) {
	store := newTestStore(t)
	tool := NewWriteTool(store, evidence.New(evidence.Options{Root: t.TempDir()}), nil, testProject, nil)

	r, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"type":     "fact",
		"summary":  "Has a Makefile",
		"evidence": "file_exists::Makefile",
	}))
	mustBeToolError(t, r, err, "file_exists::Makefile")
	if n, _ := store.Count(testProject); n != 0 {
		t.Errorf("Count = %d, want 0", n)
	}
}

func TestWriteTool_BadPredicate(t *testing.T) {
	tool := NewWriteTool(newTestStore(t), evidence.New(evidence.Options{Root: t.TempDir()}), nil, testProject, nil)
	r, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"type":     "fact",
		"summary":  "x",
		"evidence": []interface{}{"vibes::good"},
	}))
	mustBeToolError(t, r, err, "unknown evidence kind")
}

// ─── QueryTool ───────────────────────────────────────────────────────────────

func TestQueryTool_FindsResults(t *testing.T) {
	store := newTestStore(t)
	seedMemory(t, store, memory.Note, "Query test note", "searchable body")
	seedMemory(t, store, memory.Note, "Unrelated", "nothing here")

	tool := NewQueryTool(newRecall(store), testProject)
	r, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{"query": "query test"}))
	mustNotError(t, r, err)

	text := resultText(r)
	if !strings.Contains(text, "Query test note") {
		t.Errorf("missing match: %q", text)
	}
	if strings.Contains(text, "Unrelated") {
		t.Errorf("unexpected match: %q", text)
	}
	if !strings.Contains(text, "lexical recall") {
		t.Errorf("mode not reported: %q", text)
	}
}

func TestQueryTool_NoResults(t *testing.T) {
	store := newTestStore(t)
	seedMemory(t, store, memory.Note, "Something", "")

	r, err := NewQueryTool(newRecall(store), testProject).Handle(context.Background(),
		makeReq(map[string]interface{}{"query": "zebra"}))
	mustNotError(t, r, err)
	if !strings.Contains(resultText(r), "No memories found") {
		t.Errorf("text = %q", resultText(r))
	}
}

func TestQueryTool_LimitApplied(t *testing.T) {
	store := newTestStore(t)
	for i := 0; i < 5; i++ {
		seedMemory(t, store, memory.Note, "cache layer note", "")
	}
	r, err := NewQueryTool(newRecall(store), testProject).Handle(context.Background(),
		makeReq(map[string]interface{}{"query": "cache", "limit": float64(2)}))
	mustNotError(t, r, err)
	text := resultText(r)
	if !strings.Contains(text, "Found 2 memories") {
		t.Errorf("text = %q", text)
	}
	if !strings.Contains(text, "Budget:") {
		t.Errorf("truncation not reported: %q", text)
	}
}

func TestQueryTool_OtherProjectInvisible(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Write("/tmp/other", memory.WriteParams{Type: memory.Note, Summary: "secret plan"}); err != nil {
		t.Fatal(err)
	}
	r, err := NewQueryTool(newRecall(store), testProject).Handle(context.Background(),
		makeReq(map[string]interface{}{"query": "secret"}))
	mustNotError(t, r, err)
	if strings.Contains(resultText(r), "secret plan") {
		t.Errorf("leaked across projects: %q", resultText(r))
	}
}

// ─── RecentTool ──────────────────────────────────────────────────────────────

func TestRecentTool_Empty(t *testing.T) {
	r, err := NewRecentTool(newTestStore(t), testProject, 10).Handle(context.Background(), makeReq(nil))
	mustNotError(t, r, err)
	if !strings.Contains(resultText(r), "Recent memories (0)") {
		t.Errorf("text = %q", resultText(r))
	}
}

func TestRecentTool_NewestFirst(t *testing.T) {
	store := newTestStore(t)
	seedMemory(t, store, memory.Note, "first", "")
	seedMemory(t, store, memory.Note, "second", "")
	seedMemory(t, store, memory.Note, "third", "")

	r, err := NewRecentTool(store, testProject, 10).Handle(context.Background(),
		makeReq(map[string]interface{}{"limit": float64(2)}))
	mustNotError(t, r, err)

	text := resultText(r)
	if !strings.Contains(text, "Recent memories (2)") {
		t.Errorf("text = %q", text)
	}
	if strings.Index(text, "third") > strings.Index(text, "second") || strings.Contains(text, "first") {
		t.Errorf("order/limit wrong: %q", text)
	}
	if !strings.Contains(text, "Showing 2 of 3.") {
		t.Errorf("missing navigation hint: %q", text)
	}
}

// ─── StatsTool / HealthTool / DoctorTool ─────────────────────────────────────

func TestStatsTool(t *testing.T) {
	store := newTestStore(t)
	seedMemory(t, store, memory.Note, "a", "")
	seedMemory(t, store, memory.Decision, "b", "")

	r, err := NewStatsTool(store, testProject).Handle(context.Background(), makeReq(nil))
	mustNotError(t, r, err)
	text := resultText(r)
	for _, want := range []string{"Memory Statistics", "Total memories: 2", "note: 1", "decision: 1"} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q in %q", want, text)
		}
	}
}

func TestStatsTool_ShowsVerificationCounters(t *testing.T) {
	store := newTestStore(t)
	if err := store.RecordCoVeStats(testProject, 4, 1, []float64{0.5, 0.9}, false); err != nil {
		t.Fatal(err)
	}
	r, err := NewStatsTool(store, testProject).Handle(context.Background(), makeReq(nil))
	mustNotError(t, r, err)
	if !strings.Contains(resultText(r), "Candidates evaluated: 4") {
		t.Errorf("text = %q", resultText(r))
	}
}

func TestHealthTool(t *testing.T) {
	r, err := NewHealthTool(newTestStore(t)).Handle(context.Background(), makeReq(nil))
	mustNotError(t, r, err)
	text := resultText(r)
	for _, want := range []string{"HEALTHY", "Database connectivity: OK", "Database query: OK"} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q in %q", want, text)
		}
	}
}

func TestHealthTool_ClosedStore(t *testing.T) {
	store := newTestStore(t)
	_ = store.Close()
	r, err := NewHealthTool(store).Handle(context.Background(), makeReq(nil))
	mustNotError(t, r, err)
	if !strings.Contains(resultText(r), "UNHEALTHY") {
		t.Errorf("text = %q", resultText(r))
	}
}

func TestDoctorTool(t *testing.T) {
	store := newTestStore(t)
	cfg := config.Default()
	cfg.ProjectRoot = t.TempDir()
	cfg.ProjectID = testProject
	cfg.DataDir = t.TempDir()

	tool := NewDoctorTool(doctor.New(cfg, store, nil, nil, "test"))
	r, err := tool.Handle(context.Background(), makeReq(nil))
	mustNotError(t, r, err)
	text := resultText(r)
	if !strings.Contains(text, "tinyMem Diagnostics Report") || !strings.Contains(text, "Database") {
		t.Errorf("text = %q", text)
	}
}

// ─── RalphTool ───────────────────────────────────────────────────────────────

func TestRalphTool_NoEngine(t *testing.T) {
	r, err := NewRalphTool(nil).Handle(context.Background(), makeReq(map[string]interface{}{
		"task": "x", "command": "true",
	}))
	mustBeToolError(t, r, err, "not available")
}

func TestRalphTool_InvalidOptions(t *testing.T) {
	root := t.TempDir()
	engine := ralph.New(&stubChat{}, nil, nil, ralph.Config{Root: root, ProjectID: root}, nil)
	r, err := NewRalphTool(engine).Handle(context.Background(), makeReq(map[string]interface{}{
		"command": "true",
	}))
	mustBeToolError(t, r, err, "task is required")
}

func TestRalphTool_PassingCommandSucceeds(t *testing.T) {
	root := t.TempDir()
	chat := &stubChat{}
	engine := ralph.New(chat, nil, nil, ralph.Config{
		Root:           root,
		ProjectID:      root,
		CommandTimeout: 10 * time.Second,
	}, nil)

	r, err := NewRalphTool(engine).Handle(context.Background(), makeReq(map[string]interface{}{
		"task":    "keep it green",
		"command": "true",
		"safety":  map[string]interface{}{"forbid_commands": []interface{}{"rm -rf"}},
	}))
	mustNotError(t, r, err)

	var res ralph.Result
	if err := json.Unmarshal([]byte(resultText(r)), &res); err != nil {
		t.Fatalf("result is not JSON: %v\n%s", err, resultText(r))
	}
	if res.Status != ralph.StatusSuccess {
		t.Errorf("Status = %q, reason %q", res.Status, res.Reason)
	}
	if chat.calls != 0 {
		t.Errorf("model called %d times for a passing command", chat.calls)
	}
}

// ─── PromoteTool ─────────────────────────────────────────────────────────────

func writeFile(t *testing.T, root, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(root, name), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestPromoteTool_Success(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "report.txt")
	store := newTestStore(t)
	claim := seedMemory(t, store, memory.Claim, "Report generated", "")

	tool := NewPromoteTool(store, evidence.New(evidence.Options{Root: root}), nil, testProject)
	r, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"id":       float64(claim.ID),
		"evidence": []interface{}{"file_exists::report.txt"},
	}))
	mustNotError(t, r, err)
	if !strings.Contains(resultText(r), "promoted to fact") {
		t.Errorf("text = %q", resultText(r))
	}
	got, err := store.Get(testProject, claim.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != memory.Fact {
		t.Errorf("Type = %q, want fact", got.Type)
	}
}

func TestPromoteTool_MissingEvidence(t *testing.T) {
	store := newTestStore(t)
	claim := seedMemory(t, store, memory.Claim, "c", "")
	tool := NewPromoteTool(store, evidence.New(evidence.Options{Root: t.TempDir()}), nil, testProject)
	r, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{"id": float64(claim.ID)}))
	mustBeToolError(t, r, err, "evidence")
}

func TestPromoteTool_UnsatisfiedEvidence(t *testing.T) {
	store := newTestStore(t)
	claim := seedMemory(t, store, memory.Claim, "c", "")
	tool := NewPromoteTool(store, evidence.New(evidence.Options{Root: t.TempDir()}), nil, testProject)
	r, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"id":       float64(claim.ID),
		"evidence": []interface{}{"file_exists::missing.txt"},
	}))
	mustBeToolError(t, r, err, "evidence not satisfied")
}

func TestPromoteTool_NotFound(t *testing.T) {
	tool := NewPromoteTool(newTestStore(t), evidence.New(evidence.Options{Root: t.TempDir()}), nil, testProject)
	r, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"id":       float64(99),
		"evidence": []interface{}{"file_exists::x"},
	}))
	mustBeToolError(t, r, err, "not found")
}

func TestPromoteTool_LowConfidenceRefused(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "report.txt")
	store := newTestStore(t)
	claim := seedMemory(t, store, memory.Claim, "c", "")

	chat := &stubChat{reply: `[{"id": ` + strconv.FormatInt(claim.ID, 10) + `, "confidence": 0.2}]`}
	verifier := cove.New(chat, store, cove.Options{Enabled: true, ConfidenceThreshold: 0.6}, nil)
	tool := NewPromoteTool(store, evidence.New(evidence.Options{Root: root}), verifier, testProject)

	r, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"id":       float64(claim.ID),
		"evidence": []interface{}{"file_exists::report.txt"},
	}))
	mustBeToolError(t, r, err, "below the threshold")
	got, _ := store.Get(testProject, claim.ID)
	if got.Type != memory.Claim {
		t.Errorf("Type = %q, want claim", got.Type)
	}
}

func TestPromoteTool_VerifierFailureFallsBackToEvidence(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "report.txt")
	store := newTestStore(t)
	claim := seedMemory(t, store, memory.Claim, "c", "")

	verifier := cove.New(&stubChat{err: errors.New("model offline")}, store,
		cove.Options{Enabled: true, ConfidenceThreshold: 0.6}, nil)
	tool := NewPromoteTool(store, evidence.New(evidence.Options{Root: root}), verifier, testProject)

	r, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"id":       float64(claim.ID),
		"evidence": []interface{}{"file_exists::report.txt"},
	}))
	mustNotError(t, r, err)
	if !strings.Contains(resultText(r), "Verification skipped") {
		t.Errorf("text = %q", resultText(r))
	}
}
