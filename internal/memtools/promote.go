package memtools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/daverage/tinymem/internal/cove"
	"github.com/daverage/tinymem/internal/evidence"
	"github.com/daverage/tinymem/internal/memory"
	"github.com/mark3labs/mcp-go/mcp"
)

// PromoteTool handles the memory_promote MCP tool.
type PromoteTool struct {
	store     *memory.Store
	checker   memory.EvidenceChecker
	verifier  *cove.Verifier
	projectID string
}

// NewPromoteTool creates a PromoteTool. verifier may be nil.
func NewPromoteTool(store *memory.Store, checker memory.EvidenceChecker, verifier *cove.Verifier, projectID string) *PromoteTool {
	return &PromoteTool{store: store, checker: checker, verifier: verifier, projectID: projectID}
}

// Definition returns the MCP tool definition for memory_promote.
func (t *PromoteTool) Definition() mcp.Tool {
	return mcp.NewTool("memory_promote",
		mcp.WithDescription(
			"Promote an existing memory to a fact. Every evidence predicate must hold. When verification is enabled "+
				"the memory must also reach the confidence threshold.",
		),
		mcp.WithNumber("id",
			mcp.Required(),
			mcp.Description("ID of the memory to promote"),
		),
		mcp.WithArray("evidence",
			mcp.Required(),
			mcp.WithStringItems(),
			mcp.Description("Evidence predicates, e.g. file_exists::out/report.txt"),
		),
	)
}

// Handle processes the memory_promote tool call.
func (t *PromoteTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := int64(intArg(req, "id", 0))
	if id <= 0 {
		return mcp.NewToolResultError("'id' is required"), nil
	}
	preds := stringsArg(req, "evidence")
	if len(preds) == 0 {
		return mcp.NewToolResultError(memory.ErrEvidenceRequired.Error()), nil
	}
	refs, err := evidence.ParseRefs(preds)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	m, err := t.store.Get(t.projectID, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var notes []string
	if t.verifier.Enabled(cove.CandidateConfidence) {
		cand := cove.Candidate{ID: m.ID, Type: string(m.Type), Summary: m.Summary, Detail: m.Detail}
		out, err := t.verifier.Verify(ctx, t.projectID, cove.CandidateConfidence, []cove.Candidate{cand})
		var vErr *cove.VerificationError
		switch {
		case errors.As(err, &vErr):
			notes = append(notes, fmt.Sprintf("Verification skipped: %v", err))
		case err != nil:
			return mcp.NewToolResultError(err.Error()), nil
		default:
			j := out.Judgements[m.ID]
			if !j.Accepted {
				return mcp.NewToolResultError(fmt.Sprintf(
					"Promotion refused: confidence %.2f is below the threshold %.2f", j.Confidence, t.verifier.Threshold())), nil
			}
			notes = append(notes, fmt.Sprintf("Verification confidence: %.2f", j.Confidence))
		}
	}

	if t.checker == nil {
		return mcp.NewToolResultError("Evidence checks are not available"), nil
	}
	fact, err := t.store.PromoteToFact(ctx, t.projectID, id, refs, t.checker)
	if err != nil {
		return mcp.NewToolResultError(writeErrorText(err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Memory #%d promoted to fact\n", fact.ID)
	for _, ref := range fact.Evidence {
		fmt.Fprintf(&b, "Evidence: %s\n", ref)
	}
	for _, n := range notes {
		b.WriteString(n + "\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}
