package memtools

import (
	"context"
	"fmt"
	"strings"

	"github.com/daverage/tinymem/internal/memory"
	"github.com/daverage/tinymem/internal/recall"
	"github.com/mark3labs/mcp-go/mcp"
)

// QueryTool handles the memory_query MCP tool.
type QueryTool struct {
	engine    *recall.Engine
	projectID string
}

// NewQueryTool creates a QueryTool backed by the recall engine.
func NewQueryTool(engine *recall.Engine, projectID string) *QueryTool {
	return &QueryTool{engine: engine, projectID: projectID}
}

// Definition returns the MCP tool definition for memory_query.
func (t *QueryTool) Definition() mcp.Tool {
	return mcp.NewTool("memory_query",
		mcp.WithDescription(
			"Recall project memories relevant to a query. Results are ranked by keyword overlap, blended with "+
				"embedding similarity when semantic recall is enabled, and cut to the item and token budgets.",
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("What to look for (empty returns the most recent memories)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of memories (default: recall.max_items)"),
		),
		mcp.WithNumber("max_tokens",
			mcp.Description("Token budget for the returned memories (default: recall.max_tokens)"),
		),
		mcp.WithNumber("hybrid_weight",
			mcp.Description("Semantic weight in [0,1]; 0 is keyword-only (default: recall.hybrid_weight)"),
		),
	)
}

// Handle processes the memory_query tool call.
func (t *QueryTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q := recall.Query{
		Text:         req.GetString("query", ""),
		Limit:        intArg(req, "limit", 0),
		MaxTokens:    intArg(req, "max_tokens", 0),
		HybridWeight: floatPtrArg(req, "hybrid_weight"),
	}

	res, err := t.engine.Recall(ctx, t.projectID, q)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Query failed: %v", err)), nil
	}
	return mcp.NewToolResultText(RenderRecall(q.Text, res)), nil
}

// RenderRecall formats a recall result for display.
func RenderRecall(query string, res *recall.Result) string {
	if len(res.Candidates) == 0 {
		if query == "" {
			return "No memories stored yet."
		}
		return fmt.Sprintf("No memories found for %q.", query)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d memories for %q (%s recall)\n\n", len(res.Candidates), query, res.Mode)
	for i := range res.Candidates {
		c := &res.Candidates[i]
		writeMemoryLine(&b, &c.Memory)
		fmt.Fprintf(&b, "  score: %.2f (lexical %.2f, semantic %.2f)", c.Hybrid, c.Lexical, c.Semantic)
		if c.Verified {
			b.WriteString(", verified")
		}
		b.WriteString("\n")
	}
	if res.VerifyError != "" {
		fmt.Fprintf(&b, "\nVerification skipped: %s\n", res.VerifyError)
	}
	if res.Truncated {
		b.WriteString(memory.BudgetFooter(res.TokensUsed, res.TokenBudget, len(res.Candidates), res.Considered))
	} else {
		b.WriteString(memory.TokenFooter(res.TokensUsed))
	}
	return b.String()
}
