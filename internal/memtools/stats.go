package memtools

import (
	"context"
	"fmt"
	"strings"

	"github.com/daverage/tinymem/internal/memory"
	"github.com/mark3labs/mcp-go/mcp"
)

// StatsTool handles the memory_stats MCP tool.
type StatsTool struct {
	store     *memory.Store
	projectID string
}

// NewStatsTool creates a StatsTool with the given memory store.
func NewStatsTool(store *memory.Store, projectID string) *StatsTool {
	return &StatsTool{store: store, projectID: projectID}
}

// Definition returns the MCP tool definition for memory_stats.
func (t *StatsTool) Definition() mcp.Tool {
	return mcp.NewTool("memory_stats",
		mcp.WithDescription(
			"Show memory statistics for the current project: totals per type, facts, and verification counters.",
		),
	)
}

// Handle processes the memory_stats tool call.
func (t *StatsTool) Handle(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := t.store.Stats(t.projectID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get stats: %v", err)), nil
	}
	cove, err := t.store.CoVeStats(t.projectID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get verification stats: %v", err)), nil
	}
	return mcp.NewToolResultText(RenderStats(stats, cove)), nil
}

// RenderStats formats project statistics. cove may be nil.
func RenderStats(stats *memory.Stats, cove *memory.CoVeStats) string {
	var sb strings.Builder
	sb.WriteString("Memory Statistics\n\n")
	sb.WriteString(fmt.Sprintf("Total memories: %d\n", stats.Total))
	for _, typ := range memory.AllTypes() {
		if n := stats.ByType[typ]; n > 0 {
			sb.WriteString(fmt.Sprintf("  %s: %d\n", typ, n))
		}
	}
	if stats.Last != "" {
		sb.WriteString(fmt.Sprintf("Last write: %s\n", stats.Last))
	}

	if cove != nil && (cove.Evaluated > 0 || cove.Errors > 0) {
		sb.WriteString("\nVerification\n")
		sb.WriteString(fmt.Sprintf("  Candidates evaluated: %d\n", cove.Evaluated))
		sb.WriteString(fmt.Sprintf("  Candidates discarded: %d\n", cove.Discarded))
		sb.WriteString(fmt.Sprintf("  Average confidence: %.2f\n", cove.AvgConfidence))
		sb.WriteString(fmt.Sprintf("  Errors: %d\n", cove.Errors))
	}
	return sb.String()
}
