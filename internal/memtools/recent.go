package memtools

import (
	"context"
	"fmt"
	"strings"

	"github.com/daverage/tinymem/internal/memory"
	"github.com/mark3labs/mcp-go/mcp"
)

// RecentTool handles the memory_recent MCP tool.
type RecentTool struct {
	store     *memory.Store
	projectID string
	defLimit  int
}

// NewRecentTool creates a RecentTool. defLimit applies when the caller
// passes no limit.
func NewRecentTool(store *memory.Store, projectID string, defLimit int) *RecentTool {
	if defLimit <= 0 {
		defLimit = 10
	}
	return &RecentTool{store: store, projectID: projectID, defLimit: defLimit}
}

// Definition returns the MCP tool definition for memory_recent.
func (t *RecentTool) Definition() mcp.Tool {
	return mcp.NewTool("memory_recent",
		mcp.WithDescription("List the most recently created memories of the current project, newest first."),
		mcp.WithNumber("limit",
			mcp.Description(fmt.Sprintf("Maximum number of memories (default: %d)", t.defLimit)),
		),
	)
}

// Handle processes the memory_recent tool call.
func (t *RecentTool) Handle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := intArg(req, "limit", t.defLimit)
	mems, err := t.store.Recent(t.projectID, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list memories: %v", err)), nil
	}
	total, err := t.store.Count(t.projectID)
	if err != nil {
		total = len(mems)
	}
	return mcp.NewToolResultText(RenderRecent(mems, total, "Pass a larger limit for more.")), nil
}

// RenderRecent formats a recent-memories listing. total is the project's
// record count; when it exceeds len(mems) a navigation hint is appended.
func RenderRecent(mems []memory.Memory, total int, hint string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Recent memories (%d)\n", len(mems))
	if len(mems) == 0 {
		b.WriteString("No memories stored yet.\n")
		return b.String()
	}
	b.WriteString("\n")
	for i := range mems {
		writeMemoryLine(&b, &mems[i])
	}
	if nav := memory.NavigationHint(len(mems), total, hint); nav != "" {
		b.WriteString(nav + "\n")
	}
	return b.String()
}
