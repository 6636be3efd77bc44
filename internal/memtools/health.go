package memtools

import (
	"context"
	"fmt"
	"strings"

	"github.com/daverage/tinymem/internal/memory"
	"github.com/mark3labs/mcp-go/mcp"
)

// HealthTool handles the memory_health MCP tool.
type HealthTool struct {
	store *memory.Store
}

// NewHealthTool creates a HealthTool with the given memory store.
func NewHealthTool(store *memory.Store) *HealthTool {
	return &HealthTool{store: store}
}

// Definition returns the MCP tool definition for memory_health.
func (t *HealthTool) Definition() mcp.Tool {
	return mcp.NewTool("memory_health",
		mcp.WithDescription("Check that the memory database is reachable and answers queries."),
	)
}

// Handle processes the memory_health tool call. An unhealthy store is
// reported in the text, not as a tool error.
func (t *HealthTool) Handle(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(RenderHealth(t.store.HealthCheck(), t.store.Path())), nil
}

// RenderHealth formats a health check.
func RenderHealth(h memory.Health, dbPath string) string {
	var sb strings.Builder
	if h.Healthy() {
		sb.WriteString("Status: HEALTHY\n")
	} else {
		sb.WriteString("Status: UNHEALTHY\n")
	}
	sb.WriteString(fmt.Sprintf("Database connectivity: %s\n", okFail(h.Connectivity)))
	sb.WriteString(fmt.Sprintf("Database query: %s\n", okFail(h.QueryOK)))
	if dbPath != "" {
		sb.WriteString(fmt.Sprintf("Database path: %s\n", dbPath))
	}
	if h.Error != "" {
		sb.WriteString(fmt.Sprintf("Error: %s\n", h.Error))
	}
	return sb.String()
}

func okFail(ok bool) string {
	if ok {
		return "OK"
	}
	return "FAIL"
}
