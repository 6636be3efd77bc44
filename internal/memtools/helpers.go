// Package memtools provides MCP tool handlers for the project memory store.
//
// Each tool handler follows the same pattern:
// - A struct with its dependencies and the project ID injected via constructor
// - Definition() returns the mcp.Tool schema
// - Handle() processes the request and returns a result
//
// Handlers report bad input and store failures as error results, never as
// Go errors, so a failing tool call stays a well-formed response.
package memtools

import (
	"fmt"
	"strings"

	"github.com/daverage/tinymem/internal/memory"
	"github.com/mark3labs/mcp-go/mcp"
)

// intArg extracts an integer argument from a tool request, returning
// defaultVal if the key is missing or not a number (JSON numbers are float64).
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

// floatPtrArg returns nil when the key is missing so callers can fall back
// to configured defaults.
func floatPtrArg(req mcp.CallToolRequest, key string) *float64 {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return nil
	}
	return &v
}

// stringsArg accepts either a JSON array of strings or a single string.
func stringsArg(req mcp.CallToolRequest, key string) []string {
	if s, ok := req.GetArguments()[key].(string); ok {
		if strings.TrimSpace(s) == "" {
			return nil
		}
		return []string{s}
	}
	return req.GetStringSlice(key, nil)
}

// writeMemoryLine renders one record as a list entry.
func writeMemoryLine(b *strings.Builder, m *memory.Memory) {
	fmt.Fprintf(b, "- #%d [%s] %s", m.ID, m.Type, m.Summary)
	if m.TruthState != "" {
		fmt.Fprintf(b, " (%s)", m.TruthState)
	}
	b.WriteString("\n")
	if m.Detail != "" {
		fmt.Fprintf(b, "  %s\n", memory.Truncate(strings.ReplaceAll(m.Detail, "\n", " "), 300))
	}
	for _, ref := range m.Evidence {
		fmt.Fprintf(b, "  evidence: %s\n", ref)
	}
}
