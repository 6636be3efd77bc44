package memtools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/daverage/tinymem/internal/ralph"
	"github.com/mark3labs/mcp-go/mcp"
)

// RalphTool handles the memory_ralph MCP tool.
type RalphTool struct {
	engine *ralph.Engine
}

// NewRalphTool creates a RalphTool. A nil engine reports that repair
// sessions are unavailable.
func NewRalphTool(engine *ralph.Engine) *RalphTool {
	return &RalphTool{engine: engine}
}

// Definition returns the MCP tool definition for memory_ralph.
func (t *RalphTool) Definition() mcp.Tool {
	return mcp.NewTool("memory_ralph",
		mcp.WithDescription(
			"Run a bounded repair session: run the validation command, ask the model for file patches, apply them, "+
				"and repeat until the command passes and every evidence predicate holds, or a limit is reached.",
		),
		mcp.WithString("task",
			mcp.Required(),
			mcp.Description("What the session should achieve"),
		),
		mcp.WithString("command",
			mcp.Required(),
			mcp.Description("Validation command run every iteration (e.g. 'go test ./...')"),
		),
		mcp.WithArray("evidence",
			mcp.WithStringItems(),
			mcp.Description("Predicates that must hold for success, e.g. command_exit::go vet ./..."),
		),
		mcp.WithNumber("max_iterations",
			mcp.Description("Maximum patch iterations (default: ralph.max_iterations)"),
		),
		mcp.WithObject("recall",
			mcp.Description("Memories to include in patch prompts"),
			mcp.Properties(map[string]any{
				"query_terms": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"limit":       map[string]any{"type": "number"},
			}),
		),
		mcp.WithObject("safety",
			mcp.Description("Session bounds"),
			mcp.Properties(map[string]any{
				"allow_shell":     map[string]any{"type": "boolean"},
				"forbid_paths":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"forbid_commands": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			}),
		),
		mcp.WithObject("human_gate",
			mcp.Description("When to stop and hand over to a person"),
			mcp.Properties(map[string]any{
				"on_ambiguity":     map[string]any{"type": "boolean"},
				"after_iterations": map[string]any{"type": "number"},
			}),
		),
		mcp.WithNumber("command_timeout_seconds",
			mcp.Description("Per-command timeout"),
		),
		mcp.WithNumber("session_timeout_seconds",
			mcp.Description("Wall-clock limit for the whole session"),
		),
	)
}

// Handle processes the memory_ralph tool call. The session result is
// returned as JSON whatever its status.
func (t *RalphTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if t.engine == nil {
		return mcp.NewToolResultError("Repair sessions are not available: no LLM backend is configured."), nil
	}

	var opts ralph.Options
	if err := req.BindArguments(&opts); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid arguments: %v", err)), nil
	}

	res, err := t.engine.Run(ctx, opts)
	if err != nil {
		if errors.Is(err, ralph.ErrInvalidOptions) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Repair session failed: %v", err)), nil
	}

	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}
