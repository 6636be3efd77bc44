package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// RepairPrompt handles the tinymem-repair MCP prompt.
// It instructs the AI to drive a bounded repair session with memory_ralph.
type RepairPrompt struct{}

// NewRepairPrompt creates a RepairPrompt.
func NewRepairPrompt() *RepairPrompt {
	return &RepairPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *RepairPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("tinymem-repair",
		mcp.WithPromptDescription(
			"Fix a failing command with a bounded repair session. "+
				"Patches are applied until the command passes or a limit is hit.",
		),
		mcp.WithArgument("task",
			mcp.ArgumentDescription("What should be fixed"),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("command",
			mcp.ArgumentDescription("Validation command. Default: go test ./..."),
		),
	)
}

// Handle processes the tinymem-repair prompt request.
func (p *RepairPrompt) Handle(_ context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	task := req.Params.Arguments["task"]
	if task == "" {
		return nil, fmt.Errorf("task is required")
	}
	command := "go test ./..."
	if c := req.Params.Arguments["command"]; c != "" {
		command = c
	}

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Repair: %s", task),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(fmt.Sprintf(
					"Please fix this: %s\n\n"+
						"1. Run `memory_query` for the task to find related decisions and constraints\n"+
						"2. Run `memory_ralph` with task=%q and command=%q, adding evidence predicates that prove the fix\n"+
						"3. If the session ends in human_gate_required, show me the log and the final diff\n"+
						"4. On success, summarise what changed",
					task, task, command,
				)),
			},
		},
	}, nil
}
