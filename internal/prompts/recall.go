// Package prompts implements MCP prompt handlers for tinyMem.
//
// MCP prompts are user-triggered workflows (like slash commands) that
// instruct the AI to execute a specific sequence. Unlike tools (which
// the AI calls), prompts are initiated by the user.
package prompts

import (
	"context"
	"fmt"
	"strings"

	"github.com/daverage/tinymem/internal/memtools"
	"github.com/daverage/tinymem/internal/recall"
	"github.com/mark3labs/mcp-go/mcp"
)

// RecallPrompt handles the tinymem-recall MCP prompt.
// It recalls memories for a topic up front and asks the AI to work from them.
type RecallPrompt struct {
	engine    *recall.Engine
	projectID string
}

// NewRecallPrompt creates a RecallPrompt.
func NewRecallPrompt(engine *recall.Engine, projectID string) *RecallPrompt {
	return &RecallPrompt{engine: engine, projectID: projectID}
}

// Definition returns the MCP prompt definition for registration.
func (p *RecallPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("tinymem-recall",
		mcp.WithPromptDescription(
			"Load what tinyMem remembers about a topic before starting work, "+
				"so earlier decisions and constraints are respected.",
		),
		mcp.WithArgument("topic",
			mcp.ArgumentDescription("What you are about to work on"),
			mcp.RequiredArgument(),
		),
	)
}

// Handle processes the tinymem-recall prompt request.
func (p *RecallPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	topic := strings.TrimSpace(req.Params.Arguments["topic"])
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}

	res, err := p.engine.Recall(ctx, p.projectID, recall.Query{Text: topic})
	if err != nil {
		return nil, fmt.Errorf("recalling memories: %w", err)
	}

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Project memory for: %s", topic),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(fmt.Sprintf(
					"I am about to work on: %s\n\n"+
						"This is what tinyMem remembers about it:\n\n%s\n\n"+
						"Please:\n"+
						"1. Treat facts and constraints above as binding\n"+
						"2. Point out anything in my request that conflicts with a recorded decision\n"+
						"3. Call `memory_query` if you need more context\n"+
						"4. Record new decisions with `memory_write` as we go",
					topic, memtools.RenderRecall(topic, res),
				)),
			},
		},
	}, nil
}
