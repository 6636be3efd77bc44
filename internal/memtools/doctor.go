package memtools

import (
	"context"

	"github.com/daverage/tinymem/internal/doctor"
	"github.com/mark3labs/mcp-go/mcp"
)

// DoctorTool handles the memory_doctor MCP tool.
type DoctorTool struct {
	doctor *doctor.Doctor
}

// NewDoctorTool creates a DoctorTool.
func NewDoctorTool(d *doctor.Doctor) *DoctorTool {
	return &DoctorTool{doctor: d}
}

// Definition returns the MCP tool definition for memory_doctor.
func (t *DoctorTool) Definition() mcp.Tool {
	return mcp.NewTool("memory_doctor",
		mcp.WithDescription(
			"Run diagnostics: database, data directory, configuration, fact integrity, verification, LLM backend and release version.",
		),
	)
}

// Handle processes the memory_doctor tool call.
func (t *DoctorTool) Handle(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report := t.doctor.Run(ctx)
	return mcp.NewToolResultText(report.Render("tinyMem Diagnostics Report")), nil
}
