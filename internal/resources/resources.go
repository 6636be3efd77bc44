// Package resources implements MCP resource handlers for the memory store.
//
// Resources provide read-only data that the host can consume for context.
// They use URI-based addressing (tinymem://...) following MCP conventions.
package resources

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/daverage/tinymem/internal/memory"
	"github.com/mark3labs/mcp-go/mcp"
)

// Resource URIs.
const (
	StatsURI  = "tinymem://memory/stats"
	RecentURI = "tinymem://memory/recent"
)

// Handler manages memory resource endpoints for one project.
type Handler struct {
	store     *memory.Store
	projectID string
}

// NewHandler creates a resource Handler with its dependencies.
func NewHandler(store *memory.Store, projectID string) *Handler {
	return &Handler{store: store, projectID: projectID}
}

// statsDoc is the JSON body of the stats resource.
type statsDoc struct {
	ProjectID string            `json:"project_id"`
	Memories  *memory.Stats     `json:"memories"`
	CoVe      *memory.CoVeStats `json:"cove"`
	Health    memory.Health     `json:"health"`
}

// StatsResource returns the MCP resource definition for project statistics.
func (h *Handler) StatsResource() mcp.Resource {
	return mcp.NewResource(
		StatsURI,
		"tinyMem Statistics",
		mcp.WithResourceDescription("Memory counts per type, verification counters and store health for the current project"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleStats returns the project statistics as JSON.
func (h *Handler) HandleStats(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	stats, err := h.store.Stats(h.projectID)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}
	cove, err := h.store.CoVeStats(h.projectID)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}
	return jsonResource(req.Params.URI, statsDoc{
		ProjectID: h.projectID,
		Memories:  stats,
		CoVe:      cove,
		Health:    h.store.HealthCheck(),
	})
}

// RecentResource returns the MCP resource definition for recent memories.
func (h *Handler) RecentResource() mcp.Resource {
	return mcp.NewResource(
		RecentURI,
		"tinyMem Recent Memories",
		mcp.WithResourceDescription("The most recent memories of the current project"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleRecent returns the most recent memories as JSON.
func (h *Handler) HandleRecent(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	mems, err := h.store.Recent(h.projectID, 0)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}
	if mems == nil {
		mems = []memory.Memory{}
	}
	return jsonResource(req.Params.URI, mems)
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling resource: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// errorResource returns a resource with an error message.
func errorResource(uri, message string) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     fmt.Sprintf("Error: %s", message),
		},
	}
}
