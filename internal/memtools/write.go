package memtools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/daverage/tinymem/internal/evidence"
	"github.com/daverage/tinymem/internal/memory"
	"github.com/mark3labs/mcp-go/mcp"
)

// Indexer stores the embedding of a new record. *recall.Engine satisfies it.
type Indexer interface {
	Index(ctx context.Context, projectID string, m *memory.Memory) error
}

// WriteTool handles the memory_write MCP tool.
type WriteTool struct {
	store     *memory.Store
	checker   memory.EvidenceChecker
	indexer   Indexer
	projectID string
	log       *zap.Logger
}

// NewWriteTool creates a WriteTool. checker and indexer may be nil: without
// a checker facts are always refused, without an indexer nothing is embedded.
func NewWriteTool(store *memory.Store, checker memory.EvidenceChecker, indexer Indexer, projectID string, log *zap.Logger) *WriteTool {
	if log == nil {
		log = zap.NewNop()
	}
	return &WriteTool{store: store, checker: checker, indexer: indexer, projectID: projectID, log: log}
}

// Definition returns the MCP tool definition for memory_write.
func (t *WriteTool) Definition() mcp.Tool {
	return mcp.NewTool("memory_write",
		mcp.WithDescription(
			"Store a memory for the current project. Use it for decisions, constraints, plans, claims and observations "+
				"worth keeping across sessions. Facts need evidence predicates and are only stored when every predicate holds.",
		),
		mcp.WithString("type",
			mcp.Required(),
			mcp.Description("One of: "+memory.TypeNames(memory.AllTypes())),
		),
		mcp.WithString("summary",
			mcp.Required(),
			mcp.Description("Short, searchable summary"),
		),
		mcp.WithString("detail",
			mcp.Description("Longer detail text"),
		),
		mcp.WithString("source",
			mcp.Description("Where this came from (file, URL, tool)"),
		),
		mcp.WithArray("evidence",
			mcp.WithStringItems(),
			mcp.Description("Evidence predicates for type=fact, e.g. file_exists::go.mod, command_exit::go test ./..., grep_hit::TODO::main.go"),
		),
	)
}

// Handle processes the memory_write tool call.
func (t *WriteTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p := memory.WriteParams{
		Type:    memory.Type(strings.ToLower(strings.TrimSpace(req.GetString("type", "")))),
		Summary: req.GetString("summary", ""),
		Detail:  req.GetString("detail", ""),
		Source:  req.GetString("source", ""),
	}

	var (
		m   *memory.Memory
		err error
	)
	if p.Type == memory.Fact {
		m, err = t.writeFact(ctx, p, stringsArg(req, "evidence"))
	} else {
		m, err = t.store.Write(t.projectID, p)
	}
	if err != nil {
		return mcp.NewToolResultError(writeErrorText(err)), nil
	}

	if t.indexer != nil {
		if err := t.indexer.Index(ctx, t.projectID, m); err != nil {
			t.log.Warn("embedding failed, memory stored without vector",
				zap.Int64("id", m.ID), zap.Error(err))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Memory created successfully (ID: %d, type: %s, truth state: %s)\n", m.ID, m.Type, m.TruthState)
	fmt.Fprintf(&b, "Summary: %s\n", m.Summary)
	for _, ref := range m.Evidence {
		fmt.Fprintf(&b, "Evidence: %s\n", ref)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (t *WriteTool) writeFact(ctx context.Context, p memory.WriteParams, preds []string) (*memory.Memory, error) {
	if len(preds) == 0 || t.checker == nil {
		return nil, memory.ErrDirectFactCreation
	}
	refs, err := evidence.ParseRefs(preds)
	if err != nil {
		return nil, err
	}
	return t.store.CreateFactWithEvidence(ctx, t.projectID, p, refs, t.checker)
}

// writeErrorText turns store errors into messages for the caller.
func writeErrorText(err error) string {
	var evErr *memory.EvidenceError
	switch {
	case errors.As(err, &evErr):
		var b strings.Builder
		b.WriteString(err.Error())
		for _, r := range evErr.Report.Results {
			if !r.Satisfied {
				fmt.Fprintf(&b, "\n- %s", r.Ref)
				switch {
				case r.Error != "":
					fmt.Fprintf(&b, ": %s", r.Error)
				case r.Detail != "":
					fmt.Fprintf(&b, ": %s", r.Detail)
				}
			}
		}
		return b.String()
	case errors.Is(err, memory.ErrDirectFactCreation):
		return "Facts cannot be created directly: supply evidence predicates, or write a claim and promote it with memory_promote."
	default:
		return err.Error()
	}
}
