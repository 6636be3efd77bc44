// Package server wires all tinyMem components and creates the MCP server.
//
// This is the composition root: it creates concrete implementations for
// one project and injects them into the tools, prompts and resources that
// depend on them. No business logic lives here, only wiring.
package server

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/daverage/tinymem/internal/config"
	"github.com/daverage/tinymem/internal/cove"
	"github.com/daverage/tinymem/internal/doctor"
	"github.com/daverage/tinymem/internal/evidence"
	"github.com/daverage/tinymem/internal/llm"
	"github.com/daverage/tinymem/internal/memory"
	"github.com/daverage/tinymem/internal/memtools"
	"github.com/daverage/tinymem/internal/metrics"
	"github.com/daverage/tinymem/internal/prompts"
	"github.com/daverage/tinymem/internal/ralph"
	"github.com/daverage/tinymem/internal/recall"
	"github.com/daverage/tinymem/internal/resources"
	"github.com/daverage/tinymem/internal/updater"
)

// Name is the server name reported during initialize.
const Name = "tinyMem"

// Version is set at build time via ldflags.
var Version = "dev"

// App holds every component wired for one project. The CLI uses the
// components directly; the mcp command serves MCP.
type App struct {
	Config   *config.Config
	Log      *zap.Logger
	Store    *memory.Store
	Evidence *evidence.Engine
	LLM      *llm.Client
	Verifier *cove.Verifier
	Recall   *recall.Engine
	Ralph    *ralph.Engine
	Doctor   *doctor.Doctor
	MCP      *server.MCPServer
}

// New resolves all dependencies for the project described by cfg.
//
// The returned cleanup function closes the memory store and must be
// called on shutdown (typically via defer). It is always non-nil.
func New(cfg *config.Config, log *zap.Logger) (*App, func(), error) {
	if log == nil {
		log = zap.NewNop()
	}

	store, err := memory.New(memory.DefaultConfig(cfg.DataDir))
	if err != nil {
		return nil, noop, fmt.Errorf("opening memory store: %w", err)
	}
	cleanup := func() {
		if err := store.Close(); err != nil {
			log.Warn("memory store close", zap.Error(err))
		}
	}

	app := &App{Config: cfg, Log: log, Store: store}

	app.Evidence = evidence.New(evidence.Options{
		Root:           cfg.ProjectRoot,
		CommandTimeout: cfg.EvidenceTimeout(),
		AllowShell:     cfg.Evidence.AllowCommand,
		Gate:           evidence.AllowlistGate(cfg.Evidence.AllowCommand, cfg.Evidence.AllowedCommands),
	})

	app.LLM = llm.New(llm.Options{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLMTimeout(),
	})
	verifierChat := llm.New(llm.Options{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.CoVeModel(),
		Timeout: cfg.CoVeTimeout(),
	})
	var embedder llm.Embedder
	if cfg.Recall.SemanticEnabled {
		embedder = llm.New(llm.Options{
			BaseURL:        cfg.EmbeddingBaseURL(),
			APIKey:         cfg.LLM.APIKey,
			EmbeddingModel: cfg.Embedding.Model,
			Timeout:        cfg.LLMTimeout(),
		})
	}

	app.Verifier = cove.New(verifierChat, store, cove.Options{
		Enabled:             cfg.CoVe.Enabled,
		RecallFilterEnabled: cfg.CoVe.RecallFilterEnabled,
		ConfidenceThreshold: cfg.CoVe.ConfidenceThreshold,
		MaxCandidates:       cfg.CoVe.MaxCandidates,
		Timeout:             cfg.CoVeTimeout(),
	}, log.Named("cove"))

	app.Recall = recall.New(store, embedder, app.Verifier, recall.Options{
		SemanticEnabled: cfg.Recall.SemanticEnabled,
		HybridWeight:    cfg.Recall.HybridWeight,
		MaxItems:        cfg.Recall.MaxItems,
		MaxTokens:       cfg.Recall.MaxTokens,
	}, log.Named("recall"))

	app.Ralph = ralph.New(app.LLM, app.Recall, store, ralph.Config{
		Root:            cfg.ProjectRoot,
		ProjectID:       cfg.ProjectID,
		MaxIterations:   cfg.Ralph.MaxIterations,
		CommandTimeout:  cfg.RalphCommandTimeout(),
		SessionTimeout:  cfg.RalphSessionTimeout(),
		EvidenceTimeout: cfg.EvidenceTimeout(),
	}, log.Named("ralph"))

	// Development builds have no release to compare against.
	var versions doctor.VersionChecker
	if Version != "dev" {
		versions = updater.New()
	}
	app.Doctor = doctor.New(cfg, store, app.LLM, versions, Version)

	app.MCP = app.newMCPServer()
	return app, cleanup, nil
}

func noop() {}

// newMCPServer registers every tool, prompt and resource.
func (a *App) newMCPServer() *server.MCPServer {
	s := server.NewMCPServer(
		Name,
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithToolHandlerMiddleware(countToolCalls),
		server.WithInstructions(serverInstructions()),
	)

	pid := a.Config.ProjectID

	// --- Register memory tools ---

	queryTool := memtools.NewQueryTool(a.Recall, pid)
	s.AddTool(queryTool.Definition(), queryTool.Handle)

	recentTool := memtools.NewRecentTool(a.Store, pid, a.Config.Recall.MaxItems)
	s.AddTool(recentTool.Definition(), recentTool.Handle)

	writeTool := memtools.NewWriteTool(a.Store, a.Evidence, a.Recall, pid, a.Log.Named("write"))
	s.AddTool(writeTool.Definition(), writeTool.Handle)

	statsTool := memtools.NewStatsTool(a.Store, pid)
	s.AddTool(statsTool.Definition(), statsTool.Handle)

	healthTool := memtools.NewHealthTool(a.Store)
	s.AddTool(healthTool.Definition(), healthTool.Handle)

	doctorTool := memtools.NewDoctorTool(a.Doctor)
	s.AddTool(doctorTool.Definition(), doctorTool.Handle)

	promoteTool := memtools.NewPromoteTool(a.Store, a.Evidence, a.Verifier, pid)
	s.AddTool(promoteTool.Definition(), promoteTool.Handle)

	// --- Register repair tool ---

	ralphTool := memtools.NewRalphTool(a.Ralph)
	s.AddTool(ralphTool.Definition(), ralphTool.Handle)

	// --- Register prompts ---

	recallPrompt := prompts.NewRecallPrompt(a.Recall, pid)
	s.AddPrompt(recallPrompt.Definition(), recallPrompt.Handle)

	repairPrompt := prompts.NewRepairPrompt()
	s.AddPrompt(repairPrompt.Definition(), repairPrompt.Handle)

	// --- Register resources ---

	resourceHandler := resources.NewHandler(a.Store, pid)
	s.AddResource(resourceHandler.StatsResource(), resourceHandler.HandleStats)
	s.AddResource(resourceHandler.RecentResource(), resourceHandler.HandleRecent)

	return s
}

// countToolCalls records every tool call by name and outcome.
func countToolCalls(next server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res, err := next(ctx, req)
		outcome := "ok"
		if err != nil || (res != nil && res.IsError) {
			outcome = "error"
		}
		metrics.ToolCalls.WithLabelValues(req.Params.Name, outcome).Inc()
		return res, err
	}
}

// serverInstructions returns the system instructions that tell the AI
// how to use tinyMem effectively.
func serverInstructions() string {
	return `You have access to tinyMem, a persistent memory for this project.

## RECALL BEFORE YOU ACT

Call memory_query with the topic of the task before changing code.
Decisions and constraints recorded earlier are binding unless the user
says otherwise. Facts have passed evidence checks; claims have not.

## RECORD AS YOU GO

Call memory_write when you:
- make or learn of a decision (type=decision)
- hit a constraint the code must respect (type=constraint)
- lay out a plan (type=plan)
- believe something is true but have not proven it (type=claim)
- notice something worth keeping (type=observation or note)

Facts cannot be written directly. Write a claim, then call memory_promote
with evidence predicates once the claim can be checked:
- file_exists::path
- command_exit::command
- grep_hit::pattern::path

## REPAIR

memory_ralph runs a bounded fix loop: validate, patch, re-check. It stops
on success, at the iteration or time limit, or when a person must decide.
Never point it at .git, .tinyMem or ignored files; it refuses.

## HOUSEKEEPING

memory_stats, memory_health and memory_doctor report on the store and
the configuration. Run memory_doctor when something looks wrong.`
}
