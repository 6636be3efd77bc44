package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/daverage/tinymem/internal/memory"
	"github.com/daverage/tinymem/internal/memtools"
	"github.com/daverage/tinymem/internal/recall"
)

func newWriteCmd(opts *options) *cobra.Command {
	var p memory.WriteParams
	var typ string
	c := &cobra.Command{
		Use:   "write",
		Short: "Write a new memory",
		Long: `Write a new memory for the current project.

Memory types: fact, claim, plan, decision, constraint, observation, note
Facts require evidence and cannot be created directly via CLI.

Examples:
  tinymem write --type claim --summary "API uses REST" --detail "Based on endpoint patterns"
  tinymem write --type decision --summary "Use SQLite for storage" --source "architecture review"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			p.Type = memory.Type(strings.ToLower(strings.TrimSpace(typ)))
			if !p.Type.IsValid() {
				fmt.Fprintf(out, "Invalid memory type: %s\n", typ)
				fmt.Fprintf(out, "Valid types: %s\n", memory.TypeNames(memory.AllTypes()))
				return failed
			}
			if p.Type == memory.Fact {
				fmt.Fprintln(out, "Facts cannot be created directly via CLI - they require verified evidence.")
				fmt.Fprintln(out, "Write a claim instead and promote it with evidence through the MCP interface.")
				return failed
			}

			app, closeApp, err := openApp(opts)
			if err != nil {
				return err
			}
			defer closeApp()

			m, err := app.Store.Write(app.Config.ProjectID, p)
			if err != nil {
				fmt.Fprintf(out, "Failed to create memory: %v\n", err)
				return failed
			}
			if err := app.Recall.Index(cmd.Context(), app.Config.ProjectID, m); err != nil {
				app.Log.Warn("embedding failed, memory stored without vector", zap.Int64("id", m.ID), zap.Error(err))
			}

			fmt.Fprintln(out, "Memory created successfully!")
			fmt.Fprintf(out, "   ID: %d\n", m.ID)
			fmt.Fprintf(out, "   Type: %s\n", m.Type)
			fmt.Fprintf(out, "   Summary: %s\n", m.Summary)
			if m.Detail != "" {
				fmt.Fprintf(out, "   Detail: %s\n", m.Detail)
			}
			if m.Source != "" {
				fmt.Fprintf(out, "   Source: %s\n", m.Source)
			}
			return nil
		},
	}
	c.Flags().StringVarP(&typ, "type", "t", string(memory.Note), "memory type: "+memory.TypeNames(memory.WritableTypes()))
	c.Flags().StringVarP(&p.Summary, "summary", "s", "", "brief summary of the memory (required)")
	c.Flags().StringVarP(&p.Detail, "detail", "d", "", "detailed description")
	c.Flags().StringVar(&p.Source, "source", "", "where this came from")
	_ = c.MarkFlagRequired("summary")
	return c
}

func newQueryCmd(opts *options) *cobra.Command {
	var q recall.Query
	c := &cobra.Command{
		Use:   "query [search terms]",
		Short: "Search memories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, closeApp, err := openApp(opts)
			if err != nil {
				return err
			}
			defer closeApp()

			q.Text = strings.Join(args, " ")
			res, err := app.Recall.Recall(cmd.Context(), app.Config.ProjectID, q)
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), memtools.RenderRecall(q.Text, res))
			return nil
		},
	}
	c.Flags().IntVarP(&q.Limit, "limit", "n", 0, "maximum number of results (default: recall.max_items)")
	c.Flags().IntVar(&q.MaxTokens, "max-tokens", 0, "token budget (default: recall.max_tokens)")
	return c
}

func newRecentCmd(opts *options) *cobra.Command {
	var limit int
	c := &cobra.Command{
		Use:   "recent",
		Short: "Show recent memories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, closeApp, err := openApp(opts)
			if err != nil {
				return err
			}
			defer closeApp()

			mems, err := app.Store.Recent(app.Config.ProjectID, limit)
			if err != nil {
				return fmt.Errorf("listing memories: %w", err)
			}
			total, err := app.Store.Count(app.Config.ProjectID)
			if err != nil {
				total = len(mems)
			}
			fmt.Fprint(cmd.OutOrStdout(), memtools.RenderRecent(mems, total, "Use --limit for more."))
			return nil
		},
	}
	c.Flags().IntVarP(&limit, "limit", "n", 10, "number of memories to show")
	return c
}

func newStatsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show memory statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, closeApp, err := openApp(opts)
			if err != nil {
				return err
			}
			defer closeApp()

			stats, err := app.Store.Stats(app.Config.ProjectID)
			if err != nil {
				return fmt.Errorf("reading stats: %w", err)
			}
			cove, err := app.Store.CoVeStats(app.Config.ProjectID)
			if err != nil {
				return fmt.Errorf("reading verification stats: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprint(out, memtools.RenderStats(stats, cove))
			fmt.Fprintf(out, "\nProject: %s\n", app.Config.ProjectRoot)
			return nil
		},
	}
}

func newHealthCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the memory database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, closeApp, err := openApp(opts)
			if err != nil {
				return err
			}
			defer closeApp()

			h := app.Store.HealthCheck()
			fmt.Fprint(cmd.OutOrStdout(), memtools.RenderHealth(h, app.Store.Path()))
			if !h.Healthy() {
				return failed
			}
			return nil
		},
	}
}
