package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/daverage/tinymem/internal/metrics"
	"github.com/daverage/tinymem/internal/server"
)

func newMCPCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve MCP over stdio (one JSON-RPC message per line)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, closeApp, err := openApp(opts)
			if err != nil {
				return err
			}
			defer closeApp()

			ctx := cmd.Context()
			if app.Config.Metrics.Enabled {
				if err := metrics.Serve(ctx, app.Config.Metrics.Address, app.Log); err != nil {
					app.Log.Warn("metrics disabled", zap.String("addr", app.Config.Metrics.Address), zap.Error(err))
				}
			}

			app.Log.Info("mcp server started",
				zap.String("project", app.Config.ProjectID),
				zap.String("version", server.Version))
			h := server.NewHandler(app.MCP, app.Log)
			return server.ServeLines(ctx, h, cmd.InOrStdin(), cmd.OutOrStdout(), app.Log)
		},
	}
}
