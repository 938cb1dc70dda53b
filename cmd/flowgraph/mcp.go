package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	flowmcp "github.com/rendis/flowgraph/pkg/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the Model Context Protocol (MCP) server over stdio",
	Long: `Starts flowgraph as an MCP server on standard input/output so agents can
edit workflows, start instances, report node status and watch instances as
tools. Logs go to stderr to keep the JSON-RPC stream clean.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := loadConfig()
		logger, _ := commandLogger(cmd, cfg)
		return runMCP(cmd.Context(), cfg, logger)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(parent context.Context, cfg Config, logger *slog.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := restoreInstances(ctx, a.store, a.projector, logger); err != nil {
		logger.Error("instance restore incomplete", slog.String("error", err.Error()))
	}

	srv := flowmcp.NewServer(flowmcp.Deps{
		Sessions:  a.sessions,
		Store:     a.store,
		Projector: a.projector,
		Binder:    a.binder,
		Exprs:     a.exprs,
		Hub:       a.hub,
		Logger:    logger.With(slog.String("component", "mcp")),
	})
	logger.Info("starting MCP server (stdio)")
	return srv.Serve(ctx)
}
