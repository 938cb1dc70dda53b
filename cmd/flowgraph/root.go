package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/flowgraph/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "flowgraph",
	Short: "Flowgraph edits workflow graphs and tracks the status of running instances",
	Long: `Flowgraph keeps workflow graphs (start, action, condition, loop, subprocess
and end nodes) valid while they are edited, and projects node status events
from an orchestrator onto the graph of each running instance.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error (overrides settings)")
}

// commandLogger builds the process logger from cfg, honoring --log-level.
// The returned LevelVar lets the caller change the level later.
func commandLogger(cmd *cobra.Command, cfg Config) (*slog.Logger, *slog.LevelVar) {
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	level := new(slog.LevelVar)
	level.Set(logging.ParseLevel(cfg.LogLevel))
	return logging.New(os.Stderr, level, cfg.LogFormat), level
}
