// Package main implements ragctl, a command line companion to the API for
// offline relevance checks and collection maintenance.
package main

import (
	"context"
	"os"
	"os/signal"

	"chroma-rag/config"
	"chroma-rag/pkg/logger"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "ragctl",
		Short: "Retrieval and relevance tooling for the chroma-rag service",
		Long: `ragctl evaluates relevance thresholds over saved retrieval results and
talks to the configured vector store to list collections, ingest sources
and run retrievals without going through the HTTP API.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the YAML config file")

	loadConfig := func() (config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return cfg, err
		}
		// keep stdout clean for JSON output
		logger.SetOutput(os.Stderr)
		if err := logger.SetLevel(string(cfg.LogLevel)); err != nil {
			return cfg, err
		}
		return cfg, nil
	}

	root.AddCommand(newEvaluateCmd())
	root.AddCommand(newCollectionsCmd(loadConfig))
	root.AddCommand(newIngestCmd(loadConfig))
	root.AddCommand(newRetrieveCmd(loadConfig))
	return root
}
