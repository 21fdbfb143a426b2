package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"chroma-rag/config"
	"chroma-rag/internal/core/relevance"
	"chroma-rag/internal/core/retriever"
	"chroma-rag/internal/server"
	ingestsvc "chroma-rag/internal/services/ingest"
	"chroma-rag/internal/vectorstore"

	"github.com/spf13/cobra"
)

type configLoader func() (config.Config, error)

func newCollectionsCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "collections",
		Short: "List collections and their record counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			store, err := vectorstore.Connect(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			return printCollections(cmd.Context(), cmd.OutOrStdout(), store)
		},
	}
}

func printCollections(ctx context.Context, out io.Writer, store vectorstore.Store) error {
	cols, err := store.ListCollections(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tID\tCOUNT")
	for _, c := range cols {
		info, err := store.CollectionInfo(ctx, c.Name)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%d\n", c.Name, c.ID, info.Count)
	}
	return w.Flush()
}

func newIngestCmd(load configLoader) *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "ingest <collection> <source>",
		Short: "Chunk, embed and store a local file or s3:// object",
		Long: `Run the ingest pipeline synchronously against the configured backends.

Examples:
  ragctl ingest pozos ./manuales/pozo-17.pdf --category mantenimiento
  ragctl ingest pozos s3://documents/informe.pdf`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			deps, closeDeps, err := server.Build(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeDeps()

			res, err := deps.Ingest.Ingest(cmd.Context(), ingestsvc.Request{
				Collection: args[0],
				Source:     args[1],
				Category:   category,
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "category stored in each chunk's metadata")
	return cmd
}

func newRetrieveCmd(load configLoader) *cobra.Command {
	var (
		strategy string
		useCase  string
		k        int
		mode     string
		value    float64
		minDocs  int
	)

	cmd := &cobra.Command{
		Use:   "retrieve <collection> <query>",
		Short: "Run a strategy retrieval with threshold evaluation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			deps, closeDeps, err := server.Build(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeDeps()

			s, err := retriever.ParseStrategy(strategy)
			if err != nil {
				return err
			}
			req := retriever.Request{
				Collection: args[0],
				Query:      args[1],
				Strategy:   s,
				UseCase:    retriever.UseCase(useCase),
				Params:     retriever.SearchParams{K: k},
			}
			if cmd.Flags().Changed("mode") {
				req.Threshold = relevance.ThresholdConfig{Mode: relevance.Mode(mode), Value: value, MinDocuments: minDocs}
			}
			out, err := deps.Retriever.Retrieve(cmd.Context(), req)
			if err != nil {
				return err
			}
			return writeJSON(cmd, out)
		},
	}
	cmd.Flags().StringVar(&strategy, "strategy", "", "hybrid, dense, sparse or ensemble; empty picks one from --use-case")
	cmd.Flags().StringVar(&useCase, "use-case", "", "general, semantic, exact or comprehensive")
	cmd.Flags().IntVar(&k, "k", 0, "documents to return (0 uses the configured top_k)")
	cmd.Flags().StringVar(&mode, "mode", "", "threshold mode; unset uses the configured threshold")
	cmd.Flags().Float64Var(&value, "value", 0, "threshold value for --mode")
	cmd.Flags().IntVar(&minDocs, "min-docs", 1, "documents required for a valid result")
	return cmd
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
