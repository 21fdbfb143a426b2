package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"chroma-rag/internal/core/relevance"
	"chroma-rag/internal/core/retriever"

	"github.com/spf13/cobra"
)

// candidateInput is one saved retrieval hit. Score is a similarity.
type candidateInput struct {
	ID       string         `json:"id"`
	Document *string        `json:"document"`
	Metadata map[string]any `json:"metadata"`
	Score    *float64       `json:"score"`
}

type evaluateOutput struct {
	Evaluation relevance.EvaluationResult `json:"evaluation"`
	Extraction relevance.ExtractReport    `json:"extraction"`
	Answer     string                     `json:"answer"`
}

func newEvaluateCmd() *cobra.Command {
	var (
		mode     string
		value    float64
		floor    float64
		minDocs  int
		missing  string
		withText bool
	)

	cmd := &cobra.Command{
		Use:   "evaluate [file]",
		Short: "Apply a relevance threshold to saved candidates",
		Long: `Read a JSON array of candidates ({id, document, metadata, score}) from a
file or stdin and print the threshold evaluation as JSON.

Examples:
  ragctl evaluate hits.json --mode relative --value 0.8
  cat hits.json | ragctl evaluate - --mode percentile --value 0.75 --min-docs 2`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, closeIn, err := openInput(cmd, args)
			if err != nil {
				return err
			}
			defer closeIn()

			var raw []candidateInput
			if err := json.NewDecoder(in).Decode(&raw); err != nil {
				return fmt.Errorf("decode candidates: %w", err)
			}

			m, err := relevance.ParseMode(mode)
			if err != nil {
				return err
			}
			policy, err := relevance.ParseMissingScorePolicy(missing)
			if err != nil {
				return err
			}
			cfg := relevance.ThresholdConfig{Mode: m, Value: value, MinDocuments: minDocs}
			if cmd.Flags().Changed("floor") {
				cfg.AbsoluteFloor = &floor
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			candidates := make([]relevance.Candidate, len(raw))
			for i, c := range raw {
				candidates[i] = relevance.Candidate{ID: c.ID, Document: c.Document, Metadata: c.Metadata, Score: c.Score}
			}
			docs, report := relevance.Extract(candidates, relevance.ExtractOptions{MissingScore: policy})
			eval, err := relevance.Evaluate(docs, cfg)
			if err != nil {
				return err
			}

			out := evaluateOutput{Evaluation: eval, Extraction: report}
			if withText {
				out.Answer = retriever.Answer(eval, retriever.FormatContext(eval.Filtered))
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().StringVar(&mode, "mode", string(relevance.ModeRelative), "threshold mode: absolute, relative or percentile")
	cmd.Flags().Float64Var(&value, "value", 0.5, "threshold value for the chosen mode")
	cmd.Flags().Float64Var(&floor, "floor", 0, "absolute floor applied on top of the mode threshold")
	cmd.Flags().IntVar(&minDocs, "min-docs", 1, "documents required for a valid result")
	cmd.Flags().StringVar(&missing, "missing-score", string(relevance.MissingScoreExclude), "exclude or passthrough candidates without a score")
	cmd.Flags().BoolVar(&withText, "answer", false, "include the formatted context answer")
	return cmd
}

func openInput(cmd *cobra.Command, args []string) (io.Reader, func(), error) {
	if len(args) == 0 || args[0] == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(args[0])
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}
