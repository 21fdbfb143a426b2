package retriever

import (
	"context"
	"errors"

	"chroma-rag/internal/core/relevance"
)

var (
	ErrEmptyQuery      = errors.New("query is empty")
	ErrInvalidParams   = errors.New("invalid search parameters")
	ErrInvalidStrategy = errors.New("unknown retrieval strategy")
	ErrEmbedding       = errors.New("embedding failed")
	ErrSearch          = errors.New("vector search failed")
)

// Embedder turns text into vectors. The OpenAI implementation lives in core/ingest.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Strategy names a preset combination of fetch size and lambda.
type Strategy string

const (
	StrategyHybrid   Strategy = "hybrid"
	StrategyDense    Strategy = "dense"
	StrategySparse   Strategy = "sparse"
	StrategyEnsemble Strategy = "ensemble"
	// StrategyMMR runs a single pass with caller-supplied parameters.
	StrategyMMR Strategy = "mmr"
)

// UseCase is the caller-facing intent that selects a Strategy.
type UseCase string

const (
	UseCaseGeneral       UseCase = "general"
	UseCaseSemantic      UseCase = "semantic"
	UseCaseExact         UseCase = "exact"
	UseCaseComprehensive UseCase = "comprehensive"
)

// SearchParams drives one MMR pass.
type SearchParams struct {
	K          int
	FetchK     int
	LambdaMult float64
	Filters    map[string]any
}

// Request is a full retrieval: search, threshold evaluation and context.
// Strategy wins over UseCase; with neither set the configured use case applies.
type Request struct {
	Collection   string
	Query        string
	Strategy     Strategy
	UseCase      UseCase
	Params       SearchParams
	Threshold    relevance.ThresholdConfig
	MissingScore relevance.MissingScorePolicy
}

// Outcome is what Retrieve hands back to callers.
type Outcome struct {
	Strategy   Strategy                   `json:"strategy"`
	Evaluation relevance.EvaluationResult `json:"evaluation"`
	Extraction relevance.ExtractReport    `json:"extraction"`
	TopScores  []float64                  `json:"top_scores"`
	Context    string                     `json:"context"`
	Answer     string                     `json:"answer"`
}
