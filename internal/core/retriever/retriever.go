package retriever

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chroma-rag/config"
	"chroma-rag/internal/core/relevance"
	"chroma-rag/internal/metrics"
	"chroma-rag/internal/vectorstore"
	"chroma-rag/pkg/logger"
)

// Retriever embeds queries, runs MMR against a vector store and evaluates the
// relevance of what comes back.
type Retriever struct {
	store    vectorstore.Store
	embedder Embedder
	cfg      config.RetrieverConfig
}

func New(store vectorstore.Store, embedder Embedder, cfg config.RetrieverConfig) *Retriever {
	return &Retriever{store: store, embedder: embedder, cfg: cfg}
}

// DefaultParams returns the configured single pass parameters.
func (r *Retriever) DefaultParams() SearchParams {
	return SearchParams{K: r.cfg.TopK, FetchK: r.cfg.FetchK, LambdaMult: r.cfg.LambdaMult}
}

// DefaultThreshold returns the configured threshold policy. A zero floor means none.
func (r *Retriever) DefaultThreshold() relevance.ThresholdConfig {
	t := relevance.ThresholdConfig{
		Mode:         relevance.Mode(r.cfg.ThresholdMode),
		Value:        r.cfg.ThresholdValue,
		MinDocuments: r.cfg.MinDocuments,
	}
	if r.cfg.AbsoluteFloor != 0 {
		floor := r.cfg.AbsoluteFloor
		t.AbsoluteFloor = &floor
	}
	return t
}

// DefaultMissingScore returns the configured missing score policy.
func (r *Retriever) DefaultMissingScore() relevance.MissingScorePolicy {
	p, err := relevance.ParseMissingScorePolicy(r.cfg.MissingScore)
	if err != nil {
		return relevance.MissingScoreExclude
	}
	return p
}

// Search embeds the query and runs one MMR pass.
func (r *Retriever) Search(ctx context.Context, collection, query string, p SearchParams) ([]vectorstore.Match, error) {
	if err := validateParams(&p); err != nil {
		return nil, err
	}
	emb, err := r.embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return r.mmr(ctx, collection, emb, p)
}

// SearchStrategy runs the passes a strategy prescribes for k final documents.
func (r *Retriever) SearchStrategy(ctx context.Context, collection, query string, s Strategy, k int, filters map[string]any) ([]vectorstore.Match, error) {
	if k <= 0 {
		k = r.cfg.TopK
	}
	passes, err := strategyPasses(s, k)
	if err != nil {
		return nil, err
	}
	emb, err := r.embed(ctx, query)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	out := make([]vectorstore.Match, 0, k)
	for _, p := range passes {
		p.Filters = filters
		matches, err := r.mmr(ctx, collection, emb, p)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if _, dup := seen[m.ID]; dup {
				continue
			}
			seen[m.ID] = struct{}{}
			out = append(out, m)
		}
	}
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// strategyPasses returns the MMR passes for a strategy. Lambda weighs relevance,
// so dense favours diversity and sparse favours near matches.
func strategyPasses(s Strategy, k int) ([]SearchParams, error) {
	switch s {
	case StrategyHybrid:
		return []SearchParams{{K: k, FetchK: 4 * k, LambdaMult: 0.5}}, nil
	case StrategyDense:
		return []SearchParams{{K: k, FetchK: 3 * k, LambdaMult: 0.2}}, nil
	case StrategySparse:
		return []SearchParams{{K: k, FetchK: 5 * k, LambdaMult: 0.8}}, nil
	case StrategyEnsemble:
		return []SearchParams{
			{K: 2 * k, FetchK: 4 * k, LambdaMult: 0.2},
			{K: 2 * k, FetchK: 6 * k, LambdaMult: 0.8},
		}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidStrategy, s)
}

// StrategyForUseCase maps an intent to its strategy; unknown intents get hybrid.
func StrategyForUseCase(u UseCase) Strategy {
	switch u {
	case UseCaseSemantic:
		return StrategyDense
	case UseCaseExact:
		return StrategySparse
	case UseCaseComprehensive:
		return StrategyEnsemble
	default:
		return StrategyHybrid
	}
}

// ParseStrategy accepts the preset names plus mmr; empty stays empty.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case "", StrategyHybrid, StrategyDense, StrategySparse, StrategyEnsemble, StrategyMMR:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStrategy, s)
}

// Retrieve searches, scores and evaluates in one call.
// A zero Threshold takes the configured policy.
func (r *Retriever) Retrieve(ctx context.Context, req Request) (Outcome, error) {
	if req.Threshold.Mode == "" {
		req.Threshold = r.DefaultThreshold()
	}
	if err := req.Threshold.Validate(); err != nil {
		return Outcome{}, err
	}
	if req.MissingScore == "" {
		req.MissingScore = r.DefaultMissingScore()
	}
	if req.Collection == "" {
		req.Collection = r.cfg.Collection
	}

	strategy := req.Strategy
	if strategy == "" {
		uc := req.UseCase
		if uc == "" {
			uc = UseCase(r.cfg.UseCase)
		}
		strategy = StrategyForUseCase(uc)
	}

	start := time.Now()
	var (
		matches []vectorstore.Match
		err     error
	)
	if strategy == StrategyMMR {
		matches, err = r.Search(ctx, req.Collection, req.Query, r.withDefaults(req.Params))
	} else {
		matches, err = r.SearchStrategy(ctx, req.Collection, req.Query, strategy, req.Params.K, req.Params.Filters)
	}
	if err != nil {
		return Outcome{}, err
	}

	docs, report := relevance.Extract(Candidates(matches), relevance.ExtractOptions{MissingScore: req.MissingScore})
	eval, err := relevance.Evaluate(docs, req.Threshold)
	if err != nil {
		return Outcome{}, err
	}
	metrics.ObserveEvaluation(eval.Mode, eval.IsValid, eval.TotalRetrieved, eval.FilteredCount)

	logger.WithFields(map[string]interface{}{
		"collection": req.Collection,
		"strategy":   strategy,
		"retrieved":  eval.TotalRetrieved,
		"kept":       eval.FilteredCount,
		"threshold":  eval.ThresholdUsed,
		"valid":      eval.IsValid,
		"elapsed_ms": time.Since(start).Milliseconds(),
	}).Info("retriever: retrieval evaluated")

	ctxText := FormatContext(eval.Filtered)
	return Outcome{
		Strategy:   strategy,
		Evaluation: eval,
		Extraction: report,
		TopScores:  topScores(docs, 10),
		Context:    ctxText,
		Answer:     Answer(eval, ctxText),
	}, nil
}

func (r *Retriever) withDefaults(p SearchParams) SearchParams {
	d := r.DefaultParams()
	if p.K <= 0 {
		p.K = d.K
	}
	if p.FetchK <= 0 {
		p.FetchK = d.FetchK
	}
	return p
}

func (r *Retriever) embed(ctx context.Context, query string) ([]float32, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if r.embedder == nil {
		return nil, fmt.Errorf("%w: no embedder configured", ErrEmbedding)
	}
	emb, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		logger.Error(err, "%v: embed query failed", config.ModuleRetriever)
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	if len(emb) == 0 {
		return nil, fmt.Errorf("%w: empty vector", ErrEmbedding)
	}
	return emb, nil
}

func (r *Retriever) mmr(ctx context.Context, collection string, emb []float32, p SearchParams) ([]vectorstore.Match, error) {
	if err := validateParams(&p); err != nil {
		return nil, err
	}
	matches, err := r.store.Query(ctx, collection, emb, vectorstore.QueryOptions{
		NResults:          p.FetchK,
		Where:             CleanFilters(p.Filters),
		IncludeEmbeddings: true,
	})
	if err != nil {
		if errors.Is(err, vectorstore.ErrCollectionNotFound) || errors.Is(err, vectorstore.ErrUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrSearch, err)
	}
	return SelectMMR(emb, matches, p.K, p.LambdaMult), nil
}

func validateParams(p *SearchParams) error {
	if p.K <= 0 {
		return fmt.Errorf("%w: k must be positive", ErrInvalidParams)
	}
	if p.FetchK < p.K {
		p.FetchK = p.K
	}
	if p.LambdaMult < 0 || p.LambdaMult > 1 {
		return fmt.Errorf("%w: lambda_mult must be within [0,1]", ErrInvalidParams)
	}
	return nil
}

// CleanFilters drops placeholder keys (additionalProp*), nil, empty strings and
// empty maps. It returns nil when nothing is left.
func CleanFilters(filters map[string]any) map[string]any {
	var out map[string]any
	for k, v := range filters {
		if strings.HasPrefix(k, "additionalProp") || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			if t == "" {
				continue
			}
		case map[string]any:
			if len(t) == 0 {
				continue
			}
		}
		if out == nil {
			out = make(map[string]any)
		}
		out[k] = v
	}
	return out
}

// Candidates converts store matches to evaluator input, using similarity as score.
func Candidates(matches []vectorstore.Match) []relevance.Candidate {
	out := make([]relevance.Candidate, len(matches))
	for i, m := range matches {
		out[i] = relevance.Candidate{
			ID:       m.ID,
			Document: m.Document,
			Metadata: m.Metadata,
			Score:    m.Similarity,
		}
	}
	return out
}

func topScores(docs []relevance.ScoredDocument, n int) []float64 {
	out := make([]float64, 0, n)
	for _, d := range docs {
		if len(out) == n {
			break
		}
		if !d.Unscored {
			out = append(out, d.Score)
		}
	}
	return out
}
