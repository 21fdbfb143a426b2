package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"chroma-rag/config"
	"chroma-rag/internal/metrics"
	"chroma-rag/pkg/logger"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/time/rate"
)

var ErrMissingKey = errors.New("missing openai key")

type openAIEmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// OpenAIEmbedder calls the OpenAI embeddings endpoint in rate limited batches.
type OpenAIEmbedder struct {
	client    openai.Client
	model     string
	batchSize int
	limiter   *rate.Limiter
}

func NewOpenAIEmbedder(cfg config.OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.Key == "" {
		return nil, fmt.Errorf("%v: %w", config.ModuleOpenAI, ErrMissingKey)
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.Key),
		option.WithMaxRetries(2),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	batch := cfg.BatchSize
	if batch < 1 {
		batch = 100
	}

	return &OpenAIEmbedder{
		client:    openai.NewClient(opts...),
		model:     cfg.EmbeddingModel,
		batchSize: batch,
		limiter:   rate.NewLimiter(limit, burst),
	}, nil
}

func (e *OpenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, errors.New("no embedding returned")
	}
	return vecs[0], nil
}

// EmbedDocuments returns one vector per input, in input order.
func (e *OpenAIEmbedder) EmbedDocuments(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}
	all := make([][]float32, 0, len(inputs))
	for i := 0; i < len(inputs); i += e.batchSize {
		j := i + e.batchSize
		if j > len(inputs) {
			j = len(inputs)
		}
		batch := inputs[i:j]
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		start := time.Now()
		vectors, err := e.embedBatch(ctx, batch)
		metrics.ObserveEmbedding(len(batch), err)
		if err != nil {
			logger.WithFields(map[string]interface{}{
				"model":       e.model,
				"batch_start": i,
				"batch_end":   j,
				"error":       err.Error(),
			}).Error("openai: embedding batch failed")
			return nil, err
		}
		logger.WithFields(map[string]interface{}{
			"model":      e.model,
			"batch_size": len(batch),
			"elapsed_ms": time.Since(start).Milliseconds(),
		}).Debug("openai: embedding batch done")
		all = append(all, vectors...)
	}
	return all, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	reqBody := openAIEmbeddingRequest{Model: e.model, Input: batch}
	var out openAIEmbeddingResponse
	if err := e.client.Post(ctx, "/embeddings", reqBody, &out); err != nil {
		return nil, err
	}
	if out.Error != nil {
		return nil, errors.New(out.Error.Message)
	}
	if len(out.Data) != len(batch) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d, got %d", len(batch), len(out.Data))
	}
	sort.Slice(out.Data, func(a, b int) bool { return out.Data[a].Index < out.Data[b].Index })

	vectors := make([][]float32, len(out.Data))
	for i := range out.Data {
		src := out.Data[i].Embedding
		vec := make([]float32, len(src))
		for k := range src {
			vec[k] = float32(src[k])
		}
		vectors[i] = vec
	}
	return vectors, nil
}
