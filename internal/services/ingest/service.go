package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chroma-rag/config"
	coreingest "chroma-rag/internal/core/ingest"
	"chroma-rag/internal/core/retriever"
	"chroma-rag/internal/database"
	"chroma-rag/internal/vectorstore"
	"chroma-rag/pkg/logger"

	"github.com/google/uuid"
)

const (
	MetaCategory = "categoria"
	MetaSource   = "source"
	MetaPage     = "page"
	MetaChunk    = "chunk"
)

var (
	ErrEmptyText   = errors.New("text is empty")
	ErrEmbedCount  = errors.New("embedding count mismatch")
	ErrNothingToDo = errors.New("nothing to update")
	ErrNoDocument  = errors.New("document not found")
)

// Service writes documents into the vector store: whole files through the
// fetch, extract, chunk, embed pipeline, or single texts from the admin API.
type Service struct {
	store    vectorstore.Store
	embedder retriever.Embedder
	s3       coreingest.Downloader
	runs     RunRepository
	cfg      config.IngestConfig
}

func NewService(store vectorstore.Store, embedder retriever.Embedder, s3 coreingest.Downloader, runs RunRepository, cfg config.IngestConfig) *Service {
	if runs == nil {
		runs = nopRunRepository{}
	}
	if embedder == nil {
		embedder = noEmbedder{}
	}
	return &Service{store: store, embedder: embedder, s3: s3, runs: runs, cfg: cfg}
}

// noEmbedder stands in when no OpenAI key is configured, so writes fail cleanly.
type noEmbedder struct{}

func (noEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return nil, coreingest.ErrMissingKey
}

func (noEmbedder) EmbedDocuments(context.Context, []string) ([][]float32, error) {
	return nil, coreingest.ErrMissingKey
}

type Request struct {
	Collection string
	Source     string
	Category   string
}

type Result struct {
	RunID      int64    `json:"run_id,omitempty"`
	Collection string   `json:"collection"`
	Source     string   `json:"source"`
	Pages      int      `json:"pages"`
	Chunks     int      `json:"chunks"`
	IDs        []string `json:"ids"`
}

// Ingest runs the whole pipeline for one source and records the run.
func (s *Service) Ingest(ctx context.Context, req Request) (Result, error) {
	res := Result{Collection: req.Collection, Source: req.Source}
	run := &database.IngestRun{Collection: req.Collection, Source: req.Source, Category: req.Category}
	if err := s.runs.Start(ctx, run); err != nil {
		logger.Error(err, "%v: record run start failed", config.ModuleIngest)
	}
	res.RunID = run.ID

	logger.WithFields(map[string]interface{}{
		"collection": req.Collection,
		"source":     req.Source,
		"run_id":     run.ID,
	}).Info("ingest: start")
	start := time.Now()

	err := s.ingest(ctx, req, &res)
	status := database.IngestStatusReady
	if err != nil {
		status = database.IngestStatusFailed
		logger.Error(err, "%v: ingest %s failed", config.ModuleIngest, req.Source)
	}
	if ferr := s.runs.Finish(ctx, run.ID, status, res.Pages, res.Chunks, err); ferr != nil {
		logger.Error(ferr, "%v: record run finish failed", config.ModuleIngest)
	}
	if err != nil {
		return res, err
	}

	logger.WithFields(map[string]interface{}{
		"collection": req.Collection,
		"pages":      res.Pages,
		"chunks":     res.Chunks,
		"elapsed_ms": time.Since(start).Milliseconds(),
	}).Info("ingest: done")
	return res, nil
}

func (s *Service) ingest(ctx context.Context, req Request, res *Result) error {
	data, err := coreingest.Fetch(ctx, req.Source, s.s3)
	if err != nil {
		return err
	}
	pages, err := coreingest.ExtractPages(data)
	if err != nil {
		return err
	}
	res.Pages = len(pages)

	chunks := coreingest.BuildChunks(pages, s.cfg.ChunkTokens, s.cfg.ChunkOverlap)
	if len(chunks) == 0 {
		return coreingest.ErrEmptyContent
	}
	logger.WithFields(map[string]interface{}{
		"source":       req.Source,
		"chunks":       len(chunks),
		"chunk_tokens": s.cfg.ChunkTokens,
		"overlap":      s.cfg.ChunkOverlap,
	}).Info("ingest: chunks built")

	inputs := make([]string, len(chunks))
	for i, ch := range chunks {
		inputs[i] = ch.Content
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, inputs)
	if err != nil {
		return fmt.Errorf("%w: %w", retriever.ErrEmbedding, err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("%w: %d chunks, %d vectors", ErrEmbedCount, len(chunks), len(vectors))
	}

	records := make([]vectorstore.Record, len(chunks))
	ids := make([]string, len(chunks))
	for i, ch := range chunks {
		content := ch.Content
		ids[i] = uuid.NewString()
		meta := map[string]any{
			MetaSource: req.Source,
			MetaPage:   ch.Page,
			MetaChunk:  ch.Index,
		}
		if c := strings.TrimSpace(req.Category); c != "" {
			meta[MetaCategory] = c
		}
		records[i] = vectorstore.Record{ID: ids[i], Document: &content, Metadata: meta, Embedding: vectors[i]}
	}

	if err := s.store.EnsureCollection(ctx, req.Collection); err != nil {
		return err
	}
	if err := s.store.AddRecords(ctx, req.Collection, records); err != nil {
		return err
	}
	res.Chunks = len(chunks)
	res.IDs = ids
	return nil
}

// AddText embeds and stores a single document under a fresh uuid.
func (s *Service) AddText(ctx context.Context, collection, text, category, source string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyText
	}
	vec, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return "", fmt.Errorf("%w: %w", retriever.ErrEmbedding, err)
	}
	if err := s.store.EnsureCollection(ctx, collection); err != nil {
		return "", err
	}
	id := uuid.NewString()
	rec := vectorstore.Record{ID: id, Document: &text, Metadata: adminMetadata(category, source), Embedding: vec}
	if err := s.store.AddRecords(ctx, collection, []vectorstore.Record{rec}); err != nil {
		return "", err
	}
	return id, nil
}

// UpdateText replaces the body and metadata of a document, re-embedding the body.
// Nil arguments keep the stored value and a blank category or source drops the key.
// Chroma merges metadata on update, so a dropped key stays stored there.
func (s *Service) UpdateText(ctx context.Context, collection, id string, text, category, source *string) error {
	if text == nil && category == nil && source == nil {
		return ErrNothingToDo
	}
	current, err := s.store.GetRecords(ctx, collection, vectorstore.GetOptions{IDs: []string{id}})
	if err != nil {
		return err
	}
	if len(current) == 0 {
		return fmt.Errorf("%w: %s", ErrNoDocument, id)
	}

	rec := vectorstore.Record{ID: id}
	if text != nil {
		t := strings.TrimSpace(*text)
		if t == "" {
			return ErrEmptyText
		}
		vec, err := s.embedder.EmbedQuery(ctx, t)
		if err != nil {
			return fmt.Errorf("%w: %w", retriever.ErrEmbedding, err)
		}
		rec.Document = &t
		rec.Embedding = vec
	}
	if category != nil || source != nil {
		meta := make(map[string]any, len(current[0].Metadata)+2)
		for k, v := range current[0].Metadata {
			meta[k] = v
		}
		setOrDrop(meta, MetaCategory, category)
		setOrDrop(meta, MetaSource, source)
		rec.Metadata = meta
	}
	return s.store.UpdateRecords(ctx, collection, []vectorstore.Record{rec})
}

func adminMetadata(category, source string) map[string]any {
	meta := map[string]any{}
	c, src := category, source
	setOrDrop(meta, MetaCategory, &c)
	setOrDrop(meta, MetaSource, &src)
	if len(meta) == 0 {
		return nil
	}
	return meta
}

// setOrDrop stores a trimmed value, or removes the key when the value is blank.
func setOrDrop(meta map[string]any, key string, v *string) {
	if v == nil {
		return
	}
	if t := strings.TrimSpace(*v); t != "" {
		meta[key] = t
		return
	}
	delete(meta, key)
}
