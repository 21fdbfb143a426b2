package server

import (
	"context"
	"errors"
	"fmt"

	"chroma-rag/config"
	ingestapi "chroma-rag/internal/api/ingest"
	coreingest "chroma-rag/internal/core/ingest"
	"chroma-rag/internal/core/retriever"
	"chroma-rag/internal/database"
	"chroma-rag/internal/services/audit"
	ingestsvc "chroma-rag/internal/services/ingest"
	"chroma-rag/internal/services/items"
	"chroma-rag/internal/vectorstore"
	"chroma-rag/pkg/logger"
	"chroma-rag/pkg/s3"

	"gorm.io/gorm"
)

// Build connects every backend named by cfg and wires the services.
// The returned close func releases them in reverse order.
func Build(ctx context.Context, cfg config.Config) (Deps, func(), error) {
	store, err := vectorstore.Connect(ctx, cfg)
	if err != nil {
		return Deps{}, nil, err
	}

	var embedder retriever.Embedder
	openai, err := coreingest.NewOpenAIEmbedder(cfg.OpenAI)
	switch {
	case err == nil:
		embedder = openai
	case errors.Is(err, coreingest.ErrMissingKey):
		logger.Warn("%v: no api key, retrieval and ingest will fail until one is set", config.ModuleOpenAI)
	default:
		_ = store.Close()
		return Deps{}, nil, err
	}

	var db *gorm.DB
	if cfg.Database.Enabled {
		db, err = database.Open(cfg.Database)
		if err != nil {
			_ = store.Close()
			return Deps{}, nil, err
		}
		if err := database.Migrate(db); err != nil {
			database.Close(db)
			_ = store.Close()
			return Deps{}, nil, fmt.Errorf("%v: migrate: %w", config.ModuleDatabase, err)
		}
	}

	s3c, err := s3.NewClient(ctx, cfg.S3)
	if err != nil {
		if db != nil {
			database.Close(db)
		}
		_ = store.Close()
		return Deps{}, nil, err
	}

	deps := Deps{
		Store:     store,
		Retriever: retriever.New(store, embedder, cfg.Retriever),
		Ingest:    ingestsvc.NewService(store, embedder, s3c, ingestsvc.NewRunRepository(db), cfg.Ingest),
		Items:     items.NewRepository(db),
		Audit:     audit.NewRecorder(db),
		Storage:   ingestapi.Storage{Uploader: s3c, Bucket: cfg.S3.Bucket, Dir: cfg.Ingest.StorageDir},
		DB:        db,
	}
	closeAll := func() {
		if db != nil {
			database.Close(db)
		}
		if err := store.Close(); err != nil {
			logger.Error(err, "%v: close", config.ModuleVectorStore)
		}
	}
	return deps, closeAll, nil
}
