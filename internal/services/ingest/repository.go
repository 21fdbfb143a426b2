package ingest

import (
	"context"

	"chroma-rag/internal/database"

	"gorm.io/gorm"
)

// RunRepository tracks ingestion runs. Without a database runs are only logged.
type RunRepository interface {
	Start(ctx context.Context, run *database.IngestRun) error
	Finish(ctx context.Context, id int64, status string, pages, chunks int, cause error) error
}

func NewRunRepository(db *gorm.DB) RunRepository {
	if db == nil {
		return nopRunRepository{}
	}
	return &gormRunRepository{db: db}
}

type gormRunRepository struct {
	db *gorm.DB
}

func (r *gormRunRepository) Start(ctx context.Context, run *database.IngestRun) error {
	run.Status = database.IngestStatusProcessing
	return database.CreateEntity(ctx, r.db, run)
}

func (r *gormRunRepository) Finish(ctx context.Context, id int64, status string, pages, chunks int, cause error) error {
	updates := map[string]interface{}{
		"status": status,
		"pages":  pages,
		"chunks": chunks,
		"error":  nil,
	}
	if cause != nil {
		updates["error"] = cause.Error()
	}
	return database.UpdateEntityByID[database.IngestRun](ctx, r.db, id, updates)
}

type nopRunRepository struct{}

func (nopRunRepository) Start(context.Context, *database.IngestRun) error { return nil }

func (nopRunRepository) Finish(context.Context, int64, string, int, int, error) error { return nil }
