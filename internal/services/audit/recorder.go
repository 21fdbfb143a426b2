// Package audit persists one row per retrieval when the database is enabled.
package audit

import (
	"context"

	"chroma-rag/config"
	"chroma-rag/internal/database"
	"chroma-rag/pkg/logger"

	"gorm.io/gorm"
)

type Recorder interface {
	RecordRetrieval(ctx context.Context, entry database.RetrievalLog)
}

func NewRecorder(db *gorm.DB) Recorder {
	if db == nil {
		return Nop{}
	}
	return &gormRecorder{db: db}
}

type gormRecorder struct {
	db *gorm.DB
}

// RecordRetrieval never fails the request; write errors are logged.
func (r *gormRecorder) RecordRetrieval(ctx context.Context, entry database.RetrievalLog) {
	if err := database.CreateEntity(ctx, r.db, &entry); err != nil {
		logger.Error(err, "%v: audit write failed", config.ModuleDatabase)
	}
}

type Nop struct{}

func (Nop) RecordRetrieval(context.Context, database.RetrievalLog) {}
