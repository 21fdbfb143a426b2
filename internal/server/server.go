package server

import (
	"chroma-rag/config"
	"chroma-rag/internal/api/collections"
	"chroma-rag/internal/api/healthcheck"
	ingestapi "chroma-rag/internal/api/ingest"
	itemsapi "chroma-rag/internal/api/items"
	retrieverapi "chroma-rag/internal/api/retriever"
	"chroma-rag/internal/core/retriever"
	"chroma-rag/internal/middleware"
	"chroma-rag/internal/services/audit"
	ingestsvc "chroma-rag/internal/services/ingest"
	"chroma-rag/internal/services/items"
	"chroma-rag/internal/vectorstore"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// Deps are the collaborators built by main. DB is nil when the database is disabled.
type Deps struct {
	Store     vectorstore.Store
	Retriever *retriever.Retriever
	Ingest    *ingestsvc.Service
	Items     items.Repository
	Audit     audit.Recorder
	Storage   ingestapi.Storage
	DB        *gorm.DB
}

// New builds the fiber app with the middleware chain and every route mounted.
func New(cfg config.Config, d Deps) *fiber.App {
	// Immutable: collection names from route params outlive the request as map keys.
	app := fiber.New(fiber.Config{
		AppName:   cfg.Server.AppName,
		BodyLimit: cfg.Server.BodyLimit,
		Immutable: true,
	})
	middleware.Register(app, cfg)

	healthcheck.RegisterRoutes(app, healthcheck.NewHandler(cfg, d.Store, d.DB))
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	collections.RegisterRoutes(app, collections.NewHandler(d.Store, d.Ingest))
	ingestapi.RegisterRoutes(app, ingestapi.NewHandler(d.Ingest, d.Storage))
	retrieverapi.RegisterRoutes(app, retrieverapi.NewHandler(d.Retriever, d.Audit, cfg.Retriever))
	itemsapi.RegisterRoutes(app, itemsapi.NewHandler(d.Items))
	return app
}
