package healthcheck

import (
	"context"
	"time"

	"chroma-rag/config"
	"chroma-rag/internal/database"
	"chroma-rag/internal/vectorstore"
	"chroma-rag/pkg/apperror"
	"chroma-rag/pkg/apperror/status"

	"github.com/gofiber/fiber/v3"
	"gorm.io/gorm"
)

const checkTimeout = 2 * time.Second

type Handler struct {
	cfg   config.Config
	store vectorstore.Store
	db    *gorm.DB
}

// NewHandler takes a nil db when the database is disabled.
func NewHandler(cfg config.Config, store vectorstore.Store, db *gorm.DB) *Handler {
	return &Handler{cfg: cfg, store: store, db: db}
}

type rootResponse struct {
	Service       string `json:"service"`
	Version       string `json:"version"`
	Status        string `json:"status"`
	Environment   string `json:"environment"`
	VectorBackend string `json:"vector_backend"`
}

func (h *Handler) Root(c fiber.Ctx) error {
	return c.JSON(rootResponse{
		Service:       h.cfg.Server.AppName,
		Version:       h.cfg.Server.Version,
		Status:        "running",
		Environment:   h.cfg.Env,
		VectorBackend: h.store.Backend(),
	})
}

func (h *Handler) Health(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "healthy"})
}

func (h *Handler) API(c fiber.Ctx) error {
	return c.SendString("ok")
}

func (h *Handler) VectorStore(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), checkTimeout)
	defer cancel()
	if err := h.store.Heartbeat(ctx); err != nil {
		return apperror.Unavailable(config.ModuleHealth, c, status.VectorStoreUnavailable, err)
	}
	return c.SendString("ok")
}

func (h *Handler) Database(c fiber.Ctx) error {
	if h.db == nil {
		return c.SendString("disabled")
	}
	ctx, cancel := context.WithTimeout(c.Context(), checkTimeout)
	defer cancel()
	if err := database.Ping(ctx, h.db); err != nil {
		return apperror.InternalError(config.ModuleDatabase, c, err)
	}
	return c.SendString("ok")
}
