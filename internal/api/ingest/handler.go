package ingest

import (
	"strings"

	"chroma-rag/config"
	"chroma-rag/internal/api/common"
	ingestsvc "chroma-rag/internal/services/ingest"
	"chroma-rag/pkg/apperror"

	"github.com/gofiber/fiber/v3"
)

type Handler struct {
	svc     *ingestsvc.Service
	storage Storage
}

func NewHandler(svc *ingestsvc.Service, storage Storage) *Handler {
	return &Handler{svc: svc, storage: storage}
}

type ingestRequest struct {
	Source   string `json:"source" validate:"required"`
	Category string `json:"category"`
}

// Ingest runs the pipeline synchronously for a local path or s3:// source.
func (h *Handler) Ingest(c fiber.Ctx) error {
	var req ingestRequest
	if ok, err := common.BindJSON(config.ModuleIngest, c, &req); !ok {
		return err
	}
	res, err := h.svc.Ingest(c.Context(), ingestsvc.Request{
		Collection: c.Params("name"),
		Source:     strings.TrimSpace(req.Source),
		Category:   req.Category,
	})
	if err != nil {
		return common.IngestError(config.ModuleIngest, c, err)
	}
	return apperror.Created(config.ModuleIngest, c, "source ingested", res)
}
