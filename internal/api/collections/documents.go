package collections

import (
	"chroma-rag/config"
	"chroma-rag/internal/api/common"
	"chroma-rag/internal/vectorstore"
	"chroma-rag/pkg/apperror"
	"chroma-rag/pkg/apperror/status"

	"github.com/gofiber/fiber/v3"
)

type addDocumentRequest struct {
	Text     string `json:"text" validate:"required"`
	Category string `json:"category"`
	Source   string `json:"source"`
}

type updateDocumentRequest struct {
	Text     *string `json:"text"`
	Category *string `json:"category"`
	Source   *string `json:"source"`
}

type documentResponse struct {
	ID       string         `json:"id"`
	Document *string        `json:"document,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (h *Handler) AddDocument(c fiber.Ctx) error {
	var req addDocumentRequest
	if ok, err := common.BindJSON(config.ModuleIngest, c, &req); !ok {
		return err
	}
	id, err := h.writer.AddText(c.Context(), c.Params("name"), req.Text, req.Category, req.Source)
	if err != nil {
		return common.IngestError(config.ModuleIngest, c, err)
	}
	return apperror.Created(config.ModuleIngest, c, "document created", documentResponse{ID: id})
}

func (h *Handler) GetDocument(c fiber.Ctx) error {
	id := c.Params("id")
	recs, err := h.store.GetRecords(c.Context(), c.Params("name"), vectorstore.GetOptions{IDs: []string{id}})
	if err != nil {
		return common.StoreError(config.ModuleVectorStore, c, err)
	}
	if len(recs) == 0 {
		return apperror.NotFound(config.ModuleVectorStore, c, status.DocumentNotFound, "document "+id+" not found")
	}
	return apperror.Success(config.ModuleVectorStore, c, "document fetched", documentResponse{
		ID:       recs[0].ID,
		Document: recs[0].Document,
		Metadata: recs[0].Metadata,
	})
}

func (h *Handler) UpdateDocument(c fiber.Ctx) error {
	var req updateDocumentRequest
	if ok, err := common.BindJSON(config.ModuleIngest, c, &req); !ok {
		return err
	}
	name, id := c.Params("name"), c.Params("id")
	if exists, err := h.exists(c, name, id); err != nil {
		return common.StoreError(config.ModuleVectorStore, c, err)
	} else if !exists {
		return apperror.NotFound(config.ModuleVectorStore, c, status.DocumentNotFound, "document "+id+" not found")
	}
	if err := h.writer.UpdateText(c.Context(), name, id, req.Text, req.Category, req.Source); err != nil {
		return common.IngestError(config.ModuleIngest, c, err)
	}
	return apperror.Success(config.ModuleIngest, c, "document updated", documentResponse{ID: id})
}

func (h *Handler) DeleteDocument(c fiber.Ctx) error {
	name, id := c.Params("name"), c.Params("id")
	if exists, err := h.exists(c, name, id); err != nil {
		return common.StoreError(config.ModuleVectorStore, c, err)
	} else if !exists {
		return apperror.NotFound(config.ModuleVectorStore, c, status.DocumentNotFound, "document "+id+" not found")
	}
	if err := h.store.DeleteRecords(c.Context(), name, []string{id}); err != nil {
		return common.StoreError(config.ModuleVectorStore, c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) exists(c fiber.Ctx, name, id string) (bool, error) {
	recs, err := h.store.GetRecords(c.Context(), name, vectorstore.GetOptions{IDs: []string{id}})
	if err != nil {
		return false, err
	}
	return len(recs) > 0, nil
}
