package collections

import (
	"strings"

	"chroma-rag/config"
	"chroma-rag/internal/api/common"
	ingestsvc "chroma-rag/internal/services/ingest"
	"chroma-rag/internal/vectorstore"
	"chroma-rag/pkg/apperror"
	"chroma-rag/pkg/apperror/status"

	"github.com/gofiber/fiber/v3"
)

type Handler struct {
	store  vectorstore.Store
	writer *ingestsvc.Service
}

func NewHandler(store vectorstore.Store, writer *ingestsvc.Service) *Handler {
	return &Handler{store: store, writer: writer}
}

type listResponse struct {
	Collections []string `json:"collections"`
	Count       int      `json:"count"`
}

type recordsResponse struct {
	Collection string           `json:"collection"`
	Count      int              `json:"count"`
	IDs        []string         `json:"ids"`
	Documents  []*string        `json:"documents"`
	Metadatas  []map[string]any `json:"metadatas"`
	Embeddings [][]float32      `json:"embeddings,omitempty"`
}

type infoResponse struct {
	Collection string         `json:"collection"`
	ID         string         `json:"id"`
	Count      int            `json:"count"`
	Metadata   map[string]any `json:"metadata"`
}

func (h *Handler) List(c fiber.Ctx) error {
	cols, err := h.store.ListCollections(c.Context())
	if err != nil {
		return common.StoreError(config.ModuleVectorStore, c, err)
	}
	names := make([]string, len(cols))
	for i, col := range cols {
		names[i] = col.Name
	}
	return apperror.Success(config.ModuleVectorStore, c, "collections listed", listResponse{Collections: names, Count: len(names)})
}

// Records returns the collection column-wise. ids may repeat or be comma separated.
func (h *Handler) Records(c fiber.Ctx) error {
	name := c.Params("name")
	opts := vectorstore.GetOptions{
		IDs:               queryIDs(c),
		IncludeEmbeddings: fiber.Query[bool](c, "include_embeddings", false),
		Limit:             fiber.Query[int](c, "limit", 0),
		Offset:            fiber.Query[int](c, "offset", 0),
	}
	if opts.Limit < 0 || opts.Offset < 0 {
		return apperror.BadRequest(config.ModuleVectorStore, c, status.InvalidQueryParams, "limit and offset must not be negative")
	}

	recs, err := h.store.GetRecords(c.Context(), name, opts)
	if err != nil {
		return common.StoreError(config.ModuleVectorStore, c, err)
	}

	resp := recordsResponse{
		Collection: name,
		Count:      len(recs),
		IDs:        make([]string, len(recs)),
		Documents:  make([]*string, len(recs)),
		Metadatas:  make([]map[string]any, len(recs)),
	}
	if opts.IncludeEmbeddings {
		resp.Embeddings = make([][]float32, len(recs))
	}
	for i, r := range recs {
		resp.IDs[i] = r.ID
		resp.Documents[i] = r.Document
		resp.Metadatas[i] = r.Metadata
		if opts.IncludeEmbeddings {
			resp.Embeddings[i] = r.Embedding
		}
	}
	return apperror.Success(config.ModuleVectorStore, c, "records fetched", resp)
}

func queryIDs(c fiber.Ctx) []string {
	var ids []string
	for _, raw := range c.RequestCtx().QueryArgs().PeekMulti("ids") {
		for _, id := range strings.Split(string(raw), ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

func (h *Handler) Info(c fiber.Ctx) error {
	info, err := h.store.CollectionInfo(c.Context(), c.Params("name"))
	if err != nil {
		return common.StoreError(config.ModuleVectorStore, c, err)
	}
	meta := info.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	return apperror.Success(config.ModuleVectorStore, c, "collection info", infoResponse{
		Collection: info.Name,
		ID:         info.ID,
		Count:      info.Count,
		Metadata:   meta,
	})
}

func (h *Handler) Delete(c fiber.Ctx) error {
	if err := h.store.DeleteCollection(c.Context(), c.Params("name")); err != nil {
		return common.StoreError(config.ModuleVectorStore, c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
