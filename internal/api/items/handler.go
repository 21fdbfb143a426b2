package items

import (
	"errors"
	"strconv"

	"chroma-rag/config"
	"chroma-rag/internal/api/common"
	itemsvc "chroma-rag/internal/services/items"
	"chroma-rag/pkg/apperror"
	"chroma-rag/pkg/apperror/status"

	"github.com/gofiber/fiber/v3"
)

type Handler struct {
	repo itemsvc.Repository
}

func NewHandler(repo itemsvc.Repository) *Handler {
	return &Handler{repo: repo}
}

func (h *Handler) List(c fiber.Ctx) error {
	items, err := h.repo.List(c.Context())
	if err != nil {
		return apperror.InternalError(config.ModuleItems, c, status.New(status.ItemStoreFailed, err))
	}
	return apperror.Success(config.ModuleItems, c, "items listed", items)
}

func (h *Handler) Get(c fiber.Ctx) error {
	id, ok := itemID(c)
	if !ok {
		return apperror.BadRequest(config.ModuleItems, c, status.InvalidQueryParams, "invalid item id")
	}
	it, err := h.repo.Get(c.Context(), id)
	if err != nil {
		return h.fail(c, err)
	}
	return apperror.Success(config.ModuleItems, c, "item fetched", it)
}

func (h *Handler) Create(c fiber.Ctx) error {
	var in itemsvc.Input
	if ok, err := common.BindJSON(config.ModuleItems, c, &in); !ok {
		return err
	}
	it, err := h.repo.Create(c.Context(), in)
	if err != nil {
		return h.fail(c, err)
	}
	return apperror.Created(config.ModuleItems, c, "item created", it)
}

func (h *Handler) Update(c fiber.Ctx) error {
	id, ok := itemID(c)
	if !ok {
		return apperror.BadRequest(config.ModuleItems, c, status.InvalidQueryParams, "invalid item id")
	}
	var in itemsvc.Input
	if ok, err := common.BindJSON(config.ModuleItems, c, &in); !ok {
		return err
	}
	it, err := h.repo.Update(c.Context(), id, in)
	if err != nil {
		return h.fail(c, err)
	}
	return apperror.Success(config.ModuleItems, c, "item updated", it)
}

func (h *Handler) Delete(c fiber.Ctx) error {
	id, ok := itemID(c)
	if !ok {
		return apperror.BadRequest(config.ModuleItems, c, status.InvalidQueryParams, "invalid item id")
	}
	if err := h.repo.Delete(c.Context(), id); err != nil {
		return h.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) fail(c fiber.Ctx, err error) error {
	if errors.Is(err, itemsvc.ErrNotFound) {
		return apperror.NotFound(config.ModuleItems, c, status.ItemNotFound, "Item not found")
	}
	return apperror.InternalError(config.ModuleItems, c, status.New(status.ItemStoreFailed, err))
}

func itemID(c fiber.Ctx) (int64, bool) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	return id, err == nil && id > 0
}
