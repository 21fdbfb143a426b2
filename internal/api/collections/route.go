package collections

import "github.com/gofiber/fiber/v3"

func RegisterRoutes(r fiber.Router, h *Handler) {
	grp := r.Group("/chroma/collections")

	grp.Get("/", h.List)
	grp.Get("/:name", h.Records)
	grp.Get("/:name/info", h.Info)
	grp.Delete("/:name", h.Delete)

	grp.Post("/:name/documents", h.AddDocument)
	grp.Get("/:name/documents/:id", h.GetDocument)
	grp.Put("/:name/documents/:id", h.UpdateDocument)
	grp.Delete("/:name/documents/:id", h.DeleteDocument)
}
