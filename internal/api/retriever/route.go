package retriever

import "github.com/gofiber/fiber/v3"

func RegisterRoutes(r fiber.Router, h *Handler) {
	grp := r.Group("/retrievers/collections/:name")

	grp.Post("/mmr", h.MMR)
	grp.Post("/retrieve", h.Retrieve)
}
