package healthcheck

import (
	"github.com/gofiber/fiber/v3"
)

func RegisterRoutes(r fiber.Router, h *Handler) {
	r.Get("/", h.Root)
	r.Get("/health", h.Health)

	grp := r.Group("/health")
	grp.Get("/api", h.API)
	grp.Get("/vectorstore", h.VectorStore)
	grp.Get("/database", h.Database)
}
