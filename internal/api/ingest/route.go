package ingest

import (
	"github.com/gofiber/fiber/v3"
)

func RegisterRoutes(r fiber.Router, h *Handler) {
	grp := r.Group("/chroma/collections/:name")

	grp.Post("/ingest", h.Ingest)
	grp.Post("/upload", h.Upload)
}
