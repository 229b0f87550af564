package http

import (
	in "helios_server/core/port/in"

	"github.com/gofiber/fiber/v2"
)

// AllowlistHandler serves the versioned allowlist snapshot.
type AllowlistHandler struct {
	service in.AllowlistService
}

// NewAllowlistHandler creates a new AllowlistHandler.
func NewAllowlistHandler(service in.AllowlistService) *AllowlistHandler {
	return &AllowlistHandler{service: service}
}

// Register registers allowlist routes.
func (h *AllowlistHandler) Register(router fiber.Router) {
	router.Get("/allowlist", h.Get)
}

// Get returns the snapshot, honoring the ifNoneMatch validator.
func (h *AllowlistHandler) Get(c *fiber.Ctx) error {
	ifNoneMatch := c.Query("ifNoneMatch")
	if ifNoneMatch == "" {
		ifNoneMatch = c.Get("If-None-Match")
	}

	result, err := h.service.Snapshot(c.UserContext(), ifNoneMatch)
	if err != nil {
		return err
	}

	c.Set("ETag", result.ETag)

	if result.NotModified {
		return c.JSON(fiber.Map{
			"not_modified": true,
			"etag":         result.ETag,
		})
	}

	return c.JSON(fiber.Map{
		"emails":       result.Snapshot.Emails,
		"domains":      result.Snapshot.Domains,
		"etag":         result.ETag,
		"version":      result.Snapshot.Version,
		"generated_at": result.Snapshot.GeneratedAt,
	})
}
