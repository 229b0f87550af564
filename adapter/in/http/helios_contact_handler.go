package http

import (
	"strings"

	"helios_server/core/domain"
	in "helios_server/core/port/in"
	"helios_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

// ContactHandler handles client CRUD and attendee lookup.
type ContactHandler struct {
	service in.ContactService
}

// NewContactHandler creates a new ContactHandler.
func NewContactHandler(service in.ContactService) *ContactHandler {
	return &ContactHandler{service: service}
}

// Register registers contact routes.
func (h *ContactHandler) Register(router fiber.Router) {
	clients := router.Group("/clients")
	clients.Get("/", h.List)
	clients.Post("/", h.Create)
	clients.Get("/:id", h.Get)
	clients.Patch("/:id", h.Patch)
	clients.Delete("/:id", h.Delete)

	router.Get("/contacts/lookup-by-attendees", h.LookupByAttendees)
}

// RegisterAdmin registers admin-gated contact routes.
func (h *ContactHandler) RegisterAdmin(router fiber.Router, gate fiber.Handler) {
	router.Post("/contacts/allowlist/cleanup", gate, h.CleanupAllowlist)
}

// List lists clients.
func (h *ContactHandler) List(c *fiber.Ctx) error {
	page := GetPaginationParams(c, 100)
	filter := &domain.ClientFilter{
		Search:        c.Query("search"),
		IncludeHidden: c.QueryBool("include_hidden", false),
		Limit:         page.Limit,
		Offset:        page.Offset,
	}

	clients, total, err := h.service.ListClients(c.UserContext(), filter)
	if err != nil {
		return err
	}
	if clients == nil {
		clients = []*domain.Client{}
	}

	return c.JSON(NewListResponse(clients, total, page.Offset, page.Limit))
}

// Create creates or updates a client.
func (h *ContactHandler) Create(c *fiber.Ctx) error {
	var req in.UpsertClientRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}

	client, err := h.service.UpsertClient(c.UserContext(), &req)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(client)
}

// Get retrieves a client with its allowlist sets.
func (h *ContactHandler) Get(c *fiber.Ctx) error {
	client, err := h.service.GetClient(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(client)
}

// Patch updates a client in place.
func (h *ContactHandler) Patch(c *fiber.Ctx) error {
	var req in.UpsertClientRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}

	client, err := h.service.PatchClient(c.UserContext(), c.Params("id"), &req)
	if err != nil {
		return err
	}
	return c.JSON(client)
}

// Delete soft-deletes a client.
func (h *ContactHandler) Delete(c *fiber.Ctx) error {
	if err := h.service.DeleteClient(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// LookupByAttendees scores probable clients for a set of attendee emails.
func (h *ContactHandler) LookupByAttendees(c *fiber.Ctx) error {
	raw := c.Query("emails")
	if raw == "" {
		return apperr.MissingField("emails")
	}

	var emails []string
	for _, e := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(e); s != "" {
			emails = append(emails, s)
		}
	}

	matches, err := h.service.LookupByAttendees(c.UserContext(), emails)
	if err != nil {
		return err
	}
	if matches == nil {
		matches = []in.AttendeeMatch{}
	}

	return c.JSON(fiber.Map{"matches": matches})
}

// CleanupAllowlist runs the admin allowlist cleanup.
func (h *ContactHandler) CleanupAllowlist(c *fiber.Ctx) error {
	result, err := h.service.CleanupAllowlist(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(result)
}
