package http

import (
	"helios_server/core/domain"
	in "helios_server/core/port/in"
	"helios_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

// TaskHandler handles email ingestion and the unknown-sender review workflow.
type TaskHandler struct {
	service in.TriageService
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(service in.TriageService) *TaskHandler {
	return &TaskHandler{service: service}
}

// Register registers task routes.
func (h *TaskHandler) Register(router fiber.Router) {
	router.Post("/tasks/from-email", h.FromEmail)
	router.Get("/email-tasks/latest", h.Latest)
	router.Get("/unknown-senders", h.ListUnknown)
	router.Post("/unknown-senders", h.RecordUnknown)
}

// RegisterAdmin registers admin-gated task routes.
func (h *TaskHandler) RegisterAdmin(router fiber.Router, gate fiber.Handler) {
	router.Post("/unknown-senders/:id/resolve", gate, h.ResolveUnknown)
	router.Post("/ingest/sweep", gate, h.Sweep)
}

// FromEmail is the ingestion entry point. Rejections are 200-level results
// with a reason, not HTTP errors.
func (h *TaskHandler) FromEmail(c *fiber.Ctx) error {
	var req in.IngestRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}

	result, err := h.service.IngestEmail(c.UserContext(), &req)
	if err != nil {
		return err
	}

	return c.JSON(result)
}

// Latest lists ingested tasks, newest first.
func (h *TaskHandler) Latest(c *fiber.Ctx) error {
	page := GetPaginationParams(c, 50)
	filter := &domain.EmailTaskFilter{
		Sender:      c.Query("sender"),
		SourceLabel: c.Query("source_label"),
		Limit:       page.Limit,
		Offset:      page.Offset,
	}

	tasks, total, err := h.service.ListLatestTasks(c.UserContext(), filter)
	if err != nil {
		return err
	}
	if tasks == nil {
		tasks = []*domain.EmailTask{}
	}

	return c.JSON(NewListResponse(tasks, total, page.Offset, page.Limit))
}

// ListUnknown lists captured unknown senders.
func (h *TaskHandler) ListUnknown(c *fiber.Ctx) error {
	page := GetPaginationParams(c, 50)

	senders, total, err := h.service.ListUnknownSenders(c.UserContext(), c.Query("status"), page.Limit, page.Offset)
	if err != nil {
		return err
	}
	if senders == nil {
		senders = []*domain.UnknownSender{}
	}

	return c.JSON(NewListResponse(senders, total, page.Offset, page.Limit))
}

type recordUnknownRequest struct {
	Email     string `json:"email"`
	MessageID string `json:"message_id"`
	Subject   string `json:"subject"`
}

// RecordUnknown captures a rejected sender manually.
func (h *TaskHandler) RecordUnknown(c *fiber.Ctx) error {
	var req recordUnknownRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	if req.Email == "" {
		return apperr.MissingField("email")
	}
	if req.MessageID == "" {
		return apperr.MissingField("message_id")
	}

	sender, err := h.service.RecordUnknownSender(c.UserContext(), req.Email, req.MessageID, req.Subject)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(sender)
}

type resolveUnknownRequest struct {
	Action   string `json:"action"`
	ClientID string `json:"client_id"`
	Wildcard bool   `json:"wildcard"`
}

// ResolveUnknown applies a review decision to an unknown sender.
func (h *TaskHandler) ResolveUnknown(c *fiber.Ctx) error {
	var req resolveUnknownRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	if !domain.ValidResolveAction(req.Action) {
		return apperr.InvalidInput("action", "must be approve_email, approve_domain or ignore")
	}

	sender, err := h.service.ResolveUnknownSender(
		c.UserContext(), c.Params("id"), domain.ResolveAction(req.Action), req.ClientID, req.Wildcard)
	if err != nil {
		return err
	}

	return c.JSON(sender)
}

// Sweep triggers one batch ingestion sweep over the triage labels.
func (h *TaskHandler) Sweep(c *fiber.Ctx) error {
	stats, err := h.service.SweepOnce(c.UserContext())
	if err != nil {
		if stats != nil {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error": err.Error(),
				"stats": stats,
			})
		}
		return err
	}
	return c.JSON(stats)
}
