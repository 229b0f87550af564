package http

import (
	"time"

	in "helios_server/core/port/in"
	"helios_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

// ScheduleHandler serves the today view and drives planning/reflow.
type ScheduleHandler struct {
	service in.ScheduleService
	loc     *time.Location
}

// NewScheduleHandler creates a new ScheduleHandler.
func NewScheduleHandler(service in.ScheduleService, loc *time.Location) *ScheduleHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &ScheduleHandler{service: service, loc: loc}
}

// Register registers schedule routes.
func (h *ScheduleHandler) Register(router fiber.Router) {
	router.Get("/schedule/today", h.Today)
	router.Post("/schedule/reflow", h.Reflow)
}

// RegisterAdmin registers admin-gated schedule routes.
func (h *ScheduleHandler) RegisterAdmin(router fiber.Router, gate fiber.Handler) {
	router.Post("/schedule/plan", gate, h.Plan)
}

// Today returns today's blocks drawn from the calendars.
func (h *ScheduleHandler) Today(c *fiber.Ctx) error {
	resp, err := h.service.Today(c.UserContext(), time.Now())
	if err != nil {
		return err
	}
	return c.JSON(resp)
}

type planRequest struct {
	Start    string `json:"start"` // YYYY-MM-DD, defaults to today
	Days     int    `json:"days"`
	Apply    bool   `json:"apply"`
	PreClear bool   `json:"pre_clear"`
}

// Plan runs the block scheduler over a window.
func (h *ScheduleHandler) Plan(c *fiber.Ctx) error {
	var req planRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	if req.Days <= 0 {
		req.Days = 7
	}
	if req.Days > 31 {
		return apperr.InvalidInput("days", "must be at most 31")
	}

	start := time.Now().In(h.loc)
	if req.Start != "" {
		parsed, err := time.ParseInLocation("2006-01-02", req.Start, h.loc)
		if err != nil {
			return apperr.InvalidInput("start", "must be YYYY-MM-DD")
		}
		start = parsed
	}

	plans, err := h.service.Plan(c.UserContext(), &in.PlanRequest{
		Start:    start,
		Days:     req.Days,
		Apply:    req.Apply,
		PreClear: req.PreClear,
	})
	if err != nil {
		return err
	}
	if plans == nil {
		plans = []*in.DayPlan{}
	}

	return c.JSON(fiber.Map{"days": plans})
}

type reflowRequest struct {
	MinChunk   int `json:"min_chunk"`
	PerTaskCap int `json:"per_task_cap"`
}

// Reflow shortens the current block and pulls the next tasks forward.
func (h *ScheduleHandler) Reflow(c *fiber.Ctx) error {
	req := reflowRequest{MinChunk: 15, PerTaskCap: 60}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperr.BadRequest("invalid request body")
		}
	}

	result, err := h.service.Reflow(c.UserContext(), time.Now().UTC(), req.MinChunk, req.PerTaskCap)
	if err != nil {
		return err
	}

	return c.JSON(result)
}
