package schedule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"helios_server/config"
	"helios_server/core/domain"
	in "helios_server/core/port/in"
	"helios_server/core/port/out"
	"helios_server/pkg/apperr"
	"helios_server/pkg/logger"
)

const generatorVersion = "v1"

// Service implements in.ScheduleService.
type Service struct {
	calendar out.CalendarProviderPort
	tasks    out.TaskSourcePort
	cfg      *config.ScheduleConfig
	loc      *time.Location
	timezone string

	fixedCalendarID    string
	flexibleCalendarID string
}

// NewService creates a new schedule service.
func NewService(
	calendar out.CalendarProviderPort,
	tasks out.TaskSourcePort,
	cfg *config.ScheduleConfig,
	loc *time.Location,
	timezone string,
	fixedCalendarID, flexibleCalendarID string,
) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		calendar:           calendar,
		tasks:              tasks,
		cfg:                cfg,
		loc:                loc,
		timezone:           timezone,
		fixedCalendarID:    fixedCalendarID,
		flexibleCalendarID: flexibleCalendarID,
	}
}

// Plan runs the block scheduler over the window and optionally applies the
// blocks to the flexible calendar.
func (s *Service) Plan(ctx context.Context, req *in.PlanRequest) ([]*in.DayPlan, error) {
	if req.Days <= 0 {
		return nil, apperr.InvalidInput("days", "must be positive")
	}

	grouped, err := s.tasks.FetchGrouped(ctx)
	if err != nil {
		return nil, apperr.UpstreamError("tasks", err)
	}

	busies := func(day time.Time) ([]domain.Interval, error) {
		if s.fixedCalendarID == "" {
			return nil, nil
		}
		events, err := s.calendar.ListEvents(ctx, s.fixedCalendarID, day, day.AddDate(0, 0, 1))
		if err != nil {
			return nil, err
		}
		intervals := make([]domain.Interval, 0, len(events))
		for _, e := range events {
			if !e.End.After(e.Start) {
				continue
			}
			intervals = append(intervals, domain.Interval{Start: e.Start, End: e.End})
		}
		return intervals, nil
	}

	scheduler := NewScheduler(s.cfg, s.loc)
	plans := scheduler.PlanWindow(req.Start, req.Days, busies, grouped)

	if req.Apply {
		if err := s.apply(ctx, req, plans); err != nil {
			return plans, err
		}
	}

	return plans, nil
}

// apply writes the planned blocks to the flexible calendar, optionally
// clearing previously generated events in the window first.
func (s *Service) apply(ctx context.Context, req *in.PlanRequest, plans []*in.DayPlan) error {
	if s.flexibleCalendarID == "" {
		return apperr.ConfigError("FLEXIBLE_CALENDAR_ID not configured")
	}

	if req.PreClear {
		windowStart := time.Date(req.Start.Year(), req.Start.Month(), req.Start.Day(), 0, 0, 0, 0, s.loc)
		windowEnd := windowStart.AddDate(0, 0, req.Days)
		events, err := s.calendar.ListEvents(ctx, s.flexibleCalendarID, windowStart, windowEnd)
		if err != nil {
			return apperr.UpstreamError("calendar", err)
		}
		for _, e := range events {
			if e.Private[out.PropGenerated] != "true" {
				continue
			}
			if err := s.calendar.DeleteEvent(ctx, s.flexibleCalendarID, e.ID); err != nil {
				logger.WithError(err).Warn("failed to clear generated event %s", e.ID)
			}
		}
	}

	for _, plan := range plans {
		for _, block := range plan.Blocks {
			event := &out.CalendarEvent{
				Summary:     block.Summary(),
				Description: block.Description(),
				Start:       block.Start.UTC(),
				End:         block.End.UTC(),
				Private: map[string]string{
					out.PropGenerated: "true",
					out.PropVersion:   generatorVersion,
					out.PropBlockType: string(block.Bucket),
					out.PropTaskIDs:   strings.Join(block.TaskIDs, ","),
					out.PropIdem:      block.IdempotencyKey(),
				},
			}
			if _, err := s.calendar.InsertEvent(ctx, s.flexibleCalendarID, event); err != nil {
				return apperr.UpstreamError("calendar", err)
			}
		}
	}

	return nil
}

// Reflow shortens the generated block containing now and fills the freed time
// with the next tasks from the same bucket.
func (s *Service) Reflow(ctx context.Context, now time.Time, minChunk, perTaskCap int) (*in.ReflowResult, error) {
	if s.flexibleCalendarID == "" {
		return nil, apperr.ConfigError("FLEXIBLE_CALENDAR_ID not configured")
	}
	if minChunk <= 0 {
		minChunk = 15
	}

	events, err := s.calendar.ListEvents(ctx, s.flexibleCalendarID, now.Add(-6*time.Hour), now.Add(6*time.Hour))
	if err != nil {
		return nil, apperr.UpstreamError("calendar", err)
	}

	var current *out.CalendarEvent
	for _, e := range events {
		if e.Start.IsZero() || e.End.IsZero() {
			continue
		}
		if e.Start.After(now) || !e.End.After(now) {
			continue
		}
		if e.Private[out.PropGenerated] != "true" {
			continue
		}
		current = e
		break
	}
	if current == nil {
		return &in.ReflowResult{Reflowed: false, Reason: "no_current_block"}, nil
	}

	remaining := int(current.End.Sub(now) / time.Minute)
	if remaining < minChunk {
		return &in.ReflowResult{Reflowed: false, Reason: "below_min_chunk", EventID: current.ID, Minutes: remaining}, nil
	}

	bucket := domain.Bucket(strings.TrimSpace(current.Private[out.PropBlockType]))
	if bucket == "" {
		return &in.ReflowResult{Reflowed: false, Reason: "missing_block_type", EventID: current.ID}, nil
	}

	exclude := make(map[string]bool)
	for _, id := range strings.Split(current.Private[out.PropTaskIDs], ",") {
		if id != "" {
			exclude[id] = true
		}
	}

	grouped, err := s.tasks.FetchGrouped(ctx)
	if err != nil {
		return nil, apperr.UpstreamError("tasks", err)
	}

	taskIDs, taskTitles := pickNextTasks(grouped[bucket], remaining, exclude, perTaskCap)
	if len(taskIDs) == 0 {
		return &in.ReflowResult{Reflowed: false, Reason: "no_candidates", EventID: current.ID, Bucket: string(bucket)}, nil
	}

	newBlock := &domain.Block{
		Start:      now,
		End:        current.End,
		Bucket:     bucket,
		TaskIDs:    taskIDs,
		TaskTitles: taskTitles,
	}

	// Shorten the current block to end now, then insert the replacement.
	end := now
	if err := s.calendar.PatchEvent(ctx, s.flexibleCalendarID, current.ID, &out.CalendarEventPatch{End: &end}); err != nil {
		return nil, apperr.UpstreamError("calendar", err)
	}

	created, err := s.calendar.InsertEvent(ctx, s.flexibleCalendarID, &out.CalendarEvent{
		Summary:     newBlock.Summary(),
		Description: reflowDescription(bucket, taskIDs, taskTitles),
		Start:       now.UTC(),
		End:         newBlock.End.UTC(),
		Private: map[string]string{
			out.PropGenerated: "true",
			out.PropVersion:   generatorVersion,
			out.PropBlockType: string(bucket),
			out.PropTaskIDs:   strings.Join(taskIDs, ","),
			out.PropIdem:      fmt.Sprintf("reflow:%s:%s", bucket, now.UTC().Format(time.RFC3339)),
		},
	})
	if err != nil {
		return nil, apperr.UpstreamError("calendar", err)
	}

	return &in.ReflowResult{
		Reflowed:   true,
		EventID:    current.ID,
		NewEventID: created.ID,
		Bucket:     string(bucket),
		TaskIDs:    taskIDs,
		Minutes:    remaining,
	}, nil
}

// pickNextTasks fills ~minutes from the bucket in stable order, skipping
// excluded ids. Per-task contribution is capped by perTaskCap when positive.
func pickNextTasks(candidates []domain.FlexTask, minutes int, exclude map[string]bool, perTaskCap int) ([]string, []string) {
	var ids, titles []string
	needed := minutes

	for _, t := range candidates {
		if needed <= 0 {
			break
		}
		if t.ID == "" || exclude[t.ID] || t.RemainingMinutes <= 0 {
			continue
		}

		take := t.RemainingMinutes
		if take > needed {
			take = needed
		}
		if perTaskCap > 0 && take > perTaskCap {
			take = perTaskCap
		}
		if take <= 0 {
			continue
		}

		ids = append(ids, t.ID)
		titles = append(titles, t.Title)
		needed -= take
	}

	return ids, titles
}

func reflowDescription(bucket domain.Bucket, ids, titles []string) string {
	var sb strings.Builder
	sb.WriteString("Auto-reflowed block (finished early).\n")
	sb.WriteString("Bucket: " + string(bucket) + "\n")
	sb.WriteString("Pulled forward:\n")
	for i, id := range ids {
		title := ""
		if i < len(titles) {
			title = titles[i]
		}
		sb.WriteString("  - " + id + " :: " + title + "\n")
	}
	return sb.String()
}

// Today returns the blocks drawn from the calendars for the current local
// day. Calendar failures degrade to an empty mock payload with the error.
func (s *Service) Today(ctx context.Context, now time.Time) (*in.TodayResponse, error) {
	local := now.In(s.loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)

	resp := &in.TodayResponse{
		Date:           dayStart.Format("2006-01-02"),
		Timezone:       s.timezone,
		Now:            local.Format(time.RFC3339),
		CalendarSource: "google",
		Blocks:         []*in.ScheduleBlockView{},
	}

	var calendarIDs []string
	for _, id := range []string{s.flexibleCalendarID, s.fixedCalendarID} {
		if id != "" {
			calendarIDs = append(calendarIDs, id)
		}
	}
	if len(calendarIDs) == 0 {
		calendarIDs = []string{"primary"}
	}

	// Buffer around midnight avoids timezone edges and cross-midnight events.
	windowStart := dayStart.Add(-2 * time.Hour)
	windowEnd := dayStart.Add(24*time.Hour + 4*time.Hour)

	for _, calID := range calendarIDs {
		events, err := s.calendar.ListEvents(ctx, calID, windowStart, windowEnd)
		if err != nil {
			resp.CalendarSource = "mock_fallback"
			resp.Error = err.Error()
			logger.WithError(err).Warn("schedule/today: calendar %s unavailable", calID)
			continue
		}

		for _, ev := range events {
			isBlock := ev.Private[out.PropGenerated] == "true" ||
				strings.HasPrefix(ev.Summary, "[BLOCK]")
			if !isBlock {
				continue
			}

			extended := map[string]string{"calendar_id": calID}
			for k, v := range ev.Private {
				extended[k] = v
			}

			var taskIDs []string
			for _, id := range strings.Split(ev.Private[out.PropTaskIDs], ",") {
				if id != "" {
					taskIDs = append(taskIDs, id)
				}
			}
			if taskIDs == nil {
				taskIDs = []string{}
			}

			blockContext := domain.ContextFromTitle(ev.Summary)
			if bucket := ev.Private[out.PropBlockType]; bucket != "" {
				blockContext = contextFromBucket(domain.Bucket(bucket))
			}

			resp.Blocks = append(resp.Blocks, &in.ScheduleBlockView{
				ID:              ev.ID,
				Title:           strings.TrimSpace(strings.Replace(ev.Summary, "[BLOCK]", "", 1)),
				Context:         blockContext,
				CalendarEventID: ev.ID,
				CalendarURL:     ev.HTMLLink,
				Start:           ev.Start.In(s.loc).Format(time.RFC3339),
				End:             ev.End.In(s.loc).Format(time.RFC3339),
				AssignedTaskIDs: taskIDs,
				Notes:           strings.TrimSpace(ev.Description),
				Extended:        extended,
			})
		}
	}

	return resp, nil
}

func contextFromBucket(bucket domain.Bucket) domain.BlockContext {
	switch bucket {
	case domain.BucketClientDeepWork, domain.BucketSystemsDev:
		return domain.ContextDeepWork
	case domain.BucketAdminProcessing:
		return domain.ContextAdmin
	case domain.BucketPersonal:
		return domain.ContextPersonal
	case domain.BucketMarketingCreative:
		return domain.ContextComm
	default:
		return domain.ContextComm
	}
}

// Ensure interface compliance
var _ in.ScheduleService = (*Service)(nil)
