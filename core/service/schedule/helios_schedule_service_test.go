package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"helios_server/core/domain"
	in "helios_server/core/port/in"
	"helios_server/core/port/out"
)

// fakeCalendar implements out.CalendarProviderPort in memory.
type fakeCalendar struct {
	events  []*out.CalendarEvent
	nextID  int
	patches map[string]*out.CalendarEventPatch
	fail    bool
}

func (f *fakeCalendar) ListEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]*out.CalendarEvent, error) {
	if f.fail {
		return nil, errors.New("calendar unavailable")
	}
	var result []*out.CalendarEvent
	for _, e := range f.events {
		if e.Start.Before(timeMax) && e.End.After(timeMin) {
			result = append(result, e)
		}
	}
	return result, nil
}

func (f *fakeCalendar) InsertEvent(ctx context.Context, calendarID string, event *out.CalendarEvent) (*out.CalendarEvent, error) {
	f.nextID++
	created := *event
	created.ID = fmt.Sprintf("ev-%d", f.nextID)
	created.CalendarID = calendarID
	f.events = append(f.events, &created)
	return &created, nil
}

func (f *fakeCalendar) PatchEvent(ctx context.Context, calendarID, eventID string, patch *out.CalendarEventPatch) error {
	if f.patches == nil {
		f.patches = make(map[string]*out.CalendarEventPatch)
	}
	f.patches[eventID] = patch
	for _, e := range f.events {
		if e.ID == eventID {
			if patch.End != nil {
				e.End = *patch.End
			}
			return nil
		}
	}
	return errors.New("event not found")
}

func (f *fakeCalendar) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	for i, e := range f.events {
		if e.ID == eventID {
			f.events = append(f.events[:i], f.events[i+1:]...)
			return nil
		}
	}
	return errors.New("event not found")
}

// fakeTaskSource implements out.TaskSourcePort.
type fakeTaskSource struct {
	grouped map[domain.Bucket][]domain.FlexTask
}

func (f *fakeTaskSource) FetchGrouped(ctx context.Context) (map[domain.Bucket][]domain.FlexTask, error) {
	return f.grouped, nil
}

func newTestService(cal *fakeCalendar, tasks *fakeTaskSource) *Service {
	return NewService(cal, tasks, testConfig(), time.UTC, "UTC", "fixed-cal", "flex-cal")
}

// Reflow at 10:45 inside a 10:00-12:00 client block pulls T2 and T3 forward
// into a fresh 10:45-12:00 block and shortens the original to end at 10:45.
func TestReflow_PullsNextTasksForward(t *testing.T) {
	now := minutesAt(monday, 10, 45)

	cal := &fakeCalendar{
		events: []*out.CalendarEvent{{
			ID:      "current",
			Summary: "[BLOCK] Client Deep Work: Old",
			Start:   minutesAt(monday, 10, 0),
			End:     minutesAt(monday, 12, 0),
			Private: map[string]string{
				out.PropGenerated: "true",
				out.PropBlockType: string(domain.BucketClientDeepWork),
				out.PropTaskIDs:   "T1",
			},
		}},
	}
	tasks := &fakeTaskSource{grouped: map[domain.Bucket][]domain.FlexTask{
		domain.BucketClientDeepWork: {
			{ID: "T1", Title: "Already claimed", RemainingMinutes: 90},
			{ID: "T2", Title: "Next up", RemainingMinutes: 60},
			{ID: "T3", Title: "After that", RemainingMinutes: 30},
		},
	}}

	svc := newTestService(cal, tasks)
	result, err := svc.Reflow(context.Background(), now, 15, 60)
	if err != nil {
		t.Fatal(err)
	}

	if !result.Reflowed {
		t.Fatalf("expected reflow, got reason %q", result.Reason)
	}
	if len(result.TaskIDs) != 2 || result.TaskIDs[0] != "T2" || result.TaskIDs[1] != "T3" {
		t.Errorf("task ids = %v, want [T2 T3]", result.TaskIDs)
	}

	// Original block shortened to end now.
	patch, ok := cal.patches["current"]
	if !ok || patch.End == nil || !patch.End.Equal(now) {
		t.Errorf("current event not patched to end at %v", now)
	}

	// Replacement spans [now, old end] with a reflow idempotency marker.
	var created *out.CalendarEvent
	for _, e := range cal.events {
		if strings.HasPrefix(e.Private[out.PropIdem], "reflow:") {
			created = e
		}
	}
	if created == nil {
		t.Fatal("no reflow event created")
	}
	if !created.Start.Equal(now) || !created.End.Equal(minutesAt(monday, 12, 0)) {
		t.Errorf("reflow event span = %v..%v, want 10:45..12:00", created.Start, created.End)
	}
	if created.Private[out.PropBlockType] != string(domain.BucketClientDeepWork) {
		t.Errorf("reflow bucket = %s", created.Private[out.PropBlockType])
	}
	if created.Private[out.PropTaskIDs] != "T2,T3" {
		t.Errorf("reflow task ids = %s, want T2,T3", created.Private[out.PropTaskIDs])
	}
}

func TestReflow_BelowMinChunk(t *testing.T) {
	now := minutesAt(monday, 11, 50)

	cal := &fakeCalendar{
		events: []*out.CalendarEvent{{
			ID:      "current",
			Start:   minutesAt(monday, 10, 0),
			End:     minutesAt(monday, 12, 0),
			Private: map[string]string{
				out.PropGenerated: "true",
				out.PropBlockType: string(domain.BucketClientDeepWork),
			},
		}},
	}
	tasks := &fakeTaskSource{grouped: map[domain.Bucket][]domain.FlexTask{}}

	svc := newTestService(cal, tasks)
	result, err := svc.Reflow(context.Background(), now, 15, 60)
	if err != nil {
		t.Fatal(err)
	}

	if result.Reflowed {
		t.Error("expected no reflow with 10 minutes left")
	}
	if result.Reason != "below_min_chunk" {
		t.Errorf("reason = %q", result.Reason)
	}
	if len(cal.patches) != 0 {
		t.Error("event must not be patched on a no-op")
	}
}

func TestReflow_NoCandidates(t *testing.T) {
	now := minutesAt(monday, 10, 30)

	cal := &fakeCalendar{
		events: []*out.CalendarEvent{{
			ID:    "current",
			Start: minutesAt(monday, 10, 0),
			End:   minutesAt(monday, 12, 0),
			Private: map[string]string{
				out.PropGenerated: "true",
				out.PropBlockType: string(domain.BucketClientDeepWork),
				out.PropTaskIDs:   "T1",
			},
		}},
	}
	// The only candidate is already claimed by the current block.
	tasks := &fakeTaskSource{grouped: map[domain.Bucket][]domain.FlexTask{
		domain.BucketClientDeepWork: {{ID: "T1", Title: "Claimed", RemainingMinutes: 60}},
	}}

	svc := newTestService(cal, tasks)
	result, err := svc.Reflow(context.Background(), now, 15, 60)
	if err != nil {
		t.Fatal(err)
	}

	if result.Reflowed {
		t.Error("expected no-op without candidates")
	}
	if result.Reason != "no_candidates" {
		t.Errorf("reason = %q", result.Reason)
	}
	if len(cal.patches) != 0 {
		t.Error("event must stay unchanged without candidates")
	}
}

func TestReflow_IgnoresForeignEvents(t *testing.T) {
	now := minutesAt(monday, 10, 30)

	// A meeting without generator markers contains now; no generated block does.
	cal := &fakeCalendar{
		events: []*out.CalendarEvent{{
			ID:    "meeting",
			Start: minutesAt(monday, 10, 0),
			End:   minutesAt(monday, 11, 0),
		}},
	}
	tasks := &fakeTaskSource{grouped: map[domain.Bucket][]domain.FlexTask{}}

	svc := newTestService(cal, tasks)
	result, err := svc.Reflow(context.Background(), now, 15, 60)
	if err != nil {
		t.Fatal(err)
	}

	if result.Reflowed || result.Reason != "no_current_block" {
		t.Errorf("result = %+v, want no_current_block no-op", result)
	}
}

func TestPickNextTasks_PerTaskCap(t *testing.T) {
	candidates := []domain.FlexTask{
		{ID: "T1", Title: "Big", RemainingMinutes: 300},
		{ID: "T2", Title: "Small", RemainingMinutes: 20},
	}

	ids, _ := pickNextTasks(candidates, 75, map[string]bool{}, 60)
	if len(ids) != 2 {
		t.Fatalf("ids = %v, want both tasks (cap forces a second pick)", ids)
	}

	// Uncapped, the big task absorbs the whole window.
	ids, _ = pickNextTasks(candidates, 75, map[string]bool{}, 0)
	if len(ids) != 1 || ids[0] != "T1" {
		t.Errorf("ids = %v, want [T1]", ids)
	}
}

func TestToday_FiltersToGeneratedBlocks(t *testing.T) {
	now := minutesAt(monday, 12, 0)

	cal := &fakeCalendar{
		events: []*out.CalendarEvent{
			{
				ID:      "block1",
				Summary: "[BLOCK] Admin Processing (1h)",
				Start:   minutesAt(monday, 9, 0),
				End:     minutesAt(monday, 10, 0),
				Private: map[string]string{
					out.PropGenerated: "true",
					out.PropBlockType: string(domain.BucketAdminProcessing),
					out.PropTaskIDs:   "T1,T2",
				},
			},
			{
				ID:      "meeting",
				Summary: "1:1 with Sam",
				Start:   minutesAt(monday, 11, 0),
				End:     minutesAt(monday, 11, 30),
			},
		},
	}
	tasks := &fakeTaskSource{grouped: map[domain.Bucket][]domain.FlexTask{}}

	svc := newTestService(cal, tasks)
	resp, err := svc.Today(context.Background(), now)
	if err != nil {
		t.Fatal(err)
	}

	if resp.Date != "2025-03-03" {
		t.Errorf("date = %s", resp.Date)
	}
	// The flexible and fixed calendars both serve the same fake, so the block
	// appears once per calendar; the meeting never does.
	if len(resp.Blocks) == 0 {
		t.Fatal("expected blocks")
	}
	for _, b := range resp.Blocks {
		if b.ID == "meeting" {
			t.Error("plain meeting leaked into blocks")
		}
		if b.Context != domain.ContextAdmin {
			t.Errorf("context = %s, want Admin", b.Context)
		}
		if len(b.AssignedTaskIDs) != 2 {
			t.Errorf("assigned task ids = %v", b.AssignedTaskIDs)
		}
	}
}

func TestToday_CalendarFailureDegrades(t *testing.T) {
	cal := &fakeCalendar{fail: true}
	tasks := &fakeTaskSource{grouped: map[domain.Bucket][]domain.FlexTask{}}

	svc := newTestService(cal, tasks)
	resp, err := svc.Today(context.Background(), minutesAt(monday, 12, 0))
	if err != nil {
		t.Fatal(err)
	}

	if resp.CalendarSource != "mock_fallback" {
		t.Errorf("calendar_source = %s, want mock_fallback", resp.CalendarSource)
	}
	if resp.Error == "" {
		t.Error("expected error detail in degraded payload")
	}
	if len(resp.Blocks) != 0 {
		t.Error("degraded payload must carry no blocks")
	}
}

// Plan with apply writes one calendar event per block with the idempotency
// marker derived from bucket and start.
func TestPlan_ApplyWritesEvents(t *testing.T) {
	cfg := testConfig()
	cal := &fakeCalendar{}
	tasks := &fakeTaskSource{grouped: tasksFor(domain.BucketClientDeepWork, 240)}

	svc := NewService(cal, tasks, cfg, time.UTC, "UTC", "", "flex-cal")

	plans, err := svc.Plan(context.Background(), &in.PlanRequest{
		Start: monday,
		Days:  1,
		Apply: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	total := 0
	for _, p := range plans {
		total += len(p.Blocks)
	}
	if total == 0 {
		t.Fatal("expected planned blocks")
	}
	if len(cal.events) != total {
		t.Errorf("calendar events = %d, want %d", len(cal.events), total)
	}
	for _, e := range cal.events {
		if e.Private[out.PropGenerated] != "true" {
			t.Error("generated marker missing")
		}
		if !strings.Contains(e.Private[out.PropIdem], ":") {
			t.Errorf("idempotency marker = %q", e.Private[out.PropIdem])
		}
	}
}
