package schedule

import (
	"context"
	"reflect"
	"testing"
	"time"

	"helios_server/config"
	"helios_server/core/domain"
	in "helios_server/core/port/in"
)

// Monday 2025-03-03
var monday = time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)

func minutesAt(day time.Time, h, m int) time.Time {
	return day.Add(time.Duration(h*60+m) * time.Minute)
}

func noBusies(day time.Time) ([]domain.Interval, error) {
	return nil, nil
}

func intPtr(v int) *int { return &v }

func testConfig() *config.ScheduleConfig {
	return &config.ScheduleConfig{
		CoreStartMin:    9 * 60,
		CoreEndMin:      17*60 + 30,
		PersonalWindows: map[time.Weekday][]config.MinuteWindow{},
		WeeklyWeights: map[domain.Bucket]int{
			domain.BucketClientDeepWork:    5,
			domain.BucketSystemsDev:        5,
			domain.BucketMarketingCreative: 5,
			domain.BucketAdminProcessing:   5,
			domain.BucketPersonal:          4,
		},
		DurationMin: map[domain.Bucket]int{
			domain.BucketClientDeepWork:    60,
			domain.BucketSystemsDev:        120,
			domain.BucketMarketingCreative: 45,
			domain.BucketAdminProcessing:   30,
			domain.BucketPersonal:          30,
		},
		DurationMax: map[domain.Bucket]int{
			domain.BucketClientDeepWork:    120,
			domain.BucketSystemsDev:        180,
			domain.BucketMarketingCreative: 90,
			domain.BucketAdminProcessing:   60,
			domain.BucketPersonal:          60,
		},
		Placements: map[domain.Bucket][]string{
			domain.BucketClientDeepWork:    {config.PlacementMorning, config.PlacementMidMorning, config.PlacementEarlyAfternoon, config.PlacementAfternoon},
			domain.BucketSystemsDev:        {config.PlacementMorning, config.PlacementMidMorning},
			domain.BucketMarketingCreative: {config.PlacementEarlyAfternoon, config.PlacementAfternoon},
			domain.BucketAdminProcessing:   {config.PlacementLateAfternoon, config.PlacementGaps},
			domain.BucketPersonal:          {config.PlacementPersonalWindow},
		},
		CapBlocksPerDay: map[domain.Bucket]int{
			domain.BucketClientDeepWork:    2,
			domain.BucketSystemsDev:        1,
			domain.BucketMarketingCreative: 1,
			domain.BucketAdminProcessing:   2,
			domain.BucketPersonal:          2,
		},
		MinContiguousSystems: 120,
	}
}

func tasksFor(bucket domain.Bucket, minutes int) map[domain.Bucket][]domain.FlexTask {
	return map[domain.Bucket][]domain.FlexTask{
		bucket: {{ID: "t1", Title: "Task One", Bucket: bucket, RemainingMinutes: minutes}},
	}
}

func allBlocks(plans []*in.DayPlan) []*domain.Block {
	var blocks []*domain.Block
	for _, p := range plans {
		blocks = append(blocks, p.Blocks...)
	}
	return blocks
}

func countBucket(plans []*in.DayPlan, bucket domain.Bucket) int {
	n := 0
	for _, b := range allBlocks(plans) {
		if b.Bucket == bucket {
			n++
		}
	}
	return n
}

func TestScaledTarget(t *testing.T) {
	s := NewScheduler(testConfig(), time.UTC)

	tests := []struct {
		bucket domain.Bucket
		days   int
		want   int
	}{
		{domain.BucketPersonal, 7, 4},
		{domain.BucketPersonal, 14, 8},
		{domain.BucketClientDeepWork, 1, 1}, // ceil(5/7)
		{domain.BucketClientDeepWork, 7, 5},
		{domain.BucketPersonal, 0, 0},
	}

	for _, tt := range tests {
		if got := s.ScaledTarget(tt.bucket, tt.days); got != tt.want {
			t.Errorf("ScaledTarget(%s, %d) = %d, want %d", tt.bucket, tt.days, got, tt.want)
		}
	}
}

func TestTimeOfDay_Boundaries(t *testing.T) {
	s := NewScheduler(testConfig(), time.UTC)

	tests := []struct {
		h, m int
		want string
	}{
		{9, 0, config.PlacementMorning},
		{10, 29, config.PlacementMorning},
		{10, 30, config.PlacementMidMorning},
		{10, 59, config.PlacementMidMorning},
		{11, 0, config.PlacementEarlyAfternoon},
		{14, 29, config.PlacementEarlyAfternoon},
		{14, 30, config.PlacementAfternoon},
		{16, 29, config.PlacementAfternoon},
		{16, 30, config.PlacementLateAfternoon},
		{20, 0, config.PlacementLateAfternoon},
	}

	for _, tt := range tests {
		got := s.timeOfDay(minutesAt(monday, tt.h, tt.m))
		if got != tt.want {
			t.Errorf("timeOfDay(%02d:%02d) = %s, want %s", tt.h, tt.m, got, tt.want)
		}
	}
}

// A 90-minute morning interval cannot host a systems block when the
// contiguity floor is 120 minutes; admin work soaks up the gap instead.
func TestPlanWindow_SystemsContiguityFloor(t *testing.T) {
	cfg := testConfig()
	cfg.CoreStartMin = 9 * 60
	cfg.CoreEndMin = 10*60 + 30

	grouped := map[domain.Bucket][]domain.FlexTask{
		domain.BucketSystemsDev:      {{ID: "s1", Title: "Build pipeline", RemainingMinutes: 300}},
		domain.BucketAdminProcessing: {{ID: "a1", Title: "Expenses", RemainingMinutes: 300}},
	}

	s := NewScheduler(cfg, time.UTC)
	plans := s.PlanWindow(monday, 1, noBusies, grouped)

	if n := countBucket(plans, domain.BucketSystemsDev); n != 0 {
		t.Errorf("systems blocks = %d, want 0 in a 90-minute interval", n)
	}
	if n := countBucket(plans, domain.BucketAdminProcessing); n == 0 {
		t.Error("expected admin gap-filler block in the 90-minute interval")
	}
}

// Every emitted systems block satisfies the contiguity floor.
func TestPlanWindow_SystemsBlocksAreContiguous(t *testing.T) {
	cfg := testConfig()
	grouped := map[domain.Bucket][]domain.FlexTask{
		domain.BucketSystemsDev: {{ID: "s1", Title: "Build pipeline", RemainingMinutes: 600}},
	}

	s := NewScheduler(cfg, time.UTC)
	plans := s.PlanWindow(monday, 5, noBusies, grouped)

	found := false
	for _, b := range allBlocks(plans) {
		if b.Bucket != domain.BucketSystemsDev {
			continue
		}
		found = true
		if b.Minutes() < cfg.MinContiguousSystems {
			t.Errorf("systems block of %d minutes violates %d-minute floor", b.Minutes(), cfg.MinContiguousSystems)
		}
	}
	if !found {
		t.Error("expected at least one systems block over a 5-day window")
	}
}

// Weekly weights scale to the window: personal weight 4 over 14 days caps at
// ceil(4*14/7) = 8 blocks, even with demand and slots to spare.
func TestPlanWindow_WeeklyScaling(t *testing.T) {
	cfg := testConfig()
	for d := time.Sunday; d <= time.Saturday; d++ {
		cfg.PersonalWindows[d] = []config.MinuteWindow{{StartMin: 7 * 60, EndMin: 9 * 60}}
	}

	grouped := tasksFor(domain.BucketPersonal, 100000)

	s := NewScheduler(cfg, time.UTC)
	plans := s.PlanWindow(monday, 14, noBusies, grouped)

	if n := countBucket(plans, domain.BucketPersonal); n != 8 {
		t.Errorf("personal blocks over 14 days = %d, want 8", n)
	}
}

// A free interval equal to duration_min places the block exactly.
func TestPlanWindow_ExactDurationMin(t *testing.T) {
	cfg := testConfig()
	cfg.CoreStartMin = 9 * 60
	cfg.CoreEndMin = 10 * 60

	grouped := tasksFor(domain.BucketClientDeepWork, 60)

	s := NewScheduler(cfg, time.UTC)
	plans := s.PlanWindow(monday, 1, noBusies, grouped)

	blocks := allBlocks(plans)
	if len(blocks) != 1 {
		t.Fatalf("blocks = %d, want 1", len(blocks))
	}
	b := blocks[0]
	if b.Bucket != domain.BucketClientDeepWork {
		t.Errorf("bucket = %s, want client_deep_work", b.Bucket)
	}
	if !b.Start.Equal(minutesAt(monday, 9, 0)) || !b.End.Equal(minutesAt(monday, 10, 0)) {
		t.Errorf("block span = %v..%v, want 09:00..10:00", b.Start, b.End)
	}
}

// Weekends place no work blocks; personal blocks still land inside windows up
// to the daily cap.
func TestPlanWindow_Weekend(t *testing.T) {
	cfg := testConfig()
	saturday := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	cfg.PersonalWindows[time.Saturday] = []config.MinuteWindow{{StartMin: 9 * 60, EndMin: 12 * 60}}

	grouped := map[domain.Bucket][]domain.FlexTask{
		domain.BucketClientDeepWork: {{ID: "c1", Title: "Proposal", RemainingMinutes: 600}},
		domain.BucketPersonal:       {{ID: "p1", Title: "School run", RemainingMinutes: 600}},
	}

	s := NewScheduler(cfg, time.UTC)
	plans := s.PlanWindow(saturday, 1, noBusies, grouped)

	for _, b := range allBlocks(plans) {
		if b.Bucket != domain.BucketPersonal {
			t.Errorf("weekend produced %s block", b.Bucket)
		}
	}

	personal := countBucket(plans, domain.BucketPersonal)
	if personal == 0 {
		t.Error("expected weekend personal blocks")
	}
	if personal > cfg.CapBlocksPerDay[domain.BucketPersonal] {
		t.Errorf("personal blocks = %d exceed daily cap %d", personal, cfg.CapBlocksPerDay[domain.BucketPersonal])
	}

	winStart := minutesAt(saturday, 9, 0)
	winEnd := minutesAt(saturday, 12, 0)
	for _, b := range allBlocks(plans) {
		if b.Start.Before(winStart) || b.End.After(winEnd) {
			t.Errorf("personal block %v..%v escapes window %v..%v", b.Start, b.End, winStart, winEnd)
		}
	}
}

// Per-day caps hold for every bucket.
func TestPlanWindow_DailyCaps(t *testing.T) {
	cfg := testConfig()
	grouped := map[domain.Bucket][]domain.FlexTask{
		domain.BucketClientDeepWork:  {{ID: "c1", Title: "Proposal", RemainingMinutes: 100000}},
		domain.BucketAdminProcessing: {{ID: "a1", Title: "Expenses", RemainingMinutes: 100000}},
	}

	s := NewScheduler(cfg, time.UTC)
	plans := s.PlanWindow(monday, 1, noBusies, grouped)

	for _, plan := range plans {
		perBucket := make(map[domain.Bucket]int)
		for _, b := range plan.Blocks {
			perBucket[b.Bucket]++
		}
		for bucket, n := range perBucket {
			if n > cfg.CapBlocksPerDay[bucket] {
				t.Errorf("%s: %d blocks of %s exceed cap %d", plan.Date, n, bucket, cfg.CapBlocksPerDay[bucket])
			}
		}
	}
}

// Busy events carve the core window; blocks never overlap them.
func TestPlanWindow_RespectsBusyIntervals(t *testing.T) {
	cfg := testConfig()
	grouped := tasksFor(domain.BucketClientDeepWork, 100000)

	busy := domain.Interval{Start: minutesAt(monday, 10, 0), End: minutesAt(monday, 14, 0)}
	busies := func(day time.Time) ([]domain.Interval, error) {
		return []domain.Interval{busy}, nil
	}

	s := NewScheduler(cfg, time.UTC)
	plans := s.PlanWindow(monday, 1, busies, grouped)

	for _, b := range allBlocks(plans) {
		if b.Start.Before(busy.End) && busy.Start.Before(b.End) {
			t.Errorf("block %v..%v overlaps busy %v..%v", b.Start, b.End, busy.Start, busy.End)
		}
	}
}

// A day whose fixed events cannot be fetched is skipped, not fatal.
func TestPlanWindow_SkipsFailingDay(t *testing.T) {
	cfg := testConfig()
	grouped := tasksFor(domain.BucketClientDeepWork, 100000)

	busies := func(day time.Time) ([]domain.Interval, error) {
		if day.Equal(monday) {
			return nil, context.DeadlineExceeded
		}
		return nil, nil
	}

	s := NewScheduler(cfg, time.UTC)
	plans := s.PlanWindow(monday, 2, busies, grouped)

	if len(plans) != 1 {
		t.Fatalf("day plans = %d, want 1 (failing day skipped)", len(plans))
	}
	if plans[0].Date != monday.AddDate(0, 0, 1).Format("2006-01-02") {
		t.Errorf("surviving plan date = %s", plans[0].Date)
	}
}

// Identical inputs produce identical plans.
func TestPlanWindow_Deterministic(t *testing.T) {
	cfg := testConfig()
	for d := time.Sunday; d <= time.Saturday; d++ {
		cfg.PersonalWindows[d] = []config.MinuteWindow{{StartMin: 7 * 60, EndMin: 8*60 + 30}}
	}
	grouped := map[domain.Bucket][]domain.FlexTask{
		domain.BucketClientDeepWork:    {{ID: "c1", Title: "Proposal", RemainingMinutes: 500, Priority: intPtr(1)}},
		domain.BucketSystemsDev:        {{ID: "s1", Title: "Pipeline", RemainingMinutes: 500}},
		domain.BucketMarketingCreative: {{ID: "m1", Title: "Newsletter", RemainingMinutes: 500}},
		domain.BucketAdminProcessing:   {{ID: "a1", Title: "Expenses", RemainingMinutes: 500}},
		domain.BucketPersonal:          {{ID: "p1", Title: "School run", RemainingMinutes: 500}},
	}

	first := NewScheduler(cfg, time.UTC).PlanWindow(monday, 7, noBusies, grouped)
	second := NewScheduler(cfg, time.UTC).PlanWindow(monday, 7, noBusies, grouped)

	if !reflect.DeepEqual(first, second) {
		t.Error("two runs over identical inputs produced different plans")
	}
}

func TestSubtractIntervals(t *testing.T) {
	window := domain.Interval{Start: minutesAt(monday, 9, 0), End: minutesAt(monday, 17, 0)}

	tests := []struct {
		name string
		busy []domain.Interval
		want []domain.Interval
	}{
		{
			"no busies",
			nil,
			[]domain.Interval{window},
		},
		{
			"middle busy",
			[]domain.Interval{{Start: minutesAt(monday, 12, 0), End: minutesAt(monday, 13, 0)}},
			[]domain.Interval{
				{Start: minutesAt(monday, 9, 0), End: minutesAt(monday, 12, 0)},
				{Start: minutesAt(monday, 13, 0), End: minutesAt(monday, 17, 0)},
			},
		},
		{
			"busy swallows window",
			[]domain.Interval{{Start: minutesAt(monday, 8, 0), End: minutesAt(monday, 18, 0)}},
			nil,
		},
		{
			"busy overlaps start",
			[]domain.Interval{{Start: minutesAt(monday, 8, 0), End: minutesAt(monday, 10, 0)}},
			[]domain.Interval{{Start: minutesAt(monday, 10, 0), End: minutesAt(monday, 17, 0)}},
		},
		{
			"busy outside window",
			[]domain.Interval{{Start: minutesAt(monday, 18, 0), End: minutesAt(monday, 19, 0)}},
			[]domain.Interval{window},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := subtractIntervals(window, mergeIntervals(tt.busy))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("subtractIntervals = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBlockSummary(t *testing.T) {
	start := minutesAt(monday, 9, 0)

	tests := []struct {
		name   string
		titles []string
		mins   int
		want   string
	}{
		{"no tasks", nil, 60, "[BLOCK] Client Deep Work (1h)"},
		{"one task", []string{"Proposal"}, 90, "[BLOCK] Client Deep Work: Proposal (1h 30m)"},
		{"two tasks", []string{"A", "B"}, 45, "[BLOCK] Client Deep Work: A; B (45m)"},
		{"many tasks", []string{"A", "B", "C", "D"}, 120, "[BLOCK] Client Deep Work: A; B +2 more (2h)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &domain.Block{
				Start:      start,
				End:        start.Add(time.Duration(tt.mins) * time.Minute),
				Bucket:     domain.BucketClientDeepWork,
				TaskTitles: tt.titles,
			}
			if got := b.Summary(); got != tt.want {
				t.Errorf("Summary() = %q, want %q", got, tt.want)
			}
		})
	}
}
