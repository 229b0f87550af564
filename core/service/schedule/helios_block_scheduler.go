// Package schedule implements the contextual block scheduler, the reflow
// controller and the today read model.
package schedule

import (
	"sort"
	"time"

	"helios_server/config"
	"helios_server/core/domain"
	in "helios_server/core/port/in"
	"helios_server/pkg/logger"
)

const minCursorMinutes = 30

// BusyFetcher returns the fixed busy intervals for one day (local midnight).
type BusyFetcher func(day time.Time) ([]domain.Interval, error)

// Scheduler computes block placements over a planning window. One Scheduler
// instance serves one Plan call; it is not safe for concurrent reuse.
type Scheduler struct {
	cfg *config.ScheduleConfig
	loc *time.Location

	// window-level state
	scaled    map[domain.Bucket]int
	scheduled map[domain.Bucket]int
	tasks     map[domain.Bucket][]*taskState
}

type taskState struct {
	id        string
	title     string
	remaining int
}

// NewScheduler creates a scheduler over the given rules and local timezone.
func NewScheduler(cfg *config.ScheduleConfig, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{cfg: cfg, loc: loc}
}

// ScaledTarget returns ceil(weekly × days / 7) for a bucket.
func (s *Scheduler) ScaledTarget(bucket domain.Bucket, days int) int {
	weekly := s.cfg.WeeklyWeights[bucket]
	if weekly <= 0 || days <= 0 {
		return 0
	}
	return (weekly*days + 6) / 7
}

// PlanWindow computes per-day block placements for [start, start+days).
// A day whose fixed events cannot be fetched is skipped with a warning.
func (s *Scheduler) PlanWindow(start time.Time, days int, busies BusyFetcher, grouped map[domain.Bucket][]domain.FlexTask) []*in.DayPlan {
	s.scaled = make(map[domain.Bucket]int, len(domain.AllBuckets))
	s.scheduled = make(map[domain.Bucket]int, len(domain.AllBuckets))
	s.tasks = make(map[domain.Bucket][]*taskState, len(domain.AllBuckets))
	for _, b := range domain.AllBuckets {
		s.scaled[b] = s.ScaledTarget(b, days)
		for _, t := range grouped[b] {
			if t.RemainingMinutes <= 0 {
				continue
			}
			s.tasks[b] = append(s.tasks[b], &taskState{
				id:        t.ID,
				title:     t.Title,
				remaining: t.RemainingMinutes,
			})
		}
	}

	startDay := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, s.loc)

	var plans []*in.DayPlan
	for i := 0; i < days; i++ {
		day := startDay.AddDate(0, 0, i)

		busy, err := busies(day)
		if err != nil {
			logger.WithError(err).Warn("skipping day %s: failed to fetch fixed events", day.Format("2006-01-02"))
			continue
		}
		busy = mergeIntervals(busy)

		blocks := s.planDay(day, busy)
		sort.SliceStable(blocks, func(a, b int) bool { return blocks[a].Start.Before(blocks[b].Start) })

		plans = append(plans, &in.DayPlan{
			Date:   day.Format("2006-01-02"),
			Blocks: blocks,
		})
	}

	return plans
}

func (s *Scheduler) planDay(day time.Time, busy []domain.Interval) []*domain.Block {
	dayCount := make(map[domain.Bucket]int, len(domain.AllBuckets))
	var blocks []*domain.Block

	// Work placement runs on weekdays only.
	weekday := day.Weekday()
	if weekday != time.Saturday && weekday != time.Sunday {
		core := domain.Interval{
			Start: day.Add(time.Duration(s.cfg.CoreStartMin) * time.Minute),
			End:   day.Add(time.Duration(s.cfg.CoreEndMin) * time.Minute),
		}
		for _, free := range subtractIntervals(core, busy) {
			blocks = append(blocks, s.consumeWorkInterval(day, free, dayCount)...)
		}
	}

	// Personal placement runs every day inside the configured windows.
	for _, win := range s.cfg.PersonalWindows[weekday] {
		window := domain.Interval{
			Start: day.Add(time.Duration(win.StartMin) * time.Minute),
			End:   day.Add(time.Duration(win.EndMin) * time.Minute),
		}
		for _, free := range subtractIntervals(window, busy) {
			blocks = append(blocks, s.consumePersonalInterval(free, dayCount)...)
		}
	}

	return blocks
}

// consumeWorkInterval walks one free interval with a cursor, placing work
// blocks by time-of-day preference with the admin gap-filler fallback.
func (s *Scheduler) consumeWorkInterval(day time.Time, free domain.Interval, dayCount map[domain.Bucket]int) []*domain.Block {
	var blocks []*domain.Block
	cursor := free.Start

	for int(free.End.Sub(cursor)/time.Minute) >= minCursorMinutes {
		avail := int(free.End.Sub(cursor) / time.Minute)
		tod := s.timeOfDay(cursor)

		placed := false
		for _, bucket := range preferenceOrder(tod) {
			if block := s.tryPlace(bucket, day, cursor, avail, tod, dayCount); block != nil {
				blocks = append(blocks, block)
				cursor = block.End
				placed = true
				break
			}
		}
		if placed {
			continue
		}

		// Gap filler: admin work soaks up slack no preferred bucket wants.
		if block := s.tryPlace(domain.BucketAdminProcessing, day, cursor, avail, tod, dayCount); block != nil {
			blocks = append(blocks, block)
			cursor = block.End
			continue
		}

		break
	}

	return blocks
}

func (s *Scheduler) consumePersonalInterval(free domain.Interval, dayCount map[domain.Bucket]int) []*domain.Block {
	bucket := domain.BucketPersonal
	var blocks []*domain.Block
	cursor := free.Start

	for {
		avail := int(free.End.Sub(cursor) / time.Minute)
		if avail < s.cfg.DurationMin[bucket] {
			break
		}
		if s.scheduled[bucket] >= s.scaled[bucket] || dayCount[bucket] >= s.cfg.CapBlocksPerDay[bucket] {
			break
		}
		if s.remainingDemand(bucket) <= 0 {
			break
		}

		duration := avail
		if max := s.cfg.DurationMax[bucket]; max > 0 && duration > max {
			duration = max
		}

		block := s.emitBlock(bucket, cursor, duration)
		blocks = append(blocks, block)
		dayCount[bucket]++
		s.scheduled[bucket]++
		cursor = block.End
	}

	return blocks
}

// tryPlace checks every placement rule for the bucket at the cursor and emits
// the block when they all hold.
func (s *Scheduler) tryPlace(bucket domain.Bucket, day time.Time, cursor time.Time, avail int, tod string, dayCount map[domain.Bucket]int) *domain.Block {
	if s.scheduled[bucket] >= s.scaled[bucket] {
		return nil
	}
	if dayCount[bucket] >= s.cfg.CapBlocksPerDay[bucket] {
		return nil
	}

	duration := avail
	if max := s.cfg.DurationMax[bucket]; max > 0 && duration > max {
		duration = max
	}
	if duration < s.cfg.DurationMin[bucket] {
		return nil
	}
	if bucket == domain.BucketSystemsDev && duration < s.cfg.MinContiguousSystems {
		return nil
	}

	if s.remainingDemand(bucket) <= 0 {
		return nil
	}

	if !s.placementAllowed(bucket, tod) {
		return nil
	}

	if bucket == domain.BucketPersonal && !s.insidePersonalWindow(day, cursor, duration) {
		return nil
	}

	block := s.emitBlock(bucket, cursor, duration)
	dayCount[bucket]++
	s.scheduled[bucket]++
	return block
}

func (s *Scheduler) placementAllowed(bucket domain.Bucket, tod string) bool {
	for _, p := range s.cfg.Placements[bucket] {
		if p == tod || p == config.PlacementGaps {
			return true
		}
	}
	return false
}

func (s *Scheduler) insidePersonalWindow(day time.Time, cursor time.Time, duration int) bool {
	end := cursor.Add(time.Duration(duration) * time.Minute)
	for _, win := range s.cfg.PersonalWindows[day.Weekday()] {
		winStart := day.Add(time.Duration(win.StartMin) * time.Minute)
		winEnd := day.Add(time.Duration(win.EndMin) * time.Minute)
		if !cursor.Before(winStart) && !end.After(winEnd) {
			return true
		}
	}
	return false
}

// emitBlock allocates duration minutes to the bucket, draining tasks in the
// bucket's stable order. Per-task contribution is capped only by the task's
// remaining minutes.
func (s *Scheduler) emitBlock(bucket domain.Bucket, start time.Time, duration int) *domain.Block {
	block := &domain.Block{
		Start:  start,
		End:    start.Add(time.Duration(duration) * time.Minute),
		Bucket: bucket,
	}

	needed := duration
	for _, t := range s.tasks[bucket] {
		if needed <= 0 {
			break
		}
		if t.remaining <= 0 {
			continue
		}
		take := t.remaining
		if take > needed {
			take = needed
		}
		t.remaining -= take
		needed -= take
		block.TaskIDs = append(block.TaskIDs, t.id)
		block.TaskTitles = append(block.TaskTitles, t.title)
	}

	return block
}

func (s *Scheduler) remainingDemand(bucket domain.Bucket) int {
	total := 0
	for _, t := range s.tasks[bucket] {
		total += t.remaining
	}
	return total
}

// timeOfDay categorizes the start minute of a candidate interval.
func (s *Scheduler) timeOfDay(t time.Time) string {
	local := t.In(s.loc)
	minutes := local.Hour()*60 + local.Minute()
	switch {
	case minutes < 10*60+30:
		return config.PlacementMorning
	case minutes < 11*60:
		return config.PlacementMidMorning
	case minutes < 14*60+30:
		return config.PlacementEarlyAfternoon
	case minutes < 16*60+30:
		return config.PlacementAfternoon
	default:
		return config.PlacementLateAfternoon
	}
}

func preferenceOrder(tod string) []domain.Bucket {
	switch tod {
	case config.PlacementMorning, config.PlacementMidMorning:
		return []domain.Bucket{domain.BucketClientDeepWork, domain.BucketSystemsDev, domain.BucketAdminProcessing}
	case config.PlacementEarlyAfternoon, config.PlacementAfternoon:
		return []domain.Bucket{domain.BucketMarketingCreative, domain.BucketClientDeepWork, domain.BucketAdminProcessing}
	default:
		return []domain.Bucket{domain.BucketAdminProcessing, domain.BucketClientDeepWork}
	}
}

// =============================================================================
// Interval arithmetic
// =============================================================================

// mergeIntervals sorts and merges overlapping intervals.
func mergeIntervals(intervals []domain.Interval) []domain.Interval {
	if len(intervals) <= 1 {
		return intervals
	}

	sorted := make([]domain.Interval, len(intervals))
	copy(sorted, intervals)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	merged := []domain.Interval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &merged[len(merged)-1]
		if !iv.Start.After(last.End) {
			if iv.End.After(last.End) {
				last.End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}

// subtractIntervals removes the busy intervals from the clamped window,
// returning the free intervals in start order. Busy must be merged.
func subtractIntervals(window domain.Interval, busy []domain.Interval) []domain.Interval {
	if !window.End.After(window.Start) {
		return nil
	}

	var free []domain.Interval
	cursor := window.Start

	for _, b := range busy {
		if !b.End.After(cursor) || !b.Start.Before(window.End) {
			continue
		}
		if b.Start.After(cursor) {
			end := b.Start
			if end.After(window.End) {
				end = window.End
			}
			if end.After(cursor) {
				free = append(free, domain.Interval{Start: cursor, End: end})
			}
		}
		if b.End.After(cursor) {
			cursor = b.End
		}
		if !cursor.Before(window.End) {
			return free
		}
	}

	if window.End.After(cursor) {
		free = append(free, domain.Interval{Start: cursor, End: window.End})
	}
	return free
}
