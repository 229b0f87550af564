package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"helios_server/core/domain"

	"gopkg.in/yaml.v3"
)

// ScheduleConfig drives the block scheduler. Values come from an optional yaml
// file layered over the coded defaults.
type ScheduleConfig struct {
	// Core working window, minutes from midnight local time.
	CoreStartMin int
	CoreEndMin   int

	// Per-weekday personal windows, minutes from midnight.
	PersonalWindows map[time.Weekday][]MinuteWindow

	// Blocks per week per bucket; scaled to the planning window.
	WeeklyWeights map[domain.Bucket]int

	// Duration band per bucket, minutes.
	DurationMin map[domain.Bucket]int
	DurationMax map[domain.Bucket]int

	// Allowed time-of-day placements per bucket.
	Placements map[domain.Bucket][]string

	// Hard rules.
	CapBlocksPerDay      map[domain.Bucket]int
	MinContiguousSystems int
}

// MinuteWindow is a [Start, End) window in minutes from midnight.
type MinuteWindow struct {
	StartMin int
	EndMin   int
}

// Time-of-day placement categories.
const (
	PlacementMorning        = "morning"
	PlacementMidMorning     = "mid_morning"
	PlacementEarlyAfternoon = "early_afternoon"
	PlacementAfternoon      = "afternoon"
	PlacementLateAfternoon  = "late_afternoon"
	PlacementGaps           = "gaps"
	PlacementPersonalWindow = "personal_window"
)

// DefaultScheduleConfig returns the built-in scheduling rules.
func DefaultScheduleConfig() *ScheduleConfig {
	return &ScheduleConfig{
		CoreStartMin: 9 * 60,
		CoreEndMin:   17*60 + 30,
		PersonalWindows: map[time.Weekday][]MinuteWindow{
			time.Monday:    {{7 * 60, 8*60 + 30}, {17*60 + 30, 19 * 60}},
			time.Tuesday:   {{7 * 60, 8*60 + 30}, {17*60 + 30, 19 * 60}},
			time.Wednesday: {{7 * 60, 8*60 + 30}, {17*60 + 30, 19 * 60}},
			time.Thursday:  {{7 * 60, 8*60 + 30}, {17*60 + 30, 19 * 60}},
			time.Friday:    {{7 * 60, 8*60 + 30}, {17*60 + 30, 19 * 60}},
			time.Saturday:  {{9 * 60, 12 * 60}},
			time.Sunday:    {{9 * 60, 12 * 60}},
		},
		WeeklyWeights: map[domain.Bucket]int{
			domain.BucketClientDeepWork:    5,
			domain.BucketSystemsDev:        3,
			domain.BucketMarketingCreative: 3,
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
			domain.BucketPersonal:          90,
		},
		Placements: map[domain.Bucket][]string{
			domain.BucketClientDeepWork:    {PlacementMorning, PlacementMidMorning, PlacementEarlyAfternoon, PlacementAfternoon},
			domain.BucketSystemsDev:        {PlacementMorning, PlacementMidMorning},
			domain.BucketMarketingCreative: {PlacementEarlyAfternoon, PlacementAfternoon},
			domain.BucketAdminProcessing:   {PlacementLateAfternoon, PlacementGaps},
			domain.BucketPersonal:          {PlacementPersonalWindow},
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

// yaml wire shape
type scheduleYAML struct {
	CoreHours struct {
		Start string `yaml:"start"`
		End   string `yaml:"end"`
	} `yaml:"core_hours"`
	PersonalWindows map[string][][]string `yaml:"personal_windows"`
	WeeklyWeights   map[string]int        `yaml:"weekly_weights"`
	Durations       map[string]struct {
		Min int `yaml:"min"`
		Max int `yaml:"max"`
	} `yaml:"durations"`
	Placements map[string][]string `yaml:"placements"`
	HardRules  struct {
		MinContiguousMinutesForSystems int            `yaml:"min_contiguous_minutes_for_systems"`
		CapBlocksPerDay                map[string]int `yaml:"cap_blocks_per_day"`
	} `yaml:"hard_rules"`
}

var weekdayNames = map[string]time.Weekday{
	"mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday, "sun": time.Sunday,
}

// LoadScheduleConfig reads the yaml file at path over the defaults. An empty
// path returns the defaults unchanged.
func LoadScheduleConfig(path string) (*ScheduleConfig, error) {
	cfg := DefaultScheduleConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schedule config: %w", err)
	}

	var y scheduleYAML
	if err := yaml.Unmarshal(data, &y); err != nil {
		return nil, fmt.Errorf("parse schedule config: %w", err)
	}

	if y.CoreHours.Start != "" {
		if cfg.CoreStartMin, err = parseClock(y.CoreHours.Start); err != nil {
			return nil, err
		}
	}
	if y.CoreHours.End != "" {
		if cfg.CoreEndMin, err = parseClock(y.CoreHours.End); err != nil {
			return nil, err
		}
	}

	if len(y.PersonalWindows) > 0 {
		windows := make(map[time.Weekday][]MinuteWindow)
		for name, pairs := range y.PersonalWindows {
			day, ok := weekdayNames[strings.ToLower(name)]
			if !ok {
				return nil, fmt.Errorf("unknown weekday %q in personal_windows", name)
			}
			for _, pair := range pairs {
				if len(pair) != 2 {
					return nil, fmt.Errorf("personal window for %s must be [start, end]", name)
				}
				start, err := parseClock(pair[0])
				if err != nil {
					return nil, err
				}
				end, err := parseClock(pair[1])
				if err != nil {
					return nil, err
				}
				windows[day] = append(windows[day], MinuteWindow{StartMin: start, EndMin: end})
			}
		}
		cfg.PersonalWindows = windows
	}

	for name, w := range y.WeeklyWeights {
		if !domain.ValidBucket(name) {
			return nil, fmt.Errorf("unknown bucket %q in weekly_weights", name)
		}
		cfg.WeeklyWeights[domain.Bucket(name)] = w
	}
	for name, d := range y.Durations {
		if !domain.ValidBucket(name) {
			return nil, fmt.Errorf("unknown bucket %q in durations", name)
		}
		if d.Min > 0 {
			cfg.DurationMin[domain.Bucket(name)] = d.Min
		}
		if d.Max > 0 {
			cfg.DurationMax[domain.Bucket(name)] = d.Max
		}
	}
	for name, p := range y.Placements {
		if !domain.ValidBucket(name) {
			return nil, fmt.Errorf("unknown bucket %q in placements", name)
		}
		cfg.Placements[domain.Bucket(name)] = p
	}
	for name, n := range y.HardRules.CapBlocksPerDay {
		if !domain.ValidBucket(name) {
			return nil, fmt.Errorf("unknown bucket %q in cap_blocks_per_day", name)
		}
		cfg.CapBlocksPerDay[domain.Bucket(name)] = n
	}
	if y.HardRules.MinContiguousMinutesForSystems > 0 {
		cfg.MinContiguousSystems = y.HardRules.MinContiguousMinutesForSystems
	}

	return cfg, nil
}

// parseClock converts "HH:MM" to minutes from midnight.
func parseClock(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock value %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid clock value %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid clock value %q", s)
	}
	return h*60 + m, nil
}
