package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"helios_server/core/domain"
)

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"09:00", 540, false},
		{"17:30", 1050, false},
		{"00:00", 0, false},
		{"23:59", 1439, false},
		{"24:00", 0, true},
		{"09:60", 0, true},
		{"nine", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got, err := parseClock(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseClock(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("parseClock(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestLoadScheduleConfig_Defaults(t *testing.T) {
	cfg, err := LoadScheduleConfig("")
	if err != nil {
		t.Fatal(err)
	}

	if cfg.CoreStartMin != 540 || cfg.CoreEndMin != 1050 {
		t.Errorf("core hours = %d..%d", cfg.CoreStartMin, cfg.CoreEndMin)
	}
	if cfg.MinContiguousSystems != 120 {
		t.Errorf("systems floor = %d, want 120", cfg.MinContiguousSystems)
	}
	for _, b := range domain.AllBuckets {
		if cfg.DurationMin[b] <= 0 || cfg.DurationMax[b] < cfg.DurationMin[b] {
			t.Errorf("bucket %s has invalid duration band %d..%d", b, cfg.DurationMin[b], cfg.DurationMax[b])
		}
		if len(cfg.Placements[b]) == 0 {
			t.Errorf("bucket %s has no placements", b)
		}
	}
}

func TestLoadScheduleConfig_YAMLOverrides(t *testing.T) {
	yamlBody := `
core_hours:
  start: "08:00"
  end: "16:00"
personal_windows:
  mon:
    - ["06:30", "07:30"]
  sat:
    - ["10:00", "12:00"]
weekly_weights:
  personal: 6
durations:
  systems_development:
    min: 90
    max: 150
hard_rules:
  min_contiguous_minutes_for_systems: 90
  cap_blocks_per_day:
    admin_processing: 3
`

	path := filepath.Join(t.TempDir(), "schedule.yaml")
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadScheduleConfig(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.CoreStartMin != 480 || cfg.CoreEndMin != 960 {
		t.Errorf("core hours = %d..%d, want 480..960", cfg.CoreStartMin, cfg.CoreEndMin)
	}
	if cfg.WeeklyWeights[domain.BucketPersonal] != 6 {
		t.Errorf("personal weight = %d, want 6", cfg.WeeklyWeights[domain.BucketPersonal])
	}
	if cfg.DurationMin[domain.BucketSystemsDev] != 90 || cfg.DurationMax[domain.BucketSystemsDev] != 150 {
		t.Errorf("systems band = %d..%d", cfg.DurationMin[domain.BucketSystemsDev], cfg.DurationMax[domain.BucketSystemsDev])
	}
	if cfg.MinContiguousSystems != 90 {
		t.Errorf("systems floor = %d, want 90", cfg.MinContiguousSystems)
	}
	if cfg.CapBlocksPerDay[domain.BucketAdminProcessing] != 3 {
		t.Errorf("admin cap = %d, want 3", cfg.CapBlocksPerDay[domain.BucketAdminProcessing])
	}

	mon := cfg.PersonalWindows[time.Monday]
	if len(mon) != 1 || mon[0].StartMin != 390 || mon[0].EndMin != 450 {
		t.Errorf("monday windows = %+v", mon)
	}
	sat := cfg.PersonalWindows[time.Saturday]
	if len(sat) != 1 || sat[0].StartMin != 600 {
		t.Errorf("saturday windows = %+v", sat)
	}
	// Replacing personal_windows drops days not named in the file.
	if len(cfg.PersonalWindows[time.Sunday]) != 0 {
		t.Error("sunday windows should be empty after override")
	}

	if _, err := LoadScheduleConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file must error")
	}
}

func TestLoadScheduleConfig_RejectsUnknownBucket(t *testing.T) {
	yamlBody := "weekly_weights:\n  gardening: 2\n"

	path := filepath.Join(t.TempDir(), "schedule.yaml")
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadScheduleConfig(path); err == nil {
		t.Error("unknown bucket must be rejected")
	}
}
