package provider

import (
	"testing"
	"time"

	"helios_server/core/domain"
)

func TestExtractAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Jane Doe <jane@example.com>", "jane@example.com"},
		{"jane@example.com", "jane@example.com"},
		{"  jane@example.com  ", "jane@example.com"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := extractAddress(tt.in); got != tt.want {
			t.Errorf("extractAddress(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStripHTML(t *testing.T) {
	in := "<html><body><p>Hello   <b>world</b></p><br/>bye</body></html>"
	want := "Hello world bye"
	if got := stripHTML(in); got != want {
		t.Errorf("stripHTML = %q, want %q", got, want)
	}
}

func TestToMillis(t *testing.T) {
	tests := []struct {
		name   string
		in     interface{}
		want   int64
		wantOK bool
	}{
		{"nil", nil, 0, true},
		{"float", float64(1700000000000), 1700000000000, true},
		{"string", "1700000000000", 1700000000000, true},
		{"garbage string", "soon", 0, false},
		{"wrong type", []string{"x"}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := toMillis(tt.in)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("toMillis(%v) = (%d, %v), want (%d, %v)", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestTaskSource_BucketOf(t *testing.T) {
	a := NewTaskSourceAdapter(&TaskSourceConfig{
		SpaceClients:  "SP1",
		SpacePersonal: "SP2",
	})

	tests := []struct {
		name string
		task taskPayload
		want domain.Bucket
	}{
		{
			"canonical tag wins",
			taskPayload{Tags: []nestedTag{{Name: "Systems"}}, Space: &nestedRef{ID: "SP1"}},
			domain.BucketSystemsDev,
		},
		{
			"space fallback",
			taskPayload{Space: &nestedRef{ID: "SP1"}},
			domain.BucketClientDeepWork,
		},
		{
			"personal space",
			taskPayload{Space: &nestedRef{ID: "SP2"}},
			domain.BucketPersonal,
		},
		{
			"default admin",
			taskPayload{},
			domain.BucketAdminProcessing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.bucketOf(tt.task); got != tt.want {
				t.Errorf("bucketOf = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestTaskSource_Flatten(t *testing.T) {
	a := NewTaskSourceAdapter(&TaskSourceConfig{})

	task := a.flatten(taskPayload{
		ID:           "t1",
		Name:         "Reconcile",
		TimeEstimate: float64(2 * 60 * 60000), // 2h
		TimeSpent:    float64(30 * 60000),     // 30m
		DueDate:      "1700000000000",
		Priority:     &nestedPrio{Priority: "2"},
	})

	if task.RemainingMinutes != 90 {
		t.Errorf("remaining = %d, want 90", task.RemainingMinutes)
	}
	if task.Priority == nil || *task.Priority != 2 {
		t.Errorf("priority = %v, want 2", task.Priority)
	}
	if task.Due == nil || task.Due.UnixMilli() != 1700000000000 {
		t.Errorf("due = %v", task.Due)
	}

	// No estimate means no remaining work, not a guessed duration.
	unestimated := a.flatten(taskPayload{ID: "t2"})
	if unestimated.RemainingMinutes != 0 {
		t.Errorf("unestimated remaining = %d, want 0", unestimated.RemainingMinutes)
	}
	if unestimated.Title != "(Untitled)" {
		t.Errorf("unestimated title = %q", unestimated.Title)
	}

	// Time spent beyond the estimate clamps at zero.
	overspent := a.flatten(taskPayload{
		ID:           "t3",
		TimeEstimate: float64(30 * 60000),
		TimeSpent:    float64(60 * 60000),
	})
	if overspent.RemainingMinutes != 0 {
		t.Errorf("overspent remaining = %d, want 0", overspent.RemainingMinutes)
	}

	// Only unparseable tracking data falls back to half an hour.
	garbled := a.flatten(taskPayload{ID: "t4", TimeEstimate: "soon"})
	if garbled.RemainingMinutes != 30 {
		t.Errorf("garbled remaining = %d, want 30", garbled.RemainingMinutes)
	}
}

func TestSortTasks(t *testing.T) {
	due1 := time.UnixMilli(1000).UTC()
	due2 := time.UnixMilli(2000).UTC()
	p1, p3 := 1, 3

	tasks := []domain.FlexTask{
		{ID: "no-prio-late-due", Due: &due2},
		{ID: "low-prio", Priority: &p3},
		{ID: "urgent-late", Priority: &p1, Due: &due2},
		{ID: "urgent-early", Priority: &p1, Due: &due1},
	}

	sortTasks(tasks)

	want := []string{"urgent-early", "urgent-late", "low-prio", "no-prio-late-due"}
	for i, id := range want {
		if tasks[i].ID != id {
			t.Errorf("tasks[%d] = %s, want %s", i, tasks[i].ID, id)
		}
	}
}
