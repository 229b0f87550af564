package domain

import (
	"fmt"
	"strings"
	"time"
)

// Bucket is one of the five work/personal categories a task or scheduled
// block belongs to.
type Bucket string

const (
	BucketClientDeepWork    Bucket = "client_deep_work"
	BucketSystemsDev        Bucket = "systems_development"
	BucketMarketingCreative Bucket = "marketing_creative"
	BucketAdminProcessing   Bucket = "admin_processing"
	BucketPersonal          Bucket = "personal"
)

// AllBuckets lists every bucket in stable order.
var AllBuckets = []Bucket{
	BucketClientDeepWork,
	BucketSystemsDev,
	BucketMarketingCreative,
	BucketAdminProcessing,
	BucketPersonal,
}

var bucketLabels = map[Bucket]string{
	BucketClientDeepWork:    "Client Deep Work",
	BucketSystemsDev:        "Systems Development",
	BucketMarketingCreative: "Marketing Creative",
	BucketAdminProcessing:   "Admin Processing",
	BucketPersonal:          "Personal",
}

// Label returns the human-facing name used in block summaries.
func (b Bucket) Label() string {
	if l, ok := bucketLabels[b]; ok {
		return l
	}
	return string(b)
}

// ValidBucket reports whether s names a known bucket.
func ValidBucket(s string) bool {
	_, ok := bucketLabels[Bucket(s)]
	return ok
}

// FlexTask is a flexible task the scheduler can place into a block.
type FlexTask struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Bucket           Bucket     `json:"bucket"`
	RemainingMinutes int        `json:"remaining_minutes"`
	Due              *time.Time `json:"due,omitempty"`
	Priority         *int       `json:"priority,omitempty"` // lower is more urgent
}

// Interval is a half-open [Start, End) time span.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Minutes returns the whole-minute length of the interval.
func (iv Interval) Minutes() int {
	return int(iv.End.Sub(iv.Start) / time.Minute)
}

// Block is a contiguous calendar interval dedicated to a single bucket.
type Block struct {
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Bucket     Bucket    `json:"bucket"`
	TaskIDs    []string  `json:"task_ids"`
	TaskTitles []string  `json:"task_titles"`
}

// Minutes returns the block length in whole minutes.
func (b *Block) Minutes() int {
	return int(b.End.Sub(b.Start) / time.Minute)
}

// IdempotencyKey derives the calendar write marker for the block.
func (b *Block) IdempotencyKey() string {
	return fmt.Sprintf("%s:%s", b.Bucket, b.Start.UTC().Format(time.RFC3339))
}

// Summary renders the calendar title for the block.
func (b *Block) Summary() string {
	label := b.Bucket.Label()
	dur := formatDuration(b.Minutes())
	switch len(b.TaskTitles) {
	case 0:
		return fmt.Sprintf("[BLOCK] %s (%s)", label, dur)
	case 1:
		return fmt.Sprintf("[BLOCK] %s: %s (%s)", label, b.TaskTitles[0], dur)
	case 2:
		return fmt.Sprintf("[BLOCK] %s: %s; %s (%s)", label, b.TaskTitles[0], b.TaskTitles[1], dur)
	default:
		return fmt.Sprintf("[BLOCK] %s: %s; %s +%d more (%s)",
			label, b.TaskTitles[0], b.TaskTitles[1], len(b.TaskTitles)-2, dur)
	}
}

// Description renders the calendar body listing the claimed tasks.
func (b *Block) Description() string {
	var sb strings.Builder
	sb.WriteString("Helios block.\n")
	sb.WriteString("Bucket: " + string(b.Bucket) + "\n")
	if len(b.TaskIDs) > 0 {
		sb.WriteString("Tasks:\n")
		for i, id := range b.TaskIDs {
			title := ""
			if i < len(b.TaskTitles) {
				title = b.TaskTitles[i]
			}
			sb.WriteString("  - " + id + " :: " + title + "\n")
		}
	}
	return sb.String()
}

func formatDuration(minutes int) string {
	if minutes < 0 {
		minutes = 0
	}
	h, m := minutes/60, minutes%60
	switch {
	case h > 0 && m > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case h > 0:
		return fmt.Sprintf("%dh", h)
	default:
		return fmt.Sprintf("%dm", m)
	}
}

// BlockContext is the coarse UI category inferred for a schedule block.
type BlockContext string

const (
	ContextDeepWork BlockContext = "DeepWork"
	ContextAdmin    BlockContext = "Admin"
	ContextMeeting  BlockContext = "Meeting"
	ContextPersonal BlockContext = "Personal"
	ContextComm     BlockContext = "Comm"
)

// ContextFromTitle infers the block context from an event title.
func ContextFromTitle(title string) BlockContext {
	t := strings.ToLower(title)
	switch {
	case strings.Contains(t, "deep work"):
		return ContextDeepWork
	case strings.Contains(t, "admin"):
		return ContextAdmin
	case strings.Contains(t, "meeting"):
		return ContextMeeting
	case strings.Contains(t, "school run"), strings.Contains(t, "personal"):
		return ContextPersonal
	default:
		return ContextComm
	}
}
