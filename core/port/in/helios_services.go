// Package in defines the inbound service ports exposed to the HTTP layer and
// the batch workers.
package in

import (
	"context"
	"time"

	"helios_server/core/domain"
)

// =============================================================================
// Contacts
// =============================================================================

// UpsertClientRequest creates or updates a client with its allowlist sets.
type UpsertClientRequest struct {
	ID      string                   `json:"id"`
	Name    string                   `json:"name"`
	Phone   string                   `json:"phone"`
	Notes   string                   `json:"notes"`
	Tags    []string                 `json:"tags"`
	Emails  []string                 `json:"emails"`
	Domains []domain.AllowlistDomain `json:"domains"`
}

// AttendeeMatch scores a probable client for a calendar attendee.
type AttendeeMatch struct {
	Email      string `json:"email"`
	ClientID   string `json:"client_id"`
	ClientName string `json:"client_name"`
	Score      int    `json:"score"`
}

// ContactService manages clients and attendee lookup.
type ContactService interface {
	ListClients(ctx context.Context, filter *domain.ClientFilter) ([]*domain.Client, int, error)
	GetClient(ctx context.Context, id string) (*domain.Client, error)
	UpsertClient(ctx context.Context, req *UpsertClientRequest) (*domain.Client, error)
	PatchClient(ctx context.Context, id string, req *UpsertClientRequest) (*domain.Client, error)
	DeleteClient(ctx context.Context, id string) error
	LookupByAttendees(ctx context.Context, emails []string) ([]AttendeeMatch, error)
	CleanupAllowlist(ctx context.Context) (map[string]any, error)
}

// =============================================================================
// Allowlist
// =============================================================================

// SnapshotResult wraps a snapshot read with cache-validation state.
type SnapshotResult struct {
	Snapshot    *domain.AllowlistSnapshot
	ETag        string
	NotModified bool
}

// AllowlistService decides sender admission and serves versioned snapshots.
type AllowlistService interface {
	// IsAllowed normalizes the sender and checks email, exact-domain then
	// wildcard-domain membership. The match names the client whose entry
	// admitted the sender; it is nil when the sender is not allowed.
	IsAllowed(ctx context.Context, sender string) (bool, *domain.SenderMatch, error)
	Snapshot(ctx context.Context, ifNoneMatch string) (*SnapshotResult, error)
}

// =============================================================================
// Triage (ingestion + unknown senders)
// =============================================================================

// IngestRequest is the body of POST /api/tasks/from-email.
type IngestRequest struct {
	MessageID   string  `json:"message_id"`
	Sender      string  `json:"sender"`
	Subject     string  `json:"subject"`
	Content     string  `json:"content"`
	GmailLink   *string `json:"gmail_link"`
	ThreadID    *string `json:"thread_id"`
	ReceivedTS  *int64  `json:"received_ts"`
	StartTS     *int64  `json:"start_ts"`
	DueTS       *int64  `json:"due_ts"`
	SourceLabel *string `json:"source_label"`
	DryRun      bool    `json:"dry_run"`
	Priority    string  `json:"priority"`
	ClientHint  *string `json:"client_hint"`
}

// IngestResult reports what happened to one message.
type IngestResult struct {
	HeliosTaskID *string `json:"helios_task_id"`
	Processed    bool    `json:"processed"`
	Reason       string  `json:"reason"`
}

// SweepStats summarizes one batch sweep over the triage labels.
type SweepStats struct {
	Created   int `json:"created"`
	Duplicate int `json:"duplicate"`
	Rejected  int `json:"rejected"`
	Failed    int `json:"failed"`
}

// TriageService ingests emails and runs the unknown-sender review workflow.
type TriageService interface {
	IngestEmail(ctx context.Context, req *IngestRequest) (*IngestResult, error)
	SweepOnce(ctx context.Context) (*SweepStats, error)

	RecordUnknownSender(ctx context.Context, email, messageID, subject string) (*domain.UnknownSender, error)
	ListUnknownSenders(ctx context.Context, status string, limit, offset int) ([]*domain.UnknownSender, int, error)
	ResolveUnknownSender(ctx context.Context, id string, action domain.ResolveAction, clientID string, wildcard bool) (*domain.UnknownSender, error)

	ListLatestTasks(ctx context.Context, filter *domain.EmailTaskFilter) ([]*domain.EmailTask, int, error)
}

// =============================================================================
// Schedule
// =============================================================================

// DayPlan is the scheduler output for one day.
type DayPlan struct {
	Date   string          `json:"date"`
	Blocks []*domain.Block `json:"blocks"`
}

// PlanRequest runs the block scheduler over a window.
type PlanRequest struct {
	Start    time.Time
	Days     int
	Apply    bool // write blocks to the flexible calendar
	PreClear bool // clear prior generated events in the window first
}

// ScheduleBlockView is one block of GET /api/schedule/today.
type ScheduleBlockView struct {
	ID              string              `json:"id"`
	Title           string              `json:"title"`
	Context         domain.BlockContext `json:"context"`
	CalendarEventID string              `json:"calendarEventId"`
	CalendarURL     string              `json:"calendarUrl,omitempty"`
	Start           string              `json:"start"`
	End             string              `json:"end"`
	AssignedTaskIDs []string            `json:"assignedTaskIds"`
	Notes           string              `json:"notes,omitempty"`
	Extended        map[string]string   `json:"extended,omitempty"`
}

// TodayResponse is the payload of GET /api/schedule/today.
type TodayResponse struct {
	Date           string               `json:"date"`
	Timezone       string               `json:"timezone"`
	Now            string               `json:"now"`
	CalendarSource string               `json:"calendar_source"`
	Blocks         []*ScheduleBlockView `json:"blocks"`
	Error          string               `json:"error,omitempty"`
}

// ReflowResult reports a reflow attempt.
type ReflowResult struct {
	Reflowed   bool     `json:"reflowed"`
	Reason     string   `json:"reason,omitempty"`
	EventID    string   `json:"event_id,omitempty"`
	NewEventID string   `json:"new_event_id,omitempty"`
	Bucket     string   `json:"bucket,omitempty"`
	TaskIDs    []string `json:"task_ids,omitempty"`
	Minutes    int      `json:"minutes,omitempty"`
}

// ScheduleService plans blocks, reflows the current block and serves the
// today view.
type ScheduleService interface {
	Plan(ctx context.Context, req *PlanRequest) ([]*DayPlan, error)
	Reflow(ctx context.Context, now time.Time, minChunk, perTaskCap int) (*ReflowResult, error)
	Today(ctx context.Context, now time.Time) (*TodayResponse, error)
}
