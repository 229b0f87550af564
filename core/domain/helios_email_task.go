package domain

import "time"

// EmailTask is a task materialized from an ingested email. Its ID is the
// stable message identifier from the mail source.
type EmailTask struct {
	ID          string     `json:"id"`
	ClientID    *string    `json:"client_id,omitempty"`
	Sender      string     `json:"sender"`
	Subject     string     `json:"subject"`
	Snippet     string     `json:"snippet,omitempty"`
	Body        string     `json:"body,omitempty"`
	GmailLink   *string    `json:"gmail_link,omitempty"`
	ThreadID    *string    `json:"thread_id,omitempty"`
	ReceivedAt  *time.Time `json:"received_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	SourceLabel *string    `json:"source_label,omitempty"`
	Priority    Priority   `json:"priority"`
	ClientHint  *string    `json:"client_hint,omitempty"`
	Status      string     `json:"status"`
}

// Email task statuses. Reopen resets a thread task to the open status.
const (
	EmailTaskStatusOpen = "open"
	EmailTaskStatusDone = "done"
)

// TaskType classifies how a task is scheduled.
const (
	TaskTypeFixedDate = "fixed_date"
	TaskTypeFlexible  = "flexible"
)

// TaskMeta carries scheduling annotations keyed by task id.
type TaskMeta struct {
	TaskID            string     `json:"task_id"`
	TaskType          string     `json:"task_type"`
	DeadlineType      *string    `json:"deadline_type,omitempty"`
	FixedDate         *time.Time `json:"fixed_date,omitempty"`
	CalendarBlocked   bool       `json:"calendar_blocked"`
	RecurrencePattern *string    `json:"recurrence_pattern,omitempty"`
	ClientCode        *string    `json:"client_code,omitempty"`
	StartAt           *time.Time `json:"start_at,omitempty"`
	DueAt             *time.Time `json:"due_at,omitempty"`
	Source            *string    `json:"source,omitempty"`
}

// ProcessedStatus is the outcome recorded in the idempotency ledger.
type ProcessedStatus string

const (
	ProcessedCreated       ProcessedStatus = "created"
	ProcessedDuplicate     ProcessedStatus = "duplicate"
	ProcessedRejectedAllow ProcessedStatus = "rejected_allowlist"
	ProcessedDryRun        ProcessedStatus = "dry_run"
)

// ProcessedEmail is the idempotency ledger row, unique on MessageID.
type ProcessedEmail struct {
	MessageID    string          `json:"message_id"`
	HeliosTaskID *string         `json:"helios_task_id,omitempty"`
	Status       ProcessedStatus `json:"status"`
	ReceivedAt   *time.Time      `json:"received_at,omitempty"`
	ProcessedAt  time.Time       `json:"processed_at"`
}

// ThreadTask maps a mail thread to the task that tracks it in per-thread mode.
type ThreadTask struct {
	ThreadID    string    `json:"thread_id"`
	TaskID      string    `json:"task_id"`
	LastEmailAt time.Time `json:"last_email_at"`
}

// EmailTaskFilter narrows the latest-tasks listing.
type EmailTaskFilter struct {
	Sender      string
	SourceLabel string
	Limit       int
	Offset      int
}
