// Package out defines the outbound ports implemented by adapters.
package out

import (
	"context"
	"time"

	"helios_server/core/domain"
)

// =============================================================================
// Store ports
// =============================================================================

// ClientRepository persists clients and their allowlist entries. Every write
// that mutates emails, domains or unknown-sender resolution bumps the
// allowlist version in the same transaction.
type ClientRepository interface {
	UpsertClient(ctx context.Context, client *domain.Client) error
	GetClient(ctx context.Context, id string) (*domain.Client, error)
	ListClients(ctx context.Context, filter *domain.ClientFilter) ([]*domain.Client, int, error)
	SoftDeleteClient(ctx context.Context, id string) error

	// SetClientEmails replaces the client's email set in one transaction.
	SetClientEmails(ctx context.Context, clientID string, emails []string) error
	// SetClientDomains replaces the client's domain set in one transaction.
	SetClientDomains(ctx context.Context, clientID string, domains []domain.AllowlistDomain) error
	AddClientEmail(ctx context.Context, clientID, email string) error
	AddClientDomain(ctx context.Context, clientID, domainName string, wildcard bool) error
	ListClientEmails(ctx context.Context, clientID string) ([]domain.ClientEmail, error)
	ListClientDomains(ctx context.Context, clientID string) ([]domain.ClientDomain, error)

	// CleanupAllowlist moves addresses mis-filed as domains into the email set
	// and deduplicates both sets, bumping the version once.
	CleanupAllowlist(ctx context.Context) (*CleanupResult, error)
}

// CleanupResult reports what an allowlist cleanup changed.
type CleanupResult struct {
	MovedToEmails int `json:"moved_to_emails"`
	DedupEmails   int `json:"dedup_emails"`
	DedupDomains  int `json:"dedup_domains"`
}

// AllowlistRepository reads the versioned allowlist.
type AllowlistRepository interface {
	// Snapshot reads emails, domains and version at one point in time.
	Snapshot(ctx context.Context) (*domain.AllowlistSnapshot, error)
	Version(ctx context.Context) (int64, error)
	// ResolveSender attributes a normalized sender to a client: exact email,
	// then exact domain, then wildcard domain. Returns nil when unmatched.
	ResolveSender(ctx context.Context, email, domainName string) (*domain.SenderMatch, error)
}

// UnknownSenderRepository is the review ledger for rejected senders.
type UnknownSenderRepository interface {
	// Record upserts on (email, message_id): new rows start pending with
	// hits=1, repeats bump hits and refresh last_seen/last_subject. Auto-match
	// against the allowlist happens in the same transaction.
	Record(ctx context.Context, email, domainName, messageID, subject string) (*domain.UnknownSender, error)
	Get(ctx context.Context, id string) (*domain.UnknownSender, error)
	List(ctx context.Context, status string, limit, offset int) ([]*domain.UnknownSender, int, error)
	// Resolve applies one of the three review actions; approvals insert the
	// allowlist row and bump the version in the same transaction.
	Resolve(ctx context.Context, id string, action domain.ResolveAction, clientID string, wildcard bool) (*domain.UnknownSender, error)
}

// EmailTaskRepository persists ingested tasks and the idempotency ledger.
type EmailTaskRepository interface {
	GetProcessed(ctx context.Context, messageID string) (*domain.ProcessedEmail, error)
	RecordProcessed(ctx context.Context, rec *domain.ProcessedEmail) error

	// CreateTask inserts the task, optional meta and the processed row in one
	// transaction. A unique violation on message id surfaces as ErrDuplicate.
	CreateTask(ctx context.Context, task *domain.EmailTask, meta *domain.TaskMeta, rec *domain.ProcessedEmail) error

	GetTask(ctx context.Context, id string) (*domain.EmailTask, error)
	ListLatest(ctx context.Context, filter *domain.EmailTaskFilter) ([]*domain.EmailTask, int, error)

	GetThreadTask(ctx context.Context, threadID string) (*domain.ThreadTask, error)
	// ReopenThreadTask resets the task status to open, appends a comment and
	// refreshes the thread mapping, recording the processed row in the same
	// transaction.
	ReopenThreadTask(ctx context.Context, threadID, taskID, comment string, lastEmailAt time.Time, rec *domain.ProcessedEmail) error
}

// =============================================================================
// Provider ports
// =============================================================================

// MailMessage is a provider-neutral view of one fetched message.
type MailMessage struct {
	// Provider-internal id (pagination/dedupe key)
	ProviderID string
	// Stable message identifier: "rfc:<Message-ID>" or "<provider>:<id>"
	MessageID    string
	ThreadID     string
	Sender       string
	Subject      string
	Snippet      string
	Body         string
	Link         string
	Label        string
	InternalDate int64 // ms since epoch
}

// MailProviderPort abstracts the mail source.
type MailProviderPort interface {
	// ListLabels maps lowercased label names to provider label ids.
	ListLabels(ctx context.Context) (map[string]string, error)
	// ForEachMessage walks messages under the labels (union, deduplicated by
	// provider id) lazily; pagination is transparent. Returning an error from
	// fn stops the walk.
	ForEachMessage(ctx context.Context, labelIDs map[string]string, query string, fn func(*MailMessage) error) error
}

// CalendarEvent is a provider-neutral calendar event. Times are UTC.
type CalendarEvent struct {
	ID          string
	CalendarID  string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	HTMLLink    string
	Private     map[string]string
}

// Private property keys the scheduler stamps on generated events.
const (
	PropGenerated = "helios_generated"
	PropVersion   = "helios_version"
	PropBlockType = "helios_block_type"
	PropTaskIDs   = "helios_task_ids"
	PropIdem      = "helios_idem"
)

// CalendarEventPatch is a partial event update; nil fields are left alone.
type CalendarEventPatch struct {
	Summary     *string
	Description *string
	Start       *time.Time
	End         *time.Time
}

// CalendarProviderPort abstracts the calendar source.
type CalendarProviderPort interface {
	ListEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]*CalendarEvent, error)
	InsertEvent(ctx context.Context, calendarID string, event *CalendarEvent) (*CalendarEvent, error)
	PatchEvent(ctx context.Context, calendarID, eventID string, patch *CalendarEventPatch) error
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
}

// TaskSourcePort returns flexible tasks grouped by bucket, each bucket sorted
// by (priority ascending, due ascending).
type TaskSourcePort interface {
	FetchGrouped(ctx context.Context) (map[domain.Bucket][]domain.FlexTask, error)
}

// SnapshotCache caches allowlist snapshots for batch consumers.
type SnapshotCache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
}
