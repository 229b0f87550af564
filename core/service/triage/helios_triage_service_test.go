package triage

import (
	"context"
	"strings"
	"testing"
	"time"

	"helios_server/adapter/out/persistence"
	"helios_server/core/domain"
	in "helios_server/core/port/in"
	"helios_server/core/port/out"
	"helios_server/pkg/apperr"
)

// =============================================================================
// Fakes
// =============================================================================

// fakeAllow implements in.AllowlistService over a fixed set.
type fakeAllow struct {
	allowed map[string]*domain.SenderMatch // normalized email -> match (nil value allowed w/o client)
	domains []string                       // wildcard domains
}

func (f *fakeAllow) IsAllowed(ctx context.Context, sender string) (bool, *domain.SenderMatch, error) {
	s := strings.ToLower(strings.TrimSpace(sender))
	if m, ok := f.allowed[s]; ok {
		return true, m, nil
	}
	at := strings.LastIndex(s, "@")
	if at >= 0 {
		dom := s[at+1:]
		for _, wd := range f.domains {
			if dom == wd || strings.HasSuffix(dom, "."+wd) {
				return true, nil, nil
			}
		}
	}
	return false, nil, nil
}

func (f *fakeAllow) Snapshot(ctx context.Context, ifNoneMatch string) (*in.SnapshotResult, error) {
	return &in.SnapshotResult{Snapshot: &domain.AllowlistSnapshot{Version: 1}}, nil
}

// fakeTaskRepo implements out.EmailTaskRepository in memory, enforcing the
// unique constraint on processed message ids.
type fakeTaskRepo struct {
	tasks     map[string]*domain.EmailTask
	meta      map[string]*domain.TaskMeta
	processed map[string]*domain.ProcessedEmail
	threads   map[string]*domain.ThreadTask
	comments  map[string]string
}

func newFakeTaskRepo() *fakeTaskRepo {
	return &fakeTaskRepo{
		tasks:     make(map[string]*domain.EmailTask),
		meta:      make(map[string]*domain.TaskMeta),
		processed: make(map[string]*domain.ProcessedEmail),
		threads:   make(map[string]*domain.ThreadTask),
		comments:  make(map[string]string),
	}
}

func (f *fakeTaskRepo) GetProcessed(ctx context.Context, messageID string) (*domain.ProcessedEmail, error) {
	return f.processed[messageID], nil
}

func (f *fakeTaskRepo) RecordProcessed(ctx context.Context, rec *domain.ProcessedEmail) error {
	if _, ok := f.processed[rec.MessageID]; ok {
		return persistence.ErrDuplicate
	}
	rec.ProcessedAt = time.Now().UTC()
	f.processed[rec.MessageID] = rec
	return nil
}

func (f *fakeTaskRepo) CreateTask(ctx context.Context, task *domain.EmailTask, meta *domain.TaskMeta, rec *domain.ProcessedEmail) error {
	if _, ok := f.processed[rec.MessageID]; ok {
		return persistence.ErrDuplicate
	}
	if _, ok := f.tasks[task.ID]; ok {
		return persistence.ErrDuplicate
	}
	task.CreatedAt = time.Now().UTC()
	task.Status = domain.EmailTaskStatusOpen
	f.tasks[task.ID] = task
	if meta != nil {
		f.meta[meta.TaskID] = meta
	}
	if task.ThreadID != nil && *task.ThreadID != "" {
		last := time.Now().UTC()
		if task.ReceivedAt != nil {
			last = *task.ReceivedAt
		}
		f.threads[*task.ThreadID] = &domain.ThreadTask{
			ThreadID:    *task.ThreadID,
			TaskID:      task.ID,
			LastEmailAt: last,
		}
	}
	return f.RecordProcessed(ctx, rec)
}

func (f *fakeTaskRepo) GetTask(ctx context.Context, id string) (*domain.EmailTask, error) {
	t, ok := f.tasks[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return t, nil
}

func (f *fakeTaskRepo) ListLatest(ctx context.Context, filter *domain.EmailTaskFilter) ([]*domain.EmailTask, int, error) {
	var result []*domain.EmailTask
	for _, t := range f.tasks {
		result = append(result, t)
	}
	return result, len(result), nil
}

func (f *fakeTaskRepo) GetThreadTask(ctx context.Context, threadID string) (*domain.ThreadTask, error) {
	return f.threads[threadID], nil
}

func (f *fakeTaskRepo) ReopenThreadTask(ctx context.Context, threadID, taskID, comment string, lastEmailAt time.Time, rec *domain.ProcessedEmail) error {
	task, ok := f.tasks[taskID]
	if !ok {
		return persistence.ErrNotFound
	}
	if err := f.RecordProcessed(ctx, rec); err != nil {
		return err
	}
	task.Status = domain.EmailTaskStatusOpen
	f.comments[taskID] += comment
	if tt := f.threads[threadID]; tt != nil {
		tt.LastEmailAt = lastEmailAt
	}
	return nil
}

// fakeUnknownRepo implements out.UnknownSenderRepository.
type fakeUnknownRepo struct {
	rows map[string]*domain.UnknownSender // key: email|message_id
}

func newFakeUnknownRepo() *fakeUnknownRepo {
	return &fakeUnknownRepo{rows: make(map[string]*domain.UnknownSender)}
}

func (f *fakeUnknownRepo) Record(ctx context.Context, email, domainName, messageID, subject string) (*domain.UnknownSender, error) {
	key := email + "|" + messageID
	if row, ok := f.rows[key]; ok {
		row.Hits++
		row.LastSeen = time.Now().UTC()
		row.LastSubject = subject
		return row, nil
	}
	row := &domain.UnknownSender{
		ID:          key,
		Email:       email,
		Domain:      domainName,
		MessageID:   messageID,
		LastSubject: subject,
		FirstSeen:   time.Now().UTC(),
		LastSeen:    time.Now().UTC(),
		Hits:        1,
		Status:      domain.UnknownStatusPending,
	}
	f.rows[key] = row
	return row, nil
}

func (f *fakeUnknownRepo) Get(ctx context.Context, id string) (*domain.UnknownSender, error) {
	row, ok := f.rows[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return row, nil
}

func (f *fakeUnknownRepo) List(ctx context.Context, status string, limit, offset int) ([]*domain.UnknownSender, int, error) {
	var result []*domain.UnknownSender
	for _, r := range f.rows {
		if status == "" || string(r.Status) == status {
			result = append(result, r)
		}
	}
	return result, len(result), nil
}

func (f *fakeUnknownRepo) Resolve(ctx context.Context, id string, action domain.ResolveAction, clientID string, wildcard bool) (*domain.UnknownSender, error) {
	row, ok := f.rows[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	if !row.Status.IsOpen() {
		return nil, persistence.ErrDuplicate
	}
	row.Resolved = true
	if action == domain.ResolveIgnore {
		row.Status = domain.UnknownStatusIgnored
	} else {
		row.Status = domain.UnknownStatusResolved
		row.MatchedClientID = &clientID
	}
	return row, nil
}

// fakeMail implements out.MailProviderPort over canned messages.
type fakeMail struct {
	labels   map[string]string            // lower name -> id
	messages map[string][]out.MailMessage // label id -> messages
}

func (f *fakeMail) ListLabels(ctx context.Context) (map[string]string, error) {
	return f.labels, nil
}

func (f *fakeMail) ForEachMessage(ctx context.Context, labelIDs map[string]string, query string, fn func(*out.MailMessage) error) error {
	seen := make(map[string]bool)
	// Deterministic order is the adapter's contract; map order is fine for
	// the fake as each assertion is order-independent.
	for name, id := range labelIDs {
		for i := range f.messages[id] {
			msg := f.messages[id][i]
			if seen[msg.ProviderID] {
				continue
			}
			seen[msg.ProviderID] = true
			msg.Label = name
			if err := fn(&msg); err != nil {
				return err
			}
		}
	}
	return nil
}

func newService(allow *fakeAllow, tasks *fakeTaskRepo, unknown *fakeUnknownRepo, mail out.MailProviderPort, threadMode string) *Service {
	return NewService(allow, tasks, unknown, mail, Config{
		TriageLabels: []string{"1- to respond"},
		LookbackDays: 30,
		ThreadMode:   threadMode,
		SweepTimeout: 5 * time.Second,
	})
}

func janeAllow() *fakeAllow {
	return &fakeAllow{
		allowed: map[string]*domain.SenderMatch{
			"jane@example.com": {ClientID: "c1", ClientName: "Example Ltd", Score: domain.MatchScoreEmail},
		},
		domains: []string{"acme.com"},
	}
}

// =============================================================================
// Scenarios
// =============================================================================

// Ingesting the same message twice yields one task and one ledger row.
func TestIngestEmail_DuplicateShortCircuits(t *testing.T) {
	tasks := newFakeTaskRepo()
	svc := newService(janeAllow(), tasks, newFakeUnknownRepo(), nil, ThreadModePerEmail)

	req := &in.IngestRequest{
		MessageID: "rfc:ABC",
		Sender:    "jane@example.com",
		Subject:   "Hi",
	}

	first, err := svc.IngestEmail(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if first.Reason != "created" {
		t.Fatalf("first reason = %q, want created", first.Reason)
	}
	if first.HeliosTaskID == nil || *first.HeliosTaskID != "rfc:ABC" {
		t.Errorf("task id = %v, want rfc:ABC", first.HeliosTaskID)
	}

	second, err := svc.IngestEmail(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if second.Reason != "duplicate" {
		t.Errorf("second reason = %q, want duplicate", second.Reason)
	}
	if second.HeliosTaskID == nil || *second.HeliosTaskID != "rfc:ABC" {
		t.Errorf("duplicate task id = %v, want rfc:ABC", second.HeliosTaskID)
	}

	if len(tasks.tasks) != 1 {
		t.Errorf("email tasks = %d, want 1", len(tasks.tasks))
	}
	if len(tasks.processed) != 1 {
		t.Errorf("processed rows = %d, want 1", len(tasks.processed))
	}
}

// A rejected sender records an unknown-sender row and a rejected ledger row,
// and creates no task.
func TestIngestEmail_RejectedRecordsUnknown(t *testing.T) {
	tasks := newFakeTaskRepo()
	unknown := newFakeUnknownRepo()
	svc := newService(janeAllow(), tasks, unknown, nil, ThreadModePerEmail)

	result, err := svc.IngestEmail(context.Background(), &in.IngestRequest{
		MessageID: "m1-rejected",
		Sender:    "eve@unknown.com",
		Subject:   "Hello",
	})
	if err != nil {
		t.Fatal(err)
	}

	if result.Reason != "rejected_allowlist" {
		t.Errorf("reason = %q, want rejected_allowlist", result.Reason)
	}
	if result.HeliosTaskID != nil {
		t.Error("rejected ingest must not return a task id")
	}
	if len(tasks.tasks) != 0 {
		t.Errorf("email tasks = %d, want 0", len(tasks.tasks))
	}

	rec := tasks.processed["m1-rejected"]
	if rec == nil || rec.Status != domain.ProcessedRejectedAllow {
		t.Fatalf("processed row = %+v, want rejected_allowlist", rec)
	}

	row := unknown.rows["eve@unknown.com|m1-rejected"]
	if row == nil {
		t.Fatal("unknown sender not recorded")
	}
	if row.Hits != 1 || row.Status != domain.UnknownStatusPending {
		t.Errorf("unknown row = hits %d status %s, want 1 pending", row.Hits, row.Status)
	}
	if row.Domain != "unknown.com" {
		t.Errorf("unknown domain = %q", row.Domain)
	}
}

// Wildcard domains admit subdomains but not lookalike TLDs.
func TestIngestEmail_WildcardDomain(t *testing.T) {
	tasks := newFakeTaskRepo()
	svc := newService(janeAllow(), tasks, newFakeUnknownRepo(), nil, ThreadModePerEmail)

	ok, err := svc.IngestEmail(context.Background(), &in.IngestRequest{
		MessageID: "m-sub-1",
		Sender:    "ops@eu.acme.com",
		Subject:   "Update",
	})
	if err != nil {
		t.Fatal(err)
	}
	if ok.Reason != "created" {
		t.Errorf("subdomain sender reason = %q, want created", ok.Reason)
	}

	denied, err := svc.IngestEmail(context.Background(), &in.IngestRequest{
		MessageID: "m-tld-1",
		Sender:    "ops@acme.co",
		Subject:   "Update",
	})
	if err != nil {
		t.Fatal(err)
	}
	if denied.Reason != "rejected_allowlist" {
		t.Errorf("lookalike sender reason = %q, want rejected_allowlist", denied.Reason)
	}
}

func TestIngestEmail_Validation(t *testing.T) {
	svc := newService(janeAllow(), newFakeTaskRepo(), newFakeUnknownRepo(), nil, ThreadModePerEmail)

	tests := []struct {
		name string
		req  *in.IngestRequest
	}{
		{"short message id", &in.IngestRequest{MessageID: "abc", Sender: "a@b.com"}},
		{"sender without at", &in.IngestRequest{MessageID: "msg-1", Sender: "nonsense"}},
		{"oversize subject", &in.IngestRequest{MessageID: "msg-1", Sender: "a@b.com", Subject: strings.Repeat("x", 501)}},
		{"bad priority", &in.IngestRequest{MessageID: "msg-1", Sender: "a@b.com", Priority: "urgent"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.IngestEmail(context.Background(), tt.req)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if apperr.GetHTTPStatus(err) != 400 {
				t.Errorf("status = %d, want 400", apperr.GetHTTPStatus(err))
			}
		})
	}
}

func TestIngestEmail_DryRun(t *testing.T) {
	tasks := newFakeTaskRepo()
	svc := newService(janeAllow(), tasks, newFakeUnknownRepo(), nil, ThreadModePerEmail)

	result, err := svc.IngestEmail(context.Background(), &in.IngestRequest{
		MessageID: "m-dry-1",
		Sender:    "jane@example.com",
		Subject:   "Hi",
		DryRun:    true,
	})
	if err != nil {
		t.Fatal(err)
	}

	if result.Reason != "dry_run" || result.Processed {
		t.Errorf("result = %+v, want dry_run unprocessed", result)
	}
	if len(tasks.tasks) != 0 || len(tasks.processed) != 0 {
		t.Error("dry run must not write")
	}
}

// Metadata timestamps materialize a task_meta row alongside the task.
func TestIngestEmail_TaskMeta(t *testing.T) {
	tasks := newFakeTaskRepo()
	svc := newService(janeAllow(), tasks, newFakeUnknownRepo(), nil, ThreadModePerEmail)

	due := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC).UnixMilli()
	_, err := svc.IngestEmail(context.Background(), &in.IngestRequest{
		MessageID: "m-meta-1",
		Sender:    "jane@example.com",
		Subject:   "VAT return",
		DueTS:     &due,
	})
	if err != nil {
		t.Fatal(err)
	}

	meta := tasks.meta["m-meta-1"]
	if meta == nil {
		t.Fatal("task meta not written")
	}
	if meta.TaskType != domain.TaskTypeFlexible {
		t.Errorf("task type = %s", meta.TaskType)
	}
	if meta.DueAt == nil || meta.DueAt.UnixMilli() != due {
		t.Errorf("due_at = %v", meta.DueAt)
	}
	if meta.Source == nil || *meta.Source != "email" {
		t.Errorf("source = %v", meta.Source)
	}
}

// In per-thread mode a later message in a known thread reopens the existing
// task; the ledger still records the new message id.
func TestIngestEmail_PerThreadReopens(t *testing.T) {
	tasks := newFakeTaskRepo()
	svc := newService(janeAllow(), tasks, newFakeUnknownRepo(), nil, ThreadModePerThread)

	thread := "thread-7"
	first, err := svc.IngestEmail(context.Background(), &in.IngestRequest{
		MessageID: "m-thread-1",
		Sender:    "jane@example.com",
		Subject:   "Question",
		ThreadID:  &thread,
	})
	if err != nil {
		t.Fatal(err)
	}
	if first.Reason != "created" {
		t.Fatalf("first reason = %q", first.Reason)
	}

	second, err := svc.IngestEmail(context.Background(), &in.IngestRequest{
		MessageID: "m-thread-2",
		Sender:    "jane@example.com",
		Subject:   "Re: Question",
		Content:   "Following up",
		ThreadID:  &thread,
	})
	if err != nil {
		t.Fatal(err)
	}

	if second.Reason != "created" {
		t.Errorf("second reason = %q, want created (appended)", second.Reason)
	}
	if second.HeliosTaskID == nil || *second.HeliosTaskID != "m-thread-1" {
		t.Errorf("second task id = %v, want the thread's task", second.HeliosTaskID)
	}

	if len(tasks.tasks) != 1 {
		t.Errorf("email tasks = %d, want 1", len(tasks.tasks))
	}
	if len(tasks.processed) != 2 {
		t.Errorf("processed rows = %d, want 2 (per-message dedupe)", len(tasks.processed))
	}
	if !strings.Contains(tasks.comments["m-thread-1"], "Re: Question") {
		t.Error("reopen comment missing the new subject")
	}
}

// Repeated rejected observations of the same (email, message_id) bump hits
// without adding rows.
func TestRecordUnknownSender_Hits(t *testing.T) {
	unknown := newFakeUnknownRepo()
	svc := newService(janeAllow(), newFakeTaskRepo(), unknown, nil, ThreadModePerEmail)

	for i := 0; i < 3; i++ {
		if _, err := svc.RecordUnknownSender(context.Background(), "Eve+x@Unknown.com", "m-unknown-1", "Hello"); err != nil {
			t.Fatal(err)
		}
	}

	if len(unknown.rows) != 1 {
		t.Fatalf("unknown rows = %d, want 1", len(unknown.rows))
	}
	row := unknown.rows["eve@unknown.com|m-unknown-1"]
	if row == nil || row.Hits != 3 {
		t.Errorf("row = %+v, want hits 3 under the normalized email", row)
	}
}

func TestResolveUnknownSender_RequiresClient(t *testing.T) {
	svc := newService(janeAllow(), newFakeTaskRepo(), newFakeUnknownRepo(), nil, ThreadModePerEmail)

	_, err := svc.ResolveUnknownSender(context.Background(), "any", domain.ResolveApproveEmail, "", false)
	if err == nil || apperr.GetHTTPStatus(err) != 400 {
		t.Errorf("expected 400 for approve without client, got %v", err)
	}
}

func TestResolveUnknownSender_OneWay(t *testing.T) {
	unknown := newFakeUnknownRepo()
	svc := newService(janeAllow(), newFakeTaskRepo(), unknown, nil, ThreadModePerEmail)

	row, err := svc.RecordUnknownSender(context.Background(), "eve@unknown.com", "m-oneway-1", "Hi")
	if err != nil {
		t.Fatal(err)
	}

	resolved, err := svc.ResolveUnknownSender(context.Background(), row.ID, domain.ResolveApproveDomain, "c1", true)
	if err != nil {
		t.Fatal(err)
	}
	if resolved.Status != domain.UnknownStatusResolved || !resolved.Resolved {
		t.Errorf("resolved row = %+v", resolved)
	}

	// A second resolve attempt conflicts.
	_, err = svc.ResolveUnknownSender(context.Background(), row.ID, domain.ResolveIgnore, "", false)
	if err == nil || apperr.GetHTTPStatus(err) != 409 {
		t.Errorf("expected 409 on re-resolve, got %v", err)
	}
}

// A sweep unions labels, dedupes messages seen under two labels and counts
// outcomes.
func TestSweepOnce(t *testing.T) {
	shared := out.MailMessage{
		ProviderID:   "p1",
		MessageID:    "rfc:shared",
		Sender:       "jane@example.com",
		Subject:      "Shared",
		InternalDate: time.Now().UnixMilli(),
	}
	mail := &fakeMail{
		labels: map[string]string{
			"1- to respond": "L1",
			"2- fyi":        "L2",
		},
		messages: map[string][]out.MailMessage{
			"L1": {
				shared,
				{ProviderID: "p2", MessageID: "rfc:fresh", Sender: "ops@eu.acme.com", Subject: "Fresh"},
			},
			"L2": {
				shared,
				{ProviderID: "p3", MessageID: "rfc:evil", Sender: "eve@unknown.com", Subject: "Spam"},
			},
		},
	}

	tasks := newFakeTaskRepo()
	svc := NewService(janeAllow(), tasks, newFakeUnknownRepo(), mail, Config{
		TriageLabels: []string{"1- To Respond", "2- FYI"},
		LookbackDays: 30,
		SweepTimeout: 5 * time.Second,
	})

	stats, err := svc.SweepOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if stats.Created != 2 {
		t.Errorf("created = %d, want 2 (shared message delivered once)", stats.Created)
	}
	if stats.Rejected != 1 {
		t.Errorf("rejected = %d, want 1", stats.Rejected)
	}
	if stats.Failed != 0 {
		t.Errorf("failed = %d, want 0", stats.Failed)
	}
	if len(tasks.tasks) != 2 {
		t.Errorf("email tasks = %d, want 2", len(tasks.tasks))
	}
}
