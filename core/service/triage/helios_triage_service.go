// Package triage implements the email ingestion pipeline and the
// unknown-sender review workflow.
package triage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"helios_server/adapter/out/persistence"
	"helios_server/core/domain"
	in "helios_server/core/port/in"
	"helios_server/core/port/out"
	"helios_server/core/service/allowlist"
	"helios_server/pkg/apperr"
	"helios_server/pkg/logger"
)

// Thread modes.
const (
	ThreadModePerEmail  = "per_email"
	ThreadModePerThread = "per_thread"
)

const maxFieldLen = 500

// Config holds triage pipeline settings.
type Config struct {
	TriageLabels []string
	LookbackDays int
	ThreadMode   string
	SweepTimeout time.Duration
}

// Service implements in.TriageService.
type Service struct {
	allow   in.AllowlistService
	tasks   out.EmailTaskRepository
	unknown out.UnknownSenderRepository
	mail    out.MailProviderPort
	cfg     Config
}

// NewService creates a new triage service.
func NewService(
	allow in.AllowlistService,
	tasks out.EmailTaskRepository,
	unknown out.UnknownSenderRepository,
	mail out.MailProviderPort,
	cfg Config,
) *Service {
	if cfg.ThreadMode == "" {
		cfg.ThreadMode = ThreadModePerEmail
	}
	if cfg.SweepTimeout <= 0 {
		cfg.SweepTimeout = 60 * time.Second
	}
	return &Service{allow: allow, tasks: tasks, unknown: unknown, mail: mail, cfg: cfg}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func msToTime(ms *int64) *time.Time {
	if ms == nil || *ms <= 0 {
		return nil
	}
	t := time.UnixMilli(*ms).UTC()
	return &t
}

// IngestEmail converts one email into a task with at-most-once semantics per
// message id. Rejections still return 200-level results with a reason.
func (s *Service) IngestEmail(ctx context.Context, req *in.IngestRequest) (*in.IngestResult, error) {
	if len(req.MessageID) < 5 {
		return nil, apperr.InvalidInput("message_id", "must be at least 5 characters")
	}
	if !strings.Contains(req.Sender, "@") {
		return nil, apperr.InvalidInput("sender", "must contain '@'")
	}
	if len(req.Subject) > maxFieldLen {
		return nil, apperr.InvalidInput("subject", "must be at most 500 characters")
	}
	priority := domain.PriorityNormal
	if req.Priority != "" {
		if !domain.ValidPriority(req.Priority) {
			return nil, apperr.InvalidInput("priority", "must be low, normal or high")
		}
		priority = domain.Priority(req.Priority)
	}

	// Dedupe check against the idempotency ledger.
	existing, err := s.tasks.GetProcessed(ctx, req.MessageID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &in.IngestResult{
			HeliosTaskID: existing.HeliosTaskID,
			Processed:    true,
			Reason:       string(domain.ProcessedDuplicate),
		}, nil
	}

	receivedAt := msToTime(req.ReceivedTS)
	if receivedAt == nil {
		now := time.Now().UTC()
		receivedAt = &now
	}

	// Allowlist gate.
	allowed, match, err := s.allow.IsAllowed(ctx, req.Sender)
	if err != nil {
		return nil, err
	}
	if !allowed {
		if _, err := s.RecordUnknownSender(ctx, req.Sender, req.MessageID, req.Subject); err != nil {
			logger.WithError(err).Warn("failed to record unknown sender %s", req.Sender)
		}
		rec := &domain.ProcessedEmail{
			MessageID:  req.MessageID,
			Status:     domain.ProcessedRejectedAllow,
			ReceivedAt: receivedAt,
		}
		if err := s.tasks.RecordProcessed(ctx, rec); err != nil && !errors.Is(err, persistence.ErrDuplicate) {
			return nil, err
		}
		return &in.IngestResult{
			Processed: false,
			Reason:    string(domain.ProcessedRejectedAllow),
		}, nil
	}

	if req.DryRun {
		return &in.IngestResult{
			Processed: false,
			Reason:    string(domain.ProcessedDryRun),
		}, nil
	}

	// Per-thread mode: a later message in a known thread reopens the existing
	// task instead of creating a new one. The ledger still dedupes per message.
	if s.cfg.ThreadMode == ThreadModePerThread && req.ThreadID != nil && *req.ThreadID != "" {
		tt, err := s.tasks.GetThreadTask(ctx, *req.ThreadID)
		if err != nil {
			return nil, err
		}
		if tt != nil {
			return s.appendToThread(ctx, req, tt, receivedAt)
		}
	}

	task := &domain.EmailTask{
		ID:          req.MessageID,
		Sender:      req.Sender,
		Subject:     truncate(req.Subject, maxFieldLen),
		Snippet:     truncate(req.Content, maxFieldLen),
		Body:        req.Content,
		GmailLink:   req.GmailLink,
		ThreadID:    req.ThreadID,
		ReceivedAt:  receivedAt,
		SourceLabel: req.SourceLabel,
		Priority:    priority,
		ClientHint:  req.ClientHint,
	}
	if match != nil {
		id := match.ClientID
		task.ClientID = &id
	}

	var meta *domain.TaskMeta
	if req.StartTS != nil || req.DueTS != nil {
		source := "email"
		meta = &domain.TaskMeta{
			TaskID:   req.MessageID,
			TaskType: domain.TaskTypeFlexible,
			StartAt:  msToTime(req.StartTS),
			DueAt:    msToTime(req.DueTS),
			Source:   &source,
		}
	}

	rec := &domain.ProcessedEmail{
		MessageID:    req.MessageID,
		HeliosTaskID: &task.ID,
		Status:       domain.ProcessedCreated,
		ReceivedAt:   receivedAt,
	}

	if err := s.tasks.CreateTask(ctx, task, meta, rec); err != nil {
		// A concurrent worker won the insert race; the unique constraint on
		// processed_emails.message_id is the correctness anchor.
		if errors.Is(err, persistence.ErrDuplicate) {
			winner, gerr := s.tasks.GetProcessed(ctx, req.MessageID)
			if gerr == nil && winner != nil {
				return &in.IngestResult{
					HeliosTaskID: winner.HeliosTaskID,
					Processed:    true,
					Reason:       string(domain.ProcessedDuplicate),
				}, nil
			}
			return &in.IngestResult{Processed: true, Reason: string(domain.ProcessedDuplicate)}, nil
		}
		return nil, err
	}

	return &in.IngestResult{
		HeliosTaskID: &task.ID,
		Processed:    true,
		Reason:       string(domain.ProcessedCreated),
	}, nil
}

// appendToThread reopens the thread's task and appends the new message as a
// comment, recording the per-message ledger row in the same transaction.
func (s *Service) appendToThread(ctx context.Context, req *in.IngestRequest, tt *domain.ThreadTask, receivedAt *time.Time) (*in.IngestResult, error) {
	preview := truncate(req.Content, 200)
	link := ""
	if req.GmailLink != nil {
		link = *req.GmailLink
	}
	comment := fmt.Sprintf("\n--- New email in thread ---\nSubject: %s\n%s\n%s\n", req.Subject, preview, link)

	rec := &domain.ProcessedEmail{
		MessageID:    req.MessageID,
		HeliosTaskID: &tt.TaskID,
		Status:       domain.ProcessedCreated,
		ReceivedAt:   receivedAt,
	}

	err := s.tasks.ReopenThreadTask(ctx, tt.ThreadID, tt.TaskID, comment, *receivedAt, rec)
	if err != nil {
		if errors.Is(err, persistence.ErrDuplicate) {
			return &in.IngestResult{
				HeliosTaskID: &tt.TaskID,
				Processed:    true,
				Reason:       string(domain.ProcessedDuplicate),
			}, nil
		}
		return nil, err
	}

	return &in.IngestResult{
		HeliosTaskID: &tt.TaskID,
		Processed:    true,
		Reason:       string(domain.ProcessedCreated),
	}, nil
}

// SweepOnce pulls messages from the triage labels and feeds them through the
// ingestion pipeline. Per-message failures never abort the sweep.
func (s *Service) SweepOnce(ctx context.Context) (*in.SweepStats, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SweepTimeout)
	defer cancel()

	available, err := s.mail.ListLabels(ctx)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]string)
	for _, name := range s.cfg.TriageLabels {
		id, ok := available[strings.ToLower(name)]
		if !ok {
			logger.Warn("triage label not found in mailbox: %s", name)
			continue
		}
		wanted[name] = id
	}
	if len(wanted) == 0 {
		return nil, apperr.ConfigError("no matching triage labels in mailbox")
	}

	query := ""
	if s.cfg.LookbackDays > 0 {
		query = fmt.Sprintf("newer_than:%dd", s.cfg.LookbackDays)
	}

	stats := &in.SweepStats{}

	err = s.mail.ForEachMessage(ctx, wanted, query, func(msg *out.MailMessage) error {
		req := &in.IngestRequest{
			MessageID:   msg.MessageID,
			Sender:      msg.Sender,
			Subject:     truncate(msg.Subject, maxFieldLen),
			Content:     msg.Body,
			SourceLabel: &msg.Label,
			Priority:    string(domain.PriorityNormal),
		}
		if msg.ThreadID != "" {
			threadID := msg.ThreadID
			req.ThreadID = &threadID
		}
		if msg.Link != "" {
			link := msg.Link
			req.GmailLink = &link
		}
		if msg.InternalDate > 0 {
			ts := msg.InternalDate
			req.ReceivedTS = &ts
		}

		result, err := s.IngestEmail(ctx, req)
		if err != nil {
			stats.Failed++
			logger.WithError(err).Warn("sweep: failed to ingest %s", msg.MessageID)
			return nil
		}

		switch result.Reason {
		case string(domain.ProcessedCreated):
			stats.Created++
		case string(domain.ProcessedDuplicate):
			stats.Duplicate++
		case string(domain.ProcessedRejectedAllow):
			stats.Rejected++
		}
		return nil
	})
	if err != nil {
		return stats, err
	}

	logger.WithFields(map[string]any{
		"created":   stats.Created,
		"duplicate": stats.Duplicate,
		"rejected":  stats.Rejected,
		"failed":    stats.Failed,
	}).Info("sweep completed")

	return stats, nil
}

// =============================================================================
// Unknown-sender workflow
// =============================================================================

// RecordUnknownSender captures a rejected sender for review.
func (s *Service) RecordUnknownSender(ctx context.Context, email, messageID, subject string) (*domain.UnknownSender, error) {
	normalized := allowlist.NormalizeEmail(email)
	if normalized == "" {
		return nil, apperr.InvalidInput("email", "must not be empty")
	}
	return s.unknown.Record(ctx, normalized, allowlist.DomainOf(normalized), messageID, truncate(subject, maxFieldLen))
}

// ListUnknownSenders lists captured senders for review.
func (s *Service) ListUnknownSenders(ctx context.Context, status string, limit, offset int) ([]*domain.UnknownSender, int, error) {
	return s.unknown.List(ctx, status, limit, offset)
}

// ResolveUnknownSender applies a review decision.
func (s *Service) ResolveUnknownSender(ctx context.Context, id string, action domain.ResolveAction, clientID string, wildcard bool) (*domain.UnknownSender, error) {
	if action != domain.ResolveIgnore && clientID == "" {
		return nil, apperr.MissingField("client_id")
	}

	resolved, err := s.unknown.Resolve(ctx, id, action, clientID, wildcard)
	if err != nil {
		switch {
		case errors.Is(err, persistence.ErrNotFound):
			return nil, apperr.NotFound("unknown sender")
		case errors.Is(err, persistence.ErrDuplicate):
			return nil, apperr.Conflict("unknown sender already resolved")
		case errors.Is(err, persistence.ErrInvalidInput):
			return nil, apperr.InvalidInput("action", "must be approve_email, approve_domain or ignore")
		}
		return nil, err
	}
	return resolved, nil
}

// ListLatestTasks lists ingested tasks, newest first.
func (s *Service) ListLatestTasks(ctx context.Context, filter *domain.EmailTaskFilter) ([]*domain.EmailTask, int, error) {
	return s.tasks.ListLatest(ctx, filter)
}

// Ensure interface compliance
var _ in.TriageService = (*Service)(nil)
