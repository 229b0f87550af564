package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"helios_server/core/domain"
	"helios_server/core/port/out"

	"github.com/jmoiron/sqlx"
)

// EmailTaskAdapter implements out.EmailTaskRepository using PostgreSQL.
type EmailTaskAdapter struct {
	db *sqlx.DB
}

// NewEmailTaskAdapter creates a new EmailTaskAdapter.
func NewEmailTaskAdapter(db *sqlx.DB) *EmailTaskAdapter {
	return &EmailTaskAdapter{db: db}
}

type emailTaskRow struct {
	ID          string         `db:"id"`
	ClientID    sql.NullString `db:"client_id"`
	Sender      string         `db:"sender"`
	Subject     string         `db:"subject"`
	Snippet     string         `db:"snippet"`
	Body        string         `db:"body"`
	GmailLink   sql.NullString `db:"gmail_link"`
	ThreadID    sql.NullString `db:"thread_id"`
	ReceivedAt  sql.NullTime   `db:"received_at"`
	CreatedAt   time.Time      `db:"created_at"`
	SourceLabel sql.NullString `db:"source_label"`
	Priority    string         `db:"priority"`
	ClientHint  sql.NullString `db:"client_hint"`
	Status      string         `db:"status"`
	Comments    string         `db:"comments"`
}

func (r *emailTaskRow) toDomain() *domain.EmailTask {
	t := &domain.EmailTask{
		ID:        r.ID,
		Sender:    r.Sender,
		Subject:   r.Subject,
		Snippet:   r.Snippet,
		Body:      r.Body,
		CreatedAt: r.CreatedAt,
		Priority:  domain.Priority(r.Priority),
		Status:    r.Status,
	}
	if r.ClientID.Valid {
		v := r.ClientID.String
		t.ClientID = &v
	}
	if r.GmailLink.Valid {
		v := r.GmailLink.String
		t.GmailLink = &v
	}
	if r.ThreadID.Valid {
		v := r.ThreadID.String
		t.ThreadID = &v
	}
	if r.ReceivedAt.Valid {
		v := r.ReceivedAt.Time
		t.ReceivedAt = &v
	}
	if r.SourceLabel.Valid {
		v := r.SourceLabel.String
		t.SourceLabel = &v
	}
	if r.ClientHint.Valid {
		v := r.ClientHint.String
		t.ClientHint = &v
	}
	return t
}

type processedRow struct {
	MessageID    string         `db:"message_id"`
	HeliosTaskID sql.NullString `db:"helios_task_id"`
	Status       string         `db:"status"`
	ReceivedAt   sql.NullTime   `db:"received_at"`
	ProcessedAt  time.Time      `db:"processed_at"`
}

func (r *processedRow) toDomain() *domain.ProcessedEmail {
	p := &domain.ProcessedEmail{
		MessageID:   r.MessageID,
		Status:      domain.ProcessedStatus(r.Status),
		ProcessedAt: r.ProcessedAt,
	}
	if r.HeliosTaskID.Valid {
		v := r.HeliosTaskID.String
		p.HeliosTaskID = &v
	}
	if r.ReceivedAt.Valid {
		v := r.ReceivedAt.Time
		p.ReceivedAt = &v
	}
	return p
}

func nullStr(s *string) interface{} {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

// GetProcessed fetches the idempotency ledger row for a message id.
func (a *EmailTaskAdapter) GetProcessed(ctx context.Context, messageID string) (*domain.ProcessedEmail, error) {
	var row processedRow
	err := a.db.QueryRowxContext(ctx, `
		SELECT * FROM processed_emails WHERE message_id = $1
	`, messageID).StructScan(&row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return row.toDomain(), nil
}

// RecordProcessed writes a ledger row. A concurrent insert of the same
// message id surfaces as ErrDuplicate.
func (a *EmailTaskAdapter) RecordProcessed(ctx context.Context, rec *domain.ProcessedEmail) error {
	return recordProcessedTx(ctx, a.db, rec)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func recordProcessedTx(ctx context.Context, e execer, rec *domain.ProcessedEmail) error {
	res, err := e.ExecContext(ctx, `
		INSERT INTO processed_emails (message_id, helios_task_id, status, received_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (message_id) DO NOTHING
	`, rec.MessageID, nullStr(rec.HeliosTaskID), string(rec.Status), nullTime(rec.ReceivedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrDuplicate
	}
	return nil
}

// CreateTask inserts the task, optional meta and the processed row in one
// transaction. The unique key on message id carries the at-most-once
// guarantee: a concurrent duplicate rolls the whole transaction back.
func (a *EmailTaskAdapter) CreateTask(ctx context.Context, task *domain.EmailTask, meta *domain.TaskMeta, rec *domain.ProcessedEmail) error {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var clientID interface{}
	if task.ClientID != nil {
		clientID = *task.ClientID
	}

	err = tx.QueryRowxContext(ctx, `
		INSERT INTO email_tasks (
			id, client_id, sender, subject, snippet, body, gmail_link,
			thread_id, received_at, source_label, priority, client_hint, status
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
		RETURNING created_at
	`,
		task.ID, clientID, task.Sender, task.Subject, task.Snippet, task.Body,
		nullStr(task.GmailLink), nullStr(task.ThreadID), nullTime(task.ReceivedAt),
		nullStr(task.SourceLabel), string(task.Priority), nullStr(task.ClientHint),
		domain.EmailTaskStatusOpen,
	).Scan(&task.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	task.Status = domain.EmailTaskStatusOpen

	if meta != nil {
		if meta.TaskType == "" {
			meta.TaskType = domain.TaskTypeFlexible
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO task_meta (
				task_id, task_type, deadline_type, fixed_date, calendar_blocked,
				recurrence_pattern, client_code, start_at, due_at, source
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (task_id) DO UPDATE SET
				task_type = EXCLUDED.task_type,
				deadline_type = EXCLUDED.deadline_type,
				fixed_date = EXCLUDED.fixed_date,
				calendar_blocked = EXCLUDED.calendar_blocked,
				recurrence_pattern = EXCLUDED.recurrence_pattern,
				client_code = EXCLUDED.client_code,
				start_at = EXCLUDED.start_at,
				due_at = EXCLUDED.due_at,
				source = EXCLUDED.source
		`,
			meta.TaskID, meta.TaskType, nullStr(meta.DeadlineType), nullTime(meta.FixedDate),
			meta.CalendarBlocked, nullStr(meta.RecurrencePattern), nullStr(meta.ClientCode),
			nullTime(meta.StartAt), nullTime(meta.DueAt), nullStr(meta.Source),
		); err != nil {
			return err
		}
	}

	if task.ThreadID != nil && *task.ThreadID != "" {
		lastEmailAt := time.Now().UTC()
		if task.ReceivedAt != nil {
			lastEmailAt = *task.ReceivedAt
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO thread_tasks (thread_id, task_id, last_email_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (thread_id) DO UPDATE SET
				task_id = EXCLUDED.task_id,
				last_email_at = EXCLUDED.last_email_at
		`, *task.ThreadID, task.ID, lastEmailAt); err != nil {
			return err
		}
	}

	if err := recordProcessedTx(ctx, tx, rec); err != nil {
		return err
	}

	return tx.Commit()
}

// GetTask fetches one email task by id.
func (a *EmailTaskAdapter) GetTask(ctx context.Context, id string) (*domain.EmailTask, error) {
	var row emailTaskRow
	err := a.db.QueryRowxContext(ctx, `SELECT * FROM email_tasks WHERE id = $1`, id).StructScan(&row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toDomain(), nil
}

// ListLatest lists tasks ordered by coalesce(received_at, created_at) desc.
func (a *EmailTaskAdapter) ListLatest(ctx context.Context, filter *domain.EmailTaskFilter) ([]*domain.EmailTask, int, error) {
	if filter == nil {
		filter = &domain.EmailTaskFilter{}
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}

	baseQuery := `FROM email_tasks WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.Sender != "" {
		baseQuery += fmt.Sprintf(` AND sender = $%d`, argIdx)
		args = append(args, filter.Sender)
		argIdx++
	}
	if filter.SourceLabel != "" {
		baseQuery += fmt.Sprintf(` AND source_label = $%d`, argIdx)
		args = append(args, filter.SourceLabel)
		argIdx++
	}

	var total int
	if err := a.db.QueryRowxContext(ctx, `SELECT COUNT(*) `+baseQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	selectQuery := fmt.Sprintf(
		`SELECT * %s ORDER BY COALESCE(received_at, created_at) DESC LIMIT $%d OFFSET $%d`,
		baseQuery, argIdx, argIdx+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := a.db.QueryxContext(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var tasks []*domain.EmailTask
	for rows.Next() {
		var row emailTaskRow
		if err := rows.StructScan(&row); err != nil {
			return nil, 0, err
		}
		tasks = append(tasks, row.toDomain())
	}

	return tasks, total, nil
}

// GetThreadTask fetches the thread mapping for a thread id.
func (a *EmailTaskAdapter) GetThreadTask(ctx context.Context, threadID string) (*domain.ThreadTask, error) {
	var tt domain.ThreadTask
	err := a.db.QueryRowxContext(ctx, `
		SELECT thread_id, task_id, last_email_at FROM thread_tasks WHERE thread_id = $1
	`, threadID).Scan(&tt.ThreadID, &tt.TaskID, &tt.LastEmailAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &tt, nil
}

// ReopenThreadTask resets the task to open, appends a comment, refreshes the
// thread mapping and records the processed row, all in one transaction.
func (a *EmailTaskAdapter) ReopenThreadTask(ctx context.Context, threadID, taskID, comment string, lastEmailAt time.Time, rec *domain.ProcessedEmail) error {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE email_tasks
		SET status = $1, comments = comments || $2
		WHERE id = $3
	`, domain.EmailTaskStatusOpen, comment, taskID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE thread_tasks SET last_email_at = $1 WHERE thread_id = $2
	`, lastEmailAt, threadID); err != nil {
		return err
	}

	if err := recordProcessedTx(ctx, tx, rec); err != nil {
		return err
	}

	return tx.Commit()
}

// Ensure interface compliance
var _ out.EmailTaskRepository = (*EmailTaskAdapter)(nil)
