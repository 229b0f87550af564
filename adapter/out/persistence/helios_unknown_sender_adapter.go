package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"helios_server/core/domain"
	"helios_server/core/port/out"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// UnknownSenderAdapter implements out.UnknownSenderRepository using PostgreSQL.
type UnknownSenderAdapter struct {
	db *sqlx.DB
}

// NewUnknownSenderAdapter creates a new UnknownSenderAdapter.
func NewUnknownSenderAdapter(db *sqlx.DB) *UnknownSenderAdapter {
	return &UnknownSenderAdapter{db: db}
}

type unknownSenderRow struct {
	ID              string         `db:"id"`
	Email           string         `db:"email"`
	Domain          string         `db:"domain"`
	MessageID       string         `db:"message_id"`
	LastSubject     string         `db:"last_subject"`
	FirstSeen       sql.NullTime   `db:"first_seen"`
	LastSeen        sql.NullTime   `db:"last_seen"`
	Hits            int            `db:"hits"`
	Status          string         `db:"status"`
	MatchedClientID sql.NullString `db:"matched_client_id"`
	Resolved        bool           `db:"resolved"`
}

func (r *unknownSenderRow) toDomain() *domain.UnknownSender {
	u := &domain.UnknownSender{
		ID:          r.ID,
		Email:       r.Email,
		Domain:      r.Domain,
		MessageID:   r.MessageID,
		LastSubject: r.LastSubject,
		Hits:        r.Hits,
		Status:      domain.UnknownSenderStatus(r.Status),
		Resolved:    r.Resolved,
	}
	if r.FirstSeen.Valid {
		u.FirstSeen = r.FirstSeen.Time
	}
	if r.LastSeen.Valid {
		u.LastSeen = r.LastSeen.Time
	}
	if r.MatchedClientID.Valid {
		id := r.MatchedClientID.String
		u.MatchedClientID = &id
	}
	return u
}

// Record upserts an observation of a rejected sender. Repeats of the same
// (email, message_id) bump hits; fresh rows are auto-matched against the
// allowlist inside the same transaction.
func (a *UnknownSenderAdapter) Record(ctx context.Context, email, domainName, messageID, subject string) (*domain.UnknownSender, error) {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var row unknownSenderRow
	err = tx.QueryRowxContext(ctx, `
		INSERT INTO unknown_senders (id, email, domain, message_id, last_subject)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (email, message_id) DO UPDATE SET
			hits = unknown_senders.hits + 1,
			last_seen = NOW(),
			last_subject = EXCLUDED.last_subject
		RETURNING *
	`, uuid.NewString(), email, domainName, messageID, subject).StructScan(&row)
	if err != nil {
		return nil, err
	}

	// Auto-match only rows still pending review.
	if domain.UnknownSenderStatus(row.Status) == domain.UnknownStatusPending {
		match, err := resolveSenderTx(ctx, tx, email, domainName)
		if err != nil {
			return nil, err
		}
		if match != nil {
			err = tx.QueryRowxContext(ctx, `
				UPDATE unknown_senders
				SET matched_client_id = $1, status = $2
				WHERE id = $3
				RETURNING *
			`, match.ClientID, string(domain.UnknownStatusMatched), row.ID).StructScan(&row)
			if err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

// Get retrieves one row by id.
func (a *UnknownSenderAdapter) Get(ctx context.Context, id string) (*domain.UnknownSender, error) {
	var row unknownSenderRow
	err := a.db.QueryRowxContext(ctx, `SELECT * FROM unknown_senders WHERE id = $1`, id).StructScan(&row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toDomain(), nil
}

// List lists unknown senders, newest activity first.
func (a *UnknownSenderAdapter) List(ctx context.Context, status string, limit, offset int) ([]*domain.UnknownSender, int, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	baseQuery := `FROM unknown_senders WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if status != "" {
		baseQuery += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, status)
		argIdx++
	}

	var total int
	if err := a.db.QueryRowxContext(ctx, `SELECT COUNT(*) `+baseQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	selectQuery := fmt.Sprintf(`SELECT * %s ORDER BY last_seen DESC LIMIT $%d OFFSET $%d`, baseQuery, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := a.db.QueryxContext(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var senders []*domain.UnknownSender
	for rows.Next() {
		var row unknownSenderRow
		if err := rows.StructScan(&row); err != nil {
			return nil, 0, err
		}
		senders = append(senders, row.toDomain())
	}

	return senders, total, nil
}

// Resolve applies a review action. Approvals write the allowlist row and bump
// the version in the same transaction; transitions are one-way.
func (a *UnknownSenderAdapter) Resolve(ctx context.Context, id string, action domain.ResolveAction, clientID string, wildcard bool) (*domain.UnknownSender, error) {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var row unknownSenderRow
	err = tx.QueryRowxContext(ctx, `SELECT * FROM unknown_senders WHERE id = $1 FOR UPDATE`, id).StructScan(&row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if !domain.UnknownSenderStatus(row.Status).IsOpen() {
		return nil, fmt.Errorf("unknown sender already %s: %w", row.Status, ErrDuplicate)
	}

	switch action {
	case domain.ResolveApproveEmail:
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO client_emails (id, client_id, email)
			VALUES ($1, $2, $3)
			ON CONFLICT (client_id, email) DO NOTHING
		`, uuid.NewString(), clientID, row.Email); err != nil {
			return nil, err
		}
	case domain.ResolveApproveDomain:
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO client_domains (id, client_id, domain, wildcard)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (client_id, domain, wildcard) DO NOTHING
		`, uuid.NewString(), clientID, row.Domain, wildcard); err != nil {
			return nil, err
		}
	case domain.ResolveIgnore:
		// no allowlist change
	default:
		return nil, fmt.Errorf("resolve action %q: %w", action, ErrInvalidInput)
	}

	newStatus := domain.UnknownStatusIgnored
	if action != domain.ResolveIgnore {
		newStatus = domain.UnknownStatusResolved
		if err := bumpAllowlistVersion(ctx, tx); err != nil {
			return nil, err
		}
	}

	query := `
		UPDATE unknown_senders
		SET resolved = TRUE, status = $1, matched_client_id = COALESCE(NULLIF($2, ''), matched_client_id)
		WHERE id = $3
		RETURNING *
	`
	if err := tx.QueryRowxContext(ctx, query, string(newStatus), clientID, id).StructScan(&row); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

// Ensure interface compliance
var _ out.UnknownSenderRepository = (*UnknownSenderAdapter)(nil)
