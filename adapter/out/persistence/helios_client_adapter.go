// Package persistence provides database adapters implementing outbound ports.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"helios_server/core/domain"
	"helios_server/core/port/out"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// ClientAdapter implements out.ClientRepository and out.AllowlistRepository
// using PostgreSQL.
type ClientAdapter struct {
	db *sqlx.DB
}

// NewClientAdapter creates a new ClientAdapter.
func NewClientAdapter(db *sqlx.DB) *ClientAdapter {
	return &ClientAdapter{db: db}
}

// clientRow represents the database row for clients.
type clientRow struct {
	ID        string         `db:"id"`
	Name      string         `db:"name"`
	Phone     sql.NullString `db:"phone"`
	Notes     sql.NullString `db:"notes"`
	Tags      pq.StringArray `db:"tags"`
	Active    bool           `db:"active"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

func (r *clientRow) toDomain() *domain.Client {
	c := &domain.Client{
		ID:        r.ID,
		Name:      r.Name,
		Tags:      r.Tags,
		Active:    r.Active,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.Phone.Valid {
		c.Phone = r.Phone.String
	}
	if r.Notes.Valid {
		c.Notes = r.Notes.String
	}
	return c
}

// bumpAllowlistVersion increments the singleton version row inside tx.
func bumpAllowlistVersion(ctx context.Context, tx *sqlx.Tx) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE allowlist_meta SET version = version + 1, updated_at = NOW() WHERE id = 1
	`)
	return err
}

// UpsertClient creates or updates a client.
func (a *ClientAdapter) UpsertClient(ctx context.Context, client *domain.Client) error {
	if client.ID == "" {
		client.ID = uuid.NewString()
	}
	if client.Tags == nil {
		client.Tags = []string{}
	}

	query := `
		INSERT INTO clients (id, name, phone, notes, tags, active)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, TRUE)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			phone = EXCLUDED.phone,
			notes = EXCLUDED.notes,
			tags = EXCLUDED.tags,
			active = TRUE,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`

	err := a.db.QueryRowxContext(ctx, query,
		client.ID, client.Name, client.Phone, client.Notes, pq.Array(client.Tags),
	).Scan(&client.CreatedAt, &client.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("client name %q: %w", client.Name, ErrDuplicate)
		}
		return err
	}
	client.Active = true
	return nil
}

// GetClient gets a client with its allowlist sets.
func (a *ClientAdapter) GetClient(ctx context.Context, id string) (*domain.Client, error) {
	var row clientRow
	err := a.db.QueryRowxContext(ctx, `SELECT * FROM clients WHERE id = $1`, id).StructScan(&row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}

	client := row.toDomain()

	emails, err := a.ListClientEmails(ctx, id)
	if err != nil {
		return nil, err
	}
	client.Emails = emails

	domains, err := a.ListClientDomains(ctx, id)
	if err != nil {
		return nil, err
	}
	client.Domains = domains

	return client, nil
}

// ListClients lists clients with filters.
func (a *ClientAdapter) ListClients(ctx context.Context, filter *domain.ClientFilter) ([]*domain.Client, int, error) {
	if filter == nil {
		filter = &domain.ClientFilter{}
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 100
	}

	baseQuery := `FROM clients WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if !filter.IncludeHidden {
		baseQuery += ` AND active = TRUE`
	}
	if filter.Search != "" {
		baseQuery += fmt.Sprintf(` AND name ILIKE $%d`, argIdx)
		args = append(args, "%"+filter.Search+"%")
		argIdx++
	}

	var total int
	if err := a.db.QueryRowxContext(ctx, `SELECT COUNT(*) `+baseQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	selectQuery := fmt.Sprintf(`SELECT * %s ORDER BY name ASC LIMIT $%d OFFSET $%d`, baseQuery, argIdx, argIdx+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := a.db.QueryxContext(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var clients []*domain.Client
	for rows.Next() {
		var row clientRow
		if err := rows.StructScan(&row); err != nil {
			return nil, 0, err
		}
		clients = append(clients, row.toDomain())
	}

	return clients, total, nil
}

// SoftDeleteClient clears the active flag and bumps the allowlist version,
// since the client's entries stop contributing to the allowlist.
func (a *ClientAdapter) SoftDeleteClient(ctx context.Context, id string) error {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE clients SET active = FALSE, updated_at = NOW() WHERE id = $1 AND active = TRUE
	`, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}

	if err := bumpAllowlistVersion(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

// SetClientEmails replaces the client's email set in one transaction.
func (a *ClientAdapter) SetClientEmails(ctx context.Context, clientID string, emails []string) error {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM client_emails WHERE client_id = $1`, clientID); err != nil {
		return err
	}

	for _, email := range emails {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO client_emails (id, client_id, email)
			VALUES ($1, $2, $3)
			ON CONFLICT (client_id, email) DO NOTHING
		`, uuid.NewString(), clientID, email)
		if err != nil {
			return err
		}
	}

	if err := bumpAllowlistVersion(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

// SetClientDomains replaces the client's domain set in one transaction.
func (a *ClientAdapter) SetClientDomains(ctx context.Context, clientID string, domains []domain.AllowlistDomain) error {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM client_domains WHERE client_id = $1`, clientID); err != nil {
		return err
	}

	for _, d := range domains {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO client_domains (id, client_id, domain, wildcard)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (client_id, domain, wildcard) DO NOTHING
		`, uuid.NewString(), clientID, d.Domain, d.Wildcard)
		if err != nil {
			return err
		}
	}

	if err := bumpAllowlistVersion(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

// AddClientEmail inserts one email and bumps the version.
func (a *ClientAdapter) AddClientEmail(ctx context.Context, clientID, email string) error {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO client_emails (id, client_id, email)
		VALUES ($1, $2, $3)
		ON CONFLICT (client_id, email) DO NOTHING
	`, uuid.NewString(), clientID, email); err != nil {
		return err
	}

	if err := bumpAllowlistVersion(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

// AddClientDomain inserts one domain and bumps the version.
func (a *ClientAdapter) AddClientDomain(ctx context.Context, clientID, domainName string, wildcard bool) error {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO client_domains (id, client_id, domain, wildcard)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (client_id, domain, wildcard) DO NOTHING
	`, uuid.NewString(), clientID, domainName, wildcard); err != nil {
		return err
	}

	if err := bumpAllowlistVersion(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

// ListClientEmails lists a client's emails.
func (a *ClientAdapter) ListClientEmails(ctx context.Context, clientID string) ([]domain.ClientEmail, error) {
	rows, err := a.db.QueryxContext(ctx, `
		SELECT id, client_id, email, created_at FROM client_emails
		WHERE client_id = $1 ORDER BY email ASC
	`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var emails []domain.ClientEmail
	for rows.Next() {
		var e domain.ClientEmail
		if err := rows.Scan(&e.ID, &e.ClientID, &e.Email, &e.CreatedAt); err != nil {
			return nil, err
		}
		emails = append(emails, e)
	}
	return emails, nil
}

// ListClientDomains lists a client's domains.
func (a *ClientAdapter) ListClientDomains(ctx context.Context, clientID string) ([]domain.ClientDomain, error) {
	rows, err := a.db.QueryxContext(ctx, `
		SELECT id, client_id, domain, wildcard, created_at FROM client_domains
		WHERE client_id = $1 ORDER BY domain ASC
	`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var domains []domain.ClientDomain
	for rows.Next() {
		var d domain.ClientDomain
		if err := rows.Scan(&d.ID, &d.ClientID, &d.Domain, &d.Wildcard, &d.CreatedAt); err != nil {
			return nil, err
		}
		domains = append(domains, d)
	}
	return domains, nil
}

// CleanupAllowlist moves addresses mis-filed as domains into the email set and
// deduplicates both sets, all in one transaction with a single version bump.
func (a *ClientAdapter) CleanupAllowlist(ctx context.Context) (*out.CleanupResult, error) {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	result := &out.CleanupResult{}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO client_emails (id, client_id, email)
		SELECT gen_random_uuid()::text, client_id, lower(trim(domain))
		FROM client_domains
		WHERE position('@' in domain) > 0
		ON CONFLICT (client_id, email) DO NOTHING
	`)
	if err != nil {
		return nil, err
	}
	moved, _ := res.RowsAffected()
	result.MovedToEmails = int(moved)

	if _, err := tx.ExecContext(ctx, `DELETE FROM client_domains WHERE position('@' in domain) > 0`); err != nil {
		return nil, err
	}

	res, err = tx.ExecContext(ctx, `
		DELETE FROM client_emails
		WHERE ctid NOT IN (
			SELECT min(ctid) FROM client_emails GROUP BY client_id, lower(email)
		)
	`)
	if err != nil {
		return nil, err
	}
	deduped, _ := res.RowsAffected()
	result.DedupEmails = int(deduped)

	res, err = tx.ExecContext(ctx, `
		DELETE FROM client_domains
		WHERE ctid NOT IN (
			SELECT min(ctid) FROM client_domains GROUP BY client_id, lower(domain), wildcard
		)
	`)
	if err != nil {
		return nil, err
	}
	deduped, _ = res.RowsAffected()
	result.DedupDomains = int(deduped)

	if err := bumpAllowlistVersion(ctx, tx); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return result, nil
}

// =============================================================================
// AllowlistRepository Implementation
// =============================================================================

// Snapshot reads emails, domains and version at one point in time.
func (a *ClientAdapter) Snapshot(ctx context.Context) (*domain.AllowlistSnapshot, error) {
	tx, err := a.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	snapshot := &domain.AllowlistSnapshot{
		Emails:      []string{},
		Domains:     []domain.AllowlistDomain{},
		GeneratedAt: time.Now().UTC(),
	}

	rows, err := tx.QueryxContext(ctx, `
		SELECT DISTINCT lower(trim(e.email)) FROM client_emails e
		JOIN clients c ON c.id = e.client_id AND c.active
		ORDER BY 1
	`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			rows.Close()
			return nil, err
		}
		snapshot.Emails = append(snapshot.Emails, email)
	}
	rows.Close()

	rows, err = tx.QueryxContext(ctx, `
		SELECT DISTINCT lower(trim(d.domain)), d.wildcard FROM client_domains d
		JOIN clients c ON c.id = d.client_id AND c.active
		ORDER BY 1, 2
	`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var d domain.AllowlistDomain
		if err := rows.Scan(&d.Domain, &d.Wildcard); err != nil {
			rows.Close()
			return nil, err
		}
		snapshot.Domains = append(snapshot.Domains, d)
	}
	rows.Close()

	if err := tx.QueryRowxContext(ctx, `SELECT version FROM allowlist_meta WHERE id = 1`).Scan(&snapshot.Version); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// Version reads the current allowlist version.
func (a *ClientAdapter) Version(ctx context.Context) (int64, error) {
	var version int64
	err := a.db.QueryRowxContext(ctx, `SELECT version FROM allowlist_meta WHERE id = 1`).Scan(&version)
	return version, err
}

// ResolveSender attributes a normalized sender to a client.
func (a *ClientAdapter) ResolveSender(ctx context.Context, email, domainName string) (*domain.SenderMatch, error) {
	return resolveSenderTx(ctx, a.db, email, domainName)
}

// queryer covers *sqlx.DB and *sqlx.Tx.
type queryer interface {
	QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row
}

func resolveSenderTx(ctx context.Context, q queryer, email, domainName string) (*domain.SenderMatch, error) {
	match := &domain.SenderMatch{}

	err := q.QueryRowxContext(ctx, `
		SELECT c.id, c.name FROM client_emails e
		JOIN clients c ON c.id = e.client_id AND c.active
		WHERE lower(e.email) = $1
		LIMIT 1
	`, email).Scan(&match.ClientID, &match.ClientName)
	if err == nil {
		match.Score = domain.MatchScoreEmail
		return match, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	if domainName == "" {
		return nil, nil
	}

	err = q.QueryRowxContext(ctx, `
		SELECT c.id, c.name FROM client_domains d
		JOIN clients c ON c.id = d.client_id AND c.active
		WHERE lower(d.domain) = $1 AND NOT d.wildcard
		LIMIT 1
	`, domainName).Scan(&match.ClientID, &match.ClientName)
	if err == nil {
		match.Score = domain.MatchScoreExactDomain
		return match, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	// Longest wildcard suffix wins when several match.
	err = q.QueryRowxContext(ctx, `
		SELECT c.id, c.name FROM client_domains d
		JOIN clients c ON c.id = d.client_id AND c.active
		WHERE d.wildcard AND ($1 = lower(d.domain) OR $1 LIKE '%.' || lower(d.domain))
		ORDER BY length(d.domain) DESC
		LIMIT 1
	`, domainName).Scan(&match.ClientID, &match.ClientName)
	if err == nil {
		match.Score = domain.MatchScoreWildcardDomain
		return match, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	return nil, nil
}

// Ensure interface compliance
var (
	_ out.ClientRepository    = (*ClientAdapter)(nil)
	_ out.AllowlistRepository = (*ClientAdapter)(nil)
)
