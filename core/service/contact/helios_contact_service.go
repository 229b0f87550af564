// Package contact manages clients, their allowlist sets and attendee lookup.
package contact

import (
	"context"
	"errors"
	"sort"

	"helios_server/adapter/out/persistence"
	"helios_server/core/domain"
	in "helios_server/core/port/in"
	"helios_server/core/port/out"
	"helios_server/core/service/allowlist"
	"helios_server/pkg/apperr"
)

// Service implements in.ContactService.
type Service struct {
	clients   out.ClientRepository
	allowRepo out.AllowlistRepository
}

// NewService creates a new contact service.
func NewService(clients out.ClientRepository, allowRepo out.AllowlistRepository) *Service {
	return &Service{clients: clients, allowRepo: allowRepo}
}

// ListClients lists clients.
func (s *Service) ListClients(ctx context.Context, filter *domain.ClientFilter) ([]*domain.Client, int, error) {
	return s.clients.ListClients(ctx, filter)
}

// GetClient fetches one client with its allowlist sets.
func (s *Service) GetClient(ctx context.Context, id string) (*domain.Client, error) {
	client, err := s.clients.GetClient(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, apperr.NotFound("client")
		}
		return nil, err
	}
	return client, nil
}

// UpsertClient creates or updates a client and replaces its email/domain sets
// when provided. Set replacement is transactional per set and bumps the
// allowlist version.
func (s *Service) UpsertClient(ctx context.Context, req *in.UpsertClientRequest) (*domain.Client, error) {
	if req.Name == "" {
		return nil, apperr.MissingField("name")
	}

	client := &domain.Client{
		ID:    req.ID,
		Name:  req.Name,
		Phone: req.Phone,
		Notes: req.Notes,
		Tags:  req.Tags,
	}

	if err := s.clients.UpsertClient(ctx, client); err != nil {
		if errors.Is(err, persistence.ErrDuplicate) {
			return nil, apperr.Conflict("client name already exists")
		}
		return nil, err
	}

	if req.Emails != nil {
		normalized := make([]string, 0, len(req.Emails))
		for _, e := range req.Emails {
			if n := allowlist.NormalizeEmail(e); n != "" {
				normalized = append(normalized, n)
			}
		}
		if err := s.clients.SetClientEmails(ctx, client.ID, normalized); err != nil {
			return nil, err
		}
	}
	if req.Domains != nil {
		normalized := make([]domain.AllowlistDomain, 0, len(req.Domains))
		for _, d := range req.Domains {
			if n := allowlist.NormalizeDomain(d.Domain); n != "" {
				normalized = append(normalized, domain.AllowlistDomain{Domain: n, Wildcard: d.Wildcard})
			}
		}
		if err := s.clients.SetClientDomains(ctx, client.ID, normalized); err != nil {
			return nil, err
		}
	}

	return s.GetClient(ctx, client.ID)
}

// PatchClient updates an existing client in place.
func (s *Service) PatchClient(ctx context.Context, id string, req *in.UpsertClientRequest) (*domain.Client, error) {
	existing, err := s.GetClient(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name == "" {
		req.Name = existing.Name
	}
	if req.Phone == "" {
		req.Phone = existing.Phone
	}
	if req.Notes == "" {
		req.Notes = existing.Notes
	}
	if req.Tags == nil {
		req.Tags = existing.Tags
	}
	req.ID = id

	return s.UpsertClient(ctx, req)
}

// DeleteClient soft-deletes a client by clearing its active flag.
func (s *Service) DeleteClient(ctx context.Context, id string) error {
	err := s.clients.SoftDeleteClient(ctx, id)
	if errors.Is(err, persistence.ErrNotFound) {
		return apperr.NotFound("client")
	}
	return err
}

// LookupByAttendees scores probable clients for meeting attendees: 100 for an
// email match, 80 exact domain, 60 wildcard domain; sorted descending.
func (s *Service) LookupByAttendees(ctx context.Context, emails []string) ([]in.AttendeeMatch, error) {
	var matches []in.AttendeeMatch
	seen := make(map[string]bool)

	for _, raw := range emails {
		email := allowlist.NormalizeEmail(raw)
		if email == "" || seen[email] {
			continue
		}
		seen[email] = true

		match, err := s.allowRepo.ResolveSender(ctx, email, allowlist.DomainOf(email))
		if err != nil {
			return nil, err
		}
		if match == nil {
			continue
		}

		matches = append(matches, in.AttendeeMatch{
			Email:      email,
			ClientID:   match.ClientID,
			ClientName: match.ClientName,
			Score:      match.Score,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	return matches, nil
}

// CleanupAllowlist runs the admin cleanup over the allowlist sets.
func (s *Service) CleanupAllowlist(ctx context.Context) (map[string]any, error) {
	result, err := s.clients.CleanupAllowlist(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"moved_to_emails": result.MovedToEmails,
		"dedup_emails":    result.DedupEmails,
		"dedup_domains":   result.DedupDomains,
		"version_bumped":  true,
	}, nil
}

// Ensure interface compliance
var _ in.ContactService = (*Service)(nil)
