// Package allowlist implements the sender allowlist engine: normalization,
// matching and the versioned snapshot used for cache validation.
package allowlist

import (
	"context"
	"strings"
	"time"

	"helios_server/core/domain"
	in "helios_server/core/port/in"
	"helios_server/core/port/out"
	"helios_server/pkg/logger"
)

// NormalizeEmail lowercases, trims and strips any +tag from the local part.
// Values without an '@' are returned lowercased as-is.
func NormalizeEmail(addr string) string {
	addr = strings.ToLower(strings.TrimSpace(addr))
	at := strings.LastIndex(addr, "@")
	if at <= 0 {
		return addr
	}
	local, dom := addr[:at], addr[at+1:]
	if plus := strings.Index(local, "+"); plus >= 0 {
		local = local[:plus]
	}
	return local + "@" + dom
}

// DomainOf extracts the lowercased domain after the last '@'.
func DomainOf(addr string) string {
	addr = strings.ToLower(strings.TrimSpace(addr))
	at := strings.LastIndex(addr, "@")
	if at < 0 || at == len(addr)-1 {
		return ""
	}
	return addr[at+1:]
}

// NormalizeDomain lowercases and trims a domain.
func NormalizeDomain(d string) string {
	return strings.ToLower(strings.TrimSpace(d))
}

// =============================================================================
// Snapshot checker
// =============================================================================

// Checker answers allow/deny against one immutable snapshot.
type Checker struct {
	emails map[string]struct{}
	exact  map[string]struct{}
	wild   []string
}

// NewChecker indexes a snapshot for matching.
func NewChecker(snapshot *domain.AllowlistSnapshot) *Checker {
	c := &Checker{
		emails: make(map[string]struct{}, len(snapshot.Emails)),
		exact:  make(map[string]struct{}),
	}
	for _, e := range snapshot.Emails {
		c.emails[NormalizeEmail(e)] = struct{}{}
	}
	for _, d := range snapshot.Domains {
		dom := NormalizeDomain(d.Domain)
		if dom == "" {
			continue
		}
		if d.Wildcard {
			c.wild = append(c.wild, dom)
		} else {
			c.exact[dom] = struct{}{}
		}
	}
	return c
}

// IsAllowed reports whether the sender passes the allowlist.
func (c *Checker) IsAllowed(sender string) bool {
	e := NormalizeEmail(sender)
	if e == "" {
		return false
	}
	if _, ok := c.emails[e]; ok {
		return true
	}
	dom := DomainOf(e)
	if dom == "" {
		return false
	}
	if _, ok := c.exact[dom]; ok {
		return true
	}
	for _, wd := range c.wild {
		if dom == wd || strings.HasSuffix(dom, "."+wd) {
			return true
		}
	}
	return false
}

// =============================================================================
// Service
// =============================================================================

// Service is the allowlist engine backed by the store.
type Service struct {
	repo out.AllowlistRepository
}

// NewService creates a new allowlist service.
func NewService(repo out.AllowlistRepository) *Service {
	return &Service{repo: repo}
}

// IsAllowed checks the sender against the live allowlist: exact email, then
// exact domain, then wildcard domain. Every allowlist entry belongs to a
// client, so an admitted sender always comes with its match.
func (s *Service) IsAllowed(ctx context.Context, sender string) (bool, *domain.SenderMatch, error) {
	email := NormalizeEmail(sender)
	if email == "" {
		return false, nil, nil
	}

	match, err := s.repo.ResolveSender(ctx, email, DomainOf(email))
	if err != nil {
		return false, nil, err
	}
	if match == nil {
		return false, nil, nil
	}
	return true, match, nil
}

// Snapshot serves the versioned snapshot. When the caller's ifNoneMatch etag
// still names the current version, only the version row is read.
func (s *Service) Snapshot(ctx context.Context, ifNoneMatch string) (*in.SnapshotResult, error) {
	if ifNoneMatch != "" {
		version, err := s.repo.Version(ctx)
		if err != nil {
			return nil, err
		}
		current := (&domain.AllowlistSnapshot{Version: version}).ETag()
		if ifNoneMatch == current {
			return &in.SnapshotResult{ETag: current, NotModified: true}, nil
		}
	}

	snapshot, err := s.repo.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return &in.SnapshotResult{
		Snapshot: snapshot,
		ETag:     snapshot.ETag(),
	}, nil
}

// Ensure interface compliance
var _ in.AllowlistService = (*Service)(nil)

// =============================================================================
// Cached checker for batch consumers
// =============================================================================

const snapshotCacheKey = "helios:allowlist:snapshot"

// CachedChecker serves checkers from a cached snapshot with TTL-based reuse.
// A cache hit whose version is unchanged extends the TTL without rewriting.
type CachedChecker struct {
	repo  out.AllowlistRepository
	cache out.SnapshotCache
	ttl   time.Duration
}

// NewCachedChecker creates a cached checker. TTL defaults to 6 hours.
func NewCachedChecker(repo out.AllowlistRepository, cache out.SnapshotCache, ttl time.Duration) *CachedChecker {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &CachedChecker{repo: repo, cache: cache, ttl: ttl}
}

// CachedService is an in.AllowlistService for batch consumers: admission runs
// against the cached snapshot; client attribution still reads the store.
type CachedService struct {
	base    *Service
	checker *CachedChecker
}

// NewCachedService creates an allowlist service over a cached snapshot.
func NewCachedService(repo out.AllowlistRepository, cache out.SnapshotCache, ttl time.Duration) *CachedService {
	return &CachedService{
		base:    NewService(repo),
		checker: NewCachedChecker(repo, cache, ttl),
	}
}

// IsAllowed checks the cached snapshot, then attributes admitted senders.
func (s *CachedService) IsAllowed(ctx context.Context, sender string) (bool, *domain.SenderMatch, error) {
	checker, err := s.checker.Get(ctx)
	if err != nil {
		return false, nil, err
	}
	if !checker.IsAllowed(sender) {
		return false, nil, nil
	}
	return s.base.IsAllowed(ctx, sender)
}

// Snapshot delegates to the live service.
func (s *CachedService) Snapshot(ctx context.Context, ifNoneMatch string) (*in.SnapshotResult, error) {
	return s.base.Snapshot(ctx, ifNoneMatch)
}

// Ensure interface compliance
var _ in.AllowlistService = (*CachedService)(nil)

// Get returns a checker over the cached snapshot, refreshing it when the
// cache is cold or the version moved on.
func (c *CachedChecker) Get(ctx context.Context) (*Checker, error) {
	if c.cache != nil {
		var cached domain.AllowlistSnapshot
		hit, err := c.cache.GetJSON(ctx, snapshotCacheKey, &cached)
		if err != nil {
			logger.WithError(err).Warn("allowlist cache read failed, falling back to store")
		} else if hit {
			version, err := c.repo.Version(ctx)
			if err == nil && version == cached.Version {
				if err := c.cache.Expire(ctx, snapshotCacheKey, c.ttl); err != nil {
					logger.WithError(err).Debug("allowlist cache ttl extend failed")
				}
				return NewChecker(&cached), nil
			}
		}
	}

	snapshot, err := c.repo.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.SetJSON(ctx, snapshotCacheKey, snapshot, c.ttl); err != nil {
			logger.WithError(err).Warn("allowlist cache write failed")
		}
	}

	return NewChecker(snapshot), nil
}
