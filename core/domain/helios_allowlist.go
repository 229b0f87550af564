package domain

import (
	"fmt"
	"time"
)

// AllowlistDomain is one domain entry of the allowlist snapshot.
type AllowlistDomain struct {
	Domain   string `json:"domain"`
	Wildcard bool   `json:"wildcard"`
}

// AllowlistSnapshot is a consistent point-in-time view of the allowlist.
// Emails and domains are read together with the version in one transaction.
type AllowlistSnapshot struct {
	Emails      []string          `json:"emails"`
	Domains     []AllowlistDomain `json:"domains"`
	Version     int64             `json:"version"`
	GeneratedAt time.Time         `json:"generated_at"`
}

// ETag renders the weak validator clients send back via ifNoneMatch.
func (s *AllowlistSnapshot) ETag() string {
	return fmt.Sprintf("W/%q", fmt.Sprintf("%d", s.Version))
}

// SenderMatch is the result of attributing a sender to a client.
type SenderMatch struct {
	ClientID   string `json:"client_id"`
	ClientName string `json:"client_name"`
	// Score: 100 exact email, 80 exact domain, 60 wildcard domain
	Score int `json:"score"`
}

const (
	MatchScoreEmail          = 100
	MatchScoreExactDomain    = 80
	MatchScoreWildcardDomain = 60
)
