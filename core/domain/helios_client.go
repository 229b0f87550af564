package domain

import "time"

// Client is a client entity that owns allowlisted emails and domains.
type Client struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Populated on detail reads
	Emails  []ClientEmail  `json:"emails,omitempty"`
	Domains []ClientDomain `json:"domains,omitempty"`
}

// ClientEmail is a normalized sender address owned by exactly one client.
type ClientEmail struct {
	ID        string    `json:"id"`
	ClientID  string    `json:"client_id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// ClientDomain is a sender domain owned by exactly one client. Wildcard means
// the domain and all of its subdomains.
type ClientDomain struct {
	ID        string    `json:"id"`
	ClientID  string    `json:"client_id"`
	Domain    string    `json:"domain"`
	Wildcard  bool      `json:"wildcard"`
	CreatedAt time.Time `json:"created_at"`
}

// ClientFilter narrows client listing.
type ClientFilter struct {
	Search        string
	IncludeHidden bool // include soft-deleted clients
	Limit         int
	Offset        int
}
