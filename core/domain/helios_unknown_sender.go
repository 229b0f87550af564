package domain

import "time"

// UnknownSenderStatus tracks the review state of a captured sender.
// Transitions are one-way from {pending, matched} to {resolved, ignored}.
type UnknownSenderStatus string

const (
	UnknownStatusPending  UnknownSenderStatus = "pending"
	UnknownStatusMatched  UnknownSenderStatus = "matched"
	UnknownStatusResolved UnknownSenderStatus = "resolved"
	UnknownStatusIgnored  UnknownSenderStatus = "ignored"
)

// IsOpen reports whether the row can still be resolved.
func (s UnknownSenderStatus) IsOpen() bool {
	return s == UnknownStatusPending || s == UnknownStatusMatched
}

// UnknownSender is one (email, message_id) observation rejected by the
// allowlist. Repeated observations bump Hits instead of creating rows.
type UnknownSender struct {
	ID              string              `json:"id"`
	Email           string              `json:"email"`
	Domain          string              `json:"domain"`
	MessageID       string              `json:"message_id"`
	LastSubject     string              `json:"last_subject,omitempty"`
	FirstSeen       time.Time           `json:"first_seen"`
	LastSeen        time.Time           `json:"last_seen"`
	Hits            int                 `json:"hits"`
	Status          UnknownSenderStatus `json:"status"`
	MatchedClientID *string             `json:"matched_client_id,omitempty"`
	Resolved        bool                `json:"resolved"`
}

// ResolveAction is one of the three review decisions.
type ResolveAction string

const (
	ResolveApproveEmail  ResolveAction = "approve_email"
	ResolveApproveDomain ResolveAction = "approve_domain"
	ResolveIgnore        ResolveAction = "ignore"
)

// ValidResolveAction reports whether s names a known action.
func ValidResolveAction(s string) bool {
	switch ResolveAction(s) {
	case ResolveApproveEmail, ResolveApproveDomain, ResolveIgnore:
		return true
	}
	return false
}
