// Package provider implements mail, calendar and task source adapters.
package provider

import (
	"context"
	"encoding/base64"
	"net/mail"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"helios_server/core/port/out"
	"helios_server/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const gmailPageSize = 100

// GmailAdapter implements out.MailProviderPort for Gmail.
type GmailAdapter struct {
	config    *oauth2.Config
	tokenFile string
	cb        *gobreaker.CircuitBreaker
}

// GmailConfig holds Gmail configuration.
type GmailConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	TokenFile    string
}

// NewGmailAdapter creates a new Gmail adapter.
func NewGmailAdapter(cfg *GmailConfig) *GmailAdapter {
	config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes: []string{
			gmail.GmailReadonlyScope,
		},
		Endpoint: google.Endpoint,
	}

	cbSettings := gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		IsSuccessful: func(err error) bool {
			_, clientErr := err.(*nonCircuitError)
			return err == nil || clientErr
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("[CircuitBreaker] %s: state changed from %s to %s", name, from.String(), to.String())
		},
	}

	return &GmailAdapter{
		config:    config,
		tokenFile: cfg.TokenFile,
		cb:        gobreaker.NewCircuitBreaker(cbSettings),
	}
}

// GetProviderType returns the provider type.
func (a *GmailAdapter) GetProviderType() string {
	return "gmail"
}

// loadToken reads the stored OAuth token from disk.
func (a *GmailAdapter) loadToken() (*oauth2.Token, error) {
	if a.tokenFile == "" {
		return nil, out.NewProviderError("gmail", out.ProviderErrAuth, "no token file configured", nil, false)
	}
	data, err := os.ReadFile(a.tokenFile)
	if err != nil {
		return nil, out.NewProviderError("gmail", out.ProviderErrAuth, "failed to read token file", err, false)
	}
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, out.NewProviderError("gmail", out.ProviderErrAuth, "failed to parse token file", err, false)
	}
	return &token, nil
}

func (a *GmailAdapter) getService(ctx context.Context) (*gmail.Service, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	token, err := a.loadToken()
	if err != nil {
		return nil, err
	}

	return gmail.NewService(ctx, option.WithTokenSource(
		a.config.TokenSource(ctx, token),
	))
}

// ListLabels maps lowercased label names to label ids.
func (a *GmailAdapter) ListLabels(ctx context.Context) (map[string]string, error) {
	svc, err := a.getService(ctx)
	if err != nil {
		return nil, err
	}

	var resp *gmail.ListLabelsResponse
	cbErr := a.executeWithCircuitBreaker("ListLabels", func() error {
		var apiErr error
		resp, apiErr = svc.Users.Labels.List("me").Context(ctx).Do()
		return apiErr
	})
	if cbErr != nil {
		return nil, a.wrapError(cbErr, "failed to list labels")
	}

	labels := make(map[string]string, len(resp.Labels))
	for _, l := range resp.Labels {
		labels[strings.ToLower(l.Name)] = l.Id
	}
	return labels, nil
}

// ForEachMessage walks messages under the labels lazily, deduplicating a
// message seen under two labels by its provider id. Per-message fetch
// failures are logged and skipped so a single bad message never aborts a
// sweep.
func (a *GmailAdapter) ForEachMessage(ctx context.Context, labelIDs map[string]string, query string, fn func(*out.MailMessage) error) error {
	svc, err := a.getService(ctx)
	if err != nil {
		return err
	}

	// Stable label order keeps sweeps deterministic.
	names := make([]string, 0, len(labelIDs))
	for name := range labelIDs {
		names = append(names, name)
	}
	sort.Strings(names)

	seen := make(map[string]bool)

	for _, name := range names {
		labelID := labelIDs[name]
		pageToken := ""

		for {
			req := svc.Users.Messages.List("me").
				LabelIds(labelID).
				MaxResults(gmailPageSize)
			if query != "" {
				req = req.Q(query)
			}
			if pageToken != "" {
				req = req.PageToken(pageToken)
			}

			resp, err := req.Context(ctx).Do()
			if err != nil {
				return a.wrapError(err, "failed to list messages")
			}

			for _, ref := range resp.Messages {
				if seen[ref.Id] {
					continue
				}
				seen[ref.Id] = true

				msg, err := a.getMessage(ctx, svc, ref.Id)
				if err != nil {
					logger.WithError(err).Warn("skipping message %s under label %s", ref.Id, name)
					continue
				}
				msg.Label = name

				if err := fn(msg); err != nil {
					return err
				}
			}

			if resp.NextPageToken == "" {
				break
			}
			pageToken = resp.NextPageToken
		}
	}

	return nil
}

func (a *GmailAdapter) getMessage(ctx context.Context, svc *gmail.Service, id string) (*out.MailMessage, error) {
	var msg *gmail.Message
	cbErr := a.executeWithCircuitBreaker("GetMessage", func() error {
		var apiErr error
		msg, apiErr = svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
		return apiErr
	})
	if cbErr != nil {
		return nil, a.wrapError(cbErr, "failed to get message")
	}
	return a.convertMessage(msg), nil
}

func (a *GmailAdapter) convertMessage(msg *gmail.Message) *out.MailMessage {
	result := &out.MailMessage{
		ProviderID:   msg.Id,
		ThreadID:     msg.ThreadId,
		Snippet:      msg.Snippet,
		InternalDate: msg.InternalDate,
	}

	// Sender selection order: From, then Reply-To, then Sender.
	from := headerValue(msg, "From")
	if from == "" {
		from = headerValue(msg, "Reply-To")
	}
	if from == "" {
		from = headerValue(msg, "Sender")
	}
	result.Sender = extractAddress(from)

	result.Subject = headerValue(msg, "Subject")

	if rfcID := headerValue(msg, "Message-ID"); rfcID != "" {
		result.MessageID = "rfc:" + strings.Trim(rfcID, "<>")
	} else {
		result.MessageID = "gmail:" + msg.Id
	}

	body := &messageBody{}
	extractBody(msg.Payload, body)
	switch {
	case body.Text != "":
		result.Body = body.Text
	case body.HTML != "":
		result.Body = stripHTML(body.HTML)
	default:
		result.Body = msg.Snippet
	}

	return result
}

func headerValue(msg *gmail.Message, key string) string {
	if msg.Payload == nil {
		return ""
	}
	for _, h := range msg.Payload.Headers {
		if strings.EqualFold(h.Name, key) && h.Value != "" {
			return h.Value
		}
	}
	return ""
}

// extractAddress pulls the bare address out of a header value like
// "Jane Doe <jane@example.com>".
func extractAddress(s string) string {
	if s == "" {
		return ""
	}
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return strings.TrimSpace(s)
	}
	return addr.Address
}

type messageBody struct {
	Text string
	HTML string
}

func extractBody(part *gmail.MessagePart, body *messageBody) {
	if part == nil {
		return
	}

	if part.Body != nil && part.Body.Data != "" {
		if data, err := base64.URLEncoding.DecodeString(part.Body.Data); err == nil {
			switch part.MimeType {
			case "text/plain":
				if body.Text == "" {
					body.Text = string(data)
				}
			case "text/html":
				if body.HTML == "" {
					body.HTML = string(data)
				}
			}
		}
	}

	for _, p := range part.Parts {
		extractBody(p, body)
	}
}

var htmlTagRe = regexp.MustCompile(`<[^>]+>`)

func stripHTML(s string) string {
	clean := htmlTagRe.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(clean), " ")
}

// executeWithCircuitBreaker wraps an API call with circuit breaker protection.
func (a *GmailAdapter) executeWithCircuitBreaker(operation string, fn func() error) error {
	_, err := a.cb.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			if apiErr, ok := err.(*googleapi.Error); ok {
				switch apiErr.Code {
				case 500, 502, 503, 429:
					// Server-side failures trip the breaker.
					return nil, err
				case 400, 401, 403, 404:
					// Client errors must not open the circuit.
					return nil, &nonCircuitError{err: err}
				}
			}
			return nil, err
		}
		return nil, nil
	})

	if nce, ok := err.(*nonCircuitError); ok {
		return nce.err
	}

	if err != nil {
		logger.Warn("[GmailAdapter] circuit breaker error for %s: state=%s: %v",
			operation, a.cb.State().String(), err)
	}

	return err
}

// nonCircuitError wraps errors that should not trip the circuit breaker.
type nonCircuitError struct {
	err error
}

func (e *nonCircuitError) Error() string {
	return e.err.Error()
}

// IsCircuitOpen returns true if the circuit breaker is open.
func (a *GmailAdapter) IsCircuitOpen() bool {
	return a.cb.State() == gobreaker.StateOpen
}

func (a *GmailAdapter) wrapError(err error, defaultMsg string) error {
	if err == nil {
		return nil
	}

	if apiErr, ok := err.(*googleapi.Error); ok {
		switch apiErr.Code {
		case 401:
			return out.NewProviderError("gmail", out.ProviderErrTokenExpired, "Token expired", err, false)
		case 403:
			if strings.Contains(apiErr.Message, "Rate Limit") {
				return out.NewProviderError("gmail", out.ProviderErrRateLimit, "Rate limit exceeded", err, true)
			}
			return out.NewProviderError("gmail", out.ProviderErrAuth, "Access denied", err, false)
		case 404:
			return out.NewProviderError("gmail", out.ProviderErrNotFound, "Not found", err, false)
		case 429:
			return out.NewProviderError("gmail", out.ProviderErrRateLimit, "Too many requests", err, true)
		case 500, 502, 503:
			return out.NewProviderError("gmail", out.ProviderErrServer, "Server error", err, true)
		}
	}

	return out.NewProviderError("gmail", out.ProviderErrServer, defaultMsg, err, true)
}

// Ensure interface compliance
var _ out.MailProviderPort = (*GmailAdapter)(nil)
