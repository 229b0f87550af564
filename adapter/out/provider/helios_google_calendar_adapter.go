package provider

import (
	"context"
	"fmt"
	"os"
	"time"

	"helios_server/core/port/out"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// GoogleCalendarAdapter implements out.CalendarProviderPort for Google Calendar.
type GoogleCalendarAdapter struct {
	config    *oauth2.Config
	tokenFile string
}

// GoogleCalendarConfig holds calendar adapter configuration.
type GoogleCalendarConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	TokenFile    string
}

// NewGoogleCalendarAdapter creates a new Google Calendar adapter.
func NewGoogleCalendarAdapter(cfg *GoogleCalendarConfig) *GoogleCalendarAdapter {
	config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       []string{calendar.CalendarScope},
		Endpoint:     google.Endpoint,
	}
	return &GoogleCalendarAdapter{config: config, tokenFile: cfg.TokenFile}
}

func (a *GoogleCalendarAdapter) getService(ctx context.Context) (*calendar.Service, error) {
	if a.tokenFile == "" {
		return nil, out.NewProviderError("gcal", out.ProviderErrAuth, "no token file configured", nil, false)
	}
	data, err := os.ReadFile(a.tokenFile)
	if err != nil {
		return nil, out.NewProviderError("gcal", out.ProviderErrAuth, "failed to read token file", err, false)
	}
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, out.NewProviderError("gcal", out.ProviderErrAuth, "failed to parse token file", err, false)
	}

	return calendar.NewService(ctx, option.WithTokenSource(
		a.config.TokenSource(ctx, &token),
	))
}

// ListEvents lists events in [timeMin, timeMax) ordered by start time.
func (a *GoogleCalendarAdapter) ListEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]*out.CalendarEvent, error) {
	svc, err := a.getService(ctx)
	if err != nil {
		return nil, err
	}

	if calendarID == "" {
		calendarID = "primary"
	}

	var events []*out.CalendarEvent
	pageToken := ""

	for {
		req := svc.Events.List(calendarID).
			TimeMin(timeMin.Format(time.RFC3339)).
			TimeMax(timeMax.Format(time.RFC3339)).
			SingleEvents(true).
			OrderBy("startTime").
			Context(ctx)
		if pageToken != "" {
			req = req.PageToken(pageToken)
		}

		resp, err := req.Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list events: %w", err)
		}

		for _, item := range resp.Items {
			events = append(events, a.convertEvent(item, calendarID))
		}

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	return events, nil
}

// InsertEvent creates a new event.
func (a *GoogleCalendarAdapter) InsertEvent(ctx context.Context, calendarID string, event *out.CalendarEvent) (*out.CalendarEvent, error) {
	svc, err := a.getService(ctx)
	if err != nil {
		return nil, err
	}

	if calendarID == "" {
		calendarID = "primary"
	}

	created, err := svc.Events.Insert(calendarID, a.toGoogleEvent(event)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}

	return a.convertEvent(created, calendarID), nil
}

// PatchEvent partially updates an event; nil fields are left alone.
func (a *GoogleCalendarAdapter) PatchEvent(ctx context.Context, calendarID, eventID string, patch *out.CalendarEventPatch) error {
	svc, err := a.getService(ctx)
	if err != nil {
		return err
	}

	if calendarID == "" {
		calendarID = "primary"
	}

	body := &calendar.Event{}
	if patch.Summary != nil {
		body.Summary = *patch.Summary
	}
	if patch.Description != nil {
		body.Description = *patch.Description
	}
	if patch.Start != nil {
		body.Start = &calendar.EventDateTime{
			DateTime: patch.Start.UTC().Format(time.RFC3339),
			TimeZone: "UTC",
		}
	}
	if patch.End != nil {
		body.End = &calendar.EventDateTime{
			DateTime: patch.End.UTC().Format(time.RFC3339),
			TimeZone: "UTC",
		}
	}

	if _, err := svc.Events.Patch(calendarID, eventID, body).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to patch event: %w", err)
	}
	return nil
}

// DeleteEvent deletes an event.
func (a *GoogleCalendarAdapter) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	svc, err := a.getService(ctx)
	if err != nil {
		return err
	}

	if calendarID == "" {
		calendarID = "primary"
	}

	if err := svc.Events.Delete(calendarID, eventID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	return nil
}

func (a *GoogleCalendarAdapter) convertEvent(event *calendar.Event, calendarID string) *out.CalendarEvent {
	result := &out.CalendarEvent{
		ID:          event.Id,
		CalendarID:  calendarID,
		Summary:     event.Summary,
		Description: event.Description,
		HTMLLink:    event.HtmlLink,
	}

	if event.Start != nil {
		if event.Start.DateTime != "" {
			t, _ := time.Parse(time.RFC3339, event.Start.DateTime)
			result.Start = t.UTC()
		} else if event.Start.Date != "" {
			t, _ := time.Parse("2006-01-02", event.Start.Date)
			result.Start = t
		}
	}
	if event.End != nil {
		if event.End.DateTime != "" {
			t, _ := time.Parse(time.RFC3339, event.End.DateTime)
			result.End = t.UTC()
		} else if event.End.Date != "" {
			t, _ := time.Parse("2006-01-02", event.End.Date)
			result.End = t
		}
	}

	if event.ExtendedProperties != nil && event.ExtendedProperties.Private != nil {
		result.Private = event.ExtendedProperties.Private
	}

	return result
}

func (a *GoogleCalendarAdapter) toGoogleEvent(event *out.CalendarEvent) *calendar.Event {
	gcalEvent := &calendar.Event{
		Summary:     event.Summary,
		Description: event.Description,
		Start: &calendar.EventDateTime{
			DateTime: event.Start.UTC().Format(time.RFC3339),
			TimeZone: "UTC",
		},
		End: &calendar.EventDateTime{
			DateTime: event.End.UTC().Format(time.RFC3339),
			TimeZone: "UTC",
		},
	}

	if len(event.Private) > 0 {
		gcalEvent.ExtendedProperties = &calendar.EventExtendedProperties{
			Private: event.Private,
		}
	}

	return gcalEvent
}

// Ensure interface compliance
var _ out.CalendarProviderPort = (*GoogleCalendarAdapter)(nil)
