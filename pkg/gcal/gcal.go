package gcal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	contractx "github.com/tanpawarit/apex-sales-agent/agent/contract"
)

const maxResponseSizeBytes = 2 << 20

type Config struct {
	BaseURL    string        `envconfig:"BASE_URL" split_words:"true" default:"https://www.googleapis.com/calendar/v3"`
	Token      string        `envconfig:"TOKEN" split_words:"true" required:"true"`
	CalendarID string        `envconfig:"CALENDAR_ID" split_words:"true" default:"primary"`
	TimeZone   string        `envconfig:"TIMEZONE" split_words:"true" default:"America/New_York"`
	Timeout    time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"15s"`
}

// Client talks to the Google Calendar REST API with a bearer token.
type Client struct {
	baseURL    string
	token      string
	calendarID string
	timeZone   string
	httpClient *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("calendar base url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid calendar base url: %w", err)
	}

	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("calendar token is required")
	}

	calendarID := strings.TrimSpace(cfg.CalendarID)
	if calendarID == "" {
		calendarID = "primary"
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		baseURL:    baseURL,
		token:      token,
		calendarID: calendarID,
		timeZone:   strings.TrimSpace(cfg.TimeZone),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func MustNew(cfg Config) *Client {
	client, err := NewClient(cfg)
	if err != nil {
		panic(err)
	}
	return client
}

type eventTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

type eventAttendee struct {
	Email string `json:"email"`
}

type conferenceData struct {
	CreateRequest *conferenceCreateRequest `json:"createRequest,omitempty"`
	EntryPoints   []conferenceEntryPoint   `json:"entryPoints,omitempty"`
}

type conferenceCreateRequest struct {
	RequestID             string            `json:"requestId"`
	ConferenceSolutionKey map[string]string `json:"conferenceSolutionKey"`
}

type conferenceEntryPoint struct {
	EntryPointType string `json:"entryPointType,omitempty"`
	URI            string `json:"uri,omitempty"`
}

type eventResource struct {
	ID             string          `json:"id,omitempty"`
	Summary        string          `json:"summary,omitempty"`
	Description    string          `json:"description,omitempty"`
	Start          *eventTime      `json:"start,omitempty"`
	End            *eventTime      `json:"end,omitempty"`
	Attendees      []eventAttendee `json:"attendees,omitempty"`
	Recurrence     []string        `json:"recurrence,omitempty"`
	HTMLLink       string          `json:"htmlLink,omitempty"`
	ConferenceData *conferenceData `json:"conferenceData,omitempty"`
}

func (c *Client) CreateEvent(ctx context.Context, ev contractx.CalendarEvent) (contractx.CalendarEvent, error) {
	return c.insertEvent(ctx, ev, false)
}

func (c *Client) CreateEventWithConferencing(ctx context.Context, ev contractx.CalendarEvent) (contractx.CalendarEvent, error) {
	return c.insertEvent(ctx, ev, true)
}

func (c *Client) insertEvent(ctx context.Context, ev contractx.CalendarEvent, withConferencing bool) (contractx.CalendarEvent, error) {
	if ev.Start.IsZero() || ev.End.IsZero() {
		return contractx.CalendarEvent{}, fmt.Errorf("%w: event start and end are required", contractx.ErrValidation)
	}

	resource := c.toResource(ev)
	query := url.Values{"sendUpdates": {"all"}}
	if withConferencing {
		resource.ConferenceData = &conferenceData{
			CreateRequest: &conferenceCreateRequest{
				RequestID:             "meet-" + uuid.NewString(),
				ConferenceSolutionKey: map[string]string{"type": "hangoutsMeet"},
			},
		}
		query.Set("conferenceDataVersion", "1")
	}

	path := fmt.Sprintf("/calendars/%s/events", url.PathEscape(c.calendarID))
	var created eventResource
	if err := c.do(ctx, http.MethodPost, path, query, resource, &created); err != nil {
		return contractx.CalendarEvent{}, err
	}
	return c.fromResource(created), nil
}

func (c *Client) ListUpcoming(ctx context.Context, max int) ([]contractx.CalendarEvent, error) {
	if max <= 0 {
		max = 10
	}
	query := url.Values{
		"timeMin":      {time.Now().UTC().Format(time.RFC3339)},
		"maxResults":   {strconv.Itoa(max)},
		"singleEvents": {"true"},
		"orderBy":      {"startTime"},
	}

	path := fmt.Sprintf("/calendars/%s/events", url.PathEscape(c.calendarID))
	var listed struct {
		Items []eventResource `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, path, query, nil, &listed); err != nil {
		return nil, err
	}

	events := make([]contractx.CalendarEvent, 0, len(listed.Items))
	for _, item := range listed.Items {
		events = append(events, c.fromResource(item))
	}
	return events, nil
}

func (c *Client) UpdateEvent(ctx context.Context, ev contractx.CalendarEvent) (contractx.CalendarEvent, error) {
	if strings.TrimSpace(ev.ID) == "" {
		return contractx.CalendarEvent{}, fmt.Errorf("%w: event id is required", contractx.ErrValidation)
	}

	path := fmt.Sprintf("/calendars/%s/events/%s", url.PathEscape(c.calendarID), url.PathEscape(ev.ID))
	var updated eventResource
	if err := c.do(ctx, http.MethodPatch, path, url.Values{"sendUpdates": {"all"}}, c.toResource(ev), &updated); err != nil {
		return contractx.CalendarEvent{}, err
	}
	return c.fromResource(updated), nil
}

func (c *Client) DeleteEvent(ctx context.Context, eventID string) error {
	if strings.TrimSpace(eventID) == "" {
		return fmt.Errorf("%w: event id is required", contractx.ErrValidation)
	}
	path := fmt.Sprintf("/calendars/%s/events/%s", url.PathEscape(c.calendarID), url.PathEscape(eventID))
	return c.do(ctx, http.MethodDelete, path, nil, nil, nil)
}

func (c *Client) FreeBusy(ctx context.Context, from, to time.Time) ([]contractx.BusyInterval, error) {
	body := map[string]any{
		"timeMin": from.UTC().Format(time.RFC3339),
		"timeMax": to.UTC().Format(time.RFC3339),
		"items":   []map[string]string{{"id": c.calendarID}},
	}

	var parsed struct {
		Calendars map[string]struct {
			Busy []struct {
				Start time.Time `json:"start"`
				End   time.Time `json:"end"`
			} `json:"busy"`
		} `json:"calendars"`
	}
	if err := c.do(ctx, http.MethodPost, "/freeBusy", nil, body, &parsed); err != nil {
		return nil, err
	}

	entry, ok := parsed.Calendars[c.calendarID]
	if !ok {
		return nil, nil
	}
	intervals := make([]contractx.BusyInterval, 0, len(entry.Busy))
	for _, b := range entry.Busy {
		intervals = append(intervals, contractx.BusyInterval{Start: b.Start, End: b.End})
	}
	return intervals, nil
}

func (c *Client) toResource(ev contractx.CalendarEvent) eventResource {
	resource := eventResource{
		Summary:     ev.Title,
		Description: ev.Description,
		Recurrence:  ev.Recurrence,
	}
	if !ev.Start.IsZero() {
		resource.Start = &eventTime{DateTime: ev.Start.Format(time.RFC3339), TimeZone: c.timeZone}
	}
	if !ev.End.IsZero() {
		resource.End = &eventTime{DateTime: ev.End.Format(time.RFC3339), TimeZone: c.timeZone}
	}
	for _, email := range ev.Attendees {
		resource.Attendees = append(resource.Attendees, eventAttendee{Email: email})
	}
	return resource
}

func (c *Client) fromResource(resource eventResource) contractx.CalendarEvent {
	ev := contractx.CalendarEvent{
		ID:          resource.ID,
		Title:       resource.Summary,
		Description: resource.Description,
		Recurrence:  resource.Recurrence,
		HTMLLink:    resource.HTMLLink,
	}
	if resource.Start != nil && resource.Start.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, resource.Start.DateTime); err == nil {
			ev.Start = t
		}
	}
	if resource.End != nil && resource.End.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, resource.End.DateTime); err == nil {
			ev.End = t
		}
	}
	for _, attendee := range resource.Attendees {
		ev.Attendees = append(ev.Attendees, attendee.Email)
	}
	if resource.ConferenceData != nil {
		for _, entry := range resource.ConferenceData.EntryPoints {
			if entry.URI != "" {
				ev.ConferenceLink = entry.URI
				break
			}
		}
	}
	return ev
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal calendar request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build calendar request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: calendar request: %v", contractx.ErrCapabilityUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return fmt.Errorf("read calendar response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: calendar http status=%d body=%s", contractx.ErrCapabilityUnavailable, resp.StatusCode, string(raw))
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode calendar response: %w", err)
	}
	return nil
}

var _ contractx.Calendar = (*Client)(nil)
