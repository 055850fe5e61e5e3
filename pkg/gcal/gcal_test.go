package gcal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	contractx "github.com/tanpawarit/apex-sales-agent/agent/contract"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		BaseURL:    server.URL,
		Token:      "test-token",
		CalendarID: "primary",
		TimeZone:   "UTC",
		Timeout:    5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestNewClientValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(Config{BaseURL: "https://example.com", Token: ""}); err == nil {
		t.Fatal("expected error for missing token")
	}
	if _, err := NewClient(Config{BaseURL: "", Token: "x"}); err == nil {
		t.Fatal("expected error for missing base url")
	}
}

func TestCreateEventWithConferencing(t *testing.T) {
	t.Parallel()

	var gotPath, gotQuery, gotAuth string
	var gotBody eventResource

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		fmt.Fprint(w, `{
			"id": "evt_1",
			"summary": "Apex <> Dana",
			"htmlLink": "https://calendar.example/evt_1",
			"start": {"dateTime": "2024-01-08T15:00:00Z"},
			"end": {"dateTime": "2024-01-08T15:30:00Z"},
			"conferenceData": {"entryPoints": [{"entryPointType": "video", "uri": "https://meet.example/xyz"}]}
		}`)
	})

	start := time.Date(2024, 1, 8, 15, 0, 0, 0, time.UTC)
	created, err := client.CreateEventWithConferencing(context.Background(), contractx.CalendarEvent{
		Title:     "Apex <> Dana",
		Start:     start,
		End:       start.Add(30 * time.Minute),
		Attendees: []string{"dana@example.com"},
	})
	if err != nil {
		t.Fatalf("CreateEventWithConferencing: %v", err)
	}

	if gotPath != "/calendars/primary/events" {
		t.Fatalf("path = %q", gotPath)
	}
	if !strings.Contains(gotQuery, "conferenceDataVersion=1") {
		t.Fatalf("query = %q, want conferenceDataVersion=1", gotQuery)
	}
	if gotAuth != "Bearer test-token" {
		t.Fatalf("auth = %q", gotAuth)
	}
	if gotBody.ConferenceData == nil || gotBody.ConferenceData.CreateRequest == nil {
		t.Fatal("conference create request missing from payload")
	}
	if gotBody.ConferenceData.CreateRequest.RequestID == "" {
		t.Fatal("conference request id is empty")
	}
	if gotBody.ConferenceData.CreateRequest.ConferenceSolutionKey["type"] != "hangoutsMeet" {
		t.Fatalf("solution key = %v", gotBody.ConferenceData.CreateRequest.ConferenceSolutionKey)
	}
	if len(gotBody.Attendees) != 1 || gotBody.Attendees[0].Email != "dana@example.com" {
		t.Fatalf("attendees = %v", gotBody.Attendees)
	}

	if created.ID != "evt_1" {
		t.Fatalf("ID = %q", created.ID)
	}
	if created.ConferenceLink != "https://meet.example/xyz" {
		t.Fatalf("ConferenceLink = %q", created.ConferenceLink)
	}
	if !created.Start.Equal(start) {
		t.Fatalf("Start = %v", created.Start)
	}
}

func TestCreateEventCarriesRecurrence(t *testing.T) {
	t.Parallel()

	var gotBody eventResource
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		fmt.Fprint(w, `{
			"id": "evt_2",
			"recurrence": ["RRULE:FREQ=WEEKLY;COUNT=4"],
			"start": {"dateTime": "2024-01-08T15:00:00Z"},
			"end": {"dateTime": "2024-01-08T15:30:00Z"}
		}`)
	})

	start := time.Date(2024, 1, 8, 15, 0, 0, 0, time.UTC)
	created, err := client.CreateEvent(context.Background(), contractx.CalendarEvent{
		Title:      "Weekly sync",
		Start:      start,
		End:        start.Add(30 * time.Minute),
		Recurrence: []string{"RRULE:FREQ=WEEKLY;COUNT=4"},
	})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	if len(gotBody.Recurrence) != 1 || gotBody.Recurrence[0] != "RRULE:FREQ=WEEKLY;COUNT=4" {
		t.Fatalf("payload recurrence = %v", gotBody.Recurrence)
	}
	if len(created.Recurrence) != 1 {
		t.Fatalf("response recurrence = %v", created.Recurrence)
	}
}

func TestCreateEventRequiresTimes(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	_, err := client.CreateEvent(context.Background(), contractx.CalendarEvent{Title: "x"})
	if !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestFreeBusy(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		if r.URL.Path != "/freeBusy" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["timeMin"] == "" || body["timeMax"] == "" {
			t.Errorf("missing bounds: %v", body)
		}
		fmt.Fprint(w, `{
			"calendars": {
				"primary": {
					"busy": [
						{"start": "2024-01-08T15:00:00Z", "end": "2024-01-08T16:00:00Z"}
					]
				}
			}
		}`)
	})

	from := time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)
	busy, err := client.FreeBusy(context.Background(), from, from.Add(9*time.Hour))
	if err != nil {
		t.Fatalf("FreeBusy: %v", err)
	}
	if len(busy) != 1 {
		t.Fatalf("len(busy) = %d, want 1", len(busy))
	}
	want := time.Date(2024, 1, 8, 15, 0, 0, 0, time.UTC)
	if !busy[0].Start.Equal(want) {
		t.Fatalf("Start = %v, want %v", busy[0].Start, want)
	}
}

func TestListUpcomingQuery(t *testing.T) {
	t.Parallel()

	var gotQuery string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		fmt.Fprint(w, `{"items": [{"id": "evt_1", "summary": "Sync", "start": {"dateTime": "2024-01-08T15:00:00Z"}, "end": {"dateTime": "2024-01-08T16:00:00Z"}}]}`)
	})

	events, err := client.ListUpcoming(context.Background(), 5)
	if err != nil {
		t.Fatalf("ListUpcoming: %v", err)
	}
	if len(events) != 1 || events[0].Title != "Sync" {
		t.Fatalf("events = %+v", events)
	}
	for _, want := range []string{"singleEvents=true", "orderBy=startTime", "maxResults=5"} {
		if !strings.Contains(gotQuery, want) {
			t.Errorf("query %q missing %q", gotQuery, want)
		}
	}
}

func TestHTTPErrorMapsToCapabilityUnavailable(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"code": 403}}`, http.StatusForbidden)
	})

	_, err := client.ListUpcoming(context.Background(), 5)
	if !errors.Is(err, contractx.ErrCapabilityUnavailable) {
		t.Fatalf("expected ErrCapabilityUnavailable, got %v", err)
	}
}

func TestDeleteEvent(t *testing.T) {
	t.Parallel()

	var gotMethod, gotPath string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	})

	if err := client.DeleteEvent(context.Background(), "evt_9"); err != nil {
		t.Fatalf("DeleteEvent: %v", err)
	}
	if gotMethod != http.MethodDelete || gotPath != "/calendars/primary/events/evt_9" {
		t.Fatalf("request = %s %s", gotMethod, gotPath)
	}
	if err := client.DeleteEvent(context.Background(), "  "); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
