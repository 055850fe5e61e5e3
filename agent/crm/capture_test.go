package crm

import (
	"context"
	"errors"
	"testing"

	contractx "github.com/tanpawarit/apex-sales-agent/agent/contract"
)

func TestCaptureMeetingLead(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	qualifier := NewQualifier(&fakeModel{
		content: `{"summary":"Wants a CRM integration","lead_score":7.5,"qualification_reason":"Budget mentioned"}`,
	}, 0.3, "")
	capture := NewCapture(qualifier, store, nil, 0)

	lead, assessment, err := capture.CaptureMeetingLead(context.Background(), MeetingLead{
		Name:        "Dana",
		Email:       "dana@example.com",
		Company:     "Acme",
		Interest:    "CRM integration",
		MeetingID:   "evt_123",
		MeetingTime: "2024-01-08T15:00:00Z",
		MeetingLink: "https://meet.example/abc",
	})
	if err != nil {
		t.Fatalf("CaptureMeetingLead: %v", err)
	}
	if lead.Source != SourceMeeting {
		t.Fatalf("Source = %q, want %q", lead.Source, SourceMeeting)
	}
	if lead.MeetingID != "evt_123" {
		t.Fatalf("MeetingID = %q", lead.MeetingID)
	}
	if lead.LeadScore != 7.5 {
		t.Fatalf("LeadScore = %v, want 7.5", lead.LeadScore)
	}
	if lead.Status != contractx.StatusQualified {
		t.Fatalf("Status = %q, want %q", lead.Status, contractx.StatusQualified)
	}
	if assessment.Summary == "" {
		t.Fatal("expected an assessment summary")
	}

	stored, err := store.GetByEmail(context.Background(), "dana@example.com")
	if err != nil {
		t.Fatalf("GetByEmail: %v", err)
	}
	if stored.ID != lead.ID {
		t.Fatalf("stored id=%d, want %d", stored.ID, lead.ID)
	}
}

func TestCaptureFromConversation(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	extractor := &fakeModel{
		content: `{"name":"Sam Lee","contact":"sam@example.com","company":"Initech","project_interest":"data pipeline overhaul"}`,
	}
	qualifier := NewQualifier(&fakeModel{
		content: `{"summary":"Data pipeline overhaul","lead_score":6.0,"qualification_reason":"Concrete requirement"}`,
	}, 0.3, "")
	capture := NewCapture(qualifier, store, extractor, 0)

	lead, _, err := capture.CaptureFromConversation(context.Background(),
		"User: we need help overhauling our data pipeline\nAssistant: happy to help, what's your email?\nUser: sam@example.com")
	if err != nil {
		t.Fatalf("CaptureFromConversation: %v", err)
	}
	if lead.Name != "Sam Lee" || lead.Email != "sam@example.com" {
		t.Fatalf("lead = %+v", lead)
	}
	if lead.Source != SourceConversation {
		t.Fatalf("Source = %q, want %q", lead.Source, SourceConversation)
	}
}

func TestCaptureFromConversationMissingFields(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	qualifier := NewQualifier(nil, 0, "")

	cases := []struct {
		name    string
		content string
	}{
		{"no interest", `{"name":"Sam","contact":"sam@example.com","company":"","project_interest":""}`},
		{"no contact", `{"name":"Sam","contact":"","company":"","project_interest":"new website"}`},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			capture := NewCapture(qualifier, store, &fakeModel{content: tc.content}, 0)
			_, _, err := capture.CaptureFromConversation(context.Background(), "User: hello")
			if !errors.Is(err, contractx.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}
