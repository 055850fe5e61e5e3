package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/apex-sales-agent/agent/contract"
)

const (
	SourceMeeting      = "Meeting Scheduled"
	SourceConversation = "Conversation"
)

// Capture ties the qualifier and the store together: assess, then persist.
type Capture struct {
	qualifier *Qualifier
	store     contractx.LeadStore
	model     contractx.LanguageModel
	extractT  float64
}

func NewCapture(qualifier *Qualifier, store contractx.LeadStore, model contractx.LanguageModel, extractTemperature float64) *Capture {
	return &Capture{
		qualifier: qualifier,
		store:     store,
		model:     model,
		extractT:  extractTemperature,
	}
}

// MeetingLead records the prospect attached to a fresh booking. The
// scheduled time feeds the assessment context for better scoring.
type MeetingLead struct {
	Name        string
	Email       string
	Company     string
	Interest    string
	MeetingID   string
	MeetingTime string
	MeetingLink string
}

func (c *Capture) CaptureMeetingLead(ctx context.Context, in MeetingLead) (contractx.Lead, Assessment, error) {
	meetingContext := "Scheduled meeting for " + in.MeetingTime
	if in.MeetingID != "" {
		meetingContext += " (Event ID: " + in.MeetingID + ")"
	}

	assessment := c.qualifier.Assess(ctx, AssessmentInput{
		Name:     in.Name,
		Contact:  in.Email,
		Company:  in.Company,
		Interest: in.Interest,
		Context:  meetingContext,
	})

	lead, err := c.store.Create(ctx, contractx.Lead{
		Name:               in.Name,
		Email:              in.Email,
		Company:            in.Company,
		Interest:           in.Interest,
		LeadScore:          assessment.Score,
		QualificationNotes: assessment.Rationale,
		MeetingID:          in.MeetingID,
		MeetingTime:        in.MeetingTime,
		MeetingLink:        in.MeetingLink,
		Source:             SourceMeeting,
	})
	if err != nil {
		return contractx.Lead{}, assessment, err
	}
	return lead, assessment, nil
}

type extractedLead struct {
	Name     string `json:"name"`
	Contact  string `json:"contact"`
	Company  string `json:"company"`
	Interest string `json:"project_interest"`
}

// CaptureFromConversation extracts lead details from a transcript, then
// assesses and stores them.
func (c *Capture) CaptureFromConversation(ctx context.Context, transcript string) (contractx.Lead, Assessment, error) {
	if c.model == nil {
		return contractx.Lead{}, Assessment{}, fmt.Errorf("%w: extraction model", contractx.ErrCapabilityUnavailable)
	}
	if strings.TrimSpace(transcript) == "" {
		return contractx.Lead{}, Assessment{}, fmt.Errorf("%w: transcript is empty", contractx.ErrValidation)
	}

	system := "You are an intelligent assistant that extracts lead information from conversations. " +
		"From the dialogue, infer the lead's name, contact info, company, and their core business " +
		"need or project interest. If a field cannot be confidently inferred, leave it empty. " +
		"Respond in JSON format only."
	user := "Conversation:\n" + transcript + "\n\n" +
		`Extract lead information as JSON: {"name": "...", "contact": "...", "company": "...", "project_interest": "..."}`

	turn, err := c.model.Complete(ctx, contractx.CompletionRequest{
		System:      system,
		Messages:    []contractx.Message{{Role: contractx.RoleUser, Content: user}},
		Temperature: c.extractT,
		MaxTokens:   300,
	})
	if err != nil {
		return contractx.Lead{}, Assessment{}, fmt.Errorf("%w: extract lead: %v", contractx.ErrModelInvoke, err)
	}

	text := strings.TrimSpace(turn.Content)
	if match := jsonObjectPattern.FindString(text); match != "" {
		text = match
	}
	var extracted extractedLead
	if err := json.Unmarshal([]byte(text), &extracted); err != nil {
		return contractx.Lead{}, Assessment{}, fmt.Errorf("%w: extraction response is not JSON: %v", contractx.ErrSchemaViolation, err)
	}
	if strings.TrimSpace(extracted.Interest) == "" {
		return contractx.Lead{}, Assessment{}, fmt.Errorf("%w: could not determine the prospect's business interest", contractx.ErrValidation)
	}
	if strings.TrimSpace(extracted.Name) == "" {
		extracted.Name = "Unknown"
	}
	if strings.TrimSpace(extracted.Contact) == "" {
		return contractx.Lead{}, Assessment{}, fmt.Errorf("%w: could not determine the prospect's contact address", contractx.ErrValidation)
	}

	assessment := c.qualifier.Assess(ctx, AssessmentInput{
		Name:     extracted.Name,
		Contact:  extracted.Contact,
		Company:  extracted.Company,
		Interest: extracted.Interest,
	})

	lead, err := c.store.Create(ctx, contractx.Lead{
		Name:               extracted.Name,
		Email:              extracted.Contact,
		Company:            extracted.Company,
		Interest:           extracted.Interest,
		LeadScore:          assessment.Score,
		QualificationNotes: assessment.Rationale,
		Source:             SourceConversation,
	})
	if err != nil {
		return contractx.Lead{}, assessment, err
	}
	return lead, assessment, nil
}
