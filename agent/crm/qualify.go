package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/apex-sales-agent/agent/contract"
)

var (
	jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)
	numberPattern     = regexp.MustCompile(`[\d.]+`)
)

// AssessmentInput carries everything known about a prospect at scoring
// time. Context is free text, e.g. "scheduled meeting for <time>".
type AssessmentInput struct {
	Name     string
	Contact  string
	Company  string
	Interest string
	Context  string
}

// Assessment is the qualification verdict. Score is always within [0, 10].
type Assessment struct {
	Summary   string  `json:"summary"`
	Score     float64 `json:"lead_score"`
	Rationale string  `json:"qualification_reason"`
}

// Qualifier scores prospects with the language model. It never returns an
// error: any failure degrades to a neutral default so the surrounding
// flow (booking, capture) always completes.
type Qualifier struct {
	model       contractx.LanguageModel
	temperature float64
	company     string
}

func NewQualifier(model contractx.LanguageModel, temperature float64, company string) *Qualifier {
	if strings.TrimSpace(company) == "" {
		company = "Apex Digital Solutions"
	}
	return &Qualifier{model: model, temperature: temperature, company: company}
}

func (q *Qualifier) Assess(ctx context.Context, in AssessmentInput) Assessment {
	fallback := Assessment{
		Summary:   defaultSummary(in),
		Score:     5.0,
		Rationale: "Assessment failed, default scoring applied",
	}
	if q.model == nil {
		return fallback
	}

	system := fmt.Sprintf(
		"You are a smart B2B lead qualification assistant for %s, a technology services company. "+
			"Given information about a potential lead, generate:\n"+
			"1. A concise one-sentence summary of their interest/intent\n"+
			"2. A lead score from 0-10 where:\n"+
			"   - 9-10: Decision maker with clear project needs and urgency\n"+
			"   - 7-8: Strong interest with budget/timeline mentioned\n"+
			"   - 5-6: Exploring options, some concrete requirements\n"+
			"   - 3-4: Early stage inquiry, vague needs\n"+
			"   - 0-2: Unqualified or irrelevant\n"+
			"Respond only with valid JSON.", q.company)

	parts := []string{
		"Name: " + in.Name,
		"Contact: " + in.Contact,
	}
	if in.Company != "" {
		parts = append(parts, "Company: "+in.Company)
	}
	if in.Interest != "" {
		parts = append(parts, "Project/Interest: "+in.Interest)
	}
	if in.Context != "" {
		parts = append(parts, "Meeting Context: "+in.Context)
	}

	user := "Lead assessment for:\n" + strings.Join(parts, "\n") + "\n\n" +
		"Provide JSON with:\n" +
		"summary: one-sentence summary (max 30 words)\n" +
		"lead_score: number 0-10 (one decimal place)\n" +
		"qualification_reason: brief reason for the score"

	turn, err := q.model.Complete(ctx, contractx.CompletionRequest{
		System:      system,
		Messages:    []contractx.Message{{Role: contractx.RoleUser, Content: user}},
		Temperature: q.temperature,
		MaxTokens:   300,
	})
	if err != nil {
		log.Warn().Err(err).Str("contact", in.Contact).Msg("lead assessment failed, using default")
		return fallback
	}

	assessment, ok := parseAssessment(turn.Content)
	if !ok {
		log.Warn().Str("contact", in.Contact).Msg("unparseable assessment response, using default")
		return fallback
	}
	if assessment.Summary == "" {
		assessment.Summary = fallback.Summary
	}
	return assessment
}

// parseAssessment extracts the first JSON object from the response and
// coerces the score to a clamped, one-decimal real.
func parseAssessment(content string) (Assessment, bool) {
	text := strings.TrimSpace(content)
	if match := jsonObjectPattern.FindString(text); match != "" {
		text = match
	}

	var raw struct {
		Summary   string          `json:"summary"`
		Score     json.RawMessage `json:"lead_score"`
		Rationale string          `json:"qualification_reason"`
	}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return Assessment{}, false
	}

	return Assessment{
		Summary:   strings.TrimSpace(raw.Summary),
		Score:     ClampScore(coerceScore(raw.Score)),
		Rationale: strings.TrimSpace(raw.Rationale),
	}, true
}

func coerceScore(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var score float64
	if err := json.Unmarshal(raw, &score); err == nil {
		return score
	}
	// The model sometimes quotes the number or adds units.
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if match := numberPattern.FindString(s); match != "" {
			fmt.Sscanf(match, "%f", &score)
			return score
		}
	}
	if match := numberPattern.FindString(string(raw)); match != "" {
		fmt.Sscanf(match, "%f", &score)
	}
	return score
}

// ClampScore bounds a score to [0, 10] and rounds to one decimal place.
func ClampScore(score float64) float64 {
	if math.IsNaN(score) {
		return 0
	}
	score = math.Max(0, math.Min(10, score))
	return math.Round(score*10) / 10
}

func defaultSummary(in AssessmentInput) string {
	if strings.TrimSpace(in.Interest) != "" {
		return in.Interest
	}
	return "No summary available"
}
