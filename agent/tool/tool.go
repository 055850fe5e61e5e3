package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/apex-sales-agent/agent/contract"
	"github.com/tanpawarit/apex-sales-agent/agent/crm"
	"github.com/tanpawarit/apex-sales-agent/agent/rag"
	"github.com/tanpawarit/apex-sales-agent/agent/schedule"
	"github.com/tanpawarit/apex-sales-agent/agent/timeparse"
)

// Tool names exposed to the model.
const (
	NameKnowledgeSearch = "knowledge_base_search"
	NameScheduleMeeting = "schedule_meeting"
	NameSuggestTimes    = "suggest_meeting_times"
	NameListUpcoming    = "list_upcoming_meetings"
	NameCaptureLead     = "capture_lead_from_conversation"
	NameLeadStats       = "lead_stats"
	NameParseDatetime   = "parse_datetime"
	NameParseDuration   = "parse_duration"
)

// Catalog holds every tool the agent can call and executes them against
// the wired capabilities. Tools for an absent capability are omitted
// from Specs so the model never sees what it cannot use.
type Catalog struct {
	knowledge *rag.Engine
	scheduler *schedule.Engine
	capture   *crm.Capture
	leads     contractx.LeadStore
	parser    *timeparse.Parser
	now       func() time.Time
}

func NewCatalog(knowledge *rag.Engine, scheduler *schedule.Engine, capture *crm.Capture, leads contractx.LeadStore, parser *timeparse.Parser) *Catalog {
	return &Catalog{
		knowledge: knowledge,
		scheduler: scheduler,
		capture:   capture,
		leads:     leads,
		parser:    parser,
		now:       time.Now,
	}
}

// Specs returns the catalog as model-facing tool descriptions.
func (c *Catalog) Specs() []contractx.ToolInfo {
	var specs []contractx.ToolInfo
	if c.knowledge != nil {
		specs = append(specs, contractx.ToolInfo{
			Name: NameKnowledgeSearch,
			Description: "Search the company knowledge base for information about services, " +
				"pricing, case studies, and policies. Use this for any question about the company.",
			Parameters: objectSchema(map[string]any{
				"query": stringProp("The question or topic to look up"),
			}, "query"),
		})
	}
	if c.scheduler != nil {
		specs = append(specs,
			contractx.ToolInfo{
				Name: NameScheduleMeeting,
				Description: "Schedule a meeting with the prospect. Requires their name, email, " +
					"and the requested time in natural language (e.g. 'next Tuesday at 3pm').",
				Parameters: objectSchema(map[string]any{
					"name":     stringProp("Prospect's full name"),
					"email":    stringProp("Prospect's email address"),
					"company":  stringProp("Prospect's company, if known"),
					"interest": stringProp("What the prospect wants to discuss"),
					"when":     stringProp("Requested meeting time in natural language"),
					"duration": stringProp("Meeting length, e.g. '45 minutes'; omit for the default"),
					"repeat":   stringProp("Recurrence: 'daily', 'weekly', 'biweekly', or 'monthly'; omit for a one-off meeting"),
					"repeat_count": map[string]any{
						"type":        "integer",
						"description": "Number of occurrences for a recurring meeting; omit for open-ended",
					},
				}, "name", "email", "when"),
			},
			contractx.ToolInfo{
				Name:        NameSuggestTimes,
				Description: "Suggest up to three free meeting slots near a requested time.",
				Parameters: objectSchema(map[string]any{
					"when":     stringProp("Approximate desired time in natural language"),
					"duration": stringProp("Meeting length, e.g. '30 minutes'; omit for the default"),
				}, "when"),
			},
			contractx.ToolInfo{
				Name:        NameListUpcoming,
				Description: "List upcoming meetings on the calendar.",
				Parameters: objectSchema(map[string]any{
					"max": map[string]any{"type": "integer", "description": "Maximum number of meetings to return (default 10)"},
				}),
			},
		)
	}
	if c.capture != nil {
		specs = append(specs, contractx.ToolInfo{
			Name: NameCaptureLead,
			Description: "Save the current prospect as a lead using details from this conversation. " +
				"Use when the prospect shares contact details but does not book a meeting.",
			Parameters: objectSchema(map[string]any{}),
		})
	}
	if c.leads != nil {
		specs = append(specs, contractx.ToolInfo{
			Name:        NameLeadStats,
			Description: "Summarize the lead book: totals, status breakdown, average score.",
			Parameters:  objectSchema(map[string]any{}),
		})
	}
	if c.parser != nil {
		specs = append(specs,
			contractx.ToolInfo{
				Name:        NameParseDatetime,
				Description: "Resolve a natural-language date/time expression to an exact timestamp.",
				Parameters: objectSchema(map[string]any{
					"text": stringProp("The date/time expression, e.g. 'next Friday at 2pm'"),
				}, "text"),
			},
			contractx.ToolInfo{
				Name:        NameParseDuration,
				Description: "Resolve a natural-language duration expression to minutes.",
				Parameters: objectSchema(map[string]any{
					"text": stringProp("The duration expression, e.g. '1 hour 30 minutes'"),
				}, "text"),
			},
		)
	}
	return specs
}

// Execute runs one tool call and renders the outcome as text for the
// model. Domain failures (parse errors, conflicts, validation) come back
// as readable messages rather than errors so the model can recover.
func (c *Catalog) Execute(ctx context.Context, call contractx.ToolCall, transcript string) (string, error) {
	switch call.Name {
	case NameKnowledgeSearch:
		return c.execKnowledgeSearch(ctx, call.Args)
	case NameScheduleMeeting:
		return c.execScheduleMeeting(ctx, call.Args)
	case NameSuggestTimes:
		return c.execSuggestTimes(ctx, call.Args)
	case NameListUpcoming:
		return c.execListUpcoming(ctx, call.Args)
	case NameCaptureLead:
		return c.execCaptureLead(ctx, transcript)
	case NameLeadStats:
		return c.execLeadStats(ctx)
	case NameParseDatetime:
		return c.execParseDatetime(ctx, call.Args)
	case NameParseDuration:
		return c.execParseDuration(call.Args)
	default:
		return "", fmt.Errorf("%w: unknown tool %q", contractx.ErrNotFound, call.Name)
	}
}

func (c *Catalog) execKnowledgeSearch(ctx context.Context, args map[string]any) (string, error) {
	if c.knowledge == nil {
		return "", fmt.Errorf("%w: knowledge base", contractx.ErrCapabilityUnavailable)
	}
	query := stringArg(args, "query")
	if query == "" {
		return "Error: the 'query' argument is required.", nil
	}
	answer, err := c.knowledge.Ask(ctx, query)
	if err != nil {
		return "Error: knowledge base lookup failed: " + err.Error(), nil
	}
	return answer.Text, nil
}

func (c *Catalog) execScheduleMeeting(ctx context.Context, args map[string]any) (string, error) {
	if c.scheduler == nil {
		return "", fmt.Errorf("%w: scheduler", contractx.ErrCapabilityUnavailable)
	}
	req := schedule.BookingRequest{
		Name:        stringArg(args, "name"),
		Email:       stringArg(args, "email"),
		Company:     stringArg(args, "company"),
		Interest:    stringArg(args, "interest"),
		When:        stringArg(args, "when"),
		Duration:    stringArg(args, "duration"),
		Repeat:      stringArg(args, "repeat"),
		RepeatCount: intArg(args, "repeat_count", 0),
	}
	if req.Name == "" || req.Email == "" || req.When == "" {
		return "Error: 'name', 'email', and 'when' are all required to schedule a meeting.", nil
	}

	booking, err := c.scheduler.Book(ctx, req)
	if err != nil {
		return "Error: " + err.Error(), nil
	}
	return booking.Confirmation, nil
}

func (c *Catalog) execSuggestTimes(ctx context.Context, args map[string]any) (string, error) {
	if c.scheduler == nil || c.parser == nil {
		return "", fmt.Errorf("%w: scheduler", contractx.ErrCapabilityUnavailable)
	}
	when := stringArg(args, "when")
	if when == "" {
		return "Error: the 'when' argument is required.", nil
	}

	start, err := c.parser.ParseDateTime(ctx, when, c.now())
	if err != nil {
		return "Error: " + err.Error(), nil
	}
	var duration time.Duration
	if text := stringArg(args, "duration"); text != "" {
		duration, err = c.parser.ParseDuration(text)
		if err != nil {
			return "Error: " + err.Error(), nil
		}
	}

	slots, err := c.scheduler.SuggestAlternatives(ctx, start, duration)
	if err != nil {
		return "Error: " + err.Error(), nil
	}
	lines := make([]string, 0, len(slots)+1)
	lines = append(lines, "Available slots:")
	for _, slot := range slots {
		lines = append(lines, "- "+slot.Format("Monday, January 2 at 3:04 PM"))
	}
	return strings.Join(lines, "\n"), nil
}

func (c *Catalog) execListUpcoming(ctx context.Context, args map[string]any) (string, error) {
	if c.scheduler == nil {
		return "", fmt.Errorf("%w: scheduler", contractx.ErrCapabilityUnavailable)
	}
	events, err := c.scheduler.ListUpcoming(ctx, intArg(args, "max", 10))
	if err != nil {
		return "Error: could not list meetings: " + err.Error(), nil
	}
	if len(events) == 0 {
		return "No upcoming meetings.", nil
	}
	lines := make([]string, 0, len(events)+1)
	lines = append(lines, "Upcoming meetings:")
	for _, ev := range events {
		lines = append(lines, fmt.Sprintf("- %s: %s", ev.Start.Format("Mon Jan 2 15:04"), ev.Title))
	}
	return strings.Join(lines, "\n"), nil
}

func (c *Catalog) execCaptureLead(ctx context.Context, transcript string) (string, error) {
	if c.capture == nil {
		return "", fmt.Errorf("%w: lead capture", contractx.ErrCapabilityUnavailable)
	}
	lead, assessment, err := c.capture.CaptureFromConversation(ctx, transcript)
	if err != nil {
		return "Error: " + err.Error(), nil
	}
	return fmt.Sprintf("Lead saved: %s (%s), score %.1f (%s). %s",
		lead.Name, lead.Email, lead.LeadScore, lead.Status, assessment.Summary), nil
}

func (c *Catalog) execLeadStats(ctx context.Context) (string, error) {
	if c.leads == nil {
		return "", fmt.Errorf("%w: lead store", contractx.ErrCapabilityUnavailable)
	}
	stats, err := c.leads.Stats(ctx)
	if err != nil {
		return "Error: could not compute lead stats: " + err.Error(), nil
	}
	payload, err := json.Marshal(stats)
	if err != nil {
		return "", fmt.Errorf("marshal lead stats: %w", err)
	}
	return string(payload), nil
}

func (c *Catalog) execParseDatetime(ctx context.Context, args map[string]any) (string, error) {
	if c.parser == nil {
		return "", fmt.Errorf("%w: datetime parser", contractx.ErrCapabilityUnavailable)
	}
	text := stringArg(args, "text")
	if text == "" {
		return "Error: the 'text' argument is required.", nil
	}
	parsed, err := c.parser.ParseDateTime(ctx, text, c.now())
	if err != nil {
		return "Error: " + err.Error(), nil
	}
	return parsed.Format(time.RFC3339), nil
}

func (c *Catalog) execParseDuration(args map[string]any) (string, error) {
	if c.parser == nil {
		return "", fmt.Errorf("%w: datetime parser", contractx.ErrCapabilityUnavailable)
	}
	text := stringArg(args, "text")
	if text == "" {
		return "Error: the 'text' argument is required.", nil
	}
	duration, err := c.parser.ParseDuration(text)
	if err != nil {
		return "Error: " + err.Error(), nil
	}
	return fmt.Sprintf("%d minutes", int(duration/time.Minute)), nil
}

func stringArg(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	if v, ok := args[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func intArg(args map[string]any, key string, fallback int) int {
	if args == nil {
		return fallback
	}
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return fallback
}

func objectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}
