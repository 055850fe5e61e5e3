package schedule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/apex-sales-agent/agent/contract"
	"github.com/tanpawarit/apex-sales-agent/agent/crm"
	"github.com/tanpawarit/apex-sales-agent/agent/timeparse"
)

const (
	businessOpenHour  = 9
	businessCloseHour = 18
	probeStep         = time.Hour
	maxProbes         = 50
	maxSuggestions    = 3
)

// Config tunes booking behavior. CheckAvailability gates the free/busy
// conflict check; disabling it books blind.
type Config struct {
	DefaultDuration   time.Duration `envconfig:"DEFAULT_DURATION" split_words:"true" default:"30m"`
	CheckAvailability bool          `envconfig:"CHECK_AVAILABILITY" split_words:"true" default:"true"`
	Conferencing      bool          `envconfig:"CONFERENCING" split_words:"true" default:"true"`
	CompanyName       string        `envconfig:"COMPANY_NAME" split_words:"true" default:"Apex Digital Solutions"`
}

// Engine books meetings end to end: parse the requested time, check the
// calendar, create the event, and capture the lead.
type Engine struct {
	calendar contractx.Calendar
	parser   *timeparse.Parser
	capture  *crm.Capture
	cfg      Config
	now      func() time.Time
}

func NewEngine(calendar contractx.Calendar, parser *timeparse.Parser, capture *crm.Capture, cfg Config) (*Engine, error) {
	if calendar == nil {
		return nil, fmt.Errorf("%w: calendar", contractx.ErrCapabilityUnavailable)
	}
	if parser == nil {
		return nil, fmt.Errorf("%w: datetime parser", contractx.ErrCapabilityUnavailable)
	}
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = 30 * time.Minute
	}
	if strings.TrimSpace(cfg.CompanyName) == "" {
		cfg.CompanyName = "Apex Digital Solutions"
	}
	return &Engine{
		calendar: calendar,
		parser:   parser,
		capture:  capture,
		cfg:      cfg,
		now:      time.Now,
	}, nil
}

// BookingRequest is everything needed to schedule one meeting. When is
// natural language; Duration likewise ("45 minutes"), empty meaning the
// configured default. Repeat makes the meeting recurring ("daily",
// "weekly", "biweekly", "monthly"); RepeatCount bounds the series, zero
// meaning open-ended.
type BookingRequest struct {
	Name        string
	Email       string
	Company     string
	Interest    string
	When        string
	Duration    string
	Repeat      string
	RepeatCount int
}

// Booking is a confirmed meeting plus the captured lead, when capture
// succeeded.
type Booking struct {
	Event        contractx.CalendarEvent
	Lead         *contractx.Lead
	Confirmation string
}

// Book schedules the meeting. Parse failures and missing fields come
// back as ErrParse/ErrValidation; a taken slot comes back as ErrConflict
// with up to three alternatives embedded in the message. Lead capture
// runs after the event exists and its failure never undoes the booking.
func (e *Engine) Book(ctx context.Context, req BookingRequest) (Booking, error) {
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Email) == "" {
		return Booking{}, fmt.Errorf("%w: attendee name and email are required", contractx.ErrValidation)
	}
	if strings.TrimSpace(req.When) == "" {
		return Booking{}, fmt.Errorf("%w: meeting time is required", contractx.ErrValidation)
	}

	start, err := e.parser.ParseDateTime(ctx, req.When, e.now())
	if err != nil {
		return Booking{}, err
	}

	duration := e.cfg.DefaultDuration
	if strings.TrimSpace(req.Duration) != "" {
		duration, err = e.parser.ParseDuration(req.Duration)
		if err != nil {
			return Booking{}, err
		}
	}
	end := start.Add(duration)

	var recurrence []string
	if strings.TrimSpace(req.Repeat) != "" {
		rule, ruleErr := recurrenceRule(req.Repeat, req.RepeatCount)
		if ruleErr != nil {
			return Booking{}, ruleErr
		}
		recurrence = []string{rule}
	}

	if e.cfg.CheckAvailability {
		free, err := e.slotFree(ctx, start, end)
		if err != nil {
			log.Warn().Err(err).Msg("availability check failed, booking without it")
		} else if !free {
			alternatives, altErr := e.SuggestAlternatives(ctx, start, duration)
			if altErr != nil || len(alternatives) == 0 {
				return Booking{}, fmt.Errorf("%w: %s is already taken", contractx.ErrConflict, formatSlot(start))
			}
			return Booking{}, fmt.Errorf("%w: %s is already taken; free alternatives: %s",
				contractx.ErrConflict, formatSlot(start), formatSlots(alternatives))
		}
	}

	event := contractx.CalendarEvent{
		Title:       fmt.Sprintf("%s <> %s", e.cfg.CompanyName, req.Name),
		Description: buildDescription(req),
		Start:       start,
		End:         end,
		Attendees:   []string{req.Email},
		Recurrence:  recurrence,
	}

	var created contractx.CalendarEvent
	if e.cfg.Conferencing {
		created, err = e.calendar.CreateEventWithConferencing(ctx, event)
	} else {
		created, err = e.calendar.CreateEvent(ctx, event)
	}
	if err != nil {
		return Booking{}, fmt.Errorf("create event: %w", err)
	}

	booking := Booking{Event: created}
	if e.capture != nil {
		lead, _, captureErr := e.capture.CaptureMeetingLead(ctx, crm.MeetingLead{
			Name:        req.Name,
			Email:       req.Email,
			Company:     req.Company,
			Interest:    req.Interest,
			MeetingID:   created.ID,
			MeetingTime: created.Start.Format(time.RFC3339),
			MeetingLink: meetingLink(created),
		})
		if captureErr != nil {
			// The meeting stands even when the CRM write fails.
			log.Error().Err(captureErr).Str("event_id", created.ID).Msg("lead capture failed after booking")
		} else {
			booking.Lead = &lead
		}
	}

	booking.Confirmation = buildConfirmation(req.Name, created, duration, req.Repeat)
	return booking, nil
}

// recurrenceRule renders a repeat frequency as an RFC 5545 RRULE line.
// Only the first occurrence is conflict-checked; later ones follow the
// calendar's own series handling.
func recurrenceRule(repeat string, count int) (string, error) {
	var freq string
	interval := 1
	switch strings.ToLower(strings.TrimSpace(repeat)) {
	case "daily":
		freq = "DAILY"
	case "weekly":
		freq = "WEEKLY"
	case "biweekly":
		freq = "WEEKLY"
		interval = 2
	case "monthly":
		freq = "MONTHLY"
	default:
		return "", fmt.Errorf("%w: unsupported repeat frequency %q", contractx.ErrValidation, repeat)
	}

	rule := "RRULE:FREQ=" + freq
	if interval > 1 {
		rule += fmt.Sprintf(";INTERVAL=%d", interval)
	}
	if count > 0 {
		rule += fmt.Sprintf(";COUNT=%d", count)
	}
	return rule, nil
}

// SuggestAlternatives probes forward from after the requested slot in
// one-hour steps, inside business hours (09:00-18:00, Mon-Fri), and
// returns up to three free starts. ErrConflict when the probe budget
// runs out empty-handed.
func (e *Engine) SuggestAlternatives(ctx context.Context, requested time.Time, duration time.Duration) ([]time.Time, error) {
	if duration <= 0 {
		duration = e.cfg.DefaultDuration
	}

	var suggestions []time.Time
	candidate := requested.Add(probeStep)
	for probes := 0; probes < maxProbes && len(suggestions) < maxSuggestions; probes++ {
		candidate = nextBusinessSlot(candidate)
		free, err := e.slotFree(ctx, candidate, candidate.Add(duration))
		if err != nil {
			return nil, err
		}
		if free {
			suggestions = append(suggestions, candidate)
		}
		candidate = candidate.Add(probeStep)
	}
	if len(suggestions) == 0 {
		return nil, fmt.Errorf("%w: no free slots found near %s", contractx.ErrConflict, formatSlot(requested))
	}
	return suggestions, nil
}

// ListUpcoming passes through to the calendar.
func (e *Engine) ListUpcoming(ctx context.Context, max int) ([]contractx.CalendarEvent, error) {
	return e.calendar.ListUpcoming(ctx, max)
}

func (e *Engine) slotFree(ctx context.Context, start, end time.Time) (bool, error) {
	busy, err := e.calendar.FreeBusy(ctx, start, end)
	if err != nil {
		return false, err
	}
	for _, interval := range busy {
		if interval.Overlaps(start, end) {
			return false, nil
		}
	}
	return true, nil
}

// nextBusinessSlot rounds t forward to the next weekday slot inside
// business hours, preserving sub-hour offsets.
func nextBusinessSlot(t time.Time) time.Time {
	for {
		switch {
		case t.Weekday() == time.Saturday || t.Weekday() == time.Sunday:
			t = time.Date(t.Year(), t.Month(), t.Day(), businessOpenHour, 0, 0, 0, t.Location()).AddDate(0, 0, 1)
		case t.Hour() < businessOpenHour:
			t = time.Date(t.Year(), t.Month(), t.Day(), businessOpenHour, 0, 0, 0, t.Location())
		case t.Hour() >= businessCloseHour:
			t = time.Date(t.Year(), t.Month(), t.Day(), businessOpenHour, 0, 0, 0, t.Location()).AddDate(0, 0, 1)
		default:
			return t
		}
	}
}

func buildDescription(req BookingRequest) string {
	lines := []string{"Meeting scheduled via AI assistant.", "", "Attendee: " + req.Name + " <" + req.Email + ">"}
	if strings.TrimSpace(req.Company) != "" {
		lines = append(lines, "Company: "+req.Company)
	}
	if strings.TrimSpace(req.Interest) != "" {
		lines = append(lines, "Topic: "+req.Interest)
	}
	return strings.Join(lines, "\n")
}

func buildConfirmation(name string, event contractx.CalendarEvent, duration time.Duration, repeat string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Meeting confirmed for %s on %s (%s).", name, formatSlot(event.Start), formatDuration(duration))
	if strings.TrimSpace(repeat) != "" {
		fmt.Fprintf(&b, " Repeats %s.", strings.ToLower(strings.TrimSpace(repeat)))
	}
	if link := meetingLink(event); link != "" {
		b.WriteString(" Join: " + link)
	}
	if event.HTMLLink != "" {
		b.WriteString(" Calendar: " + event.HTMLLink)
	}
	return b.String()
}

func meetingLink(event contractx.CalendarEvent) string {
	if event.ConferenceLink != "" {
		return event.ConferenceLink
	}
	return event.HTMLLink
}

func formatSlot(t time.Time) string {
	return t.Format("Monday, January 2 at 3:04 PM")
}

func formatSlots(slots []time.Time) string {
	parts := make([]string, len(slots))
	for i, slot := range slots {
		parts[i] = formatSlot(slot)
	}
	return strings.Join(parts, "; ")
}

func formatDuration(d time.Duration) string {
	if d%time.Hour == 0 {
		hours := int(d / time.Hour)
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	return fmt.Sprintf("%d minutes", int(d/time.Minute))
}
