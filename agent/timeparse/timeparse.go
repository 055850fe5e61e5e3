package timeparse

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	contractx "github.com/tanpawarit/apex-sales-agent/agent/contract"
)

var weekdays = map[string]time.Weekday{
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sunday":    time.Sunday,
}

var nextWeekdayPattern = regexp.MustCompile(`(?i)^\s*next\s+(\w+)(.*)$`)

// Explicit layouts tried before the natural-language pass. Inputs are
// lowercased first, so meridiems use the lowercase forms.
var explicitLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02 3:04pm",
	"2006-01-02 3pm",
	"2006-01-02 at 3:04pm",
	"2006-01-02 at 3pm",
	"2006-01-02",
	"January 2, 2006 3:04pm",
	"January 2, 2006 3pm",
	"January 2 2006 15:04",
}

// Duration patterns, tried in order: combined hour+minute forms first,
// then hours, then minutes. Values may be fractional.
var durationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*h(?:ours?|rs?)?\s*(?:and\s+)?(\d+(?:\.\d+)?)\s*m(?:in(?:ute)?s?)?$`),
	regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*h(?:ours?|rs?)?$`),
	regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*m(?:in(?:ute)?s?)?$`),
}

// Parser resolves natural-language time expressions into timezone-aware
// instants. Deterministic rules run first; a language-model fallback at
// temperature zero handles the long tail.
type Parser struct {
	loc         *time.Location
	model       contractx.LanguageModel
	temperature float64
	natural     *when.Parser
}

// New builds a parser for the given location. The model may be nil, which
// disables the fallback.
func New(loc *time.Location, model contractx.LanguageModel, temperature float64) *Parser {
	if loc == nil {
		loc = time.Local
	}
	natural := when.New(nil)
	natural.Add(en.All...)
	natural.Add(common.All...)
	return &Parser{
		loc:         loc,
		model:       model,
		temperature: temperature,
		natural:     natural,
	}
}

// ParseDateTime resolves text into an instant relative to ref.
func (p *Parser) ParseDateTime(ctx context.Context, text string, ref time.Time) (time.Time, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("%w: empty datetime expression", contractx.ErrParse)
	}
	if ref.IsZero() {
		ref = time.Now().In(p.loc)
	} else {
		ref = ref.In(p.loc)
	}

	rewritten := p.rewriteNextWeekday(trimmed, ref)

	if t, ok := p.parseExplicit(rewritten); ok {
		return t, nil
	}
	if t, ok := p.parseNatural(rewritten, ref); ok {
		return t, nil
	}
	return p.parseWithModel(ctx, trimmed, ref)
}

// ParseDuration resolves a human-readable duration.
func (p *Parser) ParseDuration(text string) (time.Duration, error) {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return 0, fmt.Errorf("%w: empty duration expression", contractx.ErrParse)
	}

	for i, pat := range durationPatterns {
		m := pat.FindStringSubmatch(t)
		if m == nil {
			continue
		}
		switch i {
		case 0:
			hours, _ := strconv.ParseFloat(m[1], 64)
			minutes, _ := strconv.ParseFloat(m[2], 64)
			return time.Duration(hours*float64(time.Hour) + minutes*float64(time.Minute)), nil
		case 1:
			hours, _ := strconv.ParseFloat(m[1], 64)
			return time.Duration(hours * float64(time.Hour)), nil
		default:
			minutes, _ := strconv.ParseFloat(m[1], 64)
			return time.Duration(minutes * float64(time.Minute)), nil
		}
	}
	return 0, fmt.Errorf("%w: unrecognized duration %q", contractx.ErrParse, text)
}

// rewriteNextWeekday turns "next monday 3pm" into "2024-01-08 3pm",
// choosing the occurrence strictly after ref: when ref itself falls on
// the named weekday, the one seven days out is selected, never today.
func (p *Parser) rewriteNextWeekday(text string, ref time.Time) string {
	m := nextWeekdayPattern.FindStringSubmatch(text)
	if m == nil {
		return text
	}
	target, ok := weekdays[strings.ToLower(m[1])]
	if !ok {
		return text
	}
	daysAhead := (int(target) - int(ref.Weekday()) + 7) % 7
	if daysAhead == 0 {
		daysAhead = 7
	}
	date := ref.AddDate(0, 0, daysAhead).Format("2006-01-02")
	return date + m[2]
}

func (p *Parser) parseExplicit(text string) (time.Time, bool) {
	trimmed := strings.TrimSpace(text)
	// Meridiems are matched case-sensitively by the time package, so the
	// lowercased form is tried as well.
	for _, candidate := range []string{trimmed, strings.ToLower(trimmed)} {
		for _, layout := range explicitLayouts {
			if t, err := time.ParseInLocation(layout, candidate, p.loc); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// parseNatural runs the grammar-based pass with a prefer-future bias:
// a time-of-day that already passed today is pushed to tomorrow. The
// grammar must account for the whole expression; a fragment match
// ("tuesday" inside "the tuesday after the trade show") is rejected so
// the full text reaches the model fallback.
func (p *Parser) parseNatural(text string, ref time.Time) (time.Time, bool) {
	trimmed := strings.TrimSpace(text)
	r, err := p.natural.Parse(trimmed, ref)
	if err != nil || r == nil {
		return time.Time{}, false
	}
	if r.Index != 0 || len(strings.TrimSpace(r.Text)) != len(trimmed) {
		return time.Time{}, false
	}
	t := r.Time.In(p.loc)
	if t.Before(ref) && ref.Sub(t) < 24*time.Hour {
		t = t.Add(24 * time.Hour)
	}
	return t, true
}

func (p *Parser) parseWithModel(ctx context.Context, text string, ref time.Time) (time.Time, error) {
	if p.model == nil {
		return time.Time{}, fmt.Errorf("%w: %q", contractx.ErrParse, text)
	}

	system := "You are a precise date/time parser. Given the current time and a user's " +
		"natural-language expression, return exactly one ISO-8601 datetime with " +
		"timezone, and nothing else."
	user := fmt.Sprintf("Current time: %s\nConvert this into an ISO-8601 datetime: %q", ref.Format(time.RFC3339), text)

	turn, err := p.model.Complete(ctx, contractx.CompletionRequest{
		System:      system,
		Messages:    []contractx.Message{{Role: contractx.RoleUser, Content: user}},
		Temperature: p.temperature,
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: datetime fallback: %v", contractx.ErrParse, err)
	}

	raw := strings.Trim(strings.TrimSpace(turn.Content), `"`)
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: model returned invalid timestamp %q", contractx.ErrParse, raw)
	}
	return t.In(p.loc), nil
}
