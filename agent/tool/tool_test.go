package tool

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	contractx "github.com/tanpawarit/apex-sales-agent/agent/contract"
	"github.com/tanpawarit/apex-sales-agent/agent/rag"
	"github.com/tanpawarit/apex-sales-agent/agent/schedule"
	"github.com/tanpawarit/apex-sales-agent/agent/timeparse"
)

type fakeCalendar struct {
	created []contractx.CalendarEvent
}

func (f *fakeCalendar) CreateEvent(ctx context.Context, ev contractx.CalendarEvent) (contractx.CalendarEvent, error) {
	ev.ID = "evt_1"
	f.created = append(f.created, ev)
	return ev, nil
}

func (f *fakeCalendar) CreateEventWithConferencing(ctx context.Context, ev contractx.CalendarEvent) (contractx.CalendarEvent, error) {
	return f.CreateEvent(ctx, ev)
}

func (f *fakeCalendar) ListUpcoming(ctx context.Context, max int) ([]contractx.CalendarEvent, error) {
	return nil, nil
}

func (f *fakeCalendar) UpdateEvent(ctx context.Context, ev contractx.CalendarEvent) (contractx.CalendarEvent, error) {
	return ev, nil
}

func (f *fakeCalendar) DeleteEvent(ctx context.Context, eventID string) error { return nil }

func (f *fakeCalendar) FreeBusy(ctx context.Context, from, to time.Time) ([]contractx.BusyInterval, error) {
	return nil, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

type fakeDocStore struct {
	hits []contractx.ScoredChunk
}

func (f *fakeDocStore) Upsert(ctx context.Context, chunks []contractx.Chunk, vectors [][]float32) error {
	return nil
}

func (f *fakeDocStore) Search(ctx context.Context, vector []float32, k int) ([]contractx.ScoredChunk, error) {
	if k > len(f.hits) {
		k = len(f.hits)
	}
	return f.hits[:k], nil
}

func (f *fakeDocStore) Count() int { return len(f.hits) }

type fakeLeadStore struct {
	stats contractx.LeadStats
}

func (f *fakeLeadStore) Create(ctx context.Context, lead contractx.Lead) (contractx.Lead, error) {
	return lead, nil
}

func (f *fakeLeadStore) GetByID(ctx context.Context, id int64) (contractx.Lead, error) {
	return contractx.Lead{}, contractx.ErrNotFound
}

func (f *fakeLeadStore) GetByEmail(ctx context.Context, email string) (contractx.Lead, error) {
	return contractx.Lead{}, contractx.ErrNotFound
}

func (f *fakeLeadStore) List(ctx context.Context, status string, limit, offset int) ([]contractx.Lead, error) {
	return nil, nil
}

func (f *fakeLeadStore) Update(ctx context.Context, id int64, patch contractx.LeadPatch) (contractx.Lead, error) {
	return contractx.Lead{}, contractx.ErrNotFound
}

func (f *fakeLeadStore) Delete(ctx context.Context, id int64) error { return nil }

func (f *fakeLeadStore) Stats(ctx context.Context) (contractx.LeadStats, error) {
	return f.stats, nil
}

func specNames(specs []contractx.ToolInfo) map[string]bool {
	names := make(map[string]bool, len(specs))
	for _, s := range specs {
		names[s.Name] = true
	}
	return names
}

func TestSpecsOmitAbsentCapabilities(t *testing.T) {
	t.Parallel()

	parser := timeparse.New(time.UTC, nil, 0)
	catalog := NewCatalog(nil, nil, nil, nil, parser)

	names := specNames(catalog.Specs())
	if !names[NameParseDatetime] || !names[NameParseDuration] {
		t.Fatalf("parser tools missing: %v", names)
	}
	for _, absent := range []string{NameKnowledgeSearch, NameScheduleMeeting, NameCaptureLead, NameLeadStats} {
		if names[absent] {
			t.Errorf("spec %q offered without its capability", absent)
		}
	}
}

func TestSpecsHaveParameterSchemas(t *testing.T) {
	t.Parallel()

	parser := timeparse.New(time.UTC, nil, 0)
	catalog := NewCatalog(nil, nil, nil, &fakeLeadStore{}, parser)

	for _, spec := range catalog.Specs() {
		if spec.Description == "" {
			t.Errorf("%s: empty description", spec.Name)
		}
		if spec.Parameters["type"] != "object" {
			t.Errorf("%s: parameters must be an object schema", spec.Name)
		}
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	t.Parallel()

	catalog := NewCatalog(nil, nil, nil, nil, timeparse.New(time.UTC, nil, 0))
	_, err := catalog.Execute(context.Background(), contractx.ToolCall{ID: "c1", Name: "nope"}, "")
	if !errors.Is(err, contractx.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestExecuteParseTools(t *testing.T) {
	t.Parallel()

	catalog := NewCatalog(nil, nil, nil, nil, timeparse.New(time.UTC, nil, 0))
	catalog.now = func() time.Time { return time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC) }

	got, err := catalog.Execute(context.Background(), contractx.ToolCall{
		ID:   "c1",
		Name: NameParseDatetime,
		Args: map[string]any{"text": "next monday at 3pm"},
	}, "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != "2024-01-08T15:00:00Z" {
		t.Fatalf("parse_datetime = %q", got)
	}

	got, err = catalog.Execute(context.Background(), contractx.ToolCall{
		ID:   "c2",
		Name: NameParseDuration,
		Args: map[string]any{"text": "1 hour 30 minutes"},
	}, "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != "90 minutes" {
		t.Fatalf("parse_duration = %q", got)
	}

	// Domain failures are reported as text, not errors.
	got, err = catalog.Execute(context.Background(), contractx.ToolCall{
		ID:   "c3",
		Name: NameParseDatetime,
		Args: map[string]any{"text": "blargh"},
	}, "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.HasPrefix(got, "Error:") {
		t.Fatalf("expected textual error, got %q", got)
	}

	got, err = catalog.Execute(context.Background(), contractx.ToolCall{
		ID:   "c4",
		Name: NameParseDatetime,
	}, "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(got, "required") {
		t.Fatalf("expected missing-argument message, got %q", got)
	}
}

func TestExecuteKnowledgeSearch(t *testing.T) {
	t.Parallel()

	store := &fakeDocStore{hits: []contractx.ScoredChunk{{
		Chunk: contractx.Chunk{
			ID:       "services.txt#0",
			Content:  "We build mobile apps.",
			Metadata: contractx.ChunkMetadata{Source: "services.txt", Type: rag.TypeText},
		},
		Score: 0.9,
	}}}
	knowledge, err := rag.NewEngine(fakeEmbedder{}, store, nil, rag.Config{TopK: 4, MinRelevance: 0.4})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	catalog := NewCatalog(knowledge, nil, nil, nil, nil)

	got, err := catalog.Execute(context.Background(), contractx.ToolCall{
		ID:   "c1",
		Name: NameKnowledgeSearch,
		Args: map[string]any{"query": "what do you build?"},
	}, "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(got, "mobile apps") || !strings.Contains(got, "services.txt") {
		t.Fatalf("knowledge answer = %q", got)
	}
}

func TestExecuteScheduleMeetingRecurring(t *testing.T) {
	t.Parallel()

	cal := &fakeCalendar{}
	scheduler, err := schedule.NewEngine(cal, timeparse.New(time.UTC, nil, 0), nil, schedule.Config{
		CheckAvailability: false,
		Conferencing:      false,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	catalog := NewCatalog(nil, scheduler, nil, nil, nil)

	got, err := catalog.Execute(context.Background(), contractx.ToolCall{
		ID:   "c1",
		Name: NameScheduleMeeting,
		Args: map[string]any{
			"name":         "Dana",
			"email":        "dana@example.com",
			"when":         "2024-01-08 15:00",
			"repeat":       "weekly",
			"repeat_count": float64(4),
		},
	}, "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(got, "Repeats weekly") {
		t.Fatalf("confirmation = %q", got)
	}
	if len(cal.created) != 1 {
		t.Fatalf("created %d events, want 1", len(cal.created))
	}
	if rec := cal.created[0].Recurrence; len(rec) != 1 || rec[0] != "RRULE:FREQ=WEEKLY;COUNT=4" {
		t.Fatalf("recurrence = %v", rec)
	}
}

func TestExecuteLeadStats(t *testing.T) {
	t.Parallel()

	store := &fakeLeadStore{stats: contractx.LeadStats{
		Total:        3,
		ByStatus:     map[string]int{contractx.StatusHot: 1, contractx.StatusCold: 2},
		AverageScore: 4.5,
	}}
	catalog := NewCatalog(nil, nil, nil, store, nil)

	got, err := catalog.Execute(context.Background(), contractx.ToolCall{ID: "c1", Name: NameLeadStats}, "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(got, `"total":3`) {
		t.Fatalf("lead_stats = %q", got)
	}
}
