package contract

import (
	"context"
	"time"
)

// LanguageModel is the text-completion capability. It must honor the
// request's temperature override so deterministic flows (datetime
// fallback, qualification) can pin it near zero.
type LanguageModel interface {
	Complete(ctx context.Context, req CompletionRequest) (AssistantTurn, error)
}

// Embedder turns text into a fixed-dimension vector. The same model must
// be used at index-build and query time.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// DocumentStore persists chunk embeddings under a named collection and
// answers cosine-similarity queries.
type DocumentStore interface {
	Upsert(ctx context.Context, chunks []Chunk, vectors [][]float32) error
	Search(ctx context.Context, vector []float32, k int) ([]ScoredChunk, error)
	Count() int
}

// Calendar is the external calendar capability. Events are owned by the
// provider; this interface only creates and reads references.
type Calendar interface {
	CreateEvent(ctx context.Context, ev CalendarEvent) (CalendarEvent, error)
	CreateEventWithConferencing(ctx context.Context, ev CalendarEvent) (CalendarEvent, error)
	ListUpcoming(ctx context.Context, max int) ([]CalendarEvent, error)
	UpdateEvent(ctx context.Context, ev CalendarEvent) (CalendarEvent, error)
	DeleteEvent(ctx context.Context, eventID string) error
	FreeBusy(ctx context.Context, from, to time.Time) ([]BusyInterval, error)
}

// LeadStore persists lead records. GetByEmail returns the most recent
// record for that address.
type LeadStore interface {
	Create(ctx context.Context, lead Lead) (Lead, error)
	GetByID(ctx context.Context, id int64) (Lead, error)
	GetByEmail(ctx context.Context, email string) (Lead, error)
	List(ctx context.Context, status string, limit, offset int) ([]Lead, error)
	Update(ctx context.Context, id int64, patch LeadPatch) (Lead, error)
	Delete(ctx context.Context, id int64) error
	Stats(ctx context.Context) (LeadStats, error)
}
