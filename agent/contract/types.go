package contract

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a structured request from the model naming a tool and its
// arguments. The ID correlates the eventual tool-result message.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Message is one entry in a conversation. Assistant messages may carry
// tool calls; tool messages must carry the ToolCallID they answer.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolInfo describes one catalog entry for the model: a name, a purpose,
// and a JSON-schema parameter object.
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// CompletionRequest is one REASON-step invocation of the language model.
// Temperature < 0 means "use the model's configured default".
type CompletionRequest struct {
	System      string
	Messages    []Message
	Tools       []ToolInfo
	Temperature float64
	MaxTokens   int
}

// AssistantTurn is the model's answer to a CompletionRequest: plain text,
// one or more tool calls, or both.
type AssistantTurn struct {
	Content   string
	ToolCalls []ToolCall
}

// HasToolCalls reports whether the turn requests tool execution.
func (t AssistantTurn) HasToolCalls() bool {
	return len(t.ToolCalls) > 0
}

// Chunk is the unit of retrieval: a bounded text span plus provenance.
type Chunk struct {
	ID       string
	Content  string
	Metadata ChunkMetadata
}

type ChunkMetadata struct {
	Source    string `json:"source"`
	Type      string `json:"type"`
	Page      int    `json:"page,omitempty"`
	ChunkID   int    `json:"chunk_id"`
	ChunkSize int    `json:"chunk_size"`
}

// ScoredChunk is a retrieval hit with its relevance score (higher = more
// relevant).
type ScoredChunk struct {
	Chunk Chunk
	Score float32
}

// Lead statuses, derived from the lead score unless explicitly overridden.
const (
	StatusHot       = "Hot"
	StatusQualified = "Qualified"
	StatusNurture   = "Nurture"
	StatusCold      = "Cold"
)

// StatusForScore maps a qualification score to its derived status.
func StatusForScore(score float64) string {
	switch {
	case score >= 8.0:
		return StatusHot
	case score >= 6.0:
		return StatusQualified
	case score >= 4.0:
		return StatusNurture
	default:
		return StatusCold
	}
}

// Lead is a prospective customer record.
type Lead struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	Email              string    `json:"email"`
	Company            string    `json:"company,omitempty"`
	Interest           string    `json:"interest,omitempty"`
	LeadScore          float64   `json:"lead_score"`
	Status             string    `json:"status"`
	QualificationNotes string    `json:"qualification_notes,omitempty"`
	MeetingID          string    `json:"meeting_id,omitempty"`
	MeetingTime        string    `json:"meeting_time,omitempty"`
	MeetingLink        string    `json:"meeting_link,omitempty"`
	Source             string    `json:"source"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// LeadPatch is a partial update; nil fields are left unchanged. When
// LeadScore changes and Status is nil the status is recomputed.
type LeadPatch struct {
	Name               *string
	Email              *string
	Company            *string
	Interest           *string
	LeadScore          *float64
	Status             *string
	QualificationNotes *string
	MeetingID          *string
	MeetingTime        *string
	MeetingLink        *string
	Source             *string
}

// LeadStats aggregates the lead book.
type LeadStats struct {
	Total        int            `json:"total"`
	ByStatus     map[string]int `json:"by_status"`
	AverageScore float64        `json:"average_score"`
	Recent7Days  int            `json:"recent_7d"`
}

// CalendarEvent references an event owned by the calendar capability.
// Recurrence holds RFC 5545 RRULE lines; empty means a one-off event.
type CalendarEvent struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Description    string    `json:"description,omitempty"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	Attendees      []string  `json:"attendees,omitempty"`
	Recurrence     []string  `json:"recurrence,omitempty"`
	HTMLLink       string    `json:"html_link,omitempty"`
	ConferenceLink string    `json:"conference_link,omitempty"`
}

// BusyInterval is one committed span from a free/busy query.
type BusyInterval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps uses half-open interval semantics: touching boundaries do not
// conflict.
func (b BusyInterval) Overlaps(start, end time.Time) bool {
	return start.Before(b.End) && b.Start.Before(end)
}
