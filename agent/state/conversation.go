package state

import (
	"errors"
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/apex-sales-agent/agent/contract"
)

var (
	ErrEmptyMessage      = errors.New("message content is empty")
	ErrNoPendingCalls    = errors.New("no pending tool calls")
	ErrUnknownToolCallID = errors.New("tool call id not found on preceding assistant message")
)

// Conversation is the per-session agent state: an append-only message log
// plus accumulated lead and meeting hints. It is never rewritten in place
// and is discarded when the session ends.
type Conversation struct {
	SessionID      string              `json:"session_id"`
	Messages       []contractx.Message `json:"messages"`
	LeadContext    map[string]string   `json:"lead_context,omitempty"`
	MeetingContext map[string]string   `json:"meeting_context,omitempty"`
	StartedAt      time.Time           `json:"started_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

func NewConversation(sessionID string, now time.Time) *Conversation {
	return &Conversation{
		SessionID:      sessionID,
		Messages:       make([]contractx.Message, 0, 8),
		LeadContext:    make(map[string]string, 4),
		MeetingContext: make(map[string]string, 4),
		StartedAt:      now.UTC(),
		UpdatedAt:      now.UTC(),
	}
}

func (c *Conversation) Touch(now time.Time) {
	c.UpdatedAt = now.UTC()
}

// AppendUser appends a user message.
func (c *Conversation) AppendUser(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	c.Messages = append(c.Messages, contractx.Message{
		Role:    contractx.RoleUser,
		Content: text,
	})
	return nil
}

// AppendAssistant appends an assistant turn, with or without tool calls.
func (c *Conversation) AppendAssistant(turn contractx.AssistantTurn) {
	c.Messages = append(c.Messages, contractx.Message{
		Role:      contractx.RoleAssistant,
		Content:   turn.Content,
		ToolCalls: turn.ToolCalls,
	})
}

// AppendTool appends one tool-result message. The call id must appear on
// the immediately preceding assistant message's tool-call list.
func (c *Conversation) AppendTool(callID, content string) error {
	last := c.lastAssistant()
	if last == nil || len(last.ToolCalls) == 0 {
		return ErrNoPendingCalls
	}
	found := false
	for _, call := range last.ToolCalls {
		if call.ID == callID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrUnknownToolCallID, callID)
	}
	c.Messages = append(c.Messages, contractx.Message{
		Role:       contractx.RoleTool,
		Content:    content,
		ToolCallID: callID,
	})
	return nil
}

// LastMessage returns the newest message, or nil for an empty log.
func (c *Conversation) LastMessage() *contractx.Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[len(c.Messages)-1]
}

// SetLeadHint records a free-form hint about the current prospect.
func (c *Conversation) SetLeadHint(key, val string) {
	if c.LeadContext == nil {
		c.LeadContext = make(map[string]string, 4)
	}
	c.LeadContext[key] = val
}

// SetMeetingHint records a free-form hint about in-progress scheduling.
func (c *Conversation) SetMeetingHint(key, val string) {
	if c.MeetingContext == nil {
		c.MeetingContext = make(map[string]string, 4)
	}
	c.MeetingContext[key] = val
}

// Transcript renders the user/assistant dialogue as plain text, one line
// per message. Tool messages are skipped; this is the input to
// conversation-based lead extraction.
func (c *Conversation) Transcript() string {
	var b strings.Builder
	for _, m := range c.Messages {
		switch m.Role {
		case contractx.RoleUser:
			b.WriteString("User: ")
		case contractx.RoleAssistant:
			if strings.TrimSpace(m.Content) == "" {
				continue
			}
			b.WriteString("Assistant: ")
		default:
			continue
		}
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// Validate checks the tool-correlation invariant over the whole log:
// every tool message references a call id carried by the assistant
// message that directly precedes its tool-message run.
func (c *Conversation) Validate() error {
	var pending map[string]bool
	for i, m := range c.Messages {
		switch m.Role {
		case contractx.RoleAssistant:
			pending = nil
			if len(m.ToolCalls) > 0 {
				pending = make(map[string]bool, len(m.ToolCalls))
				for _, call := range m.ToolCalls {
					pending[call.ID] = true
				}
			}
		case contractx.RoleTool:
			if !pending[m.ToolCallID] {
				return fmt.Errorf("%w: message %d id=%s", ErrUnknownToolCallID, i, m.ToolCallID)
			}
		default:
			pending = nil
		}
	}
	return nil
}

func (c *Conversation) lastAssistant() *contractx.Message {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		switch c.Messages[i].Role {
		case contractx.RoleAssistant:
			return &c.Messages[i]
		case contractx.RoleTool:
			continue
		default:
			return nil
		}
	}
	return nil
}
