package loop

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/apex-sales-agent/agent/contract"
	"github.com/tanpawarit/apex-sales-agent/agent/state"
	"github.com/tanpawarit/apex-sales-agent/agent/tool"
)

const degradedReply = "I'm sorry, I'm having trouble completing that right now. " +
	"Could you try again, or email us at hello@apexdigital.example and our team will follow up?"

// Config bounds one conversational turn. MaxIterations caps the
// reason/act cycle so a looping model cannot spin forever.
type Config struct {
	MaxIterations int     `envconfig:"MAX_ITERATIONS" split_words:"true" default:"10"`
	Temperature   float64 `envconfig:"TEMPERATURE" split_words:"true" default:"0.3"`
	MaxTokens     int     `envconfig:"MAX_TOKENS" split_words:"true" default:"2000"`
	PromptPath    string  `envconfig:"PROMPT_PATH" split_words:"true"`
}

// Runner drives the reason/act cycle: ask the model, execute any tool
// calls it requests, feed results back, repeat until it answers in
// plain text.
type Runner struct {
	model   contractx.LanguageModel
	catalog *tool.Catalog
	system  string
	cfg     Config
	now     func() time.Time
}

func NewRunner(model contractx.LanguageModel, catalog *tool.Catalog, system string, cfg Config) (*Runner, error) {
	if model == nil {
		return nil, fmt.Errorf("%w: language model", contractx.ErrCapabilityUnavailable)
	}
	if catalog == nil {
		return nil, fmt.Errorf("%w: tool catalog", contractx.ErrCapabilityUnavailable)
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 10
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2000
	}
	return &Runner{
		model:   model,
		catalog: catalog,
		system:  system,
		cfg:     cfg,
		now:     time.Now,
	}, nil
}

// HandleTurn processes one user message and returns the assistant's
// reply. Tool side effects (bookings, lead writes) are never rolled
// back: if the cycle degrades after a tool ran, its work stands.
func (r *Runner) HandleTurn(ctx context.Context, conv *state.Conversation, input string) (string, error) {
	if err := conv.AppendUser(input); err != nil {
		return "", fmt.Errorf("%w: %v", contractx.ErrValidation, err)
	}
	defer conv.Touch(r.now())

	specs := r.catalog.Specs()
	for iteration := 0; iteration < r.cfg.MaxIterations; iteration++ {
		turn, err := r.model.Complete(ctx, contractx.CompletionRequest{
			System:      r.system,
			Messages:    conv.Messages,
			Tools:       specs,
			Temperature: r.cfg.Temperature,
			MaxTokens:   r.cfg.MaxTokens,
		})
		if err != nil {
			log.Error().Err(err).Str("session", conv.SessionID).Msg("model invocation failed")
			conv.AppendAssistant(contractx.AssistantTurn{Content: degradedReply})
			return degradedReply, nil
		}

		conv.AppendAssistant(turn)
		if !turn.HasToolCalls() {
			return turn.Content, nil
		}

		for _, call := range turn.ToolCalls {
			result := r.execute(ctx, conv, call)
			if err := conv.AppendTool(call.ID, result); err != nil {
				return "", fmt.Errorf("record tool result: %w", err)
			}
		}
	}

	log.Warn().Str("session", conv.SessionID).Int("max_iterations", r.cfg.MaxIterations).
		Msg("turn exceeded iteration budget")
	conv.AppendAssistant(contractx.AssistantTurn{Content: degradedReply})
	return degradedReply, nil
}

func (r *Runner) execute(ctx context.Context, conv *state.Conversation, call contractx.ToolCall) string {
	started := r.now()
	result, err := r.catalog.Execute(ctx, call, conv.Transcript())
	elapsed := time.Since(started)
	if err != nil {
		log.Error().Err(err).Str("tool", call.Name).Dur("elapsed", elapsed).Msg("tool execution failed")
		return "Error: " + err.Error()
	}
	log.Debug().Str("tool", call.Name).Dur("elapsed", elapsed).Msg("tool executed")
	return result
}
