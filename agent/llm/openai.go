package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go"
	contractx "github.com/tanpawarit/apex-sales-agent/agent/contract"
)

// Model implements contract.LanguageModel over the OpenAI-compatible chat
// completions API.
type Model struct {
	client      *openaisdk.Client
	model       string
	temperature float64
	maxTokens   int
}

func NewModel(client *openaisdk.Client, model string, temperature float64, maxTokens int) (*Model, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: chat client is nil", contractx.ErrCapabilityUnavailable)
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("%w: chat model is required", contractx.ErrValidation)
	}
	return &Model{
		client:      client,
		model:       strings.TrimSpace(model),
		temperature: temperature,
		maxTokens:   maxTokens,
	}, nil
}

// WithModel returns a copy bound to another model name. An empty name
// keeps the current one.
func (m *Model) WithModel(model string) *Model {
	clone := *m
	if trimmed := strings.TrimSpace(model); trimmed != "" {
		clone.model = trimmed
	}
	return &clone
}

func (m *Model) Complete(ctx context.Context, req contractx.CompletionRequest) (contractx.AssistantTurn, error) {
	msgs := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.System) != "" {
		msgs = append(msgs, openaisdk.SystemMessage(req.System))
	}
	for _, msg := range req.Messages {
		part, err := toParam(msg)
		if err != nil {
			return contractx.AssistantTurn{}, err
		}
		msgs = append(msgs, part)
	}

	params := openaisdk.ChatCompletionNewParams{
		Model:    openaisdk.ChatModel(m.model),
		Messages: msgs,
	}

	temperature := m.temperature
	if req.Temperature >= 0 {
		temperature = req.Temperature
	}
	params.Temperature = openaisdk.Float(temperature)

	maxTokens := m.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	if maxTokens > 0 {
		params.MaxTokens = openaisdk.Int(int64(maxTokens))
	}

	if len(req.Tools) > 0 {
		tools := make([]openaisdk.ChatCompletionToolParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, openaisdk.ChatCompletionToolParam{
				Function: openaisdk.FunctionDefinitionParam{
					Name:        t.Name,
					Description: openaisdk.String(t.Description),
					Parameters:  openaisdk.FunctionParameters(t.Parameters),
				},
			})
		}
		params.Tools = tools
	}

	completion, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return contractx.AssistantTurn{}, fmt.Errorf("%w: %v", contractx.ErrModelInvoke, err)
	}
	if len(completion.Choices) == 0 {
		return contractx.AssistantTurn{}, fmt.Errorf("%w: completion has no choices", contractx.ErrModelInvoke)
	}

	choice := completion.Choices[0].Message
	turn := contractx.AssistantTurn{Content: choice.Content}

	for _, call := range choice.ToolCalls {
		name := strings.TrimSpace(call.Function.Name)
		if name == "" {
			return contractx.AssistantTurn{}, fmt.Errorf("%w: tool call name is empty", contractx.ErrSchemaViolation)
		}
		args := map[string]any{}
		if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				return contractx.AssistantTurn{}, fmt.Errorf("%w: invalid args for tool=%s: %v", contractx.ErrSchemaViolation, name, err)
			}
		}
		turn.ToolCalls = append(turn.ToolCalls, contractx.ToolCall{
			ID:   call.ID,
			Name: name,
			Args: args,
		})
	}

	return turn, nil
}

func toParam(msg contractx.Message) (openaisdk.ChatCompletionMessageParamUnion, error) {
	switch msg.Role {
	case contractx.RoleUser:
		return openaisdk.UserMessage(msg.Content), nil
	case contractx.RoleAssistant:
		if len(msg.ToolCalls) == 0 {
			return openaisdk.AssistantMessage(msg.Content), nil
		}
		calls := make([]openaisdk.ChatCompletionMessageToolCallParam, 0, len(msg.ToolCalls))
		for _, call := range msg.ToolCalls {
			rawArgs, err := json.Marshal(call.Args)
			if err != nil {
				return openaisdk.ChatCompletionMessageParamUnion{}, fmt.Errorf("%w: marshal args for tool=%s: %v", contractx.ErrValidation, call.Name, err)
			}
			calls = append(calls, openaisdk.ChatCompletionMessageToolCallParam{
				ID: call.ID,
				Function: openaisdk.ChatCompletionMessageToolCallFunctionParam{
					Name:      call.Name,
					Arguments: string(rawArgs),
				},
			})
		}
		assistant := openaisdk.ChatCompletionAssistantMessageParam{ToolCalls: calls}
		if msg.Content != "" {
			assistant.Content.OfString = openaisdk.String(msg.Content)
		}
		return openaisdk.ChatCompletionMessageParamUnion{OfAssistant: &assistant}, nil
	case contractx.RoleTool:
		return openaisdk.ToolMessage(msg.Content, msg.ToolCallID), nil
	default:
		return openaisdk.ChatCompletionMessageParamUnion{}, fmt.Errorf("%w: unknown role %q", contractx.ErrValidation, msg.Role)
	}
}

// Embedder implements contract.Embedder over the embeddings API.
type Embedder struct {
	client *openaisdk.Client
	model  string
}

func NewEmbedder(client *openaisdk.Client, model string) (*Embedder, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: embeddings client is nil", contractx.ErrCapabilityUnavailable)
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("%w: embedding model is required", contractx.ErrValidation)
	}
	return &Embedder{client: client, model: strings.TrimSpace(model)}, nil
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	resp, err := e.client.Embeddings.New(ctx, openaisdk.EmbeddingNewParams{
		Model: openaisdk.EmbeddingModel(e.model),
		Input: openaisdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrCapabilityUnavailable, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", contractx.ErrCapabilityUnavailable, len(texts), len(resp.Data))
	}

	vectors := make([][]float32, len(resp.Data))
	for _, item := range resp.Data {
		vec := make([]float32, len(item.Embedding))
		for i, v := range item.Embedding {
			vec[i] = float32(v)
		}
		vectors[item.Index] = vec
	}
	return vectors, nil
}

// Model returns the embedding model name.
func (e *Embedder) Model() string {
	return e.model
}

var (
	_ contractx.LanguageModel = (*Model)(nil)
	_ contractx.Embedder      = (*Embedder)(nil)
)
