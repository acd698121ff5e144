package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
)

// Anthropic wraps the Messages API through the official SDK.
type Anthropic struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	maxContext  int
	temperature *float64
}

func NewAnthropic(apiKey, model string, maxContext int, opts ...option.RequestOption) *Anthropic {
	if model == "" {
		model = string(anthropic.ModelClaude3_5Sonnet20241022)
	}
	if maxContext <= 0 {
		maxContext = 200_000
	}
	if apiKey != "" {
		opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	}
	return &Anthropic{
		client:     anthropic.NewClient(opts...),
		model:      model,
		maxTokens:  4096,
		maxContext: maxContext,
	}
}

func (a *Anthropic) SetTemperature(t float64) { a.temperature = &t }

func (a *Anthropic) Name() string             { return "anthropic" }
func (a *Anthropic) ModelName() string        { return a.model }
func (a *Anthropic) MaxContextSize() int      { return a.maxContext }
func (a *Anthropic) MessageLen(m Message) int { return EstimateMessage(m) }
func (a *Anthropic) Close() error             { return nil }

func (a *Anthropic) Complete(ctx context.Context, msgs []Message, tools []ToolDef) (*Completion, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		Messages:  buildAnthropicMessages(msgs),
	}
	if a.temperature != nil {
		params.Temperature = anthropic.Float(*a.temperature)
	}
	for _, m := range msgs {
		if m.Role == RoleSystem && m.Content != "" {
			params.System = append(params.System, anthropic.TextBlockParam{Text: m.Content})
		}
	}
	if len(tools) > 0 {
		params.Tools = buildAnthropicTools(tools)
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic api error: %w", err)
	}

	msg := Message{Role: RoleAssistant}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			msg.Content += block.AsText().Text
		case "tool_use":
			tu := block.AsToolUse()
			args := string(tu.Input)
			if args == "" {
				args = "{}"
			}
			msg.ToolCalls = append(msg.ToolCalls, ToolCall{ID: tu.ID, Name: tu.Name, Args: args})
		}
	}

	return &Completion{
		Message:          msg,
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
	}, nil
}

// buildAnthropicMessages converts the history, folding consecutive tool
// results into a single user turn as the API requires.
func buildAnthropicMessages(msgs []Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	var results []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(results) > 0 {
			out = append(out, anthropic.NewUserMessage(results...))
			results = nil
		}
	}

	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			continue
		case RoleTool:
			results = append(results, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
		case RoleAssistant:
			flush()
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				input := json.RawMessage(tc.Args)
				if !json.Valid(input) {
					input = json.RawMessage("{}")
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		default:
			flush()
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	flush()
	return out
}

func buildAnthropicTools(tools []ToolDef) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, t := range tools {
		schema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
		if params, ok := t.Parameters.(map[string]any); ok {
			schema.Properties = params["properties"]
			switch req := params["required"].(type) {
			case []string:
				schema.Required = req
			case []any:
				for _, r := range req {
					if s, ok := r.(string); ok {
						schema.Required = append(schema.Required, s)
					}
				}
			}
		}
		u := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if u.OfTool != nil && t.Description != "" {
			u.OfTool.Description = anthropic.String(t.Description)
		}
		out[i] = u
	}
	return out
}
