package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// OpenAI talks to any OpenAI-compatible /chat/completions endpoint
// (OpenAI, vLLM, Ollama, llama.cpp server).
type OpenAI struct {
	name        string
	baseURL     string
	apiKey      string
	model       string
	temperature *float64
	maxContext  int
	client      *http.Client
}

func NewOpenAI(name, baseURL, apiKey, model string, maxContext int) *OpenAI {
	if maxContext <= 0 {
		maxContext = 8192
	}
	return &OpenAI{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		maxContext: maxContext,
		client:     &http.Client{},
	}
}

// SetTemperature overrides the server's default sampling temperature.
func (o *OpenAI) SetTemperature(t float64) { o.temperature = &t }

func (o *OpenAI) Name() string             { return o.name }
func (o *OpenAI) ModelName() string        { return o.model }
func (o *OpenAI) MaxContextSize() int      { return o.maxContext }
func (o *OpenAI) MessageLen(m Message) int { return EstimateMessage(m) }

func (o *OpenAI) Close() error {
	o.client.CloseIdleConnections()
	return nil
}

type oaiRequest struct {
	Model       string       `json:"model"`
	Messages    []oaiMessage `json:"messages"`
	Tools       []oaiTool    `json:"tools,omitempty"`
	Temperature *float64     `json:"temperature,omitempty"`
}

type oaiMessage struct {
	Role       string        `json:"role"`
	Content    string        `json:"content"`
	ToolCalls  []oaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

type oaiTool struct {
	Type     string      `json:"type"`
	Function oaiFunction `json:"function"`
}

type oaiFunction struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters"`
}

type oaiToolCall struct {
	ID       string          `json:"id,omitempty"`
	Type     string          `json:"type"`
	Function oaiToolCallFunc `json:"function"`
}

type oaiToolCallFunc struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type oaiResponse struct {
	Choices []struct {
		Message struct {
			Content   *string       `json:"content"`
			ToolCalls []oaiToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (o *OpenAI) Complete(ctx context.Context, msgs []Message, tools []ToolDef) (*Completion, error) {
	oaiMsgs := make([]oaiMessage, len(msgs))
	for i, m := range msgs {
		om := oaiMessage{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, oaiToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: oaiToolCallFunc{Name: tc.Name, Arguments: tc.Args},
			})
		}
		oaiMsgs[i] = om
	}

	var oaiTools []oaiTool
	for _, t := range tools {
		oaiTools = append(oaiTools, oaiTool{
			Type:     "function",
			Function: oaiFunction{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
		})
	}

	payload, err := json.Marshal(oaiRequest{
		Model:       o.model,
		Messages:    oaiMsgs,
		Tools:       oaiTools,
		Temperature: o.temperature,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %s", o.name, friendlyProviderError(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("provider %s: read response: %w", o.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider %s: %d %s", o.name, resp.StatusCode, parseProviderError(o.name, resp.StatusCode, body))
	}

	var out oaiResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("provider %s: decode response: %w", o.name, err)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("provider %s: response has no choices", o.name)
	}

	choice := out.Choices[0].Message
	msg := Message{Role: RoleAssistant}
	if choice.Content != nil {
		msg.Content = *choice.Content
	}
	for _, tc := range choice.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: tc.Function.Arguments})
	}

	return &Completion{
		Message:          msg,
		PromptTokens:     out.Usage.PromptTokens,
		CompletionTokens: out.Usage.CompletionTokens,
	}, nil
}
