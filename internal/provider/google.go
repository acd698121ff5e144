package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

type Google struct {
	apiKey     string
	model      string
	baseURL    string
	maxContext int
	client     *http.Client
}

func NewGoogle(apiKey, model string, maxContext int) *Google {
	if model == "" {
		model = "gemini-1.5-flash"
	}
	if maxContext <= 0 {
		maxContext = 1_000_000
	}
	return &Google{apiKey: apiKey, model: model, baseURL: geminiBaseURL, maxContext: maxContext, client: &http.Client{}}
}

func (g *Google) Name() string             { return "google" }
func (g *Google) ModelName() string        { return g.model }
func (g *Google) MaxContextSize() int      { return g.maxContext }
func (g *Google) MessageLen(m Message) int { return EstimateMessage(m) }

func (g *Google) Close() error {
	g.client.CloseIdleConnections()
	return nil
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Tools             []geminiTool    `json:"tools,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string        `json:"text,omitempty"`
	FunctionCall     *geminiFnCall `json:"functionCall,omitempty"`
	FunctionResponse *geminiFnResp `json:"functionResponse,omitempty"`
}

type geminiFnCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type geminiFnResp struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFnDecl `json:"functionDeclarations"`
}

type geminiFnDecl struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

func (g *Google) Complete(ctx context.Context, msgs []Message, tools []ToolDef) (*Completion, error) {
	var contents []geminiContent
	var sysInstruction *geminiContent

	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			if sysInstruction == nil {
				sysInstruction = &geminiContent{}
			}
			sysInstruction.Parts = append(sysInstruction.Parts, geminiPart{Text: m.Content})
		case RoleUser:
			contents = append(contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: m.Content}}})
		case RoleAssistant:
			parts := []geminiPart{}
			if m.Content != "" {
				parts = append(parts, geminiPart{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				var args map[string]any
				_ = json.Unmarshal([]byte(tc.Args), &args)
				parts = append(parts, geminiPart{FunctionCall: &geminiFnCall{Name: tc.Name, Args: args}})
			}
			contents = append(contents, geminiContent{Role: "model", Parts: parts})
		case RoleTool:
			name := m.Name
			if name == "" {
				name = m.ToolCallID
			}
			contents = append(contents, geminiContent{
				Role: "user",
				Parts: []geminiPart{{FunctionResponse: &geminiFnResp{
					Name:     name,
					Response: map[string]any{"result": m.Content},
				}}},
			})
		}
	}

	var gemTools []geminiTool
	if len(tools) > 0 {
		var decls []geminiFnDecl
		for _, t := range tools {
			decls = append(decls, geminiFnDecl{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
		}
		gemTools = []geminiTool{{FunctionDeclarations: decls}}
	}

	payload, err := json.Marshal(geminiRequest{Contents: contents, SystemInstruction: sysInstruction, Tools: gemTools})
	if err != nil {
		return nil, err
	}

	apiURL := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, g.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	// Use header for API key instead of URL parameter
	req.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("google API error: %s", friendlyProviderError(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("google: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("google returned %d: %s", resp.StatusCode, parseProviderError("google", resp.StatusCode, body))
	}

	var out geminiResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("google: decode response: %w", err)
	}
	if len(out.Candidates) == 0 {
		return nil, fmt.Errorf("google: response has no candidates")
	}

	msg := Message{Role: RoleAssistant}
	for _, part := range out.Candidates[0].Content.Parts {
		if part.Text != "" {
			msg.Content += part.Text
		}
		if part.FunctionCall != nil {
			args, _ := json.Marshal(part.FunctionCall.Args)
			// Gemini has no call ids; the function name doubles as one.
			msg.ToolCalls = append(msg.ToolCalls, ToolCall{
				ID: part.FunctionCall.Name, Name: part.FunctionCall.Name, Args: string(args),
			})
		}
	}

	return &Completion{
		Message:          msg,
		PromptTokens:     out.UsageMetadata.PromptTokenCount,
		CompletionTokens: out.UsageMetadata.CandidatesTokenCount,
	}, nil
}
