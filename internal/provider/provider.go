package provider

import "context"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

type Message struct {
	Role       Role       `json:"role" yaml:"role"`
	Content    string     `json:"content" yaml:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty" yaml:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty" yaml:"tool_call_id,omitempty"`
	// Name is the tool name for RoleTool messages.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

func SystemMessage(content string) Message    { return Message{Role: RoleSystem, Content: content} }
func UserMessage(content string) Message      { return Message{Role: RoleUser, Content: content} }
func AssistantMessage(content string) Message { return Message{Role: RoleAssistant, Content: content} }

func ToolResultMessage(callID, name, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID, Name: name}
}

type ToolCall struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	Args string `json:"arguments" yaml:"arguments"`
}

type ToolDef struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters"`
}

// Completion is a single model response plus the tokens it consumed.
type Completion struct {
	Message          Message
	PromptTokens     int
	CompletionTokens int
}

// Engine is the completion backend boundary. Implementations must be safe
// for concurrent use: one engine is shared by every agent in the tree.
type Engine interface {
	Name() string
	Complete(ctx context.Context, msgs []Message, tools []ToolDef) (*Completion, error)
	// MessageLen estimates the prompt tokens a message would consume.
	MessageLen(m Message) int
	MaxContextSize() int
	Close() error
}

// EstimateTokens gives a rough count (~4 chars per token).
func EstimateTokens(s string) int {
	return len(s) / 4
}

// EstimateMessage estimates a message including its tool call arguments and
// a small per-message overhead.
func EstimateMessage(m Message) int {
	n := 4 + EstimateTokens(m.Content)
	for _, tc := range m.ToolCalls {
		n += EstimateTokens(tc.Name) + EstimateTokens(tc.Args)
	}
	return n
}
