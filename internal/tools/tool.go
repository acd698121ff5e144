package tools

import "context"

// Result is what the model sees as the tool's answer. Error is set for
// usage problems the model can correct; Output otherwise.
type Result struct {
	Output string
	Error  string
}

// Text renders the result as the content of a tool message.
func (r Result) Text() string {
	if r.Error != "" {
		return "Error: " + r.Error
	}
	return r.Output
}

type Tool interface {
	Name() string
	Description() string
	Parameters() any
	Execute(ctx context.Context, args string) (Result, error)
}

// Limited is an optional interface for tools whose output must be cut to a
// token budget before it reaches the conversation.
type Limited interface {
	MaxResultTokens() int
}
