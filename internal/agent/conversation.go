package agent

import (
	"slices"
	"unicode/utf8"

	"github.com/jeanpaul/redel/internal/provider"
)

// maxToolResultChars caps a single tool result stored in history.
const maxToolResultChars = 30000

// Conversation is an agent's context: messages always sent to the model
// (the system prompt lives in slot 0) followed by the chat history.
type Conversation struct {
	always  []provider.Message
	history []provider.Message
}

func NewConversation(systemPrompt string) *Conversation {
	c := &Conversation{}
	if systemPrompt != "" {
		c.always = append(c.always, provider.SystemMessage(systemPrompt))
	}
	return c
}

// SetSystem replaces the system prompt, adding one if there is none.
func (c *Conversation) SetSystem(content string) {
	if len(c.always) > 0 && c.always[0].Role == provider.RoleSystem {
		c.always[0].Content = content
		return
	}
	c.always = slices.Insert(c.always, 0, provider.SystemMessage(content))
}

// Add appends m to the history and returns the message as stored.
func (c *Conversation) Add(m provider.Message) provider.Message {
	if m.Role == provider.RoleTool && len(m.Content) > maxToolResultChars {
		cut := maxToolResultChars
		for cut > 0 && !utf8.RuneStart(m.Content[cut]) {
			cut--
		}
		m.Content = m.Content[:cut] + "\n... [truncated]"
	}
	c.history = append(c.history, m)
	return m
}

func (c *Conversation) Always() []provider.Message  { return slices.Clone(c.always) }
func (c *Conversation) History() []provider.Message { return slices.Clone(c.history) }

func (c *Conversation) Messages() []provider.Message {
	out := make([]provider.Message, 0, len(c.always)+len(c.history))
	out = append(out, c.always...)
	return append(out, c.history...)
}

func (c *Conversation) Len() int { return len(c.history) }

// LastUser returns the most recent user message, or nil.
func (c *Conversation) LastUser() *provider.Message {
	for i := len(c.history) - 1; i >= 0; i-- {
		if c.history[i].Role == provider.RoleUser {
			m := c.history[i]
			return &m
		}
	}
	return nil
}

func (c *Conversation) Tokens(msgLen func(provider.Message) int) int {
	n := 0
	for _, m := range c.always {
		n += msgLen(m)
	}
	for _, m := range c.history {
		n += msgLen(m)
	}
	return n
}

// Window returns the always-included messages plus the newest history that
// fits in budget tokens. The window never opens on a tool result, since
// its assistant tool call would be missing.
func (c *Conversation) Window(budget int, msgLen func(provider.Message) int) []provider.Message {
	used := 0
	for _, m := range c.always {
		used += msgLen(m)
	}
	start := len(c.history)
	for start > 0 {
		n := msgLen(c.history[start-1])
		if used+n > budget {
			break
		}
		used += n
		start--
	}
	for start < len(c.history) && c.history[start].Role == provider.RoleTool {
		start++
	}
	// Always keep the newest message so the model has something to answer.
	if start == len(c.history) && len(c.history) > 0 {
		start = len(c.history) - 1
	}

	out := make([]provider.Message, 0, len(c.always)+len(c.history)-start)
	out = append(out, c.always...)
	return append(out, c.history[start:]...)
}
