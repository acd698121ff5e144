package headless

import (
	"context"
	"fmt"
	"io"
	"maps"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeanpaul/redel/internal/events"
	"github.com/jeanpaul/redel/internal/provider"
)

const (
	maxInstructionLen = 120
	maxResultLen      = 200
)

type agentInfo struct {
	name  string
	depth int
}

// Printer writes a one-line trace of tree activity for each event. It is
// an events.Listener.
type Printer struct {
	mu     sync.Mutex
	w      io.Writer
	agents map[string]agentInfo
	usage  map[string][2]int
}

func NewPrinter(w io.Writer) *Printer {
	return &Printer{
		w:      w,
		agents: make(map[string]agentInfo),
		usage:  make(map[string][2]int),
	}
}

func clip(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

func (p *Printer) label(id string) string {
	info, ok := p.agents[id]
	if !ok {
		return id
	}
	style := HelperStyle
	if info.depth == 0 {
		style = RootStyle
	}
	return strings.Repeat("  ", info.depth) + style.Render(info.name)
}

// Handle records e and prints it.
func (p *Printer) Handle(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var line string
	switch e := e.(type) {
	case events.Spawn:
		p.agents[e.ID] = agentInfo{name: e.Name, depth: e.Depth}
		if e.Depth > 0 {
			line = p.label(e.ID) + SeparatorStyle.Render(" joined")
		}
	case events.HelperDelegated:
		line = fmt.Sprintf("%s %s %s: %s", p.label(e.ID), SeparatorStyle.Render("->"), e.Helper, clip(e.Instructions, maxInstructionLen))
	case events.Message:
		line = p.message(e)
	case events.StateChange:
		if e.State == "errored" {
			line = p.label(e.ID) + " " + ErrorStyle.Render("errored")
		}
	case events.PageVisited:
		line = fmt.Sprintf("%s %s", p.label(e.ID), PageStyle.Render("visited "+e.URL))
	case events.SiteBlocked:
		line = fmt.Sprintf("%s %s", p.label(e.ID), BlockedStyle.Render("blocked by "+e.URL))
	case events.TokensUsed:
		u := p.usage[e.Engine]
		u[0] += e.PromptTokens
		u[1] += e.CompletionTokens
		p.usage[e.Engine] = u
	}
	if line == "" {
		return nil
	}
	_, err := fmt.Fprintln(p.w, line)
	return err
}

func (p *Printer) message(e events.Message) string {
	m := e.Message
	switch m.Role {
	case provider.RoleAssistant:
		if len(m.ToolCalls) == 0 {
			return ""
		}
		calls := make([]string, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			calls[i] = fmt.Sprintf("%s(%s)", tc.Name, clip(tc.Args, maxInstructionLen))
		}
		return p.label(e.ID) + " " + ToolCallStyle.Render(strings.Join(calls, ", "))
	case provider.RoleTool:
		return lipgloss.JoinHorizontal(lipgloss.Top,
			p.label(e.ID), " ", ToolResultStyle.Render("<- "+m.Name+": "+clip(m.Content, maxResultLen)))
	}
	return ""
}

// Usage returns prompt and completion token totals per engine.
func (p *Printer) Usage() map[string][2]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return maps.Clone(p.usage)
}
