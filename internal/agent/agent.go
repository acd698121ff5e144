// Package agent implements the delegation tree: agents that run model
// rounds, hand sub-tasks to helper agents and wait on their results, and
// the App that owns them and their shared resources.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"weak"

	"github.com/google/uuid"

	"github.com/jeanpaul/redel/internal/events"
	"github.com/jeanpaul/redel/internal/provider"
	"github.com/jeanpaul/redel/internal/tools"
)

// Agent is one node of the delegation tree.
type Agent struct {
	app      *App
	id       string
	name     string
	depth    int
	parent   weak.Pointer[Agent]
	parentID string
	children *nodeTable
	prompt   string
	tools    *tools.Registry
	log      *slog.Logger

	delegator *Delegator
	browsing  *Browsing

	mu       sync.Mutex
	state    RunState
	conv     *Conversation
	engine   provider.Engine
	cleanups []func(context.Context) error
}

type agentOptions struct {
	parent     *Agent
	id         string
	name       string
	prompt     string
	engine     provider.Engine
	tools      []tools.Tool
	delegation bool
	browsing   bool
	depth      int
	always     []provider.Message
	history    []provider.Message
	state      RunState
}

type Option func(*agentOptions)

func WithParent(p *Agent) Option          { return func(o *agentOptions) { o.parent = p } }
func WithID(id string) Option             { return func(o *agentOptions) { o.id = id } }
func WithName(name string) Option         { return func(o *agentOptions) { o.name = name } }
func WithEngine(e provider.Engine) Option { return func(o *agentOptions) { o.engine = e } }
func WithTools(ts ...tools.Tool) Option   { return func(o *agentOptions) { o.tools = append(o.tools, ts...) } }

// WithSystemPrompt sets the prompt template. {name} and {time} are filled
// in before every FullRound.
func WithSystemPrompt(p string) Option { return func(o *agentOptions) { o.prompt = p } }

// WithDelegation gives the agent the delegate and wait tools.
func WithDelegation() Option { return func(o *agentOptions) { o.delegation = true } }

// WithBrowsing gives the agent the search, visit_page and blocked tools.
func WithBrowsing() Option { return func(o *agentOptions) { o.browsing = true } }

func withRestored(s Snapshot) Option {
	return func(o *agentOptions) {
		o.depth = s.Depth
		o.always = s.AlwaysIncluded
		o.history = s.History
		o.state = s.State
	}
}

// NewAgent creates an agent, registers it with app and with its parent,
// and publishes a spawn event. Neither registration keeps it alive.
func NewAgent(app *App, opts ...Option) *Agent {
	var o agentOptions
	for _, opt := range opts {
		opt(&o)
	}

	a := &Agent{
		app:      app,
		id:       o.id,
		name:     o.name,
		depth:    o.depth,
		children: &nodeTable{},
		prompt:   o.prompt,
		engine:   o.engine,
		state:    o.state,
		tools:    tools.NewRegistry(o.tools...),
	}
	if a.id == "" {
		a.id = uuid.NewString()
	}
	if a.name == "" {
		a.name = a.id
	}
	if a.engine == nil {
		a.engine = app.Engine()
	}
	if o.parent != nil {
		a.depth = o.parent.depth + 1
		a.parent = weak.Make(o.parent)
		a.parentID = o.parent.id
	}
	a.log = app.log.With("agent", a.name)

	a.conv = &Conversation{}
	if len(o.always) > 0 || len(o.history) > 0 {
		a.conv.always = append(a.conv.always, o.always...)
		a.conv.history = append(a.conv.history, o.history...)
	} else if a.prompt != "" {
		a.conv.SetSystem(renderPrompt(a.prompt, a.name, time.Now()))
	}

	if o.delegation {
		a.delegator = newDelegator(a)
		a.tools.Register(&delegateTool{d: a.delegator})
		a.tools.Register(&waitTool{d: a.delegator})
	}
	if o.browsing {
		a.browsing = newBrowsing(a)
		a.tools.Register(&searchTool{b: a.browsing})
		a.tools.Register(&visitPageTool{b: a.browsing})
		a.tools.Register(&blockedTool{b: a.browsing})
	}

	app.nodes.add(a)
	if o.parent != nil {
		o.parent.children.add(a)
	}
	app.Publish(events.NewSpawn(a.id, a.parentID, a.name, a.depth, a.conv.always, a.conv.history))
	return a
}

func (a *Agent) ID() string             { return a.id }
func (a *Agent) Name() string           { return a.name }
func (a *Agent) Depth() int             { return a.depth }
func (a *Agent) ParentID() string       { return a.parentID }
func (a *Agent) App() *App              { return a.app }
func (a *Agent) Tools() *tools.Registry { return a.tools }
func (a *Agent) Delegator() *Delegator  { return a.delegator }
func (a *Agent) Children() []*Agent     { return a.children.live() }

// Parent returns the parent agent, or nil for the root or when the parent
// has been reclaimed.
func (a *Agent) Parent() *Agent { return a.parent.Value() }

func (a *Agent) State() RunState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Agent) Engine() provider.Engine {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.engine
}

// EnterState switches to s and returns a function that restores the
// previous state. If the agent is Errored when exit runs, the error state
// is kept. Calling exit more than once has no further effect.
func (a *Agent) EnterState(s RunState) (exit func()) {
	a.mu.Lock()
	prev := a.state
	a.state = s
	a.app.Publish(events.NewStateChange(a.id, s.String()))
	a.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			if a.state == Errored {
				return
			}
			a.state = prev
			a.app.Publish(events.NewStateChange(a.id, prev.String()))
		})
	}
}

// MarkErrored puts the agent in the Errored state. Enclosing EnterState
// scopes will not restore over it.
func (a *Agent) MarkErrored() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = Errored
	a.app.Publish(events.NewStateChange(a.id, Errored.String()))
}

// ChatRound sends query and returns a single model reply. No tools are
// offered.
func (a *Agent) ChatRound(ctx context.Context, query string) (provider.Message, error) {
	exit := a.EnterState(Running)
	defer exit()

	a.recordMessage(provider.UserMessage(query))
	msg, err := a.complete(ctx, false)
	if err != nil {
		return provider.Message{}, err
	}
	return a.recordMessage(msg), nil
}

// FullRound sends query and keeps calling the model and running the tools
// it asks for until it answers without tool calls. Every message produced
// is passed to onMessage, which may be nil.
func (a *Agent) FullRound(ctx context.Context, query string, onMessage func(provider.Message)) error {
	if onMessage == nil {
		onMessage = func(provider.Message) {}
	}
	if a.prompt != "" {
		a.mu.Lock()
		a.conv.SetSystem(renderPrompt(a.prompt, a.name, time.Now()))
		a.mu.Unlock()
	}

	exit := a.EnterState(Running)
	defer exit()

	a.recordMessage(provider.UserMessage(query))
	maxTurns := a.app.opts.maxTurns
	for turn := 0; turn < maxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := a.complete(ctx, true)
		if err != nil {
			return err
		}
		onMessage(a.recordMessage(msg))
		if len(msg.ToolCalls) == 0 {
			return nil
		}
		for _, tc := range msg.ToolCalls {
			onMessage(a.recordMessage(a.runTool(ctx, tc)))
		}
	}
	return fmt.Errorf("agent %s: reached maximum of %d turns", a.name, maxTurns)
}

func (a *Agent) runTool(ctx context.Context, tc provider.ToolCall) provider.Message {
	a.log.Debug("tool call", "tool", tc.Name, "args", tc.Args)
	res, err := a.tools.Execute(ctx, tc.Name, tc.Args)
	if err != nil {
		a.log.Warn("tool failed", "tool", tc.Name, "err", err)
		return provider.ToolResultMessage(tc.ID, tc.Name, fmt.Sprintf("tool execution error: %s", err))
	}
	return provider.ToolResultMessage(tc.ID, tc.Name, res.Text())
}

// recordMessage appends m to the history and publishes it.
func (a *Agent) recordMessage(m provider.Message) provider.Message {
	a.mu.Lock()
	stored := a.conv.Add(m)
	a.app.Publish(events.NewMessage(a.id, stored))
	a.mu.Unlock()
	return stored
}

// complete asks the active engine for the next message. The agent moves to
// the long engine for good once its context no longer fits.
func (a *Agent) complete(ctx context.Context, withTools bool) (provider.Message, error) {
	a.mu.Lock()
	engine := a.engine
	if long := a.app.LongEngine(); long != nil && long != engine &&
		a.conv.Tokens(engine.MessageLen) > contextBudget(engine) &&
		long.MaxContextSize() > engine.MaxContextSize() {
		a.log.Info("switching to long engine", "from", engine.Name(), "to", long.Name())
		a.engine = long
		engine = long
	}
	msgs := a.conv.Window(contextBudget(engine), engine.MessageLen)
	a.mu.Unlock()

	var defs []provider.ToolDef
	if withTools {
		defs = a.tools.ToolDefs()
	}
	c, err := engine.Complete(ctx, msgs, defs)
	if err != nil {
		return provider.Message{}, fmt.Errorf("agent %s: %w", a.name, err)
	}
	a.app.Publish(events.NewTokensUsed(a.id, engine.Name(), c.PromptTokens, c.CompletionTokens))

	msg := c.Message
	msg.Role = provider.RoleAssistant
	for i := range msg.ToolCalls {
		tc := &msg.ToolCalls[i]
		tc.Name = strings.TrimPrefix(tc.Name, "functions.")
		if tc.ID == "" {
			tc.ID = "call_" + uuid.NewString()[:8]
		}
	}
	return msg, nil
}

// contextBudget leaves an eighth of the window for the reply.
func contextBudget(e provider.Engine) int {
	return e.MaxContextSize() - e.MaxContextSize()/8
}

// MessageLen estimates m's size in tokens for the active engine.
func (a *Agent) MessageLen(m provider.Message) int {
	return a.Engine().MessageLen(m)
}

// LastUserMessage returns the most recent user message, or nil.
func (a *Agent) LastUserMessage() *provider.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conv.LastUser()
}

func (a *Agent) History() []provider.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conv.History()
}

// OnCleanup registers fn to run on every Cleanup. fn must tolerate being
// called when there is nothing to release.
func (a *Agent) OnCleanup(fn func(context.Context) error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cleanups = append(a.cleanups, fn)
}

// Cleanup releases per-task resources. The conversation is kept so the
// agent can be given more work later.
func (a *Agent) Cleanup(ctx context.Context) error {
	a.mu.Lock()
	fns := append([]func(context.Context) error(nil), a.cleanups...)
	a.mu.Unlock()

	var errs []error
	for _, fn := range fns {
		errs = append(errs, fn(ctx))
	}
	return errors.Join(errs...)
}
