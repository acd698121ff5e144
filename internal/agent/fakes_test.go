package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeanpaul/redel/internal/browser"
	"github.com/jeanpaul/redel/internal/events"
	"github.com/jeanpaul/redel/internal/provider"
)

type respondFunc func(msgs []provider.Message, defs []provider.ToolDef) (provider.Message, error)

// fakeEngine answers with a scripted function of the prompt.
type fakeEngine struct {
	name     string
	maxCtx   int
	respond  respondFunc
	closeErr error

	calls  atomic.Int32
	closed atomic.Int32

	mu       sync.Mutex
	lastDefs []provider.ToolDef
}

func newFakeEngine(name string, respond respondFunc) *fakeEngine {
	return &fakeEngine{name: name, maxCtx: 100000, respond: respond}
}

func (e *fakeEngine) Name() string                      { return e.name }
func (e *fakeEngine) MaxContextSize() int               { return e.maxCtx }
func (e *fakeEngine) MessageLen(m provider.Message) int { return provider.EstimateMessage(m) }

func (e *fakeEngine) Close() error {
	e.closed.Add(1)
	return e.closeErr
}

func (e *fakeEngine) Complete(_ context.Context, msgs []provider.Message, defs []provider.ToolDef) (*provider.Completion, error) {
	e.calls.Add(1)
	e.mu.Lock()
	e.lastDefs = defs
	e.mu.Unlock()
	m, err := e.respond(msgs, defs)
	if err != nil {
		return nil, err
	}
	return &provider.Completion{Message: m, PromptTokens: 10, CompletionTokens: 5}, nil
}

func (e *fakeEngine) defs() []provider.ToolDef {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastDefs
}

func echoLastUser(msgs []provider.Message, _ []provider.ToolDef) (provider.Message, error) {
	return provider.AssistantMessage("done: " + lastUser(msgs)), nil
}

func lastUser(msgs []provider.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == provider.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

func systemPrompt(msgs []provider.Message) string {
	if len(msgs) > 0 && msgs[0].Role == provider.RoleSystem {
		return msgs[0].Content
	}
	return ""
}

func toolCall(id, name, args string) provider.Message {
	return provider.Message{
		Role:      provider.RoleAssistant,
		ToolCalls: []provider.ToolCall{{ID: id, Name: name, Args: args}},
	}
}

// gates holds helpers inside their model call until released.
type gates struct {
	mu sync.Mutex
	ch map[string]chan struct{}
}

func newGates(keys ...string) *gates {
	g := &gates{ch: make(map[string]chan struct{})}
	for _, k := range keys {
		g.ch[k] = make(chan struct{})
	}
	return g
}

func (g *gates) wait(key string) {
	g.mu.Lock()
	ch, ok := g.ch[key]
	g.mu.Unlock()
	if ok {
		<-ch
	}
}

func (g *gates) release(key string) { close(g.ch[key]) }

// recorder collects every event the app dispatches.
type recorder struct {
	mu  sync.Mutex
	got []events.Event
}

func record(app *App) *recorder {
	r := &recorder{}
	app.Subscribe(func(_ context.Context, e events.Event) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.got = append(r.got, e)
		return nil
	})
	return r
}

func (r *recorder) all() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.got...)
}

func (r *recorder) ofType(typ events.Type) []events.Event {
	var out []events.Event
	for _, e := range r.all() {
		if e.EventType() == typ {
			out = append(out, e)
		}
	}
	return out
}

// states returns the state changes published for one agent.
func (r *recorder) states(id string) []string {
	var out []string
	for _, e := range r.ofType(events.TypeStateChange) {
		if e.AgentID() == id {
			out = append(out, e.(events.StateChange).State)
		}
	}
	return out
}

func (r *recorder) waitFor(t *testing.T, cond func([]events.Event) bool) {
	t.Helper()
	require.Eventually(t, func() bool { return cond(r.all()) }, 2*time.Second, 5*time.Millisecond)
}

func newTestApp(t *testing.T, engine provider.Engine, opts ...AppOption) *App {
	t.Helper()
	app := NewApp(engine, nil, opts...)
	t.Cleanup(func() { _ = app.Close() })
	return app
}

type fakeBrowser struct {
	mu       sync.Mutex
	pages    []*fakePage
	closed   int
	closeErr error
	site     map[string]fakeSite
}

type fakeSite struct {
	title   string
	html    string
	links   string // #links inner HTML; empty means the selector times out
	loadErr error
}

func (b *fakeBrowser) NewPage(context.Context) (browser.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := &fakePage{b: b}
	b.pages = append(b.pages, p)
	return p, nil
}

func (b *fakeBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed++
	return b.closeErr
}

func (b *fakeBrowser) lookup(url string) (fakeSite, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for prefix, s := range b.site {
		if strings.HasPrefix(url, prefix) {
			return s, true
		}
	}
	return fakeSite{}, false
}

type fakePage struct {
	b      *fakeBrowser
	url    string
	closed int
}

func (p *fakePage) Goto(_ context.Context, url string) error {
	s, ok := p.b.lookup(url)
	if !ok {
		return fmt.Errorf("net::ERR_NAME_NOT_RESOLVED at %s", url)
	}
	if s.loadErr != nil {
		return s.loadErr
	}
	p.url = url
	return nil
}

func (p *fakePage) WaitForNetworkIdle(context.Context, time.Duration) error {
	return fmt.Errorf("%w: still loading", browser.ErrTimeout)
}

func (p *fakePage) Title(context.Context) (string, error) {
	s, _ := p.b.lookup(p.url)
	return s.title, nil
}

func (p *fakePage) URL() string { return p.url }

func (p *fakePage) Content(context.Context) (string, error) {
	s, _ := p.b.lookup(p.url)
	return s.html, nil
}

func (p *fakePage) InnerHTML(_ context.Context, _ string, _ time.Duration) (string, error) {
	s, _ := p.b.lookup(p.url)
	if s.links == "" {
		return "", fmt.Errorf("%w: waiting for selector", browser.ErrTimeout)
	}
	return s.links, nil
}

func (p *fakePage) Close() error {
	p.closed++
	return nil
}

func launcherFor(b *fakeBrowser, launches *atomic.Int32) func(context.Context, browser.Options) (browser.Browser, error) {
	return func(context.Context, browser.Options) (browser.Browser, error) {
		if launches != nil {
			launches.Add(1)
		}
		if b == nil {
			return nil, errors.New("no browser in this test")
		}
		return b, nil
	}
}
