package agent

import (
	"context"
	"encoding/json"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeanpaul/redel/internal/events"
	"github.com/jeanpaul/redel/internal/provider"
	"github.com/jeanpaul/redel/internal/tools"
)

type upperTool struct{}

func (upperTool) Name() string        { return "upper" }
func (upperTool) Description() string { return "Uppercase text." }
func (upperTool) Parameters() any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"text": map[string]any{"type": "string"}},
		"required":   []string{"text"},
	}
}

func (upperTool) Execute(_ context.Context, raw string) (tools.Result, error) {
	var args struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return tools.Result{}, err
	}
	return tools.Result{Output: strings.ToUpper(args.Text)}, nil
}

func TestDepthAndTree(t *testing.T) {
	app := newTestApp(t, newFakeEngine("e", echoLastUser))

	root := app.NewRootAgent()
	child := NewAgent(app, WithParent(root))
	grandchild := NewAgent(app, WithParent(child), WithName("gc"))

	assert.Equal(t, 0, root.Depth())
	assert.Equal(t, 1, child.Depth())
	assert.Equal(t, 2, grandchild.Depth())
	assert.Nil(t, root.Parent())
	assert.Same(t, root, child.Parent())
	assert.Equal(t, child.ID(), grandchild.ParentID())
	assert.Equal(t, []*Agent{child}, root.Children())
	assert.Equal(t, "gc", grandchild.Name())
	assert.Equal(t, child.ID(), child.Name(), "name defaults to id")

	assert.Same(t, child, app.Agent(child.ID()))
	assert.Equal(t, []*Agent{root, child, grandchild}, app.Agents())
}

func TestIDsAreUnique(t *testing.T) {
	app := newTestApp(t, newFakeEngine("e", echoLastUser))
	root := app.NewRootAgent()

	seen := map[string]bool{root.ID(): true}
	var keep []*Agent
	for range 200 {
		a := NewAgent(app, WithParent(root))
		require.False(t, seen[a.ID()], "duplicate id %s", a.ID())
		seen[a.ID()] = true
		keep = append(keep, a)
	}
	assert.Len(t, root.Children(), len(keep))
}

func TestSpawnEvent(t *testing.T) {
	app := newTestApp(t, newFakeEngine("e", echoLastUser))
	rec := record(app)

	root := app.NewRootAgent(WithName("root"))
	child := NewAgent(app, WithParent(root), WithSystemPrompt("You are {name}."), WithName("kid"))

	rec.waitFor(t, func(es []events.Event) bool { return len(es) >= 2 })
	spawns := rec.ofType(events.TypeSpawn)
	require.Len(t, spawns, 2)

	s := spawns[1].(events.Spawn)
	assert.Equal(t, child.ID(), s.AgentID())
	assert.Equal(t, root.ID(), s.ParentID)
	assert.Equal(t, 1, s.Depth)
	require.Len(t, s.AlwaysIncluded, 1)
	assert.Equal(t, "You are kid.", s.AlwaysIncluded[0].Content)
	assert.Empty(t, s.History)
	assert.Empty(t, spawns[0].(events.Spawn).ParentID)
}

func newReclaimableChild(app *App, parent *Agent) string {
	return NewAgent(app, WithParent(parent)).ID()
}

func TestRegistriesDoNotKeepAgentsAlive(t *testing.T) {
	app := newTestApp(t, newFakeEngine("e", echoLastUser))
	root := app.NewRootAgent()

	id := newReclaimableChild(app, root)

	require.Eventually(t, func() bool {
		runtime.GC()
		return app.Agent(id) == nil && len(root.Children()) == 0
	}, 2*time.Second, 10*time.Millisecond)
	// cleanups run after the collection that cleared the pointers
	require.Eventually(t, func() bool {
		runtime.GC()
		return app.nodes.len() == 1 && root.children.len() == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Same(t, root, app.Agent(root.ID()))
}

func TestParentIsWeak(t *testing.T) {
	app := newTestApp(t, newFakeEngine("e", echoLastUser))

	child := func() *Agent {
		parent := NewAgent(app)
		return NewAgent(app, WithParent(parent))
	}()

	require.Eventually(t, func() bool {
		runtime.GC()
		return child.Parent() == nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, child.Depth())
	assert.NotEmpty(t, child.ParentID())
}

func TestEnterStateRestoresLIFO(t *testing.T) {
	app := newTestApp(t, newFakeEngine("e", echoLastUser))
	rec := record(app)
	a := NewAgent(app)

	exitRunning := a.EnterState(Running)
	exitWaiting := a.EnterState(Waiting)
	assert.Equal(t, Waiting, a.State())
	exitWaiting()
	assert.Equal(t, Running, a.State())
	exitRunning()
	assert.Equal(t, Stopped, a.State())
	exitRunning()

	rec.waitFor(t, func([]events.Event) bool { return len(rec.states(a.ID())) == 4 })
	assert.Equal(t, []string{"running", "waiting", "running", "stopped"}, rec.states(a.ID()))
}

func TestErroredIsNotRestored(t *testing.T) {
	app := newTestApp(t, newFakeEngine("e", echoLastUser))
	rec := record(app)
	a := NewAgent(app)

	exitRunning := a.EnterState(Running)
	exitWaiting := a.EnterState(Waiting)
	a.MarkErrored()
	exitWaiting()
	exitRunning()

	assert.Equal(t, Errored, a.State())
	rec.waitFor(t, func([]events.Event) bool { return len(rec.states(a.ID())) >= 3 })
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"running", "waiting", "errored"}, rec.states(a.ID()))
}

func TestFullRoundRunsTools(t *testing.T) {
	engine := newFakeEngine("e", func(msgs []provider.Message, _ []provider.ToolDef) (provider.Message, error) {
		last := msgs[len(msgs)-1]
		if last.Role == provider.RoleTool {
			return provider.AssistantMessage("result was " + last.Content), nil
		}
		return toolCall("c1", "functions.upper", `{"text":"quiet"}`), nil
	})
	app := newTestApp(t, engine)
	rec := record(app)
	a := NewAgent(app, WithTools(upperTool{}), WithSystemPrompt("You are {name}."), WithName("bob"))

	var got []provider.Message
	err := a.FullRound(context.Background(), "shout", func(m provider.Message) { got = append(got, m) })
	require.NoError(t, err)

	require.Len(t, got, 3)
	assert.Equal(t, "upper", got[0].ToolCalls[0].Name, "functions. prefix is stripped")
	assert.Equal(t, provider.RoleTool, got[1].Role)
	assert.Equal(t, "QUIET", got[1].Content)
	assert.Equal(t, "result was QUIET", got[2].Content)

	history := a.History()
	require.Len(t, history, 4)
	assert.Equal(t, "shout", history[0].Content)
	assert.Equal(t, Stopped, a.State())
	assert.Equal(t, "You are bob.", a.Snapshot().AlwaysIncluded[0].Content)

	rec.waitFor(t, func([]events.Event) bool { return len(rec.states(a.ID())) == 2 })
	assert.Len(t, rec.ofType(events.TypeMessage), 4)
	tokens := rec.ofType(events.TypeTokensUsed)
	require.Len(t, tokens, 2)
	assert.Equal(t, 10, tokens[0].(events.TokensUsed).PromptTokens)
	assert.Equal(t, []string{"running", "stopped"}, rec.states(a.ID()))
}

func TestFullRoundToolErrorsBecomeText(t *testing.T) {
	engine := newFakeEngine("e", func(msgs []provider.Message, _ []provider.ToolDef) (provider.Message, error) {
		if msgs[len(msgs)-1].Role == provider.RoleTool {
			return provider.AssistantMessage("ok"), nil
		}
		return toolCall("c1", "nonexistent", `{}`), nil
	})
	app := newTestApp(t, engine)
	a := NewAgent(app, WithTools(upperTool{}))

	require.NoError(t, a.FullRound(context.Background(), "go", nil))
	history := a.History()
	assert.Contains(t, history[2].Content, "unknown tool: nonexistent")
}

func TestFullRoundStopsAtMaxTurns(t *testing.T) {
	engine := newFakeEngine("e", func([]provider.Message, []provider.ToolDef) (provider.Message, error) {
		return toolCall("", "upper", `{"text":"again"}`), nil
	})
	app := newTestApp(t, engine, WithMaxTurns(3))
	a := NewAgent(app, WithTools(upperTool{}))

	err := a.FullRound(context.Background(), "loop", nil)
	assert.ErrorContains(t, err, "maximum of 3 turns")
	assert.EqualValues(t, 3, engine.calls.Load())
	assert.True(t, strings.HasPrefix(a.History()[1].ToolCalls[0].ID, "call_"))
	assert.Equal(t, Stopped, a.State())
}

func TestChatRoundOffersNoTools(t *testing.T) {
	engine := newFakeEngine("e", echoLastUser)
	app := newTestApp(t, engine)
	a := NewAgent(app, WithTools(upperTool{}))

	msg, err := a.ChatRound(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "done: hello", msg.Content)
	assert.Empty(t, engine.defs())
}

func TestLastUserMessage(t *testing.T) {
	app := newTestApp(t, newFakeEngine("e", echoLastUser))
	a := NewAgent(app)
	assert.Nil(t, a.LastUserMessage())

	_, err := a.ChatRound(context.Background(), "first")
	require.NoError(t, err)
	_, err = a.ChatRound(context.Background(), "second")
	require.NoError(t, err)

	require.NotNil(t, a.LastUserMessage())
	assert.Equal(t, "second", a.LastUserMessage().Content)
}

func TestSwitchesToLongEngine(t *testing.T) {
	short := newFakeEngine("short", echoLastUser)
	short.maxCtx = 100
	long := newFakeEngine("long", echoLastUser)
	long.maxCtx = 10000

	app := NewApp(short, long)
	t.Cleanup(func() { _ = app.Close() })
	a := NewAgent(app)

	_, err := a.ChatRound(context.Background(), "small")
	require.NoError(t, err)
	assert.Same(t, short, a.Engine())

	_, err = a.ChatRound(context.Background(), strings.Repeat("big ", 200))
	require.NoError(t, err)
	assert.Same(t, long, a.Engine())
	assert.EqualValues(t, 1, short.calls.Load())
	assert.EqualValues(t, 1, long.calls.Load())
}

func TestCleanupRunsHooks(t *testing.T) {
	app := newTestApp(t, newFakeEngine("e", echoLastUser))
	a := NewAgent(app)
	assert.NoError(t, a.Cleanup(context.Background()), "no hooks is a no-op")

	calls := 0
	a.OnCleanup(func(context.Context) error { calls++; return nil })
	require.NoError(t, a.Cleanup(context.Background()))
	require.NoError(t, a.Cleanup(context.Background()))
	assert.Equal(t, 2, calls)
}

func TestSnapshot(t *testing.T) {
	app := newTestApp(t, newFakeEngine("e", echoLastUser))
	root := app.NewRootAgent(WithName("root"))
	child := NewAgent(app, WithParent(root))
	_, err := root.ChatRound(context.Background(), "hi")
	require.NoError(t, err)

	s := root.Snapshot()
	assert.Equal(t, root.ID(), s.ID)
	assert.Equal(t, "root", s.Name)
	assert.Equal(t, 0, s.Depth)
	assert.Empty(t, s.ParentID)
	assert.Equal(t, []string{child.ID()}, s.Children)
	assert.Len(t, s.History, 2)
	assert.Equal(t, Stopped, s.State)

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"stopped"`)
}

func TestRestoreTree(t *testing.T) {
	engine := newFakeEngine("e", echoLastUser)
	app := newTestApp(t, engine)
	root := app.NewRootAgent(WithName("root"))
	_, err := root.ChatRound(context.Background(), "hi")
	require.NoError(t, err)
	helper := app.newHelper(root)
	root.Delegator().adopt(helper)
	snaps := app.SnapshotTree()

	other := newTestApp(t, engine)
	// children first, to check ordering by depth
	restored := other.RestoreTree([]Snapshot{snaps[1], snaps[0]})
	require.Len(t, restored, 2)

	r, h := restored[1], restored[0]
	assert.Equal(t, root.ID(), r.ID())
	assert.Same(t, r, h.Parent())
	assert.Equal(t, root.History(), r.History())
	assert.Same(t, h, r.Delegator().Helper(helper.Name()))
	_, ok := h.Tools().Get("visit_page")
	assert.True(t, ok)
}
