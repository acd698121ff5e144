package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeanpaul/redel/internal/agent"
	"github.com/jeanpaul/redel/internal/events"
	"github.com/jeanpaul/redel/internal/provider"
)

func sampleTree() []agent.Snapshot {
	return []agent.Snapshot{
		{
			ID:             "root",
			Name:           "root",
			Children:       []string{"h1"},
			AlwaysIncluded: []provider.Message{provider.SystemMessage("You are root.")},
			History: []provider.Message{
				provider.UserMessage("hi"),
				{Role: provider.RoleAssistant, ToolCalls: []provider.ToolCall{{ID: "c1", Name: "delegate", Args: `{"instructions":"x"}`}}},
				provider.ToolResultMessage("c1", "delegate", "'h1' is helping you with this request."),
			},
			State: agent.Waiting,
		},
		{ID: "h1", Name: "h1", Depth: 1, ParentID: "root", Children: []string{}, State: agent.Errored},
	}
}

func TestSaveLoad(t *testing.T) {
	for _, name := range []string{"session", "session.json", "session.yaml", "session.yml"} {
		t.Run(name, func(t *testing.T) {
			s := NewFileStore(filepath.Join(t.TempDir(), "nested"))
			require.NoError(t, s.Save(name, sampleTree()))

			sess, err := s.Load(name)
			require.NoError(t, err)
			assert.False(t, sess.SavedAt.IsZero())
			require.Len(t, sess.Agents, 2)

			want := sampleTree()
			assert.Equal(t, want[0].History, sess.Agents[0].History)
			assert.Equal(t, want[0].AlwaysIncluded, sess.Agents[0].AlwaysIncluded)
			assert.Equal(t, agent.Waiting, sess.Agents[0].State)
			assert.Equal(t, "root", sess.Agents[1].ParentID)
			assert.Equal(t, agent.Errored, sess.Agents[1].State)
		})
	}
}

func TestYAMLIsReadable(t *testing.T) {
	s := NewFileStore(t.TempDir())
	require.NoError(t, s.Save("tree.yaml", sampleTree()))

	data, err := os.ReadFile(filepath.Join(s.Dir(), "tree.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "state: waiting")
	assert.Contains(t, string(data), "chat_history:")
}

func TestSaveReplaces(t *testing.T) {
	s := NewFileStore(t.TempDir())
	require.NoError(t, s.Save("a", sampleTree()))
	require.NoError(t, s.Save("a", sampleTree()[:1]))

	sess, err := s.Load("a")
	require.NoError(t, err)
	assert.Len(t, sess.Agents, 1)

	names, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.json"}, names, "no temp files are left behind")
}

func TestListAndDelete(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "missing"))
	names, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, s.Save("b.yaml", nil))
	require.NoError(t, s.Save("a", nil))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "notes.txt"), []byte("x"), 0o644))

	names, err = s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.json", "b.yaml"}, names)

	require.NoError(t, s.Delete("a"))
	assert.ErrorIs(t, s.Delete("a"), ErrNotFound)
	_, err = s.Load("a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRejectsPathNames(t *testing.T) {
	s := NewFileStore(t.TempDir())
	for _, name := range []string{"", "../escape", "a/b", ".hidden"} {
		assert.Error(t, s.Save(name, nil), name)
	}
}

func TestEventLog(t *testing.T) {
	var buf bytes.Buffer
	l := NewEventLog(&buf)
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, events.NewStateChange("a1", "running")))
	require.NoError(t, l.Record(ctx, events.NewPageVisited("a1", "https://example.com", "Example")))
	require.NoError(t, l.Close())

	sc := bufio.NewScanner(&buf)
	var lines []map[string]any
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "agent_state_change", lines[0]["type"])
	assert.Equal(t, "running", lines[0]["state"])
	assert.Equal(t, "a1", lines[1]["id"])
	assert.Equal(t, "https://example.com", lines[1]["url"])
}

func TestOpenEventLogAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "events.jsonl")
	for range 2 {
		l, err := OpenEventLog(path)
		require.NoError(t, err)
		require.NoError(t, l.Record(context.Background(), events.NewSiteBlocked("a1", "https://x.test")))
		require.NoError(t, l.Close())
	}
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, bytes.Count(data, []byte("\n")))
}

func TestEventLogAsListener(t *testing.T) {
	var buf bytes.Buffer
	l := NewEventLog(&buf)
	app := agent.NewApp(nopEngine{}, nil)
	app.Subscribe(l.Record)
	app.NewRootAgent(agent.WithName("root"))
	require.NoError(t, app.Close())

	// Close stops dispatch without draining, so only check what arrived.
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal(line, &m))
		assert.Equal(t, "agent_spawn", m["type"])
	}
}

type nopEngine struct{}

func (nopEngine) Name() string                      { return "nop" }
func (nopEngine) MaxContextSize() int               { return 1000 }
func (nopEngine) MessageLen(m provider.Message) int { return provider.EstimateMessage(m) }
func (nopEngine) Close() error                      { return nil }
func (nopEngine) Complete(context.Context, []provider.Message, []provider.ToolDef) (*provider.Completion, error) {
	return &provider.Completion{Message: provider.AssistantMessage("ok")}, nil
}
