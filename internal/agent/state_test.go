package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestRunStateText(t *testing.T) {
	for _, s := range []RunState{Stopped, Running, Waiting, Errored} {
		b, err := s.MarshalText()
		require.NoError(t, err)

		var got RunState
		require.NoError(t, got.UnmarshalText(b))
		assert.Equal(t, s, got)
	}

	var s RunState
	assert.Error(t, s.UnmarshalText([]byte("sleeping")))
	_, err := RunState(9).MarshalText()
	assert.Error(t, err)
	assert.Equal(t, "RunState(9)", RunState(9).String())
}

func TestSnapshotYAML(t *testing.T) {
	in := Snapshot{ID: "a", Name: "a", Depth: 1, ParentID: "root", State: Waiting}
	data, err := yaml.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), "state: waiting")
	assert.Contains(t, string(data), "parent: root")

	var out Snapshot
	require.NoError(t, yaml.Unmarshal(data, &out))
	assert.Equal(t, in.State, out.State)
	assert.Equal(t, in.ParentID, out.ParentID)
}

func TestRenderPrompt(t *testing.T) {
	now := time.Date(2024, 3, 5, 15, 4, 0, 0, time.UTC)
	got := renderPrompt("I am {name}. It is {time}. {unknown}", "helper-1", now)
	assert.Equal(t, "I am helper-1. It is Tue 05 Mar 2024, 03:04PM. {unknown}", got)
}
