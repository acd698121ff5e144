package agent

import (
	"github.com/jeanpaul/redel/internal/provider"
)

// Snapshot is the saveable state of one agent.
type Snapshot struct {
	ID             string             `json:"id" yaml:"id"`
	Depth          int                `json:"depth" yaml:"depth"`
	ParentID       string             `json:"parent,omitempty" yaml:"parent,omitempty"`
	Children       []string           `json:"children" yaml:"children"`
	AlwaysIncluded []provider.Message `json:"always_included_messages" yaml:"always_included_messages"`
	History        []provider.Message `json:"chat_history" yaml:"chat_history"`
	State          RunState           `json:"state" yaml:"state"`
	Name           string             `json:"name" yaml:"name"`
}

func (a *Agent) Snapshot() Snapshot {
	children := a.Children()
	ids := make([]string, len(children))
	for i, c := range children {
		ids[i] = c.id
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{
		ID:             a.id,
		Depth:          a.depth,
		ParentID:       a.parentID,
		Children:       ids,
		AlwaysIncluded: a.conv.Always(),
		History:        a.conv.History(),
		State:          a.state,
		Name:           a.name,
	}
}

// SnapshotTree returns snapshots of the live agents, in creation order.
func (app *App) SnapshotTree() []Snapshot {
	agents := app.Agents()
	out := make([]Snapshot, len(agents))
	for i, a := range agents {
		out[i] = a.Snapshot()
	}
	return out
}
