package agent

import (
	"runtime"
	"sync"
	"weak"
)

type nodeEntry struct {
	id  string
	ptr weak.Pointer[Agent]
}

// nodeTable tracks agents without keeping them alive. Entries are added
// when an agent is created and dropped by a GC cleanup once the agent is
// unreachable. A table must be its own allocation: the cleanup holds it,
// and it must not hold the agent that owns it.
type nodeTable struct {
	mu      sync.RWMutex
	entries []nodeEntry
}

func (t *nodeTable) add(a *Agent) {
	t.mu.Lock()
	t.entries = append(t.entries, nodeEntry{id: a.id, ptr: weak.Make(a)})
	t.mu.Unlock()
	runtime.AddCleanup(a, t.remove, a.id)
}

func (t *nodeTable) remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, e := range t.entries {
		if e.id == id && e.ptr.Value() == nil {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return
		}
	}
}

func (t *nodeTable) get(id string) *Agent {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, e := range t.entries {
		if e.id == id {
			if a := e.ptr.Value(); a != nil {
				return a
			}
		}
	}
	return nil
}

// live returns the agents still reachable, in creation order.
func (t *nodeTable) live() []*Agent {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Agent, 0, len(t.entries))
	for _, e := range t.entries {
		if a := e.ptr.Value(); a != nil {
			out = append(out, a)
		}
	}
	return out
}

func (t *nodeTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
