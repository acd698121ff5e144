package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/jeanpaul/redel/internal/events"
	"github.com/jeanpaul/redel/internal/fuzz"
	"github.com/jeanpaul/redel/internal/provider"
	"github.com/jeanpaul/redel/internal/tools"
)

const (
	waitNext = "next"
	waitAll  = "all"

	waitSeparator = "\n\n=====\n\n"

	noHelpersRunning = "No helpers are currently running."

	// waitResultTokens bounds what a wait call puts into the conversation.
	waitResultTokens = 6000
)

// task is one delegated unit of work. done is closed once text and err
// are final.
type task struct {
	name string
	done chan struct{}
	text string
	err  error
}

func (t *task) block() string {
	if t.err == nil {
		return fmt.Sprintf("%s:\n%s", t.name, t.text)
	}
	var sb strings.Builder
	sb.WriteString(t.name + ":\n")
	if t.text != "" {
		sb.WriteString(t.text + "\n")
	}
	fmt.Fprintf(&sb, "The helper failed: %v", t.err)
	return sb.String()
}

// Delegator lets its owner hand instructions to helper agents and collect
// their answers later. Helpers are kept for the owner's lifetime so they
// can be asked follow-ups; pending holds only work not yet waited on.
type Delegator struct {
	owner *Agent

	mu      sync.Mutex
	helpers map[string]*Agent
	pending map[string]*task
}

func newDelegator(owner *Agent) *Delegator {
	return &Delegator{
		owner:   owner,
		helpers: make(map[string]*Agent),
		pending: make(map[string]*task),
	}
}

// adopt registers an existing agent as an idle helper.
func (d *Delegator) adopt(helper *Agent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.helpers[helper.Name()] = helper
}

// Helper returns the named helper, or nil.
func (d *Delegator) Helper(name string) *Agent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.helpers[name]
}

func (d *Delegator) Helpers() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.helpers))
	for name := range d.helpers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Pending lists helpers with work that has not been waited on.
func (d *Delegator) Pending() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.pending))
	for name := range d.pending {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Delegate starts a helper on instructions and returns at once. who names
// a previous helper to ask a follow-up; empty or unknown names get a new
// helper. The returned text is meant for the model.
func (d *Delegator) Delegate(ctx context.Context, instructions, who string) string {
	d.owner.log.Info("delegating", "who", who, "instructions", instructions)

	if last := d.owner.LastUserMessage(); last != nil &&
		fuzz.Ratio(instructions, last.Content) >= d.owner.app.opts.similarityThreshold {
		return "You shouldn't delegate the entire task to a helper. Try breaking it up into smaller steps and call this again."
	}

	d.mu.Lock()
	var helper *Agent
	if who != "" {
		if h, ok := d.helpers[who]; ok {
			if _, busy := d.pending[who]; busy {
				d.mu.Unlock()
				return fmt.Sprintf("'%s' is currently busy. You can leave `who` empty to find a new available helper or wait on '%s' and retry.", who, who)
			}
			helper = h
		}
	}
	if helper == nil {
		helper = d.owner.app.newHelper(d.owner)
		d.helpers[helper.Name()] = helper
	}
	t := &task{name: helper.Name(), done: make(chan struct{})}
	d.pending[t.name] = t
	d.mu.Unlock()

	d.owner.app.Publish(events.NewHelperDelegated(d.owner.id, helper.Name(), helper.ID(), instructions))
	go d.run(context.WithoutCancel(ctx), helper, t, instructions)
	return fmt.Sprintf("'%s' is helping you with this request.", helper.Name())
}

// run drives the helper to completion. Its context is detached from the
// delegating call: work nobody waits on still runs to the end.
func (d *Delegator) run(ctx context.Context, helper *Agent, t *task, instructions string) {
	var parts []string
	defer close(t.done)
	defer func() {
		if r := recover(); r != nil {
			t.err = fmt.Errorf("helper panic: %v", r)
			t.text = strings.Join(parts, "\n")
		}
	}()

	err := helper.FullRound(ctx, instructions, func(m provider.Message) {
		helper.log.Debug("helper message", "depth", helper.Depth(), "role", m.Role, "content", m.Content)
		if m.Role == provider.RoleAssistant && m.Content != "" {
			parts = append(parts, m.Content)
		}
	})
	if cerr := helper.Cleanup(ctx); cerr != nil {
		helper.log.Warn("helper cleanup failed", "err", cerr)
	}
	if err != nil {
		helper.log.Warn("helper failed", "err", err)
	}
	t.text = strings.Join(parts, "\n")
	t.err = err
}

// Wait blocks until helper work finishes. until is a helper name, "next"
// for the first pending helper to finish, or "all" for every helper
// pending when the call starts. A named wait reserves its helper: a
// concurrent "next" or "all" never returns the same result.
func (d *Delegator) Wait(ctx context.Context, until string) (string, error) {
	d.mu.Lock()
	t, named := d.pending[until]
	if named {
		delete(d.pending, until)
	}
	snapshot := make([]*task, 0, len(d.pending))
	for _, p := range d.pending {
		snapshot = append(snapshot, p)
	}
	d.mu.Unlock()

	switch {
	case named:
		exit := d.owner.EnterState(Waiting)
		defer exit()
		select {
		case <-t.done:
			return t.block(), nil
		case <-ctx.Done():
			// The helper is still working and must stay busy.
			d.mu.Lock()
			if _, ok := d.pending[until]; !ok {
				d.pending[until] = t
			}
			d.mu.Unlock()
			return "", ctx.Err()
		}
	case until == waitNext, until == waitAll:
		if len(snapshot) == 0 {
			return noHelpersRunning, nil
		}
	default:
		return `The "until" param must be the name of a running helper, "next", or "all".`, nil
	}

	want := 1
	if until == waitAll {
		want = len(snapshot)
	}

	exit := d.owner.EnterState(Waiting)
	defer exit()

	finished := make(chan *task, len(snapshot))
	stop := make(chan struct{})
	defer close(stop)
	for _, p := range snapshot {
		go func() {
			select {
			case <-p.done:
				finished <- p
			case <-stop:
			}
		}()
	}

	blocks := make([]string, 0, want)
	for remaining := len(snapshot); len(blocks) < want && remaining > 0; remaining-- {
		select {
		case p := <-finished:
			if !d.claim(p) {
				// Taken by a named wait.
				if until == waitAll {
					want--
				}
				continue
			}
			blocks = append(blocks, p.block())
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if len(blocks) == 0 {
		return noHelpersRunning, nil
	}
	return strings.Join(blocks, waitSeparator), nil
}

// claim removes p from pending if nobody else has.
func (d *Delegator) claim(p *task) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending[p.name] != p {
		return false
	}
	delete(d.pending, p.name)
	return true
}

type delegateTool struct{ d *Delegator }

func (t *delegateTool) Name() string { return "delegate" }
func (t *delegateTool) Description() string {
	return "Ask a capable helper for help looking up a piece of information or performing an action. " +
		"Use wait() to get a helper's result. You can call this multiple times to take multiple actions. " +
		"Break up the user's query into smaller queries where possible; do not delegate the entire task you were given. " +
		`If the query can be resolved in parallel, call this multiple times then use wait("all").`
}

func (t *delegateTool) Parameters() any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"instructions": map[string]any{
				"type":        "string",
				"description": "Detailed instructions on what your helper should do to help you. This should include all the information the helper needs.",
			},
			"who": map[string]any{
				"type":        "string",
				"description": "If you need to ask a previous helper a follow-up, pass their name here; otherwise omit.",
			},
		},
		"required": []string{"instructions"},
	}
}

func (t *delegateTool) Execute(ctx context.Context, rawArgs string) (tools.Result, error) {
	var args struct {
		Instructions string `json:"instructions"`
		Who          string `json:"who"`
	}
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return tools.Result{Error: "invalid arguments: " + err.Error()}, nil
	}
	return tools.Result{Output: t.d.Delegate(ctx, args.Instructions, args.Who)}, nil
}

type waitTool struct{ d *Delegator }

func (t *waitTool) Name() string         { return "wait" }
func (t *waitTool) MaxResultTokens() int { return waitResultTokens }
func (t *waitTool) Description() string {
	return "Wait for a helper to finish their task and get their result."
}

func (t *waitTool) Parameters() any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"until": map[string]any{
				"type":        "string",
				"description": `The name of the helper. Pass "next" for the next helper, or "all" for all running helpers.`,
			},
		},
		"required": []string{"until"},
	}
}

func (t *waitTool) Execute(ctx context.Context, rawArgs string) (tools.Result, error) {
	var args struct {
		Until string `json:"until"`
	}
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return tools.Result{Error: "invalid arguments: " + err.Error()}, nil
	}
	out, err := t.d.Wait(ctx, args.Until)
	if err != nil {
		return tools.Result{}, err
	}
	return tools.Result{Output: out}, nil
}
