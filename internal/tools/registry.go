package tools

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jeanpaul/redel/internal/provider"
)

// Registry holds the tools one agent may call. It is not safe for
// concurrent registration; agents build theirs before the first round.
type Registry struct {
	tools     map[string]Tool
	validator *Validator
}

func NewRegistry(ts ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool), validator: defaultValidator}
	for _, t := range ts {
		r.Register(t)
	}
	return r
}

func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ToolDefs lists the tools sorted by name so prompts are stable between
// calls.
func (r *Registry) ToolDefs() []provider.ToolDef {
	defs := make([]provider.ToolDef, 0, len(r.tools))
	for _, name := range r.Names() {
		t := r.tools[name]
		defs = append(defs, provider.ToolDef{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

// Execute validates args against the tool's schema and runs it. Unknown
// tools and invalid arguments come back as a Result error for the model
// rather than as a Go error.
func (r *Registry) Execute(ctx context.Context, name, args string) (Result, error) {
	t, ok := r.tools[name]
	if !ok {
		return Result{Error: fmt.Sprintf("unknown tool: %s (available: %s)", name, strings.Join(r.Names(), ", "))}, nil
	}

	if strings.TrimSpace(args) == "" {
		args = "{}"
	}
	if schema := t.Parameters(); schema != nil {
		if err := r.validator.Validate(schema, args); err != nil {
			return Result{Error: err.Error()}, nil
		}
	}

	res, err := t.Execute(ctx, args)
	if err != nil {
		return res, err
	}
	if l, ok := t.(Limited); ok {
		res.Output = Truncate(res.Output, l.MaxResultTokens())
	}
	return res, nil
}
