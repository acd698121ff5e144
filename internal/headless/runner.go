// Package headless runs one query through the agent tree from the command
// line, tracing helper activity and printing the final answer.
package headless

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"slices"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/jeanpaul/redel/internal/agent"
	"github.com/jeanpaul/redel/internal/provider"
	"github.com/jeanpaul/redel/internal/store"
)

type Options struct {
	// Out receives the final answer; Trace receives activity. Both
	// default to stdout and stderr.
	Out   io.Writer
	Trace io.Writer
	// Markdown renders the answer for a terminal.
	Markdown bool
	// Store and Session save the tree after the run. Resume continues a
	// saved session instead of starting a new root.
	Store   *store.FileStore
	Session string
	Resume  bool
}

// Run sends prompt to a root agent and prints its final answer.
func Run(ctx context.Context, app *agent.App, prompt string, opts Options) error {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Trace == nil {
		opts.Trace = os.Stderr
	}

	printer := NewPrinter(opts.Trace)
	unsubscribe := app.Subscribe(printer.Handle)
	defer unsubscribe()

	root, keep, err := rootAgent(app, opts)
	if err != nil {
		return err
	}

	var answer string
	runErr := root.FullRound(ctx, prompt, func(m provider.Message) {
		if m.Role == provider.RoleAssistant && len(m.ToolCalls) == 0 {
			answer = m.Content
		}
	})

	if opts.Store != nil && opts.Session != "" {
		if err := opts.Store.Save(opts.Session, app.SnapshotTree()); err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("save session: %w", err))
		}
	}
	// the app only holds agents weakly
	runtime.KeepAlive(root)
	runtime.KeepAlive(keep)
	if runErr != nil {
		return runErr
	}

	return printAnswer(opts.Out, answer, opts.Markdown)
}

func rootAgent(app *agent.App, opts Options) (*agent.Agent, []*agent.Agent, error) {
	if !opts.Resume {
		return app.NewRootAgent(), nil, nil
	}
	if opts.Store == nil || opts.Session == "" {
		return nil, nil, errors.New("resume needs a session name")
	}
	sess, err := opts.Store.Load(opts.Session)
	if err != nil {
		return nil, nil, err
	}
	restored := app.RestoreTree(sess.Agents)
	i := slices.IndexFunc(restored, func(a *agent.Agent) bool { return a.Depth() == 0 })
	if i < 0 {
		return nil, nil, fmt.Errorf("session %s has no root agent", opts.Session)
	}
	return restored[i], restored, nil
}

func printAnswer(w io.Writer, answer string, markdown bool) error {
	if markdown {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(80),
		)
		if err == nil {
			if out, err := r.Render(answer); err == nil {
				_, err = io.WriteString(w, out)
				return err
			}
		}
	}
	_, err := io.WriteString(w, strings.TrimRight(answer, "\n")+"\n")
	return err
}
