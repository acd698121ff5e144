package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/jeanpaul/redel/internal/agent"
	"github.com/jeanpaul/redel/internal/config"
	"github.com/jeanpaul/redel/internal/headless"
	"github.com/jeanpaul/redel/internal/health"
	"github.com/jeanpaul/redel/internal/logging"
	"github.com/jeanpaul/redel/internal/provider"
	"github.com/jeanpaul/redel/internal/store"
)

var version = "dev"

func main() {
	configFlag := flag.String("config", "", "Path to a config file (default: redel.yaml in the usual places)")
	sessionFlag := flag.String("session", "", "Save the agent tree under this session name")
	resumeFlag := flag.Bool("resume", false, "Continue the session named by --session")
	eventsFlag := flag.String("events", "", "Append every event as JSON lines to this file")
	plainFlag := flag.Bool("plain", false, "Print the answer without Markdown rendering")
	quietFlag := flag.Bool("quiet", false, "Do not trace helper activity")
	flag.BoolVar(quietFlag, "q", false, "Do not trace helper activity")
	versionFlag := flag.Bool("version", false, "Print version")
	helpFlag := flag.Bool("help", false, "Show help")
	flag.BoolVar(helpFlag, "h", false, "Show help")

	flag.Usage = showHelp
	flag.Parse()

	if *helpFlag {
		showHelp()
		return
	}
	if *versionFlag {
		fmt.Printf("redel %s\n", version)
		return
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fatal("config error: %s", err)
	}

	args := flag.Args()
	if len(args) > 0 {
		switch args[0] {
		case "doctor":
			cmdDoctor(cfg)
			return
		case "sessions":
			cmdSessions(cfg)
			return
		case "help":
			showHelp()
			return
		}
	}

	prompt := strings.Join(args, " ")
	if prompt == "" {
		fatal("no prompt given; try: redel \"your question\"")
	}
	if *resumeFlag && *sessionFlag == "" {
		fatal("--resume needs --session")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, prompt, runFlags{
		session:  *sessionFlag,
		resume:   *resumeFlag,
		events:   *eventsFlag,
		markdown: !*plainFlag && isatty.IsTerminal(os.Stdout.Fd()),
		quiet:    *quietFlag,
	}); err != nil {
		fatal("%s", err)
	}
}

type runFlags struct {
	session  string
	resume   bool
	events   string
	markdown bool
	quiet    bool
}

func run(ctx context.Context, cfg *config.Config, prompt string, f runFlags) (err error) {
	log := logging.New(cfg.Log, os.Stderr)

	engine, err := provider.New(cfg, cfg.Engine)
	if err != nil {
		return err
	}
	longEngine := engine
	if cfg.LongEngine != cfg.Engine {
		if longEngine, err = provider.New(cfg, cfg.LongEngine); err != nil {
			_ = engine.Close()
			return err
		}
	}

	opts := append(agent.ConfigOptions(cfg), agent.WithLogger(log))
	app := agent.NewApp(engine, longEngine, opts...)
	defer func() {
		if cerr := app.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if f.events != "" {
		el, err := store.OpenEventLog(f.events)
		if err != nil {
			return err
		}
		defer el.Close()
		app.Subscribe(el.Record)
	}

	hopts := headless.Options{
		Markdown: f.markdown,
		Session:  f.session,
		Resume:   f.resume,
	}
	if f.session != "" {
		hopts.Store = store.NewFileStore(filepath.Join(cfg.StateDir, "sessions"))
	}
	if f.quiet {
		hopts.Trace = io.Discard
	}
	return headless.Run(ctx, app, prompt, hopts)
}

func cmdDoctor(cfg *config.Config) {
	fmt.Println(headless.RootStyle.Render("redel health check"))
	fmt.Println()

	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	slices.Sort(names)

	failed := false
	for _, name := range names {
		p := cfg.Providers[name]
		label := name
		switch name {
		case cfg.Engine:
			label += " (engine)"
		case cfg.LongEngine:
			label += " (long engine)"
		}
		used := name == cfg.Engine || name == cfg.LongEngine

		fmt.Printf("  %s %s ... ", headless.ToolCallStyle.Render("●"), label)
		if err := health.CheckModel(context.Background(), nil, name, p); err != nil {
			if used {
				failed = true
				fmt.Println(headless.ErrorStyle.Render("✗ " + err.Error()))
			} else {
				fmt.Println(headless.ToolResultStyle.Render("- " + err.Error() + " (unused)"))
			}
			continue
		}
		fmt.Println(headless.PageStyle.Render("✓ OK " + p.Model))
	}

	fmt.Printf("  %s %s ... %s\n", headless.ToolCallStyle.Render("●"), "browser", cfg.Browser.Driver)
	fmt.Printf("  %s %s ... %s\n", headless.ToolCallStyle.Render("●"), "state", cfg.StateDir)
	fmt.Println()
	if failed {
		os.Exit(1)
	}
}

func cmdSessions(cfg *config.Config) {
	fs := store.NewFileStore(filepath.Join(cfg.StateDir, "sessions"))
	names, err := fs.List()
	if err != nil {
		fatal("list sessions: %s", err)
	}
	if len(names) == 0 {
		fmt.Println(headless.ToolResultStyle.Render("no saved sessions in " + fs.Dir()))
		return
	}
	for _, name := range names {
		sess, err := fs.Load(name)
		if err != nil {
			fmt.Printf("  %s  %s\n", name, headless.ErrorStyle.Render(err.Error()))
			continue
		}
		fmt.Printf("  %s  %s  %d agents\n",
			headless.RootStyle.Render(name),
			headless.ToolResultStyle.Render(sess.SavedAt.Local().Format(time.DateTime)),
			len(sess.Agents),
		)
	}
}

func fatal(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, headless.ErrorStyle.Render("error: "+msg))
	os.Exit(1)
}

func showHelp() {
	help := `
` + headless.RootStyle.Render("redel") + ` - answer questions with a tree of delegating agents

USAGE:
  redel [flags] <prompt>      Ask a question
  redel <command>             Run a command

COMMANDS:
  doctor                      Check the configured providers
  sessions                    List saved sessions
  help                        Show this help

FLAGS:
  --config <path>             Config file
  --session <name>            Save the agent tree as <name> (.json or .yaml)
  --resume                    Continue the --session tree with a new prompt
  --events <path>             Append events as JSON lines
  --plain                     Do not render Markdown
  --quiet, -q                 Do not trace helper activity
  --version                   Show version
  --help, -h                  Show this help

EXAMPLES:
  redel "Which museums in Paris are open on Mondays?"
  redel --session trip.yaml "Plan a day in Lyon"
  redel --session trip.yaml --resume "Now add a dinner spot"
`
	fmt.Print(help)
}
