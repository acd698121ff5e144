package agent

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jeanpaul/redel/internal/browser"
	"github.com/jeanpaul/redel/internal/config"
	"github.com/jeanpaul/redel/internal/events"
	"github.com/jeanpaul/redel/internal/provider"
	"github.com/jeanpaul/redel/internal/tools"
)

var ErrClosed = errors.New("app is closed")

type appOptions struct {
	log                 *slog.Logger
	maxDepth            int
	maxTurns            int
	similarityThreshold float64
	maxWebpageTokens    int
	searchURL           string
	rootPrompt          string
	delegatePrompt      string
	browser             browser.Options
	launch              func(context.Context, browser.Options) (browser.Browser, error)
	blockedSites        []string
	helperTools         []tools.Tool
	httpClient          *http.Client
}

type AppOption func(*appOptions)

func WithLogger(l *slog.Logger) AppOption { return func(o *appOptions) { o.log = l } }
func WithMaxDepth(n int) AppOption        { return func(o *appOptions) { o.maxDepth = n } }
func WithMaxTurns(n int) AppOption        { return func(o *appOptions) { o.maxTurns = n } }

// WithSimilarityThreshold sets the 0-100 score at which a delegation is
// refused as a copy of the delegating agent's own task.
func WithSimilarityThreshold(t float64) AppOption {
	return func(o *appOptions) { o.similarityThreshold = t }
}

func WithMaxWebpageTokens(n int) AppOption {
	return func(o *appOptions) { o.maxWebpageTokens = n }
}

func WithSearchURL(u string) AppOption { return func(o *appOptions) { o.searchURL = u } }

// WithPrompts overrides the root and helper prompt templates. Empty
// strings keep the defaults.
func WithPrompts(root, delegate string) AppOption {
	return func(o *appOptions) {
		if root != "" {
			o.rootPrompt = root
		}
		if delegate != "" {
			o.delegatePrompt = delegate
		}
	}
}

func WithBrowserOptions(b browser.Options) AppOption {
	return func(o *appOptions) { o.browser = b }
}

// WithBrowserLauncher replaces browser.Launch.
func WithBrowserLauncher(fn func(context.Context, browser.Options) (browser.Browser, error)) AppOption {
	return func(o *appOptions) { o.launch = fn }
}

func WithBlockedSites(patterns ...string) AppOption {
	return func(o *appOptions) { o.blockedSites = append(o.blockedSites, patterns...) }
}

// WithHelperTools adds tools to every helper agent. They are shared, so
// they must be safe for concurrent use.
func WithHelperTools(ts ...tools.Tool) AppOption {
	return func(o *appOptions) { o.helperTools = append(o.helperTools, ts...) }
}

func WithHTTPClient(c *http.Client) AppOption { return func(o *appOptions) { o.httpClient = c } }

// ConfigOptions maps the configuration file onto App options.
func ConfigOptions(cfg *config.Config) []AppOption {
	return []AppOption{
		WithMaxDepth(cfg.Delegation.MaxDepth),
		WithSimilarityThreshold(cfg.Delegation.SimilarityThreshold),
		WithMaxTurns(cfg.MaxTurns),
		WithMaxWebpageTokens(cfg.Browser.MaxWebpageTokens),
		WithSearchURL(cfg.Browser.SearchURL),
		WithBlockedSites(cfg.Browser.BlockedSites...),
		WithPrompts(cfg.Prompts.Root, cfg.Prompts.Delegate),
		WithBrowserOptions(browser.Options{Driver: cfg.Browser.Driver, Headless: cfg.Browser.Headless}),
	}
}

// App owns the agent tree's shared resources: the event bus, both
// engines, the site blocklist and the browser. It tracks every live agent
// without keeping any alive.
type App struct {
	opts       appOptions
	log        *slog.Logger
	engine     provider.Engine
	longEngine provider.Engine
	bus        *events.Bus
	nodes      *nodeTable
	blocklist  *browser.Blocklist

	stopDispatch context.CancelFunc
	dispatchDone chan struct{}

	browserMu sync.Mutex
	browser   browser.Browser
	closed    bool

	closeOnce sync.Once
	closeErr  error
}

// NewApp starts the event dispatcher. longEngine may be nil or the same as
// engine. Call Close to release everything.
func NewApp(engine, longEngine provider.Engine, opts ...AppOption) *App {
	o := appOptions{
		maxDepth:            8,
		maxTurns:            50,
		similarityThreshold: 80,
		maxWebpageTokens:    1024,
		searchURL:           "https://html.duckduckgo.com/html/?q=",
		rootPrompt:          RootPrompt,
		delegatePrompt:      DelegatePrompt,
		browser:             browser.Options{Headless: true},
		launch:              browser.Launch,
		httpClient:          http.DefaultClient,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = slog.New(slog.DiscardHandler)
	}
	if o.browser.Logger == nil {
		o.browser.Logger = o.log
	}
	if longEngine == nil {
		longEngine = engine
	}

	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		opts:         o,
		log:          o.log,
		engine:       engine,
		longEngine:   longEngine,
		bus:          events.NewBus(o.log),
		nodes:        &nodeTable{},
		blocklist:    browser.NewBlocklist(o.blockedSites...),
		stopDispatch: cancel,
		dispatchDone: make(chan struct{}),
	}
	go func() {
		defer close(app.dispatchDone)
		app.bus.Run(ctx)
	}()
	return app
}

func (app *App) Bus() *events.Bus              { return app.bus }
func (app *App) Publish(e events.Event)        { app.bus.Publish(e) }
func (app *App) Engine() provider.Engine       { return app.engine }
func (app *App) LongEngine() provider.Engine   { return app.longEngine }
func (app *App) Blocklist() *browser.Blocklist { return app.blocklist }
func (app *App) Logger() *slog.Logger          { return app.log }

func (app *App) Subscribe(l events.Listener) (unsubscribe func()) {
	return app.bus.Subscribe(l)
}

// Agent returns the live agent with the given id, or nil.
func (app *App) Agent(id string) *Agent { return app.nodes.get(id) }

// Agents returns every live agent in creation order.
func (app *App) Agents() []*Agent { return app.nodes.live() }

// NewRootAgent creates a depth-0 agent that can delegate but not browse.
func (app *App) NewRootAgent(opts ...Option) *Agent {
	base := []Option{WithSystemPrompt(app.opts.rootPrompt), WithDelegation()}
	return NewAgent(app, append(base, opts...)...)
}

// newHelper creates a helper under parent. Helpers browse, and delegate
// further while they are above the depth limit.
func (app *App) newHelper(parent *Agent) *Agent {
	opts := []Option{
		WithParent(parent),
		WithSystemPrompt(app.opts.delegatePrompt),
		WithBrowsing(),
		WithTools(app.opts.helperTools...),
	}
	if parent.Depth()+1 < app.opts.maxDepth {
		opts = append(opts, WithDelegation())
	}
	return NewAgent(app, opts...)
}

func (app *App) newSummarizer(parent *Agent) *Agent {
	return NewAgent(app, WithParent(parent), WithSystemPrompt(SummarizerPrompt))
}

// Restore recreates an agent from a snapshot with the tools its depth
// would give it. If the snapshot's parent is alive the agent is attached
// to it and becomes one of its helpers again.
func (app *App) Restore(s Snapshot, opts ...Option) *Agent {
	base := []Option{WithID(s.ID), WithName(s.Name), withRestored(s)}
	parent := app.Agent(s.ParentID)
	if parent != nil {
		base = append(base, WithParent(parent))
	}
	switch {
	case s.Depth == 0:
		base = append(base, WithSystemPrompt(app.opts.rootPrompt), WithDelegation())
	default:
		base = append(base, WithSystemPrompt(app.opts.delegatePrompt), WithBrowsing(), WithTools(app.opts.helperTools...))
		if s.Depth < app.opts.maxDepth {
			base = append(base, WithDelegation())
		}
	}
	a := NewAgent(app, append(base, opts...)...)
	if parent != nil && parent.delegator != nil {
		parent.delegator.adopt(a)
	}
	return a
}

// RestoreTree restores snapshots parents first and returns the agents in
// the order given. The caller must hold the result to keep them alive.
func (app *App) RestoreTree(snaps []Snapshot) []*Agent {
	order := make([]int, len(snaps))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int { return snaps[a].Depth - snaps[b].Depth })

	out := make([]*Agent, len(snaps))
	for _, i := range order {
		out[i] = app.Restore(snaps[i])
	}
	return out
}

// Browser returns the shared browser, launching it on first use.
func (app *App) Browser(ctx context.Context) (browser.Browser, error) {
	app.browserMu.Lock()
	defer app.browserMu.Unlock()
	if app.closed {
		return nil, ErrClosed
	}
	if app.browser == nil {
		b, err := app.opts.launch(ctx, app.opts.browser)
		if err != nil {
			return nil, err
		}
		app.browser = b
	}
	return app.browser, nil
}

// Close stops event dispatch and releases the engines and the browser.
// Every release is attempted; the first error is returned once all have
// finished. Later calls return the same result and release nothing.
//
// Close waits for the dispatcher to exit unless a listener is running, so
// a listener may call it; dispatch ends when that listener returns.
func (app *App) Close() error {
	app.closeOnce.Do(func() {
		app.stopDispatch()
		if !app.bus.Dispatching() {
			<-app.dispatchDone
		}

		app.browserMu.Lock()
		app.closed = true
		b := app.browser
		app.browserMu.Unlock()

		var g errgroup.Group
		g.Go(app.engine.Close)
		if app.longEngine != app.engine {
			g.Go(app.longEngine.Close)
		}
		if b != nil {
			g.Go(b.Close)
		}
		app.closeErr = g.Wait()
	})
	return app.closeErr
}
