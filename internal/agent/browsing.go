package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jeanpaul/redel/internal/browser"
	"github.com/jeanpaul/redel/internal/events"
	"github.com/jeanpaul/redel/internal/provider"
	"github.com/jeanpaul/redel/internal/tools"
)

const (
	searchResultsSelector = "#links"
	searchResultsTimeout  = 5 * time.Second
	networkIdleTimeout    = 10 * time.Second
)

// Browsing owns an agent's browser tab. The tab is opened on first use
// from the App's shared browser and closed by the agent's Cleanup.
type Browsing struct {
	owner *Agent

	mu   sync.Mutex
	page browser.Page
}

func newBrowsing(owner *Agent) *Browsing {
	b := &Browsing{owner: owner}
	owner.OnCleanup(b.close)
	return b
}

func (b *Browsing) getPage(ctx context.Context) (browser.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.page != nil {
		return b.page, nil
	}
	br, err := b.owner.app.Browser(ctx)
	if err != nil {
		return nil, err
	}
	p, err := br.NewPage(ctx)
	if err != nil {
		return nil, err
	}
	b.page = p
	return p, nil
}

// currentURL is the address of the open tab, or "" if none is open.
func (b *Browsing) currentURL() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.page == nil {
		return ""
	}
	return b.page.URL()
}

func (b *Browsing) close(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.page == nil {
		return nil
	}
	err := b.page.Close()
	b.page = nil
	return err
}

// Search runs query through the configured search page and returns the
// results as Markdown.
func (b *Browsing) Search(ctx context.Context, query string) (string, error) {
	page, err := b.getPage(ctx)
	if err != nil {
		return "", err
	}
	opts := b.owner.app.opts
	if err := page.Goto(ctx, opts.searchURL+url.QueryEscape(query)); err != nil {
		return "", fmt.Errorf("search: %w", err)
	}

	html, err := page.InnerHTML(ctx, searchResultsSelector, searchResultsTimeout)
	if errors.Is(err, browser.ErrTimeout) {
		// no results region; hand back the whole page
		content, err := page.Content(ctx)
		if err != nil {
			return "", fmt.Errorf("search: %w", err)
		}
		return browser.Markdownify(content, true)
	}
	if err != nil {
		return "", fmt.Errorf("search: %w", err)
	}

	results, err := browser.Markdownify(html, true)
	if err != nil {
		return "", err
	}
	b.owner.app.Publish(events.NewPageVisited(b.owner.id, page.URL(), "search: "+query))
	return results + "\n\nYou should visit some of these links for more information or delegate helpers to visit multiple.", nil
}

// VisitPage loads href and returns its main content as Markdown under a
// title header. Content over the configured budget is summarised by a
// child agent with this agent's conversation as context.
func (b *Browsing) VisitPage(ctx context.Context, href string) (string, error) {
	app := b.owner.app
	if app.Blocklist().Blocked(href) {
		return "This site is blocked. Don't use it for this query; try a different source.", nil
	}

	title, pageURL, content, err := b.fetch(ctx, href)
	if err != nil {
		return "", err
	}
	app.Publish(events.NewPageVisited(b.owner.id, pageURL, title))

	if b.owner.MessageLen(provider.ToolResultMessage("", "visit_page", content)) > app.opts.maxWebpageTokens {
		content, err = b.summarize(ctx, content)
		if err != nil {
			return "", err
		}
	}
	header := fmt.Sprintf("%s\n%s\n%s\n\n", title, strings.Repeat("=", len([]rune(title))), pageURL)
	return header + content, nil
}

func (b *Browsing) fetch(ctx context.Context, href string) (title, pageURL, content string, err error) {
	if browser.DocumentKindOf(href) != "" {
		text, ok, err := browser.FetchDocument(ctx, b.owner.app.opts.httpClient, href)
		if err != nil {
			return "", "", "", err
		}
		if ok {
			return pathTitle(href), href, text, nil
		}
	}

	page, err := b.getPage(ctx)
	if err != nil {
		return "", "", "", err
	}
	if err := page.Goto(ctx, href); err != nil {
		return "", "", "", fmt.Errorf("visit %s: %w", href, err)
	}
	if err := page.WaitForNetworkIdle(ctx, networkIdleTimeout); err != nil && !errors.Is(err, browser.ErrTimeout) {
		return "", "", "", fmt.Errorf("visit %s: %w", href, err)
	}
	title, err = page.Title(ctx)
	if err != nil {
		return "", "", "", fmt.Errorf("visit %s: %w", href, err)
	}
	html, err := page.Content(ctx)
	if err != nil {
		return "", "", "", fmt.Errorf("visit %s: %w", href, err)
	}
	content, err = browser.PageMarkdown(html, page.URL())
	if err != nil {
		return "", "", "", err
	}
	return title, page.URL(), content, nil
}

func pathTitle(href string) string {
	u, err := url.Parse(href)
	if err != nil || u.Path == "" {
		return href
	}
	return u.Path[strings.LastIndex(u.Path, "/")+1:]
}

func (b *Browsing) summarize(ctx context.Context, content string) (string, error) {
	var texts []string
	for _, m := range b.owner.History() {
		if m.Content != "" {
			texts = append(texts, m.Content)
		}
	}
	query := fmt.Sprintf("%s\n\nKeep the current context in mind:\n<context>\n%s\n</context>\n\n"+
		"Keeping the context and task in mind, please summarize the main content of the webpage above.",
		content, strings.Join(texts, "\n\n"))

	summarizer := b.owner.app.newSummarizer(b.owner)
	msg, err := summarizer.ChatRound(ctx, query)
	if err != nil {
		return "", fmt.Errorf("summarize page: %w", err)
	}
	return msg.Content, nil
}

// Blocked records that the current site refused the visit. The agent is
// put in the Errored state and the site is added to the shared blocklist.
func (b *Browsing) Blocked() string {
	b.owner.MarkErrored()
	pageURL := b.currentURL()
	if host := browser.Host(pageURL); host != "" {
		b.owner.app.Blocklist().Add(host)
	}
	b.owner.app.Publish(events.NewSiteBlocked(b.owner.id, pageURL))
	return "The block has been noted. Don't use this site for future queries."
}

type searchTool struct{ b *Browsing }

func (t *searchTool) Name() string        { return "search" }
func (t *searchTool) Description() string { return "Search a query on the web." }
func (t *searchTool) Parameters() any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": "What to search for"},
		},
		"required": []string{"query"},
	}
}

func (t *searchTool) Execute(ctx context.Context, rawArgs string) (tools.Result, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return tools.Result{Error: "invalid arguments: " + err.Error()}, nil
	}
	out, err := t.b.Search(ctx, args.Query)
	if err != nil {
		return tools.Result{}, err
	}
	return tools.Result{Output: out}, nil
}

type visitPageTool struct{ b *Browsing }

func (t *visitPageTool) Name() string        { return "visit_page" }
func (t *visitPageTool) Description() string { return "Visit a web page and view its contents." }
func (t *visitPageTool) Parameters() any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"href": map[string]any{"type": "string", "description": "The URL of the page to visit"},
		},
		"required": []string{"href"},
	}
}

func (t *visitPageTool) Execute(ctx context.Context, rawArgs string) (tools.Result, error) {
	var args struct {
		Href string `json:"href"`
	}
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return tools.Result{Error: "invalid arguments: " + err.Error()}, nil
	}
	out, err := t.b.VisitPage(ctx, args.Href)
	if err != nil {
		return tools.Result{}, err
	}
	return tools.Result{Output: out}, nil
}

type blockedTool struct{ b *Browsing }

func (t *blockedTool) Name() string { return "blocked" }
func (t *blockedTool) Description() string {
	return "Call this function if a page visit was blocked by the page."
}
func (t *blockedTool) Parameters() any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (t *blockedTool) Execute(context.Context, string) (tools.Result, error) {
	return tools.Result{Output: t.b.Blocked()}, nil
}
