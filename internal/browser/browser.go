// Package browser gives agents a shared headless browser. Two drivers are
// supported: playwright (default) and chromedp.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrTimeout is returned by Page methods whose wait expired. Callers that
// can work with a partly loaded page should check for it with errors.Is.
var ErrTimeout = errors.New("browser: timeout")

// Browser is one process-wide browser instance. Pages are independent tabs
// and may be used from different goroutines.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is a single tab. A Page is not safe for concurrent use.
type Page interface {
	Goto(ctx context.Context, url string) error
	// WaitForNetworkIdle waits until the page stops loading resources.
	WaitForNetworkIdle(ctx context.Context, timeout time.Duration) error
	Title(ctx context.Context) (string, error)
	URL() string
	Content(ctx context.Context) (string, error)
	InnerHTML(ctx context.Context, selector string, timeout time.Duration) (string, error)
	Close() error
}

type Options struct {
	Driver   string
	Headless bool
	Logger   *slog.Logger
}

// Launch starts a browser with the configured driver.
func Launch(ctx context.Context, opts Options) (Browser, error) {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	switch opts.Driver {
	case "", "playwright":
		return launchPlaywright(opts)
	case "chromedp":
		return launchChromedp(ctx, opts)
	default:
		return nil, fmt.Errorf("browser: unknown driver %q", opts.Driver)
	}
}
