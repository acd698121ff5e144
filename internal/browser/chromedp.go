package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

type cdpBrowser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	cancelAlloc context.CancelFunc
}

func launchChromedp(ctx context.Context, opts Options) (*cdpBrowser, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)
	// The browser outlives the launching call, so it must not inherit its
	// cancellation.
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocOpts...)
	bctx, cancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(bctx); err != nil {
		cancel()
		cancelAlloc()
		return nil, fmt.Errorf("browser: launch chrome: %w", err)
	}
	opts.Logger.Info("browser launched", "driver", "chromedp", "headless", opts.Headless)
	return &cdpBrowser{ctx: bctx, cancel: cancel, cancelAlloc: cancelAlloc}, nil
}

func (b *cdpBrowser) NewPage(context.Context) (Page, error) {
	tctx, cancel := chromedp.NewContext(b.ctx)
	if err := chromedp.Run(tctx); err != nil {
		cancel()
		return nil, fmt.Errorf("browser: new tab: %w", err)
	}
	return &cdpPage{ctx: tctx, cancel: cancel}, nil
}

func (b *cdpBrowser) Close() error {
	err := chromedp.Cancel(b.ctx)
	b.cancel()
	b.cancelAlloc()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

type cdpPage struct {
	ctx    context.Context
	cancel context.CancelFunc
	url    string
}

// run executes actions on the tab. Cancelling ctx or hitting timeout aborts
// the actions without closing the tab.
func (p *cdpPage) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	var (
		opCtx  context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		opCtx, cancel = context.WithTimeout(p.ctx, timeout)
	} else {
		opCtx, cancel = context.WithCancel(p.ctx)
	}
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(opCtx, actions...)
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

func (p *cdpPage) Goto(ctx context.Context, url string) error {
	var loc string
	if err := p.run(ctx, 30*time.Second, chromedp.Navigate(url), chromedp.Location(&loc)); err != nil {
		return err
	}
	p.url = loc
	return nil
}

// WaitForNetworkIdle approximates playwright's network-idle state by
// waiting for the body to be ready.
func (p *cdpPage) WaitForNetworkIdle(ctx context.Context, timeout time.Duration) error {
	return p.run(ctx, timeout, chromedp.WaitReady("body", chromedp.ByQuery))
}

func (p *cdpPage) Title(ctx context.Context) (string, error) {
	var title string
	err := p.run(ctx, 0, chromedp.Title(&title))
	return title, err
}

func (p *cdpPage) URL() string { return p.url }

func (p *cdpPage) Content(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, 0, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (p *cdpPage) InnerHTML(ctx context.Context, selector string, timeout time.Duration) (string, error) {
	var html string
	err := p.run(ctx, timeout, chromedp.InnerHTML(selector, &html, chromedp.ByQuery))
	return html, err
}

func (p *cdpPage) Close() error {
	p.cancel()
	return nil
}
