package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
)

type pwBrowser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
}

func launchPlaywright(opts Options) (*pwBrowser, error) {
	pw, err := playwright.Run(&playwright.RunOptions{
		Browsers: []string{"chromium"},
	})
	if err != nil {
		return nil, fmt.Errorf("browser: start playwright (install the driver with `go run github.com/playwright-community/playwright-go/cmd/playwright install chromium`): %w", err)
	}
	b, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("browser: launch chromium: %w", err)
	}
	opts.Logger.Info("browser launched", "driver", "playwright", "headless", opts.Headless)
	return &pwBrowser{pw: pw, browser: b}, nil
}

func (b *pwBrowser) NewPage(context.Context) (Page, error) {
	p, err := b.browser.NewPage()
	if err != nil {
		return nil, fmt.Errorf("browser: new page: %w", err)
	}
	return &pwPage{page: p}, nil
}

func (b *pwBrowser) Close() error {
	return errors.Join(b.browser.Close(), b.pw.Stop())
}

// pwPage adapts playwright's page. Playwright calls are not context aware,
// so a context deadline is turned into the call's timeout.
type pwPage struct {
	page playwright.Page
}

func timeoutMillis(ctx context.Context, d time.Duration) *float64 {
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); d == 0 || left < d {
			d = left
		}
	}
	if d <= 0 {
		return nil
	}
	return playwright.Float(float64(d.Milliseconds()))
}

func pwErr(err error) error {
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

func (p *pwPage) Goto(ctx context.Context, url string) error {
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		Timeout:   timeoutMillis(ctx, 30*time.Second),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	return pwErr(err)
}

func (p *pwPage) WaitForNetworkIdle(ctx context.Context, timeout time.Duration) error {
	return pwErr(p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: timeoutMillis(ctx, timeout),
	}))
}

func (p *pwPage) Title(context.Context) (string, error) { return p.page.Title() }
func (p *pwPage) URL() string                           { return p.page.URL() }

func (p *pwPage) Content(context.Context) (string, error) {
	html, err := p.page.Content()
	return html, pwErr(err)
}

func (p *pwPage) InnerHTML(ctx context.Context, selector string, timeout time.Duration) (string, error) {
	html, err := p.page.InnerHTML(selector, playwright.PageInnerHTMLOptions{
		Timeout: timeoutMillis(ctx, timeout),
	})
	return html, pwErr(err)
}

func (p *pwPage) Close() error { return p.page.Close() }
