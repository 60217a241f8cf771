package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/catalog-importer/internal/ratelimit"
)

// Page adapts a playwright tab to the narrow interface the crawl uses.
// Selector based methods act on the first match.
type Page struct {
	page    playwright.Page
	timeout time.Duration
	retries int
	backoff ratelimit.Backoff
	markers []string
	logger  *slog.Logger
}

func newPage(page playwright.Page, opts *Options, logger *slog.Logger) *Page {
	return &Page{
		page:    page,
		timeout: opts.Timeout,
		retries: opts.NavigationRetries,
		backoff: opts.Backoff,
		markers: opts.BlockMarkers,
		logger:  logger,
	}
}

// Goto navigates to url, retrying transient failures with backoff. A
// challenge page counts as a failed attempt.
func (p *Page) Goto(ctx context.Context, url string) error {
	attempts := p.retries
	if attempts < 1 {
		attempts = 1
	}

	return ratelimit.Retry(ctx, attempts, p.backoff, func(attempt int) error {
		if attempt > 0 {
			p.logger.Info("retrying navigation", "attempt", attempt+1, "url", url)
		}

		_, err := p.page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
			Timeout:   playwright.Float(ms(p.budget(ctx))),
		})
		if err != nil {
			p.logger.Warn("navigation failed", "url", url, "attempt", attempt+1, "error", err)
			return wrapError(err)
		}

		if blocked, marker := p.blocked(); blocked {
			p.logger.Warn("bot protection detected", "url", url, "marker", marker)
			return fmt.Errorf("%w: %q on %s", ErrBlocked, marker, url)
		}
		return nil
	})
}

// budget is the page timeout, shortened to the context deadline.
func (p *Page) budget(ctx context.Context) time.Duration {
	d := p.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < d {
			d = left
		}
	}
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

func (p *Page) blocked() (bool, string) {
	title, err := p.page.Title()
	if err != nil {
		return false, ""
	}
	content, err := p.page.Content()
	if err != nil {
		return false, ""
	}
	return DetectBlock(title, content, p.markers)
}

func (p *Page) URL() string {
	return p.page.URL()
}

func (p *Page) Content() (string, error) {
	html, err := p.page.Content()
	return html, wrapError(err)
}

func (p *Page) WaitForSelector(selector string, timeout time.Duration) error {
	_, err := p.page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		Timeout: playwright.Float(ms(timeout)),
		State:   playwright.WaitForSelectorStateAttached,
	})
	return wrapError(err)
}

func (p *Page) Count(selector string) (int, error) {
	n, err := p.page.Locator(selector).Count()
	return n, wrapError(err)
}

const attributeScript = `(el, name) => el.hasAttribute(name) ? el.getAttribute(name) : null`

// Attribute reads an attribute of the first match and whether it is present.
func (p *Page) Attribute(selector, name string) (string, bool, error) {
	v, err := p.page.Locator(selector).First().Evaluate(attributeScript, name)
	if err != nil {
		return "", false, wrapError(err)
	}
	s, ok := v.(string)
	return s, ok, nil
}

func (p *Page) Fill(selector, value string) error {
	return wrapError(p.page.Locator(selector).First().Fill(value))
}

func (p *Page) Click(selector string) error {
	return wrapError(p.page.Locator(selector).First().Click())
}

func (p *Page) Evaluate(script string, arg interface{}) (interface{}, error) {
	v, err := p.page.Evaluate(script, arg)
	return v, wrapError(err)
}

// HumanizeInteraction moves the mouse and scrolls a little between steps.
func (p *Page) HumanizeInteraction(ctx context.Context) error {
	for i := 0; i < 3; i++ {
		x := float64(100 + i*200)
		y := float64(100 + i*150)
		if err := p.page.Mouse().Move(x, y); err != nil {
			return wrapError(err)
		}
		if err := ratelimit.Sleep(ctx, time.Millisecond*time.Duration(200+i*100)); err != nil {
			return err
		}
	}

	if _, err := p.page.Evaluate(`window.scrollBy(0, Math.random() * 300)`); err != nil {
		return wrapError(err)
	}
	return nil
}

func (p *Page) Close() error {
	return p.page.Close()
}

// DetectBlock reports whether the title or the visible text of content carries
// a challenge marker and which one matched. Scripts and styles are ignored, so
// a page that merely loads a captcha widget is not a challenge page.
func DetectBlock(title, content string, markers []string) (bool, string) {
	title = strings.ToLower(title)
	text := strings.ToLower(visibleText(content))
	for _, m := range markers {
		m = strings.ToLower(m)
		if m == "" {
			continue
		}
		if strings.Contains(title, m) || strings.Contains(text, m) {
			return true, m
		}
	}
	return false, ""
}

func visibleText(content string) string {
	if content == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return ""
	}
	doc.Find("script, style, noscript, template").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}

func ms(d time.Duration) float64 {
	return float64(d.Milliseconds())
}
