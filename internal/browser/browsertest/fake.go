// Package browsertest provides an in-memory browser.Surface for tests.
package browsertest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/alvarorichard/anidl/internal/browser"
)

// ClickEffect is what happens when a selector is clicked
type ClickEffect struct {
	NewTab   string // URL of a tab opened by page script
	Navigate string // URL the primary page moves to
}

// Fake serves fixed HTML per URL. Zero value is not usable, use New.
type Fake struct {
	mu sync.Mutex

	pages    map[string]string
	current  string
	tabs     []string
	timeouts map[string]int

	// OnClick maps a selector to the effect of clicking it
	OnClick map[string]ClickEffect
	// OnEnter maps a selector to a URL template; %s receives the filled value
	OnEnter map[string]string
	// Evaluated maps a page URL to what Evaluate returns while it is loaded
	Evaluated map[string]any
	// Lost makes every call fail as if the browser crashed
	Lost bool

	Navigations []string
	Clicks      []string
	Filled      map[string]string
	Closed      bool
	ClosedTabs  int
}

var _ browser.Surface = (*Fake)(nil)

// New returns a fake serving pages (URL to HTML)
func New(pages map[string]string) *Fake {
	if pages == nil {
		pages = make(map[string]string)
	}
	return &Fake{
		pages:    pages,
		timeouts: make(map[string]int),
		OnClick:  make(map[string]ClickEffect),
		OnEnter:   make(map[string]string),
		Evaluated: make(map[string]any),
		Filled:    make(map[string]string),
	}
}

// SetPage adds or replaces the HTML served for url
func (f *Fake) SetPage(url, html string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[url] = html
}

// TimeoutFor makes the next n navigations to url time out
func (f *Fake) TimeoutFor(url string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timeouts[url] = n
}

func (f *Fake) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.Lost || f.Closed {
		return browser.ErrChannelLost
	}
	return nil
}

func (f *Fake) Navigate(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx); err != nil {
		return err
	}
	f.Navigations = append(f.Navigations, url)
	if f.timeouts[url] > 0 {
		f.timeouts[url]--
		return fmt.Errorf("goto %s: %w", url, browser.ErrNavigationTimeout)
	}
	f.current = url
	return nil
}

func (f *Fake) WaitForNetworkIdle(ctx context.Context, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.check(ctx)
}

func (f *Fake) WaitForSelector(ctx context.Context, sel string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx); err != nil {
		return err
	}
	if f.count(sel) == 0 {
		return fmt.Errorf("wait for %s: %w", sel, browser.ErrNavigationTimeout)
	}
	return nil
}

func (f *Fake) count(sel string) int {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(f.pages[f.current]))
	if err != nil {
		return 0
	}
	return doc.Find(sel).Length()
}

func (f *Fake) Content(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx); err != nil {
		return "", err
	}
	html, ok := f.pages[f.current]
	if !ok {
		return "<html><body></body></html>", nil
	}
	return html, nil
}

// Evaluate supports only what tests need: it returns nil.
func (f *Fake) Evaluate(ctx context.Context, _ string, _ ...any) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx); err != nil {
		return nil, err
	}
	return f.Evaluated[f.current], nil
}

func (f *Fake) Click(ctx context.Context, sel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx); err != nil {
		return err
	}
	if f.count(sel) == 0 {
		return fmt.Errorf("click %s: %w", sel, browser.ErrNavigationTimeout)
	}
	f.Clicks = append(f.Clicks, sel)
	effect := f.OnClick[sel]
	if effect.NewTab != "" {
		f.tabs = append(f.tabs, effect.NewTab)
	}
	if effect.Navigate != "" {
		f.current = effect.Navigate
	}
	return nil
}

func (f *Fake) Fill(ctx context.Context, sel, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx); err != nil {
		return err
	}
	if f.count(sel) == 0 {
		return fmt.Errorf("fill %s: %w", sel, browser.ErrNavigationTimeout)
	}
	f.Filled[sel] = value
	return nil
}

func (f *Fake) Press(ctx context.Context, sel, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx); err != nil {
		return err
	}
	if key != "Enter" {
		return nil
	}
	if tmpl, ok := f.OnEnter[sel]; ok {
		f.current = strings.ReplaceAll(tmpl, "%s", f.Filled[sel])
		f.Navigations = append(f.Navigations, f.current)
	}
	return nil
}

func (f *Fake) URL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *Fake) Tabs(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx); err != nil {
		return nil, err
	}
	return append([]string{f.current}, f.tabs...), nil
}

func (f *Fake) CloseSpawnedTabs(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx); err != nil {
		return err
	}
	f.ClosedTabs += len(f.tabs)
	f.tabs = nil
	return nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}
