package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/alvarorichard/anidl/internal/util"
)

// hideWebdriver keeps the most common bot check from firing
const hideWebdriver = "Object.defineProperty(navigator, 'webdriver', {get: () => undefined})"

// Options configures a playwright session
type Options struct {
	Headless          bool
	UserAgent         string
	NavigationTimeout time.Duration
	// InstallDriver downloads the driver and chromium when they are missing
	InstallDriver bool
	Args          []string
}

// Session is a Surface backed by a chromium page driven through playwright
type Session struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
	navTO   time.Duration
}

var _ Surface = (*Session)(nil)

// Launch starts playwright, chromium and one page
func Launch(opts Options) (*Session, error) {
	pw, err := playwright.Run()
	if err != nil && opts.InstallDriver {
		util.Info("installing playwright driver and chromium")
		if installErr := playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}}); installErr != nil {
			return nil, fmt.Errorf("install playwright: %w", installErr)
		}
		pw, err = playwright.Run()
	}
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}

	s := &Session{pw: pw, navTO: opts.NavigationTimeout}
	if s.navTO <= 0 {
		s.navTO = 30 * time.Second
	}

	s.browser, err = pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     opts.Args,
	})
	if err != nil {
		s.teardown()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}

	ua := opts.UserAgent
	if ua == "" {
		ua = util.UserAgent
	}
	s.context, err = s.browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(ua),
	})
	if err != nil {
		s.teardown()
		return nil, fmt.Errorf("create browser context: %w", err)
	}
	if err := s.context.AddInitScript(playwright.Script{Content: playwright.String(hideWebdriver)}); err != nil {
		util.Debug("init script rejected", "err", err)
	}

	s.page, err = s.context.NewPage()
	if err != nil {
		s.teardown()
		return nil, fmt.Errorf("open page: %w", err)
	}
	s.page.SetDefaultTimeout(ms(s.navTO))
	return s, nil
}

func ms(d time.Duration) float64 {
	return float64(d / time.Millisecond)
}

// classify maps playwright errors onto the package sentinels
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, playwright.ErrTargetClosed):
		return fmt.Errorf("%s: %w: %v", op, ErrChannelLost, err)
	case errors.Is(err, playwright.ErrTimeout):
		return fmt.Errorf("%s: %w: %v", op, ErrNavigationTimeout, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func (s *Session) alive(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.page == nil || s.page.IsClosed() {
		return ErrChannelLost
	}
	return nil
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.alive(ctx); err != nil {
		return err
	}
	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(ms(s.navTO)),
	})
	return classify("navigate", err)
}

func (s *Session) WaitForNetworkIdle(ctx context.Context, timeout time.Duration) error {
	if err := s.alive(ctx); err != nil {
		return err
	}
	err := s.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: playwright.Float(ms(timeout)),
	})
	return classify("wait for network idle", err)
}

func (s *Session) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	if err := s.alive(ctx); err != nil {
		return err
	}
	err := s.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		Timeout: playwright.Float(ms(timeout)),
	})
	return classify("wait for "+selector, err)
}

func (s *Session) Content(ctx context.Context) (string, error) {
	if err := s.alive(ctx); err != nil {
		return "", err
	}
	html, err := s.page.Content()
	return html, classify("read content", err)
}

func (s *Session) Evaluate(ctx context.Context, script string, args ...any) (any, error) {
	if err := s.alive(ctx); err != nil {
		return nil, err
	}
	v, err := s.page.Evaluate(script, args...)
	return v, classify("evaluate", err)
}

func (s *Session) Click(ctx context.Context, selector string) error {
	if err := s.alive(ctx); err != nil {
		return err
	}
	return classify("click "+selector, s.page.Locator(selector).First().Click())
}

func (s *Session) Fill(ctx context.Context, selector, value string) error {
	if err := s.alive(ctx); err != nil {
		return err
	}
	return classify("fill "+selector, s.page.Locator(selector).First().Fill(value))
}

func (s *Session) Press(ctx context.Context, selector, key string) error {
	if err := s.alive(ctx); err != nil {
		return err
	}
	return classify("press "+key, s.page.Locator(selector).First().Press(key))
}

func (s *Session) URL() string {
	if s.page == nil {
		return ""
	}
	return s.page.URL()
}

func (s *Session) Tabs(ctx context.Context) ([]string, error) {
	if err := s.alive(ctx); err != nil {
		return nil, err
	}
	urls := []string{s.page.URL()}
	for _, p := range s.context.Pages() {
		if p == s.page {
			continue
		}
		urls = append(urls, p.URL())
	}
	return urls, nil
}

func (s *Session) CloseSpawnedTabs(ctx context.Context) error {
	if err := s.alive(ctx); err != nil {
		return err
	}
	var errs []error
	for _, p := range s.context.Pages() {
		if p == s.page {
			continue
		}
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close tears the whole session down. Failures are logged and returned joined,
// the session is unusable afterwards either way.
func (s *Session) Close() error {
	return s.teardown()
}

func (s *Session) teardown() error {
	var errs []error
	if s.context != nil {
		if err := s.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close context: %w", err))
		}
		s.context = nil
	}
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
		s.browser = nil
	}
	if s.pw != nil {
		if err := s.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop playwright: %w", err))
		}
		s.pw = nil
	}
	s.page = nil

	err := errors.Join(errs...)
	if err != nil {
		util.Warn("browser teardown", "err", err)
	}
	return err
}
