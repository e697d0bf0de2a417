// Package browser drives the single browser page an extraction run owns.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alvarorichard/anidl/internal/selector"
	"github.com/alvarorichard/anidl/internal/util"
)

var (
	// ErrNavigationTimeout means a page did not load or settle in time
	ErrNavigationTimeout = errors.New("navigation timed out")
	// ErrChannelLost means the browser process or page is gone; the session
	// must be relaunched before anything else can run
	ErrChannelLost = errors.New("browser automation channel lost")
)

// Surface is the browser automation surface. One Surface is one page plus
// whatever tabs page script spawns from it.
type Surface interface {
	// Navigate loads url once. A load timeout is reported as ErrNavigationTimeout.
	Navigate(ctx context.Context, url string) error
	WaitForNetworkIdle(ctx context.Context, timeout time.Duration) error
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error
	Content(ctx context.Context) (string, error)
	Evaluate(ctx context.Context, script string, args ...any) (any, error)
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	Press(ctx context.Context, selector, key string) error
	// URL is the address of the primary page
	URL() string
	// Tabs lists the URLs of every open page, primary page first
	Tabs(ctx context.Context) ([]string, error)
	// CloseSpawnedTabs closes every page except the primary one
	CloseSpawnedTabs(ctx context.Context) error
	Close() error
}

// OpenOptions bounds the waits performed by Open
type OpenOptions struct {
	IdleTimeout time.Duration
	Settle      util.Backoff
	WaitFor     string // optional selector that must appear
}

// Open navigates to url, retrying once on timeout, then waits for the network
// to go idle and for the document to stop changing.
func Open(ctx context.Context, s Surface, url string, opts OpenOptions) error {
	err := s.Navigate(ctx, url)
	if errors.Is(err, ErrNavigationTimeout) {
		util.Debug("navigation timed out, retrying once", "url", url)
		err = s.Navigate(ctx, url)
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", url, err)
	}
	return Stabilize(ctx, s, opts)
}

// Stabilize waits for network idle, the optional selector and a stable
// document. Only a lost channel or cancellation is reported; a page that
// keeps mutating is read as it is once the bound expires.
func Stabilize(ctx context.Context, s Surface, opts OpenOptions) error {
	if opts.IdleTimeout > 0 {
		if err := s.WaitForNetworkIdle(ctx, opts.IdleTimeout); err != nil {
			if fatal(err) {
				return err
			}
			util.Debug("network did not go idle", "url", s.URL(), "err", err)
		}
	}
	if opts.WaitFor != "" {
		timeout := opts.Settle.Limit
		if timeout <= 0 {
			timeout = util.DefaultBackoff.Limit
		}
		if err := s.WaitForSelector(ctx, opts.WaitFor, timeout); err != nil {
			if fatal(err) {
				return err
			}
			util.Debug("selector did not appear", "selector", opts.WaitFor, "err", err)
		}
	}
	if err := WaitStable(ctx, s, opts.Settle); err != nil {
		if fatal(err) {
			return err
		}
		util.Debug("page still changing, reading it anyway", "url", s.URL())
	}
	return nil
}

// WaitStable polls the document size until two consecutive reads agree.
func WaitStable(ctx context.Context, s Surface, b util.Backoff) error {
	last := -1
	return util.Poll(ctx, b, func(ctx context.Context) (bool, error) {
		html, err := s.Content(ctx)
		if err != nil {
			return false, err
		}
		n := len(html)
		stable := n == last && n > 0
		last = n
		return stable, nil
	})
}

// Snapshot parses the current document of s
func Snapshot(ctx context.Context, s Surface) (*selector.Snapshot, error) {
	html, err := s.Content(ctx)
	if err != nil {
		return nil, err
	}
	return selector.Parse(strings.NewReader(html))
}

func fatal(err error) bool {
	return errors.Is(err, ErrChannelLost) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// IsFatal reports whether err ends the current run
func IsFatal(err error) bool {
	return fatal(err)
}
