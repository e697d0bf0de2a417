// Package scraper extracts search results, episode lists and download links
// from streaming sites through a browser session.
package scraper

import (
	"context"
	"fmt"

	"github.com/alvarorichard/anidl/internal/browser"
	"github.com/alvarorichard/anidl/internal/models"
	"github.com/alvarorichard/anidl/internal/patterns"
	"github.com/alvarorichard/anidl/internal/selector"
)

// Extractor runs the three extraction stages. It holds no page state: the
// session is passed to every call by its owner.
type Extractor struct {
	patterns *patterns.Store
	open     browser.OpenOptions
}

// New returns an extractor that learns selectors into store
func New(store *patterns.Store, open browser.OpenOptions) *Extractor {
	if store == nil {
		store = patterns.New(nil)
	}
	return &Extractor{patterns: store, open: open}
}

// Patterns exposes the store the extractor learns into
func (e *Extractor) Patterns() *patterns.Store {
	return e.patterns
}

// visit opens url and returns a snapshot of the settled page
func (e *Extractor) visit(ctx context.Context, sess browser.Surface, url string) (*selector.Snapshot, error) {
	if err := browser.Open(ctx, sess, url, e.open); err != nil {
		return nil, err
	}
	return browser.Snapshot(ctx, sess)
}

// settle waits for the page after an in-page action and snapshots it
func (e *Extractor) settle(ctx context.Context, sess browser.Surface) (*selector.Snapshot, error) {
	if err := browser.Stabilize(ctx, sess, e.open); err != nil {
		return nil, err
	}
	return browser.Snapshot(ctx, sess)
}

// adapt resolves purpose on doc through the pattern store. A miss is
// reported as ErrSelectorNotFound.
func (e *Extractor) adapt(site Site, purpose models.Purpose, doc selector.Document) (selector.Result, error) {
	res, ok, err := e.patterns.Adapt(site.Domain, purpose, doc, site.Candidates(purpose))
	if err != nil {
		return selector.Result{}, err
	}
	if !ok {
		return selector.Result{}, fmt.Errorf("%w: %s on %s", selector.ErrSelectorNotFound, purpose, site.Domain)
	}
	site.log().Debug("selector resolved", "purpose", purpose,
		"selector", res.Selector, "matches", res.MatchCount, "confidence", res.Confidence)
	return res, nil
}
