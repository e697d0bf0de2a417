// Package pipeline runs the extraction stages against one owned browser
// session and hands the resulting candidates to the download dispatcher.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/alvarorichard/anidl/internal/browser"
	"github.com/alvarorichard/anidl/internal/downloader"
	"github.com/alvarorichard/anidl/internal/hosts"
	"github.com/alvarorichard/anidl/internal/models"
	"github.com/alvarorichard/anidl/internal/patterns"
	"github.com/alvarorichard/anidl/internal/scraper"
	"github.com/alvarorichard/anidl/internal/selector"
	"github.com/alvarorichard/anidl/internal/util"
)

// ErrNothingFound means a stage completed without finding anything usable
var ErrNothingFound = errors.New("nothing found")

// LaunchFunc starts a browser session. It is called lazily, at most once per
// session lifetime.
type LaunchFunc func(ctx context.Context) (browser.Surface, error)

// Catalog caches the episode lists of titles already visited
type Catalog interface {
	GetCatalogEntry(title string) (*models.CatalogEntry, error)
	PutCatalogEntry(title string, entry *models.CatalogEntry) error
}

// Options configures a Pipeline
type Options struct {
	Launch   LaunchFunc
	Patterns *patterns.Store
	// Catalog is optional
	Catalog Catalog
	// Registry defaults to hosts.NewRegistry with default timeouts
	Registry      *hosts.Registry
	Downloader    downloader.Options
	Open          browser.OpenOptions
	ScriptTabWait time.Duration
}

// Pipeline owns the browser session of one run. Its methods are serialized.
type Pipeline struct {
	mu      sync.Mutex
	machine Machine

	launch  LaunchFunc
	sess    browser.Surface
	open    browser.OpenOptions
	tabWait time.Duration

	extractor  *scraper.Extractor
	dispatcher *downloader.Dispatcher
	catalog    Catalog

	// titles of the last search, by canonical link
	titles map[string]string
}

// New returns an idle pipeline. No browser is started until a stage needs one.
func New(opts Options) *Pipeline {
	if opts.Registry == nil {
		opts.Registry = hosts.NewRegistry(hosts.Options{Launch: hosts.Launcher(opts.Launch), Open: opts.Open})
	}
	return &Pipeline{
		launch:     opts.Launch,
		open:       opts.Open,
		tabWait:    opts.ScriptTabWait,
		extractor:  scraper.New(opts.Patterns, opts.Open),
		dispatcher: downloader.New(opts.Registry, opts.Downloader),
		catalog:    opts.Catalog,
		titles:     make(map[string]string),
	}
}

// State returns the state of the current run
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.machine.State()
}

// Reason explains why the last run failed
func (p *Pipeline) Reason() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.machine.Reason()
}

func (p *Pipeline) session(ctx context.Context) (browser.Surface, error) {
	if p.sess != nil {
		return p.sess, nil
	}
	if p.launch == nil {
		return nil, fmt.Errorf("%w: no browser configured", browser.ErrChannelLost)
	}
	timer := util.StartTimer("browser.launch")
	sess, err := p.launch(ctx)
	timer.StopAndLog()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	p.sess = sess
	return sess, nil
}

// release tears the session down. Failures are logged only.
func (p *Pipeline) release() {
	if p.sess == nil {
		return
	}
	if err := p.sess.Close(); err != nil {
		util.Warn("browser teardown failed", "err", err)
	}
	p.sess = nil
}

// Close releases the browser session, if any
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.release()
	return nil
}

// fail ends the run. A lost browser is dropped so the next stage starts a
// fresh one.
func (p *Pipeline) fail(cause error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	reason := msg
	if cause != nil {
		reason = fmt.Sprintf("%s: %v", msg, cause)
	}
	if err := p.machine.Fail(reason); err != nil {
		util.Debug("fail outside a stage", "state", p.machine.State(), "err", err)
	}
	util.Debug("pipeline failed", "reason", reason)

	switch {
	case cause == nil:
		return fmt.Errorf("%w: %s", ErrNothingFound, msg)
	case errors.Is(cause, selector.ErrSelectorNotFound):
		return fmt.Errorf("%w: %s: %w", ErrNothingFound, msg, cause)
	case browser.IsFatal(cause):
		p.release()
	}
	return fmt.Errorf("%s: %w", msg, cause)
}

// advance moves to the next settled state
func (p *Pipeline) advance(next State) {
	if err := p.machine.To(next); err != nil {
		util.Debug("pipeline transition rejected", "from", p.machine.State(), "to", next, "err", err)
	}
}

// Search finds titles matching query on site
func (p *Pipeline) Search(ctx context.Context, site, query string) ([]models.SearchResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.machine.Enter(Searching); err != nil {
		return nil, err
	}
	defer util.StartTimer("pipeline.search").StopAndLog()

	siteURL, err := scraper.NormalizeSiteURL(site)
	if err != nil {
		return nil, p.fail(err, "invalid site %q", site)
	}
	sess, err := p.session(ctx)
	if err != nil {
		return nil, p.fail(err, "browser unavailable")
	}
	results, err := p.extractor.Search(ctx, sess, siteURL, query)
	if err != nil {
		return nil, p.fail(err, "search for %q on %s failed", query, siteURL)
	}
	if len(results) == 0 {
		return nil, p.fail(nil, "no results for %q on %s", query, siteURL)
	}

	clear(p.titles)
	for _, r := range results {
		p.titles[scraper.Canonical(r.Link)] = r.Title
	}
	p.advance(ResultsReady)
	return results, nil
}

// ListEpisodes extracts the episode list of a title and caches it in the
// catalog
func (p *Pipeline) ListEpisodes(ctx context.Context, animeURL string) ([]models.Episode, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.machine.Enter(EpisodesRequested); err != nil {
		return nil, err
	}
	defer util.StartTimer("pipeline.episodes").StopAndLog()

	sess, err := p.session(ctx)
	if err != nil {
		return nil, p.fail(err, "browser unavailable")
	}
	episodes, err := p.extractor.Episodes(ctx, sess, animeURL)
	if err != nil {
		return nil, p.fail(err, "listing episodes of %s failed", animeURL)
	}
	if len(episodes) == 0 {
		return nil, p.fail(nil, "no episodes on %s", animeURL)
	}

	p.remember(animeURL, episodes)
	p.advance(EpisodesReady)
	return episodes, nil
}

func (p *Pipeline) remember(animeURL string, episodes []models.Episode) {
	if p.catalog == nil {
		return
	}
	link := scraper.Canonical(animeURL)
	title, ok := p.titles[link]
	if !ok {
		title = TitleFromLink(link)
	}
	entry := &models.CatalogEntry{
		Title:     title,
		Link:      link,
		Site:      scraper.SiteKey(link),
		Episodes:  episodes,
		UpdatedAt: time.Now(),
	}
	if err := p.catalog.PutCatalogEntry(title, entry); err != nil {
		util.Warn("could not cache episode list", "title", title, "err", err)
	}
}

// TitleFromLink guesses a title from the last path segment of a catalog link
func TitleFromLink(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return link
	}
	slug, err := url.PathUnescape(path.Base(strings.TrimRight(u.Path, "/")))
	if err != nil || slug == "." || slug == "/" {
		return link
	}
	return strings.Join(strings.Fields(strings.ReplaceAll(slug, "-", " ")), " ")
}

// GetDownloadLinks extracts the download candidates of an episode
func (p *Pipeline) GetDownloadLinks(ctx context.Context, episodeURL string) ([]models.DownloadLink, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.machine.Enter(LinksRequested); err != nil {
		return nil, err
	}
	defer util.StartTimer("pipeline.links").StopAndLog()

	sess, err := p.session(ctx)
	if err != nil {
		return nil, p.fail(err, "browser unavailable")
	}
	links, err := p.extractor.DownloadLinks(ctx, sess, episodeURL)
	if err != nil {
		return nil, p.fail(err, "extracting download links of %s failed", episodeURL)
	}
	if len(links) == 0 {
		return nil, p.fail(nil, "no download links on %s", episodeURL)
	}
	p.advance(LinksReady)
	return links, nil
}

// Fetch resolves script-driven candidates while the browser is still open,
// closes the browser, and downloads the first candidate that works.
func (p *Pipeline) Fetch(ctx context.Context, links []models.DownloadLink, rule downloader.NamingRule) (*downloader.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.machine.State() != LinksReady {
		if err := p.machine.Enter(LinksReady); err != nil {
			return nil, err
		}
	}
	defer util.StartTimer("pipeline.fetch").StopAndLog()

	candidates, err := p.resolveDeferred(ctx, links)
	if err != nil {
		return nil, p.fail(err, "resolving script-driven links failed")
	}
	if len(candidates) == 0 {
		return nil, p.fail(nil, "no usable download links")
	}
	p.advance(Resolved)

	// downloads run without the browser
	p.release()
	return p.dispatcher.Download(ctx, candidates, rule)
}

// resolveDeferred replaces script-index placeholders with the URLs their
// page script opens. Placeholders that cannot be resolved are dropped.
func (p *Pipeline) resolveDeferred(ctx context.Context, links []models.DownloadLink) ([]models.DownloadLink, error) {
	out := make([]models.DownloadLink, 0, len(links))
	var tab *hosts.ScriptTabAdapter
	for i, link := range links {
		if !link.IsDeferred() {
			out = append(out, link)
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if tab == nil {
			sess, err := p.session(ctx)
			if err != nil {
				util.Warn("skipping script-driven links, no browser", "err", err)
				return append(out, skipDeferred(links[i:])...), nil
			}
			tab = hosts.NewScriptTabAdapter(sess, p.tabWait, p.open)
		}

		res, err := tab.Resolve(ctx, link)
		switch {
		case err == nil:
			util.Debug("script-driven link resolved", "server", link.Host, "url", res.URL)
			out = append(out, models.DownloadLink{Host: link.Host, URL: res.URL, PageURL: link.PageURL})
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case browser.IsFatal(err):
			util.Warn("browser lost while resolving script-driven links", "err", err)
			p.release()
			return append(out, skipDeferred(links[i+1:])...), nil
		default:
			util.Debug("script-driven link skipped", "server", link.Host, "err", err)
		}
	}
	return out, nil
}

// skipDeferred keeps the direct links of rest
func skipDeferred(rest []models.DownloadLink) []models.DownloadLink {
	var out []models.DownloadLink
	for _, l := range rest {
		if !l.IsDeferred() {
			out = append(out, l)
		}
	}
	return out
}

// LookupCatalog returns the cached entry of title, or nil
func (p *Pipeline) LookupCatalog(title string) (*models.CatalogEntry, error) {
	if p.catalog == nil {
		return nil, nil
	}
	return p.catalog.GetCatalogEntry(title)
}
