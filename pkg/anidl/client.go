// Package anidl provides a public API for finding anime on streaming sites and
// downloading episodes from the file hosts those sites link to.
package anidl

import (
	"context"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/alvarorichard/anidl/internal/browser"
	"github.com/alvarorichard/anidl/internal/downloader"
	"github.com/alvarorichard/anidl/internal/hosts"
	"github.com/alvarorichard/anidl/internal/patterns"
	"github.com/alvarorichard/anidl/internal/pipeline"
	"github.com/alvarorichard/anidl/internal/storage"
	"github.com/alvarorichard/anidl/internal/util"
)

// Client runs searches, episode listings and downloads for one user. It owns
// at most one browser, started on first use.
type Client struct {
	cfg      *Config
	store    storage.Store
	pipeline *pipeline.Pipeline
}

type clientOptions struct {
	store    storage.Store
	launch   pipeline.LaunchFunc
	reporter Reporter
	registry *hosts.Registry
}

// Option customizes a Client
type Option func(*clientOptions)

// WithStore replaces the sqlite store at cfg.PatternDBPath()
func WithStore(s storage.Store) Option {
	return func(o *clientOptions) { o.store = s }
}

// WithLauncher replaces the playwright browser
func WithLauncher(f pipeline.LaunchFunc) Option {
	return func(o *clientOptions) { o.launch = f }
}

// WithReporter sets the download progress reporter
func WithReporter(r Reporter) Option {
	return func(o *clientOptions) { o.reporter = r }
}

// WithRegistry replaces the host adapters
func WithRegistry(r *hosts.Registry) Option {
	return func(o *clientOptions) { o.registry = r }
}

// NewClient creates a client. A nil cfg uses DefaultConfig.
func NewClient(cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	o := clientOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	if o.store == nil {
		if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
			return nil, errors.Wrap(err, "failed to create data directory")
		}
		s, err := storage.Open(cfg.PatternDBPath())
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open store %s", cfg.PatternDBPath())
		}
		o.store = s
	}
	if o.launch == nil {
		o.launch = playwrightLauncher(cfg)
	}
	open := browser.OpenOptions{
		IdleTimeout: cfg.Timeouts.Settle,
		Settle:      util.Backoff{Initial: 250 * time.Millisecond, Max: time.Second, Limit: cfg.Timeouts.Settle},
	}
	if o.registry == nil {
		o.registry = hosts.NewRegistry(hosts.Options{
			HTTPTimeout:  cfg.Timeouts.HTTP,
			CountdownMax: cfg.Timeouts.CountdownMax,
			Launch:       hosts.Launcher(o.launch),
			Open:         open,
		})
	}

	dl := downloader.Options{Reporter: o.reporter}
	dl.Preferred, dl.HasPreferred = cfg.Preferred()
	return &Client{
		cfg:   cfg,
		store: o.store,
		pipeline: pipeline.New(pipeline.Options{
			Launch:        o.launch,
			Patterns:      patterns.New(o.store),
			Catalog:       o.store,
			Registry:      o.registry,
			Downloader:    dl,
			Open:          open,
			ScriptTabWait: cfg.Timeouts.ScriptTabWait,
		}),
	}, nil
}

func playwrightLauncher(cfg *Config) pipeline.LaunchFunc {
	return func(context.Context) (browser.Surface, error) {
		s, err := browser.Launch(browser.Options{
			Headless:          !cfg.Headful,
			UserAgent:         cfg.UserAgent,
			NavigationTimeout: cfg.Timeouts.Navigation,
			InstallDriver:     true,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Search finds titles matching query. An empty site searches cfg.DefaultSite.
func (c *Client) Search(ctx context.Context, query, site string) ([]SearchResult, error) {
	if site == "" {
		site = c.cfg.DefaultSite
	}
	results, err := c.pipeline.Search(ctx, site, query)
	if err != nil {
		return nil, errors.Wrapf(err, "search %q", query)
	}
	return results, nil
}

// ListEpisodes returns the episodes of a title, sorted by number.
// The link should be obtained from a Search result.
func (c *Client) ListEpisodes(ctx context.Context, link string) ([]Episode, error) {
	episodes, err := c.pipeline.ListEpisodes(ctx, link)
	if err != nil {
		return nil, errors.Wrap(err, "list episodes")
	}
	return episodes, nil
}

// GetDownloadLinks returns the download candidates of an episode page
func (c *Client) GetDownloadLinks(ctx context.Context, episodeLink string) ([]DownloadLink, error) {
	links, err := c.pipeline.GetDownloadLinks(ctx, episodeLink)
	if err != nil {
		return nil, errors.Wrap(err, "get download links")
	}
	return links, nil
}

// Fetch downloads the first candidate that works, trying them in host
// priority order
func (c *Client) Fetch(ctx context.Context, links []DownloadLink, rule NamingRule) (*FetchResult, error) {
	res, err := c.pipeline.Fetch(ctx, links, rule)
	if err != nil {
		return res, errors.Wrap(err, "fetch")
	}
	return res, nil
}

// EpisodeRule names downloads <download_dir>/<title>/<title>_Episode_<n><ext>
func (c *Client) EpisodeRule(title, number string) NamingRule {
	return downloader.EpisodeNaming(c.cfg.DownloadDir, title, number)
}

// LookupCatalog returns the cached episode list of title, or nil when the
// title was never listed
func (c *Client) LookupCatalog(title string) (*CatalogEntry, error) {
	entry, err := c.pipeline.LookupCatalog(title)
	if err != nil {
		return nil, errors.Wrap(err, "catalog lookup")
	}
	return entry, nil
}

// Reason explains why the last operation came back empty
func (c *Client) Reason() string {
	return c.pipeline.Reason()
}

// Close stops the browser and closes the store
func (c *Client) Close() error {
	if err := c.pipeline.Close(); err != nil {
		util.Warn("browser teardown failed", "err", err)
	}
	return c.store.Close()
}
