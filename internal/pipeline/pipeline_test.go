package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alvarorichard/anidl/internal/browser"
	"github.com/alvarorichard/anidl/internal/browser/browsertest"
	"github.com/alvarorichard/anidl/internal/downloader"
	"github.com/alvarorichard/anidl/internal/hosts"
	"github.com/alvarorichard/anidl/internal/models"
	"github.com/alvarorichard/anidl/internal/patterns"
	"github.com/alvarorichard/anidl/internal/storage"
	"github.com/alvarorichard/anidl/internal/util"
)

const (
	searchPage  = "https://witanime.cyou/?search_param=animes&s=Title+A"
	animePage   = "https://witanime.cyou/anime/title-a"
	episodePage = "https://witanime.cyou/episode/title-a-1/"
	spawnedTab  = "https://www.4shared.com/video/x/ep.html"
)

func sitePages() map[string]string {
	return map[string]string{
		searchPage: `<div class="anime-list-content">
			<div class="anime-card"><div class="anime-card-title"><h3><a href="/anime/title-a/">Title A</a></h3></div></div>
		</div>`,
		animePage: `<div class="episodes-list-content">
			<div class="episode-card"><a class="overlay" href="/episode/title-a-2/"></a><h3>الحلقة 2</h3></div>
			<div class="episode-card"><a class="overlay" href="/episode/title-a-1/"></a><h3>الحلقة 1</h3></div>
		</div>`,
		episodePage: `<div class="episode-download-container">
			<ul class="quality-list">
				<li>FHD</li>
				<li><a class="btn download-link" href="https://www.mediafire.com/file/k3y/ep1.mp4/file"><span class="notice">mediafire</span></a></li>
				<li><a class="btn download-link" data-index="1" href="#"><span class="notice">4shared</span></a></li>
			</ul>
		</div>`,
	}
}

type harness struct {
	p        *Pipeline
	fakes    []*browsertest.Fake
	registry *hosts.Registry
	catalog  *storage.MemoryStore
	newFake  func() *browsertest.Fake
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		registry: hosts.NewRegistry(hosts.Options{}),
		catalog:  storage.NewMemoryStore(),
		newFake:  func() *browsertest.Fake { return browsertest.New(sitePages()) },
	}
	settle := browser.OpenOptions{
		Settle: util.Backoff{Initial: time.Millisecond, Max: time.Millisecond, Limit: 20 * time.Millisecond},
	}
	h.p = New(Options{
		Launch: func(context.Context) (browser.Surface, error) {
			f := h.newFake()
			h.fakes = append(h.fakes, f)
			return f, nil
		},
		Patterns:      patterns.New(h.catalog),
		Catalog:       h.catalog,
		Registry:      h.registry,
		Open:          settle,
		ScriptTabWait: 200 * time.Millisecond,
	})
	t.Cleanup(func() { _ = h.p.Close() })
	return h
}

func TestPipelineEndToEnd(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte("episode bytes"))
	}))
	defer srv.Close()

	h := newHarness(t)
	h.newFake = func() *browsertest.Fake {
		f := browsertest.New(sitePages())
		f.OnClick["a[data-index='1']"] = browsertest.ClickEffect{NewTab: spawnedTab}
		return f
	}

	var resolved []string
	h.registry.Register(hosts.MediaFire, hosts.AdapterFunc(func(_ context.Context, l models.DownloadLink) (*hosts.Resolution, error) {
		resolved = append(resolved, l.URL)
		return nil, errors.New("mediafire is down")
	}))
	h.registry.Register(hosts.FourShared, hosts.AdapterFunc(func(_ context.Context, l models.DownloadLink) (*hosts.Resolution, error) {
		resolved = append(resolved, l.URL)
		return &hosts.Resolution{URL: srv.URL + "/ep1.mp4"}, nil
	}))

	ctx := context.Background()
	results, err := h.p.Search(ctx, "witanime.cyou", "Title A")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ResultsReady, h.p.State())

	eps, err := h.p.ListEpisodes(ctx, results[0].Link)
	require.NoError(t, err)
	require.Len(t, eps, 2)
	assert.Equal(t, "1", eps[0].Number)
	assert.Equal(t, EpisodesReady, h.p.State())

	entry, err := h.p.LookupCatalog("title a")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "Title A", entry.Title)
	assert.Equal(t, "witanime.cyou", entry.Site)
	assert.Len(t, entry.Episodes, 2)

	links, err := h.p.GetDownloadLinks(ctx, eps[0].Link)
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.True(t, links[1].IsDeferred())
	assert.Equal(t, LinksReady, h.p.State())

	dir := t.TempDir()
	res, err := h.p.Fetch(ctx, links, downloader.EpisodeNaming(dir, "Title A", "1"))
	require.NoError(t, err)
	assert.Equal(t, Resolved, h.p.State())
	assert.Equal(t, []string{"https://www.mediafire.com/file/k3y/ep1.mp4/file", spawnedTab}, resolved)

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, "episode bytes", string(data))
	assert.Equal(t, filepath.Join(dir, "Title_A", "Title_A_Episode_1.mp4"), res.Path)

	require.Len(t, h.fakes, 1)
	assert.True(t, h.fakes[0].Closed, "browser is released before downloading")
	assert.Equal(t, 1, h.fakes[0].ClosedTabs)
}

func TestPipelineSearchNothingFound(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.newFake = func() *browsertest.Fake {
		return browsertest.New(map[string]string{
			"https://witanime.cyou/?search_param=animes&s=nope": `<div class="anime-list-content"></div>`,
		})
	}

	results, err := h.p.Search(context.Background(), "witanime.cyou", "nope")
	assert.Empty(t, results)
	require.ErrorIs(t, err, ErrNothingFound)
	assert.Equal(t, Failed, h.p.State())
	assert.Contains(t, h.p.Reason(), "nope")
	require.Len(t, h.fakes, 1)
	assert.False(t, h.fakes[0].Closed)
}

func TestPipelineRelaunchesLostBrowser(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	lost := true
	h.newFake = func() *browsertest.Fake {
		f := browsertest.New(sitePages())
		f.Lost = lost
		lost = false
		return f
	}

	_, err := h.p.Search(context.Background(), "witanime.cyou", "Title A")
	require.ErrorIs(t, err, browser.ErrChannelLost)
	assert.Equal(t, Failed, h.p.State())
	assert.True(t, h.fakes[0].Closed)

	results, err := h.p.Search(context.Background(), "witanime.cyou", "Title A")
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Len(t, h.fakes, 2)
}

func TestPipelineFetchDirectLinksSkipsBrowser(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	h := newHarness(t)
	h.registry.Register(hosts.MediaFire, hosts.AdapterFunc(func(context.Context, models.DownloadLink) (*hosts.Resolution, error) {
		return &hosts.Resolution{URL: srv.URL}, nil
	}))

	path := filepath.Join(t.TempDir(), "ep.mp4")
	res, err := h.p.Fetch(context.Background(), []models.DownloadLink{
		{Host: "mf", URL: "https://www.mediafire.com/file/a"},
	}, downloader.FixedPath(path))
	require.NoError(t, err)
	assert.Equal(t, path, res.Path)
	assert.Empty(t, h.fakes)
}

func TestPipelineFetchOnlyUnresolvableLinks(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := h.p.Fetch(context.Background(), []models.DownloadLink{
		models.DeferredLink("4shared", 3, episodePage),
	}, downloader.FixedPath("unused"))
	require.ErrorIs(t, err, ErrNothingFound)
	assert.Equal(t, Failed, h.p.State())
}

func TestTitleFromLink(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "title a", TitleFromLink("https://witanime.cyou/anime/title-a/"))
	assert.Equal(t, "one piece", TitleFromLink("https://s.example/anime/one--piece"))
}

func TestAdvanceIgnoresSkippedStage(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.p.advance(Resolved)
	assert.Equal(t, Idle, h.p.State())
	assert.Empty(t, h.fakes)
}
