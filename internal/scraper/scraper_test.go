package scraper

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alvarorichard/anidl/internal/browser"
	"github.com/alvarorichard/anidl/internal/browser/browsertest"
	"github.com/alvarorichard/anidl/internal/models"
	"github.com/alvarorichard/anidl/internal/patterns"
	"github.com/alvarorichard/anidl/internal/selector"
	"github.com/alvarorichard/anidl/internal/util"
)

func newExtractor() *Extractor {
	return New(patterns.New(nil), browser.OpenOptions{
		Settle: util.Backoff{Initial: time.Millisecond, Max: time.Millisecond, Limit: 20 * time.Millisecond},
	})
}

func TestSearchKeepsSpecificLink(t *testing.T) {
	t.Parallel()

	fake := browsertest.New(map[string]string{
		"https://witanime.cyou/?search_param=animes&s=Title+A": `
			<div class="anime-list-content">
				<div class="anime-card"><div class="anime-card-title"><h3><a href="/anime-type/title-a">Title A</a></h3></div></div>
				<div class="anime-card"><div class="anime-card-title"><h3><a href="/anime/title-a">Title A</a></h3></div></div>
				<div class="anime-card"><div class="anime-card-title"><h3><a href="/anime/other-show">Other Show</a></h3></div></div>
			</div>`,
	})

	results, err := newExtractor().Search(context.Background(), fake, "@https://witanime.cyou", "Title A")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Title A", results[0].Title)
	assert.Equal(t, "https://witanime.cyou/anime/title-a", results[0].Link)
}

func TestSearchUsesSearchBoxOnUnknownSite(t *testing.T) {
	t.Parallel()

	fake := browsertest.New(map[string]string{
		"https://unknown.example": `<form><input type="search" name="s"></form>`,
		"https://unknown.example/?s=naruto": `
			<article><h2>Naruto</h2><a href="/anime/naruto/">open</a></article>
			<article><h2>Bleach</h2><a href="/anime/bleach/">open</a></article>`,
	})
	fake.OnEnter["input[type='search']"] = "https://unknown.example/?s=%s"

	ex := newExtractor()
	results, err := ex.Search(context.Background(), fake, "unknown.example", "naruto")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, models.SearchResult{Title: "Naruto", Link: "https://unknown.example/anime/naruto"}, results[0])
	assert.Equal(t, "naruto", fake.Filled["input[type='search']"])

	stored, ok := ex.Patterns().Get("unknown.example", models.PurposeResultItem)
	require.True(t, ok)
	assert.Equal(t, "article", stored.Selector)
}

func TestSearchRelearnsMovedSearchBox(t *testing.T) {
	t.Parallel()

	fake := browsertest.New(map[string]string{
		"https://unknown.example":           `<form><input type="search" name="s"></form>`,
		"https://unknown.example/?s=bleach": `<article><h2>Bleach</h2><a href="/anime/bleach/">open</a></article>`,
	})
	fake.OnEnter["input[type='search']"] = "https://unknown.example/?s=%s"

	ex := newExtractor()
	_, err := ex.Patterns().Record("unknown.example", selector.Result{
		Purpose: models.PurposeSearchBox, Selector: "#old-search", Confidence: 0.9, MatchCount: 4,
	})
	require.NoError(t, err)

	results, err := ex.Search(context.Background(), fake, "unknown.example", "bleach")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Bleach", results[0].Title)

	box, ok := ex.Patterns().Get("unknown.example", models.PurposeSearchBox)
	require.True(t, ok)
	assert.Equal(t, "input[type='search']", box.Selector)
}

func TestSearchWithoutSearchBox(t *testing.T) {
	t.Parallel()

	fake := browsertest.New(map[string]string{"https://bare.example": `<p>nothing</p>`})
	_, err := newExtractor().Search(context.Background(), fake, "https://bare.example/some/page", "x")
	assert.ErrorIs(t, err, selector.ErrSelectorNotFound)
}

func TestSearchChannelLost(t *testing.T) {
	t.Parallel()

	fake := browsertest.New(nil)
	fake.Lost = true
	_, err := newExtractor().Search(context.Background(), fake, "witanime.cyou", "x")
	assert.ErrorIs(t, err, browser.ErrChannelLost)
}

func TestMergeResults(t *testing.T) {
	t.Parallel()

	in := []models.SearchResult{
		{Title: "Title A", Link: "https://s.example/anime-type/title-a/"},
		{Title: "Title B", Link: "https://s.example/anime/title-b/episodes"},
		{Title: "title a", Link: "https://s.example/anime/title-a/"},
		{Title: "Title B (TV)", Link: "https://s.example/anime/title-b"},
	}
	out := MergeResults(in)
	require.Len(t, out, 2)
	assert.Equal(t, "https://s.example/anime/title-a", out[0].Link)
	assert.Equal(t, "https://s.example/anime/title-b", out[1].Link)
}

func TestFilterResults(t *testing.T) {
	t.Parallel()

	in := []models.SearchResult{{Title: "Pokémon XY"}, {Title: "Digimon"}}
	assert.Len(t, FilterResults(in, "pokemon"), 1)
	assert.Len(t, FilterResults(in, ""), 2)
}

func TestEpisodesDedupLastWins(t *testing.T) {
	t.Parallel()

	page := "https://witanime.cyou/anime/title-a/"
	fake := browsertest.New(map[string]string{
		page: `<div class="episodes-list-content">
			<div class="episode-card"><a class="overlay" href="/episode/title-a-3/"></a><h3>الحلقة 3</h3></div>
			<div class="episode-card"><a class="overlay" href="/episode/title-a-1/"></a><h3>الحلقة 1</h3></div>
			<div class="episode-card"><a class="overlay" href="/episode/title-a-2/"></a><h3>الحلقة 2</h3></div>
			<div class="episode-card"><a class="overlay" href="/episode/title-a-2-v2/"></a><h3>الحلقة 2</h3></div>
		</div>`,
	})

	eps, err := newExtractor().Episodes(context.Background(), fake, page)
	require.NoError(t, err)
	require.Len(t, eps, 3)
	assert.Equal(t, []string{"1", "2", "3"}, []string{eps[0].Number, eps[1].Number, eps[2].Number})
	assert.Equal(t, "https://witanime.cyou/episode/title-a-2-v2/", eps[1].Link)
}

func TestEpisodesDecodesOpenEpisode(t *testing.T) {
	t.Parallel()

	page := "https://witanime.cyou/anime/title-a/"
	enc := func(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }
	fake := browsertest.New(map[string]string{
		page: `<div class="episodes-card-container">
			<a onclick="openEpisode('` + enc("https://witanime.cyou/episode/title-a-12/") + `')">12</a>
			<a onclick="openEpisode('` + enc("https://witanime.cyou/episode/title-a-special/") + `')">Special</a>
			<a onclick="openEpisode('` + enc("https://witanime.cyou/episode/title-a-2/") + `')">الحلقة 2</a>
		</div>`,
	})

	eps, err := newExtractor().Episodes(context.Background(), fake, page)
	require.NoError(t, err)
	require.Len(t, eps, 3)
	assert.Equal(t, models.Episode{Number: "2", Link: "https://witanime.cyou/episode/title-a-2/"}, eps[0])
	assert.Equal(t, "12", eps[1].Number)
	assert.Equal(t, models.UnknownEpisode, eps[2].Number)
}

func TestEpisodesNothingFound(t *testing.T) {
	t.Parallel()

	page := "https://witanime.cyou/anime/empty/"
	fake := browsertest.New(map[string]string{page: `<p>soon</p>`})
	_, err := newExtractor().Episodes(context.Background(), fake, page)
	assert.ErrorIs(t, err, selector.ErrSelectorNotFound)
}

func TestEpisodeNumber(t *testing.T) {
	t.Parallel()

	cases := []struct {
		link, text, want string
	}{
		{"https://s.example/episode/x-7/", "", "7"},
		{"https://s.example/episode/x/", "05", "5"},
		{"https://s.example/%D8%A7%D9%84%D8%AD%D9%84%D9%82%D8%A9-9-x/", "", "9"},
		{"https://s.example/watch?id=1", "Episode 4 - The End", "4"},
		{"https://s.example/watch", "الحلقة 11", "11"},
		{"https://s.example/watch", "OVA", models.UnknownEpisode},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, EpisodeNumber(c.link, c.text), c.link+" "+c.text)
	}
}

func TestDedupEpisodesSortsSentinelsLast(t *testing.T) {
	t.Parallel()

	out := DedupEpisodes([]models.Episode{
		{Number: models.UnknownEpisode, Link: "u"},
		{Number: "10", Link: "a"},
		{Number: "9", Link: "b"},
		{Number: "10", Link: "c"},
	})
	require.Len(t, out, 3)
	assert.Equal(t, models.Episode{Number: "9", Link: "b"}, out[0])
	assert.Equal(t, models.Episode{Number: "10", Link: "c"}, out[1])
	assert.Equal(t, models.UnknownEpisode, out[2].Number)
}

const episodePage = "https://witanime.cyou/episode/title-a-1/"

func TestDownloadLinksQualityGroups(t *testing.T) {
	t.Parallel()

	fake := browsertest.New(map[string]string{
		episodePage: `<div class="episode-download-container">
			<ul class="quality-list">
				<li>FHD</li>
				<li><a class="btn download-link" href="https://www.mediafire.com/file/k3y/ep1.mp4/file"><span class="notice">mediafire</span></a></li>
				<li><a class="btn download-link" data-index="1" href="#"><span class="notice">4shared</span></a></li>
			</ul>
			<ul class="quality-list">
				<li>HD</li>
				<li><a class="btn download-link" href="https://drive.google.com/file/d/abc/view"><span class="notice">google drive</span></a></li>
			</ul>
		</div>`,
	})

	links, err := newExtractor().DownloadLinks(context.Background(), fake, episodePage)
	require.NoError(t, err)
	assert.Equal(t, []models.DownloadLink{
		{Host: "mediafire (FHD)", URL: "https://www.mediafire.com/file/k3y/ep1.mp4/file"},
		{Host: "4shared (FHD)", URL: "script-index:1", PageURL: episodePage},
		{Host: "google drive (HD)", URL: "https://drive.google.com/file/d/abc/view"},
	}, links)
}

func TestDownloadLinksFollowsDownloadButton(t *testing.T) {
	t.Parallel()

	fake := browsertest.New(map[string]string{
		"https://other.example/ep/1": `<a class="download" href="/download/1">Download</a>`,
		"https://other.example/download/1": `<div class="download-servers">
			<a href="https://www.mediafire.com/file/x/y">MediaFire</a>
			<a href="https://drive.google.com/file/d/z/view"></a>
		</div>`,
	})

	links, err := newExtractor().DownloadLinks(context.Background(), fake, "https://other.example/ep/1")
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, "MediaFire", links[0].Host)
	assert.Equal(t, "Google Drive", links[1].Host)
	assert.Contains(t, fake.Navigations, "https://other.example/download/1")
}

func TestDownloadLinksAnchorScan(t *testing.T) {
	t.Parallel()

	page := "https://plain.example/ep/2"
	fake := browsertest.New(map[string]string{
		page: `<p><a href="https://www.4shared.com/video/x/ep.html">mirror</a> <a href="/about">About</a></p>`,
	})

	links, err := newExtractor().DownloadLinks(context.Background(), fake, page)
	require.NoError(t, err)
	assert.Equal(t, []models.DownloadLink{{Host: "mirror", URL: "https://www.4shared.com/video/x/ep.html"}}, links)
}

func TestDownloadLinksNoneFound(t *testing.T) {
	t.Parallel()

	page := "https://plain.example/ep/3"
	fake := browsertest.New(map[string]string{page: `<p>removed</p>`})
	links, err := newExtractor().DownloadLinks(context.Background(), fake, page)
	assert.Empty(t, links)
	assert.ErrorIs(t, err, selector.ErrSelectorNotFound)
}

func TestNormalizeSiteURL(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]string{
		"@https://witanime.cyou":      "https://witanime.cyou",
		"witanime.cyou":               "https://witanime.cyou",
		"http://site.example/a/b?c=1": "http://site.example",
	} {
		got, err := NormalizeSiteURL(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := NormalizeSiteURL(" ")
	assert.Error(t, err)
}

func TestLookupMirror(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "witanime.cyou", Lookup("https://www.witanime.com/anime/x").Domain)
	assert.Empty(t, Lookup("https://other.example").SearchPath)
}
