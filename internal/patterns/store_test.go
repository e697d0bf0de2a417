package patterns

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alvarorichard/anidl/internal/models"
	"github.com/alvarorichard/anidl/internal/selector"
	"github.com/alvarorichard/anidl/internal/storage"
)

const site = "witanime.cyou"

func snapshot(t *testing.T, html string) *selector.Snapshot {
	t.Helper()
	doc, err := selector.ParseString(html)
	require.NoError(t, err)
	return doc
}

func TestRecordThenGetIsIdempotent(t *testing.T) {
	t.Parallel()

	s := New(storage.NewMemoryStore())
	res := selector.Result{Purpose: models.PurposeTitle, Selector: "h3", Confidence: 0.7, MatchCount: 1}
	stored, err := s.Record(site, res)
	require.NoError(t, err)
	assert.True(t, stored)

	first, ok := s.Get(site, models.PurposeTitle)
	require.True(t, ok)

	doc := snapshot(t, `<h3>x</h3>`)
	valid, err := s.Validate(site, doc)
	require.NoError(t, err)
	assert.True(t, valid)

	second, ok := s.Get(site, models.PurposeTitle)
	require.True(t, ok)
	assert.Equal(t, first, second)
	assert.Equal(t, "h3", second.Selector)
	assert.InDelta(t, 0.7, second.Confidence, 1e-9)
}

func TestRecordHysteresis(t *testing.T) {
	t.Parallel()

	s := New(nil)
	_, err := s.Record(site, selector.Result{Purpose: models.PurposeServerItem, Selector: ".server a", Confidence: 0.9, MatchCount: 2})
	require.NoError(t, err)

	stored, err := s.Record(site, selector.Result{Purpose: models.PurposeServerItem, Selector: "a", Confidence: 0.4, MatchCount: 1})
	require.NoError(t, err)
	assert.False(t, stored)

	e, _ := s.Get(site, models.PurposeServerItem)
	assert.Equal(t, ".server a", e.Selector)

	stored, err = s.Record(site, selector.Result{Purpose: models.PurposeServerItem, Selector: "a.dl", Confidence: 0.7, MatchCount: 1})
	require.NoError(t, err)
	assert.True(t, stored)
	e, _ = s.Get(site, models.PurposeServerItem)
	assert.Equal(t, "a.dl", e.Selector)
}

func TestValidateReportsStaleWithoutMutating(t *testing.T) {
	t.Parallel()

	s := New(nil)
	_, _ = s.Record(site, selector.Result{Purpose: models.PurposeResultItem, Selector: ".anime-card", Confidence: 0.9, MatchCount: 2})
	_, _ = s.Record(site, selector.Result{Purpose: models.PurposeTitle, Selector: "h3", Confidence: 0.7, MatchCount: 1})

	doc := snapshot(t, `<div class="show-card"><h3>x</h3></div>`)
	valid, err := s.Validate(site, doc)
	require.NoError(t, err)
	assert.False(t, valid)

	stale, err := s.Stale(site, doc)
	require.NoError(t, err)
	assert.Equal(t, []models.Purpose{models.PurposeResultItem}, stale)

	valid, err = s.Validate(site, doc, models.PurposeTitle)
	require.NoError(t, err)
	assert.True(t, valid)

	_, ok := s.Get(site, models.PurposeResultItem)
	assert.True(t, ok, "validate must not drop entries")
}

func TestAdaptCheapPath(t *testing.T) {
	t.Parallel()

	s := New(nil)
	_, _ = s.Record(site, selector.Result{Purpose: models.PurposeResultItem, Selector: ".anime-card", Confidence: 0.7, MatchCount: 1})

	doc := snapshot(t, `<div class="anime-card"></div><div class="anime-card"></div><article></article>`)
	// article is first in the candidate list but the stored selector is used
	res, ok, err := s.Adapt(site, models.PurposeResultItem, doc, []string{"article", ".anime-card"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ".anime-card", res.Selector)
	assert.Equal(t, 2, res.MatchCount)

	e, _ := s.Get(site, models.PurposeResultItem)
	assert.Equal(t, 1, e.Hits)
	assert.Equal(t, 2, e.MatchCount)
}

func TestAdaptRelearnsOnDrift(t *testing.T) {
	t.Parallel()

	backend := storage.NewMemoryStore()
	s := New(backend)
	_, _ = s.Record(site, selector.Result{Purpose: models.PurposeEpisodeItem, Selector: "a.overlay", Confidence: 0.95, MatchCount: 12})

	doc := snapshot(t, `<div class="episode-card"><a href="/e/1">1</a></div>`)
	res, ok, err := s.Adapt(site, models.PurposeEpisodeItem, doc, selector.Generic(models.PurposeEpisodeItem))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ".episode-card a", res.Selector)

	// written through to the backend
	persisted, err := backend.GetPatternProfile(site)
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.Equal(t, ".episode-card a", persisted.Entries[models.PurposeEpisodeItem].Selector)
}

func TestAdaptNothingMatches(t *testing.T) {
	t.Parallel()

	s := New(nil)
	doc := snapshot(t, `<p>empty</p>`)
	_, ok, err := s.Adapt(site, models.PurposeServerItem, doc, []string{".server-item a"})
	require.NoError(t, err)
	assert.False(t, ok)
	_, stored := s.Get(site, models.PurposeServerItem)
	assert.False(t, stored)
}

func TestAdaptDropsStaleSelector(t *testing.T) {
	t.Parallel()

	backend := storage.NewMemoryStore()
	s := New(backend)
	_, _ = s.Record(site, selector.Result{Purpose: models.PurposeEpisodeItem, Selector: ".old-ep a", Confidence: 0.9, MatchCount: 4})

	doc := snapshot(t, `<p>redesigned</p>`)
	_, ok, err := s.Adapt(site, models.PurposeEpisodeItem, doc, []string{".episode-card a"})
	require.NoError(t, err)
	assert.False(t, ok)

	_, stored := s.Get(site, models.PurposeEpisodeItem)
	assert.False(t, stored)
	persisted, err := backend.GetPatternProfile(site)
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.NotContains(t, persisted.Entries, models.PurposeEpisodeItem)
}

func TestStoreLoadsFromBackend(t *testing.T) {
	t.Parallel()

	backend := storage.NewMemoryStore()
	p := models.NewSiteSelectorProfile(site)
	p.Entries[models.PurposeSearchBox] = models.PatternEntry{Selector: "input[name='s']", Confidence: 0.7, MatchCount: 1}
	require.NoError(t, backend.PutPatternProfile(site, p))

	s := New(backend)
	e, ok := s.Get(site, models.PurposeSearchBox)
	require.True(t, ok)
	assert.Equal(t, "input[name='s']", e.Selector)

	require.NoError(t, s.Invalidate(site, models.PurposeSearchBox))
	reloaded, err := backend.GetPatternProfile(site)
	require.NoError(t, err)
	assert.Empty(t, reloaded.Entries)
}

func TestLearn(t *testing.T) {
	t.Parallel()

	s := New(nil)
	doc := snapshot(t, `<form><input type="search"></form><div class="anime-card"><h3>A</h3></div>`)
	found, err := s.Learn("new.example", doc)
	require.NoError(t, err)
	assert.Contains(t, found, models.PurposeSearchBox)
	assert.Contains(t, found, models.PurposeResultItem)
	assert.NotContains(t, found, models.PurposeServerItem)

	e, ok := s.Get("new.example", models.PurposeSearchBox)
	require.True(t, ok)
	assert.Equal(t, "input[type='search']", e.Selector)
}
