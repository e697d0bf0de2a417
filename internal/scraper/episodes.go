package scraper

import (
	"context"
	"encoding/base64"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/alvarorichard/anidl/internal/browser"
	"github.com/alvarorichard/anidl/internal/models"
	"github.com/alvarorichard/anidl/internal/util"
)

var (
	openEpisodeArg     = regexp.MustCompile(`openEpisode\(\s*['"]([^'"]+)['"]\s*\)`)
	episodePathNumber  = regexp.MustCompile(`/episode/[^/]+-(\d+)/?$`)
	episodeSlugNumber  = regexp.MustCompile(`الحلقة-(\d+)`)
	episodeLabelNumber = regexp.MustCompile(`(?i)(?:الحلقة|episode|ep\.?)\s*(\d+)`)
	digitRun           = regexp.MustCompile(`\d+`)
)

// episodeScript lists episode anchors the static strategies did not reach
const episodeScript = `() => Array.from(document.querySelectorAll('a'))
	.filter(a => (a.getAttribute('onclick') || '').includes('openEpisode') || /\/episode\//.test(a.getAttribute('href') || ''))
	.map(a => ({
		href: a.getAttribute('href') || '',
		onclick: a.getAttribute('onclick') || '',
		text: ((a.closest('.episode-card, .card') || a).innerText || '').trim()
	}))`

// episodeRef is one episode element as read from the page
type episodeRef struct {
	href    string
	onclick string
	text    string
}

// Episodes lists the episodes on the catalog page at animeURL, unique by
// number and sorted ascending with unresolved numbers last.
func (e *Extractor) Episodes(ctx context.Context, sess browser.Surface, animeURL string) ([]models.Episode, error) {
	site := Lookup(animeURL)
	doc, err := e.visit(ctx, sess, animeURL)
	if err != nil {
		return nil, err
	}
	pageURL := sess.URL()

	var refs []episodeRef
	res, adaptErr := e.adapt(site, models.PurposeEpisodeItem, doc)
	if adaptErr == nil {
		doc.Doc.Find(res.Selector).Each(func(_ int, s *goquery.Selection) {
			refs = append(refs, readEpisodeRef(s))
		})
	} else {
		site.log().Debug("no episode strategy matched, asking the page", "err", adaptErr)
		refs, err = scriptEpisodes(ctx, sess)
		if err != nil {
			return nil, err
		}
		if len(refs) == 0 {
			return nil, adaptErr
		}
	}

	episodes := make([]models.Episode, 0, len(refs))
	for _, ref := range refs {
		if ep, ok := buildEpisode(pageURL, ref); ok {
			episodes = append(episodes, ep)
		}
	}
	out := DedupEpisodes(episodes)
	site.log().Debug("episodes extracted", "elements", len(refs), "episodes", len(out))
	return out, nil
}

func readEpisodeRef(s *goquery.Selection) episodeRef {
	href, _ := s.Attr("href")
	onclick, _ := s.Attr("onclick")
	text := s.Text()
	if card := s.Closest(".episode-card, .card"); card.Length() > 0 {
		text = card.Text()
	}
	return episodeRef{href: href, onclick: onclick, text: strings.Join(strings.Fields(text), " ")}
}

func scriptEpisodes(ctx context.Context, sess browser.Surface) ([]episodeRef, error) {
	v, err := sess.Evaluate(ctx, episodeScript)
	if err != nil {
		if browser.IsFatal(err) {
			return nil, err
		}
		util.Debug("episode script failed", "err", err)
		return nil, nil
	}
	var refs []episodeRef
	for _, rec := range scriptRecords(v) {
		refs = append(refs, episodeRef{href: rec["href"], onclick: rec["onclick"], text: rec["text"]})
	}
	return refs, nil
}

func buildEpisode(pageURL string, ref episodeRef) (models.Episode, bool) {
	link := ""
	if m := openEpisodeArg.FindStringSubmatch(ref.onclick); m != nil {
		decoded, ok := decodeEpisodeLink(m[1])
		if !ok {
			util.Debug("undecodable episode link", "arg", m[1])
			return models.Episode{}, false
		}
		link = absolute(pageURL, decoded)
	}
	if link == "" {
		link = absolute(pageURL, ref.href)
	}
	if link == "" {
		return models.Episode{}, false
	}
	return models.Episode{Number: EpisodeNumber(link, ref.text), Link: link}, true
}

// decodeEpisodeLink decodes the base64 argument of openEpisode(...)
func decodeEpisodeLink(arg string) (string, bool) {
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		b, err := enc.DecodeString(arg)
		if err == nil && len(b) > 0 {
			return strings.TrimSpace(string(b)), true
		}
	}
	return "", false
}

// EpisodeNumber derives an episode number from its link and element text.
// Text made only of digits wins, then the link path, then an episode label in
// the text, then any digit run in the text. Otherwise it is UnknownEpisode.
func EpisodeNumber(link, text string) string {
	text = strings.TrimSpace(text)
	if text != "" && digitRun.FindString(text) == text {
		return normalizeNumber(text)
	}
	path := link
	if u, err := url.Parse(link); err == nil {
		if p, err := url.PathUnescape(u.EscapedPath()); err == nil {
			path = p
		}
	}
	if m := episodePathNumber.FindStringSubmatch(path); m != nil {
		return normalizeNumber(m[1])
	}
	if m := episodeSlugNumber.FindStringSubmatch(path); m != nil {
		return normalizeNumber(m[1])
	}
	if m := episodeLabelNumber.FindStringSubmatch(text); m != nil {
		return normalizeNumber(m[1])
	}
	if n := digitRun.FindString(text); n != "" {
		return normalizeNumber(n)
	}
	return models.UnknownEpisode
}

func normalizeNumber(n string) string {
	n = strings.TrimLeft(n, "0")
	if n == "" {
		return "0"
	}
	return n
}

// DedupEpisodes keeps one episode per number, the one found last, and sorts
// the result ascending with non-numeric numbers at the end.
func DedupEpisodes(in []models.Episode) []models.Episode {
	index := make(map[string]int, len(in))
	var out []models.Episode
	for _, ep := range in {
		if i, ok := index[ep.Number]; ok {
			out[i] = ep
			continue
		}
		index[ep.Number] = len(out)
		out = append(out, ep)
	}
	SortEpisodes(out)
	return out
}

// SortEpisodes orders episodes by numeric value; sentinels sort last and keep
// their relative order
func SortEpisodes(eps []models.Episode) {
	sort.SliceStable(eps, func(i, j int) bool {
		a, aok := eps[i].Numeric()
		b, bok := eps[j].Numeric()
		switch {
		case aok && bok:
			return a < b
		case aok != bok:
			return aok
		}
		return false
	})
}

// scriptRecords converts a page script result (an array of flat objects)
// into string maps
func scriptRecords(v any) []map[string]string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]string, 0, len(list))
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		rec := make(map[string]string, len(obj))
		for k, val := range obj {
			if s, ok := val.(string); ok {
				rec[k] = s
			}
		}
		out = append(out, rec)
	}
	return out
}
