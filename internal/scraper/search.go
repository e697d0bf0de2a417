package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/alvarorichard/anidl/internal/browser"
	"github.com/alvarorichard/anidl/internal/models"
	"github.com/alvarorichard/anidl/internal/selector"
	"github.com/alvarorichard/anidl/internal/util"
)

var animePath = regexp.MustCompile(`^(https?://[^/]+/anime/[^/?#]+)`)

// Canonical reduces a catalog link to its /anime/<slug> form when it has one
func Canonical(link string) string {
	if m := animePath.FindStringSubmatch(link); m != nil {
		return m[1]
	}
	return strings.TrimRight(link, "/")
}

// specificity ranks link forms: the entry page beats category and listing
// pages that carry the same title.
func specificity(link string) int {
	if animePath.MatchString(link) {
		return 2
	}
	return 1
}

// Search looks query up on the site at siteURL. Results are canonicalized and
// deduplicated, and only titles containing the query are kept.
func (e *Extractor) Search(ctx context.Context, sess browser.Surface, siteURL, query string) ([]models.SearchResult, error) {
	base, err := NormalizeSiteURL(siteURL)
	if err != nil {
		return nil, err
	}
	site := Lookup(base)

	var doc *selector.Snapshot
	if site.SearchPath != "" {
		target := base + fmt.Sprintf(site.SearchPath, url.QueryEscape(query))
		site.log().Debug("searching", "url", target)
		doc, err = e.visit(ctx, sess, target)
	} else {
		site.log().Debug("no search url for site, using its search box")
		doc, err = e.searchBox(ctx, sess, site, base, query)
	}
	if err != nil {
		return nil, err
	}

	items, err := e.adapt(site, models.PurposeResultItem, doc)
	if err != nil {
		return nil, err
	}
	cards := doc.Doc.Find(items.Selector)

	titleSel := ""
	if res, err := e.adapt(site, models.PurposeTitle, selector.Scope{Selection: cards.First()}); err == nil {
		titleSel = res.Selector
	} else if !errors.Is(err, selector.ErrSelectorNotFound) {
		return nil, err
	}

	pageURL := sess.URL()
	var found []models.SearchResult
	cards.Each(func(_ int, card *goquery.Selection) {
		title := cardTitle(card, titleSel)
		link := absolute(pageURL, cardLink(card))
		if title == "" || link == "" {
			return
		}
		found = append(found, models.SearchResult{Title: title, Link: link})
	})

	results := FilterResults(MergeResults(found), query)
	site.log().Debug("search finished", "cards", cards.Length(), "results", len(results))
	return results, nil
}

// searchBox drives a site's own search form
func (e *Extractor) searchBox(ctx context.Context, sess browser.Surface, site Site, base, query string) (*selector.Snapshot, error) {
	home, err := e.visit(ctx, sess, base)
	if err != nil {
		return nil, err
	}
	fresh, err := e.patterns.Validate(site.Domain, home, models.PurposeSearchBox)
	if err != nil {
		return nil, err
	}
	if _, known := e.patterns.Get(site.Domain, models.PurposeSearchBox); !known || !fresh {
		if known {
			site.log().Info("Search box moved, relearning")
			if err := e.patterns.Invalidate(site.Domain, models.PurposeSearchBox); err != nil {
				util.Warn("pattern store", "err", err)
			}
		}
		if _, err := e.patterns.Learn(site.Domain, home, models.PurposeSearchBox); err != nil {
			return nil, err
		}
	}
	box, err := e.adapt(site, models.PurposeSearchBox, home)
	if err != nil {
		return nil, err
	}
	if err := sess.Fill(ctx, box.Selector, query); err != nil {
		return nil, fmt.Errorf("fill search box: %w", err)
	}
	if err := sess.Press(ctx, box.Selector, "Enter"); err != nil {
		return nil, fmt.Errorf("submit search: %w", err)
	}
	return e.settle(ctx, sess)
}

func cardTitle(card *goquery.Selection, titleSel string) string {
	if titleSel != "" {
		if t := strings.TrimSpace(card.Find(titleSel).First().Text()); t != "" {
			return t
		}
	}
	if alt, ok := card.Find("img").First().Attr("alt"); ok && strings.TrimSpace(alt) != "" {
		return strings.TrimSpace(alt)
	}
	if label, ok := card.Attr("aria-label"); ok && strings.TrimSpace(label) != "" {
		return strings.TrimSpace(label)
	}
	return strings.Join(strings.Fields(card.Text()), " ")
}

func cardLink(card *goquery.Selection) string {
	if href, ok := card.Attr("href"); ok {
		return href
	}
	href, _ := card.Find("a[href]").First().Attr("href")
	return href
}

// MergeResults collapses results pointing at the same entry. Links are
// canonicalized first; two results with the same title keep the more
// specific link, and a repeated canonical link is dropped. Order of first
// appearance is preserved.
func MergeResults(in []models.SearchResult) []models.SearchResult {
	var out []models.SearchResult
	byTitle := make(map[string]int)
	seen := make(map[string]bool)

	for _, r := range in {
		link := Canonical(r.Link)
		key := util.NormalizeTitle(r.Title)
		if key == "" {
			key = link
		}

		if i, ok := byTitle[key]; ok {
			if specificity(link) > specificity(out[i].Link) {
				delete(seen, out[i].Link)
				out[i].Link = link
				seen[link] = true
			}
			continue
		}
		if seen[link] {
			continue
		}
		seen[link] = true
		byTitle[key] = len(out)
		out = append(out, models.SearchResult{Title: r.Title, Link: link})
	}
	return out
}

// FilterResults keeps the results whose title contains query, ignoring case,
// accents and punctuation. An empty query keeps everything.
func FilterResults(in []models.SearchResult, query string) []models.SearchResult {
	q := util.NormalizeTitle(query)
	if q == "" {
		return in
	}
	out := in[:0:0]
	for _, r := range in {
		if strings.Contains(util.NormalizeTitle(r.Title), q) {
			out = append(out, r)
		}
	}
	return out
}
