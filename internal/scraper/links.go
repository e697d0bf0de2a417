package scraper

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/alvarorichard/anidl/internal/browser"
	"github.com/alvarorichard/anidl/internal/hosts"
	"github.com/alvarorichard/anidl/internal/models"
	"github.com/alvarorichard/anidl/internal/selector"
	"github.com/alvarorichard/anidl/internal/util"
)

// serverScript reads quality-grouped server entries, including the ones
// whose URL is only produced by a click handler
const serverScript = `() => {
	const links = [];
	document.querySelectorAll('.quality-list').forEach(list => {
		const quality = (list.querySelector('li')?.innerText || '').trim();
		list.querySelectorAll('a.download-link, a.btn.download-link, a[data-index]').forEach(a => {
			links.push({
				quality,
				server: (a.querySelector('span.notice')?.innerText || a.innerText || '').trim(),
				index: a.getAttribute('data-index') || '',
				href: a.getAttribute('href') || ''
			});
		});
	});
	return links;
}`

// serverRef is one server entry as read from the page
type serverRef struct {
	name    string
	quality string
	index   string
	href    string
}

// DownloadLinks lists the download candidates of the episode at episodeURL.
// Entries whose URL only appears after a click become deferred links bound to
// the page they were found on.
func (e *Extractor) DownloadLinks(ctx context.Context, sess browser.Surface, episodeURL string) ([]models.DownloadLink, error) {
	site := Lookup(episodeURL)
	doc, err := e.visit(ctx, sess, episodeURL)
	if err != nil {
		return nil, err
	}

	links, err := e.serverLinks(ctx, sess, site, doc)
	if err == nil || !errors.Is(err, selector.ErrSelectorNotFound) {
		return links, err
	}

	// no servers on the episode page itself: follow its download button
	site.log().Debug("no server list on episode page, looking for a download page")
	button, berr := e.adapt(site, models.PurposeDownloadButton, doc)
	if berr != nil {
		if !errors.Is(berr, selector.ErrSelectorNotFound) {
			return nil, berr
		}
		return e.fallbackLinks(ctx, sess, doc)
	}

	if href, ok := doc.Doc.Find(button.Selector).First().Attr("href"); ok && absolute(sess.URL(), href) != "" {
		doc, err = e.visit(ctx, sess, absolute(sess.URL(), href))
	} else {
		if cerr := sess.Click(ctx, button.Selector); cerr != nil {
			if browser.IsFatal(cerr) {
				return nil, cerr
			}
			util.Debug("download button click failed", "selector", button.Selector, "err", cerr)
			return e.fallbackLinks(ctx, sess, doc)
		}
		doc, err = e.settle(ctx, sess)
	}
	if err != nil {
		return nil, err
	}

	links, err = e.serverLinks(ctx, sess, site, doc)
	if err == nil || !errors.Is(err, selector.ErrSelectorNotFound) {
		return links, err
	}
	return e.fallbackLinks(ctx, sess, doc)
}

// serverLinks reads the server entries of the current page. Entries inside a
// known download container are preferred over page-wide matches.
func (e *Extractor) serverLinks(ctx context.Context, sess browser.Surface, site Site, doc *selector.Snapshot) ([]models.DownloadLink, error) {
	scope := doc.Doc.Selection
	for _, c := range site.Containers {
		if found := doc.Doc.Find(c); found.Find("a").Length() > 0 {
			scope = found
			break
		}
	}

	res, err := e.adapt(site, models.PurposeServerItem, doc)
	if err != nil {
		return nil, err
	}
	entries := scope.Find(res.Selector)
	if entries.Length() == 0 {
		entries = doc.Doc.Find(res.Selector)
	}

	var refs []serverRef
	entries.Each(func(_ int, a *goquery.Selection) {
		refs = append(refs, readServerRef(a))
	})
	links := buildLinks(sess.URL(), refs)
	if len(links) == 0 {
		return nil, fmt.Errorf("%w: server entries on %s carry no link", selector.ErrSelectorNotFound, site.Domain)
	}
	return links, nil
}

func readServerRef(a *goquery.Selection) serverRef {
	ref := serverRef{}
	ref.href, _ = a.Attr("href")
	ref.index, _ = a.Attr("data-index")

	for _, sel := range []string{"span.notice", ".dashboard-button-text", ".server-name", ".notice"} {
		if t := strings.TrimSpace(a.Find(sel).First().Text()); t != "" {
			ref.name = t
			break
		}
	}
	if ref.name == "" {
		ref.name = strings.Join(strings.Fields(a.Text()), " ")
	}
	// the first item of a quality group is its label unless it holds a link
	if group := a.Closest(".quality-list"); group.Length() > 0 {
		if label := group.Find("li").First(); label.Find("a").Length() == 0 {
			ref.quality = strings.Join(strings.Fields(label.Text()), " ")
		}
	}
	return ref
}

// fallbackLinks asks the page script for server entries, then scans every
// anchor for URLs of a known file host
func (e *Extractor) fallbackLinks(ctx context.Context, sess browser.Surface, doc *selector.Snapshot) ([]models.DownloadLink, error) {
	v, err := sess.Evaluate(ctx, serverScript)
	if err != nil && browser.IsFatal(err) {
		return nil, err
	}
	if err == nil {
		var refs []serverRef
		for _, rec := range scriptRecords(v) {
			refs = append(refs, serverRef{name: rec["server"], quality: rec["quality"], index: rec["index"], href: rec["href"]})
		}
		if links := buildLinks(sess.URL(), refs); len(links) > 0 {
			util.Debug("server entries found by page script", "count", len(links))
			return links, nil
		}
	}

	var refs []serverRef
	doc.Doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		kind, err := hosts.KindFromURL(absolute(sess.URL(), href))
		if err != nil || kind == hosts.Direct || kind == hosts.ScriptTab {
			return
		}
		ref := readServerRef(a)
		ref.index = ""
		refs = append(refs, ref)
	})
	links := buildLinks(sess.URL(), refs)
	if len(links) == 0 {
		return nil, fmt.Errorf("%w: no download links on %s", selector.ErrSelectorNotFound, sess.URL())
	}
	util.Debug("download links found by anchor scan", "count", len(links))
	return links, nil
}

// buildLinks turns server entries into candidates, unique by URL and in page
// order. A usable href wins over a data-index.
func buildLinks(pageURL string, refs []serverRef) []models.DownloadLink {
	seen := make(map[string]bool)
	var out []models.DownloadLink
	for _, ref := range refs {
		var link models.DownloadLink
		if u := absolute(pageURL, ref.href); u != "" && u != pageURL {
			link = models.DownloadLink{Host: ref.name, URL: u}
		} else if idx, err := strconv.Atoi(strings.TrimSpace(ref.index)); err == nil && idx >= 0 {
			link = models.DeferredLink(ref.name, idx, pageURL)
		} else {
			continue
		}
		if seen[link.URL] {
			continue
		}
		seen[link.URL] = true
		link.Host = serverLabel(ref.name, ref.quality, link.URL)
		out = append(out, link)
	}
	return out
}

// serverLabel names a candidate "<server> (<quality>)", falling back to the
// host family for unnamed servers
func serverLabel(name, quality, link string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		if kind, err := hosts.KindFromURL(link); err == nil && kind != hosts.ScriptTab {
			name = kind.Label()
		} else {
			name = "Unknown Server"
		}
	}
	if quality = strings.TrimSpace(quality); quality != "" {
		return name + " (" + quality + ")"
	}
	return name
}
