package scraper

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/alvarorichard/anidl/internal/models"
	"github.com/alvarorichard/anidl/internal/selector"
	"github.com/alvarorichard/anidl/internal/util"
)

// Site holds what is known up front about a streaming site. Sites without an
// entry in the table get a zero profile and are handled by the generic path.
type Site struct {
	Domain string
	// SearchPath is appended to the site base; %s receives the escaped query.
	// Empty means the search box has to be used.
	SearchPath string
	// Overrides are tried before the generic strategies of each purpose
	Overrides map[models.Purpose][]string
	// Containers wrap the server list on episode pages
	Containers []string
}

func (s Site) log() *log.Logger {
	return util.ForSite(s.Domain)
}

// Candidates returns the ordered strategies of purpose for this site
func (s Site) Candidates(p models.Purpose) []string {
	return selector.Candidates(p, s.Overrides[p]...)
}

var sites = map[string]Site{
	"witanime.cyou": {
		Domain:     "witanime.cyou",
		SearchPath: "/?search_param=animes&s=%s",
		Overrides: map[models.Purpose][]string{
			models.PurposeResultItem: {
				".anime-list-content .anime-card",
				".page-content-container .anime-card",
			},
			models.PurposeTitle: {
				".anime-card-title h3",
				".anime-card-title h3 a",
			},
			models.PurposeEpisodeItem: {
				"a[onclick*='openEpisode']",
				".episodes-card-container a.overlay",
				".episodes-list-content a.overlay",
			},
			models.PurposeDownloadButton: {
				".episodes-buttons-list a:contains('تحميل الحلقة')",
				".episode-buttons-container a:contains('تحميل')",
			},
			models.PurposeServerItem: {
				".quality-list a.download-link",
				".quality-list a[data-index]",
				".download-servers a.dashboard-button",
				".server-list .server-item a",
			},
		},
		Containers: []string{
			".episode-download-container",
			".download-container",
			"[class*='download-container']",
			".mwidget",
			".quality-list",
		},
	},
}

// mirrors share the markup of a known site under another domain
var mirrors = map[string]string{
	"witanime.com":   "witanime.cyou",
	"witanime.pics":  "witanime.cyou",
	"witanime.world": "witanime.cyou",
}

// SiteKey is the pattern-store key of a page: its host without "www."
func SiteKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return strings.ToLower(rawURL)
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// Lookup returns the profile for the site serving rawURL
func Lookup(rawURL string) Site {
	key := SiteKey(rawURL)
	if canonical, ok := mirrors[key]; ok {
		key = canonical
	}
	if s, ok := sites[key]; ok {
		return s
	}
	return Site{Domain: key}
}

// NormalizeSiteURL accepts "@https://site", "site.tld" or a full URL and
// returns the site's base URL.
func NormalizeSiteURL(raw string) (string, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "@")
	if raw == "" {
		return "", fmt.Errorf("empty site")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid site %q: %w", raw, err)
	}
	if u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("invalid site %q", raw)
	}
	return u.Scheme + "://" + u.Host, nil
}

// absolute resolves ref against base; unusable refs yield ""
func absolute(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || ref == "#" || strings.HasPrefix(strings.ToLower(ref), "javascript:") {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return b.ResolveReference(r).String()
}
