package selector

import (
	"fmt"

	"github.com/alvarorichard/anidl/internal/models"
)

// Generic returns the site-independent candidates for p, strongest
// assumptions first. Every purpose must have an entry.
func Generic(p models.Purpose) []string {
	switch p {
	case models.PurposeSearchBox:
		return []string{
			"input[type='search']",
			"input[name='s']",
			".search-input",
			".search-field",
			"input[placeholder*='search' i]",
			"input[placeholder*='بحث']",
		}
	case models.PurposeResultItem:
		return []string{
			".anime-card",
			".anime-item",
			".post-item",
			".show-card",
			".anime-block",
			".result-item",
			"article",
			".post",
			"[class*='anime']",
			".card",
			".movie-item",
		}
	case models.PurposeTitle:
		return []string{
			".anime-card-title h3",
			"h3",
			".title",
			"h2",
			".name",
			".anime-title",
			".post-title",
			"[class*='title']",
		}
	case models.PurposeEpisodeItem:
		return []string{
			"a[onclick*='openEpisode']",
			".episodes-card-container a.overlay",
			".episodes-list-content a.overlay",
			".episode-card a",
			".episode-item a",
			".eps-item a",
			".ep-card a",
			"a.overlay",
			".episode a",
			".card a",
		}
	case models.PurposeDownloadButton:
		return []string{
			"a:contains('تحميل الحلقة')",
			"a:contains('تحميل')",
			"a.download",
			"a:contains('Download')",
			".download-button",
			".btn-download",
			".btn-site",
			".episodes-buttons-list a",
			".episode-buttons-container a",
		}
	case models.PurposeServerItem:
		return []string{
			".download-servers a.dashboard-button",
			".download-servers a",
			".server-list a",
			".server-item a",
			"a.dashboard-button",
			".quality-list a",
			"a.download-link",
			"a[data-index]",
			".mirror-item a",
			".download-server a",
		}
	}
	panic(fmt.Sprintf("selector: no strategies for %s", p))
}

// Candidates returns override followed by the generic list for p
func Candidates(p models.Purpose, override ...string) []string {
	return Merge(override, Generic(p))
}
