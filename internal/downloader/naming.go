package downloader

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/alvarorichard/anidl/internal/hosts"
	"github.com/alvarorichard/anidl/internal/models"
	"github.com/alvarorichard/anidl/internal/util"
)

// NamingRule picks the destination of a resolved candidate
type NamingRule func(link models.DownloadLink, res *hosts.Resolution) string

var videoExts = map[string]bool{".mp4": true, ".mkv": true, ".webm": true, ".avi": true, ".mov": true, ".m4v": true}

// EpisodeNaming stores episodes as <dir>/<title>/<title>_Episode_<n><ext>.
// The extension comes from the name announced by the host when it is a video
// container, .mp4 otherwise.
func EpisodeNaming(dir, title, episode string) NamingRule {
	safeTitle := util.SanitizeFilename(title)
	safeEp := util.SanitizeFilename(episode)
	return func(_ models.DownloadLink, res *hosts.Resolution) string {
		ext := ".mp4"
		if res != nil && !res.HLS() {
			if e := strings.ToLower(filepath.Ext(res.Filename)); videoExts[e] {
				ext = e
			}
		}
		return filepath.Join(dir, safeTitle, fmt.Sprintf("%s_Episode_%s%s", safeTitle, safeEp, ext))
	}
}

// FixedPath always writes to path
func FixedPath(path string) NamingRule {
	return func(models.DownloadLink, *hosts.Resolution) string { return path }
}
