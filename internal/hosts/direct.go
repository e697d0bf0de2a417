package hosts

import (
	"context"
	"strings"

	"github.com/alvarorichard/anidl/internal/models"
)

// DirectAdapter passes the URL through; the transfer itself is the protocol
type DirectAdapter struct{}

func (DirectAdapter) Resolve(_ context.Context, link models.DownloadLink) (*Resolution, error) {
	return &Resolution{Kind: Direct, URL: link.URL}, nil
}

// DropboxAdapter rewrites share links to the content host that serves the
// file itself
type DropboxAdapter struct{}

func (DropboxAdapter) Resolve(_ context.Context, link models.DownloadLink) (*Resolution, error) {
	u := strings.Replace(link.URL, "www.dropbox.com", "dl.dropboxusercontent.com", 1)
	switch {
	case strings.Contains(u, "dl=0"):
		u = strings.Replace(u, "dl=0", "dl=1", 1)
	case !strings.Contains(u, "dl=1") && !strings.Contains(u, "dropboxusercontent.com"):
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + "dl=1"
	}
	return &Resolution{Kind: Dropbox, URL: u}, nil
}
