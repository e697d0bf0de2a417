package hosts

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/alvarorichard/anidl/internal/models"
	"github.com/alvarorichard/anidl/internal/util"
)

var solidFilesURL = regexp.MustCompile(`downloadUrl"\s*:\s*"([^"]+)"`)

// SolidFilesAdapter reads the download URL from the viewer's embedded options
type SolidFilesAdapter struct {
	client *http.Client
}

func NewSolidFilesAdapter(timeout time.Duration) *SolidFilesAdapter {
	return &SolidFilesAdapter{
		client: &http.Client{Timeout: timeout, Transport: util.GetSharedClient().Transport},
	}
}

func (a *SolidFilesAdapter) Resolve(ctx context.Context, link models.DownloadLink) (*Resolution, error) {
	_, body, err := fetchPage(ctx, a.client, link.URL, nil)
	if err != nil {
		return nil, stepErr(SolidFiles, "viewer page", err)
	}
	m := solidFilesURL.FindStringSubmatch(body)
	if m == nil {
		return nil, stepErr(SolidFiles, "download url", errors.New("downloadUrl not present in page"))
	}
	return &Resolution{Kind: SolidFiles, URL: strings.ReplaceAll(m[1], `\`, "")}, nil
}
