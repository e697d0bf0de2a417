package hosts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/alvarorichard/anidl/internal/models"
	"github.com/alvarorichard/anidl/internal/util"
)

var (
	mediafireKeyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`mediafire\.com/(?:file|file_premium|download|view)/([a-zA-Z0-9]+)`),
		regexp.MustCompile(`mediafire\.com/\?([a-zA-Z0-9]+)`),
	}
	mediafireAnchorPatterns = []*regexp.Regexp{
		regexp.MustCompile(`href="(https?://download[^"]+)"`),
		regexp.MustCompile(`aria-label="Download file"\s+href="([^"]+)"`),
		regexp.MustCompile(`href="(https?://[^"]+?\.mediafire\.com/\w+/[^"]+)"`),
	}
)

// mediafireFile is the subset of get_info.php we rely on
type mediafireFile struct {
	Filename string `json:"filename"`
	Hash     string `json:"hash"`
	Links    struct {
		NormalDownload string `json:"normal_download"`
	} `json:"links"`
}

type mediafireInfo struct {
	Response struct {
		Result   string         `json:"result"`
		FileInfo *mediafireFile `json:"file_info"`
	} `json:"response"`
}

// MediaFireAdapter implements the metadata-then-link protocol: the file info
// API gives the canonical name, hash and landing page, the landing page holds
// the direct anchor.
type MediaFireAdapter struct {
	apiBase string
	client  *http.Client
}

func NewMediaFireAdapter(timeout time.Duration) *MediaFireAdapter {
	return &MediaFireAdapter{
		apiBase: "https://www.mediafire.com",
		client:  &http.Client{Timeout: timeout, Transport: util.GetSharedClient().Transport},
	}
}

// MediaFireKey extracts the quick key of a share link
func MediaFireKey(link string) (string, bool) {
	for _, re := range mediafireKeyPatterns {
		if m := re.FindStringSubmatch(link); m != nil {
			return m[1], true
		}
	}
	return "", false
}

func (a *MediaFireAdapter) Resolve(ctx context.Context, link models.DownloadLink) (*Resolution, error) {
	key, ok := MediaFireKey(link.URL)
	if !ok {
		// no key, the page itself may still carry the anchor
		direct, err := a.directAnchor(ctx, link.URL)
		if err != nil {
			return nil, stepErr(MediaFire, "file key", err)
		}
		return &Resolution{Kind: MediaFire, URL: direct}, nil
	}

	res := &Resolution{Kind: MediaFire}
	landing := link.URL
	info, err := a.fileInfo(ctx, key)
	if err != nil {
		util.Debug("mediafire info api failed, using share page", "key", key, "err", err)
	} else {
		res.Filename = info.Filename
		res.SHA256 = strings.ToLower(info.Hash)
		if info.Links.NormalDownload != "" {
			landing = info.Links.NormalDownload
		}
	}

	direct, err := a.directAnchor(ctx, landing)
	if err != nil {
		return nil, stepErr(MediaFire, "direct anchor", err)
	}
	res.URL = direct
	return res, nil
}

func (a *MediaFireAdapter) fileInfo(ctx context.Context, key string) (*mediafireFile, error) {
	endpoint := fmt.Sprintf("%s/api/file/get_info.php?quick_key=%s&response_format=json", a.apiBase, url.QueryEscape(key))
	_, body, err := fetchPage(ctx, a.client, endpoint, http.Header{"Accept": {"application/json"}})
	if err != nil {
		return nil, err
	}

	var info mediafireInfo
	if err := json.Unmarshal([]byte(body), &info); err != nil {
		return nil, fmt.Errorf("decode file info: %w", err)
	}
	if info.Response.FileInfo == nil {
		return nil, fmt.Errorf("file info missing (result %q)", info.Response.Result)
	}
	return info.Response.FileInfo, nil
}

// directAnchor loads a landing page and finds the direct download URL on it.
// A landing URL that already serves the file is returned as is.
func (a *MediaFireAdapter) directAnchor(ctx context.Context, landing string) (string, error) {
	resp, body, err := fetchPage(ctx, a.client, landing, nil)
	if err != nil {
		return "", err
	}
	if resp.Header.Get("Content-Disposition") != "" || !isHTML(resp) {
		return landing, nil
	}

	base := resp.Request.URL
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(body)); err == nil {
		if href, ok := doc.Find("a#downloadButton, a.input.popsok").First().Attr("href"); ok && strings.HasPrefix(href, "http") {
			return href, nil
		}
	}
	for _, re := range mediafireAnchorPatterns {
		if m := re.FindStringSubmatch(body); m != nil {
			if u, err := base.Parse(m[1]); err == nil {
				return u.String(), nil
			}
		}
	}
	return "", errors.New("direct download anchor not found")
}
