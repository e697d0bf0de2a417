package hosts

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/alvarorichard/anidl/internal/browser"
	"github.com/alvarorichard/anidl/internal/models"
	"github.com/alvarorichard/anidl/internal/util"
)

const mp4UploadReferer = "https://www.mp4upload.com/"

var (
	mp4UploadSource = regexp.MustCompile(`(?:src|file)\s*:\s*"(https?://[^"]+?\.mp4[^"]*)"`)
	mp4UploadID     = regexp.MustCompile(`^/([A-Za-z0-9]+)(?:/[^/]*)?$`)
)

const videoSourceScript = `() => {
	const v = document.querySelector('video');
	return v ? (v.currentSrc || v.src || null) : null;
}`

// Launcher starts a browser session the caller owns and closes
type Launcher func(ctx context.Context) (browser.Surface, error)

// Mp4UploadAdapter reads the video source of an mp4upload player. The embed
// page usually carries it in the player setup; otherwise a private browser
// session loads the page and asks the video element.
type Mp4UploadAdapter struct {
	client *http.Client
	launch Launcher
	open   browser.OpenOptions
}

// NewMp4UploadAdapter returns an adapter; a nil launch disables the browser step
func NewMp4UploadAdapter(timeout time.Duration, launch Launcher, open browser.OpenOptions) *Mp4UploadAdapter {
	return &Mp4UploadAdapter{
		client: &http.Client{Timeout: timeout, Transport: util.GetSharedClient().Transport},
		launch: launch,
		open:   open,
	}
}

func (a *Mp4UploadAdapter) Resolve(ctx context.Context, link models.DownloadLink) (*Resolution, error) {
	header := http.Header{"Referer": {mp4UploadReferer}}

	_, body, err := fetchPage(ctx, a.client, embedURL(link.URL), header)
	if err == nil {
		if m := mp4UploadSource.FindStringSubmatch(body); m != nil {
			return &Resolution{Kind: Mp4Upload, URL: m[1], Header: header}, nil
		}
		err = errors.New("no video source in player setup")
	}
	if ctx.Err() != nil || a.launch == nil {
		return nil, stepErr(Mp4Upload, "embed page", err)
	}
	util.Debug("mp4upload source not in page, running the player", "url", link.URL, "err", err)

	src, err := a.playerSource(ctx, link.URL)
	if err != nil {
		return nil, stepErr(Mp4Upload, "player", err)
	}
	return &Resolution{Kind: Mp4Upload, URL: src, Header: header}, nil
}

func (a *Mp4UploadAdapter) playerSource(ctx context.Context, pageURL string) (string, error) {
	s, err := a.launch(ctx)
	if err != nil {
		return "", err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			util.Debug("closing player session", "err", cerr)
		}
	}()

	open := a.open
	open.WaitFor = "div#player"
	if err := browser.Open(ctx, s, pageURL, open); err != nil {
		return "", err
	}
	v, err := s.Evaluate(ctx, videoSourceScript)
	if err != nil {
		return "", err
	}
	src, _ := v.(string)
	if !strings.HasPrefix(src, "http") {
		return "", errors.New("video element has no source")
	}
	return src, nil
}

// embedURL turns a share link into the player page, which carries the setup
func embedURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || strings.Contains(u.Path, "embed-") {
		return raw
	}
	m := mp4UploadID.FindStringSubmatch(u.Path)
	if m == nil {
		return raw
	}
	u.Path = "/embed-" + m[1] + ".html"
	return u.String()
}
