package hosts

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/alvarorichard/anidl/internal/models"
	"github.com/alvarorichard/anidl/internal/util"
)

const fourSharedBase = "https://www.4shared.com"

var (
	fourSharedDownloadPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?s)id="baseDownloadButton".*?href="([^"]+)"`),
		regexp.MustCompile(`(?s)id="directDownloadLink".*?href="([^"]+)"`),
		regexp.MustCompile(`(?s)<a[^>]*?class="dbtn[^"]*"[^>]*?href="([^"]+)"`),
		regexp.MustCompile(`href="(https?://[^"]+?/get/[^"]+?)"`),
		regexp.MustCompile(`(?s)<a[^>]*?class="linkShowD[^"]*"[^>]*?href="([^"]+)"`),
	}
	fourSharedFreePatterns = []*regexp.Regexp{
		regexp.MustCompile(`href="([^"]+download/free/[^"]+)"`),
		regexp.MustCompile(`(?s)<a[^>]*?class="freeDownloadButton[^"]*"[^>]*?href="([^"]+)"`),
		regexp.MustCompile(`(?s)id="freeDownloadButton".*?href="([^"]+)"`),
	}
	fourSharedScriptPatterns = []*regexp.Regexp{
		regexp.MustCompile(`var dlLink = "([^"]+)";`),
		regexp.MustCompile(`var url = "([^"]+)";`),
	}
	fourSharedCountdown = regexp.MustCompile(`var c = (\d+);`)
)

// FourSharedAdapter implements the countdown protocol: landing page, free
// download page, a mandatory wait, then the final link.
type FourSharedAdapter struct {
	base         string
	timeout      time.Duration
	countdownMax time.Duration
	margin       time.Duration
	sleep        func(context.Context, time.Duration) error
}

func NewFourSharedAdapter(timeout, countdownMax time.Duration) *FourSharedAdapter {
	if countdownMax <= 0 {
		countdownMax = time.Minute
	}
	return &FourSharedAdapter{
		base:         fourSharedBase,
		timeout:      timeout,
		countdownMax: countdownMax,
		margin:       time.Second,
		sleep:        util.Sleep,
	}
}

func (a *FourSharedAdapter) Resolve(ctx context.Context, link models.DownloadLink) (*Resolution, error) {
	session, err := util.NewSessionClient(a.timeout)
	if err != nil {
		return nil, stepErr(FourShared, "session", err)
	}
	header := http.Header{"Referer": {a.base + "/"}}

	resp, body, err := fetchPage(ctx, session, link.URL, header)
	if err != nil {
		return nil, stepErr(FourShared, "landing page", err)
	}
	page := resp.Request.URL

	if direct, ok := a.firstMatch(page, body, fourSharedDownloadPatterns); ok {
		return &Resolution{Kind: FourShared, URL: direct, Client: session, Header: header}, nil
	}

	free, ok := a.firstMatch(page, body, fourSharedFreePatterns)
	if !ok {
		return nil, stepErr(FourShared, "free download page", errors.New("no download or free-download link on landing page"))
	}
	header = http.Header{"Referer": {page.String()}}
	resp, body, err = fetchPage(ctx, session, free, header)
	if err != nil {
		return nil, stepErr(FourShared, "free download page", err)
	}
	page = resp.Request.URL

	if m := fourSharedCountdown.FindStringSubmatch(body); m != nil {
		secs, _ := strconv.Atoi(m[1])
		wait := time.Duration(secs)*time.Second + a.margin
		if wait > a.countdownMax {
			wait = a.countdownMax
		}
		util.Info("Waiting for 4shared countdown", "wait", wait)
		if err := a.sleep(ctx, wait); err != nil {
			return nil, stepErr(FourShared, "countdown", err)
		}
	}

	patterns := append(append([]*regexp.Regexp{}, fourSharedDownloadPatterns...), fourSharedScriptPatterns...)
	if direct, ok := a.firstMatch(page, body, patterns); ok {
		return &Resolution{Kind: FourShared, URL: direct, Client: session, Header: header}, nil
	}
	return nil, stepErr(FourShared, "final link", errors.New("download link not found after countdown"))
}

// firstMatch runs patterns in order and returns the first capture made
// absolute against page
func (a *FourSharedAdapter) firstMatch(page *url.URL, body string, patterns []*regexp.Regexp) (string, bool) {
	for _, re := range patterns {
		m := re.FindStringSubmatch(body)
		if m == nil || m[1] == "" || m[1] == "#" {
			continue
		}
		u, err := page.Parse(m[1])
		if err != nil {
			continue
		}
		return u.String(), true
	}
	return "", false
}
