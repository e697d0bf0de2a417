package hosts

import (
	"context"
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
	driveIDPatterns = []*regexp.Regexp{
		regexp.MustCompile(`/file/d/([^/?#]+)`),
		regexp.MustCompile(`[?&]id=([^&#]+)`),
	}
	driveQuotaMarkers = []string{
		"too many users have viewed or downloaded this file",
		"download quota",
		"quota exceeded",
	}
)

// confirmCookiePrefix names the cookie carrying the confirmation token
const confirmCookiePrefix = "download_warning"

// GoogleDriveAdapter implements the confirmation-token protocol: a first
// request may answer with a warning cookie whose value must be replayed as
// &confirm=TOKEN.
type GoogleDriveAdapter struct {
	baseURL string
	timeout time.Duration
}

func NewGoogleDriveAdapter(timeout time.Duration) *GoogleDriveAdapter {
	return &GoogleDriveAdapter{baseURL: "https://drive.google.com", timeout: timeout}
}

// DriveFileID extracts the file id from any of the usual share link forms
func DriveFileID(link string) (string, bool) {
	for _, re := range driveIDPatterns {
		if m := re.FindStringSubmatch(link); m != nil {
			return m[1], true
		}
	}
	return "", false
}

func (a *GoogleDriveAdapter) Resolve(ctx context.Context, link models.DownloadLink) (*Resolution, error) {
	id, ok := DriveFileID(link.URL)
	if !ok {
		return nil, stepErr(GoogleDrive, "file id", fmt.Errorf("no file id in %s", link.URL))
	}
	downloadURL := fmt.Sprintf("%s/uc?id=%s&export=download", a.baseURL, url.QueryEscape(id))

	session, err := util.NewSessionClient(a.timeout)
	if err != nil {
		return nil, stepErr(GoogleDrive, "session", err)
	}

	resp, err := get(ctx, session, downloadURL, nil)
	if err != nil {
		return nil, stepErr(GoogleDrive, "initial request", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			util.Debug("close body", "err", err)
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, stepErr(GoogleDrive, "initial request", fmt.Errorf("unexpected status %s", resp.Status))
	}

	if token := confirmToken(resp.Cookies()); token != "" {
		util.Debug("drive confirmation required", "id", id)
		return &Resolution{
			Kind:   GoogleDrive,
			URL:    downloadURL + "&confirm=" + url.QueryEscape(token),
			Client: session,
		}, nil
	}

	if !isHTML(resp) {
		// small files are served straight away
		return &Resolution{Kind: GoogleDrive, URL: downloadURL, Client: session}, nil
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, stepErr(GoogleDrive, "interstitial", err)
	}
	if formURL, ok := downloadForm(doc, resp.Request.URL); ok {
		return &Resolution{Kind: GoogleDrive, URL: formURL, Client: session}, nil
	}

	text := strings.ToLower(doc.Text())
	for _, marker := range driveQuotaMarkers {
		if strings.Contains(text, marker) {
			return nil, stepErr(GoogleDrive, "quota", errors.New("download quota exceeded"))
		}
	}
	return nil, stepErr(GoogleDrive, "confirmation token", errors.New("no download_warning cookie or download form"))
}

func confirmToken(cookies []*http.Cookie) string {
	for _, c := range cookies {
		if strings.HasPrefix(c.Name, confirmCookiePrefix) && c.Value != "" {
			return c.Value
		}
	}
	return ""
}

// downloadForm builds the confirmed URL from the "virus scan warning" form
func downloadForm(doc *goquery.Document, base *url.URL) (string, bool) {
	form := doc.Find("form#download-form").First()
	if form.Length() == 0 {
		return "", false
	}
	action, ok := form.Attr("action")
	if !ok || action == "" {
		return "", false
	}
	target, err := base.Parse(action)
	if err != nil {
		return "", false
	}
	q := target.Query()
	form.Find("input[type='hidden']").Each(func(_ int, in *goquery.Selection) {
		name, _ := in.Attr("name")
		value, _ := in.Attr("value")
		if name != "" {
			q.Set(name, value)
		}
	})
	target.RawQuery = q.Encode()
	return target.String(), true
}
