package hosts

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/alvarorichard/anidl/internal/models"
	"github.com/alvarorichard/anidl/internal/util"
)

// ErrHostUnidentified means no adapter can handle a link
var ErrHostUnidentified = errors.New("host not identified")

// domain suffixes per family, matched against the URL host only
var hostDomains = []struct {
	kind    Kind
	domains []string
}{
	{GoogleDrive, []string{"drive.google.com", "docs.google.com", "drive.usercontent.google.com"}},
	{MediaFire, []string{"mediafire.com"}},
	{FourShared, []string{"4shared.com"}},
	{Dropbox, []string{"dropbox.com", "dropboxusercontent.com"}},
	{SolidFiles, []string{"solidfiles.com"}},
	{Mp4Upload, []string{"mp4upload.com"}},
}

// unsupportedDomains serve client-side encrypted files; their public links
// need the host's own API and decryption, which no adapter implements
var unsupportedDomains = []string{"mega.nz", "mega.co.nz"}

// labelHints are substrings of free-text server names
var labelHints = []struct {
	kind  Kind
	hints []string
}{
	{GoogleDrive, []string{"google", "drive", "gdrive"}},
	{MediaFire, []string{"mediafire"}},
	{FourShared, []string{"4shared"}},
	{Dropbox, []string{"dropbox"}},
	{SolidFiles, []string{"solidfiles"}},
	{Mp4Upload, []string{"mp4upload"}},
}

func matchDomain(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// KindFromURL classifies a link by its URL alone
func KindFromURL(raw string) (Kind, error) {
	if strings.HasPrefix(raw, models.ScriptIndexPrefix) {
		return ScriptTab, nil
	}
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrHostUnidentified, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return 0, fmt.Errorf("%w: unsupported url %q", ErrHostUnidentified, raw)
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range unsupportedDomains {
		if matchDomain(host, d) {
			return 0, fmt.Errorf("%w: %s is not supported", ErrHostUnidentified, host)
		}
	}
	for _, entry := range hostDomains {
		for _, d := range entry.domains {
			if matchDomain(host, d) {
				return entry.kind, nil
			}
		}
	}
	return Direct, nil
}

// KindFromLabel guesses a family from a server name. It is a hint only.
func KindFromLabel(label string) (Kind, bool) {
	l := strings.ToLower(label)
	// 4shared first: its mirrors are often labelled "4shared (mediafire)"
	if strings.Contains(l, "4shared") {
		return FourShared, true
	}
	for _, entry := range labelHints {
		for _, h := range entry.hints {
			if strings.Contains(l, h) {
				return entry.kind, true
			}
		}
	}
	return 0, false
}

// Identify classifies a link. The URL decides; a label that disagrees is
// logged and otherwise ignored so a mislabeled link cannot pose as a trusted
// host.
func Identify(link models.DownloadLink) (Kind, error) {
	kind, err := KindFromURL(link.URL)
	if err != nil {
		return 0, err
	}
	if hint, ok := KindFromLabel(link.Host); ok && hint != kind && kind != ScriptTab {
		util.Debug("server label disagrees with url", "label", link.Host, "label_kind", hint, "url_kind", kind, "url", link.URL)
	}
	return kind, nil
}
