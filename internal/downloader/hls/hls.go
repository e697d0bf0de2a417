// Package hls fetches HTTP Live Streaming playlists into a single file.
package hls

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/alvarorichard/anidl/internal/util"
)

// ErrNoSegments means the playlist parsed but listed nothing to fetch
var ErrNoSegments = errors.New("playlist has no segments")

// maxLossRatio is the share of segments that may be lost before the transfer
// counts as failed
const maxLossRatio = 0.05

var bandwidthAttr = regexp.MustCompile(`BANDWIDTH=(\d+)`)

// Segment is one media chunk of a playlist
type Segment struct {
	URL      string
	Index    int
	Duration float64
}

// Playlist is a parsed media playlist
type Playlist struct {
	TargetDuration float64
	MediaSequence  int
	EndList        bool
	Segments       []Segment
}

// ProgressFunc receives the number of segments done and the bytes written
type ProgressFunc func(done, total int, written int64)

// Fetcher downloads playlists segment by segment, one request at a time
type Fetcher struct {
	client  *http.Client
	retries int
	backoff time.Duration
}

// NewFetcher returns a fetcher using client
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = util.NewTransferClient()
	}
	return &Fetcher{client: client, retries: 4, backoff: time.Second}
}

func (f *Fetcher) get(ctx context.Context, rawURL string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	util.DecorateRequest(req)
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("HTTP %s for %s", resp.Status, rawURL)
	}
	return resp, nil
}

func (f *Fetcher) lines(ctx context.Context, rawURL string, header http.Header) ([]string, error) {
	resp, err := f.get(ctx, rawURL, header)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var out []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			out = append(out, line)
		}
	}
	return out, scanner.Err()
}

// Resolve loads rawURL; a master playlist is followed to its highest
// bandwidth variant.
func (f *Fetcher) Resolve(ctx context.Context, rawURL string, header http.Header) (*Playlist, error) {
	lines, err := f.lines(ctx, rawURL, header)
	if err != nil {
		return nil, err
	}
	if variant := BestVariant(lines, rawURL); variant != "" {
		util.Debug("hls master playlist, following best variant", "url", variant)
		if lines, err = f.lines(ctx, variant, header); err != nil {
			return nil, err
		}
		rawURL = variant
	}
	return ParseMedia(lines, rawURL)
}

// BestVariant returns the highest bandwidth stream of a master playlist, or
// "" when lines are a media playlist
func BestVariant(lines []string, base string) string {
	best, bestBW := "", -1
	for i, line := range lines {
		if !strings.HasPrefix(line, "#EXT-X-STREAM-INF:") || i+1 >= len(lines) {
			continue
		}
		bw := 0
		if m := bandwidthAttr.FindStringSubmatch(line); m != nil {
			bw, _ = strconv.Atoi(m[1])
		}
		next := lines[i+1]
		if strings.HasPrefix(next, "#") {
			continue
		}
		if bw > bestBW {
			best, bestBW = resolveRef(base, next), bw
		}
	}
	return best
}

// ParseMedia parses the lines of a media playlist served at base
func ParseMedia(lines []string, base string) (*Playlist, error) {
	p := &Playlist{}
	var duration float64
	pending := false
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION:"):
			p.TargetDuration, _ = strconv.ParseFloat(strings.TrimPrefix(line, "#EXT-X-TARGETDURATION:"), 64)
		case strings.HasPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"):
			p.MediaSequence, _ = strconv.Atoi(strings.TrimPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"))
		case strings.HasPrefix(line, "#EXT-X-ENDLIST"):
			p.EndList = true
		case strings.HasPrefix(line, "#EXTINF:"):
			inf := strings.SplitN(strings.TrimPrefix(line, "#EXTINF:"), ",", 2)
			duration, _ = strconv.ParseFloat(strings.TrimSpace(inf[0]), 64)
			pending = true
		case strings.HasPrefix(line, "#"):
		case pending:
			p.Segments = append(p.Segments, Segment{URL: resolveRef(base, line), Index: len(p.Segments), Duration: duration})
			pending = false
		}
	}
	if len(p.Segments) == 0 {
		return nil, ErrNoSegments
	}
	return p, nil
}

func resolveRef(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

// Fetch writes every segment of the playlist at rawURL to w in order. A few
// lost segments are tolerated; more than maxLossRatio fails the transfer.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, header http.Header, w io.Writer, progress ProgressFunc) error {
	p, err := f.Resolve(ctx, rawURL, header)
	if err != nil {
		return fmt.Errorf("failed to parse playlist: %w", err)
	}

	total := len(p.Segments)
	var written int64
	var lost int
	var firstErr error
	for i, seg := range p.Segments {
		n, err := f.segment(ctx, seg.URL, header, w)
		written += n
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var werr *writeError
			if errors.As(err, &werr) {
				return werr.err
			}
			lost++
			if firstErr == nil {
				firstErr = err
			}
			util.Debug("hls segment lost", "index", seg.Index, "err", err)
		}
		if progress != nil {
			progress(i+1, total, written)
		}
	}

	if lost > 0 {
		ratio := float64(lost) / float64(total)
		if ratio > maxLossRatio {
			return fmt.Errorf("download incomplete: %d/%d segments failed: %w", lost, total, firstErr)
		}
		util.Warn("some hls segments could not be downloaded", "lost", lost, "total", total)
	}
	return nil
}

type writeError struct{ err error }

func (e *writeError) Error() string { return e.err.Error() }

// segment fetches one chunk with retries. A segment is buffered in full before
// it is written so a failed retry never leaves partial bytes behind.
func (f *Fetcher) segment(ctx context.Context, rawURL string, header http.Header, w io.Writer) (int64, error) {
	var written int
	sched := util.Backoff{Initial: f.backoff, Max: 8 * f.backoff}
	err := util.Retry(ctx, sched, uint64(f.retries), func() error {
		resp, err := f.get(ctx, rawURL, header)
		if err != nil {
			return err
		}
		data, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return err
		}
		written, err = w.Write(data)
		if err != nil {
			return util.Permanent(&writeError{err: fmt.Errorf("write segment: %w", err)})
		}
		return nil
	})
	return int64(written), err
}
