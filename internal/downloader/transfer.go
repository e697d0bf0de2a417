package downloader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"

	"github.com/alvarorichard/anidl/internal/downloader/hls"
	"github.com/alvarorichard/anidl/internal/hosts"
	"github.com/alvarorichard/anidl/internal/models"
	"github.com/alvarorichard/anidl/internal/util"
)

// ErrUnexpectedContent means the host answered with a web page instead of
// the file, usually an interstitial or an error page
var ErrUnexpectedContent = errors.New("server returned a web page instead of the file")

// reportEvery throttles progress callbacks during a transfer
const reportEvery = 200 * time.Millisecond

// meter computes the instantaneous transfer rate between reports
type meter struct {
	attempt  *models.DownloadAttempt
	reporter Reporter
	last     time.Time
	lastN    int64
}

func newMeter(a *models.DownloadAttempt, r Reporter) *meter {
	return &meter{attempt: a, reporter: r, last: time.Now()}
}

func (m *meter) tick(force bool) {
	now := time.Now()
	elapsed := now.Sub(m.last)
	if !force && elapsed < reportEvery {
		return
	}
	rate := 0.0
	if elapsed > 0 {
		rate = float64(m.attempt.BytesTransferred-m.lastN) / elapsed.Seconds()
	}
	m.last, m.lastN = now, m.attempt.BytesTransferred
	m.reporter.Progress(m.attempt, rate)
}

// countingWriter feeds written bytes into the attempt and the meter
type countingWriter struct {
	w io.Writer
	m *meter
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.m.attempt.Add(int64(n))
	c.m.tick(false)
	return n, err
}

// transfer fetches res into attempt.Destination through a .part file. It
// returns the hex sha256 of the bytes written when the host announced one.
func (d *Dispatcher) transfer(ctx context.Context, res *hosts.Resolution, attempt *models.DownloadAttempt) (string, error) {
	if err := os.MkdirAll(filepath.Dir(attempt.Destination), 0o750); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	part := attempt.Destination + ".part"

	var sum string
	var err error
	if res.HLS() {
		err = d.transferHLS(ctx, res, attempt, part)
	} else {
		sum, err = d.transferHTTP(ctx, res, attempt, part)
	}
	if err != nil {
		if rmErr := os.Remove(part); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			util.Debug("remove partial file", "path", part, "err", rmErr)
		}
		return "", err
	}
	if err := os.Rename(part, attempt.Destination); err != nil {
		return "", fmt.Errorf("failed to move download into place: %w", err)
	}
	return sum, nil
}

func (d *Dispatcher) transferHTTP(ctx context.Context, res *hosts.Resolution, attempt *models.DownloadAttempt, part string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, res.URL, nil)
	if err != nil {
		return "", err
	}
	for k, v := range res.Header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "*/*")
	util.DecorateRequest(req)

	client := d.client
	if res.Client != nil {
		client = util.ForTransfer(res.Client)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to start download: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			util.Debug("close body", "err", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("bad status: %s", resp.Status)
	}
	if strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "text/html") {
		return "", ErrUnexpectedContent
	}

	if err := attempt.Start(resp.ContentLength); err != nil {
		return "", err
	}
	d.reporter.Started(attempt)

	// #nosec G304 -- destination is built from sanitized components
	out, err := os.OpenFile(part, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}

	var h hash.Hash
	var w io.Writer = out
	if res.SHA256 != "" {
		h = sha256.New()
		w = io.MultiWriter(out, h)
	}
	m := newMeter(attempt, d.reporter)
	_, copyErr := io.CopyBuffer(&countingWriter{w: w, m: m}, resp.Body, make([]byte, 32*1024))
	m.tick(true)
	if err := out.Close(); err != nil && copyErr == nil {
		copyErr = fmt.Errorf("failed to close file: %w", err)
	}
	if copyErr != nil {
		return "", fmt.Errorf("transfer interrupted after %d bytes: %w", attempt.BytesTransferred, copyErr)
	}
	if attempt.TotalBytes > 0 && attempt.BytesTransferred < attempt.TotalBytes {
		return "", fmt.Errorf("transfer truncated: %d of %d bytes", attempt.BytesTransferred, attempt.TotalBytes)
	}
	if h == nil {
		return "", nil
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (d *Dispatcher) transferHLS(ctx context.Context, res *hosts.Resolution, attempt *models.DownloadAttempt, part string) error {
	if err := attempt.Start(-1); err != nil {
		return err
	}
	d.reporter.Started(attempt)

	// #nosec G304 -- destination is built from sanitized components
	out, err := os.OpenFile(part, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	m := newMeter(attempt, d.reporter)
	fetchErr := hls.NewFetcher(res.Client).Fetch(ctx, res.URL, res.Header, &countingWriter{w: out, m: m}, nil)
	m.tick(true)
	if err := out.Close(); err != nil && fetchErr == nil {
		fetchErr = err
	}
	if fetchErr == nil {
		return nil
	}
	if ctx.Err() != nil || d.hlsFallback == nil {
		return fetchErr
	}

	util.Warn("native HLS download failed, trying yt-dlp", "err", fetchErr)
	attempt.BytesTransferred = 0
	onBytes := func(n int64) {
		attempt.BytesTransferred = n
		m.tick(false)
	}
	if err := d.hlsFallback(ctx, res.URL, part, res.Header, onBytes); err != nil {
		return fmt.Errorf("hls: %w (yt-dlp: %v)", fetchErr, err)
	}
	if st, err := os.Stat(part); err == nil {
		attempt.BytesTransferred = st.Size()
	}
	m.tick(true)
	return nil
}

// HLSFallback fetches a stream the native fetcher could not handle
type HLSFallback func(ctx context.Context, streamURL, dest string, header http.Header, onBytes func(int64)) error

// ytdlpFetch downloads a stream with yt-dlp, installing it on first use
func ytdlpFetch(ctx context.Context, streamURL, dest string, header http.Header, onBytes func(int64)) error {
	if _, err := ytdlp.Install(ctx, nil); err != nil {
		return fmt.Errorf("failed to install yt-dlp: %w", err)
	}
	dl := ytdlp.New().
		Output(dest).
		FragmentRetries("5").
		Retries("5")
	for k, vs := range header {
		for _, v := range vs {
			dl.AddHeaders(k + ":" + v)
		}
	}
	dl.ProgressFunc(reportEvery, func(update ytdlp.ProgressUpdate) {
		if onBytes == nil || update.Status == ytdlp.ProgressStatusPostProcessing || update.Status == ytdlp.ProgressStatusFinished {
			return
		}
		onBytes(int64(update.DownloadedBytes))
	})
	if _, err := dl.Run(ctx, streamURL, "--hls-use-mpegts"); err != nil {
		return fmt.Errorf("go-ytdlp download failed: %w", err)
	}
	if _, err := os.Stat(dest); err != nil {
		return fmt.Errorf("download failed: file was not created at %s", dest)
	}
	return nil
}
