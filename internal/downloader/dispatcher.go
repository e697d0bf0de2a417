// Package downloader orders download candidates by host priority and fetches
// the first one that works.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/alvarorichard/anidl/internal/hosts"
	"github.com/alvarorichard/anidl/internal/models"
	"github.com/alvarorichard/anidl/internal/util"
)

var (
	// ErrAllCandidatesFailed means every candidate was tried and none produced a file
	ErrAllCandidatesFailed = errors.New("all download candidates failed")
	// ErrIntegrityMismatch means the file on disk does not hash to the value
	// the host announced. It is reported, never fatal.
	ErrIntegrityMismatch = errors.New("integrity check failed")
)

// DefaultOrder is the host priority used after the configured preference.
// MediaFire resolves most reliably, Google Drive comes second.
var DefaultOrder = []hosts.Kind{hosts.MediaFire, hosts.GoogleDrive}

// Resolver turns a candidate into something transferable
type Resolver interface {
	Resolve(ctx context.Context, link models.DownloadLink) (*hosts.Resolution, error)
}

// Options configures a Dispatcher
type Options struct {
	// Preferred host family tried before DefaultOrder, if set
	Preferred    hosts.Kind
	HasPreferred bool
	Reporter     Reporter
	// Client is used for transfers whose resolution did not bind a session
	Client *http.Client
	// HLSFallback handles playlists the native fetcher fails on; nil uses yt-dlp
	HLSFallback HLSFallback
}

// Dispatcher tries candidates one at a time until one is on disk
type Dispatcher struct {
	resolver    Resolver
	order       []hosts.Kind
	reporter    Reporter
	client      *http.Client
	hlsFallback HLSFallback
}

// New returns a dispatcher resolving candidates through resolver
func New(resolver Resolver, opts Options) *Dispatcher {
	d := &Dispatcher{
		resolver:    resolver,
		reporter:    opts.Reporter,
		client:      opts.Client,
		hlsFallback: opts.HLSFallback,
	}
	if opts.HasPreferred {
		d.order = PriorityOrder(opts.Preferred)
	} else {
		d.order = PriorityOrder()
	}
	if d.reporter == nil {
		d.reporter = NopReporter{}
	}
	if d.client == nil {
		d.client = util.NewTransferClient()
	}
	if d.hlsFallback == nil {
		d.hlsFallback = ytdlpFetch
	}
	return d
}

// PriorityOrder returns preferred followed by DefaultOrder, without repeats
func PriorityOrder(preferred ...hosts.Kind) []hosts.Kind {
	var out []hosts.Kind
	for _, k := range append(slices.Clone(preferred), DefaultOrder...) {
		if !slices.Contains(out, k) {
			out = append(out, k)
		}
	}
	return out
}

// Candidate is a link with its host family
type Candidate struct {
	Link models.DownloadLink
	Kind hosts.Kind
}

// Prioritize classifies links and orders them: families in order first, in
// that order, then everything else in discovery order. Links no adapter can
// handle are dropped.
func Prioritize(links []models.DownloadLink, order []hosts.Kind) []Candidate {
	cands := make([]Candidate, 0, len(links))
	for _, link := range links {
		kind, err := hosts.Identify(link)
		if err != nil {
			util.Debug("skipping candidate", "server", link.Host, "url", link.URL, "err", err)
			continue
		}
		cands = append(cands, Candidate{Link: link, Kind: kind})
	}
	rank := func(k hosts.Kind) int {
		if i := slices.Index(order, k); i >= 0 {
			return i
		}
		return len(order)
	}
	slices.SortStableFunc(cands, func(a, b Candidate) int {
		return rank(a.Kind) - rank(b.Kind)
	})
	return cands
}

// Result describes a dispatch
type Result struct {
	// Attempts made, in order; at most one per candidate
	Attempts []*models.DownloadAttempt
	// Path of the completed file, empty on failure
	Path string
	// Integrity is non-nil when the completed file failed its hash check
	Integrity error
}

// Succeeded reports whether a file was retrieved
func (r *Result) Succeeded() bool {
	return r != nil && r.Path != ""
}

// Download tries links in priority order, one at a time, and stops at the
// first completed transfer. Failures of single candidates are logged and
// skipped; only cancellation stops the loop early.
func (d *Dispatcher) Download(ctx context.Context, links []models.DownloadLink, rule NamingRule) (*Result, error) {
	result := &Result{}
	cands := Prioritize(links, d.order)
	if len(cands) == 0 {
		return result, fmt.Errorf("%w: no candidate has a supported host", ErrAllCandidatesFailed)
	}

	var reasons []string
	for i, c := range cands {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		log := util.ForHost(c.Kind)
		log.Debug("trying candidate", "n", i+1, "of", len(cands), "server", c.Link.Host)

		attempt := models.NewDownloadAttempt(c.Link, "")
		result.Attempts = append(result.Attempts, attempt)

		err := d.attempt(ctx, attempt, rule)
		if err == nil {
			result.Path = attempt.Destination
			log.Info("Downloaded", "server", c.Link.Host, "path", attempt.Destination)
			return result, nil
		}
		if errors.Is(err, ErrIntegrityMismatch) {
			result.Path = attempt.Destination
			result.Integrity = err
			log.Warn("Downloaded file failed its integrity check", "path", attempt.Destination, "err", err)
			return result, nil
		}
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		log.Warn("Candidate failed, trying next", "server", c.Link.Host, "err", err)
		reasons = append(reasons, fmt.Sprintf("%s: %v", c.Link.Host, err))
	}
	return result, fmt.Errorf("%w (%d tried): %s", ErrAllCandidatesFailed, len(cands), strings.Join(reasons, "; "))
}

// attempt resolves and transfers one candidate. An ErrIntegrityMismatch
// return means the file is complete on disk.
func (d *Dispatcher) attempt(ctx context.Context, attempt *models.DownloadAttempt, rule NamingRule) error {
	res, err := d.resolver.Resolve(ctx, attempt.Link)
	if err != nil {
		settle(attempt, attempt.Fail(err))
		return err
	}
	attempt.Destination = rule(attempt.Link, res)

	sum, err := d.transfer(ctx, res, attempt)
	if err != nil {
		started := attempt.Status == models.AttemptDownloading
		settle(attempt, attempt.Fail(err))
		if started {
			d.reporter.Finished(attempt)
		}
		return err
	}
	settle(attempt, attempt.Complete())
	d.reporter.Finished(attempt)

	if res.SHA256 != "" && !strings.EqualFold(sum, res.SHA256) {
		return fmt.Errorf("%w: %s has sha256 %s, host announced %s", ErrIntegrityMismatch, attempt.Destination, sum, res.SHA256)
	}
	return nil
}

// settle logs a rejected attempt transition; the attempt keeps its state
func settle(attempt *models.DownloadAttempt, err error) {
	if err != nil {
		util.Debug("attempt transition rejected", "url", attempt.Link.URL, "status", attempt.Status, "err", err)
	}
}
