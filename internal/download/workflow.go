// Package download runs batch episode downloads on top of the extraction
// pipeline.
package download

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/alvarorichard/anidl/internal/downloader"
	"github.com/alvarorichard/anidl/internal/models"
	"github.com/alvarorichard/anidl/internal/util"
)

// ErrNoEpisodesSelected is returned when a selection names no listed episode
var ErrNoEpisodesSelected = errors.New("no valid episodes selected")

// Source is the part of the client a batch needs
type Source interface {
	GetDownloadLinks(ctx context.Context, episodeURL string) ([]models.DownloadLink, error)
	Fetch(ctx context.Context, links []models.DownloadLink, rule downloader.NamingRule) (*downloader.Result, error)
	EpisodeRule(title, number string) downloader.NamingRule
}

// Outcome is what happened to one episode of a batch
type Outcome struct {
	Episode models.Episode
	Path    string
	Result  *downloader.Result
	Err     error
}

// Report collects the outcomes of a batch in selection order
type Report struct {
	Outcomes []Outcome
}

// Saved returns the outcomes that produced a file
func (r *Report) Saved() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Err == nil {
			out = append(out, o)
		}
	}
	return out
}

// Failed returns the outcomes that were skipped
func (r *Report) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

// ParseSelection picks episodes by a selection such as "1-5,7,12.5".
// Ranges are inclusive and only match numeric episodes; single entries match
// the episode number as listed, ignoring leading zeros. Numbers that are not
// listed are skipped. The result keeps selection order without duplicates.
func ParseSelection(selection string, episodes []models.Episode) ([]models.Episode, error) {
	byNumber := make(map[string]models.Episode, len(episodes))
	for _, ep := range episodes {
		byNumber[normalizeNumber(ep.Number)] = ep
	}

	var selected []models.Episode
	seen := make(map[string]bool)
	add := func(number string) {
		key := normalizeNumber(number)
		ep, ok := byNumber[key]
		if !ok {
			util.Debug("episode not listed", "episode", number)
			return
		}
		if !seen[key] {
			seen[key] = true
			selected = append(selected, ep)
		}
	}

	for _, part := range strings.Split(selection, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if from, to, ok := strings.Cut(part, "-"); ok {
			start, err1 := strconv.Atoi(strings.TrimSpace(from))
			end, err2 := strconv.Atoi(strings.TrimSpace(to))
			if err1 != nil || err2 != nil || start > end {
				return nil, fmt.Errorf("invalid episode range %q", part)
			}
			for n := start; n <= end; n++ {
				add(strconv.Itoa(n))
			}
			continue
		}
		if _, err := strconv.ParseFloat(part, 64); err != nil {
			return nil, fmt.Errorf("invalid episode number %q", part)
		}
		add(part)
	}

	if len(selected) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoEpisodesSelected, selection)
	}
	return selected, nil
}

func normalizeNumber(n string) string {
	n = strings.TrimSpace(n)
	trimmed := strings.TrimLeft(n, "0")
	if trimmed == "" || strings.HasPrefix(trimmed, ".") {
		return "0" + trimmed
	}
	return trimmed
}

// Run downloads episodes of title one after another. An episode whose links
// cannot be read or fetched is skipped, the next one starting a fresh browser
// if needed. Cancellation ends the batch with the outcomes gathered so far.
func Run(ctx context.Context, src Source, title string, episodes []models.Episode) (*Report, error) {
	report := &Report{}
	for i, ep := range episodes {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		util.Infof("[%d/%d] Processing episode %s", i+1, len(episodes), ep.Number)

		outcome := Outcome{Episode: ep}
		links, err := src.GetDownloadLinks(ctx, ep.Link)
		if err == nil {
			outcome.Result, err = src.Fetch(ctx, links, src.EpisodeRule(title, ep.Number))
		}
		if err != nil {
			outcome.Err = err
			report.Outcomes = append(report.Outcomes, outcome)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return report, ctxErr
			}
			util.Warn("skipping episode", "episode", ep.Number, "err", err)
			continue
		}

		outcome.Path = outcome.Result.Path
		if outcome.Result.Integrity != nil {
			util.Warn("the file does not match the hash announced by the host, consider deleting it", "path", outcome.Path)
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}
	return report, nil
}
