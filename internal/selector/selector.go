// Package selector resolves an extraction purpose to the first candidate CSS
// selector that matches the current page.
package selector

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/alvarorichard/anidl/internal/models"
	"github.com/alvarorichard/anidl/internal/util"
)

// ErrSelectorNotFound reports that no candidate matched any element
var ErrSelectorNotFound = errors.New("no selector strategy matched")

// Document is a page that selectors can be evaluated against. Implementations
// return an error only when the page itself can no longer be read.
type Document interface {
	Count(selector string) (int, error)
}

// Snapshot is a parsed copy of a page taken after it settled.
type Snapshot struct {
	Doc *goquery.Document
}

// NewSnapshot wraps an already parsed document
func NewSnapshot(doc *goquery.Document) *Snapshot {
	return &Snapshot{Doc: doc}
}

// Parse builds a snapshot from raw HTML
func Parse(r io.Reader) (*Snapshot, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}
	return &Snapshot{Doc: doc}, nil
}

// ParseString is Parse for an in-memory page
func ParseString(html string) (*Snapshot, error) {
	return Parse(strings.NewReader(html))
}

// Count returns the number of elements matching selector. An invalid selector
// matches nothing.
func (s *Snapshot) Count(selector string) (int, error) {
	if s == nil || s.Doc == nil {
		return 0, errors.New("empty snapshot")
	}
	return s.Doc.Find(selector).Length(), nil
}

// Scope evaluates selectors inside one element, e.g. the title within a
// result card.
type Scope struct {
	*goquery.Selection
}

func (s Scope) Count(selector string) (int, error) {
	if s.Selection == nil {
		return 0, errors.New("empty scope")
	}
	return s.Find(selector).Length(), nil
}

// Result is the winning strategy for one purpose
type Result struct {
	Purpose    models.Purpose
	Selector   string
	Confidence float64
	MatchCount int
}

// Entry converts the result into a storable pattern entry
func (r Result) Entry() models.PatternEntry {
	return models.PatternEntry{
		Selector:   r.Selector,
		Confidence: r.Confidence,
		MatchCount: r.MatchCount,
	}
}

// Confidence maps a match count to [0.5, 0.95]: finding anything at all
// matters more than finding many.
func Confidence(count int) float64 {
	if count <= 0 {
		return 0
	}
	return min(float64(count)/5+0.5, 0.95)
}

// Resolve tries candidates in order and returns the first one with at least
// one match. There is no scoring across candidates. The boolean is false when
// nothing matched; the error is non-nil only when the document failed.
func Resolve(doc Document, purpose models.Purpose, candidates []string) (Result, bool, error) {
	for _, sel := range candidates {
		if strings.TrimSpace(sel) == "" {
			continue
		}
		n, err := doc.Count(sel)
		if err != nil {
			return Result{}, false, fmt.Errorf("evaluate %q for %s: %w", sel, purpose, err)
		}
		if n == 0 {
			util.Debug("selector miss", "purpose", purpose, "selector", sel)
			continue
		}
		return Result{
			Purpose:    purpose,
			Selector:   sel,
			Confidence: Confidence(n),
			MatchCount: n,
		}, true, nil
	}
	return Result{}, false, nil
}

// Merge returns the site-specific candidates followed by the generic ones,
// without duplicates and keeping the first occurrence.
func Merge(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, sel := range list {
			if _, ok := seen[sel]; ok {
				continue
			}
			seen[sel] = struct{}{}
			out = append(out, sel)
		}
	}
	return out
}
