package patterns

import (
	"github.com/alvarorichard/anidl/internal/models"
	"github.com/alvarorichard/anidl/internal/selector"
	"github.com/alvarorichard/anidl/internal/util"
)

// Adapt resolves purpose on doc. The stored selector is tried alone first;
// a stale one is dropped and the full candidate list is scanned, the winner
// being recorded. The boolean is false when nothing matched at all.
func (s *Store) Adapt(site string, purpose models.Purpose, doc selector.Document, candidates []string) (selector.Result, bool, error) {
	if stored, ok := s.Get(site, purpose); ok {
		n, err := doc.Count(stored.Selector)
		if err != nil {
			return selector.Result{}, false, err
		}
		if n > 0 {
			if err := s.Confirm(site, purpose, n); err != nil {
				util.Warn("pattern store", "err", err)
			}
			return selector.Result{
				Purpose:    purpose,
				Selector:   stored.Selector,
				Confidence: selector.Confidence(n),
				MatchCount: n,
			}, true, nil
		}
		util.Debug("stored selector is stale, rescanning", "site", site, "purpose", purpose, "selector", stored.Selector)
		if err := s.Invalidate(site, purpose); err != nil {
			util.Warn("pattern store", "err", err)
		}
	}

	res, ok, err := selector.Resolve(doc, purpose, candidates)
	if err != nil || !ok {
		return res, ok, err
	}
	if _, err := s.Record(site, res); err != nil {
		util.Warn("pattern store", "err", err)
	}
	return res, true, nil
}

// Learn scans doc with the generic strategies and records what it finds. It
// is used the first time a site is seen. With no purposes given every purpose
// is scanned.
func (s *Store) Learn(site string, doc selector.Document, purposes ...models.Purpose) (map[models.Purpose]selector.Result, error) {
	if len(purposes) == 0 {
		purposes = models.AllPurposes()
	}
	found := make(map[models.Purpose]selector.Result)
	for _, purpose := range purposes {
		res, ok, err := selector.Resolve(doc, purpose, selector.Generic(purpose))
		if err != nil {
			return found, err
		}
		if !ok {
			continue
		}
		found[purpose] = res
		if _, err := s.Record(site, res); err != nil {
			util.Warn("pattern store", "err", err)
		}
	}
	util.Debug("learned site structure", "site", site, "purposes", len(found))
	return found, nil
}
