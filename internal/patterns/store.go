// Package patterns remembers, per site, which selector last worked for each
// extraction purpose and re-learns it when the markup drifts.
package patterns

import (
	"fmt"
	"sync"
	"time"

	"github.com/alvarorichard/anidl/internal/models"
	"github.com/alvarorichard/anidl/internal/selector"
	"github.com/alvarorichard/anidl/internal/util"
)

// OverwriteThreshold is the confidence a rescan must exceed to replace an
// existing entry.
const OverwriteThreshold = 0.5

// Backend persists profiles between runs
type Backend interface {
	GetPatternProfile(site string) (*models.SiteSelectorProfile, error)
	PutPatternProfile(site string, profile *models.SiteSelectorProfile) error
}

// Store caches profiles in memory and writes every change through to the
// backend. It is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	backend  Backend
	profiles map[string]*models.SiteSelectorProfile
	now      func() time.Time
}

// New returns a store on top of backend. A nil backend keeps profiles in
// memory only.
func New(backend Backend) *Store {
	return &Store{
		backend:  backend,
		profiles: make(map[string]*models.SiteSelectorProfile),
		now:      time.Now,
	}
}

// profile returns the cached profile of site, loading it on first use.
// Callers hold s.mu.
func (s *Store) profile(site string) *models.SiteSelectorProfile {
	if p, ok := s.profiles[site]; ok {
		return p
	}
	var p *models.SiteSelectorProfile
	if s.backend != nil {
		loaded, err := s.backend.GetPatternProfile(site)
		if err != nil {
			util.Warn("could not load selector profile", "site", site, "err", err)
		}
		p = loaded
	}
	if p == nil {
		p = models.NewSiteSelectorProfile(site)
	}
	if p.Entries == nil {
		p.Entries = make(map[models.Purpose]models.PatternEntry)
	}
	s.profiles[site] = p
	return p
}

// persist writes the profile through. Callers hold s.mu.
func (s *Store) persist(p *models.SiteSelectorProfile) error {
	p.UpdatedAt = s.now()
	if s.backend == nil {
		return nil
	}
	if err := s.backend.PutPatternProfile(p.Site, p.Clone()); err != nil {
		return fmt.Errorf("persist selector profile for %s: %w", p.Site, err)
	}
	return nil
}

// Profile returns a copy of everything known about site
func (s *Store) Profile(site string) *models.SiteSelectorProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile(site).Clone()
}

// Get returns the stored entry for purpose on site
func (s *Store) Get(site string, purpose models.Purpose) (models.PatternEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.profile(site).Entries[purpose]
	return e, ok
}

// Record stores res for site. A new purpose is always stored; an existing
// entry is only overwritten when res is confident enough. The boolean reports
// whether anything was written.
func (s *Store) Record(site string, res selector.Result) (bool, error) {
	if res.Selector == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.profile(site)
	old, exists := p.Entries[res.Purpose]
	if exists && old.Selector == res.Selector && old.Confidence == res.Confidence && old.MatchCount == res.MatchCount {
		return false, nil
	}
	if exists && res.Confidence <= OverwriteThreshold {
		util.Debug("keeping stored selector", "site", site, "purpose", res.Purpose,
			"stored", old.Selector, "candidate", res.Selector, "confidence", res.Confidence)
		return false, nil
	}

	entry := res.Entry()
	entry.UpdatedAt = s.now()
	if exists && old.Selector == res.Selector {
		entry.Hits = old.Hits
	}
	p.Entries[res.Purpose] = entry
	return true, s.persist(p)
}

// Confirm notes that the stored selector for purpose just matched n elements
func (s *Store) Confirm(site string, purpose models.Purpose, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.profile(site)
	e, ok := p.Entries[purpose]
	if !ok {
		return nil
	}
	e.Hits++
	e.MatchCount = n
	e.Confidence = selector.Confidence(n)
	e.UpdatedAt = s.now()
	p.Entries[purpose] = e
	return s.persist(p)
}

// Invalidate forgets the stored selector for purpose
func (s *Store) Invalidate(site string, purpose models.Purpose) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.profile(site)
	if _, ok := p.Entries[purpose]; !ok {
		return nil
	}
	delete(p.Entries, purpose)
	return s.persist(p)
}

// Validate re-checks stored selectors of site against doc and reports whether
// all of them still match. With no purposes given every stored entry is
// checked. Validate never modifies the store.
func (s *Store) Validate(site string, doc selector.Document, purposes ...models.Purpose) (bool, error) {
	stale, err := s.Stale(site, doc, purposes...)
	if err != nil {
		return false, err
	}
	return len(stale) == 0, nil
}

// Stale returns the purposes whose stored selector no longer matches doc
func (s *Store) Stale(site string, doc selector.Document, purposes ...models.Purpose) ([]models.Purpose, error) {
	p := s.Profile(site)
	if len(purposes) == 0 {
		purposes = models.AllPurposes()
	}

	var stale []models.Purpose
	for _, purpose := range purposes {
		e, ok := p.Entries[purpose]
		if !ok {
			continue
		}
		n, err := doc.Count(e.Selector)
		if err != nil {
			return nil, fmt.Errorf("validate %s on %s: %w", purpose, site, err)
		}
		if n == 0 {
			stale = append(stale, purpose)
		}
	}
	return stale, nil
}
