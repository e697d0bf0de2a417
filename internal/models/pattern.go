package models

import (
	"fmt"
	"maps"
	"time"
)

// Purpose identifies what an extraction step is looking for on a page
type Purpose int

const (
	PurposeSearchBox Purpose = iota
	PurposeResultItem
	PurposeTitle
	PurposeEpisodeItem
	PurposeDownloadButton
	PurposeServerItem

	purposeCount
)

var purposeNames = [purposeCount]string{
	PurposeSearchBox:      "search-box",
	PurposeResultItem:     "result-item",
	PurposeTitle:          "title",
	PurposeEpisodeItem:    "episode-item",
	PurposeDownloadButton: "download-button",
	PurposeServerItem:     "server-item",
}

func (p Purpose) String() string {
	if p < 0 || p >= purposeCount {
		return fmt.Sprintf("purpose(%d)", int(p))
	}
	return purposeNames[p]
}

// Valid reports whether p is one of the declared purposes
func (p Purpose) Valid() bool {
	return p >= 0 && p < purposeCount
}

// ParsePurpose is the inverse of Purpose.String
func ParsePurpose(s string) (Purpose, error) {
	for i, name := range purposeNames {
		if name == s {
			return Purpose(i), nil
		}
	}
	return 0, fmt.Errorf("unknown extraction purpose %q", s)
}

// AllPurposes lists every purpose in declaration order
func AllPurposes() []Purpose {
	out := make([]Purpose, 0, purposeCount)
	for p := Purpose(0); p < purposeCount; p++ {
		out = append(out, p)
	}
	return out
}

// PatternEntry is the last selector that worked for one purpose on one site
type PatternEntry struct {
	Selector   string    `json:"selector"`
	Confidence float64   `json:"confidence"`
	MatchCount int       `json:"match_count"`
	Hits       int       `json:"hits"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SiteSelectorProfile holds every learned pattern for a site domain
type SiteSelectorProfile struct {
	Site      string                   `json:"site"`
	Entries   map[Purpose]PatternEntry `json:"entries"`
	UpdatedAt time.Time                `json:"updated_at"`
}

// NewSiteSelectorProfile returns an empty profile for site
func NewSiteSelectorProfile(site string) *SiteSelectorProfile {
	return &SiteSelectorProfile{
		Site:    site,
		Entries: make(map[Purpose]PatternEntry),
	}
}

// Clone returns a deep copy so callers cannot mutate a stored profile
func (p *SiteSelectorProfile) Clone() *SiteSelectorProfile {
	if p == nil {
		return nil
	}
	c := *p
	c.Entries = maps.Clone(p.Entries)
	if c.Entries == nil {
		c.Entries = make(map[Purpose]PatternEntry)
	}
	return &c
}
