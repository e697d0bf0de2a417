// Package models contains the data structures shared by extractors, the pattern store and the dispatcher
package models

import (
	"strconv"
	"strings"
	"time"
)

// UnknownEpisode marks an episode whose number could not be parsed from the page
const UnknownEpisode = "Unknown"

// SearchResult is one catalog entry found by a search
type SearchResult struct {
	Title string `json:"title"`
	Link  string `json:"link"`
}

// Episode represents a single episode link of a catalog entry
type Episode struct {
	Number string `json:"number"`
	Link   string `json:"link"`
}

// Numeric returns the episode number as an int. The second value is false for
// sentinel or otherwise non-numeric numbers.
func (e Episode) Numeric() (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(e.Number))
	if err != nil {
		return 0, false
	}
	return n, true
}

// CatalogEntry is the cached metadata of a title whose episodes were listed
type CatalogEntry struct {
	Title     string    `json:"title"`
	Link      string    `json:"link"`
	Site      string    `json:"site"`
	Episodes  []Episode `json:"episodes"`
	UpdatedAt time.Time `json:"updated_at"`
}
