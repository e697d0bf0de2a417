package anidl

import (
	"github.com/alvarorichard/anidl/internal/config"
	"github.com/alvarorichard/anidl/internal/downloader"
	"github.com/alvarorichard/anidl/internal/models"
)

// Public names for the types the client exchanges
type (
	Config       = config.Config
	SearchResult = models.SearchResult
	Episode      = models.Episode
	DownloadLink = models.DownloadLink
	CatalogEntry = models.CatalogEntry
	// FetchResult lists the attempts made and the file retrieved, if any
	FetchResult = downloader.Result
	// NamingRule picks where a resolved download is written
	NamingRule = downloader.NamingRule
	// Reporter receives per-attempt progress
	Reporter = downloader.Reporter
)

// DefaultConfig returns the configuration used when no file exists
func DefaultConfig() *Config {
	return config.Default()
}

// LoadConfig reads a YAML configuration file; a missing file yields defaults
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}
