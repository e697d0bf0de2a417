// Package storage persists learned selector patterns and the catalog cache.
package storage

import (
	"errors"

	"github.com/alvarorichard/anidl/internal/models"
	"github.com/alvarorichard/anidl/internal/util"
)

// ErrStoreNotInited is returned by every method of a nil or closed store
var ErrStoreNotInited = errors.New("store not initialized")

// Store is the persistent store collaborator. Lookups return nil, nil when the
// key is unknown.
type Store interface {
	GetPatternProfile(site string) (*models.SiteSelectorProfile, error)
	PutPatternProfile(site string, profile *models.SiteSelectorProfile) error
	GetCatalogEntry(title string) (*models.CatalogEntry, error)
	PutCatalogEntry(title string, entry *models.CatalogEntry) error
	Close() error
}

// Open returns the sqlite store at path, or an in-memory store when the binary
// was built without cgo.
func Open(path string) (Store, error) {
	if !IsCgoEnabled {
		util.Warn("built without cgo, learned patterns will not survive this run")
		return NewMemoryStore(), nil
	}
	return NewLocalStore(path)
}
