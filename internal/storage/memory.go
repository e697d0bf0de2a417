package storage

import (
	"sync"

	"github.com/alvarorichard/anidl/internal/models"
	"github.com/alvarorichard/anidl/internal/util"
)

// MemoryStore keeps everything in maps. It is used in tests and when sqlite
// is unavailable.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*models.SiteSelectorProfile
	catalog  map[string]*models.CatalogEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles: make(map[string]*models.SiteSelectorProfile),
		catalog:  make(map[string]*models.CatalogEntry),
	}
}

func (m *MemoryStore) GetPatternProfile(site string) (*models.SiteSelectorProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.profiles[site].Clone(), nil
}

func (m *MemoryStore) PutPatternProfile(site string, profile *models.SiteSelectorProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[site] = profile.Clone()
	return nil
}

func (m *MemoryStore) GetCatalogEntry(title string) (*models.CatalogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.catalog[util.NormalizeTitle(title)]
	if !ok {
		return nil, nil
	}
	c := *e
	c.Episodes = append([]models.Episode(nil), e.Episodes...)
	return &c, nil
}

func (m *MemoryStore) PutCatalogEntry(title string, entry *models.CatalogEntry) error {
	if entry == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *entry
	c.Episodes = append([]models.Episode(nil), entry.Episodes...)
	m.catalog[util.NormalizeTitle(title)] = &c
	return nil
}

func (m *MemoryStore) Close() error { return nil }
