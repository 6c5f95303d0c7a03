package sqlite

import (
	"errors"
	"sync"

	"github.com/petalstack/florae/pkg/types"
)

// StoreManager manages per-identity GroupStore instances with caching.
// One process holds one manager; that is what makes each store single-writer.
type StoreManager struct {
	basePath string
	stores   map[types.AccountID]*GroupStore
	mu       sync.RWMutex
}

// NewStoreManager creates a new StoreManager rooted at basePath.
func NewStoreManager(basePath string) *StoreManager {
	return &StoreManager{
		basePath: basePath,
		stores:   make(map[types.AccountID]*GroupStore),
	}
}

// GetStore returns the store for the given identity, opening it on first
// use. Stores are cached and reused.
func (m *StoreManager) GetStore(accountID types.AccountID) (*GroupStore, error) {
	m.mu.RLock()
	if store, ok := m.stores[accountID]; ok {
		m.mu.RUnlock()
		return store, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if store, ok := m.stores[accountID]; ok {
		return store, nil
	}

	store, err := OpenGroupStore(m.basePath, accountID)
	if err != nil {
		return nil, err
	}

	m.stores[accountID] = store
	return store, nil
}

// CloseAll closes all cached stores.
func (m *StoreManager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, store := range m.stores {
		if err := store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.stores = make(map[types.AccountID]*GroupStore)
	return errors.Join(errs...)
}

// BasePath returns the root directory for identity stores.
func (m *StoreManager) BasePath() string {
	return m.basePath
}
