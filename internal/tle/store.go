package tle

import (
	"sync"
	"sync/atomic"
	"time"
)

// Store holds the catalog the workers propagate. Reads never block;
// reloads run one at a time.
type Store struct {
	current  atomic.Pointer[TLEDataset]
	reloadMu sync.Mutex
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{}
}

// Get returns the current catalog, or nil before the first load.
func (s *Store) Get() *TLEDataset {
	return s.current.Load()
}

// Set replaces the current catalog.
func (s *Store) Set(ds *TLEDataset) {
	s.current.Store(ds)
}

// Reload replaces the catalog with the one returned by load. On error the
// current catalog stays in place.
func (s *Store) Reload(load func() (*TLEDataset, error)) (*TLEDataset, error) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	ds, err := load()
	if err != nil {
		return nil, err
	}
	s.current.Store(ds)
	return ds, nil
}

// Age reports how long before now the current catalog was fetched.
func (s *Store) Age(now time.Time) (time.Duration, bool) {
	ds := s.current.Load()
	if ds == nil {
		return 0, false
	}
	return now.Sub(ds.FetchedAt), true
}
