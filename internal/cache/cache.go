// Package cache holds short-lived report projections so repeated dashboard
// reads skip recomputing over the whole ledger.
package cache

import (
	"log/slog"
	"sync"
	"time"
)

// Cache defines a generic cache interface
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, data T)
	Delete(key string)
	// Purge drops every entry.
	Purge()
	Size() int
}

// Cleaner is a cache whose expired entries can be swept.
type Cleaner interface {
	CleanExpired() int
	Purge()
}

// Manager sweeps registered caches periodically and purges them all when the
// underlying data changes.
type Manager struct {
	mu          sync.Mutex
	caches      []Cleaner
	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

func NewManager() *Manager {
	return &Manager{}
}

// Register adds a cache to the manager
func (m *Manager) Register(c Cleaner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.caches = append(m.caches, c)
}

// PurgeAll empties every registered cache. The registry calls it after each
// committed mutation.
func (m *Manager) PurgeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.caches {
		c.Purge()
	}
}

// StartCleanup begins periodic cleanup of all registered caches
func (m *Manager) StartCleanup(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopCleanup != nil {
		return
	}
	m.stopCleanup = make(chan struct{})
	m.cleanupDone = make(chan struct{})
	go m.cleanup(interval, m.stopCleanup, m.cleanupDone)
}

func (m *Manager) cleanup(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			cleaned := 0
			for _, c := range m.caches {
				cleaned += c.CleanExpired()
			}
			m.mu.Unlock()
			if cleaned > 0 {
				slog.Debug("Expired cache entries removed", "component", "cache", "count", cleaned)
			}
		case <-stop:
			return
		}
	}
}

// Stop gracefully stops the cleanup routine
func (m *Manager) Stop() {
	m.mu.Lock()
	stop, done := m.stopCleanup, m.cleanupDone
	m.stopCleanup, m.cleanupDone = nil, nil
	m.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}
}
