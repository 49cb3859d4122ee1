package inflight

import (
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of Store.
type MemoryStore struct {
	ids      map[string]time.Time // id -> expiry
	mu       sync.RWMutex
	ttl      time.Duration
	stopChan chan struct{}
	stopped  bool
}

// NewMemoryStore creates a store whose entries expire after ttl.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &MemoryStore{
		ids:      make(map[string]time.Time),
		ttl:      ttl,
		stopChan: make(chan struct{}),
	}

	go s.cleanup()

	return s
}

// MarkInFlight records id until Clear or expiry. Re-marking refreshes the expiry.
func (s *MemoryStore) MarkInFlight(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}

	s.ids[id] = time.Now().Add(s.ttl)
	return nil
}

// IsInFlight reports whether id is tracked and unexpired.
func (s *MemoryStore) IsInFlight(id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expiresAt, exists := s.ids[id]
	if !exists {
		return false, nil
	}
	return time.Now().Before(expiresAt), nil
}

// Clear removes ids immediately.
func (s *MemoryStore) Clear(ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		delete(s.ids, id)
	}
	return nil
}

// Len returns the number of unexpired ids.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	n := 0
	for _, expiresAt := range s.ids {
		if now.Before(expiresAt) {
			n++
		}
	}
	return n
}

// Close stops the cleanup goroutine and clears data.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.stopped {
		s.stopped = true
		close(s.stopChan)
		s.ids = make(map[string]time.Time)
	}
	return nil
}

// cleanup periodically removes expired entries.
func (s *MemoryStore) cleanup() {
	ticker := time.NewTicker(cleanupInterval(s.ttl))
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.mu.Lock()
			if !s.stopped {
				now := time.Now()
				for id, expiresAt := range s.ids {
					if !now.Before(expiresAt) {
						delete(s.ids, id)
					}
				}
			}
			s.mu.Unlock()
		}
	}
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)
