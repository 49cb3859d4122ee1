// Package inflight tracks approved commands that are executing locally.
//
// A command id moves unseen -> in-flight -> (acknowledged | expired). While
// in-flight, redelivery of the same id is suppressed. Clear is the primary
// exit (the host acknowledged the action); the TTL only guards against lost
// acknowledgments, e.g. a crash mid-execution.
//
// Two stores are provided: MemoryStore (default) and SQLiteStore, which keeps
// the set across process restarts so a relay replay after a crash within the
// TTL is still suppressed.
package inflight

import (
	"fmt"
	"time"
)

// DefaultTTL is how long an unacknowledged id blocks redelivery.
const DefaultTTL = 5 * time.Minute

// Store defines the interface for in-flight tracking.
type Store interface {
	// MarkInFlight records id with an expiry of now+TTL.
	MarkInFlight(id string) error

	// IsInFlight reports whether id is tracked and not yet expired.
	IsInFlight(id string) (bool, error)

	// Clear stops tracking the given ids. Unknown ids are ignored.
	Clear(ids ...string) error

	// Len returns the number of unexpired ids.
	Len() int

	// Close releases resources.
	Close() error
}

// cleanupInterval bounds how long expired entries linger in storage.
// Lookups never see them regardless.
func cleanupInterval(ttl time.Duration) time.Duration {
	if ttl < time.Minute {
		return ttl
	}
	return time.Minute
}

// Open returns the store named by kind ("memory" or "sqlite").
func Open(kind, path string, ttl time.Duration) (Store, error) {
	switch kind {
	case "", "memory":
		return NewMemoryStore(ttl), nil
	case "sqlite":
		return OpenSQLiteStore(path, ttl)
	default:
		return nil, fmt.Errorf("unknown in-flight store %q", kind)
	}
}
