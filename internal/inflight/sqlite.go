package inflight

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS inflight (
	id         TEXT PRIMARY KEY,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS inflight_expires_at ON inflight (expires_at);
`

// SQLiteStore persists in-flight ids so they survive a bridge restart.
type SQLiteStore struct {
	db       *sql.DB
	ttl      time.Duration
	stopChan chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

// OpenSQLiteStore opens (or creates) the database at path.
func OpenSQLiteStore(path string, ttl time.Duration) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite inflight store: path is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("create inflight dir: %w", err)
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open inflight db: %w", err)
	}
	// The bridge is the only writer; one connection avoids SQLITE_BUSY between
	// the cleanup goroutine and the dispatcher.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create inflight schema: %w", err)
	}

	s := &SQLiteStore{db: db, ttl: ttl, stopChan: make(chan struct{})}
	s.wg.Add(1)
	go s.cleanup()
	return s, nil
}

// MarkInFlight records id with a fresh expiry.
func (s *SQLiteStore) MarkInFlight(id string) error {
	expiresAt := time.Now().Add(s.ttl).UnixMilli()
	_, err := s.db.Exec(
		`INSERT INTO inflight (id, expires_at) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET expires_at = excluded.expires_at`,
		id, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("mark in-flight %q: %w", id, err)
	}
	return nil
}

// IsInFlight reports whether id is tracked and unexpired.
func (s *SQLiteStore) IsInFlight(id string) (bool, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM inflight WHERE id = ? AND expires_at > ?`,
		id, time.Now().UnixMilli(),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check in-flight %q: %w", id, err)
	}
	return n > 0, nil
}

// Clear removes ids.
func (s *SQLiteStore) Clear(ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := s.db.Exec(`DELETE FROM inflight WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("clear in-flight: %w", err)
	}
	return nil
}

// Len returns the number of unexpired ids, or 0 on error.
func (s *SQLiteStore) Len() int {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM inflight WHERE expires_at > ?`, time.Now().UnixMilli()).Scan(&n); err != nil {
		return 0
	}
	return n
}

// Close stops cleanup and closes the database.
func (s *SQLiteStore) Close() error {
	var err error
	s.once.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteStore) cleanup() {
	defer s.wg.Done()

	ticker := time.NewTicker(cleanupInterval(s.ttl))
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			if _, err := s.db.Exec(`DELETE FROM inflight WHERE expires_at <= ?`, time.Now().UnixMilli()); err != nil {
				log.Debug().Err(err).Msg("inflight: cleanup failed")
			}
		}
	}
}

var _ Store = (*SQLiteStore)(nil)
