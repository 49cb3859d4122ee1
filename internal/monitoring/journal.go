// Package monitoring - journal.go records outbound frames to a JSONL file.
//
// DESIGN: Journal appends one JournalEntry per outbound event with its fate
// (sent, queued, dropped). Queued events appear twice: once when buffered and
// once when flushed. Entries are appended immediately for real-time tailing.
package monitoring

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Journal handles frame recording to a JSONL file. A nil or disabled
// Journal is safe to use and records nothing.
type Journal struct {
	path    string
	entries int
	mu      sync.Mutex
}

// NewJournal creates a journal. An empty path disables it.
func NewJournal(cfg JournalConfig) (*Journal, error) {
	j := &Journal{}
	if cfg.Path == "" {
		return j, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0750); err != nil {
		return nil, err
	}
	if _, err := os.Stat(cfg.Path); os.IsNotExist(err) {
		if f, err := os.Create(cfg.Path); err == nil {
			f.Close()
		}
	}
	j.path = cfg.Path
	return j, nil
}

// appendJSONL appends a single JSON object as a line to the file.
func appendJSONL(path string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(data)
	return err
}

// Enabled reports whether entries are written anywhere.
func (j *Journal) Enabled() bool {
	return j != nil && j.path != ""
}

// Record appends an outbound frame with its status.
func (j *Journal) Record(status FrameStatus, eventType, sessionID string, frame []byte) {
	if !j.Enabled() {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	entry := JournalEntry{
		RecordedAt: time.Now(),
		Status:     status,
		EventType:  eventType,
		SessionID:  sessionID,
		Frame:      json.RawMessage(frame),
	}
	if err := appendJSONL(j.path, entry); err != nil {
		log.Error().Err(err).Str("path", j.path).Msg("journal: failed to write frame")
		return
	}
	j.entries++
}

// Close logs a summary of the session's journal.
func (j *Journal) Close() error {
	if !j.Enabled() {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.entries > 0 {
		log.Info().
			Str("path", j.path).
			Int("entries", j.entries).
			Msg("journal: session complete")
	}
	return nil
}
