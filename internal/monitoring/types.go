// Package monitoring - types.go defines shared types.
//
// TYPES:
//   - FrameStatus:   Fate of an outbound event (sent, queued, dropped)
//   - JournalEntry:  One line of the frame journal
//   - Config types:  LoggerConfig, JournalConfig, AlertConfig
package monitoring

import (
	"encoding/json"
	"time"
)

// FrameStatus records what happened to an outbound event.
type FrameStatus string

const (
	FrameSent    FrameStatus = "sent"
	FrameQueued  FrameStatus = "queued"
	FrameDropped FrameStatus = "dropped"
)

// JournalEntry is one outbound event as recorded in the journal.
type JournalEntry struct {
	RecordedAt time.Time       `json:"recorded_at"`
	Status     FrameStatus     `json:"status"`
	EventType  string          `json:"event_type"`
	SessionID  string          `json:"session_id,omitempty"`
	Frame      json.RawMessage `json:"frame"`
}

// LoggerConfig contains logging configuration.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
	Output string `yaml:"output"` // stderr, stdout, or file path
}

// JournalConfig contains frame journal configuration.
type JournalConfig struct {
	Path string `yaml:"path"` // empty disables the journal
}

// AlertConfig contains alert thresholds.
type AlertConfig struct {
	// SlowDialThreshold flags handshakes that take longer than this.
	SlowDialThreshold time.Duration `yaml:"slow_dial_threshold"`
}
