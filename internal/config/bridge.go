// Bridge tunables and their defaults.
package config

import (
	"fmt"
	"time"
)

// Defaults for every bridge tunable. The relay expects pings roughly every
// 30s; the remaining values bound buffering and reconnect latency.
const (
	DefaultSessionKey        = "default"
	DefaultQueueCapacity     = 200
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultInFlightTTL       = 5 * time.Minute
	DefaultBackoffBase       = 1 * time.Second
	DefaultBackoffMax        = 30 * time.Second
	DefaultBackoffJitter     = 0.3
	DefaultShutdownGrace     = 200 * time.Millisecond
	DefaultDialTimeout       = 10 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultReadLimit         = 1 << 20
	DefaultAckTool           = "relay_ack"
)

// In-flight store types.
const (
	InFlightMemory = "memory"
	InFlightSQLite = "sqlite"
)

// BridgeConfig controls the connection manager, queue and dispatcher.
type BridgeConfig struct {
	QueueCapacity     int           `yaml:"queue_capacity"`     // Max events buffered while disconnected
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"` // Ping cadence
	InFlightTTL       time.Duration `yaml:"inflight_ttl"`       // Safety-net expiry for unacknowledged commands
	Backoff           BackoffConfig `yaml:"backoff"`            // Reconnect delay policy
	ShutdownGrace     time.Duration `yaml:"shutdown_grace"`     // Wait before closing on shutdown
	DialTimeout       time.Duration `yaml:"dial_timeout"`       // Handshake deadline
	WriteTimeout      time.Duration `yaml:"write_timeout"`      // Per-frame write deadline
	ReadLimit         int64         `yaml:"read_limit"`         // Max inbound frame size in bytes
	ConfirmTools      []string      `yaml:"confirm_tools"`      // Tools that normally prompt for confirmation
	AckTool           string        `yaml:"ack_tool"`           // Operation the agent calls to acknowledge an action
}

// BackoffConfig is min(base*2^attempt, max) perturbed by ±jitter.
type BackoffConfig struct {
	Base   time.Duration `yaml:"base"`
	Max    time.Duration `yaml:"max"`
	Jitter float64       `yaml:"jitter"`
}

// InFlightConfig selects where in-flight command ids are tracked.
type InFlightConfig struct {
	Type string `yaml:"type"` // memory (default) or sqlite
	Path string `yaml:"path"` // sqlite database file
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		Relay: RelayConfig{SessionKey: DefaultSessionKey},
		Bridge: BridgeConfig{
			QueueCapacity:     DefaultQueueCapacity,
			HeartbeatInterval: DefaultHeartbeatInterval,
			InFlightTTL:       DefaultInFlightTTL,
			Backoff: BackoffConfig{
				Base:   DefaultBackoffBase,
				Max:    DefaultBackoffMax,
				Jitter: DefaultBackoffJitter,
			},
			ShutdownGrace: DefaultShutdownGrace,
			DialTimeout:   DefaultDialTimeout,
			WriteTimeout:  DefaultWriteTimeout,
			ReadLimit:     DefaultReadLimit,
			AckTool:       DefaultAckTool,
		},
		InFlight: InFlightConfig{Type: InFlightMemory},
	}
}

// WithDefaults fills zero values from DefaultConfig.
// Jitter is only defaulted when the whole backoff block is empty, so an
// explicit jitter of 0 survives.
func WithDefaults(cfg Config) Config {
	d := DefaultConfig()

	if cfg.Relay.SessionKey == "" {
		cfg.Relay.SessionKey = d.Relay.SessionKey
	}

	b := &cfg.Bridge
	if b.QueueCapacity == 0 {
		b.QueueCapacity = d.Bridge.QueueCapacity
	}
	if b.HeartbeatInterval == 0 {
		b.HeartbeatInterval = d.Bridge.HeartbeatInterval
	}
	if b.InFlightTTL == 0 {
		b.InFlightTTL = d.Bridge.InFlightTTL
	}
	if b.Backoff == (BackoffConfig{}) {
		b.Backoff = d.Bridge.Backoff
	}
	if b.Backoff.Base == 0 {
		b.Backoff.Base = d.Bridge.Backoff.Base
	}
	if b.Backoff.Max == 0 {
		b.Backoff.Max = d.Bridge.Backoff.Max
	}
	if b.ShutdownGrace == 0 {
		b.ShutdownGrace = d.Bridge.ShutdownGrace
	}
	if b.DialTimeout == 0 {
		b.DialTimeout = d.Bridge.DialTimeout
	}
	if b.WriteTimeout == 0 {
		b.WriteTimeout = d.Bridge.WriteTimeout
	}
	if b.ReadLimit == 0 {
		b.ReadLimit = d.Bridge.ReadLimit
	}
	if b.AckTool == "" {
		b.AckTool = d.Bridge.AckTool
	}

	if cfg.InFlight.Type == "" {
		cfg.InFlight.Type = d.InFlight.Type
	}
	return cfg
}

// Validate checks bridge tunables.
func (b BridgeConfig) Validate() error {
	if b.QueueCapacity < 1 {
		return fmt.Errorf("bridge.queue_capacity must be >= 1, got %d", b.QueueCapacity)
	}
	if b.HeartbeatInterval <= 0 {
		return fmt.Errorf("bridge.heartbeat_interval must be positive")
	}
	if b.InFlightTTL <= 0 {
		return fmt.Errorf("bridge.inflight_ttl must be positive")
	}
	if b.Backoff.Base <= 0 || b.Backoff.Max <= 0 {
		return fmt.Errorf("bridge.backoff.base and bridge.backoff.max must be positive")
	}
	if b.Backoff.Max < b.Backoff.Base {
		return fmt.Errorf("bridge.backoff.max (%s) must be >= bridge.backoff.base (%s)", b.Backoff.Max, b.Backoff.Base)
	}
	if b.Backoff.Jitter < 0 || b.Backoff.Jitter >= 1 {
		return fmt.Errorf("bridge.backoff.jitter must be in [0, 1), got %v", b.Backoff.Jitter)
	}
	if b.ShutdownGrace < 0 || b.DialTimeout <= 0 || b.WriteTimeout <= 0 {
		return fmt.Errorf("bridge timeouts must be positive")
	}
	if b.ReadLimit <= 0 {
		return fmt.Errorf("bridge.read_limit must be positive")
	}
	return nil
}

// Validate checks the in-flight store selection.
func (f InFlightConfig) Validate() error {
	switch f.Type {
	case InFlightMemory:
		return nil
	case InFlightSQLite:
		if f.Path == "" {
			return fmt.Errorf("inflight.path is required for sqlite store")
		}
		return nil
	default:
		return fmt.Errorf("unknown inflight.type %q (must be memory or sqlite)", f.Type)
	}
}
