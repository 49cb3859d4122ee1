// Relay endpoint configuration and the resolver the bridge polls at connect time.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrNotConfigured is returned by a Resolver when no relay URL is available.
// The bridge treats it as a dormant state rather than a failure.
var ErrNotConfigured = errors.New("relay not configured")

// Query parameters sent on every bridge connection.
const (
	RoleBridge = "bridge"

	queryRole    = "role"
	querySession = "session"
	queryToken   = "token"
)

// RelayConfig identifies the remote relay and this bridge's place in it.
type RelayConfig struct {
	URL        string `yaml:"url"`         // ws(s):// or http(s):// relay endpoint
	Token      string `yaml:"token"`       // Optional auth token
	SessionKey string `yaml:"session_key"` // Groups bridges and viewers of one session
}

// Configured reports whether a relay URL is present.
func (r RelayConfig) Configured() bool {
	return strings.TrimSpace(r.URL) != ""
}

// Validate checks the relay URL scheme when one is configured.
func (r RelayConfig) Validate() error {
	if !r.Configured() {
		return nil
	}
	u, err := url.Parse(strings.TrimSpace(r.URL))
	if err != nil {
		return fmt.Errorf("invalid relay.url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("invalid relay.url scheme %q (must be ws, wss, http or https)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid relay.url: missing host")
	}
	return nil
}

// DialURL builds <url>?role=bridge&session=<key>[&token=<token>].
// Query parameters already present on the URL are preserved.
func (r RelayConfig) DialURL() (string, error) {
	if !r.Configured() {
		return "", ErrNotConfigured
	}
	u, err := url.Parse(strings.TrimSpace(r.URL))
	if err != nil {
		return "", fmt.Errorf("parse relay url: %w", err)
	}
	q := u.Query()
	q.Set(queryRole, RoleBridge)
	q.Set(querySession, r.SessionKey)
	if r.Token != "" {
		q.Set(queryToken, r.Token)
	} else {
		q.Del(queryToken)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Redacted returns the dial URL with the token masked, for logs.
func (r RelayConfig) Redacted() string {
	masked := r
	if masked.Token != "" {
		masked.Token = "REDACTED"
	}
	s, err := masked.DialURL()
	if err != nil {
		return ""
	}
	return s
}

// Resolver supplies relay settings. It is consulted once per connection
// attempt so credential changes are picked up on reconnect.
type Resolver interface {
	Resolve() (RelayConfig, error)
}

// FileResolver re-reads a config file on every Resolve.
type FileResolver struct {
	Path string
}

// Resolve loads the file (or defaults plus env when it is absent).
func (f FileResolver) Resolve() (RelayConfig, error) {
	cfg, err := Load(f.Path)
	if err != nil {
		return RelayConfig{}, err
	}
	if !cfg.Relay.Configured() {
		return RelayConfig{}, ErrNotConfigured
	}
	return cfg.Relay, nil
}

// StaticResolver always returns the same settings.
type StaticResolver RelayConfig

// Resolve returns the fixed settings, or ErrNotConfigured when the URL is empty.
func (s StaticResolver) Resolve() (RelayConfig, error) {
	r := RelayConfig(s)
	if !r.Configured() {
		return RelayConfig{}, ErrNotConfigured
	}
	if r.SessionKey == "" {
		r.SessionKey = DefaultSessionKey
	}
	return r, nil
}
