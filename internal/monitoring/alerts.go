// Package monitoring - alerts.go flags connection anomalies.
//
// DESIGN: AlertManager logs notable events at appropriate levels:
//   - FlagDialFailure:      Warn on the first failure of a streak, debug after
//   - FlagSlowDial:         Warn when a handshake exceeds threshold
//   - FlagHeartbeatTimeout: Warn when the relay stopped answering pings
//   - FlagQueueOverflow:    Warn once per disconnect when events start dropping
package monitoring

import "time"

// AlertManager flags anomalies and errors.
type AlertManager struct {
	logger            *Logger
	slowDialThreshold time.Duration
}

// NewAlertManager creates a new alert manager.
func NewAlertManager(logger *Logger, cfg AlertConfig) *AlertManager {
	threshold := cfg.SlowDialThreshold
	if threshold == 0 {
		threshold = 5 * time.Second
	}
	return &AlertManager{logger: logger, slowDialThreshold: threshold}
}

// FlagDialFailure logs a failed connection attempt. Repeated failures are
// expected while the relay is down, so only the first is a warning.
func (am *AlertManager) FlagDialFailure(attempt int, retryIn time.Duration, err error) {
	ev := am.logger.Debug()
	if attempt == 0 {
		ev = am.logger.Warn()
	}
	ev.Err(err).
		Int("attempt", attempt).
		Dur("retry_in", retryIn).
		Msg("relay_unreachable")
}

// FlagSlowDial logs when a handshake exceeded the threshold.
func (am *AlertManager) FlagSlowDial(connID string, took time.Duration) {
	if took < am.slowDialThreshold {
		return
	}
	am.logger.Warn().
		Str("conn_id", connID).
		Dur("took", took).
		Msg("slow_dial")
}

// FlagHeartbeatTimeout logs a connection terminated for missing pongs.
func (am *AlertManager) FlagHeartbeatTimeout(connID string, interval time.Duration) {
	am.logger.Warn().
		Str("conn_id", connID).
		Dur("interval", interval).
		Msg("heartbeat_timeout")
}

// FlagQueueOverflow logs the first dropped event of a disconnect.
func (am *AlertManager) FlagQueueOverflow(capacity int, eventType string) {
	am.logger.Warn().
		Int("capacity", capacity).
		Str("event_type", eventType).
		Msg("queue_full_dropping_events")
}
