package relay

import (
	"context"
	"time"
)

// The heartbeat is a liveness probe for half-open connections: every
// interval, a connection that has not answered since the previous tick is
// terminated (which schedules a reconnect); otherwise it is marked
// unanswered and pinged. Any pong or inbound frame marks it alive again.

func (b *Bridge) startHeartbeat(gen uint64) {
	b.stopHeartbeat()

	stop := make(chan struct{})
	b.hbStop = stop
	interval := b.cfg.HeartbeatInterval

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if !b.post(func() { b.onHeartbeat(gen) }) {
					return
				}
			}
		}
	}()
}

func (b *Bridge) stopHeartbeat() {
	if b.hbStop != nil {
		close(b.hbStop)
		b.hbStop = nil
	}
}

func (b *Bridge) onHeartbeat(gen uint64) {
	if gen != b.gen || b.conn == nil {
		return
	}
	if !b.alive {
		b.metrics.RecordHeartbeatTimeout()
		b.alerts.FlagHeartbeatTimeout(b.connID, b.cfg.HeartbeatInterval)
		b.handleClose(gen, errHeartbeatTimeout)
		return
	}

	b.alive = false
	conn, ctx, interval := b.conn, b.connCtx, b.cfg.HeartbeatInterval
	go func() {
		pingCtx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()
		if err := conn.Ping(pingCtx); err != nil {
			return
		}
		b.post(func() {
			if gen == b.gen && b.conn != nil {
				b.alive = true
			}
		})
	}()
}
