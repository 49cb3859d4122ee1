// Package monitoring - metrics.go provides simple counters.
//
// DESIGN: Lightweight in-memory counters for the bridge:
//   - events sent/queued/dropped: Outbound event fates
//   - frames received/ignored:    Inbound traffic and protocol noise
//   - actions/duplicates/prompts: Command dispatch outcomes
//   - connects/disconnects/heartbeat timeouts: Connection churn
package monitoring

import "sync/atomic"

// MetricsCollector collects operational metrics.
type MetricsCollector struct {
	eventsSent        atomic.Int64
	eventsQueued      atomic.Int64
	eventsDropped     atomic.Int64
	framesReceived    atomic.Int64
	framesIgnored     atomic.Int64
	actionsDispatched atomic.Int64
	actionsDuplicate  atomic.Int64
	promptsDelivered  atomic.Int64
	connects          atomic.Int64
	disconnects       atomic.Int64
	heartbeatTimeouts atomic.Int64
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{}
}

// RecordEvent records the fate of an outbound event.
func (mc *MetricsCollector) RecordEvent(status FrameStatus) {
	switch status {
	case FrameSent:
		mc.eventsSent.Add(1)
	case FrameQueued:
		mc.eventsQueued.Add(1)
	case FrameDropped:
		mc.eventsDropped.Add(1)
	}
}

// RecordFrame records an inbound frame; ignored frames are protocol noise.
func (mc *MetricsCollector) RecordFrame(ignored bool) {
	mc.framesReceived.Add(1)
	if ignored {
		mc.framesIgnored.Add(1)
	}
}

// RecordAction records an execute_action outcome.
func (mc *MetricsCollector) RecordAction(duplicate bool) {
	if duplicate {
		mc.actionsDuplicate.Add(1)
		return
	}
	mc.actionsDispatched.Add(1)
}

// RecordPrompt records a delivered user prompt.
func (mc *MetricsCollector) RecordPrompt() { mc.promptsDelivered.Add(1) }

// RecordConnect records a successful open.
func (mc *MetricsCollector) RecordConnect() { mc.connects.Add(1) }

// RecordDisconnect records a close of an open connection.
func (mc *MetricsCollector) RecordDisconnect() { mc.disconnects.Add(1) }

// RecordHeartbeatTimeout records a connection terminated for missing pongs.
func (mc *MetricsCollector) RecordHeartbeatTimeout() { mc.heartbeatTimeouts.Add(1) }

// Stats returns current metrics.
func (mc *MetricsCollector) Stats() map[string]int64 {
	return map[string]int64{
		"events_sent":        mc.eventsSent.Load(),
		"events_queued":      mc.eventsQueued.Load(),
		"events_dropped":     mc.eventsDropped.Load(),
		"frames_received":    mc.framesReceived.Load(),
		"frames_ignored":     mc.framesIgnored.Load(),
		"actions_dispatched": mc.actionsDispatched.Load(),
		"actions_duplicate":  mc.actionsDuplicate.Load(),
		"prompts_delivered":  mc.promptsDelivered.Load(),
		"connects":           mc.connects.Load(),
		"disconnects":        mc.disconnects.Load(),
		"heartbeat_timeouts": mc.heartbeatTimeouts.Load(),
	}
}
