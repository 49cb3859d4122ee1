// Package relay mirrors a local agent session to a remote relay and executes
// commands the relay forwards back.
//
// FLOW:
//
//	Host lifecycle --Observe/Emit--> Bridge --queue while down--> WebSocket --> relay
//	relay --> WebSocket --> Dispatcher --in-flight check--> Host.Inject
//	Host --Acknowledge/ClearInFlight--> Bridge --> relay
//
// All mutable state (socket, timers, queue, attempt counter) is owned by one
// actor goroutine, Bridge.Run. Everything else talks to it through its mailbox.
package relay

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType tags the local lifecycle moment an event describes.
type EventType string

const (
	EventSessionStart     EventType = "session_start"
	EventSessionShutdown  EventType = "session_shutdown"
	EventSessionSwitch    EventType = "session_switch"
	EventSessionCompact   EventType = "session_compact"
	EventAgentStart       EventType = "agent_start"
	EventAgentEnd         EventType = "agent_end"
	EventTurnStart        EventType = "turn_start"
	EventTurnEnd          EventType = "turn_end"
	EventInput            EventType = "input"
	EventBeforeAgentStart EventType = "before_agent_start"
	EventToolCall         EventType = "tool_call"
	EventToolResult       EventType = "tool_result"
	EventContext          EventType = "context"
	EventModelSelect      EventType = "model_select"

	// EventActionResult carries an acknowledgment back to the relay.
	EventActionResult EventType = "action_result"
)

// MirrorEvent is one outbound frame. The wire form is computed once at
// construction, so a queued event cannot change after it was emitted.
type MirrorEvent struct {
	Type      EventType
	Timestamp int64 // ms since epoch
	SessionID string
	frame     []byte
}

type wireEvent struct {
	Type      EventType      `json:"type"`
	Timestamp int64          `json:"timestamp"`
	SessionID string         `json:"sessionId,omitempty"`
	Payload   map[string]any `json:"payload"`
}

// NewMirrorEvent stamps and encodes an event. A nil payload is sent as {}.
func NewMirrorEvent(eventType EventType, at time.Time, sessionID string, payload map[string]any) (MirrorEvent, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	ts := at.UnixMilli()
	frame, err := json.Marshal(wireEvent{
		Type:      eventType,
		Timestamp: ts,
		SessionID: sessionID,
		Payload:   payload,
	})
	if err != nil {
		return MirrorEvent{}, fmt.Errorf("encode %s event: %w", eventType, err)
	}
	return MirrorEvent{Type: eventType, Timestamp: ts, SessionID: sessionID, frame: frame}, nil
}

// Frame returns the JSON wire form. Callers must not modify it.
func (e MirrorEvent) Frame() []byte {
	return e.frame
}
