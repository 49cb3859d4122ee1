package hostio

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/compresr/session-mirror/internal/relay"
)

// Control line types.
const (
	LineRelayEvent    = "relay_event"
	LineClearInFlight = "clear_inflight"
	LineAck           = "ack"
	LineConfigChanged = "config_changed"
	LineShutdown      = "shutdown"
)

const maxLineBytes = 16 << 20

// Bridge is the part of *relay.Bridge the line protocol drives.
type Bridge interface {
	relay.Observer
	relay.Emitter
	Acknowledge(ack relay.Ack)
	Reconnect()
	Shutdown(ctx context.Context, reason string) error
}

type inputLine struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type relayEventPayload struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type clearPayload struct {
	IDs []string `json:"ids"`
}

var lifecycleDecoders = map[relay.EventType]func(json.RawMessage) (relay.Lifecycle, error){
	relay.EventSessionStart:     decodeAs[relay.SessionStart],
	relay.EventSessionSwitch:    decodeAs[relay.SessionSwitch],
	relay.EventSessionCompact:   decodeAs[relay.SessionCompact],
	relay.EventAgentStart:       decodeAs[relay.AgentStart],
	relay.EventAgentEnd:         decodeAs[relay.AgentEnd],
	relay.EventTurnStart:        decodeAs[relay.TurnStart],
	relay.EventTurnEnd:          decodeAs[relay.TurnEnd],
	relay.EventInput:            decodeAs[relay.Input],
	relay.EventBeforeAgentStart: decodeAs[relay.BeforeAgentStart],
	relay.EventToolCall:         decodeAs[relay.ToolCall],
	relay.EventToolResult:       decodeAs[relay.ToolResult],
	relay.EventContext:          decodeAs[relay.ContextSnapshot],
	relay.EventModelSelect:      decodeAs[relay.ModelSelect],
}

func decodeAs[T relay.Lifecycle](raw json.RawMessage) (relay.Lifecycle, error) {
	var v T
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Serve reads runtime lines from r until session_shutdown, EOF or ctx
// cancellation, then shuts the bridge down. Bad lines are logged and skipped.
func Serve(ctx context.Context, r io.Reader, b Bridge) error {
	readCtx, stopReading := context.WithCancel(ctx)
	defer stopReading()

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-readCtx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return b.Shutdown(context.Background(), "interrupted")
		case err := <-readErr:
			if err != nil {
				log.Warn().Err(err).Msg("hostio: input stream failed")
			}
			return b.Shutdown(context.Background(), "input closed")
		case line := <-lines:
			stop, reason := handleLine(b, line)
			if stop {
				return b.Shutdown(ctx, reason)
			}
		}
	}
}

// handleLine applies one line. It returns true with a reason when the
// runtime announced shutdown.
func handleLine(b Bridge, line []byte) (bool, string) {
	if len(strings.TrimSpace(string(line))) == 0 {
		return false, ""
	}
	var in inputLine
	if err := json.Unmarshal(line, &in); err != nil {
		log.Warn().Err(err).Msg("hostio: skipping malformed line")
		return false, ""
	}

	if err := apply(b, in); err != nil {
		if errors.Is(err, errShutdown) {
			var p relay.SessionShutdown
			_ = json.Unmarshal(in.Payload, &p)
			if p.Reason == "" {
				p.Reason = "session ended"
			}
			return true, p.Reason
		}
		log.Warn().Err(err).Str("type", in.Type).Msg("hostio: skipping line")
	}
	return false, ""
}

var errShutdown = errors.New("shutdown requested")

func apply(b Bridge, in inputLine) error {
	switch in.Type {
	case string(relay.EventSessionShutdown), LineShutdown:
		return errShutdown

	case LineRelayEvent:
		var p relayEventPayload
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			return fmt.Errorf("decode relay_event: %w", err)
		}
		if p.Type == "" {
			return errors.New("relay_event without type")
		}
		b.Emit(relay.EventType(p.Type), p.Payload)
		return nil

	case LineClearInFlight:
		var p clearPayload
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			return fmt.Errorf("decode clear_inflight: %w", err)
		}
		b.ClearInFlight(p.IDs...)
		return nil

	case LineAck:
		var ack relay.Ack
		if err := json.Unmarshal(in.Payload, &ack); err != nil {
			return fmt.Errorf("decode ack: %w", err)
		}
		if ack.ID == "" {
			return errors.New("ack without id")
		}
		b.Acknowledge(ack)
		return nil

	case LineConfigChanged:
		b.Reconnect()
		return nil
	}

	decode, ok := lifecycleDecoders[relay.EventType(in.Type)]
	if !ok {
		log.Debug().Str("type", in.Type).Msg("hostio: unknown line type")
		return nil
	}
	ev, err := decode(in.Payload)
	if err != nil {
		return fmt.Errorf("decode %s: %w", in.Type, err)
	}
	b.Observe(ev)
	return nil
}
