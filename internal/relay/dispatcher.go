package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/sjson"

	"github.com/compresr/session-mirror/internal/inflight"
	"github.com/compresr/session-mirror/internal/monitoring"
)

// Outcome is what the dispatcher did with one inbound frame.
type Outcome string

const (
	OutcomeIgnored    Outcome = "ignored"    // malformed or unknown frame
	OutcomeNoop       Outcome = "noop"       // action without agentCommand, or blank prompt
	OutcomeDuplicate  Outcome = "duplicate"  // action id already in-flight
	OutcomeDispatched Outcome = "dispatched" // action handed to the host
	OutcomePrompted   Outcome = "prompted"   // user prompt handed to the host
	OutcomeFailed     Outcome = "failed"     // tracker or host error
)

// Dispatcher routes relay messages to the host, executing each approved
// action id at most once while it is in-flight.
type Dispatcher struct {
	host    Host
	tracker inflight.Store
	metrics *monitoring.MetricsCollector
	ackTool string
}

// NewDispatcher creates a dispatcher. ackTool names the operation the agent
// is told to call when an action completes.
func NewDispatcher(host Host, tracker inflight.Store, metrics *monitoring.MetricsCollector, ackTool string) *Dispatcher {
	if metrics == nil {
		metrics = monitoring.NewMetricsCollector()
	}
	if ackTool == "" {
		ackTool = "relay_ack"
	}
	return &Dispatcher{host: host, tracker: tracker, metrics: metrics, ackTool: ackTool}
}

// Handle parses and routes one frame. Protocol noise is dropped silently.
func (d *Dispatcher) Handle(ctx context.Context, data []byte) Outcome {
	msg, err := ParseInbound(data)
	if err != nil {
		d.metrics.RecordFrame(true)
		if !errors.Is(err, ErrUnknownMessage) {
			log.Debug().Err(err).Int("bytes", len(data)).Msg("relay: ignoring frame")
		}
		return OutcomeIgnored
	}
	d.metrics.RecordFrame(false)

	switch m := msg.(type) {
	case ExecuteAction:
		return d.handleAction(ctx, m)
	case UserPrompt:
		return d.handlePrompt(ctx, m)
	}
	return OutcomeIgnored
}

func (d *Dispatcher) handleAction(ctx context.Context, action ExecuteAction) Outcome {
	if action.Command == nil {
		return OutcomeNoop
	}

	busy, err := d.tracker.IsInFlight(action.ID)
	if err != nil {
		// Without a reliable answer, dropping is the only at-most-once choice.
		log.Error().Err(err).Str("step_id", action.ID).Msg("relay: in-flight lookup failed, dropping action")
		return OutcomeFailed
	}
	if busy {
		d.metrics.RecordAction(true)
		log.Debug().Str("step_id", action.ID).Msg("relay: duplicate action suppressed")
		return OutcomeDuplicate
	}
	if err := d.tracker.MarkInFlight(action.ID); err != nil {
		log.Error().Err(err).Str("step_id", action.ID).Msg("relay: mark in-flight failed, dropping action")
		return OutcomeFailed
	}

	directive, err := d.buildDirective(action)
	if err != nil {
		_ = d.tracker.Clear(action.ID)
		log.Warn().Err(err).Str("step_id", action.ID).Msg("relay: cannot build directive")
		return OutcomeFailed
	}
	if err := d.host.Inject(ctx, directive); err != nil {
		// Nothing ran, so a redelivery may try again.
		_ = d.tracker.Clear(action.ID)
		log.Warn().Err(err).Str("step_id", action.ID).Msg("relay: host rejected action")
		return OutcomeFailed
	}

	d.metrics.RecordAction(false)
	log.Info().
		Str("step_id", action.ID).
		Str("title", action.Title).
		Str("tool", directive.Tool).
		Msg("relay: action dispatched")
	return OutcomeDispatched
}

func (d *Dispatcher) handlePrompt(ctx context.Context, prompt UserPrompt) Outcome {
	text := strings.TrimSpace(prompt.Text)
	if text == "" {
		return OutcomeNoop
	}
	if err := d.host.Inject(ctx, Directive{Kind: DirectivePrompt, Text: text}); err != nil {
		log.Warn().Err(err).Msg("relay: host rejected prompt")
		return OutcomeFailed
	}
	d.metrics.RecordPrompt()
	return OutcomePrompted
}

func (d *Dispatcher) buildDirective(action ExecuteAction) (Directive, error) {
	dir := Directive{Kind: DirectiveAction, StepID: action.ID, Title: action.Title}

	var body strings.Builder
	fmt.Fprintf(&body, "[Approved action: %s] (id: %s)\n", displayTitle(action), action.ID)

	toolName := ""
	switch cmd := action.Command.(type) {
	case PromptCommand:
		body.WriteString(cmd.Prompt)
		body.WriteString("\n")
	case ToolCommand:
		args := []byte(cmd.Args)
		if d.host.RequiresConfirmation(cmd.Tool) {
			var err error
			if args, err = sjson.SetBytes(args, "confirmed", true); err != nil {
				return Directive{}, fmt.Errorf("set confirmed flag: %w", err)
			}
		}
		dir.Tool = cmd.Tool
		dir.Args = json.RawMessage(args)
		toolName = cmd.Tool
		fmt.Fprintf(&body, "Call the `%s` tool with these arguments:\n%s\n", cmd.Tool, args)
	}

	if note := strings.TrimSpace(action.UserResponse); note != "" {
		fmt.Fprintf(&body, "User note: %s\n", note)
	}

	instructions, err := d.ackInstructions(action.ID, toolName)
	if err != nil {
		return Directive{}, err
	}
	body.WriteString("\n")
	body.WriteString(instructions)

	dir.Text = body.String()
	return dir, nil
}

// ackInstructions tells the agent how to report completion.
func (d *Dispatcher) ackInstructions(id, toolName string) (string, error) {
	example, err := json.Marshal(map[string]any{
		"id": id,
		"result": map[string]string{
			"status":   "success|error",
			"summary":  "<one line describing what happened>",
			"toolName": toolName,
		},
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("When the action has run (whether it succeeded or failed), call `%s` with:\n%s\n", d.ackTool, example), nil
}

func displayTitle(a ExecuteAction) string {
	if a.Title != "" {
		return a.Title
	}
	if a.Type != "" {
		return a.Type
	}
	return "untitled"
}
