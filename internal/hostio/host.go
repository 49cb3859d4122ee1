// Package hostio connects the bridge to a local agent runtime over JSON lines.
//
// DESIGN: The agent runtime (an extension, a hook script) writes one JSON
// object per line to the bridge's stdin and reads one per line from its
// stdout. This keeps the bridge usable from any runtime without linking it in.
//
// Inbound lines (runtime -> bridge):
//
//	{"type":"<lifecycle event>", "payload":{...}}    session_start, tool_call, ...
//	{"type":"relay_event", "payload":{"type":"...","payload":{...}}}
//	{"type":"clear_inflight", "payload":{"ids":["a1"]}}
//	{"type":"ack", "payload":{"id":"a1","status":"success","summary":"...","toolName":"..."}}
//	{"type":"config_changed"}
//	{"type":"session_shutdown", "payload":{"reason":"..."}}   also "shutdown"
//
// Outbound lines (bridge -> runtime):
//
//	{"type":"inject", "kind":"action"|"prompt", "stepId":..., "text":..., "tool":..., "args":...}
//	{"type":"status", "connected":true}
package hostio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/compresr/session-mirror/internal/relay"
)

// Output line types.
const (
	LineInject = "inject"
	LineStatus = "status"
)

type injectLine struct {
	Type   string              `json:"type"`
	Kind   relay.DirectiveKind `json:"kind"`
	StepID string              `json:"stepId,omitempty"`
	Title  string              `json:"title,omitempty"`
	Text   string              `json:"text"`
	Tool   string              `json:"tool,omitempty"`
	Args   json.RawMessage     `json:"args,omitempty"`
}

type statusLine struct {
	Type      string `json:"type"`
	Connected bool   `json:"connected"`
}

// Host writes directives and status lines for the runtime to consume.
type Host struct {
	mu      sync.Mutex
	enc     *json.Encoder
	confirm relay.ToolSet
}

// NewHost writes to w. confirmTools names tools that normally prompt the
// user; approved actions invoke them with confirmed: true.
func NewHost(w io.Writer, confirmTools []string) *Host {
	return &Host{enc: json.NewEncoder(w), confirm: relay.NewToolSet(confirmTools...)}
}

// Inject writes one inject line.
func (h *Host) Inject(ctx context.Context, d relay.Directive) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return h.write(injectLine{
		Type:   LineInject,
		Kind:   d.Kind,
		StepID: d.StepID,
		Title:  d.Title,
		Text:   d.Text,
		Tool:   d.Tool,
		Args:   d.Args,
	})
}

// RequiresConfirmation reports whether tool is in the confirmation set.
func (h *Host) RequiresConfirmation(tool string) bool {
	return h.confirm.Contains(tool)
}

// WriteStatus reports connectivity; suitable as relay.Options.OnStatus.
func (h *Host) WriteStatus(connected bool) {
	_ = h.write(statusLine{Type: LineStatus, Connected: connected})
}

func (h *Host) write(v any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.enc.Encode(v); err != nil {
		return fmt.Errorf("write host line: %w", err)
	}
	return nil
}

var _ relay.Host = (*Host)(nil)
