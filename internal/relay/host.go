package relay

import (
	"context"
	"encoding/json"
	"strings"
)

// DirectiveKind distinguishes approved actions from follow-up prompts.
type DirectiveKind string

const (
	DirectiveAction DirectiveKind = "action"
	DirectivePrompt DirectiveKind = "prompt"
)

// Directive is a message to inject into the agent's next turn.
type Directive struct {
	Kind   DirectiveKind
	StepID string // approved action id; empty for prompts
	Title  string
	Text   string // full text to inject, including acknowledgment instructions
	Tool   string // set for tool actions
	Args   json.RawMessage
}

// Host is the local agent runtime as seen by the bridge.
type Host interface {
	// Inject queues a synthesized message for the next agent turn.
	Inject(ctx context.Context, d Directive) error

	// RequiresConfirmation reports whether tool normally asks the user
	// before running. Approved actions pass confirmed: true to such tools.
	RequiresConfirmation(tool string) bool
}

// Emitter is the narrow surface other in-process components (for example a
// tool that creates or acknowledges workflow items) use to reach the relay
// without depending on the bridge.
type Emitter interface {
	Emit(eventType EventType, payload map[string]any)
	ClearInFlight(ids ...string)
}

// AckStatus is the executor-reported outcome of an action.
type AckStatus string

const (
	AckSuccess AckStatus = "success"
	AckError   AckStatus = "error"
)

// Ack is the host's report that an approved action finished.
type Ack struct {
	ID       string    `json:"id"`
	Status   AckStatus `json:"status"`
	Summary  string    `json:"summary"`
	ToolName string    `json:"toolName,omitempty"`
}

// normalized coerces an unknown status to error.
func (a Ack) normalized() Ack {
	if a.Status != AckSuccess {
		a.Status = AckError
	}
	return a
}

// ToolSet is a set of tool names, matched case-insensitively.
type ToolSet map[string]struct{}

// NewToolSet builds a ToolSet from names.
func NewToolSet(names ...string) ToolSet {
	s := make(ToolSet, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			s[strings.ToLower(n)] = struct{}{}
		}
	}
	return s
}

// Contains reports membership.
func (s ToolSet) Contains(name string) bool {
	_, ok := s[strings.ToLower(name)]
	return ok
}
