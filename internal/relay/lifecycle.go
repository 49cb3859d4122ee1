package relay

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Lifecycle is a typed notification from the local agent runtime. Each
// maps 1:1 to an outbound MirrorEvent.
type Lifecycle interface {
	EventType() EventType
	Payload() map[string]any
}

// Observer consumes lifecycle notifications. *Bridge implements it.
type Observer interface {
	Observe(ev Lifecycle)
}

// SessionStart opens a session. An empty SessionID gets a fresh one.
type SessionStart struct {
	SessionID    string `json:"sessionId"`
	Cwd          string `json:"cwd"`
	SessionFile  string `json:"sessionFile"`
	MessageCount int    `json:"messageCount"`
}

// SessionShutdown ends the session.
type SessionShutdown struct {
	Reason string `json:"reason"`
}

// SessionSwitch moves to another session. An empty SessionID gets a fresh one.
type SessionSwitch struct {
	SessionID   string `json:"sessionId"`
	Reason      string `json:"reason"`
	SessionFile string `json:"sessionFile"`
}

// SessionCompact reports context compaction.
type SessionCompact struct {
	TokensBefore int    `json:"tokensBefore"`
	Summary      string `json:"summary"`
}

// AgentStart marks the start of an agent run.
type AgentStart struct {
	Messages json.RawMessage `json:"messages"`
}

// AgentEnd marks the end of an agent run.
type AgentEnd struct {
	Messages json.RawMessage `json:"messages"`
}

// TurnStart marks the start of one model turn.
type TurnStart struct {
	TurnIndex int `json:"turnIndex"`
}

// TurnEnd marks the end of one model turn with its tool results.
type TurnEnd struct {
	TurnIndex   int             `json:"turnIndex"`
	Message     json.RawMessage `json:"message"`
	ToolResults json.RawMessage `json:"toolResults"`
}

// Input is raw user input received by the runtime.
type Input struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

// BeforeAgentStart carries the prompt about to be sent to the agent.
type BeforeAgentStart struct {
	Prompt string `json:"prompt"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Input      json.RawMessage `json:"input"`
}

// ToolResult is the outcome of a tool invocation.
type ToolResult struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Content    json.RawMessage `json:"content"`
	IsError    bool            `json:"isError"`
}

// ContextSnapshot reports context window usage.
type ContextSnapshot struct {
	Tokens        int     `json:"tokens"`
	ContextWindow int     `json:"contextWindow"`
	Percent       float64 `json:"percent"`
}

// ModelSelect reports a model change.
type ModelSelect struct {
	Provider      string `json:"provider"`
	Model         string `json:"model"`
	PreviousModel string `json:"previousModel"`
	Source        string `json:"source"`
}

func (SessionStart) EventType() EventType     { return EventSessionStart }
func (SessionShutdown) EventType() EventType  { return EventSessionShutdown }
func (SessionSwitch) EventType() EventType    { return EventSessionSwitch }
func (SessionCompact) EventType() EventType   { return EventSessionCompact }
func (AgentStart) EventType() EventType       { return EventAgentStart }
func (AgentEnd) EventType() EventType         { return EventAgentEnd }
func (TurnStart) EventType() EventType        { return EventTurnStart }
func (TurnEnd) EventType() EventType          { return EventTurnEnd }
func (Input) EventType() EventType            { return EventInput }
func (BeforeAgentStart) EventType() EventType { return EventBeforeAgentStart }
func (ToolCall) EventType() EventType         { return EventToolCall }
func (ToolResult) EventType() EventType       { return EventToolResult }
func (ContextSnapshot) EventType() EventType  { return EventContext }
func (ModelSelect) EventType() EventType      { return EventModelSelect }

func (e SessionStart) Payload() map[string]any {
	return map[string]any{"cwd": e.Cwd, "sessionFile": e.SessionFile, "messageCount": e.MessageCount}
}

func (e SessionShutdown) Payload() map[string]any {
	return map[string]any{"reason": e.Reason}
}

func (e SessionSwitch) Payload() map[string]any {
	return map[string]any{"reason": e.Reason, "sessionFile": e.SessionFile}
}

func (e SessionCompact) Payload() map[string]any {
	return map[string]any{"tokensBefore": e.TokensBefore, "summary": e.Summary}
}

func (e AgentStart) Payload() map[string]any {
	return withRaw(map[string]any{}, "messages", e.Messages)
}

func (e AgentEnd) Payload() map[string]any {
	return withRaw(map[string]any{}, "messages", e.Messages)
}

func (e TurnStart) Payload() map[string]any {
	return map[string]any{"turnIndex": e.TurnIndex}
}

func (e TurnEnd) Payload() map[string]any {
	p := map[string]any{"turnIndex": e.TurnIndex}
	withRaw(p, "message", e.Message)
	return withRaw(p, "toolResults", e.ToolResults)
}

func (e Input) Payload() map[string]any {
	return map[string]any{"text": e.Text, "source": e.Source}
}

func (e BeforeAgentStart) Payload() map[string]any {
	return map[string]any{"prompt": e.Prompt}
}

func (e ToolCall) Payload() map[string]any {
	p := map[string]any{"toolCallId": e.ToolCallID, "toolName": e.ToolName}
	return withRaw(p, "input", e.Input)
}

func (e ToolResult) Payload() map[string]any {
	p := map[string]any{"toolCallId": e.ToolCallID, "toolName": e.ToolName, "isError": e.IsError}
	return withRaw(p, "content", e.Content)
}

func (e ContextSnapshot) Payload() map[string]any {
	return map[string]any{"tokens": e.Tokens, "contextWindow": e.ContextWindow, "percent": e.Percent}
}

func (e ModelSelect) Payload() map[string]any {
	return map[string]any{"provider": e.Provider, "model": e.Model, "previousModel": e.PreviousModel, "source": e.Source}
}

// withRaw sets key only when raw holds a JSON value.
func withRaw(p map[string]any, key string, raw json.RawMessage) map[string]any {
	if len(raw) > 0 {
		p[key] = raw
	}
	return p
}

// Observe stamps session identity for start/switch notifications, then
// emits the matching event.
func (b *Bridge) Observe(ev Lifecycle) {
	switch e := ev.(type) {
	case SessionStart:
		b.SetSessionID(sessionIDOrNew(e.SessionID))
	case SessionSwitch:
		b.SetSessionID(sessionIDOrNew(e.SessionID))
	}
	b.Emit(ev.EventType(), ev.Payload())
}

func sessionIDOrNew(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

var _ Observer = (*Bridge)(nil)
