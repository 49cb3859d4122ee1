package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Inbound message types understood by the bridge. The wire protocol is
// shared with browsers and other consumers; anything else is ignored.
const (
	MsgExecuteAction = "execute_action"
	MsgUserPrompt    = "user_prompt"
)

var (
	// ErrMalformedFrame marks frames that are not JSON objects.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrUnknownMessage marks frames whose type this bridge does not handle.
	ErrUnknownMessage = errors.New("unknown message type")
)

// Inbound is one decoded relay message: ExecuteAction or UserPrompt.
type Inbound interface {
	inbound()
}

// ExecuteAction is an upstream-approved command. Command is nil when the
// action carries no agentCommand, which makes it a no-op.
type ExecuteAction struct {
	ID           string
	Title        string
	Type         string
	Command      AgentCommand
	UserResponse string
}

// UserPrompt is free text typed by a remote viewer.
type UserPrompt struct {
	Text string
}

func (ExecuteAction) inbound() {}
func (UserPrompt) inbound()    {}

// AgentCommand is how an action is carried out: PromptCommand or ToolCommand.
type AgentCommand interface {
	agentCommand()
}

// PromptCommand injects free-form text into the next agent turn.
type PromptCommand struct {
	Prompt string
}

// ToolCommand asks the agent to invoke Tool with Args (a JSON object).
type ToolCommand struct {
	Tool string
	Args json.RawMessage
}

func (PromptCommand) agentCommand() {}
func (ToolCommand) agentCommand()   {}

type actionPayload struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Type         string          `json:"type"`
	AgentCommand *commandPayload `json:"agentCommand"`
	UserResponse string          `json:"userResponse"`
}

type commandPayload struct {
	Tool   string          `json:"tool"`
	Args   json.RawMessage `json:"args"`
	Prompt string          `json:"prompt"`
}

// ParseInbound decodes a relay frame. It returns ErrMalformedFrame for
// non-JSON input or payloads of the wrong shape, and ErrUnknownMessage for
// frames without a recognised type.
func ParseInbound(data []byte) (Inbound, error) {
	if !gjson.ValidBytes(data) {
		return nil, ErrMalformedFrame
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, ErrMalformedFrame
	}

	msgType := root.Get("type")
	if msgType.Type != gjson.String {
		return nil, ErrUnknownMessage
	}
	payload := root.Get("payload")

	switch msgType.Str {
	case MsgExecuteAction:
		return parseExecuteAction(payload)
	case MsgUserPrompt:
		return UserPrompt{Text: payload.Get("text").String()}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, msgType.Str)
	}
}

func parseExecuteAction(payload gjson.Result) (Inbound, error) {
	if !payload.IsObject() {
		return nil, fmt.Errorf("%w: execute_action without payload", ErrMalformedFrame)
	}
	var p actionPayload
	if err := json.Unmarshal([]byte(payload.Raw), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if p.ID == "" {
		return nil, fmt.Errorf("%w: execute_action without id", ErrMalformedFrame)
	}

	action := ExecuteAction{
		ID:           p.ID,
		Title:        p.Title,
		Type:         p.Type,
		UserResponse: p.UserResponse,
	}
	if c := p.AgentCommand; c != nil {
		switch {
		case strings.TrimSpace(c.Prompt) != "":
			action.Command = PromptCommand{Prompt: c.Prompt}
		case c.Tool != "":
			args := c.Args
			if len(args) == 0 || !gjson.ValidBytes(args) || !gjson.ParseBytes(args).IsObject() {
				args = json.RawMessage(`{}`)
			}
			action.Command = ToolCommand{Tool: c.Tool, Args: args}
		}
	}
	return action, nil
}
