package relay_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/session-mirror/internal/relay"
)

func TestParseInbound_ExecuteAction(t *testing.T) {
	tests := []struct {
		name string
		data string
		want relay.ExecuteAction
	}{
		{
			name: "tool command",
			data: `{"type":"execute_action","payload":{"id":"a1","title":"Run tests","type":"task","agentCommand":{"tool":"bash","args":{"command":"go test"}}}}`,
			want: relay.ExecuteAction{
				ID: "a1", Title: "Run tests", Type: "task",
				Command: relay.ToolCommand{Tool: "bash", Args: []byte(`{"command":"go test"}`)},
			},
		},
		{
			name: "prompt wins over tool",
			data: `{"type":"execute_action","payload":{"id":"a2","agentCommand":{"tool":"bash","prompt":"explain"}}}`,
			want: relay.ExecuteAction{ID: "a2", Command: relay.PromptCommand{Prompt: "explain"}},
		},
		{
			name: "non-object args become empty",
			data: `{"type":"execute_action","payload":{"id":"a3","agentCommand":{"tool":"ls","args":[1,2]}}}`,
			want: relay.ExecuteAction{ID: "a3", Command: relay.ToolCommand{Tool: "ls", Args: []byte(`{}`)}},
		},
		{
			name: "missing args become empty",
			data: `{"type":"execute_action","payload":{"id":"a4","agentCommand":{"tool":"ls"}}}`,
			want: relay.ExecuteAction{ID: "a4", Command: relay.ToolCommand{Tool: "ls", Args: []byte(`{}`)}},
		},
		{
			name: "no agent command",
			data: `{"type":"execute_action","payload":{"id":"a5","title":"FYI","userResponse":"ok"}}`,
			want: relay.ExecuteAction{ID: "a5", Title: "FYI", UserResponse: "ok"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := relay.ParseInbound([]byte(tt.data))
			require.NoError(t, err)

			got, ok := msg.(relay.ExecuteAction)
			require.True(t, ok)
			assert.Equal(t, tt.want.ID, got.ID)
			assert.Equal(t, tt.want.Title, got.Title)
			assert.Equal(t, tt.want.UserResponse, got.UserResponse)

			switch want := tt.want.Command.(type) {
			case nil:
				assert.Nil(t, got.Command)
			case relay.PromptCommand:
				assert.Equal(t, want, got.Command)
			case relay.ToolCommand:
				cmd, ok := got.Command.(relay.ToolCommand)
				require.True(t, ok)
				assert.Equal(t, want.Tool, cmd.Tool)
				assert.JSONEq(t, string(want.Args), string(cmd.Args))
			}
		})
	}
}

func TestParseInbound_UserPrompt(t *testing.T) {
	msg, err := relay.ParseInbound([]byte(`{"type":"user_prompt","payload":{"text":"hello"}}`))
	require.NoError(t, err)
	assert.Equal(t, relay.UserPrompt{Text: "hello"}, msg)
}

func TestParseInbound_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr error
	}{
		{name: "not json", data: `not json`, wantErr: relay.ErrMalformedFrame},
		{name: "array", data: `[1,2]`, wantErr: relay.ErrMalformedFrame},
		{name: "no type", data: `{"payload":{}}`, wantErr: relay.ErrUnknownMessage},
		{name: "numeric type", data: `{"type":3}`, wantErr: relay.ErrUnknownMessage},
		{name: "other type", data: `{"type":"viewer_joined","payload":{}}`, wantErr: relay.ErrUnknownMessage},
		{name: "action without payload", data: `{"type":"execute_action"}`, wantErr: relay.ErrMalformedFrame},
		{name: "action without id", data: `{"type":"execute_action","payload":{"title":"x"}}`, wantErr: relay.ErrMalformedFrame},
		{name: "action with wrong field types", data: `{"type":"execute_action","payload":{"id":5}}`, wantErr: relay.ErrMalformedFrame},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := relay.ParseInbound([]byte(tt.data))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
