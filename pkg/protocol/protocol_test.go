package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseToolCall(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantOK   bool
		wantTool string
		wantArgs map[string]any
	}{
		{
			name:     "bare block",
			text:     "```tool_call\n{\"tool\": \"calculator\", \"arguments\": {\"expression\": \"2+2\"}}\n```",
			wantOK:   true,
			wantTool: "calculator",
			wantArgs: map[string]any{"expression": "2+2"},
		},
		{
			name:     "surrounded by prose",
			text:     "Let me compute that.\n```tool_call\n{\"tool\": \"echo\", \"arguments\": {\"text\": \"hi\"}}\n```\nThanks!",
			wantOK:   true,
			wantTool: "echo",
			wantArgs: map[string]any{"text": "hi"},
		},
		{
			name:     "crlf line endings",
			text:     "```tool_call\r\n{\"tool\": \"echo\", \"arguments\": {}}\r\n```",
			wantOK:   true,
			wantTool: "echo",
			wantArgs: map[string]any{},
		},
		{
			name:     "missing arguments",
			text:     "```tool_call\n{\"tool\": \"now\"}\n```",
			wantOK:   true,
			wantTool: "now",
			wantArgs: map[string]any{},
		},
		{
			name:     "first block wins",
			text:     "```tool_call\n{\"tool\": \"a\"}\n```\n```tool_call\n{\"tool\": \"b\"}\n```",
			wantOK:   true,
			wantTool: "a",
			wantArgs: map[string]any{},
		},
		{name: "no block", text: "The answer is 4.", wantOK: false},
		{name: "malformed json", text: "```tool_call\n{tool: calculator\n```", wantOK: false},
		{name: "not an object", text: "```tool_call\n[1, 2]\n```", wantOK: false},
		{name: "missing tool name", text: "```tool_call\n{\"arguments\": {}}\n```", wantOK: false},
		{name: "other fence kind", text: "```json\n{\"tool\": \"x\"}\n```", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call, ok := ParseToolCall(tt.text)
			require.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				return
			}
			assert.Equal(t, tt.wantTool, call.Tool)
			assert.Equal(t, tt.wantArgs, call.Arguments)
		})
	}
}

func TestParseDelegation(t *testing.T) {
	d, ok := ParseDelegation("I'll ask the worker.\n```delegate\n{\"agent\": \"worker\", \"task\": \"Process data\"}\n```")
	require.True(t, ok)
	assert.Equal(t, Delegation{Agent: "worker", Task: "Process data"}, d)

	_, ok = ParseDelegation("```delegate\n{\"task\": \"no agent\"}\n```")
	assert.False(t, ok)

	_, ok = ParseDelegation("```delegate\nnot json\n```")
	assert.False(t, ok)

	_, ok = ParseDelegation("```tool_call\n{\"tool\": \"x\"}\n```")
	assert.False(t, ok)
}

func TestParseIsIdempotent(t *testing.T) {
	text := "```delegate\n{\"agent\": \"worker\", \"task\": \"t\"}\n```"

	first, ok1 := ParseDelegation(text)
	second, ok2 := ParseDelegation(text)
	assert.Equal(t, ok1, ok2)
	assert.Equal(t, first, second)
}

func TestExtractUnknownKind(t *testing.T) {
	_, ok := Extract("```other\n{}\n```", Kind("other"))
	assert.False(t, ok)
}

func TestFormatInstructions(t *testing.T) {
	assert.Empty(t, FormatInstructions(false, false))

	both := FormatInstructions(true, true)
	assert.Contains(t, both, "```tool_call")
	assert.Contains(t, both, "```delegate")

	toolsOnly := FormatInstructions(true, false)
	assert.Contains(t, toolsOnly, "```tool_call")
	assert.NotContains(t, toolsOnly, "```delegate")
}
