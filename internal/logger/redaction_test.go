package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedact(t *testing.T) {
	r := NewRedactor()

	tests := []struct {
		name     string
		input    string
		contains string
		hidden   string
	}{
		{"openai key", "key=sk-proj0123456789abcdefghij", "[REDACTED]", "sk-proj0123456789abcdefghij"},
		{"anthropic key", "using sk-ant-REDACTED", "[REDACTED]", "abcdefghijklmnopqrst"},
		{"bearer token", "Authorization: Bearer abc.def.ghi", "[REDACTED]", "abc.def.ghi"},
		{"secret header", `"X-Meshagent-Secret":"hunter2"`, "[REDACTED]", "hunter2"},
		{"api key field", `{"api_key":"plain-value"}`, "[REDACTED]", "plain-value"},
		{"shared secret field", `shared_secret=s3cret`, "[REDACTED]", "s3cret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := r.Redact(tt.input)
			assert.Contains(t, out, tt.contains)
			assert.NotContains(t, out, tt.hidden)
		})
	}

	t.Run("should leave ordinary text alone", func(t *testing.T) {
		in := "Tool calculator returned: 8"
		assert.Equal(t, in, r.Redact(in))
	})
}

func TestAddPattern(t *testing.T) {
	r := NewRedactor()

	require.NoError(t, r.AddPattern(`session-[0-9]+`))
	assert.Equal(t, "id [REDACTED]", r.Redact("id session-42"))

	assert.Error(t, r.AddPattern(`[unclosed`))
}

func TestRedactingWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewRedactor().Wrap(&buf)

	line := []byte("token Bearer abcdef\n")
	n, err := w.Write(line)
	require.NoError(t, err)
	assert.Equal(t, len(line), n)
	assert.Equal(t, "token [REDACTED]\n", buf.String())
}
