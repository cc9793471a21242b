package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScripted_PopsInOrderThenFallsBack(t *testing.T) {
	fallback := NewScripted([]string{"from fallback"}, nil)
	s := NewScripted([]string{"one", "two"}, fallback)
	ctx := context.Background()

	out, err := s.Complete(ctx, []Message{{Role: RoleUser, Content: "q"}})
	require.NoError(t, err)
	assert.Equal(t, "one", out)

	out, err = s.Complete(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "two", out)
	assert.Zero(t, s.Remaining())

	out, err = s.Complete(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "from fallback", out)

	calls := s.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "q", calls[0][0].Content)
}

func TestScripted_EmptyWithoutFallback(t *testing.T) {
	s := NewScripted(nil, nil)
	_, err := s.Complete(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoResponse)

	s.Push("late")
	out, err := s.Complete(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "late", out)
}

func TestScripted_CanceledContext(t *testing.T) {
	s := NewScripted([]string{"x"}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Complete(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, s.Remaining())
}

func TestParseMockResponses(t *testing.T) {
	assert.Nil(t, ParseMockResponses("   "))
	assert.Equal(t, []string{"a", "b"}, ParseMockResponses(`["a", "b"]`))
	assert.Equal(t, []string{"plain answer"}, ParseMockResponses("plain answer"))
	assert.Equal(t, []string{"[not json"}, ParseMockResponses("[not json"))
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("status 429 too many requests"), true},
		{errors.New("upstream returned 503"), true},
		{errors.New("read: connection reset by peer"), true},
		{errors.New("invalid api key"), false},
		{context.Canceled, false},
		{context.DeadlineExceeded, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRetryableError(tt.err), "%v", tt.err)
	}
}

func TestRetryPolicy(t *testing.T) {
	p := newRetryPolicy(Config{MaxRetries: 3, RetryBaseDelay: time.Millisecond, Logger: zerolog.Nop()})

	var calls int
	out, err := p.do(context.Background(), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("503 service unavailable")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, calls)

	calls = 0
	_, err = p.do(context.Background(), func(context.Context) (string, error) {
		calls++
		return "", errors.New("bad request")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)

	calls = 0
	_, err = p.do(context.Background(), func(context.Context) (string, error) {
		calls++
		return "", errors.New("500 internal")
	})
	assert.ErrorContains(t, err, "max retries (3) exceeded")
	assert.Equal(t, 3, calls)
}

func TestOpenAI_Complete(t *testing.T) {
	var hits atomic.Int32
	var got struct {
		Model    string    `json:"model"`
		Messages []Message `json:"messages"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, `{"error":{"message":"try again"}}`)
			return
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"m",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"hello there"}}]}`)
	}))
	defer srv.Close()

	b, err := NewOpenAI(Config{
		BaseURL:        srv.URL + "/v1",
		Model:          "test-model",
		RetryBaseDelay: time.Millisecond,
		Logger:         zerolog.Nop(),
	})
	require.NoError(t, err)

	out, err := b.Complete(context.Background(), []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleTaskDelegation, Content: "delegated"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there", out)
	assert.Equal(t, int32(2), hits.Load())

	assert.Equal(t, "test-model", got.Model)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, RoleSystem, got.Messages[0].Role)
	assert.Equal(t, RoleUser, got.Messages[2].Role)
}

func TestAnthropic_Complete(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude",
			"content":[{"type":"text","text":"bonjour"}],"stop_reason":"end_turn",
			"usage":{"input_tokens":3,"output_tokens":1}}`)
	}))
	defer srv.Close()

	b, err := NewAnthropic(Config{BaseURL: srv.URL, APIKey: "k", Logger: zerolog.Nop()})
	require.NoError(t, err)

	out, err := b.Complete(context.Background(), []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, "bonjour", out)

	require.Contains(t, body, "system")
	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 1)
}

func TestAnthropic_ClientErrorIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"invalid_request_error","message":"nope"}}`)
	}))
	defer srv.Close()

	b, err := NewAnthropic(Config{BaseURL: srv.URL, APIKey: "k", RetryBaseDelay: time.Millisecond, Logger: zerolog.Nop()})
	require.NoError(t, err)

	_, err = b.Complete(context.Background(), []Message{{Role: RoleUser, Content: "x"}})
	assert.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestNewBackend(t *testing.T) {
	b, err := NewBackend(Config{Provider: "scripted", MockResponses: []string{"a"}})
	require.NoError(t, err)
	_, ok := b.(*Scripted)
	assert.True(t, ok)

	b, err = NewBackend(Config{Provider: "openai", MockResponses: []string{"a"}, Logger: zerolog.Nop()})
	require.NoError(t, err)
	s, ok := b.(*Scripted)
	require.True(t, ok)
	_, isOpenAI := s.fallback.(*OpenAI)
	assert.True(t, isOpenAI)

	b, err = NewBackend(Config{Provider: "anthropic"})
	require.NoError(t, err)
	_, ok = b.(*Anthropic)
	assert.True(t, ok)

	_, err = NewBackend(Config{Provider: "gemini"})
	assert.EqualError(t, err, fmt.Sprintf("unsupported model provider: %s", "gemini"))
}
