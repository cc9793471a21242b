package gateway

import (
	"github.com/harun/meshagent/pkg/model"
)

// SessionHeader carries the session id on requests and responses.
const SessionHeader = "X-Session-ID"

// ChatCompletionRequest is the OpenAI-shaped completion request body.
type ChatCompletionRequest struct {
	Model     string          `json:"model"`
	Messages  []model.Message `json:"messages"`
	Stream    bool            `json:"stream"`
	SessionID string          `json:"session_id,omitempty"`
}

// ChatMessage is an assistant message in a completion response.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatChoice is one completion choice.
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// ChatCompletionResponse is the non-streaming completion response.
type ChatCompletionResponse struct {
	ID        string       `json:"id"`
	Object    string       `json:"object"`
	Created   int64        `json:"created"`
	Model     string       `json:"model"`
	SessionID string       `json:"session_id"`
	Choices   []ChatChoice `json:"choices"`
}

// ChunkDelta is the incremental content of a streamed chunk.
type ChunkDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// ChunkChoice is one choice of a streamed chunk.
type ChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

// ChatCompletionChunk is one server-sent event of a streamed completion.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
}

// ErrorBody is the error envelope returned by every endpoint.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a request failure.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// WSRequest is a message sent by a websocket client. Content is a shorthand
// for a single user message.
type WSRequest struct {
	Messages  []model.Message `json:"messages,omitempty"`
	Content   string          `json:"content,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Stream    *bool           `json:"stream,omitempty"`
}

// WS message types sent to clients.
const (
	WSTypeSession = "session"
	WSTypeChunk   = "chunk"
	WSTypeDone    = "done"
	WSTypeError   = "error"
)

// WSMessage is a message sent to a websocket client.
type WSMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Content   string `json:"content,omitempty"`
	Error     string `json:"error,omitempty"`
}
