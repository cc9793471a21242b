package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/harun/meshagent/internal/tracing"
	"github.com/harun/meshagent/pkg/agent"
	"github.com/harun/meshagent/pkg/model"
	"github.com/harun/meshagent/pkg/peer"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// requestContext carries the caller's trace into the engine.
func requestContext(c *gin.Context) context.Context {
	ctx := tracing.ExtractHTTP(c.Request.Context(), c.Request.Header)
	if traceID := c.GetHeader(peer.TraceHeader); traceID != "" {
		ctx = tracing.WithTraceID(ctx, traceID)
	}
	ctx = tracing.NewRequestContext(ctx)

	requestID, err := gonanoid.New()
	if err == nil {
		ctx = tracing.WithRequestID(ctx, requestID)
	}
	return ctx
}

func completionID() string {
	id, err := gonanoid.New()
	if err != nil {
		return fmt.Sprintf("chatcmpl-%d", time.Now().UnixNano())
	}
	return "chatcmpl-" + id
}

func (s *Server) handleChatCompletions(c *gin.Context) {
	var req ChatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid_request_error", "invalid request body: "+err.Error())
		return
	}
	if len(req.Messages) == 0 {
		abortWithError(c, http.StatusBadRequest, "invalid_request_error", "messages must not be empty")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = c.GetHeader(SessionHeader)
	}

	ctx := requestContext(c)
	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Debug().
		Int("messages", len(req.Messages)).
		Bool("stream", req.Stream).
		Str("session_id", sessionID).
		Msg("Chat completion requested")

	engineReq := agent.Request{Messages: req.Messages, SessionID: sessionID, Stream: req.Stream}
	if req.Stream {
		s.streamCompletion(ctx, c, engineReq)
		return
	}

	reply, err := s.engine.Complete(ctx, engineReq)
	if err != nil {
		// Only caller cancellation gets here; the client is gone.
		logger.Debug().Err(err).Msg("Chat completion abandoned")
		return
	}

	c.Header(SessionHeader, reply.SessionID)
	c.JSON(http.StatusOK, ChatCompletionResponse{
		ID:        completionID(),
		Object:    "chat.completion",
		Created:   time.Now().Unix(),
		Model:     s.engine.Name(),
		SessionID: reply.SessionID,
		Choices: []ChatChoice{{
			Index:        0,
			Message:      ChatMessage{Role: string(model.RoleAssistant), Content: reply.Content},
			FinishReason: "stop",
		}},
	})
}

// streamCompletion writes the engine's chunks as OpenAI-style server-sent
// events, ending with a finish chunk and [DONE].
func (s *Server) streamCompletion(ctx context.Context, c *gin.Context, req agent.Request) {
	stream := s.engine.Process(ctx, req)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header(SessionHeader, stream.SessionID)
	c.Status(http.StatusOK)

	id := completionID()
	created := time.Now().Unix()
	write := func(delta ChunkDelta, finish *string) bool {
		b, err := json.Marshal(ChatCompletionChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   s.engine.Name(),
			Choices: []ChunkChoice{{Index: 0, Delta: delta, FinishReason: finish}},
		})
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", b); err != nil {
			return false
		}
		c.Writer.Flush()
		return true
	}

	if !write(ChunkDelta{Role: string(model.RoleAssistant)}, nil) {
		return
	}
	for chunk := range stream.Chunks {
		if !write(ChunkDelta{Content: chunk}, nil) {
			return
		}
	}
	if ctx.Err() != nil {
		return
	}

	stop := "stop"
	if !write(ChunkDelta{}, &stop) {
		return
	}
	_, _ = fmt.Fprint(c.Writer, "data: [DONE]\n\n")
	c.Writer.Flush()
}

// handleWebSocket serves a conversation over one websocket. Each client
// message is a WSRequest; replies are streamed back as WSMessages.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}
	defer conn.Close()

	ctx := requestContext(c)
	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Info().Str("ip", c.ClientIP()).Msg("Websocket client connected")

	var sessionID string
	for {
		var msg WSRequest
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Warn().Err(err).Msg("Websocket read failed")
			}
			break
		}

		messages := msg.Messages
		if msg.Content != "" {
			messages = append(messages, model.Message{Role: model.RoleUser, Content: msg.Content})
		}
		if len(messages) == 0 {
			if err := conn.WriteJSON(WSMessage{Type: WSTypeError, Error: "messages must not be empty"}); err != nil {
				break
			}
			continue
		}
		if msg.SessionID != "" {
			sessionID = msg.SessionID
		}
		streaming := msg.Stream == nil || *msg.Stream

		stream := s.engine.Process(ctx, agent.Request{Messages: messages, SessionID: sessionID, Stream: streaming})
		sessionID = stream.SessionID

		if err := s.relay(conn, stream); err != nil {
			logger.Warn().Err(err).Msg("Websocket write failed")
			break
		}
	}

	logger.Info().Msg("Websocket client disconnected")
}

func (s *Server) relay(conn *websocket.Conn, stream *agent.Stream) error {
	defer func() {
		for range stream.Chunks {
		}
	}()

	if err := conn.WriteJSON(WSMessage{Type: WSTypeSession, SessionID: stream.SessionID}); err != nil {
		return err
	}
	for chunk := range stream.Chunks {
		if err := conn.WriteJSON(WSMessage{Type: WSTypeChunk, Content: chunk}); err != nil {
			return err
		}
	}
	return conn.WriteJSON(WSMessage{Type: WSTypeDone, SessionID: stream.SessionID})
}
