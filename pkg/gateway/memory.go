package gateway

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/harun/meshagent/pkg/session"
)

var knownEventTypes = map[session.EventType]bool{
	session.EventUserMessage:            true,
	session.EventAgentResponse:          true,
	session.EventToolCall:               true,
	session.EventToolResult:             true,
	session.EventDelegationRequest:      true,
	session.EventDelegationResponse:     true,
	session.EventDelegationError:        true,
	session.EventTaskDelegationReceived: true,
	session.EventError:                  true,
}

func (s *Server) handleListSessions(c *gin.Context) {
	sessions := s.sessions.ListSessions(c.Request.Context(), c.Query("user_id"))
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (s *Server) handleGetSession(c *gin.Context) {
	sess, ok := s.sessions.GetSession(c.Request.Context(), c.Param("id"))
	if !ok {
		abortWithError(c, http.StatusNotFound, "not_found", "session not found")
		return
	}
	c.JSON(http.StatusOK, sess)
}

// handleSessionEvents lists a session's events. The type query parameter
// may be repeated or comma separated.
func (s *Server) handleSessionEvents(c *gin.Context) {
	var types []session.EventType
	for _, raw := range c.QueryArray("type") {
		for _, t := range strings.Split(raw, ",") {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			et := session.EventType(t)
			if !knownEventTypes[et] {
				abortWithError(c, http.StatusBadRequest, "invalid_request_error", "unknown event type: "+t)
				return
			}
			types = append(types, et)
		}
	}

	id := c.Param("id")
	events, err := s.sessions.Events(c.Request.Context(), id, types...)
	if err != nil {
		abortWithError(c, http.StatusNotFound, "not_found", "session not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": id,
		"events":     events,
		"count":      len(events),
	})
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	id := c.Param("id")
	if !s.sessions.DeleteSession(c.Request.Context(), id) {
		abortWithError(c, http.StatusNotFound, "not_found", "session not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": id, "status": "deleted"})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.sessions.Stats())
}
