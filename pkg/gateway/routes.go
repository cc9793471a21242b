package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/harun/meshagent/pkg/peer"
)

func (s *Server) attachRoutes(r *gin.Engine) {
	r.GET("/health", s.handleHealth)
	r.GET("/ready", s.handleReady)
	r.GET(peer.CardPath, s.handleCard)

	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	v1 := r.Group("/v1")
	v1.Use(s.limiter.Middleware())
	{
		v1.POST("/chat/completions", s.handleChatCompletions)
		v1.GET("/ws", s.handleWebSocket)
	}

	mem := r.Group("/memory")
	mem.Use(s.auth.Middleware())
	{
		mem.GET("/sessions", s.handleListSessions)
		mem.GET("/sessions/:id", s.handleGetSession)
		mem.GET("/sessions/:id/events", s.handleSessionEvents)
		mem.DELETE("/sessions/:id", s.handleDeleteSession)
		mem.GET("/stats", s.handleStats)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"name":   s.engine.Name(),
	})
}

func (s *Server) handleReady(c *gin.Context) {
	if s.shuttingDown() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "shutting_down"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "ready",
		"name":     s.engine.Name(),
		"sessions": s.sessions.Len(),
	})
}

func (s *Server) handleCard(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Card(s.advertisedURL(c)))
}

// advertisedURL is the configured base URL, or the one the client used.
func (s *Server) advertisedURL(c *gin.Context) string {
	if s.baseURL != "" {
		return s.baseURL
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if fwd := c.GetHeader("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	return scheme + "://" + c.Request.Host
}
