package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/harun/meshagent/internal/metrics"
	"github.com/harun/meshagent/pkg/agent"
	"github.com/harun/meshagent/pkg/session"
	"github.com/rs/zerolog"
)

const DefaultShutdownTimeout = 30 * time.Second

// Server is the HTTP front end of an agent
type Server struct {
	host            string
	port            int
	baseURL         string
	shutdownTimeout time.Duration

	engine   *agent.Engine
	sessions *session.Store
	metrics  *metrics.Metrics
	auth     *SecretAuth
	limiter  *RateLimiter
	logger   zerolog.Logger

	router   *gin.Engine
	server   *http.Server
	upgrader websocket.Upgrader

	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// Config holds server configuration. BaseURL is advertised in the agent
// card and is derived from the request host when empty. SharedSecret, when
// set, protects the session inspection endpoints.
type Config struct {
	Host            string
	Port            int
	BaseURL         string
	ShutdownTimeout time.Duration

	Engine  *agent.Engine
	Metrics *metrics.Metrics
	Logger  zerolog.Logger

	SharedSecret      string
	CORSOrigins       []string
	RequestsPerMinute int
	MaxConcurrent     int
}

// NewServer creates a new gateway server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("agent engine is required")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}

	s := &Server{
		host:            cfg.Host,
		port:            cfg.Port,
		baseURL:         cfg.BaseURL,
		shutdownTimeout: cfg.ShutdownTimeout,
		engine:          cfg.Engine,
		sessions:        cfg.Engine.Sessions(),
		metrics:         cfg.Metrics,
		auth:            NewSecretAuth(cfg.SharedSecret),
		limiter:         NewRateLimiter(cfg.RequestsPerMinute, cfg.MaxConcurrent),
		logger:          cfg.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger), s.trackInFlight())
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:  cfg.CORSOrigins,
			AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", SessionHeader, SecretHeader},
			ExposeHeaders: []string{"Content-Length", SessionHeader},
		}))
	}
	s.attachRoutes(r)
	s.router = r

	return s, nil
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts listening in the background.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.host, fmt.Sprint(s.port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting gateway server")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	return nil
}

// Stop waits for in-flight requests, then shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway server")

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-time.After(s.shutdownTimeout):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown cancelled, forcing close")
	}

	if s.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Gateway server stopped")
	return nil
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShuttingDown
}

// trackInFlight refuses new work during shutdown and counts requests so
// Stop can drain them.
func (s *Server) trackInFlight() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.shuttingDown() {
			abortWithError(c, http.StatusServiceUnavailable, "unavailable", "server is shutting down")
			return
		}
		s.inFlightReqs.Add(1)
		defer s.inFlightReqs.Done()
		c.Next()
	}
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		ev := logger.Debug()
		if status >= http.StatusInternalServerError {
			ev = logger.Error()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")
	}
}

func abortWithError(c *gin.Context, status int, kind, message string) {
	c.AbortWithStatusJSON(status, ErrorBody{Error: ErrorDetail{Message: message, Type: kind}})
}
