package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/meshagent/internal/metrics"
	"github.com/harun/meshagent/internal/tracing"
	"github.com/harun/meshagent/pkg/model"
	"github.com/harun/meshagent/pkg/peer"
	"github.com/harun/meshagent/pkg/session"
	"github.com/harun/meshagent/pkg/tools"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultMaxSteps           = 5
	DefaultMemoryContextLimit = 6
	DefaultContextWindow      = 20
	DefaultAppName            = "meshagent"
	DefaultUserID             = "user"
)

// Config holds engine configuration
type Config struct {
	Name         string
	Description  string
	Instructions string
	AppName      string
	UserID       string
	// Version is advertised in the agent card.
	Version string

	Backend  model.Backend
	Tools    []tools.Provider
	Peers    []*peer.Agent
	Sessions *session.Store
	Tracker  *tracing.Tracker
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger

	// MaxSteps bounds model calls per request.
	MaxSteps int
	// MemoryContextLimit is how many trailing messages a delegated task carries.
	MemoryContextLimit int
	// ContextWindow is how many prior turns are replayed from the session.
	ContextWindow int
}

// Engine is the reasoning loop of one agent.
type Engine struct {
	name         string
	description  string
	instructions string
	appName      string
	userID       string
	version      string

	backend  model.Backend
	tools    []tools.Provider
	peers    map[string]*peer.Agent
	order    []string
	sessions *session.Store
	tracker  *tracing.Tracker
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	maxSteps      int
	memoryLimit   int
	contextWindow int
}

// Request is one call into the engine.
type Request struct {
	Messages  []model.Message
	SessionID string
	Stream    bool
}

// Stream delivers the engine's answer. Chunks is closed when the request ends.
type Stream struct {
	SessionID string
	Chunks    <-chan string
}

// Reply is a fully collected answer.
type Reply struct {
	SessionID string
	Content   string
}

// UserInput wraps a single utterance as a request message list.
func UserInput(text string) []model.Message {
	return []model.Message{{Role: model.RoleUser, Content: text}}
}

// New creates an engine
func New(cfg Config) (*Engine, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("agent name is required")
	}
	if cfg.Backend == nil {
		return nil, fmt.Errorf("model backend is required")
	}
	if cfg.Sessions == nil {
		cfg.Sessions = session.NewStore(session.Config{Metrics: cfg.Metrics, Logger: cfg.Logger})
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.MemoryContextLimit <= 0 {
		cfg.MemoryContextLimit = DefaultMemoryContextLimit
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = DefaultContextWindow
	}
	if cfg.AppName == "" {
		cfg.AppName = DefaultAppName
	}
	if cfg.UserID == "" {
		cfg.UserID = DefaultUserID
	}

	peers := make(map[string]*peer.Agent, len(cfg.Peers))
	order := make([]string, 0, len(cfg.Peers))
	for _, p := range cfg.Peers {
		if p == nil {
			continue
		}
		if _, dup := peers[p.Name()]; dup {
			return nil, fmt.Errorf("duplicate peer %s", p.Name())
		}
		peers[p.Name()] = p
		order = append(order, p.Name())
	}

	return &Engine{
		name:          cfg.Name,
		description:   cfg.Description,
		instructions:  cfg.Instructions,
		appName:       cfg.AppName,
		userID:        cfg.UserID,
		version:       cfg.Version,
		backend:       cfg.Backend,
		tools:         cfg.Tools,
		peers:         peers,
		order:         order,
		sessions:      cfg.Sessions,
		tracker:       cfg.Tracker,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger.With().Str("agent", cfg.Name).Logger(),
		maxSteps:      cfg.MaxSteps,
		memoryLimit:   cfg.MemoryContextLimit,
		contextWindow: cfg.ContextWindow,
	}, nil
}

// Name returns the agent name.
func (e *Engine) Name() string { return e.name }

// Description returns the agent description.
func (e *Engine) Description() string { return e.description }

// Sessions returns the session journal the engine writes to.
func (e *Engine) Sessions() *session.Store { return e.sessions }

// Tools returns the tool providers in configuration order.
func (e *Engine) Tools() []tools.Provider { return e.tools }

// Peers returns the peer handles in configuration order.
func (e *Engine) Peers() []*peer.Agent {
	out := make([]*peer.Agent, 0, len(e.order))
	for _, name := range e.order {
		out = append(out, e.peers[name])
	}
	return out
}

// Process starts the reasoning loop for req and returns its output stream.
// The session is resolved before Process returns, so Stream.SessionID is
// always set.
func (e *Engine) Process(ctx context.Context, req Request) *Stream {
	if ctx == nil {
		ctx = context.Background()
	}

	sessionID := req.SessionID
	sess, err := e.sessions.GetOrCreateSession(ctx, e.appName, e.userID, sessionID)
	if err == nil {
		sessionID = sess.ID
	}

	out := make(chan string)
	go e.run(ctx, sessionID, err, req, out)

	return &Stream{SessionID: sessionID, Chunks: out}
}

// Complete runs req to the end and returns the concatenated output.
func (e *Engine) Complete(ctx context.Context, req Request) (Reply, error) {
	stream := e.Process(ctx, req)

	var sb strings.Builder
	for chunk := range stream.Chunks {
		sb.WriteString(chunk)
	}
	if err := ctx.Err(); err != nil {
		return Reply{SessionID: stream.SessionID}, err
	}
	return Reply{SessionID: stream.SessionID, Content: sb.String()}, nil
}

// Close releases the engine's tool providers.
func (e *Engine) Close() error {
	var errs []string
	for _, p := range e.tools {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", p.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to close tool providers: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (e *Engine) run(ctx context.Context, sessionID string, resolveErr error, req Request, out chan<- string) {
	defer close(out)

	ctx = tracing.NewRunContext(ctx, e.name, sessionID)
	ctx = e.tracker.Begin(ctx, "agent.process",
		tracing.KindRequest,
		attribute.String("agent", e.name),
		attribute.String("session_id", sessionID),
		attribute.Bool("stream", req.Stream),
	)
	logger := tracing.LoggerFromContext(ctx, e.logger)

	var (
		text string
		err  = resolveErr
	)
	if err == nil {
		text, err = e.reason(ctx, sessionID, req.Messages)
	}

	switch {
	case err != nil && ctx.Err() != nil:
		e.tracker.Failure(ctx, ctx.Err())
		e.metrics.RecordTermination("canceled")
		logger.Info().Err(err).Msg("Request abandoned by caller")
		return
	case err != nil:
		e.tracker.Failure(ctx, err)
		e.metrics.RecordTermination("error")
		logger.Error().Err(err).Msg("Reasoning loop failed")
		e.record(ctx, sessionID, session.ErrorReport{Message: err.Error()}, nil)
		text = "Sorry, I encountered an error: " + err.Error()
	default:
		e.tracker.Success(ctx)
	}

	e.emit(ctx, text, req.Stream, out)
}

// emit sends text as one chunk, or word by word when streaming.
func (e *Engine) emit(ctx context.Context, text string, stream bool, out chan<- string) {
	chunks := []string{text}
	if stream {
		words := strings.Fields(text)
		chunks = make([]string, len(words))
		for i, w := range words {
			chunks[i] = w + " "
		}
	}

	for _, c := range chunks {
		select {
		case out <- c:
		case <-ctx.Done():
			return
		}
	}
}

// record appends an event, logging rather than failing when the session is
// gone (evicted or deleted while the request was in flight).
func (e *Engine) record(ctx context.Context, sessionID string, payload session.Payload, metadata map[string]any) {
	if _, err := e.sessions.Record(ctx, sessionID, payload, metadata); err != nil {
		logger := tracing.LoggerFromContext(ctx, e.logger)
		logger.Warn().
			Err(err).
			Str("event_type", string(payload.EventType())).
			Msg("Failed to record session event")
	}
}
