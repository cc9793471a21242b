// Package peer is the client side of agent-to-agent delegation.
//
// An Agent handle starts inactive, activates by fetching the peer's card and
// drops back to inactive on any discovery or invocation failure. The next
// use re-activates it transparently.
package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/harun/meshagent/internal/metrics"
	"github.com/harun/meshagent/internal/tracing"
	"github.com/harun/meshagent/pkg/model"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultDiscoveryTimeout = 5 * time.Second
	DefaultInvokeTimeout    = 10 * time.Minute
)

// TraceHeader carries the caller's trace id so the peer can continue the trace.
const TraceHeader = "X-Trace-ID"

// ErrUnavailable matches every error returned by a failed discovery or invocation.
var ErrUnavailable = errors.New("peer agent unavailable")

// UnavailableError describes why a peer could not be used.
type UnavailableError struct {
	Peer string
	Op   string
	Err  error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("peer %s unavailable (%s): %v", e.Peer, e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrUnavailable) hold.
func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

// Option configures an Agent.
type Option func(*Agent)

// WithDiscoveryTimeout bounds the card fetch.
func WithDiscoveryTimeout(d time.Duration) Option {
	return func(a *Agent) {
		if d > 0 {
			a.discovery.Timeout = d
		}
	}
}

// WithInvokeTimeout bounds a single delegated completion.
func WithInvokeTimeout(d time.Duration) Option {
	return func(a *Agent) {
		if d > 0 {
			a.invoke.Timeout = d
		}
	}
}

// WithVersionConstraint requires the peer card to advertise a version
// matching constraint, e.g. ">= 0.1, < 1". Empty accepts any card.
func WithVersionConstraint(constraint string) Option {
	return func(a *Agent) {
		a.versionRaw = strings.TrimSpace(constraint)
	}
}

// WithLogger sets the handle's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(a *Agent) { a.logger = logger }
}

// WithMetrics reports activation state changes to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Agent) { a.metrics = m }
}

// Agent is a handle on a remote peer agent.
type Agent struct {
	name      string
	cardURL   string
	discovery *http.Client
	invoke    *http.Client
	logger    zerolog.Logger
	metrics   *metrics.Metrics

	versionRaw string
	version    *semver.Constraints

	mu     sync.RWMutex
	card   *AgentCard
	active bool
}

// New creates an inactive handle for the peer reachable at cardURL.
func New(name, cardURL string, opts ...Option) (*Agent, error) {
	if name == "" {
		return nil, fmt.Errorf("peer name is required")
	}
	if cardURL == "" {
		return nil, fmt.Errorf("peer %s: card url is required", name)
	}

	a := &Agent{
		name:      name,
		cardURL:   strings.TrimRight(cardURL, "/"),
		discovery: &http.Client{Timeout: DefaultDiscoveryTimeout},
		invoke:    &http.Client{Timeout: DefaultInvokeTimeout},
		logger:    log.Logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.versionRaw != "" {
		c, err := semver.NewConstraint(a.versionRaw)
		if err != nil {
			return nil, fmt.Errorf("peer %s: invalid version constraint %q: %w", name, a.versionRaw, err)
		}
		a.version = c
	}
	a.logger = a.logger.With().Str("peer", name).Logger()
	return a, nil
}

// Name returns the name the peer is addressed by in delegations.
func (a *Agent) Name() string { return a.name }

// URL returns the base URL the peer is reached at.
func (a *Agent) URL() string { return a.cardURL }

// Active reports whether the last discovery or invocation succeeded.
func (a *Agent) Active() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.active
}

// Card returns a copy of the cached card, or nil before the first activation.
func (a *Agent) Card() *AgentCard {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.card == nil {
		return nil
	}
	return a.card.clone()
}

// EnsureActive fetches the peer card unless the handle is already active.
func (a *Agent) EnsureActive(ctx context.Context) error {
	if a.Active() {
		return nil
	}

	card, err := a.fetchCard(ctx)
	if err != nil {
		return a.fail(ctx, "discovery", err)
	}
	if err := a.checkVersion(card); err != nil {
		return a.fail(ctx, "discovery", err)
	}
	// The configured address wins over whatever the peer believes its URL is.
	card.URL = a.cardURL

	a.mu.Lock()
	a.card = card
	a.active = true
	a.mu.Unlock()

	a.metrics.RecordPeerState(a.name, "active")
	a.logger.Info().Int("skills", len(card.Skills)).Msg("Peer agent activated")
	return nil
}

func (a *Agent) checkVersion(card *AgentCard) error {
	if a.version == nil {
		return nil
	}
	if card.Version == "" {
		return fmt.Errorf("card has no version, want %s", a.versionRaw)
	}
	v, err := semver.NewVersion(card.Version)
	if err != nil {
		return fmt.Errorf("card version %q: %w", card.Version, err)
	}
	if !a.version.Check(v) {
		return fmt.Errorf("incompatible version %s, want %s", v, a.versionRaw)
	}
	return nil
}

func (a *Agent) fetchCard(ctx context.Context) (*AgentCard, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cardURL+CardPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	a.decorate(ctx, req)

	resp, err := a.discovery.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var card AgentCard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return nil, fmt.Errorf("failed to decode agent card: %w", err)
	}
	return &card, nil
}

type chatRequest struct {
	Model    string          `json:"model"`
	Messages []model.Message `json:"messages"`
	Stream   bool            `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Invoke sends messages to the peer and returns its final answer.
func (a *Agent) Invoke(ctx context.Context, messages []model.Message) (string, error) {
	if err := a.EnsureActive(ctx); err != nil {
		return "", err
	}

	body, err := json.Marshal(chatRequest{Model: a.name, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cardURL+ChatPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	a.decorate(ctx, req)

	start := time.Now()
	resp, err := a.invoke.Do(req)
	if err != nil {
		return "", a.fail(ctx, "invoke", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", a.fail(ctx, "invoke", statusError(resp))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", a.fail(ctx, "invoke", fmt.Errorf("failed to decode response: %w", err))
	}
	if len(out.Choices) == 0 {
		return "", a.fail(ctx, "invoke", errors.New("response has no choices"))
	}

	logger := tracing.LoggerFromContext(ctx, a.logger)
	logger.Debug().
		Dur("duration", time.Since(start)).
		Int("messages", len(messages)).
		Msg("Peer agent answered")

	return out.Choices[0].Message.Content, nil
}

func (a *Agent) decorate(ctx context.Context, req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if traceID := tracing.GetTraceID(ctx); traceID != "" {
		req.Header.Set(TraceHeader, traceID)
	}
	tracing.InjectHTTP(ctx, req.Header)
}

// fail wraps err and deactivates the handle. A caller-side cancellation
// leaves the activation state alone.
func (a *Agent) fail(ctx context.Context, op string, err error) error {
	if ctx.Err() == nil {
		a.mu.Lock()
		wasActive := a.active
		a.active = false
		a.mu.Unlock()

		a.metrics.RecordPeerState(a.name, "inactive")
		if wasActive {
			a.logger.Warn().Err(err).Str("op", op).Msg("Peer agent deactivated")
		} else {
			a.logger.Warn().Err(err).Str("op", op).Msg("Peer agent unreachable")
		}
	}
	return &UnavailableError{Peer: a.name, Op: op, Err: err}
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
