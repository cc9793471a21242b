package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/meshagent/internal/metrics"
	"github.com/harun/meshagent/internal/tracing"
)

const (
	DefaultMaxSessions         = 1000
	DefaultMaxEventsPerSession = 500
)

var (
	// ErrSessionNotFound is returned for unknown or evicted session IDs.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists is returned by CreateSession for a taken ID.
	ErrSessionExists = errors.New("session already exists")
)

// Config configures a Store.
type Config struct {
	MaxSessions         int
	MaxEventsPerSession int
	Metrics             *metrics.Metrics
	Logger              zerolog.Logger
}

// Session is a snapshot of one conversation and its journal.
type Session struct {
	ID        string    `json:"session_id"`
	AppName   string    `json:"app_name"`
	UserID    string    `json:"user_id"`
	Events    []Event   `json:"events"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Info summarizes a session without its events.
type Info struct {
	ID         string    `json:"session_id"`
	AppName    string    `json:"app_name"`
	UserID     string    `json:"user_id"`
	EventCount int       `json:"event_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Stats summarizes the whole store.
type Stats struct {
	TotalSessions       int     `json:"total_sessions"`
	TotalEvents         int     `json:"total_events"`
	AvgEventsPerSession float64 `json:"avg_events_per_session"`
	MaxSessions         int     `json:"max_sessions"`
	MaxEventsPerSession int     `json:"max_events_per_session"`
}

// entry guards one session. Writers to the same session serialize on mu;
// deleted is set when the session is evicted so late writers fail cleanly.
type entry struct {
	mu      sync.Mutex
	session Session
	deleted bool
}

// Store is a bounded, process-local session journal. The map lock is always
// taken before an entry lock, never the other way round.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	maxSessions int
	maxEvents   int
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	now         func() time.Time
}

// NewStore creates an empty store, applying defaults for unset limits.
func NewStore(cfg Config) *Store {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.MaxEventsPerSession <= 0 {
		cfg.MaxEventsPerSession = DefaultMaxEventsPerSession
	}

	s := &Store{
		sessions:    make(map[string]*entry),
		maxSessions: cfg.MaxSessions,
		maxEvents:   cfg.MaxEventsPerSession,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		now:         func() time.Time { return time.Now().UTC() },
	}

	s.logger.Info().
		Int("max_sessions", s.maxSessions).
		Int("max_events_per_session", s.maxEvents).
		Msg("Session store initialized")

	return s
}

// NewSessionID generates a session ID.
func NewSessionID() string {
	return "session_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

// CreateSession creates a session. An empty sessionID is generated.
func (s *Store) CreateSession(ctx context.Context, appName, userID, sessionID string) (*Session, error) {
	if sessionID == "" {
		sessionID = NewSessionID()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, sessionID)
	}

	sess := s.insertLocked(ctx, appName, userID, sessionID)
	return sess, nil
}

// GetOrCreateSession returns the session with sessionID, creating it if it
// does not exist. An empty sessionID always creates a new session.
func (s *Store) GetOrCreateSession(ctx context.Context, appName, userID, sessionID string) (*Session, error) {
	if sessionID == "" {
		return s.CreateSession(ctx, appName, userID, "")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.sessions[sessionID]; ok {
		return e.snapshot(), nil
	}

	return s.insertLocked(ctx, appName, userID, sessionID), nil
}

// insertLocked adds a session, evicting the oldest ones first when the store is
// full. The caller holds s.mu.
func (s *Store) insertLocked(ctx context.Context, appName, userID, sessionID string) *Session {
	if len(s.sessions) >= s.maxSessions {
		s.evictOldestLocked(ctx)
	}

	now := s.now()
	e := &entry{session: Session{
		ID:        sessionID,
		AppName:   appName,
		UserID:    userID,
		Events:    []Event{},
		CreatedAt: now,
		UpdatedAt: now,
	}}
	s.sessions[sessionID] = e
	s.metrics.SetSessions(len(s.sessions))

	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Debug().
		Str("session_id", sessionID).
		Str("user_id", userID).
		Msg("Session created")

	return e.snapshot()
}

// evictOldestLocked removes the least recently updated tenth of the sessions,
// at least one. The caller holds s.mu.
func (s *Store) evictOldestLocked(ctx context.Context) {
	type aged struct {
		id      string
		updated time.Time
	}

	all := make([]aged, 0, len(s.sessions))
	for id, e := range s.sessions {
		e.mu.Lock()
		all = append(all, aged{id: id, updated: e.session.UpdatedAt})
		e.mu.Unlock()
	}
	sort.Slice(all, func(i, j int) bool { return all[i].updated.Before(all[j].updated) })

	n := max(1, s.maxSessions/10)
	if n > len(all) {
		n = len(all)
	}
	for _, a := range all[:n] {
		s.removeLocked(a.id)
	}
	s.metrics.RecordEvictions(n)

	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Info().
		Int("evicted", n).
		Int("remaining", len(s.sessions)).
		Msg("Session capacity reached, evicted oldest sessions")
}

func (s *Store) removeLocked(id string) bool {
	e, ok := s.sessions[id]
	if !ok {
		return false
	}
	e.mu.Lock()
	e.deleted = true
	e.mu.Unlock()
	delete(s.sessions, id)
	return true
}

func (s *Store) lookup(id string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[id]
	return e, ok
}

// GetSession returns a snapshot of the session.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*Session, bool) {
	e, ok := s.lookup(sessionID)
	if !ok {
		return nil, false
	}
	return e.snapshot(), true
}

// AddEvent appends ev to the session journal, trimming the oldest events when
// the per-session cap is exceeded.
func (s *Store) AddEvent(ctx context.Context, sessionID string, ev Event) error {
	e, ok := s.lookup(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.deleted {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	e.session.Events = append(e.session.Events, ev)
	e.session.UpdatedAt = s.now()
	s.metrics.RecordEvent(string(ev.Type))

	if len(e.session.Events) > s.maxEvents {
		keep := trimTarget(s.maxEvents)
		dropped := len(e.session.Events) - keep
		kept := make([]Event, keep)
		copy(kept, e.session.Events[dropped:])
		e.session.Events = kept
		s.metrics.RecordTrimmed(dropped)

		logger := tracing.LoggerFromContext(ctx, s.logger)
		logger.Debug().
			Str("session_id", sessionID).
			Int("dropped", dropped).
			Int("kept", keep).
			Msg("Session journal trimmed")
	}

	return nil
}

// Record builds an event from payload and appends it.
func (s *Store) Record(ctx context.Context, sessionID string, payload Payload, metadata map[string]any) (Event, error) {
	ev := NewEvent(payload, metadata)
	if err := s.AddEvent(ctx, sessionID, ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// trimTarget is ceil(0.8 * limit).
func trimTarget(limit int) int {
	return (limit*4 + 4) / 5
}

// Events returns the session's events in order, optionally filtered by type.
func (s *Store) Events(ctx context.Context, sessionID string, types ...EventType) ([]Event, error) {
	e, ok := s.lookup(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(types) == 0 {
		out := make([]Event, len(e.session.Events))
		copy(out, e.session.Events)
		return out, nil
	}

	want := make(map[EventType]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	out := make([]Event, 0, len(e.session.Events))
	for _, ev := range e.session.Events {
		if want[ev.Type] {
			out = append(out, ev)
		}
	}
	return out, nil
}

// BuildConversationContext renders the last maxEvents user and agent turns as
// "User: ..." and "Assistant: ..." lines. Unknown sessions render as "".
func (s *Store) BuildConversationContext(ctx context.Context, sessionID string, maxEvents int) string {
	turns, err := s.Events(ctx, sessionID, EventUserMessage, EventAgentResponse)
	if err != nil || len(turns) == 0 {
		return ""
	}
	if maxEvents > 0 && len(turns) > maxEvents {
		turns = turns[len(turns)-maxEvents:]
	}

	lines := make([]string, 0, len(turns))
	for _, ev := range turns {
		switch ev.Type {
		case EventUserMessage:
			lines = append(lines, "User: "+ev.Text())
		case EventAgentResponse:
			lines = append(lines, "Assistant: "+ev.Text())
		}
	}
	return strings.Join(lines, "\n")
}

// ListSessions returns summaries, most recently updated first. A non-empty
// userID filters by owner.
func (s *Store) ListSessions(ctx context.Context, userID string) []Info {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]Info, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.deleted && (userID == "" || e.session.UserID == userID) {
			out = append(out, Info{
				ID:         e.session.ID,
				AppName:    e.session.AppName,
				UserID:     e.session.UserID,
				EventCount: len(e.session.Events),
				CreatedAt:  e.session.CreatedAt,
				UpdatedAt:  e.session.UpdatedAt,
			})
		}
		e.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// DeleteSession removes a session. It reports whether the session existed.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok := s.removeLocked(sessionID)
	if ok {
		s.metrics.SetSessions(len(s.sessions))
		logger := tracing.LoggerFromContext(ctx, s.logger)
		logger.Debug().Str("session_id", sessionID).Msg("Session deleted")
	}
	return ok
}

// CleanupOlderThan removes sessions not updated within maxAge and returns how
// many were removed.
func (s *Store) CleanupOlderThan(ctx context.Context, maxAge time.Duration) int {
	_, span := tracing.StartSpan(ctx, "meshagent.session", "session.cleanup",
		attribute.String("max_age", maxAge.String()))
	defer span.End()

	cutoff := s.now().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []string
	for id, e := range s.sessions {
		e.mu.Lock()
		if e.session.UpdatedAt.Before(cutoff) {
			stale = append(stale, id)
		}
		e.mu.Unlock()
	}
	for _, id := range stale {
		s.removeLocked(id)
	}

	s.metrics.RecordEvictions(len(stale))
	s.metrics.SetSessions(len(s.sessions))
	span.SetAttributes(attribute.Int("removed", len(stale)))

	return len(stale)
}

// Len returns the number of sessions held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Stats summarizes the store.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		TotalSessions:       len(s.sessions),
		MaxSessions:         s.maxSessions,
		MaxEventsPerSession: s.maxEvents,
	}
	for _, e := range s.sessions {
		e.mu.Lock()
		st.TotalEvents += len(e.session.Events)
		e.mu.Unlock()
	}
	if st.TotalSessions > 0 {
		st.AvgEventsPerSession = float64(st.TotalEvents) / float64(st.TotalSessions)
	}
	return st
}

func (e *entry) snapshot() *Session {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp := e.session
	cp.Events = make([]Event, len(e.session.Events))
	copy(cp.Events, e.session.Events)
	return &cp
}
