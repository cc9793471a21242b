package model

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
)

// Scripted answers from a FIFO queue of canned responses and falls back to
// another backend once the queue is drained. It is used for deterministic
// tests and demos.
type Scripted struct {
	mu       sync.Mutex
	queue    []string
	fallback Backend
	calls    [][]Message
}

// NewScripted creates a scripted backend. fallback may be nil.
func NewScripted(responses []string, fallback Backend) *Scripted {
	q := make([]string, len(responses))
	copy(q, responses)
	return &Scripted{queue: q, fallback: fallback}
}

// Complete pops the next canned response.
func (s *Scripted) Complete(ctx context.Context, messages []Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	cp := make([]Message, len(messages))
	copy(cp, messages)
	s.calls = append(s.calls, cp)

	if len(s.queue) > 0 {
		next := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		return next, nil
	}
	fallback := s.fallback
	s.mu.Unlock()

	if fallback == nil {
		return "", ErrNoResponse
	}
	return fallback.Complete(ctx, messages)
}

// Push appends responses to the queue.
func (s *Scripted) Push(responses ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, responses...)
}

// Remaining returns the number of queued responses.
func (s *Scripted) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Calls returns copies of the conversations passed to Complete, in order.
func (s *Scripted) Calls() [][]Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Message, len(s.calls))
	copy(out, s.calls)
	return out
}

// ParseMockResponses decodes a JSON array of strings, or treats any other
// non-empty value as a single response.
func ParseMockResponses(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, "[") {
		var list []string
		if err := json.Unmarshal([]byte(raw), &list); err == nil {
			return list
		}
	}
	return []string{raw}
}
