package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/meshagent/internal/metrics"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setupTestStore(t *testing.T, maxSessions, maxEvents int) (*Store, *fakeClock) {
	t.Helper()
	s := NewStore(Config{
		MaxSessions:         maxSessions,
		MaxEventsPerSession: maxEvents,
		Logger:              zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.ErrorLevel),
	})
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	s.now = clock.Now
	return s, clock
}

func TestStore_Defaults(t *testing.T) {
	s := NewStore(Config{Logger: zerolog.Nop()})
	st := s.Stats()
	assert.Equal(t, DefaultMaxSessions, st.MaxSessions)
	assert.Equal(t, DefaultMaxEventsPerSession, st.MaxEventsPerSession)
}

func TestStore_CreateSession(t *testing.T) {
	s, _ := setupTestStore(t, 10, 10)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "app", "alice", "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sess.ID, "session_"))
	assert.Len(t, sess.ID, len("session_")+12)
	assert.Empty(t, sess.Events)

	_, err = s.CreateSession(ctx, "app", "alice", sess.ID)
	assert.ErrorIs(t, err, ErrSessionExists)
}

func TestStore_GetOrCreateIsIdempotent(t *testing.T) {
	s, _ := setupTestStore(t, 10, 10)
	ctx := context.Background()

	first, err := s.GetOrCreateSession(ctx, "app", "u", "custom-id")
	require.NoError(t, err)
	assert.Equal(t, "custom-id", first.ID)

	_, err = s.Record(ctx, "custom-id", UserMessage{Text: "hi"}, nil)
	require.NoError(t, err)

	second, err := s.GetOrCreateSession(ctx, "app", "u", "custom-id")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, second.Events, 1)
	assert.Equal(t, 1, s.Len())
}

func TestStore_AddEventUnknownSession(t *testing.T) {
	s, _ := setupTestStore(t, 10, 10)
	err := s.AddEvent(context.Background(), "missing", NewEvent(UserMessage{Text: "x"}, nil))
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStore_SnapshotsAreCopies(t *testing.T) {
	s, _ := setupTestStore(t, 10, 10)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "app", "u", "")
	require.NoError(t, err)
	_, err = s.Record(ctx, sess.ID, UserMessage{Text: "one"}, nil)
	require.NoError(t, err)

	snap, ok := s.GetSession(ctx, sess.ID)
	require.True(t, ok)
	snap.Events[0] = NewEvent(UserMessage{Text: "tampered"}, nil)

	events, err := s.Events(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "one", events[0].Text())
}

func TestStore_EventTrimming(t *testing.T) {
	tests := []struct {
		max  int
		want int
	}{
		{max: 10, want: 8},
		{max: 5, want: 4},
		{max: 3, want: 3},
		{max: 7, want: 6},
		{max: 1, want: 1},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("max=%d", tt.max), func(t *testing.T) {
			s, _ := setupTestStore(t, 10, tt.max)
			ctx := context.Background()
			sess, err := s.CreateSession(ctx, "app", "u", "")
			require.NoError(t, err)

			for i := 0; i < tt.max+1; i++ {
				_, err := s.Record(ctx, sess.ID, UserMessage{Text: fmt.Sprintf("m%d", i)}, nil)
				require.NoError(t, err)
			}

			events, err := s.Events(ctx, sess.ID)
			require.NoError(t, err)
			require.Len(t, events, tt.want)

			// Survivors are the newest events, in order.
			for i, ev := range events {
				assert.Equal(t, fmt.Sprintf("m%d", tt.max+1-tt.want+i), ev.Text())
			}
		})
	}
}

func TestStore_SessionEviction(t *testing.T) {
	s, clock := setupTestStore(t, 20, 10)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 20; i++ {
		sess, err := s.CreateSession(ctx, "app", "u", fmt.Sprintf("s%02d", i))
		require.NoError(t, err)
		ids = append(ids, sess.ID)
	}

	// Touch the two oldest so they become the most recent.
	clock.Advance(time.Minute)
	_, err := s.Record(ctx, ids[0], UserMessage{Text: "keep"}, nil)
	require.NoError(t, err)
	_, err = s.Record(ctx, ids[1], UserMessage{Text: "keep"}, nil)
	require.NoError(t, err)

	_, err = s.CreateSession(ctx, "app", "u", "newcomer")
	require.NoError(t, err)

	// 20 - max(1, 20/10) + 1
	assert.Equal(t, 19, s.Len())
	_, ok := s.GetSession(ctx, ids[2])
	assert.False(t, ok)
	_, ok = s.GetSession(ctx, ids[3])
	assert.False(t, ok)
	_, ok = s.GetSession(ctx, ids[0])
	assert.True(t, ok)
	_, ok = s.GetSession(ctx, "newcomer")
	assert.True(t, ok)
}

func TestStore_EvictionRemovesAtLeastOne(t *testing.T) {
	s, _ := setupTestStore(t, 3, 10)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.CreateSession(ctx, "app", "u", fmt.Sprintf("s%d", i))
		require.NoError(t, err)
	}
	_, err := s.CreateSession(ctx, "app", "u", "s3")
	require.NoError(t, err)

	assert.Equal(t, 3, s.Len())
	_, ok := s.GetSession(ctx, "s0")
	assert.False(t, ok)
}

func TestStore_EvictedSessionRejectsWrites(t *testing.T) {
	s, _ := setupTestStore(t, 1, 10)
	ctx := context.Background()

	_, err := s.CreateSession(ctx, "app", "u", "old")
	require.NoError(t, err)
	_, err = s.CreateSession(ctx, "app", "u", "new")
	require.NoError(t, err)

	_, err = s.Record(ctx, "old", UserMessage{Text: "late"}, nil)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStore_EventsFilter(t *testing.T) {
	s, _ := setupTestStore(t, 10, 50)
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, "app", "u", "")
	require.NoError(t, err)

	payloads := []Payload{
		UserMessage{Text: "q"},
		ToolCall{Tool: "calc", Arguments: map[string]any{"x": 1}},
		ToolResult{Tool: "calc", Result: 2},
		AgentResponse{Text: "a"},
	}
	for _, p := range payloads {
		_, err := s.Record(ctx, sess.ID, p, nil)
		require.NoError(t, err)
	}

	all, err := s.Events(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i, p := range payloads {
		assert.Equal(t, p.EventType(), all[i].Type)
	}

	tools, err := s.Events(ctx, sess.ID, EventToolCall, EventToolResult)
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, EventToolCall, tools[0].Type)
	assert.Equal(t, EventToolResult, tools[1].Type)

	_, err = s.Events(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStore_BuildConversationContext(t *testing.T) {
	s, _ := setupTestStore(t, 10, 50)
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, "app", "u", "")
	require.NoError(t, err)

	for _, p := range []Payload{
		UserMessage{Text: "first question"},
		ToolCall{Tool: "calc"},
		AgentResponse{Text: "first answer"},
		UserMessage{Text: "second question"},
		AgentResponse{Text: "second answer"},
	} {
		_, err := s.Record(ctx, sess.ID, p, nil)
		require.NoError(t, err)
	}

	full := s.BuildConversationContext(ctx, sess.ID, 20)
	assert.Equal(t, "User: first question\nAssistant: first answer\nUser: second question\nAssistant: second answer", full)

	last := s.BuildConversationContext(ctx, sess.ID, 2)
	assert.Equal(t, "User: second question\nAssistant: second answer", last)

	assert.Empty(t, s.BuildConversationContext(ctx, "missing", 20))
}

func TestStore_ListSessions(t *testing.T) {
	s, _ := setupTestStore(t, 10, 10)
	ctx := context.Background()

	_, err := s.CreateSession(ctx, "app", "alice", "a1")
	require.NoError(t, err)
	_, err = s.CreateSession(ctx, "app", "bob", "b1")
	require.NoError(t, err)
	_, err = s.CreateSession(ctx, "app", "alice", "a2")
	require.NoError(t, err)

	all := s.ListSessions(ctx, "")
	require.Len(t, all, 3)
	assert.Equal(t, "a2", all[0].ID)

	alice := s.ListSessions(ctx, "alice")
	require.Len(t, alice, 2)
	for _, info := range alice {
		assert.Equal(t, "alice", info.UserID)
	}
}

func TestStore_DeleteSession(t *testing.T) {
	s, _ := setupTestStore(t, 10, 10)
	ctx := context.Background()

	_, err := s.CreateSession(ctx, "app", "u", "gone")
	require.NoError(t, err)

	assert.True(t, s.DeleteSession(ctx, "gone"))
	assert.False(t, s.DeleteSession(ctx, "gone"))
	_, ok := s.GetSession(ctx, "gone")
	assert.False(t, ok)
}

func TestStore_CleanupOlderThan(t *testing.T) {
	s, clock := setupTestStore(t, 10, 10)
	ctx := context.Background()

	_, err := s.CreateSession(ctx, "app", "u", "stale")
	require.NoError(t, err)
	clock.Advance(2 * time.Hour)
	_, err = s.CreateSession(ctx, "app", "u", "fresh")
	require.NoError(t, err)

	removed := s.CleanupOlderThan(ctx, time.Hour)
	assert.Equal(t, 1, removed)

	_, ok := s.GetSession(ctx, "stale")
	assert.False(t, ok)
	_, ok = s.GetSession(ctx, "fresh")
	assert.True(t, ok)
}

func TestStore_Stats(t *testing.T) {
	s, _ := setupTestStore(t, 10, 10)
	ctx := context.Background()

	assert.Zero(t, s.Stats().AvgEventsPerSession)

	_, err := s.CreateSession(ctx, "app", "u", "a")
	require.NoError(t, err)
	_, err = s.CreateSession(ctx, "app", "u", "b")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = s.Record(ctx, "a", UserMessage{Text: "x"}, nil)
		require.NoError(t, err)
	}

	st := s.Stats()
	assert.Equal(t, 2, st.TotalSessions)
	assert.Equal(t, 3, st.TotalEvents)
	assert.InDelta(t, 1.5, st.AvgEventsPerSession, 0.0001)
}

func TestStore_ConcurrentWriters(t *testing.T) {
	s, _ := setupTestStore(t, 100, 1000)
	ctx := context.Background()

	const sessions = 8
	const perSession = 50

	for i := 0; i < sessions; i++ {
		_, err := s.CreateSession(ctx, "app", "u", fmt.Sprintf("s%d", i))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		for w := 0; w < 2; w++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				for j := 0; j < perSession; j++ {
					_, err := s.Record(ctx, id, UserMessage{Text: "x"}, nil)
					assert.NoError(t, err)
				}
			}(fmt.Sprintf("s%d", i))
		}
	}
	wg.Wait()

	for i := 0; i < sessions; i++ {
		events, err := s.Events(ctx, fmt.Sprintf("s%d", i))
		require.NoError(t, err)
		assert.Len(t, events, perSession*2)
	}
}

func TestStore_Metrics(t *testing.T) {
	m := metrics.NewMetrics()
	s := NewStore(Config{MaxSessions: 2, MaxEventsPerSession: 5, Metrics: m, Logger: zerolog.Nop()})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.CreateSession(ctx, "app", "u", fmt.Sprintf("s%d", i))
		require.NoError(t, err)
	}
	for i := 0; i < 6; i++ {
		_, err := s.Record(ctx, "s2", UserMessage{Text: "x"}, nil)
		require.NoError(t, err)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SessionsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsEvicted))
	assert.Equal(t, 6.0, testutil.ToFloat64(m.EventsRecorded.WithLabelValues("user_message")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsTrimmed))
}
