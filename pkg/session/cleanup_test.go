package session

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJanitor_StartStop(t *testing.T) {
	s, _ := setupTestStore(t, 10, 10)
	j := NewJanitor(s, 0, "", zerolog.Nop())

	assert.Equal(t, DefaultCleanupAge, j.cleanupAge)
	assert.Equal(t, DefaultCleanupSchedule, j.schedule)

	require.NoError(t, j.Start())
	assert.Error(t, j.Start())

	require.NoError(t, j.Stop())
	assert.Error(t, j.Stop())
}

func TestJanitor_InvalidSchedule(t *testing.T) {
	s, _ := setupTestStore(t, 10, 10)
	j := NewJanitor(s, time.Hour, "not a schedule", zerolog.Nop())

	assert.Error(t, j.Start())
}

func TestJanitor_RunOnce(t *testing.T) {
	s, clock := setupTestStore(t, 10, 10)
	ctx := context.Background()

	_, err := s.CreateSession(ctx, "app", "u", "old")
	require.NoError(t, err)
	clock.Advance(48 * time.Hour)
	_, err = s.CreateSession(ctx, "app", "u", "recent")
	require.NoError(t, err)

	NewJanitor(s, 24*time.Hour, "@every 1h", zerolog.Nop()).RunOnce()

	_, ok := s.GetSession(ctx, "old")
	assert.False(t, ok)
	_, ok = s.GetSession(ctx, "recent")
	assert.True(t, ok)
}
