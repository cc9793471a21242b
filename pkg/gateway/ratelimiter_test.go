package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_Acquire(t *testing.T) {
	t.Run("should allow requests under limit", func(t *testing.T) {
		limiter := NewRateLimiter(10, 5)

		for i := 0; i < 5; i++ {
			release, reason := limiter.Acquire("client")
			require.NotNil(t, release)
			assert.Empty(t, reason)
		}
	})

	t.Run("should reject when concurrent limit exceeded", func(t *testing.T) {
		limiter := NewRateLimiter(100, 3)

		for i := 0; i < 3; i++ {
			release, _ := limiter.Acquire("client")
			require.NotNil(t, release)
		}

		release, reason := limiter.Acquire("client")
		assert.Nil(t, release)
		assert.Equal(t, "too many concurrent requests", reason)

		other, _ := limiter.Acquire("other")
		assert.NotNil(t, other, "limits are per client")
	})

	t.Run("should reject when rate limit exceeded", func(t *testing.T) {
		limiter := NewRateLimiter(5, 10)

		for i := 0; i < 5; i++ {
			release, _ := limiter.Acquire("client")
			require.NotNil(t, release)
			release()
		}

		release, reason := limiter.Acquire("client")
		assert.Nil(t, release)
		assert.Equal(t, "rate limit exceeded", reason)
	})

	t.Run("should allow requests after window expires", func(t *testing.T) {
		limiter := NewRateLimiter(2, 10)
		now := time.Now()
		limiter.now = func() time.Time { return now }

		for i := 0; i < 2; i++ {
			release, _ := limiter.Acquire("client")
			require.NotNil(t, release)
			release()
		}
		release, _ := limiter.Acquire("client")
		assert.Nil(t, release)

		now = now.Add(61 * time.Second)
		release, reason := limiter.Acquire("client")
		assert.NotNil(t, release)
		assert.Empty(t, reason)
	})
}

func TestRateLimiter_ReleaseIsIdempotent(t *testing.T) {
	limiter := NewRateLimiter(10, 2)

	release, _ := limiter.Acquire("client")
	require.NotNil(t, release)
	_, _ = limiter.Acquire("client")

	release()
	release()

	count, concurrent := limiter.Stats("client")
	assert.Equal(t, 2, count)
	assert.Equal(t, 1, concurrent)
}

func TestRateLimiter_Defaults(t *testing.T) {
	limiter := NewRateLimiter(0, -1)
	assert.Equal(t, DefaultRequestsPerMinute, limiter.requestsPerMinute)
	assert.Equal(t, DefaultMaxConcurrent, limiter.maxConcurrent)
}

func TestRateLimiter_Sweep(t *testing.T) {
	limiter := NewRateLimiter(10, 10)
	now := time.Now()
	limiter.now = func() time.Time { return now }

	release, _ := limiter.Acquire("idle")
	release()
	_, _ = limiter.Acquire("busy")

	now = now.Add(2 * time.Minute)
	limiter.Sweep()

	assert.NotContains(t, limiter.clients, "idle")
	assert.Contains(t, limiter.clients, "busy")
}
