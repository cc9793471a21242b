package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	DefaultRequestsPerMinute = 60
	DefaultMaxConcurrent     = 10
)

// clientWindow tracks one client's requests in the last minute.
type clientWindow struct {
	requests   []time.Time
	concurrent int
}

// RateLimiter applies a sliding one-minute window and a concurrency cap per
// client key.
type RateLimiter struct {
	mu                sync.Mutex
	requestsPerMinute int
	maxConcurrent     int
	clients           map[string]*clientWindow
	now               func() time.Time
}

// NewRateLimiter creates a limiter. Non-positive limits select the defaults.
func NewRateLimiter(requestsPerMinute, maxConcurrent int) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = DefaultRequestsPerMinute
	}
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &RateLimiter{
		requestsPerMinute: requestsPerMinute,
		maxConcurrent:     maxConcurrent,
		clients:           make(map[string]*clientWindow),
		now:               time.Now,
	}
}

// Acquire admits a request for key. On success the returned release func
// must be called when the request ends; otherwise reason says why it was
// rejected.
func (r *RateLimiter) Acquire(key string) (release func(), reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	w := r.clients[key]
	if w == nil {
		w = &clientWindow{}
		r.clients[key] = w
	}
	w.prune(now)

	if w.concurrent >= r.maxConcurrent {
		return nil, "too many concurrent requests"
	}
	if len(w.requests) >= r.requestsPerMinute {
		return nil, "rate limit exceeded"
	}

	w.requests = append(w.requests, now)
	w.concurrent++

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if w.concurrent > 0 {
				w.concurrent--
			}
		})
	}, ""
}

// Stats returns the request count in the current window and the number of
// requests in flight for key.
func (r *RateLimiter) Stats(key string) (requestCount, concurrentCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w := r.clients[key]
	if w == nil {
		return 0, 0
	}
	w.prune(r.now())
	return len(w.requests), w.concurrent
}

// Sweep forgets idle clients.
func (r *RateLimiter) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for key, w := range r.clients {
		w.prune(now)
		if len(w.requests) == 0 && w.concurrent == 0 {
			delete(r.clients, key)
		}
	}
}

func (w *clientWindow) prune(now time.Time) {
	cutoff := now.Add(-time.Minute)
	i := 0
	for i < len(w.requests) && !w.requests[i].After(cutoff) {
		i++
	}
	w.requests = w.requests[i:]
}

// Middleware limits requests per client IP.
func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		release, reason := r.Acquire(c.ClientIP())
		if release == nil {
			abortWithError(c, http.StatusTooManyRequests, "rate_limit_error", reason)
			return
		}
		defer release()
		c.Next()
	}
}
