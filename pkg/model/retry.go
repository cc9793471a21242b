package model

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"github.com/rs/zerolog"
)

const (
	DefaultMaxRetries     = 3
	DefaultRetryBaseDelay = time.Second
	DefaultTimeout        = 60 * time.Second
)

// IsRetryableError checks if an error should be retried
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var oaiErr *openai.Error
	if errors.As(err, &oaiErr) {
		return retryableStatus(oaiErr.StatusCode)
	}
	var antErr *anthropic.Error
	if errors.As(err, &antErr) {
		return retryableStatus(antErr.StatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errMsg := err.Error()

	// Network errors
	if strings.Contains(errMsg, "ECONNRESET") || strings.Contains(errMsg, "ETIMEDOUT") ||
		strings.Contains(errMsg, "connection reset") || strings.Contains(errMsg, "connection refused") {
		return true
	}

	// Rate limits
	if strings.Contains(errMsg, "429") || strings.Contains(strings.ToLower(errMsg), "rate limit") {
		return true
	}

	// Server errors
	for _, code := range []string{"500", "502", "503", "504"} {
		if strings.Contains(errMsg, code) {
			return true
		}
	}

	return false
}

func retryableStatus(code int) bool {
	return code == 429 || code >= 500
}

type retryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	timeout     time.Duration
	logger      zerolog.Logger
}

func newRetryPolicy(cfg Config) retryPolicy {
	p := retryPolicy{
		maxAttempts: cfg.MaxRetries,
		baseDelay:   cfg.RetryBaseDelay,
		timeout:     cfg.Timeout,
		logger:      cfg.Logger,
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = DefaultMaxRetries
	}
	if p.baseDelay <= 0 {
		p.baseDelay = DefaultRetryBaseDelay
	}
	if p.timeout <= 0 {
		p.timeout = DefaultTimeout
	}
	return p
}

// do runs call with exponential backoff: base, 2*base, 4*base.
func (p retryPolicy) do(ctx context.Context, call func(ctx context.Context) (string, error)) (string, error) {
	var lastErr error

	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
		out, err := call(attemptCtx)
		cancel()
		if err == nil {
			return out, nil
		}

		lastErr = err

		// The caller gave up; don't mistake it for a slow backend.
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !IsRetryableError(err) {
			return "", err
		}
		if attempt == p.maxAttempts-1 {
			break
		}

		delay := p.baseDelay * time.Duration(1<<attempt)
		p.logger.Info().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Err(err).
			Msg("Retrying model call after error")

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}

	return "", fmt.Errorf("max retries (%d) exceeded: %w", p.maxAttempts, lastErr)
}
