package embedder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// RetryConfig bounds the attempts made against a remote backend
type RetryConfig struct {
	MaxRetries int // total attempts, at least one
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
}

// DefaultRetryConfig is used when a backend has no explicit policy
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: MaxRetries,
		BaseDelay:  InitialBackoffMs * time.Millisecond,
		MaxDelay:   MaxBackoffMs * time.Millisecond,
		Multiplier: BackoffMultiplier,
	}
}

// delay returns the wait before attempt n+1, n counting from zero
func (c RetryConfig) delay(n int) time.Duration {
	d := float64(c.BaseDelay)
	for range n {
		d *= c.Multiplier
		if c.MaxDelay > 0 && d >= float64(c.MaxDelay) {
			return c.MaxDelay
		}
	}
	return time.Duration(d)
}

// APIError is a non-2xx response from a remote backend
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Retryable is true for rate limiting and server errors
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// permanent reports errors that repeating the call cannot fix
func permanent(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return !apiErr.Retryable()
	}
	return errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrEmptyText) || errors.Is(err, ErrBatchTooLarge)
}

// withRetry calls fn until it succeeds or a retry cannot help; the last
// error is returned
func withRetry[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	attempts := max(cfg.MaxRetries, 1)

	for n := 0; ; n++ {
		v, err := fn()
		switch {
		case err == nil:
			return v, nil
		case ctx.Err() != nil:
			return zero, ctx.Err()
		case permanent(err), n == attempts-1:
			return zero, err
		}

		t := time.NewTimer(cfg.delay(n))
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, ctx.Err()
		case <-t.C:
		}
	}
}
