package transport

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	errInvalidAttempts   = errors.New("max attempts must be at least 1")
	errInvalidDelay      = errors.New("initial delay must be positive")
	errInvalidMultiplier = errors.New("backoff multiplier must be at least 1")
)

// RetryPolicy bounds how often and how patiently a request is retried.
type RetryPolicy struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	BackoffMultiplier float64
}

// DefaultRetryPolicy returns three attempts starting at two seconds, doubling.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialDelay: 2 * time.Second, BackoffMultiplier: 2}
}

// Validate rejects policies that could never make progress.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return errInvalidAttempts
	}
	if p.InitialDelay <= 0 {
		return errInvalidDelay
	}
	if p.BackoffMultiplier < 1 || math.IsNaN(p.BackoffMultiplier) {
		return errInvalidMultiplier
	}
	return nil
}

// Delay returns the wait that follows the given failed attempt, counted from 1.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	scaled := float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, float64(attempt-1))
	if scaled > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(scaled)
}

// ExhaustedError reports a request that failed on every permitted attempt.
type ExhaustedError struct {
	Target   string
	LastErr  error
	Attempts int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("transport exhausted after %d attempts to %s: %v", e.Attempts, e.Target, e.LastErr)
}

func (e *ExhaustedError) Unwrap() error {
	return e.LastErr
}

// StatusError is the failure recorded for a retryable HTTP status.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// RetryableStatus reports whether a response status warrants another attempt.
func RetryableStatus(statusCode int) bool {
	return statusCode >= 500 || statusCode == 429
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
