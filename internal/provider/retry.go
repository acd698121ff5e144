package provider

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
)

// RetryEngine wraps an Engine with exponential backoff retry logic.
type RetryEngine struct {
	inner      Engine
	maxRetries int
	baseDelay  time.Duration
}

func WithRetry(e Engine, maxRetries int) *RetryEngine {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &RetryEngine{inner: e, maxRetries: maxRetries, baseDelay: 500 * time.Millisecond}
}

func (r *RetryEngine) Name() string             { return r.inner.Name() }
func (r *RetryEngine) MaxContextSize() int      { return r.inner.MaxContextSize() }
func (r *RetryEngine) MessageLen(m Message) int { return r.inner.MessageLen(m) }
func (r *RetryEngine) Close() error             { return r.inner.Close() }

// Unwrap returns the wrapped engine.
func (r *RetryEngine) Unwrap() Engine { return r.inner }

func (r *RetryEngine) Complete(ctx context.Context, msgs []Message, tools []ToolDef) (*Completion, error) {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		c, err := r.inner.Complete(ctx, msgs, tools)
		if err == nil {
			return c, nil
		}
		lastErr = err
		if !isRetryable(err) || attempt == r.maxRetries {
			break
		}
		if err := r.backoff(ctx, attempt); err != nil {
			return nil, lastErr
		}
	}
	return nil, fmt.Errorf("after %d retries: %w", r.maxRetries, lastErr)
}

func isRetryable(err error) bool {
	msg := err.Error()
	// Retry on rate limits, server errors, connection issues
	for _, s := range []string{"429", "500", "502", "503", "529", "connection refused", "timeout", "timed out", "deadline exceeded", "EOF", "reset by peer"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (r *RetryEngine) backoff(ctx context.Context, attempt int) error {
	delay := time.Duration(float64(r.baseDelay) * math.Pow(2, float64(attempt)))
	if delay > 30*time.Second {
		delay = 30 * time.Second
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
