// Package backoff provides a retry executor with exponential backoff for
// fallible upstream operations.
//
// The delay before retry n (0-based) is initialDelay * 2^n. There is no
// jitter: retries here guard a single caller's request against transient
// upstream failures, not a fleet against thundering herds, and deterministic
// timing keeps tests exact.
package backoff

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Config bounds the retry loop.
type Config struct {
	// Retries is the number of retries after the first attempt.
	// An operation is attempted at most Retries+1 times.
	Retries int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
}

// DefaultConfig returns the retry budget used for LLM generation calls.
func DefaultConfig() Config {
	return Config{
		Retries:      3,
		InitialDelay: 500 * time.Millisecond,
	}
}

// DelayFor computes the backoff delay preceding retry attempt (0-based),
// doubled when err looks rate-limit shaped.
func (c Config) DelayFor(attempt int, err error) time.Duration {
	delay := c.InitialDelay << attempt
	if classifyError(err) == kindRateLimit {
		delay *= 2
	}
	return delay
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry canceled: %w", ctx.Err())
	case <-time.After(d):
		return nil
	}
}

// errKind buckets an error for logging and backoff shaping. Classification
// never changes retry eligibility: every error is retried until the budget
// runs out.
type errKind string

const (
	kindRateLimit errKind = "rate_limit"
	kindServer    errKind = "server"
	kindClient    errKind = "client"
	kindUnknown   errKind = "unknown"
)

// classifyError buckets err by substring match against its message.
// String matching is deliberate: upstream SDK and transport errors do not
// expose typed sentinels for these conditions.
func classifyError(err error) errKind {
	if err == nil {
		return kindUnknown
	}
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "rate limit", "quota exceeded", "429"):
		return kindRateLimit
	case containsAny(msg, "500", "502", "503", "504", "unavailable", "overloaded"):
		return kindServer
	case containsAny(msg, "400", "401", "403", "404", "invalid request"):
		return kindClient
	default:
		return kindUnknown
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Execute runs fn, retrying on failure with exponential backoff.
//
// After cfg.Retries failed retries the last error is returned unchanged, so
// callers can match it with errors.Is/errors.As exactly as if fn had been
// called directly. Rate-limit shaped errors wait twice the computed delay;
// this affects timing only, never whether a retry happens.
func Execute[T any](ctx context.Context, logger *slog.Logger, cfg Config, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= cfg.Retries; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == cfg.Retries {
			break
		}

		delay := cfg.DelayFor(attempt, err)

		logger.Warn("operation failed, retrying",
			"attempt", attempt+1,
			"max_attempts", cfg.Retries+1,
			"delay", delay,
			"kind", string(classifyError(err)),
			"error", err,
		)

		if sleepErr := Sleep(ctx, delay); sleepErr != nil {
			return zero, sleepErr
		}
	}

	return zero, lastErr
}
