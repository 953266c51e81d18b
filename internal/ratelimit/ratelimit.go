// Package ratelimit gates LLM generations per caller identity and usage
// mode. Each (identity, mode) pair gets a token bucket sized to a daily
// request budget; cache hits never reach this package, so only real
// generations spend tokens.
package ratelimit

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	cleanupInterval = 5 * time.Minute
	staleThreshold  = 24 * time.Hour

	secondsPerDay = 24 * 60 * 60
)

// Config sets per-mode daily budgets. Modes without an explicit budget use
// DefaultPerDay; a budget of zero or less denies every request for that mode.
type Config struct {
	RequestsPerDay map[string]int
	DefaultPerDay  int
}

// Limiter is a per-(identity, mode) token bucket limiter. Buckets start
// full and refill continuously across the day. Safe for concurrent use.
//
// Cleanup of stale buckets happens inline during Check calls, the same way
// the HTTP layer's per-IP limiter does it: no background goroutine to
// manage or leak.
type Limiter struct {
	mu          sync.Mutex
	buckets     map[bucketKey]*bucket
	cfg         Config
	lastCleanup time.Time
	logger      *slog.Logger
}

type bucketKey struct {
	identity string
	mode     string
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a Limiter.
func New(cfg Config, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		buckets:     make(map[bucketKey]*bucket),
		cfg:         cfg,
		lastCleanup: time.Now(),
		logger:      logger,
	}
}

func (l *Limiter) budgetFor(mode string) int {
	if n, ok := l.cfg.RequestsPerDay[mode]; ok {
		return n
	}
	return l.cfg.DefaultPerDay
}

// Check reports whether identity may perform a generation under mode,
// consuming one token when it may.
func (l *Limiter) Check(identity, mode string) bool {
	budget := l.budgetFor(mode)
	if budget <= 0 {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.lastCleanup) > cleanupInterval {
		for k, b := range l.buckets {
			if now.Sub(b.lastSeen) > staleThreshold {
				delete(l.buckets, k)
			}
		}
		l.lastCleanup = now
	}

	key := bucketKey{identity: identity, mode: mode}
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{
			limiter: rate.NewLimiter(rate.Limit(float64(budget)/secondsPerDay), budget),
		}
		l.buckets[key] = b
	}
	b.lastSeen = now

	allowed := b.limiter.Allow()
	if !allowed {
		l.logger.Warn("daily generation budget exhausted",
			"identity", identity,
			"mode", mode,
			"budget", budget,
		)
	}
	return allowed
}
