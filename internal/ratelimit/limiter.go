package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/elaracare/elara/server/domain"
)

// Config describes one limiter: Events allowed per Window, with Burst
// immediately available tokens.
type Config struct {
	Events int
	Window time.Duration
	Burst  int
}

// Limiter applies a token-bucket rate limit per key (identity or IP).
// A denial never partially admits: either the event is admitted in full or
// the caller gets a retry-after hint.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	limit   rate.Limit
	burst   int
	window  time.Duration
	logger  *zap.Logger
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a keyed limiter from the given config
func New(cfg Config, logger *zap.Logger) *Limiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.Events
	}
	return &Limiter{
		entries: make(map[string]*entry),
		limit:   rate.Limit(float64(cfg.Events) / cfg.Window.Seconds()),
		burst:   burst,
		window:  cfg.Window,
		logger:  logger,
	}
}

// Allow admits one event for the key, or returns a *domain.RateLimitError
// carrying the time to wait before the next event would be admitted.
func (l *Limiter) Allow(key string) error {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = e
	}
	e.lastSeen = time.Now()
	l.mu.Unlock()

	res := e.limiter.Reserve()
	if !res.OK() {
		return &domain.RateLimitError{RetryAfter: l.window}
	}
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		l.logger.Warn("rate limit exceeded",
			zap.String("key", key),
			zap.Duration("retryAfter", delay))
		return &domain.RateLimitError{RetryAfter: delay}
	}
	return nil
}

// Janitor periodically drops entries that have been idle for several
// windows, so the per-key map does not grow without bound.
func (l *Limiter) Janitor(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-3 * l.window)
			l.mu.Lock()
			for key, e := range l.entries {
				if e.lastSeen.Before(cutoff) {
					delete(l.entries, key)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Len returns the number of tracked keys
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
