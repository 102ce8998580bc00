package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/bilgece/retrieval/internal/core/domain"
	"github.com/bilgece/retrieval/internal/core/ports"
)

// Limiter gates LLM calls with a local token bucket and, optionally, a
// shared counter so all process instances stay under one provider limit.
type Limiter struct {
	local *rate.Limiter

	shared       ports.SharedCounter
	sharedKey    string
	sharedLimit  int64
	sharedWindow time.Duration
}

func NewLimiter(rps float64, burst int) *Limiter {
	if rps <= 0 {
		rps = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{local: rate.NewLimiter(rate.Limit(rps), burst)}
}

// WithSharedCounter enables cross-instance accounting on a rolling window
// counter. limit is the collective call budget per window.
func (l *Limiter) WithSharedCounter(counter ports.SharedCounter, key string, limit int64, window time.Duration) *Limiter {
	l.shared = counter
	l.sharedKey = key
	l.sharedLimit = limit
	l.sharedWindow = window
	return l
}

// Allow admits or rejects one call. Rejections carry domain.ErrRateLimited.
// A failing shared counter degrades to local-only accounting; losing the
// counter must not take the pipeline down with it.
func (l *Limiter) Allow(ctx context.Context) error {
	if !l.local.Allow() {
		return fmt.Errorf("local rate limiter: %w", domain.ErrRateLimited)
	}

	if l.shared == nil || l.sharedLimit <= 0 {
		return nil
	}

	key := l.sharedKey + ":" + time.Now().UTC().Truncate(l.sharedWindow).Format("20060102150405")
	count, err := l.shared.IncrBy(ctx, key, 1)
	if err != nil {
		slog.Warn("shared_rate_counter_unavailable", "error", err)
		return nil
	}
	if count == 1 {
		if err := l.shared.Expire(ctx, key, l.sharedWindow); err != nil {
			slog.Warn("shared_rate_counter_expire_failed", "error", err)
		}
	}
	if count > l.sharedLimit {
		return fmt.Errorf("shared rate limiter: %w", domain.ErrRateLimited)
	}
	return nil
}
