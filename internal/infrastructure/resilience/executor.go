package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/bilgece/retrieval/internal/core/domain"
)

type ErrorClassification struct {
	Retryable     bool
	RecordFailure bool

	// RateLimited forces the operation's breaker open immediately.
	// RetryAfter, when positive, extends the open hold beyond the
	// configured breaker timeout.
	RateLimited bool
	RetryAfter  time.Duration
}

type ErrorClassifier func(err error) ErrorClassification

// Executor runs dependency calls behind per-operation circuit breakers
// with a bounded cheap retry for transient failures.
type Executor struct {
	cfg Config

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
	holds    map[string]time.Time

	now func() time.Time
}

func NewExecutor(cfg Config) *Executor {
	return &Executor{
		cfg:      cfg.normalize(),
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
		holds:    make(map[string]time.Time),
		now:      time.Now,
	}
}

func (e *Executor) Execute(
	ctx context.Context,
	operation string,
	fn func(context.Context) error,
	classifier ErrorClassifier,
) error {
	if fn == nil {
		return fmt.Errorf("resilience: operation callback is nil")
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	if classifier == nil {
		classifier = defaultClassifier
	}

	if until, held := e.heldUntil(op); held {
		return fmt.Errorf("%s: rate limit hold until %s: %w", op, until.Format(time.RFC3339), gobreaker.ErrOpenState)
	}

	if !e.cfg.BreakerEnabled {
		err := e.executeWithRetry(ctx, op, fn, classifier)
		if err != nil {
			e.recordRateLimit(op, classifier(err))
		}
		return err
	}

	breaker := e.circuitBreaker(op, classifier)
	_, err := breaker.Execute(func() (any, error) {
		return nil, e.executeWithRetry(ctx, op, fn, classifier)
	})
	if err != nil {
		e.recordRateLimit(op, classifier(err))
	}
	return err
}

// State reports the breaker state for one operation. Operations that have
// never tripped, or never run, report closed. A rate-limit hold counts as
// open until it expires.
func (e *Executor) State(operation string) domain.CircuitState {
	if _, held := e.heldUntil(operation); held {
		return domain.CircuitOpen
	}

	e.mu.Lock()
	breaker, ok := e.breakers[operation]
	e.mu.Unlock()
	if !ok {
		return domain.CircuitClosed
	}

	switch breaker.State() {
	case gobreaker.StateOpen:
		return domain.CircuitOpen
	case gobreaker.StateHalfOpen:
		return domain.CircuitHalfOpen
	default:
		return domain.CircuitClosed
	}
}

func (e *Executor) executeWithRetry(
	ctx context.Context,
	operation string,
	fn func(context.Context) error,
	classifier ErrorClassifier,
) error {
	maxAttempts := e.cfg.RetryMaxAttempts
	backoff := e.cfg.RetryInitialBackoff

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		class := classifier(err)
		if class.RateLimited || !class.Retryable || attempt == maxAttempts {
			return err
		}

		wait := backoff
		if wait > e.cfg.RetryMaxBackoff {
			wait = e.cfg.RetryMaxBackoff
		}
		slog.Warn("retry_attempt",
			"operation", operation,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"backoff_ms", float64(wait.Microseconds())/1000.0,
			"error", err,
		)

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return err
			case <-timer.C:
			}
		}

		backoff = time.Duration(float64(backoff) * e.cfg.RetryMultiplier)
		if backoff > e.cfg.RetryMaxBackoff {
			backoff = e.cfg.RetryMaxBackoff
		}
	}

	return nil
}

func (e *Executor) circuitBreaker(operation string, classifier ErrorClassifier) *gobreaker.CircuitBreaker[any] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if breaker, ok := e.breakers[operation]; ok {
		return breaker
	}

	settings := gobreaker.Settings{
		Name:        operation,
		MaxRequests: e.cfg.BreakerHalfOpenMaxCalls,
		Interval:    e.cfg.BreakerWindow,
		Timeout:     e.cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= e.cfg.BreakerConsecutiveFailures {
				return true
			}
			if counts.Requests < e.cfg.BreakerMinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= e.cfg.BreakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			class := classifier(err)
			return !class.RecordFailure && !class.RateLimited
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("circuit_breaker_state_change", "operation", name, "from", from.String(), "to", to.String())
		},
	}

	breaker := gobreaker.NewCircuitBreaker[any](settings)
	e.breakers[operation] = breaker
	return breaker
}

func (e *Executor) recordRateLimit(operation string, class ErrorClassification) {
	if !class.RateLimited {
		return
	}
	hold := e.cfg.BreakerOpenTimeout
	if class.RetryAfter > hold {
		hold = class.RetryAfter
	}

	e.mu.Lock()
	e.holds[operation] = e.now().Add(hold)
	e.mu.Unlock()

	slog.Warn("rate_limit_hold", "operation", operation, "hold_ms", float64(hold.Milliseconds()))
}

func (e *Executor) heldUntil(operation string) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	until, ok := e.holds[operation]
	if !ok {
		return time.Time{}, false
	}
	if e.now().After(until) {
		delete(e.holds, operation)
		return time.Time{}, false
	}
	return until, true
}

func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func defaultClassifier(error) ErrorClassification {
	return ErrorClassification{
		Retryable:     false,
		RecordFailure: true,
	}
}
