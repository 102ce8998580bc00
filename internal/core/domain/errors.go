package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTemporary marks transient dependency failures the caller may retry.
	ErrTemporary = errors.New("temporary failure")
	// ErrRateLimited marks a provider-reported rate limit; never retried
	// synchronously within the same request.
	ErrRateLimited = errors.New("rate limited")
	// ErrOverloaded marks local capacity exhaustion (admission gate full,
	// pool wait exceeded). Retryable by the caller.
	ErrOverloaded = errors.New("overloaded")

	// ErrNoStrategyResults means every retrieval strategy failed. Distinct
	// from a genuine empty match, which is a successful empty list.
	ErrNoStrategyResults = errors.New("no retrieval strategy produced results")
	// ErrDegradedNoData means the pipeline ran cache-only and the cache
	// missed; no fresh data could be fetched.
	ErrDegradedNoData = errors.New("degraded, no fresh data available")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
