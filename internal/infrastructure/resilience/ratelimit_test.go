package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bilgece/retrieval/internal/core/domain"
)

type fakeCounter struct {
	mu     sync.Mutex
	counts map[string]int64
	failed bool
}

func (f *fakeCounter) IncrBy(_ context.Context, key string, delta int64) (int64, error) {
	if f.failed {
		return 0, errors.New("counter unavailable")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts == nil {
		f.counts = make(map[string]int64)
	}
	f.counts[key] += delta
	return f.counts[key], nil
}

func (f *fakeCounter) Expire(context.Context, string, time.Duration) error { return nil }

func TestLimiterLocalBucketRejects(t *testing.T) {
	limiter := NewLimiter(1, 1)

	if err := limiter.Allow(context.Background()); err != nil {
		t.Fatalf("first call within burst must pass: %v", err)
	}
	if err := limiter.Allow(context.Background()); !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}
}

func TestLimiterSharedCounterEnforcesCollectiveBudget(t *testing.T) {
	counter := &fakeCounter{}
	limiter := NewLimiter(1000, 1000).
		WithSharedCounter(counter, "llm", 2, time.Minute)

	for i := 0; i < 2; i++ {
		if err := limiter.Allow(context.Background()); err != nil {
			t.Fatalf("call %d within shared budget must pass: %v", i, err)
		}
	}
	if err := limiter.Allow(context.Background()); !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected shared budget rejection, got %v", err)
	}
}

func TestLimiterDegradesWhenSharedCounterFails(t *testing.T) {
	limiter := NewLimiter(1000, 1000).
		WithSharedCounter(&fakeCounter{failed: true}, "llm", 1, time.Minute)

	for i := 0; i < 3; i++ {
		if err := limiter.Allow(context.Background()); err != nil {
			t.Fatalf("call %d must pass when counter is down: %v", i, err)
		}
	}
}
