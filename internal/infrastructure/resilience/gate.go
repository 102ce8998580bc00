package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/bilgece/retrieval/internal/core/domain"
	"github.com/bilgece/retrieval/internal/core/ports"
)

// Gate is a fixed-capacity admission gate in front of strategy dispatch.
// When every slot is taken, new work is rejected within the bounded wait
// instead of queuing without limit.
type Gate struct {
	slots   chan struct{}
	maxWait time.Duration
}

var _ ports.AdmissionGate = (*Gate)(nil)

func NewGate(capacity int, maxWait time.Duration) *Gate {
	if capacity <= 0 {
		capacity = 1
	}
	return &Gate{
		slots:   make(chan struct{}, capacity),
		maxWait: maxWait,
	}
}

// Acquire claims a slot. The returned release function must be called
// exactly once. A full gate surfaces domain.ErrOverloaded.
func (g *Gate) Acquire(ctx context.Context) (func(), error) {
	select {
	case g.slots <- struct{}{}:
		return g.releaseFn(), nil
	default:
	}

	if g.maxWait <= 0 {
		return nil, fmt.Errorf("admission gate full: %w", domain.ErrOverloaded)
	}

	timer := time.NewTimer(g.maxWait)
	defer timer.Stop()

	select {
	case g.slots <- struct{}{}:
		return g.releaseFn(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("admission gate full after %s: %w", g.maxWait, domain.ErrOverloaded)
	}
}

// InFlight reports the number of currently held slots.
func (g *Gate) InFlight() int { return len(g.slots) }

func (g *Gate) releaseFn() func() {
	released := false
	return func() {
		if released {
			return
		}
		released = true
		<-g.slots
	}
}
