package usecase

import (
	"context"
	"log/slog"

	"github.com/bilgece/retrieval/internal/core/ports"
)

// Invalidation drops cached results when content changes. Document-level
// requests purge the owning caller's whole prefix: result entries are keyed
// by query, not by the documents they contain, so the caller prefix is the
// tightest addressable superset.
type Invalidation struct {
	results ports.ResultCache
	queue   ports.InvalidationQueue
}

var _ ports.CacheInvalidator = (*Invalidation)(nil)

func NewInvalidation(results ports.ResultCache, queue ports.InvalidationQueue) *Invalidation {
	return &Invalidation{results: results, queue: queue}
}

func (s *Invalidation) InvalidateUser(ctx context.Context, userID string) error {
	if err := s.results.InvalidateUser(ctx, userID); err != nil {
		return err
	}
	s.broadcast(ctx, ports.InvalidationEvent{UserID: userID})
	return nil
}

func (s *Invalidation) InvalidateDocument(ctx context.Context, userID, documentID string) error {
	if err := s.results.InvalidateUser(ctx, userID); err != nil {
		return err
	}
	s.broadcast(ctx, ports.InvalidationEvent{UserID: userID, DocumentID: documentID})
	return nil
}

func (s *Invalidation) InvalidateVersion(ctx context.Context, pipelineVersion string) error {
	// Peer local tiers are not notified; their entries age out on the
	// local TTL while the shared tier is already gone.
	return s.results.InvalidateVersion(ctx, pipelineVersion)
}

// ApplyEvent handles an event received from the queue. It never
// re-broadcasts, or every instance would echo each event forever.
func (s *Invalidation) ApplyEvent(ctx context.Context, event ports.InvalidationEvent) error {
	if event.UserID == "" {
		return nil
	}
	return s.results.InvalidateUser(ctx, event.UserID)
}

// broadcast tells peer instances to purge their local tiers. Failures are
// logged, not returned: the shared tier is already purged and peer local
// entries expire on their own TTL.
func (s *Invalidation) broadcast(ctx context.Context, event ports.InvalidationEvent) {
	if s.queue == nil {
		return
	}
	if err := s.queue.PublishContentUpdated(ctx, event); err != nil {
		slog.Warn("invalidation_broadcast_failed", "user_id", event.UserID, "error", err)
	}
}
