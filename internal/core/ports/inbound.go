package ports

import (
	"context"

	"github.com/bilgece/retrieval/internal/core/domain"
)

// PassageSearchService is the inbound contract for ranked passage retrieval.
type PassageSearchService interface {
	Search(ctx context.Context, query domain.Query) (*domain.SearchResponse, error)
}

// CacheInvalidator is the inbound contract for cache invalidation, driven
// by content-update events and by operator requests.
type CacheInvalidator interface {
	InvalidateUser(ctx context.Context, userID string) error
	InvalidateDocument(ctx context.Context, userID, documentID string) error
	InvalidateVersion(ctx context.Context, pipelineVersion string) error
}
