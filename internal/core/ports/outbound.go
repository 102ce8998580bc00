package ports

import (
	"context"
	"errors"
	"time"

	"github.com/bilgece/retrieval/internal/core/domain"
)

// SearchFilter narrows a storage search. IncludeRaw controls whether
// raw-source-derived passages are visible to the query.
type SearchFilter struct {
	SourceType domain.SourceType
	DocumentID string
	IncludeRaw bool
}

// SearchStore is the storage collaborator. Each operation returns rows
// already ranked best-first by the store's own relevance measure.
type SearchStore interface {
	LexicalSearch(ctx context.Context, userID, text string, filter SearchFilter, limit int) ([]domain.Candidate, error)
	LemmaSearch(ctx context.Context, userID string, lemmas []string, filter SearchFilter, limit int) ([]domain.Candidate, error)
	VectorSearch(ctx context.Context, userID string, vector []float32, filter SearchFilter, limit int) ([]domain.Candidate, error)
	LatestDocumentUpdate(ctx context.Context, userID, documentID string) (time.Time, error)
}

// LanguageModel is the embedding/LLM collaborator. Implementations must
// report provider rate limits as domain.ErrRateLimited so callers can
// distinguish them from generic failures.
type LanguageModel interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Expand(ctx context.Context, text string, max int) ([]string, error)
	Rerank(ctx context.Context, question string, candidates []domain.Candidate) ([]string, error)
}

// CacheLookup is the outcome of a result cache read. Stale entries are
// still Found; Stale only signals that a background refresh was kicked off.
type CacheLookup struct {
	Results []domain.FusedResult
	Found   bool
	Stale   bool
}

// ResultRefreshFunc recomputes a cached entry and reports the TTL the
// fresh value should live for.
type ResultRefreshFunc func(ctx context.Context) ([]domain.FusedResult, time.Duration, error)

// ResultCache is the fused-result cache collaborator. Get serves stale
// entries while the refresh callback recomputes them in the background.
// ExpansionKey lives here so paraphrase entries share the cache's key
// namespace and die with it on a version invalidation.
type ResultCache interface {
	Key(q domain.Query) string
	ExpansionKey(queryText string) string
	Get(ctx context.Context, key string, refresh ResultRefreshFunc) CacheLookup
	Set(ctx context.Context, key string, results []domain.FusedResult, ttl time.Duration)
	TTLFor(q domain.Query, lastDocUpdate time.Time) time.Duration
	InvalidateUser(ctx context.Context, userID string) error
	InvalidateVersion(ctx context.Context, pipelineVersion string) error
}

// AdmissionGate bounds the number of retrieval pipelines running at once.
// Acquire blocks up to the gate's wait budget and returns the release
// callback, or domain.ErrOverloaded when no slot frees up in time.
type AdmissionGate interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// ErrCacheMiss is returned by SharedCache.Get when the key is absent.
var ErrCacheMiss = errors.New("cache miss")

// SharedCache is the cross-process cache collaborator.
type SharedCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeletePattern(ctx context.Context, prefix string) error
}

// SharedCounter supports the optional cross-instance rate accounting.
type SharedCounter interface {
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// InvalidationEvent announces a content change that makes cached results
// for the affected caller or document stale.
type InvalidationEvent struct {
	UserID     string `json:"user_id"`
	DocumentID string `json:"document_id,omitempty"`
}

// InvalidationQueue transports invalidation events between the ingestion
// side and running search instances.
type InvalidationQueue interface {
	PublishContentUpdated(ctx context.Context, event InvalidationEvent) error
	SubscribeContentUpdated(ctx context.Context, handler func(context.Context, InvalidationEvent) error) error
}
