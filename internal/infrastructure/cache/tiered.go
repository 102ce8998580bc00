package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/bilgece/retrieval/internal/core/domain"
	"github.com/bilgece/retrieval/internal/core/ports"
)

type Config struct {
	PipelineVersion string

	LocalSize int
	LocalTTL  time.Duration

	// Adaptive shared-tier TTLs: global (no scope filters) entries live
	// longest, scoped entries shorter, entries whose scope points at a
	// recently updated document shortest.
	TTLGlobal       time.Duration
	TTLScoped       time.Duration
	TTLRecentDoc    time.Duration
	RecentDocWindow time.Duration

	// StaleWindow is how long past expiry an entry may still be served
	// while a background refresh runs. Zero disables stale-while-revalidate.
	StaleWindow    time.Duration
	RefreshTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PipelineVersion == "" {
		c.PipelineVersion = "v1"
	}
	if c.LocalSize <= 0 {
		c.LocalSize = 512
	}
	if c.LocalTTL <= 0 {
		c.LocalTTL = 30 * time.Second
	}
	if c.TTLGlobal <= 0 {
		c.TTLGlobal = 15 * time.Minute
	}
	if c.TTLScoped <= 0 {
		c.TTLScoped = 5 * time.Minute
	}
	if c.TTLRecentDoc <= 0 {
		c.TTLRecentDoc = 30 * time.Second
	}
	if c.RecentDocWindow <= 0 {
		c.RecentDocWindow = 10 * time.Minute
	}
	if c.RefreshTimeout <= 0 {
		c.RefreshTimeout = 10 * time.Second
	}
	return c
}

// entry is the serialized cache value. Owned exclusively by this package.
type entry struct {
	Results    []domain.FusedResult `json:"results"`
	CreatedAt  time.Time            `json:"created_at"`
	ExpiresAt  time.Time            `json:"expires_at"`
	StaleUntil time.Time            `json:"stale_until"`
}

// Lookup is the outcome of a cache read.
type Lookup = ports.CacheLookup

// RefreshFunc recomputes a result list for stale-while-revalidate.
type RefreshFunc = ports.ResultRefreshFunc

// ResultCache is the two-tier result cache: a small expiring LRU in
// process, backed by the shared cache collaborator.
type ResultCache struct {
	cfg    Config
	local  *expirable.LRU[string, entry]
	shared ports.SharedCache

	group      singleflight.Group
	cacheTotal *prometheus.CounterVec
	now        func() time.Time
}

// New builds the cache. cacheTotal, when non-nil, is a counter vec with
// labels ("tier", "result").
func New(cfg Config, shared ports.SharedCache, cacheTotal *prometheus.CounterVec) *ResultCache {
	cfg = cfg.withDefaults()
	return &ResultCache{
		cfg:        cfg,
		local:      expirable.NewLRU[string, entry](cfg.LocalSize, nil, cfg.LocalTTL),
		shared:     shared,
		cacheTotal: cacheTotal,
		now:        time.Now,
	}
}

var _ ports.ResultCache = (*ResultCache)(nil)

// Version reports the pipeline version tag keys are written under.
func (c *ResultCache) Version() string { return c.cfg.PipelineVersion }

// Key derives the result key for a query.
func (c *ResultCache) Key(q domain.Query) string {
	return ResultKey(c.cfg.PipelineVersion, q)
}

// ExpansionKey derives the shared-tier key for one query's paraphrase set.
func (c *ResultCache) ExpansionKey(queryText string) string {
	return ExpansionKey(c.cfg.PipelineVersion, queryText)
}

// TTLFor picks the shared-tier TTL for a query. lastDocUpdate is zero when
// the scope names no document or the update time is unknown.
func (c *ResultCache) TTLFor(q domain.Query, lastDocUpdate time.Time) time.Duration {
	if q.Scope.DocumentID != "" && !lastDocUpdate.IsZero() &&
		c.now().Sub(lastDocUpdate) < c.cfg.RecentDocWindow {
		return c.cfg.TTLRecentDoc
	}
	if q.Scope.DocumentID != "" || !q.Scope.SourceType.Unrestricted() {
		return c.cfg.TTLScoped
	}
	return c.cfg.TTLGlobal
}

// Get reads through both tiers. A stale hit is returned immediately and
// refresh, when non-nil, runs out of band; its context is detached from
// the request so a client disconnect cannot abort the refresh.
func (c *ResultCache) Get(ctx context.Context, key string, refresh RefreshFunc) Lookup {
	if ent, ok := c.local.Get(key); ok {
		if lookup, ok := c.admit(ctx, key, ent, "local", refresh); ok {
			return lookup
		}
	} else {
		c.count("local", "miss")
	}

	ent, ok := c.sharedGet(ctx, key)
	if !ok {
		c.count("shared", "miss")
		return Lookup{}
	}
	if lookup, ok := c.admit(ctx, key, ent, "shared", refresh); ok {
		c.local.Add(key, ent)
		return lookup
	}
	return Lookup{}
}

// Set writes both tiers. Shared-tier write failures are logged and
// swallowed; the response has already been computed.
func (c *ResultCache) Set(ctx context.Context, key string, results []domain.FusedResult, ttl time.Duration) {
	now := c.now()
	ent := entry{
		Results:    results,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		StaleUntil: now.Add(ttl + c.cfg.StaleWindow),
	}
	c.local.Add(key, ent)

	if c.shared == nil {
		return
	}
	data, err := json.Marshal(ent)
	if err != nil {
		slog.Warn("cache_entry_marshal_failed", "key", key, "error", err)
		return
	}
	if err := c.shared.Set(ctx, key, data, ttl+c.cfg.StaleWindow); err != nil {
		slog.Warn("shared_cache_set_failed", "key", key, "error", err)
	}
}

// InvalidateUser drops every cached result for one caller.
func (c *ResultCache) InvalidateUser(ctx context.Context, userID string) error {
	c.local.Purge()
	if c.shared == nil {
		return nil
	}
	return c.shared.DeletePattern(ctx, UserPrefix(c.cfg.PipelineVersion, userID))
}

// InvalidateVersion drops every entry written under a pipeline version,
// used when the embedding or language model changes.
func (c *ResultCache) InvalidateVersion(ctx context.Context, pipelineVersion string) error {
	c.local.Purge()
	if c.shared == nil {
		return nil
	}
	return c.shared.DeletePattern(ctx, VersionPrefix(pipelineVersion))
}

// InvalidatePrefix serves manual operator invalidation.
func (c *ResultCache) InvalidatePrefix(ctx context.Context, prefix string) error {
	c.local.Purge()
	if c.shared == nil {
		return nil
	}
	return c.shared.DeletePattern(ctx, prefix)
}

func (c *ResultCache) admit(ctx context.Context, key string, ent entry, tier string, refresh RefreshFunc) (Lookup, bool) {
	now := c.now()
	switch {
	case now.Before(ent.ExpiresAt):
		c.count(tier, "hit")
		return Lookup{Results: ent.Results, Found: true}, true
	case now.Before(ent.StaleUntil) && refresh != nil:
		c.count(tier, "stale")
		c.refreshAsync(ctx, key, refresh)
		return Lookup{Results: ent.Results, Found: true, Stale: true}, true
	default:
		return Lookup{}, false
	}
}

func (c *ResultCache) sharedGet(ctx context.Context, key string) (entry, bool) {
	if c.shared == nil {
		return entry{}, false
	}
	data, err := c.shared.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ports.ErrCacheMiss) {
			slog.Warn("shared_cache_get_failed", "key", key, "error", err)
		}
		return entry{}, false
	}

	var ent entry
	if err := json.Unmarshal(data, &ent); err != nil {
		// Corrupt payloads are a miss, never a request failure.
		slog.Warn("cache_entry_corrupt", "key", key, "error", err)
		return entry{}, false
	}
	return ent, true
}

func (c *ResultCache) refreshAsync(ctx context.Context, key string, refresh RefreshFunc) {
	go func() {
		_, _, _ = c.group.Do(key, func() (any, error) {
			refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.RefreshTimeout)
			defer cancel()

			results, ttl, err := refresh(refreshCtx)
			if err != nil {
				slog.Warn("stale_refresh_failed", "key", key, "error", err)
				return nil, err
			}
			c.Set(refreshCtx, key, results, ttl)
			return nil, nil
		})
	}()
}

func (c *ResultCache) count(tier, result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(tier, result).Inc()
	}
}
