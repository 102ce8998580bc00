package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bilgece/retrieval/internal/config"
	"github.com/bilgece/retrieval/internal/core/domain"
	"github.com/bilgece/retrieval/internal/core/ports"
	"github.com/bilgece/retrieval/internal/core/usecase"
	"github.com/bilgece/retrieval/internal/infrastructure/cache"
	"github.com/bilgece/retrieval/internal/infrastructure/llm/ollama"
	natsqueue "github.com/bilgece/retrieval/internal/infrastructure/queue/nats"
	"github.com/bilgece/retrieval/internal/infrastructure/repository/postgres"
	"github.com/bilgece/retrieval/internal/infrastructure/resilience"
	"github.com/bilgece/retrieval/internal/infrastructure/sharedcache/redis"
	"github.com/bilgece/retrieval/internal/observability/metrics"
)

type App struct {
	Config  config.Config
	Metrics *metrics.HTTPServerMetrics

	SearchUC    ports.PassageSearchService
	Invalidator ports.CacheInvalidator
	Health      func() domain.Health

	queue   *natsqueue.Queue
	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	httpMetrics := metrics.NewHTTPServerMetrics("api")

	executor := resilience.NewExecutor(resilience.Config{
		BreakerEnabled:             true,
		BreakerMinRequests:         cfg.BreakerMinRequests,
		BreakerFailureRatio:        cfg.BreakerFailureRatio,
		BreakerConsecutiveFailures: cfg.BreakerConsecutiveFails,
		BreakerOpenTimeout:         time.Duration(cfg.BreakerOpenSeconds) * time.Second,
	})

	db, err := postgres.OpenDB(cfg.PostgresDSN, postgres.Options{
		AcquireTimeout: time.Duration(cfg.DBAcquireTimeoutMS) * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	store := postgres.NewSearchStore(db, executor, time.Duration(cfg.DBAcquireTimeoutMS)*time.Millisecond)

	var (
		shared     ports.SharedCache
		counter    ports.SharedCounter
		redisStore *redis.Store
	)
	if cfg.RedisEnabled {
		redisStore, err = redis.NewStore(redis.Config{
			Addrs:    cfg.RedisAddrs,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init redis: %w", err)
		}
		if err := redisStore.Ping(ctx); err != nil {
			redisStore.Close()
			_ = db.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		shared = redisStore
		counter = redisStore
	}

	limiter := resilience.NewLimiter(cfg.LLMRateLimitRPS, cfg.LLMRateLimitBurst)
	if cfg.LLMSharedRateLimit && counter != nil {
		limiter = limiter.WithSharedCounter(
			counter,
			"bilgece:"+cfg.PipelineVersion+":ratelimit:llm",
			cfg.LLMSharedRateLimitMax,
			time.Duration(cfg.LLMSharedWindowSeconds)*time.Second,
		)
	}

	llm := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, ollama.Options{
		Executor:    executor,
		Limiter:     limiter,
		CallTimeout: time.Duration(cfg.LLMCallTimeoutSeconds) * time.Second,
	})

	results := cache.New(cache.Config{
		PipelineVersion: cfg.PipelineVersion,
		LocalSize:       cfg.CacheLocalSize,
		LocalTTL:        time.Duration(cfg.CacheLocalTTLSeconds) * time.Second,
		TTLGlobal:       time.Duration(cfg.CacheTTLGlobalSeconds) * time.Second,
		TTLScoped:       time.Duration(cfg.CacheTTLScopedSeconds) * time.Second,
		TTLRecentDoc:    time.Duration(cfg.CacheTTLRecentSeconds) * time.Second,
		RecentDocWindow: time.Duration(cfg.CacheRecentWindowHours) * time.Hour,
		StaleWindow:     time.Duration(cfg.CacheStaleWindowSeconds) * time.Second,
		RefreshTimeout:  time.Duration(cfg.CacheRefreshTimeoutSec) * time.Second,
	}, shared, httpMetrics.CacheCounter())

	var queue *natsqueue.Queue
	if cfg.NATSEnabled {
		queue, err = natsqueue.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, natsqueue.Options{
			ResilienceExecutor: executor,
		})
		if err != nil {
			if redisStore != nil {
				redisStore.Close()
			}
			_ = db.Close()
			return nil, fmt.Errorf("init nats: %w", err)
		}
	}

	health := func() domain.Health {
		return domain.Health{
			Datastore:        executor.State(postgres.DatastoreOperation()),
			Embedding:        executor.State(ollama.EmbedOperation()),
			Expansion:        executor.State(ollama.ExpandOperation()),
			Reranking:        executor.State(ollama.RerankOperation()),
			EmbeddingEnabled: cfg.EmbeddingEnabled,
		}
	}

	expander := usecase.NewExpander(llm, shared, results,
		cfg.ExpansionMaxVariants, time.Duration(cfg.ExpansionTTLSeconds)*time.Second)
	reranker := usecase.NewReranker(llm, cfg.RerankTopK, cfg.RerankConfidence, cfg.RerankMargin)
	gate := resilience.NewGate(cfg.MaxConcurrentSearches, time.Duration(cfg.AdmissionMaxWaitMS)*time.Millisecond)

	var invalidationQueue ports.InvalidationQueue
	if queue != nil {
		invalidationQueue = queue
	}
	invalidator := usecase.NewInvalidation(results, invalidationQueue)

	searchUC := usecase.NewSearchUseCase(
		store, llm, results, expander, reranker, gate, health,
		httpMetrics.SearchObserver("api"),
		usecase.SearchConfig{
			CandidateLimit:  cfg.SearchCandidateLimit,
			RRFK:            cfg.SearchRRFK,
			LemmaTopN:       cfg.SearchLemmaTopN,
			StrategyTimeout: time.Duration(cfg.StrategyTimeoutMS) * time.Millisecond,
			Parallelism:     cfg.SearchParallelism,
			DefaultLimit:    cfg.SearchDefaultLimit,
			MaxLimit:        cfg.SearchMaxLimit,
		},
	)

	app := &App{
		Config:      cfg,
		Metrics:     httpMetrics,
		SearchUC:    searchUC,
		Invalidator: invalidator,
		Health:      health,
		queue:       queue,
		closeFn: func() {
			if queue != nil {
				queue.Close()
			}
			if redisStore != nil {
				redisStore.Close()
			}
			_ = db.Close()
		},
	}
	return app, nil
}

// StartInvalidationListener subscribes to content-update events and purges
// affected cache entries until ctx is done. Blocks; run it on its own
// goroutine.
func (a *App) StartInvalidationListener(ctx context.Context) error {
	if a.queue == nil {
		return nil
	}
	inv, ok := a.Invalidator.(*usecase.Invalidation)
	if !ok {
		return nil
	}
	return a.queue.SubscribeContentUpdated(ctx, func(ctx context.Context, event ports.InvalidationEvent) error {
		if err := inv.ApplyEvent(ctx, event); err != nil {
			slog.Warn("invalidation_event_failed", "user_id", event.UserID, "error", err)
			return err
		}
		a.Metrics.RecordInvalidation("api", "event")
		return nil
	})
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
