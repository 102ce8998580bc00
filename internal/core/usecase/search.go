package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bilgece/retrieval/internal/core/domain"
	"github.com/bilgece/retrieval/internal/core/ports"
)

type SearchConfig struct {
	// CandidateLimit is the per-strategy fetch size; fusing from a wider
	// pool than the response limit keeps RRF meaningful.
	CandidateLimit  int
	RRFK            int
	LemmaTopN       int
	StrategyTimeout time.Duration
	Parallelism     int
	DefaultLimit    int
	MaxLimit        int
}

func (c SearchConfig) withDefaults() SearchConfig {
	if c.CandidateLimit <= 0 {
		c.CandidateLimit = 30
	}
	if c.RRFK <= 0 {
		c.RRFK = 60
	}
	if c.LemmaTopN <= 0 {
		c.LemmaTopN = 5
	}
	if c.StrategyTimeout <= 0 {
		c.StrategyTimeout = 3 * time.Second
	}
	if c.Parallelism <= 0 {
		c.Parallelism = 8
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = 10
	}
	if c.MaxLimit <= 0 {
		c.MaxLimit = 50
	}
	return c
}

// Observer receives pipeline outcomes for metrics. Implementations must
// tolerate concurrent calls.
type Observer interface {
	SearchServed(level domain.DegradationLevel, cacheHit bool, results int)
	StrategyFailed(strategy string)
}

// SearchUseCase is the fusion orchestrator: cache read, degradation
// decision, expansion, concurrent strategy dispatch, RRF merge, rerank,
// cache write.
type SearchUseCase struct {
	store    ports.SearchStore
	results  ports.ResultCache
	expander *Expander
	reranker *Reranker
	gate     ports.AdmissionGate
	health   func() domain.Health
	observer Observer

	cfg        SearchConfig
	strategies []strategy
}

var _ ports.PassageSearchService = (*SearchUseCase)(nil)

func NewSearchUseCase(
	store ports.SearchStore,
	llm ports.LanguageModel,
	results ports.ResultCache,
	expander *Expander,
	reranker *Reranker,
	gate ports.AdmissionGate,
	health func() domain.Health,
	observer Observer,
	cfg SearchConfig,
) *SearchUseCase {
	cfg = cfg.withDefaults()
	return &SearchUseCase{
		store:    store,
		results:  results,
		expander: expander,
		reranker: reranker,
		gate:     gate,
		health:   health,
		observer: observer,
		cfg:      cfg,
		strategies: []strategy{
			&lexicalStrategy{store: store},
			&lemmaStrategy{store: store, topN: cfg.LemmaTopN},
			&semanticStrategy{store: store, llm: llm},
		},
	}
}

func (uc *SearchUseCase) Search(ctx context.Context, q domain.Query) (*domain.SearchResponse, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "search", fmt.Errorf("query text is required"))
	}
	if strings.TrimSpace(q.UserID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "search", fmt.Errorf("caller identity is required"))
	}
	if q.Limit <= 0 {
		q.Limit = uc.cfg.DefaultLimit
	}
	if q.Limit > uc.cfg.MaxLimit {
		q.Limit = uc.cfg.MaxLimit
	}

	level := domain.Decide(uc.health())
	key := uc.results.Key(q)

	var refresh ports.ResultRefreshFunc
	if level != domain.LevelCacheOnly {
		refresh = func(refreshCtx context.Context) ([]domain.FusedResult, time.Duration, error) {
			// Re-read health: the outage that made the entry stale may be over.
			refreshLevel := domain.Decide(uc.health())
			if refreshLevel == domain.LevelCacheOnly {
				return nil, 0, domain.ErrDegradedNoData
			}
			// Background refreshes compete for the same admission slots as
			// foreground requests; a full gate skips the refresh and the
			// stale entry stays servable.
			release, err := uc.gate.Acquire(refreshCtx)
			if err != nil {
				return nil, 0, err
			}
			defer release()
			fused, err := uc.retrieveAndFuse(refreshCtx, q, refreshLevel)
			if err != nil {
				return nil, 0, err
			}
			return fused, uc.ttlFor(refreshCtx, q), nil
		}
	}

	if lookup := uc.results.Get(ctx, key, refresh); lookup.Found {
		served := trimResults(lookup.Results, q.Limit)
		uc.observe(level, true, len(served))
		return &domain.SearchResponse{
			Results:  served,
			Level:    level,
			Degraded: level.Degraded(),
			CacheHit: true,
		}, nil
	}

	if level == domain.LevelCacheOnly {
		// No dependency call is attempted at this level; say so explicitly
		// instead of silently returning an empty match.
		return nil, domain.ErrDegradedNoData
	}

	release, err := uc.gate.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	fused, err := uc.retrieveAndFuse(ctx, q, level)
	if err != nil {
		return nil, err
	}

	// A canceled caller gets a fast failure, never partial fusion, and the
	// cache is left untouched.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	uc.results.Set(ctx, key, fused, uc.ttlFor(ctx, q))

	final := trimResults(fused, q.Limit)
	uc.observe(level, false, len(final))
	return &domain.SearchResponse{
		Results:  final,
		Level:    level,
		Degraded: level.Degraded(),
	}, nil
}

// retrieveAndFuse runs expansion, dispatches every strategy for the
// original query and each variant concurrently, barrier-joins, and fuses.
func (uc *SearchUseCase) retrieveAndFuse(ctx context.Context, q domain.Query, level domain.DegradationLevel) ([]domain.FusedResult, error) {
	texts := []string{q.Text}
	if level.AllowsExpansion() && uc.expander != nil {
		texts = append(texts, uc.expander.Expand(ctx, q.Text)...)
	}

	type task struct {
		strat strategy
		text  string
	}
	var tasks []task
	for _, strat := range uc.strategies {
		if strat.name() == strategySemantic && !level.AllowsSemantic() {
			continue
		}
		for _, text := range texts {
			tasks = append(tasks, task{strat: strat, text: text})
		}
	}

	var (
		mu        sync.Mutex
		lists     []rankedList
		succeeded int
	)

	// Fan out and join at the barrier: every successful list is fused, a
	// failed or timed-out strategy contributes nothing and cancels no one.
	g := &errgroup.Group{}
	g.SetLimit(uc.cfg.Parallelism)
	for _, t := range tasks {
		t := t
		g.Go(func() error {
			taskCtx, cancel := context.WithTimeout(ctx, uc.cfg.StrategyTimeout)
			defer cancel()

			candidates, err := t.strat.retrieve(taskCtx, t.text, q.Scope, q.UserID, uc.cfg.CandidateLimit)
			if err != nil {
				if ctx.Err() == nil {
					slog.Warn("strategy_failed", "strategy", t.strat.name(), "error", err)
					if uc.observer != nil {
						uc.observer.StrategyFailed(t.strat.name())
					}
				}
				return nil
			}

			mu.Lock()
			succeeded++
			if len(candidates) > 0 {
				lists = append(lists, rankedList{strategy: t.strat.name(), candidates: candidates})
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if succeeded == 0 {
		return nil, domain.ErrNoStrategyResults
	}

	fused := fuseRRF(lists, uc.cfg.RRFK)
	if uc.reranker != nil {
		fused = uc.reranker.Rerank(ctx, level, q.Text, fused)
	}
	return fused, nil
}

func (uc *SearchUseCase) ttlFor(ctx context.Context, q domain.Query) time.Duration {
	var lastUpdate time.Time
	if q.Scope.DocumentID != "" {
		updated, err := uc.store.LatestDocumentUpdate(ctx, q.UserID, q.Scope.DocumentID)
		if err != nil {
			slog.Warn("document_update_lookup_failed", "document_id", q.Scope.DocumentID, "error", err)
		} else {
			lastUpdate = updated
		}
	}
	return uc.results.TTLFor(q, lastUpdate)
}

func (uc *SearchUseCase) observe(level domain.DegradationLevel, cacheHit bool, results int) {
	if uc.observer != nil {
		uc.observer.SearchServed(level, cacheHit, results)
	}
}
