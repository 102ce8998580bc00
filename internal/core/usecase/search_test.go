package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bilgece/retrieval/internal/core/domain"
	"github.com/bilgece/retrieval/internal/core/ports"
	"github.com/bilgece/retrieval/internal/infrastructure/cache"
	"github.com/bilgece/retrieval/internal/infrastructure/resilience"
)

type fakeLanguageModel struct {
	mu sync.Mutex

	embedding []float32
	embedErr  error
	variants  []string
	expandErr error
	rerankIDs []string
	rerankErr error

	embedCalls  int
	expandCalls int
	rerankCalls int
	rerankSeen  []domain.Candidate
}

func (f *fakeLanguageModel) Embed(context.Context, string) ([]float32, error) {
	f.mu.Lock()
	f.embedCalls++
	f.mu.Unlock()
	return f.embedding, f.embedErr
}

func (f *fakeLanguageModel) Expand(context.Context, string, int) ([]string, error) {
	f.mu.Lock()
	f.expandCalls++
	f.mu.Unlock()
	return f.variants, f.expandErr
}

func (f *fakeLanguageModel) Rerank(_ context.Context, _ string, cands []domain.Candidate) ([]string, error) {
	f.mu.Lock()
	f.rerankCalls++
	f.rerankSeen = cands
	f.mu.Unlock()
	return f.rerankIDs, f.rerankErr
}

type servedEvent struct {
	level    domain.DegradationLevel
	cacheHit bool
	results  int
}

type recordingObserver struct {
	mu       sync.Mutex
	served   []servedEvent
	failures map[string]int
}

func (o *recordingObserver) SearchServed(level domain.DegradationLevel, cacheHit bool, results int) {
	o.mu.Lock()
	o.served = append(o.served, servedEvent{level: level, cacheHit: cacheHit, results: results})
	o.mu.Unlock()
}

func (o *recordingObserver) StrategyFailed(strategy string) {
	o.mu.Lock()
	if o.failures == nil {
		o.failures = map[string]int{}
	}
	o.failures[strategy]++
	o.mu.Unlock()
}

func healthyState() domain.Health {
	return domain.Health{EmbeddingEnabled: true}
}

type searchFixture struct {
	uc      *SearchUseCase
	store   *fakeSearchStore
	llm     *fakeLanguageModel
	results *cache.ResultCache
	gate    *resilience.Gate
	health  domain.Health
}

func newSearchFixture(store *fakeSearchStore, llm *fakeLanguageModel) *searchFixture {
	f := &searchFixture{
		store:   store,
		llm:     llm,
		results: cache.New(cache.Config{PipelineVersion: "v1"}, nil, nil),
		gate:    resilience.NewGate(4, 0),
		health:  healthyState(),
	}
	f.uc = NewSearchUseCase(
		store, llm, f.results,
		NewExpander(llm, nil, f.results, 3, time.Hour),
		nil,
		f.gate,
		func() domain.Health { return f.health },
		nil,
		SearchConfig{StrategyTimeout: time.Second},
	)
	return f
}

func searchQuery() domain.Query {
	return domain.Query{Text: "kitap", UserID: "u1", Limit: 10}
}

func TestSearchFusesAcrossStrategies(t *testing.T) {
	store := &fakeSearchStore{
		lexicalFn: func(string, ports.SearchFilter) ([]domain.Candidate, error) {
			return candidates("p1", "p2", "p3"), nil
		},
		lemmaFn: func([]string, ports.SearchFilter) ([]domain.Candidate, error) {
			return candidates("p2"), nil
		},
		vectorFn: func(ports.SearchFilter) ([]domain.Candidate, error) {
			return candidates("p4", "p5"), nil
		},
	}
	f := newSearchFixture(store, &fakeLanguageModel{embedding: []float32{0.1}})

	resp, err := f.uc.Search(context.Background(), searchQuery())
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(resp.Results) != 5 {
		t.Fatalf("results = %d, want 5 unique passages", len(resp.Results))
	}
	if resp.Results[0].ID != "p2" {
		t.Fatalf("top result = %s, want p2 found by two strategies", resp.Results[0].ID)
	}
	if resp.Degraded || resp.CacheHit || resp.Level != domain.LevelFull {
		t.Fatalf("response flags = %+v, want full healthy miss", resp)
	}
}

func TestSearchServesCachedResultsSecondTime(t *testing.T) {
	store := &fakeSearchStore{
		lexicalFn: func(string, ports.SearchFilter) ([]domain.Candidate, error) {
			return candidates("p1"), nil
		},
	}
	f := newSearchFixture(store, &fakeLanguageModel{embedding: []float32{0.1}})

	if _, err := f.uc.Search(context.Background(), searchQuery()); err != nil {
		t.Fatalf("first search: %v", err)
	}
	callsAfterFirst := store.lexicalCallCount()

	resp, err := f.uc.Search(context.Background(), searchQuery())
	if err != nil {
		t.Fatalf("second search: %v", err)
	}
	if !resp.CacheHit {
		t.Fatalf("second identical query missed the cache")
	}
	if store.lexicalCallCount() != callsAfterFirst {
		t.Fatalf("cached query reached the store")
	}
}

func TestSearchCacheOnlyMissFailsWithoutDependencyCalls(t *testing.T) {
	store := &fakeSearchStore{}
	llm := &fakeLanguageModel{}
	f := newSearchFixture(store, llm)
	f.health = domain.Health{Datastore: domain.CircuitOpen, EmbeddingEnabled: true}

	_, err := f.uc.Search(context.Background(), searchQuery())
	if !errors.Is(err, domain.ErrDegradedNoData) {
		t.Fatalf("err = %v, want ErrDegradedNoData", err)
	}
	if store.lexicalCallCount() != 0 || llm.embedCalls != 0 || llm.expandCalls != 0 {
		t.Fatalf("cache-only mode touched a dependency")
	}
}

func TestSearchCacheOnlyHitServesCache(t *testing.T) {
	store := &fakeSearchStore{
		lexicalFn: func(string, ports.SearchFilter) ([]domain.Candidate, error) {
			return candidates("p1"), nil
		},
	}
	f := newSearchFixture(store, &fakeLanguageModel{embedding: []float32{0.1}})

	if _, err := f.uc.Search(context.Background(), searchQuery()); err != nil {
		t.Fatalf("warm-up search: %v", err)
	}

	f.health = domain.Health{Datastore: domain.CircuitOpen, EmbeddingEnabled: true}
	resp, err := f.uc.Search(context.Background(), searchQuery())
	if err != nil {
		t.Fatalf("cache-only search: %v", err)
	}
	if !resp.CacheHit || !resp.Degraded || resp.Level != domain.LevelCacheOnly {
		t.Fatalf("response = %+v, want degraded cache hit", resp)
	}
	if len(resp.Results) != 1 || resp.Results[0].ID != "p1" {
		t.Fatalf("results = %+v, want cached p1", resp.Results)
	}
}

func TestSearchSkipsSemanticWhenEmbeddingCircuitOpen(t *testing.T) {
	store := &fakeSearchStore{
		lexicalFn: func(string, ports.SearchFilter) ([]domain.Candidate, error) {
			return candidates("p1"), nil
		},
	}
	llm := &fakeLanguageModel{embedding: []float32{0.1}}
	f := newSearchFixture(store, llm)
	f.health = domain.Health{Embedding: domain.CircuitOpen, EmbeddingEnabled: true}

	resp, err := f.uc.Search(context.Background(), searchQuery())
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if llm.embedCalls != 0 {
		t.Fatalf("embedding called %d times at skip-semantic level", llm.embedCalls)
	}
	if len(store.vectorFilters) != 0 {
		t.Fatalf("vector search ran at skip-semantic level")
	}
	if !resp.Degraded || resp.Level != domain.LevelSkipSemantic {
		t.Fatalf("response = level %v degraded %v, want degraded skip-semantic", resp.Level, resp.Degraded)
	}
	if len(resp.Results) == 0 {
		t.Fatalf("lexical results missing from degraded response")
	}
}

func TestSearchCanceledRequestWritesNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := &fakeSearchStore{
		lexicalFn: func(string, ports.SearchFilter) ([]domain.Candidate, error) {
			cancel()
			return candidates("p1"), nil
		},
	}
	f := newSearchFixture(store, &fakeLanguageModel{embedding: []float32{0.1}})

	_, err := f.uc.Search(ctx, searchQuery())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	key := f.results.Key(searchQuery())
	if lookup := f.results.Get(context.Background(), key, nil); lookup.Found {
		t.Fatalf("canceled request left a cache entry behind")
	}
}

func TestSearchAllStrategiesFailed(t *testing.T) {
	backendErr := errors.New("backend down")
	store := &fakeSearchStore{
		lexicalFn: func(string, ports.SearchFilter) ([]domain.Candidate, error) { return nil, backendErr },
		lemmaFn:   func([]string, ports.SearchFilter) ([]domain.Candidate, error) { return nil, backendErr },
	}
	llm := &fakeLanguageModel{embedErr: backendErr}
	f := newSearchFixture(store, llm)
	observer := &recordingObserver{}
	f.uc.observer = observer

	_, err := f.uc.Search(context.Background(), searchQuery())
	if !errors.Is(err, domain.ErrNoStrategyResults) {
		t.Fatalf("err = %v, want ErrNoStrategyResults", err)
	}
	observer.mu.Lock()
	defer observer.mu.Unlock()
	if len(observer.failures) != 3 {
		t.Fatalf("failed strategies recorded = %v, want all three", observer.failures)
	}
}

func TestSearchPartialStrategyFailureStillServes(t *testing.T) {
	store := &fakeSearchStore{
		lexicalFn: func(string, ports.SearchFilter) ([]domain.Candidate, error) {
			return candidates("p1"), nil
		},
		lemmaFn: func([]string, ports.SearchFilter) ([]domain.Candidate, error) {
			return nil, errors.New("lemma backend down")
		},
	}
	f := newSearchFixture(store, &fakeLanguageModel{embedErr: errors.New("embedding down")})

	resp, err := f.uc.Search(context.Background(), searchQuery())
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].ID != "p1" {
		t.Fatalf("results = %+v, want surviving lexical p1", resp.Results)
	}
}

func TestSearchValidatesInput(t *testing.T) {
	f := newSearchFixture(&fakeSearchStore{}, &fakeLanguageModel{})

	if _, err := f.uc.Search(context.Background(), domain.Query{Text: "  ", UserID: "u1"}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("empty text err = %v, want ErrInvalidInput", err)
	}
	if _, err := f.uc.Search(context.Background(), domain.Query{Text: "kitap"}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("missing caller err = %v, want ErrInvalidInput", err)
	}
}

func TestSearchRejectsWhenGateFull(t *testing.T) {
	store := &fakeSearchStore{
		lexicalFn: func(string, ports.SearchFilter) ([]domain.Candidate, error) {
			return candidates("p1"), nil
		},
	}
	f := newSearchFixture(store, &fakeLanguageModel{embedding: []float32{0.1}})

	gate := resilience.NewGate(1, 0)
	f.uc.gate = gate
	release, err := gate.Acquire(context.Background())
	if err != nil {
		t.Fatalf("pre-acquire: %v", err)
	}
	defer release()

	if _, err := f.uc.Search(context.Background(), searchQuery()); !errors.Is(err, domain.ErrOverloaded) {
		t.Fatalf("err = %v, want ErrOverloaded", err)
	}
}

func TestSearchRunsStrategiesForEachVariant(t *testing.T) {
	var mu sync.Mutex
	texts := map[string]int{}
	store := &fakeSearchStore{
		lexicalFn: func(text string, _ ports.SearchFilter) ([]domain.Candidate, error) {
			mu.Lock()
			texts[text]++
			mu.Unlock()
			return candidates("p1"), nil
		},
	}
	llm := &fakeLanguageModel{embedding: []float32{0.1}, variants: []string{"book"}}
	f := newSearchFixture(store, llm)

	if _, err := f.uc.Search(context.Background(), searchQuery()); err != nil {
		t.Fatalf("search: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if texts["kitap"] != 1 || texts["book"] != 1 {
		t.Fatalf("lexical texts = %v, want one call each for original and variant", texts)
	}
}

func TestSearchSkipsExpansionWhenDegraded(t *testing.T) {
	store := &fakeSearchStore{
		lexicalFn: func(string, ports.SearchFilter) ([]domain.Candidate, error) {
			return candidates("p1"), nil
		},
	}
	llm := &fakeLanguageModel{embedding: []float32{0.1}, variants: []string{"book"}}
	f := newSearchFixture(store, llm)
	f.health = domain.Health{Expansion: domain.CircuitOpen, EmbeddingEnabled: true}

	resp, err := f.uc.Search(context.Background(), searchQuery())
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if llm.expandCalls != 0 {
		t.Fatalf("expansion called at skip-expansion level")
	}
	if resp.Level != domain.LevelSkipExpansion {
		t.Fatalf("level = %v, want skip-expansion", resp.Level)
	}
}

func TestSearchTrimsToRequestedLimit(t *testing.T) {
	store := &fakeSearchStore{
		lexicalFn: func(string, ports.SearchFilter) ([]domain.Candidate, error) {
			return candidates("a", "b", "c", "d", "e"), nil
		},
	}
	f := newSearchFixture(store, &fakeLanguageModel{embedding: []float32{0.1}})

	q := searchQuery()
	q.Limit = 2
	resp, err := f.uc.Search(context.Background(), q)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("results = %d, want limit 2 applied", len(resp.Results))
	}
}

func TestSearchObservesTrimmedCountOnCacheHit(t *testing.T) {
	store := &fakeSearchStore{
		lexicalFn: func(string, ports.SearchFilter) ([]domain.Candidate, error) {
			return candidates("a", "b", "c", "d", "e"), nil
		},
	}
	f := newSearchFixture(store, &fakeLanguageModel{embedding: []float32{0.1}})
	observer := &recordingObserver{}
	f.uc.observer = observer

	q := searchQuery()
	q.Limit = 2
	if _, err := f.uc.Search(context.Background(), q); err != nil {
		t.Fatalf("warm-up search: %v", err)
	}
	resp, err := f.uc.Search(context.Background(), q)
	if err != nil {
		t.Fatalf("cached search: %v", err)
	}
	if !resp.CacheHit {
		t.Fatalf("second identical query missed the cache")
	}

	observer.mu.Lock()
	defer observer.mu.Unlock()
	if len(observer.served) != 2 {
		t.Fatalf("served events = %d, want 2", len(observer.served))
	}
	for i, ev := range observer.served {
		if ev.results != 2 {
			t.Fatalf("event %d recorded %d results, want the served count 2", i, ev.results)
		}
	}
	if observer.served[0].cacheHit || !observer.served[1].cacheHit {
		t.Fatalf("cache hit flags = %v/%v, want miss then hit",
			observer.served[0].cacheHit, observer.served[1].cacheHit)
	}
}

// staleServingCache always reports a stale hit and runs the refresh
// callback inline, so tests can inspect the refresh outcome.
type staleServingCache struct {
	cached     []domain.FusedResult
	refreshErr error
	refreshed  bool
}

func (c *staleServingCache) Key(domain.Query) string    { return "stale-key" }
func (c *staleServingCache) ExpansionKey(string) string { return "stale-expand" }

func (c *staleServingCache) Get(ctx context.Context, _ string, refresh ports.ResultRefreshFunc) ports.CacheLookup {
	if refresh != nil {
		c.refreshed = true
		_, _, c.refreshErr = refresh(ctx)
	}
	return ports.CacheLookup{Results: c.cached, Found: true, Stale: true}
}

func (c *staleServingCache) Set(context.Context, string, []domain.FusedResult, time.Duration) {}

func (c *staleServingCache) TTLFor(domain.Query, time.Time) time.Duration { return time.Minute }

func (c *staleServingCache) InvalidateUser(context.Context, string) error    { return nil }
func (c *staleServingCache) InvalidateVersion(context.Context, string) error { return nil }

func TestSearchStaleRefreshHonorsAdmissionGate(t *testing.T) {
	store := &fakeSearchStore{
		lexicalFn: func(string, ports.SearchFilter) ([]domain.Candidate, error) {
			return candidates("p1"), nil
		},
	}
	f := newSearchFixture(store, &fakeLanguageModel{embedding: []float32{0.1}})
	stale := &staleServingCache{cached: fusedFixture("old")}
	f.uc.results = stale

	gate := resilience.NewGate(1, 0)
	f.uc.gate = gate
	release, err := gate.Acquire(context.Background())
	if err != nil {
		t.Fatalf("pre-acquire: %v", err)
	}

	resp, err := f.uc.Search(context.Background(), searchQuery())
	if err != nil {
		t.Fatalf("search during saturation: %v", err)
	}
	if !resp.CacheHit || len(resp.Results) != 1 || resp.Results[0].ID != "old" {
		t.Fatalf("response = %+v, want the stale entry served", resp)
	}
	if !stale.refreshed {
		t.Fatalf("stale hit did not trigger a refresh")
	}
	if !errors.Is(stale.refreshErr, domain.ErrOverloaded) {
		t.Fatalf("refresh err = %v, want ErrOverloaded while the gate is full", stale.refreshErr)
	}
	if store.lexicalCallCount() != 0 {
		t.Fatalf("rejected refresh reached the store")
	}

	release()
	if _, err := f.uc.Search(context.Background(), searchQuery()); err != nil {
		t.Fatalf("search after release: %v", err)
	}
	if stale.refreshErr != nil {
		t.Fatalf("refresh err after release = %v, want success", stale.refreshErr)
	}
	if store.lexicalCallCount() == 0 {
		t.Fatalf("freed gate still blocked the refresh")
	}
}
