package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bilgece/retrieval/internal/core/domain"
	"github.com/bilgece/retrieval/internal/core/ports"
)

type fakeSearchStore struct {
	mu sync.Mutex

	lexicalFn func(text string, filter ports.SearchFilter) ([]domain.Candidate, error)
	lemmaFn   func(lemmas []string, filter ports.SearchFilter) ([]domain.Candidate, error)
	vectorFn  func(filter ports.SearchFilter) ([]domain.Candidate, error)

	lexicalFilters []ports.SearchFilter
	lemmaFilters   []ports.SearchFilter
	vectorFilters  []ports.SearchFilter

	lastUpdate time.Time
}

func (f *fakeSearchStore) LexicalSearch(_ context.Context, _ string, text string, filter ports.SearchFilter, _ int) ([]domain.Candidate, error) {
	f.mu.Lock()
	f.lexicalFilters = append(f.lexicalFilters, filter)
	f.mu.Unlock()
	if f.lexicalFn == nil {
		return nil, nil
	}
	return f.lexicalFn(text, filter)
}

func (f *fakeSearchStore) LemmaSearch(_ context.Context, _ string, lemmas []string, filter ports.SearchFilter, _ int) ([]domain.Candidate, error) {
	f.mu.Lock()
	f.lemmaFilters = append(f.lemmaFilters, filter)
	f.mu.Unlock()
	if f.lemmaFn == nil {
		return nil, nil
	}
	return f.lemmaFn(lemmas, filter)
}

func (f *fakeSearchStore) VectorSearch(_ context.Context, _ string, _ []float32, filter ports.SearchFilter, _ int) ([]domain.Candidate, error) {
	f.mu.Lock()
	f.vectorFilters = append(f.vectorFilters, filter)
	f.mu.Unlock()
	if f.vectorFn == nil {
		return nil, nil
	}
	return f.vectorFn(filter)
}

func (f *fakeSearchStore) LatestDocumentUpdate(context.Context, string, string) (time.Time, error) {
	return f.lastUpdate, nil
}

func (f *fakeSearchStore) lexicalCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.lexicalFilters)
}

func TestLexicalStrategyRawFallbackOnEmpty(t *testing.T) {
	store := &fakeSearchStore{
		lexicalFn: func(_ string, filter ports.SearchFilter) ([]domain.Candidate, error) {
			if !filter.IncludeRaw {
				return nil, nil
			}
			return candidates("raw1"), nil
		},
	}
	strat := &lexicalStrategy{store: store}

	got, err := strat.retrieve(context.Background(), "kitap", domain.Scope{}, "u1", 10)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(got) != 1 || got[0].ID != "raw1" {
		t.Fatalf("fallback results = %+v, want raw1", got)
	}
	if store.lexicalCallCount() != 2 {
		t.Fatalf("store calls = %d, want 2 (primary then fallback)", store.lexicalCallCount())
	}
	if store.lexicalFilters[0].IncludeRaw || !store.lexicalFilters[1].IncludeRaw {
		t.Fatalf("filter order wrong: %+v", store.lexicalFilters)
	}
}

func TestLexicalStrategyAllSourceTypeStillFallsBack(t *testing.T) {
	store := &fakeSearchStore{}
	strat := &lexicalStrategy{store: store}

	if _, err := strat.retrieve(context.Background(), "kitap", domain.Scope{SourceType: domain.SourceAll}, "u1", 10); err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if store.lexicalCallCount() != 2 {
		t.Fatalf("store calls = %d, want 2: an explicit all filter is no filter", store.lexicalCallCount())
	}
}

func TestLexicalStrategyExplicitFilterNeverFallsBack(t *testing.T) {
	store := &fakeSearchStore{}
	strat := &lexicalStrategy{store: store}

	got, err := strat.retrieve(context.Background(), "kitap", domain.Scope{SourceType: domain.SourceNote}, "u1", 10)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("results = %+v, want none", got)
	}
	if store.lexicalCallCount() != 1 {
		t.Fatalf("store calls = %d, want 1: narrowed misses stay misses", store.lexicalCallCount())
	}
}

func TestLexicalStrategyRawScopeQueriesRawDirectly(t *testing.T) {
	store := &fakeSearchStore{}
	strat := &lexicalStrategy{store: store}

	if _, err := strat.retrieve(context.Background(), "kitap", domain.Scope{SourceType: domain.SourceRaw}, "u1", 10); err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if store.lexicalCallCount() != 1 {
		t.Fatalf("store calls = %d, want 1", store.lexicalCallCount())
	}
	if !store.lexicalFilters[0].IncludeRaw {
		t.Fatalf("raw scope must set IncludeRaw on the first query")
	}
}

func TestLexicalStrategyFallbackStopsAfterOneRetry(t *testing.T) {
	store := &fakeSearchStore{}
	strat := &lexicalStrategy{store: store}

	got, err := strat.retrieve(context.Background(), "kitap", domain.Scope{}, "u1", 10)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("results = %+v, want none", got)
	}
	if store.lexicalCallCount() != 2 {
		t.Fatalf("store calls = %d, want exactly 2", store.lexicalCallCount())
	}
}

func TestLemmaStrategySkipsStoreWithoutLemmas(t *testing.T) {
	store := &fakeSearchStore{}
	strat := &lemmaStrategy{store: store, topN: 5}

	got, err := strat.retrieve(context.Background(), "a ? !", domain.Scope{}, "u1", 10)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if got != nil {
		t.Fatalf("results = %+v, want nil", got)
	}
	if len(store.lemmaFilters) != 0 {
		t.Fatalf("store called %d times for a query with no usable terms", len(store.lemmaFilters))
	}
}

func TestSemanticStrategyPropagatesEmbedError(t *testing.T) {
	store := &fakeSearchStore{}
	embedErr := errors.New("embedding backend down")
	strat := &semanticStrategy{store: store, llm: &fakeLanguageModel{embedErr: embedErr}}

	_, err := strat.retrieve(context.Background(), "kitap", domain.Scope{}, "u1", 10)
	if !errors.Is(err, embedErr) {
		t.Fatalf("err = %v, want embed error", err)
	}
	if len(store.vectorFilters) != 0 {
		t.Fatalf("vector search ran despite failed embedding")
	}
}

func TestSemanticStrategyNoRawFallback(t *testing.T) {
	store := &fakeSearchStore{}
	strat := &semanticStrategy{store: store, llm: &fakeLanguageModel{embedding: []float32{0.1, 0.2}}}

	got, err := strat.retrieve(context.Background(), "kitap", domain.Scope{}, "u1", 10)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("results = %+v, want none", got)
	}
	if len(store.vectorFilters) != 1 {
		t.Fatalf("vector calls = %d, want 1: semantic misses are final", len(store.vectorFilters))
	}
}
