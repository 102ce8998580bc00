package usecase

import (
	"context"

	"github.com/bilgece/retrieval/internal/core/domain"
	"github.com/bilgece/retrieval/internal/core/ports"
)

const (
	strategyLexical  = "lexical"
	strategyLemma    = "lemma"
	strategySemantic = "semantic"
)

// strategy is the closed retrieval contract: exactly three implementations
// exist, dispatched uniformly by the orchestrator.
type strategy interface {
	name() string
	retrieve(ctx context.Context, text string, scope domain.Scope, userID string, limit int) ([]domain.Candidate, error)
}

// searchWithRawFallback applies the shared exclusion policy: raw-source
// content is invisible to the primary query, and when that query matches
// nothing and the caller asked for no particular source type, the same
// query is re-issued once with the exclusion lifted. Never recursive, and
// never triggered when an explicit filter narrowed the miss on purpose.
// An explicit "all" filter counts as no filter.
func searchWithRawFallback(
	scope domain.Scope,
	run func(filter ports.SearchFilter) ([]domain.Candidate, error),
) ([]domain.Candidate, error) {
	filter := ports.SearchFilter{
		SourceType: scope.SourceType,
		DocumentID: scope.DocumentID,
		IncludeRaw: scope.SourceType == domain.SourceRaw,
	}

	candidates, err := run(filter)
	if err != nil {
		return nil, err
	}
	if len(candidates) > 0 || !scope.SourceType.Unrestricted() {
		return candidates, nil
	}

	filter.IncludeRaw = true
	return run(filter)
}

type lexicalStrategy struct {
	store ports.SearchStore
}

func (s *lexicalStrategy) name() string { return strategyLexical }

func (s *lexicalStrategy) retrieve(ctx context.Context, text string, scope domain.Scope, userID string, limit int) ([]domain.Candidate, error) {
	return searchWithRawFallback(scope, func(filter ports.SearchFilter) ([]domain.Candidate, error) {
		return s.store.LexicalSearch(ctx, userID, domain.NormalizeQueryText(text), filter, limit)
	})
}

type lemmaStrategy struct {
	store ports.SearchStore
	topN  int
}

func (s *lemmaStrategy) name() string { return strategyLemma }

func (s *lemmaStrategy) retrieve(ctx context.Context, text string, scope domain.Scope, userID string, limit int) ([]domain.Candidate, error) {
	lemmas := informativeLemmas(text, s.topN)
	if len(lemmas) == 0 {
		return nil, nil
	}
	return searchWithRawFallback(scope, func(filter ports.SearchFilter) ([]domain.Candidate, error) {
		return s.store.LemmaSearch(ctx, userID, lemmas, filter, limit)
	})
}

type semanticStrategy struct {
	store ports.SearchStore
	llm   ports.LanguageModel
}

func (s *semanticStrategy) name() string { return strategySemantic }

func (s *semanticStrategy) retrieve(ctx context.Context, text string, scope domain.Scope, userID string, limit int) ([]domain.Candidate, error) {
	vector, err := s.llm.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	filter := ports.SearchFilter{
		SourceType: scope.SourceType,
		DocumentID: scope.DocumentID,
		IncludeRaw: scope.SourceType == domain.SourceRaw,
	}
	return s.store.VectorSearch(ctx, userID, vector, filter, limit)
}
