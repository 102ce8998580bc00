package usecase

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/bilgece/retrieval/internal/core/ports"
)

// Expander widens a query into paraphrase variants through a single LLM
// call. Variants are stable for a given text, so they cache long in the
// shared tier keyed on normalized text plus pipeline version.
type Expander struct {
	llm         ports.LanguageModel
	shared      ports.SharedCache
	results     ports.ResultCache
	maxVariants int
	ttl         time.Duration
}

func NewExpander(llm ports.LanguageModel, shared ports.SharedCache, results ports.ResultCache, maxVariants int, ttl time.Duration) *Expander {
	if maxVariants <= 0 {
		maxVariants = 3
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Expander{
		llm:         llm,
		shared:      shared,
		results:     results,
		maxVariants: maxVariants,
		ttl:         ttl,
	}
}

// Expand returns paraphrase variants, or nothing. Circuit-open, rate-limit
// and every other expansion failure degrade to an empty list; expansion
// must never abort the pipeline.
func (e *Expander) Expand(ctx context.Context, queryText string) []string {
	key := e.results.ExpansionKey(queryText)

	if e.shared != nil {
		if data, err := e.shared.Get(ctx, key); err == nil {
			var variants []string
			if err := json.Unmarshal(data, &variants); err == nil {
				return variants
			}
			slog.Warn("expansion_cache_corrupt", "key", key)
		}
	}

	variants, err := e.llm.Expand(ctx, queryText, e.maxVariants)
	if err != nil {
		slog.Warn("query_expansion_skipped", "error", err)
		return nil
	}

	if e.shared != nil && len(variants) > 0 {
		if data, err := json.Marshal(variants); err == nil {
			if err := e.shared.Set(ctx, key, data, e.ttl); err != nil {
				slog.Warn("expansion_cache_set_failed", "key", key, "error", err)
			}
		}
	}
	return variants
}
