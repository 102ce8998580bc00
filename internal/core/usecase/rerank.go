package usecase

import (
	"context"
	"log/slog"

	"github.com/bilgece/retrieval/internal/core/domain"
	"github.com/bilgece/retrieval/internal/core/ports"
)

// Reranker reorders the fused top-K with an LLM pass. Operational tuning
// constants, not contracts: when the top fused score is already decisive
// (above the confidence threshold with enough margin over second place),
// the pass is skipped because it would not change the outcome meaningfully.
type Reranker struct {
	llm                 ports.LanguageModel
	topK                int
	confidenceThreshold float64
	minMargin           float64
}

func NewReranker(llm ports.LanguageModel, topK int, confidenceThreshold, minMargin float64) *Reranker {
	if topK <= 0 {
		topK = 30
	}
	return &Reranker{
		llm:                 llm,
		topK:                topK,
		confidenceThreshold: confidenceThreshold,
		minMargin:           minMargin,
	}
}

// Rerank returns the results in final order. Any failure of the LLM call
// (timeout, circuit open, malformed output) falls back to the RRF order
// unmodified; reranking never fails the request.
func (r *Reranker) Rerank(ctx context.Context, level domain.DegradationLevel, question string, fused []domain.FusedResult) []domain.FusedResult {
	if len(fused) < 2 || !level.AllowsReranking() {
		return renumber(fused)
	}
	if r.highConfidence(fused) {
		return renumber(fused)
	}

	topK := r.topK
	if topK > len(fused) {
		topK = len(fused)
	}
	head := fused[:topK]

	candidates := make([]domain.Candidate, len(head))
	for i, res := range head {
		candidates[i] = res.Candidate
	}

	ordered, err := r.llm.Rerank(ctx, question, candidates)
	if err != nil {
		slog.Warn("rerank_skipped", "error", err)
		return renumber(fused)
	}

	reordered := reorderByIDs(head, ordered)
	out := make([]domain.FusedResult, 0, len(fused))
	out = append(out, reordered...)
	out = append(out, fused[topK:]...)
	return renumber(out)
}

func (r *Reranker) highConfidence(fused []domain.FusedResult) bool {
	if r.confidenceThreshold <= 0 {
		return false
	}
	top := fused[0].FusedScore
	return top >= r.confidenceThreshold && top-fused[1].FusedScore >= r.minMargin
}

// reorderByIDs applies the model's id order to head. Ids the model never
// returned, or invented, keep their fused order and follow the reordered
// ones; a partially usable answer beats discarding results.
func reorderByIDs(head []domain.FusedResult, orderedIDs []string) []domain.FusedResult {
	byID := make(map[string]domain.FusedResult, len(head))
	for _, res := range head {
		byID[res.ID] = res
	}

	out := make([]domain.FusedResult, 0, len(head))
	taken := make(map[string]struct{}, len(head))
	for _, id := range orderedIDs {
		res, ok := byID[id]
		if !ok {
			continue
		}
		if _, dup := taken[id]; dup {
			continue
		}
		taken[id] = struct{}{}
		out = append(out, res)
	}
	for _, res := range head {
		if _, ok := taken[res.ID]; !ok {
			out = append(out, res)
		}
	}
	return out
}

func renumber(results []domain.FusedResult) []domain.FusedResult {
	for i := range results {
		results[i].FinalRank = i + 1
	}
	return results
}
