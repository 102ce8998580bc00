package usecase

import (
	"sort"

	"github.com/bilgece/retrieval/internal/core/domain"
)

// rankedList is one strategy's output for one query or variant.
type rankedList struct {
	strategy   string
	candidates []domain.Candidate
}

type fusedAccumulator struct {
	candidate domain.Candidate
	score     float64
}

// fuseRRF merges ranked lists with Reciprocal Rank Fusion: a candidate at
// rank r (1-indexed) contributes 1/(k+r) per list, summed across lists and
// deduplicated by id. Only rank position matters, so heterogeneous raw
// scores (trigram similarity, ts_rank, vector distance) need no
// calibration. Ordering is strictly descending by fused score with ties
// broken by id for determinism.
func fuseRRF(lists []rankedList, rrfK int) []domain.FusedResult {
	if rrfK <= 0 {
		rrfK = 60
	}

	acc := make(map[string]fusedAccumulator)
	for _, list := range lists {
		for rank, candidate := range list.candidates {
			entry := acc[candidate.ID]
			entry.candidate = preferRicherCandidate(entry.candidate, candidate)
			entry.score += 1.0 / float64(rrfK+rank+1)
			acc[candidate.ID] = entry
		}
	}

	out := make([]domain.FusedResult, 0, len(acc))
	for _, entry := range acc {
		out = append(out, domain.FusedResult{
			Candidate:  entry.candidate,
			FusedScore: entry.score,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FusedScore != out[j].FusedScore {
			return out[i].FusedScore > out[j].FusedScore
		}
		return out[i].ID < out[j].ID
	})

	for i := range out {
		out[i].FinalRank = i + 1
	}
	return out
}

func trimResults(results []domain.FusedResult, limit int) []domain.FusedResult {
	if limit <= 0 || len(results) <= limit {
		return results
	}
	return results[:limit]
}

// preferRicherCandidate keeps the most complete payload when the same
// passage arrives from several strategies.
func preferRicherCandidate(current, candidate domain.Candidate) domain.Candidate {
	if current.ID == "" {
		return candidate
	}
	if current.Text == "" && candidate.Text != "" {
		current.Text = candidate.Text
	}
	if current.Title == "" && candidate.Title != "" {
		current.Title = candidate.Title
	}
	if current.Source == "" && candidate.Source != "" {
		current.Source = candidate.Source
	}
	if current.DocumentID == "" && candidate.DocumentID != "" {
		current.DocumentID = candidate.DocumentID
	}
	return current
}
