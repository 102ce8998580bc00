package domain

// Candidate is one retrieved passage reference as returned by a single
// strategy. Rank is 1-indexed within that strategy's result list.
type Candidate struct {
	ID         string     `json:"id"`
	DocumentID string     `json:"document_id"`
	Source     SourceType `json:"source"`
	Title      string     `json:"title"`
	Text       string     `json:"text"`
	Strategy   string     `json:"strategy,omitempty"`
	Rank       int        `json:"rank,omitempty"`
	RawScore   float64    `json:"raw_score,omitempty"`
}

// FusedResult is a candidate enriched with its fused score and final rank.
type FusedResult struct {
	Candidate
	FusedScore float64 `json:"fused_score"`
	FinalRank  int     `json:"final_rank"`
}

// SearchResponse is the unit returned to the caller.
type SearchResponse struct {
	Results  []FusedResult    `json:"results"`
	Level    DegradationLevel `json:"degradation_level"`
	Degraded bool             `json:"degraded"`
	CacheHit bool             `json:"cache_hit"`
}
