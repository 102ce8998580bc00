package domain

import "strings"

// SourceType tags where a stored passage came from.
type SourceType string

const (
	// SourceAny means no source-type restriction.
	SourceAny SourceType = ""
	// SourceAll is the explicit spelling of "no restriction"; callers may
	// send it instead of omitting the filter and both mean the same thing.
	SourceAll SourceType = "all"

	SourceNote      SourceType = "note"
	SourceHighlight SourceType = "highlight"
	// SourceRaw marks content derived from raw source documents. Excluded
	// from retrieval by default unless the scope asks for it.
	SourceRaw SourceType = "raw"
)

// Unrestricted reports whether the source type places no restriction on
// retrieval. An explicit "all" filter counts as unrestricted.
func (s SourceType) Unrestricted() bool {
	return s == SourceAny || s == SourceAll
}

// Scope narrows a query to a subset of the caller's corpus.
type Scope struct {
	SourceType SourceType `json:"source_type,omitempty"`
	DocumentID string     `json:"document_id,omitempty"`
}

// Query is one accepted search request. Immutable once built.
type Query struct {
	Text   string `json:"text"`
	UserID string `json:"user_id"`
	Scope  Scope  `json:"scope"`
	Limit  int    `json:"limit"`
}

// QueryVariant is a paraphrase of a query produced by expansion. It lives
// for one request only.
type QueryVariant struct {
	Parent *Query `json:"-"`
	Text   string `json:"text"`
}

// NormalizeQueryText collapses whitespace and case so that equivalent
// query spellings share cache keys.
func NormalizeQueryText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
