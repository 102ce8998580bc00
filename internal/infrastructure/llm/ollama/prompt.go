package ollama

import (
	"fmt"
	"strings"

	"github.com/bilgece/retrieval/internal/core/domain"
)

func buildExpansionPrompt(text string, max int) string {
	return fmt.Sprintf(`You expand search queries.
Return a strict JSON array of at most %d strings, each a paraphrase of the
query below that preserves its meaning but uses different wording.
Keep the query language. No markdown, no commentary, no extra keys.

Query:
%s`, max, text)
}

func buildRerankPrompt(question string, candidates []domain.Candidate) string {
	const maxSnippet = 500

	var b strings.Builder
	for _, c := range candidates {
		snippet := c.Text
		if len(snippet) > maxSnippet {
			snippet = snippet[:maxSnippet]
		}
		fmt.Fprintf(&b, "id=%s title=%s\n%s\n\n", c.ID, c.Title, snippet)
	}

	return fmt.Sprintf(`You rerank search results.
Order the passages below from most to least relevant to the question.
Return a strict JSON array of passage ids, best first, every id exactly once.
No markdown, no commentary.

Question:
%s

Passages:
%s`, question, b.String())
}
