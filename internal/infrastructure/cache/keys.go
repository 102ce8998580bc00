package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/bilgece/retrieval/internal/core/domain"
)

const keyRoot = "bilgece"

// VersionPrefix addresses every entry written under one pipeline version.
func VersionPrefix(pipelineVersion string) string {
	return fmt.Sprintf("%s:%s:", keyRoot, pipelineVersion)
}

// UserPrefix addresses every result entry for one caller.
func UserPrefix(pipelineVersion, userID string) string {
	return fmt.Sprintf("%s:%s:results:%s:", keyRoot, pipelineVersion, userID)
}

// ResultKey derives the cache key for one query. Normalized text, caller,
// scope and limit all participate so distinct requests never collide;
// the pipeline version segment lets a model upgrade invalidate wholesale.
func ResultKey(pipelineVersion string, q domain.Query) string {
	payload := domain.NormalizeQueryText(q.Text) +
		"\x00" + string(q.Scope.SourceType) +
		"\x00" + q.Scope.DocumentID +
		"\x00" + strconv.Itoa(q.Limit)
	sum := sha256.Sum256([]byte(payload))
	return UserPrefix(pipelineVersion, q.UserID) + hex.EncodeToString(sum[:])
}

// ExpansionKey derives the cache key for query-expansion variants. Caller
// identity is deliberately absent: paraphrases of the same text are stable
// across callers.
func ExpansionKey(pipelineVersion, queryText string) string {
	sum := sha256.Sum256([]byte(domain.NormalizeQueryText(queryText)))
	return fmt.Sprintf("%s:%s:expand:%s", keyRoot, pipelineVersion, hex.EncodeToString(sum[:]))
}
