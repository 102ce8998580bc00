package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/bilgece/retrieval/internal/core/domain"
	"github.com/bilgece/retrieval/internal/core/ports"
	"github.com/bilgece/retrieval/internal/infrastructure/resilience"
)

const breakerOperation = "datastore"

// DatastoreOperation exposes the breaker operation name for health
// snapshots.
func DatastoreOperation() string { return breakerOperation }

// SearchStore runs the three storage searches against the passages table
// (pg_trgm for lexical similarity, tsvector lemmas, pgvector embeddings).
// Every call goes through the shared datastore circuit breaker.
type SearchStore struct {
	db             *sql.DB
	executor       *resilience.Executor
	acquireTimeout time.Duration
}

type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// AcquireTimeout bounds the wait for a pooled connection. Exceeding it
	// is a retryable dependency-unavailable error, not an indefinite queue.
	AcquireTimeout time.Duration
}

func OpenDB(dsn string, opts Options) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 10
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = 10
	}
	if opts.ConnMaxLifetime <= 0 {
		opts.ConnMaxLifetime = 30 * time.Minute
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func NewSearchStore(db *sql.DB, executor *resilience.Executor, acquireTimeout time.Duration) *SearchStore {
	if acquireTimeout <= 0 {
		acquireTimeout = 2 * time.Second
	}
	return &SearchStore{
		db:             db,
		executor:       executor,
		acquireTimeout: acquireTimeout,
	}
}

func (s *SearchStore) LexicalSearch(ctx context.Context, userID, text string, filter ports.SearchFilter, limit int) ([]domain.Candidate, error) {
	where, args := filterClauses(userID, filter)
	args = append(args, text)
	textArg := len(args)

	query := fmt.Sprintf(`
SELECT id, document_id, source_type, title, content, similarity(content, $%d) AS score
FROM passages
WHERE %s AND content ILIKE '%%' || $%d || '%%'
ORDER BY score DESC, id ASC
LIMIT %d
`, textArg, strings.Join(where, " AND "), textArg, normalizeLimit(limit))

	return s.search(ctx, "lexical", query, args)
}

func (s *SearchStore) LemmaSearch(ctx context.Context, userID string, lemmas []string, filter ports.SearchFilter, limit int) ([]domain.Candidate, error) {
	if len(lemmas) == 0 {
		return nil, nil
	}

	where, args := filterClauses(userID, filter)
	args = append(args, strings.Join(lemmas, " | "))
	tsArg := len(args)

	query := fmt.Sprintf(`
SELECT id, document_id, source_type, title, content, ts_rank(lemmas, to_tsquery('simple', $%d)) AS score
FROM passages
WHERE %s AND lemmas @@ to_tsquery('simple', $%d)
ORDER BY score DESC, id ASC
LIMIT %d
`, tsArg, strings.Join(where, " AND "), tsArg, normalizeLimit(limit))

	return s.search(ctx, "lemma", query, args)
}

func (s *SearchStore) VectorSearch(ctx context.Context, userID string, vector []float32, filter ports.SearchFilter, limit int) ([]domain.Candidate, error) {
	if len(vector) == 0 {
		return nil, nil
	}

	where, args := filterClauses(userID, filter)
	args = append(args, vectorLiteral(vector))
	vecArg := len(args)

	query := fmt.Sprintf(`
SELECT id, document_id, source_type, title, content, 1 - (embedding <=> $%d::vector) AS score
FROM passages
WHERE %s AND embedding IS NOT NULL
ORDER BY embedding <=> $%d::vector ASC, id ASC
LIMIT %d
`, vecArg, strings.Join(where, " AND "), vecArg, normalizeLimit(limit))

	return s.search(ctx, "vector", query, args)
}

func (s *SearchStore) LatestDocumentUpdate(ctx context.Context, userID, documentID string) (time.Time, error) {
	var updated sql.NullTime
	err := s.execute(ctx, func(callCtx context.Context) error {
		row := s.db.QueryRowContext(callCtx, `
SELECT MAX(updated_at) FROM passages WHERE user_id = $1 AND document_id = $2
`, userID, documentID)
		return row.Scan(&updated)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	if !updated.Valid {
		return time.Time{}, nil
	}
	return updated.Time, nil
}

func (s *SearchStore) search(ctx context.Context, operation, query string, args []any) ([]domain.Candidate, error) {
	var candidates []domain.Candidate
	err := s.execute(ctx, func(callCtx context.Context) error {
		rows, err := s.db.QueryContext(callCtx, query, args...)
		if err != nil {
			return fmt.Errorf("%s search query: %w", operation, err)
		}
		defer rows.Close()

		candidates = candidates[:0]
		for rows.Next() {
			var c domain.Candidate
			var source string
			if err := rows.Scan(&c.ID, &c.DocumentID, &source, &c.Title, &c.Text, &c.RawScore); err != nil {
				return fmt.Errorf("scan %s row: %w", operation, err)
			}
			c.Source = domain.SourceType(source)
			c.Rank = len(candidates) + 1
			candidates = append(candidates, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return candidates, nil
}

// execute runs one store call behind the datastore breaker with a bounded
// overall deadline standing in for pool acquisition wait.
func (s *SearchStore) execute(ctx context.Context, fn func(context.Context) error) error {
	call := func(callCtx context.Context) error {
		boundedCtx, cancel := context.WithTimeout(callCtx, s.acquireTimeout)
		defer cancel()

		err := fn(boundedCtx)
		if err != nil && errors.Is(err, context.DeadlineExceeded) && callCtx.Err() == nil {
			// Our own bound fired, not the caller's deadline.
			return domain.WrapError(domain.ErrOverloaded, "datastore wait", err)
		}
		return err
	}

	if s.executor == nil {
		return call(ctx)
	}
	err := s.executor.Execute(ctx, breakerOperation, call, classifyPostgresError)
	if err != nil && resilience.IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrTemporary, "datastore", err)
	}
	return err
}

func classifyPostgresError(err error) resilience.ErrorClassification {
	switch {
	case err == nil:
		return resilience.ErrorClassification{}
	case domain.IsKind(err, domain.ErrOverloaded):
		// Pool exhaustion feeds breaker accounting but is not retried
		// in-process; the caller gets a retryable-unavailable response.
		return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	case resilience.IsCircuitOpen(err):
		return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
	default:
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
}

func filterClauses(userID string, filter ports.SearchFilter) ([]string, []any) {
	where := []string{"user_id = $1"}
	args := []any{userID}

	if filter.DocumentID != "" {
		args = append(args, filter.DocumentID)
		where = append(where, "document_id = $"+strconv.Itoa(len(args)))
	}
	if !filter.SourceType.Unrestricted() {
		args = append(args, string(filter.SourceType))
		where = append(where, "source_type = $"+strconv.Itoa(len(args)))
	} else if !filter.IncludeRaw {
		args = append(args, string(domain.SourceRaw))
		where = append(where, "source_type <> $"+strconv.Itoa(len(args)))
	}
	return where, args
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 200 {
		return 50
	}
	return limit
}

func vectorLiteral(vector []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vector {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
