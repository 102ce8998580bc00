package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bilgece/retrieval/internal/core/domain"
	"github.com/bilgece/retrieval/internal/core/ports"
	"github.com/bilgece/retrieval/internal/infrastructure/resilience"
)

// Breaker operation names. Embedding is tracked separately from the
// generation ops so an embedding outage degrades only the vector strategy.
const (
	opEmbed  = "llm.embed"
	opExpand = "llm.expand"
	opRerank = "llm.rerank"
)

var _ ports.LanguageModel = (*Client)(nil)

// Client talks to an Ollama server for embeddings, query expansion and
// reranking. Generation calls pass the token-bucket limiter first; every
// call runs behind its operation's circuit breaker.
type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	httpClient *http.Client

	executor    *resilience.Executor
	limiter     *resilience.Limiter
	callTimeout time.Duration
}

type Options struct {
	Executor    *resilience.Executor
	Limiter     *resilience.Limiter
	CallTimeout time.Duration
}

func New(baseURL, genModel, embedModel string, opts Options) *Client {
	callTimeout := opts.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: 2 * callTimeout},

		executor:    opts.Executor,
		limiter:     opts.Limiter,
		callTimeout: callTimeout,
	}
}

// EmbedOperation exposes the breaker operation name for health snapshots.
func EmbedOperation() string { return opEmbed }

// ExpandOperation exposes the breaker operation name for health snapshots.
func ExpandOperation() string { return opExpand }

// RerankOperation exposes the breaker operation name for health snapshots.
func RerankOperation() string { return opRerank }

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	var vector []float32
	err := c.execute(ctx, opEmbed, func(callCtx context.Context) error {
		request := map[string]any{
			"model":  c.embedModel,
			"prompt": text,
		}
		var response struct {
			Embedding []float32 `json:"embedding"`
		}
		if err := c.postJSON(callCtx, "/api/embeddings", request, &response, "embed"); err != nil {
			return err
		}
		if len(response.Embedding) == 0 {
			return fmt.Errorf("empty embedding result")
		}
		vector = response.Embedding
		return nil
	})
	if err != nil {
		return nil, wrapLLMError(opEmbed, err)
	}
	return vector, nil
}

func (c *Client) Expand(ctx context.Context, text string, max int) ([]string, error) {
	if max <= 0 {
		return nil, nil
	}
	if err := c.allow(ctx); err != nil {
		return nil, err
	}

	raw, err := c.generateJSON(ctx, opExpand, buildExpansionPrompt(text, max))
	if err != nil {
		return nil, wrapLLMError(opExpand, err)
	}

	var variants []string
	if err := json.Unmarshal([]byte(extractJSONArray(raw)), &variants); err != nil {
		return nil, fmt.Errorf("parse expansion json: %w", err)
	}

	out := make([]string, 0, max)
	for _, v := range variants {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
		if len(out) == max {
			break
		}
	}
	return out, nil
}

func (c *Client) Rerank(ctx context.Context, question string, candidates []domain.Candidate) ([]string, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	if err := c.allow(ctx); err != nil {
		return nil, err
	}

	raw, err := c.generateJSON(ctx, opRerank, buildRerankPrompt(question, candidates))
	if err != nil {
		return nil, wrapLLMError(opRerank, err)
	}

	var ordered []string
	if err := json.Unmarshal([]byte(extractJSONArray(raw)), &ordered); err != nil {
		return nil, fmt.Errorf("parse rerank json: %w", err)
	}
	return ordered, nil
}

func (c *Client) allow(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Allow(ctx)
}

func (c *Client) generateJSON(ctx context.Context, operation, prompt string) (string, error) {
	var text string
	err := c.execute(ctx, operation, func(callCtx context.Context) error {
		request := map[string]any{
			"model":  c.genModel,
			"prompt": prompt,
			"stream": false,
			"format": "json",
		}
		var response struct {
			Response string `json:"response"`
		}
		if err := c.postJSON(callCtx, "/api/generate", request, &response, operation); err != nil {
			return err
		}
		text = strings.TrimSpace(response.Response)
		return nil
	})
	return text, err
}

func (c *Client) execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	call := func(callCtx context.Context) error {
		boundedCtx, cancel := context.WithTimeout(callCtx, c.callTimeout)
		defer cancel()
		return fn(boundedCtx)
	}
	if c.executor == nil {
		return call(ctx)
	}
	return c.executor.Execute(ctx, operation, call, classifyOllamaError)
}
