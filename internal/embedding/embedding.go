package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/NDAR123909/vbi-claims-navigator/internal/config"
	"github.com/NDAR123909/vbi-claims-navigator/internal/errs"
)

// NewEmbedder builds the configured embedding backend. Selection happens
// here, once, by configuration; business logic only ever sees the
// embeddings.Embedder interface.
func NewEmbedder(cfg *config.LLMConfig, dim int) (embeddings.Embedder, error) {
	switch cfg.Provider {
	case "ollama":
		return newOllamaEmbedder(cfg)
	case "openai":
		return newOpenAIEmbedder(cfg)
	case "stub":
		return NewStubEmbedder(dim), nil
	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", errs.ErrConfiguration, cfg.Provider)
	}
}

func newOllamaEmbedder(cfg *config.LLMConfig) (*embeddings.EmbedderImpl, error) {
	llm, err := ollama.New(
		ollama.WithServerURL(cfg.BaseURL),
		ollama.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, err
	}
	return embeddings.NewEmbedder(llm)
}

func newOpenAIEmbedder(cfg *config.LLMConfig) (*embeddings.EmbedderImpl, error) {
	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
		openai.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, err
	}
	return embeddings.NewEmbedder(llm)
}

// Gateway wraps the embedding backend with batching, retries and
// backpressure. Calls are all-or-nothing: the caller either gets one vector
// per input text, in input order, or an error. A partial or misaligned
// result set never escapes.
type Gateway struct {
	backend    embeddings.Embedder
	batchSize  int
	maxRetries int
	baseDelay  time.Duration
	timeout    time.Duration
	limiter    *rate.Limiter
	sem        *semaphore.Weighted
}

// NewGateway wraps the backend. A positive timeout bounds each EmbedTexts or
// EmbedQuery call as a whole, retries included; zero relies on the caller's
// context alone.
func NewGateway(backend embeddings.Embedder, limits config.LimitsConfig, timeout time.Duration) *Gateway {
	return &Gateway{
		backend:    backend,
		batchSize:  limits.MaxBatchSize,
		maxRetries: limits.MaxRetries,
		baseDelay:  200 * time.Millisecond,
		timeout:    timeout,
		limiter:    rate.NewLimiter(rate.Limit(limits.RequestsPerSecond), 1),
		sem:        semaphore.NewWeighted(limits.MaxInflight),
	}
}

// EmbedTexts embeds every text, preserving input order. Each sub-batch is
// retried with exponential backoff; once the retry budget is exhausted the
// whole call fails with ErrEmbeddingBackend.
func (g *Gateway) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += g.batchSize {
		end := start + g.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := g.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// EmbedQuery embeds a single query string.
func (g *Gateway) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	vecs, err := g.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (g *Gateway) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrEmbeddingBackend, err)
	}
	defer g.sem.Release(1)

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			delay := g.baseDelay << (attempt - 1)
			log.Debug().Int("attempt", attempt).Dur("delay", delay).Msg("retrying embedding batch")
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", errs.ErrEmbeddingBackend, ctx.Err())
			case <-time.After(delay):
			}
		}
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrEmbeddingBackend, err)
		}
		vecs, err := g.backend.EmbedDocuments(ctx, batch)
		if err != nil {
			lastErr = err
			continue
		}
		if len(vecs) != len(batch) {
			// a misaligned result is as bad as no result
			lastErr = fmt.Errorf("backend returned %d vectors for %d texts", len(vecs), len(batch))
			continue
		}
		return vecs, nil
	}
	return nil, fmt.Errorf("%w: %v", errs.ErrEmbeddingBackend, lastErr)
}
