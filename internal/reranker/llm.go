package reranker

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// LLMReranker asks a language model to rate each document's relevance
// to the query. Calls are rate limited, and any failure falls back to
// the token-overlap reranker so ranking is always available.
type LLMReranker struct {
	model    llms.Model
	fallback Reranker
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// LLMRerankerConfig configures the LLM reranker.
type LLMRerankerConfig struct {
	// CallsPerSecond bounds the request rate to the model. Zero or
	// negative disables the limit.
	CallsPerSecond float64 `json:"calls_per_second" koanf:"calls_per_second"`

	// Burst is the limiter burst size; defaults to 1.
	Burst int `json:"burst" koanf:"burst"`
}

// NewLLMReranker creates a reranker over a langchaingo model. The
// fallback is required and used whenever the model is unavailable.
func NewLLMReranker(model llms.Model, fallback Reranker, cfg LLMRerankerConfig, logger *zap.Logger) (*LLMReranker, error) {
	if model == nil {
		return nil, fmt.Errorf("model cannot be nil")
	}
	if fallback == nil {
		return nil, fmt.Errorf("fallback reranker cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter *rate.Limiter
	if cfg.CallsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.CallsPerSecond), burst)
	}
	return &LLMReranker{
		model:    model,
		fallback: fallback,
		limiter:  limiter,
		logger:   logger.With(zap.String("component", "llm_reranker")),
	}, nil
}

// Rerank scores documents via a single scoring prompt. On any model or
// parse failure it logs and delegates to the fallback reranker.
func (r *LLMReranker) Rerank(ctx context.Context, query string, docs []Document, topK int) ([]ScoredDocument, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if len(docs) == 0 {
		return []ScoredDocument{}, nil
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limit: %w", err)
		}
	}

	scores, err := r.scoreWithModel(ctx, query, docs)
	if err != nil {
		r.logger.Warn("model scoring failed, using fallback", zap.Error(err))
		return r.fallback.Rerank(ctx, query, docs, topK)
	}

	scored := make([]ScoredDocument, len(docs))
	for i, doc := range docs {
		scored[i] = ScoredDocument{Document: doc, RerankerScore: scores[i], OriginalRank: i}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].RerankerScore > scored[j].RerankerScore
	})
	return truncate(scored, topK), nil
}

// Close closes the fallback reranker.
func (r *LLMReranker) Close() error {
	return r.fallback.Close()
}

// scoreWithModel prompts the model for one 0-1 relevance score per
// document and parses the numbered response lines.
func (r *LLMReranker) scoreWithModel(ctx context.Context, query string, docs []Document) ([]float64, error) {
	var b strings.Builder
	b.WriteString("Rate how relevant each candidate is to the query on a 0.0 to 1.0 scale.\n")
	b.WriteString("Reply with one line per candidate in the form \"<index>: <score>\" and nothing else.\n\n")
	fmt.Fprintf(&b, "Query: %s\n\nCandidates:\n", query)
	for i, doc := range docs {
		fmt.Fprintf(&b, "%d: %s\n", i+1, doc.Content)
	}

	response, err := llms.GenerateFromSinglePrompt(ctx, r.model, b.String())
	if err != nil {
		return nil, fmt.Errorf("generating relevance scores: %w", err)
	}
	return parseScores(response, len(docs))
}

// parseScores extracts "<index>: <score>" lines. Every document must
// receive a score, otherwise the response is rejected so the caller
// falls back.
func parseScores(response string, n int) ([]float64, error) {
	scores := make([]float64, n)
	seen := make([]bool, n)
	for _, line := range strings.Split(response, "\n") {
		idx, score, ok := parseScoreLine(line)
		if !ok || idx < 1 || idx > n {
			continue
		}
		scores[idx-1] = clampUnit(score)
		seen[idx-1] = true
	}
	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("missing score for candidate %d", i+1)
		}
	}
	return scores, nil
}

func parseScoreLine(line string) (int, float64, bool) {
	parts := strings.SplitN(strings.TrimSpace(line), ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	idx, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, false
	}
	score, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, false
	}
	return idx, score, true
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
