package reranker

import (
	"context"
	"math"
	"sort"
	"strings"
)

// TokenMethod selects the similarity measure used by TokenReranker.
type TokenMethod int

const (
	// Jaccard scores by the size ratio of the token-set intersection
	// over the union.
	Jaccard TokenMethod = iota

	// TFIDFCosine scores by cosine similarity over TF-IDF weighted
	// token vectors, with document frequencies taken from the
	// candidate set itself.
	TFIDFCosine
)

// TokenReranker scores documents by token overlap with the query.
// It needs no external services, so it is the always-available
// fallback behind the LLM reranker.
type TokenReranker struct {
	method  TokenMethod
	bigrams bool
}

// NewTokenReranker creates a token-overlap reranker. When bigrams is
// true, adjacent token pairs are added to each token set, which
// rewards phrase-level matches.
func NewTokenReranker(method TokenMethod, bigrams bool) *TokenReranker {
	return &TokenReranker{method: method, bigrams: bigrams}
}

// Rerank scores each document's token set against the query's.
// Documents with no token overlap score 0 and still appear in the
// output; filtering by threshold is the caller's concern.
func (r *TokenReranker) Rerank(ctx context.Context, query string, docs []Document, topK int) ([]ScoredDocument, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if len(docs) == 0 {
		return []ScoredDocument{}, nil
	}

	queryTokens := Tokenize(query, r.bigrams)
	if len(queryTokens) == 0 {
		return fallbackRank(docs, topK), nil
	}

	docTokens := make([][]string, len(docs))
	for i, doc := range docs {
		docTokens[i] = Tokenize(doc.Content, r.bigrams)
	}

	scored := make([]ScoredDocument, len(docs))
	switch r.method {
	case TFIDFCosine:
		idf := inverseDocFrequencies(docTokens)
		qv := tfidfVector(queryTokens, idf)
		for i, doc := range docs {
			scored[i] = ScoredDocument{
				Document:      doc,
				RerankerScore: cosine(qv, tfidfVector(docTokens[i], idf)),
				OriginalRank:  i,
			}
		}
	default:
		qs := tokenSet(queryTokens)
		for i, doc := range docs {
			scored[i] = ScoredDocument{
				Document:      doc,
				RerankerScore: jaccard(qs, tokenSet(docTokens[i])),
				OriginalRank:  i,
			}
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].RerankerScore > scored[j].RerankerScore
	})
	return truncate(scored, topK), nil
}

// Close is a no-op; the token reranker holds no resources.
func (r *TokenReranker) Close() error { return nil }

// Tokenize splits text into lowercase alphanumeric terms, drops
// stopwords and terms shorter than three characters, and optionally
// appends adjacent-pair bigrams.
func Tokenize(text string, bigrams bool) []string {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !isAlphanumeric(r)
	})

	filtered := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if len(token) >= 3 && !stopwords[token] {
			filtered = append(filtered, token)
		}
	}
	if bigrams {
		n := len(filtered)
		for i := 0; i+1 < n; i++ {
			filtered = append(filtered, filtered[i]+" "+filtered[i+1])
		}
	}
	return filtered
}

func isAlphanumeric(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_'
}

var stopwords = map[string]bool{
	"the": true, "and": true, "but": true, "for": true, "with": true,
	"from": true, "was": true, "are": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "does": true, "did": true,
	"will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "can": true, "this": true, "that": true,
	"these": true, "those": true, "you": true, "she": true, "they": true,
	"what": true, "which": true, "who": true, "when": true,
	"where": true, "why": true, "how": true, "not": true, "all": true,
}

func tokenSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}

// jaccard returns |a ∩ b| / |a ∪ b|, or 0 when both sets are empty.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for t := range a {
		if b[t] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// inverseDocFrequencies computes smoothed IDF weights over the
// candidate documents.
func inverseDocFrequencies(docs [][]string) map[string]float64 {
	df := make(map[string]int)
	for _, tokens := range docs {
		for t := range tokenSet(tokens) {
			df[t]++
		}
	}
	n := float64(len(docs))
	idf := make(map[string]float64, len(df))
	for t, count := range df {
		idf[t] = math.Log((n+1)/(float64(count)+1)) + 1
	}
	return idf
}

func tfidfVector(tokens []string, idf map[string]float64) map[string]float64 {
	if len(tokens) == 0 {
		return nil
	}
	tf := make(map[string]float64)
	for _, t := range tokens {
		tf[t]++
	}
	vec := make(map[string]float64, len(tf))
	for t, count := range tf {
		w, ok := idf[t]
		if !ok {
			w = 1
		}
		vec[t] = (count / float64(len(tokens))) * w
	}
	return vec
}

func cosine(a, b map[string]float64) float64 {
	var dot, na, nb float64
	for t, w := range a {
		na += w * w
		if bw, ok := b[t]; ok {
			dot += w * bw
		}
	}
	for _, w := range b {
		nb += w * w
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// fallbackRank orders documents by their prior score when similarity
// scoring cannot proceed.
func fallbackRank(docs []Document, topK int) []ScoredDocument {
	scored := make([]ScoredDocument, len(docs))
	for i, doc := range docs {
		scored[i] = ScoredDocument{Document: doc, RerankerScore: doc.Score, OriginalRank: i}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].RerankerScore > scored[j].RerankerScore
	})
	return truncate(scored, topK)
}

func truncate(scored []ScoredDocument, topK int) []ScoredDocument {
	if topK > 0 && topK < len(scored) {
		return scored[:topK]
	}
	return scored
}
