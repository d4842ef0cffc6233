package reranker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

// fakeModel returns a canned completion, or an error.
type fakeModel struct {
	response string
	err      error
}

func (m *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: m.response}},
	}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.response, nil
}

func TestLLMRerankerScoresFromModel(t *testing.T) {
	model := &fakeModel{response: "1: 0.2\n2: 0.9\n3: 0.5"}
	r, err := NewLLMReranker(model, NewTokenReranker(Jaccard, false), LLMRerankerConfig{}, nil)
	require.NoError(t, err)

	docs := []Document{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	scored, err := r.Rerank(context.Background(), "query", docs, 0)
	require.NoError(t, err)
	require.Len(t, scored, 3)
	assert.Equal(t, "b", scored[0].ID)
	assert.InDelta(t, 0.9, scored[0].RerankerScore, 1e-9)
	assert.Equal(t, "c", scored[1].ID)
	assert.Equal(t, "a", scored[2].ID)
}

func TestLLMRerankerFallsBackOnModelError(t *testing.T) {
	model := &fakeModel{err: errors.New("connection refused")}
	r, err := NewLLMReranker(model, NewTokenReranker(Jaccard, false), LLMRerankerConfig{}, nil)
	require.NoError(t, err)

	docs := []Document{
		{ID: "match", Content: "enterprise customers"},
		{ID: "other", Content: "something else"},
	}
	scored, err := r.Rerank(context.Background(), "enterprise customers", docs, 0)
	require.NoError(t, err)
	require.Len(t, scored, 2)
	assert.Equal(t, "match", scored[0].ID)
}

func TestLLMRerankerFallsBackOnUnparseableResponse(t *testing.T) {
	model := &fakeModel{response: "I think the second one is best."}
	r, err := NewLLMReranker(model, NewTokenReranker(Jaccard, false), LLMRerankerConfig{}, nil)
	require.NoError(t, err)

	docs := []Document{
		{ID: "match", Content: "enterprise customers"},
		{ID: "other", Content: "something else"},
	}
	scored, err := r.Rerank(context.Background(), "enterprise customers", docs, 0)
	require.NoError(t, err)
	require.Len(t, scored, 2)
	assert.Equal(t, "match", scored[0].ID)
}

func TestNewLLMRerankerValidation(t *testing.T) {
	_, err := NewLLMReranker(nil, NewTokenReranker(Jaccard, false), LLMRerankerConfig{}, nil)
	assert.Error(t, err)

	_, err = NewLLMReranker(&fakeModel{}, nil, LLMRerankerConfig{}, nil)
	assert.Error(t, err)
}

func TestParseScores(t *testing.T) {
	t.Run("well formed", func(t *testing.T) {
		scores, err := parseScores("1: 0.25\n2: 1.5\n3: -0.3", 3)
		require.NoError(t, err)
		assert.Equal(t, []float64{0.25, 1, 0}, scores, "scores clamp to the unit interval")
	})

	t.Run("extra prose around score lines is tolerated", func(t *testing.T) {
		scores, err := parseScores("Here are the ratings:\n1: 0.4\n2: 0.6\nDone.", 2)
		require.NoError(t, err)
		assert.Equal(t, []float64{0.4, 0.6}, scores)
	})

	t.Run("missing candidate rejects the response", func(t *testing.T) {
		_, err := parseScores("1: 0.4", 2)
		assert.Error(t, err)
	})

	t.Run("out of range indexes are ignored", func(t *testing.T) {
		_, err := parseScores("0: 0.4\n5: 0.2", 2)
		assert.Error(t, err)
	})
}
