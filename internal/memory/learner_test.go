package memory

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/memoryd/internal/docstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLearner(t *testing.T) (*Learner, *SemanticStore) {
	t.Helper()
	semantic, err := NewSemanticStore(docstore.NewMemStore(), nil, DefaultConfig(), nil)
	require.NoError(t, err)
	learner, err := NewLearner(semantic, DefaultConfig(), nil)
	require.NoError(t, err)
	return learner, semantic
}

func TestLearnFromOutcomeUpdatesUsedPatterns(t *testing.T) {
	learner, semantic := newTestLearner(t)
	ctx := context.Background()

	id, _, err := semantic.ConsolidateFromEpisodes(ctx, []*EpisodicMemory{
		episodeWithContext("welcome_email", "acme", Mapping{"budget": Number(100)}, true),
		episodeWithContext("welcome_email", "acme", Mapping{"budget": Number(100)}, true),
		episodeWithContext("welcome_email", "acme", Mapping{"budget": Number(100)}, true),
	})
	require.NoError(t, err)

	p := testPrediction("welcome_email", "acme")
	p.PatternsUsed = []string{id}
	o := &Outcome{ObservedSignal: 12, ObservedBaseline: 5, GoalCompleted: true}

	result, err := learner.LearnFromOutcome(ctx, p, o)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, result.PredictionError, 1e-9) // 2.4 - 2.0
	assert.Equal(t, []string{id}, result.PatternsUpdated)
	assert.False(t, result.DriftDetected)

	t.Run("unknown patterns are skipped, not fatal", func(t *testing.T) {
		p := testPrediction("welcome_email", "acme")
		p.PatternsUsed = []string{"missing"}
		result, err := learner.LearnFromOutcome(ctx, p, o)
		require.NoError(t, err)
		assert.Empty(t, result.PatternsUpdated)
	})
}

func TestDetectDrift(t *testing.T) {
	tests := []struct {
		name    string
		history []float64
		want    bool
	}{
		{"too short", []float64{1, 1, 1, 1}, false},
		{
			"stable errors",
			[]float64{
				0.1, -0.1, 0.1, -0.1, 0.1, -0.1, 0.1, -0.1, 0.1, -0.1,
				0.1, -0.1, 0.1, -0.1, 0.1, -0.1, 0.1, -0.1, 0.1, -0.1,
			},
			false,
		},
		{
			"step change against quiet baseline",
			[]float64{
				0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
				2, 2, 2, 2, 2, 2, 2, 2, 2, 2,
			},
			true, // baseline spread is zero, any shift is drift
		},
		{
			"gradual widening without a mean shift",
			[]float64{
				0.5, -0.5, 0.5, -0.5, 0.5, -0.5, 0.5, -0.5, 0.5, -0.5,
				1, -1, 1, -1, 1, -1, 1, -1, 1, -1,
			},
			false,
		},
		{
			"large step change",
			[]float64{
				0.01, -0.01, 0.01, -0.01, 0.01, -0.01, 0.01, -0.01, 0.01, -0.01,
				5, 5.01, 4.99, 5, 5.01, 4.99, 5, 5.01, 4.99, 5,
			},
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, detectDrift(tt.history, 20, 2.0))
		})
	}
}

func TestDriftForcesRelearn(t *testing.T) {
	learner, semantic := newTestLearner(t)
	ctx := context.Background()

	id, _, err := semantic.ConsolidateFromEpisodes(ctx, []*EpisodicMemory{
		episodeWithContext("welcome_email", "acme", Mapping{"budget": Number(100)}, true),
		episodeWithContext("welcome_email", "acme", Mapping{"budget": Number(100)}, true),
		episodeWithContext("welcome_email", "acme", Mapping{"budget": Number(100)}, true),
	})
	require.NoError(t, err)

	before, err := semantic.GetPattern(ctx, "acme", "welcome_email", id)
	require.NoError(t, err)

	// Feed a stable half followed by a violently shifted half.
	var last *LearningResult
	for i := 0; i < 10; i++ {
		p := testPrediction("welcome_email", "acme")
		o := &Outcome{ObservedSignal: 10, ObservedBaseline: 5} // error 0
		last, err = learner.LearnFromOutcome(ctx, p, o)
		require.NoError(t, err)
		require.False(t, last.DriftDetected)
	}
	for i := 0; i < 10; i++ {
		p := testPrediction("welcome_email", "acme")
		o := &Outcome{ObservedSignal: 60, ObservedBaseline: 5} // error 10
		last, err = learner.LearnFromOutcome(ctx, p, o)
		require.NoError(t, err)
	}
	require.True(t, last.DriftDetected)
	assert.NotEmpty(t, last.DriftKey)

	after, err := semantic.GetPattern(ctx, "acme", "welcome_email", id)
	require.NoError(t, err)
	assert.InDelta(t, before.ExpectedValue/2, after.ExpectedValue, 1e-9)
	assert.Equal(t, before.Failures+1, after.Failures)

	t.Run("history is cleared after drift", func(t *testing.T) {
		learner.mu.Lock()
		defer learner.mu.Unlock()
		assert.Empty(t, learner.history[last.DriftKey])
	})
}
