package memory

import (
	"context"
	"testing"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/docstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSemanticStore(t *testing.T) *SemanticStore {
	t.Helper()
	s, err := NewSemanticStore(docstore.NewMemStore(), nil, DefaultConfig(), nil)
	require.NoError(t, err)
	return s
}

// episodeWithContext builds a completed episode with a fixed context.
func episodeWithContext(skill, tenant string, ctx Mapping, completed bool) *EpisodicMemory {
	p := testPrediction(skill, tenant)
	p.Context = ctx
	return NewEpisodicMemory(*p, Outcome{
		PredictionID:     p.ID,
		ObservedSignal:   12,
		ObservedBaseline: 5,
		GoalCompleted:    completed,
		ObservedAt:       time.Now(),
	})
}

func TestConsolidateFromEpisodesCreatesPattern(t *testing.T) {
	s := newTestSemanticStore(t)
	ctx := context.Background()

	episodes := []*EpisodicMemory{
		episodeWithContext("welcome_email", "acme", Mapping{"budget": Number(100), "tone": String("casual")}, true),
		episodeWithContext("welcome_email", "acme", Mapping{"budget": Number(110), "tone": String("casual")}, true),
		episodeWithContext("welcome_email", "acme", Mapping{"budget": Number(90), "tone": String("casual")}, false),
	}

	id, created, err := s.ConsolidateFromEpisodes(ctx, episodes)
	require.NoError(t, err)
	assert.True(t, created)

	p, err := s.GetPattern(ctx, "acme", "welcome_email", id)
	require.NoError(t, err)

	// Budgets agree within tolerance, so the condition keeps the mean.
	require.Contains(t, p.Condition, "budget")
	assert.Equal(t, KindNumber, p.Condition["budget"].Kind)
	assert.InDelta(t, 100, p.Condition["budget"].Num, 1e-9)
	assert.True(t, p.Condition["tone"].Equal(String("casual")))

	assert.Equal(t, 2, p.Successes)
	assert.Equal(t, 1, p.Failures)
	assert.Equal(t, 3, p.EvidenceCount)
	assert.Len(t, p.SourceEpisodes, 3)
	assert.GreaterOrEqual(t, p.Confidence, s.cfg.MinConfidence)
	assert.LessOrEqual(t, p.Confidence, s.cfg.MaxConfidence)
}

func TestConsolidateDisagreeingNumbersWidenToRange(t *testing.T) {
	s := newTestSemanticStore(t)
	ctx := context.Background()

	episodes := []*EpisodicMemory{
		episodeWithContext("welcome_email", "acme", Mapping{"budget": Number(100)}, true),
		episodeWithContext("welcome_email", "acme", Mapping{"budget": Number(200)}, true),
		episodeWithContext("welcome_email", "acme", Mapping{"budget": Number(300)}, true),
	}

	id, _, err := s.ConsolidateFromEpisodes(ctx, episodes)
	require.NoError(t, err)

	p, err := s.GetPattern(ctx, "acme", "welcome_email", id)
	require.NoError(t, err)
	require.Equal(t, KindRange, p.Condition["budget"].Kind)
	assert.Equal(t, 100.0, p.Condition["budget"].Min)
	assert.Equal(t, 300.0, p.Condition["budget"].Max)
}

func TestConsolidateDisagreeingCategoricalsDropKey(t *testing.T) {
	s := newTestSemanticStore(t)
	ctx := context.Background()

	episodes := []*EpisodicMemory{
		episodeWithContext("welcome_email", "acme", Mapping{"tone": String("casual"), "segment": String("smb")}, true),
		episodeWithContext("welcome_email", "acme", Mapping{"tone": String("formal"), "segment": String("smb")}, true),
		episodeWithContext("welcome_email", "acme", Mapping{"tone": String("casual"), "segment": String("smb")}, true),
	}

	id, _, err := s.ConsolidateFromEpisodes(ctx, episodes)
	require.NoError(t, err)

	p, err := s.GetPattern(ctx, "acme", "welcome_email", id)
	require.NoError(t, err)
	assert.NotContains(t, p.Condition, "tone")
	assert.Contains(t, p.Condition, "segment")
}

func TestConsolidateMergesIntoMatchingPattern(t *testing.T) {
	s := newTestSemanticStore(t)
	ctx := context.Background()

	batch := func() []*EpisodicMemory {
		return []*EpisodicMemory{
			episodeWithContext("welcome_email", "acme", Mapping{"budget": Number(100)}, true),
			episodeWithContext("welcome_email", "acme", Mapping{"budget": Number(105)}, true),
			episodeWithContext("welcome_email", "acme", Mapping{"budget": Number(95)}, true),
		}
	}

	firstID, created, err := s.ConsolidateFromEpisodes(ctx, batch())
	require.NoError(t, err)
	require.True(t, created)

	secondID, created, err := s.ConsolidateFromEpisodes(ctx, batch())
	require.NoError(t, err)
	assert.False(t, created, "matching condition should merge, not create")
	assert.Equal(t, firstID, secondID)

	p, err := s.GetPattern(ctx, "acme", "welcome_email", firstID)
	require.NoError(t, err)
	assert.Equal(t, 6, p.EvidenceCount)
}

func TestConsolidateRejectsSmallBatch(t *testing.T) {
	s := newTestSemanticStore(t)
	_, _, err := s.ConsolidateFromEpisodes(context.Background(), []*EpisodicMemory{
		episodeWithContext("welcome_email", "acme", Mapping{"budget": Number(100)}, true),
	})
	assert.Error(t, err)
}

func TestUpdateFromOutcome(t *testing.T) {
	s := newTestSemanticStore(t)
	ctx := context.Background()

	id, _, err := s.ConsolidateFromEpisodes(ctx, []*EpisodicMemory{
		episodeWithContext("welcome_email", "acme", Mapping{"budget": Number(100)}, true),
		episodeWithContext("welcome_email", "acme", Mapping{"budget": Number(100)}, true),
		episodeWithContext("welcome_email", "acme", Mapping{"budget": Number(100)}, true),
	})
	require.NoError(t, err)

	before, err := s.GetPattern(ctx, "acme", "welcome_email", id)
	require.NoError(t, err)

	after, err := s.UpdateFromOutcome(ctx, "acme", "welcome_email", id, false, 0.5)
	require.NoError(t, err)

	assert.Equal(t, before.Failures+1, after.Failures)
	assert.Equal(t, before.EvidenceCount+1, after.EvidenceCount)
	assert.Less(t, after.Confidence, before.Confidence)
	assert.Less(t, after.RecentAccuracy, before.RecentAccuracy)

	t.Run("unknown pattern", func(t *testing.T) {
		_, err := s.UpdateFromOutcome(ctx, "acme", "welcome_email", "missing", true, 1)
		assert.ErrorIs(t, err, ErrPatternNotFound)
	})
}

func TestForceFailHalvesExpectedValue(t *testing.T) {
	s := newTestSemanticStore(t)
	ctx := context.Background()

	id, _, err := s.ConsolidateFromEpisodes(ctx, []*EpisodicMemory{
		episodeWithContext("welcome_email", "acme", Mapping{"budget": Number(100)}, true),
		episodeWithContext("welcome_email", "acme", Mapping{"budget": Number(100)}, true),
		episodeWithContext("welcome_email", "acme", Mapping{"budget": Number(100)}, true),
	})
	require.NoError(t, err)

	before, err := s.GetPattern(ctx, "acme", "welcome_email", id)
	require.NoError(t, err)

	require.NoError(t, s.ForceFail(ctx, "acme", "welcome_email", id))

	after, err := s.GetPattern(ctx, "acme", "welcome_email", id)
	require.NoError(t, err)
	assert.InDelta(t, before.ExpectedValue/2, after.ExpectedValue, 1e-9)
	assert.Equal(t, before.Failures+1, after.Failures)
}

func TestRetrievePatternsAppliesDecay(t *testing.T) {
	s := newTestSemanticStore(t)
	ctx := context.Background()

	id, _, err := s.ConsolidateFromEpisodes(ctx, []*EpisodicMemory{
		episodeWithContext("welcome_email", "acme", Mapping{"budget": Number(100)}, true),
		episodeWithContext("welcome_email", "acme", Mapping{"budget": Number(100)}, true),
		episodeWithContext("welcome_email", "acme", Mapping{"budget": Number(100)}, true),
	})
	require.NoError(t, err)

	stored, err := s.GetPattern(ctx, "acme", "welcome_email", id)
	require.NoError(t, err)

	s.clock = func() time.Time { return time.Now().Add(20 * 24 * time.Hour) }
	patterns, err := s.RetrievePatterns(ctx, "acme", "welcome_email", "", 0)
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Less(t, patterns[0].Confidence, stored.Confidence)

	// The stored confidence is untouched by read-time decay.
	s.clock = time.Now
	again, err := s.GetPattern(ctx, "acme", "welcome_email", id)
	require.NoError(t, err)
	assert.InDelta(t, stored.Confidence, again.Confidence, 1e-9)
}

func TestForgetStalePatternsRespectsTrustFloor(t *testing.T) {
	s := newTestSemanticStore(t)
	ctx := context.Background()

	// A failing pattern with plenty of evidence.
	trusted, _, err := s.ConsolidateFromEpisodes(ctx, []*EpisodicMemory{
		episodeWithContext("welcome_email", "acme", Mapping{"budget": Number(100)}, false),
		episodeWithContext("welcome_email", "acme", Mapping{"budget": Number(100)}, false),
		episodeWithContext("welcome_email", "acme", Mapping{"budget": Number(100)}, false),
	})
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err := s.UpdateFromOutcome(ctx, "acme", "welcome_email", trusted, false, 0.1)
		require.NoError(t, err)
	}

	// A failing pattern with little evidence, in another skill.
	young, _, err := s.ConsolidateFromEpisodes(ctx, []*EpisodicMemory{
		episodeWithContext("other_skill", "acme", Mapping{"budget": Number(100)}, false),
		episodeWithContext("other_skill", "acme", Mapping{"budget": Number(100)}, false),
		episodeWithContext("other_skill", "acme", Mapping{"budget": Number(100)}, false),
	})
	require.NoError(t, err)

	// Age both units far enough for decay to pull confidence under the
	// forget threshold.
	s.clock = func() time.Time { return time.Now().Add(60 * 24 * time.Hour) }

	archived, err := s.ForgetStalePatterns(ctx, "acme", "welcome_email")
	require.NoError(t, err)
	assert.Equal(t, 1, archived)
	_, err = s.GetPattern(ctx, "acme", "welcome_email", trusted)
	assert.ErrorIs(t, err, ErrPatternNotFound)

	// The young pattern survives: its confidence is just as low but its
	// evidence count is under the trust minimum.
	archived, err = s.ForgetStalePatterns(ctx, "acme", "other_skill")
	require.NoError(t, err)
	assert.Equal(t, 0, archived)
	_, err = s.GetPattern(ctx, "acme", "other_skill", young)
	assert.NoError(t, err)
}

func TestFindSimilarContext(t *testing.T) {
	s := newTestSemanticStore(t)
	ctx := context.Background()

	mk := func(skill string, m Mapping) {
		_, _, err := s.ConsolidateFromEpisodes(ctx, []*EpisodicMemory{
			episodeWithContext(skill, "acme", m, true),
			episodeWithContext(skill, "acme", m, true),
			episodeWithContext(skill, "acme", m, true),
		})
		require.NoError(t, err)
	}
	mk("newsletter", Mapping{"audience_segment": String("enterprise customers"), "send_window": String("weekday morning")})
	mk("newsletter", Mapping{"audience_segment": String("smb trial users"), "discount_level": String("aggressive")})

	found, err := s.FindSimilarContext(ctx, "acme", "newsletter",
		Mapping{"audience_segment": String("enterprise customers"), "send_window": String("weekday morning")}, 1)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.True(t, found[0].Condition["audience_segment"].Equal(String("enterprise customers")))
}
