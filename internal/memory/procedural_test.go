package memory

import (
	"context"
	"testing"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/docstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProceduralStore(t *testing.T) *ProceduralStore {
	t.Helper()
	s, err := NewProceduralStore(docstore.NewMemStore(), DefaultConfig(), nil)
	require.NoError(t, err)
	return s
}

func patternForSkill(skill string, confidence float64, rec Mapping) *SemanticPattern {
	return &SemanticPattern{
		ID:             skill + "-pattern",
		SkillName:      skill,
		TenantID:       "acme",
		Domain:         DomainGeneric,
		Condition:      Mapping{"budget": Number(100)},
		Recommendation: rec,
		Confidence:     confidence,
		RecentAccuracy: confidence,
	}
}

func TestCreateFromPatternsGates(t *testing.T) {
	s := newTestProceduralStore(t)
	ctx := context.Background()

	t.Run("too few distinct skills", func(t *testing.T) {
		k, err := s.CreateFromPatterns(ctx, "acme", "cond-x", []*SemanticPattern{
			patternForSkill("a", 0.9, Mapping{"p": Number(1)}),
			patternForSkill("b", 0.9, Mapping{"p": Number(1)}),
		})
		require.NoError(t, err)
		assert.Nil(t, k)
	})

	t.Run("duplicate skills do not count twice", func(t *testing.T) {
		k, err := s.CreateFromPatterns(ctx, "acme", "cond-x", []*SemanticPattern{
			patternForSkill("a", 0.9, Mapping{"p": Number(1)}),
			patternForSkill("a", 0.9, Mapping{"p": Number(1)}),
			patternForSkill("b", 0.9, Mapping{"p": Number(1)}),
		})
		require.NoError(t, err)
		assert.Nil(t, k)
	})

	t.Run("mean confidence below floor", func(t *testing.T) {
		k, err := s.CreateFromPatterns(ctx, "acme", "cond-x", []*SemanticPattern{
			patternForSkill("a", 0.9, Mapping{"p": Number(1)}),
			patternForSkill("b", 0.5, Mapping{"p": Number(1)}),
			patternForSkill("c", 0.5, Mapping{"p": Number(1)}),
		})
		require.NoError(t, err)
		assert.Nil(t, k)
	})

	t.Run("both gates passed", func(t *testing.T) {
		k, err := s.CreateFromPatterns(ctx, "acme", "cond-x", []*SemanticPattern{
			patternForSkill("a", 0.9, Mapping{"p": Number(1)}),
			patternForSkill("b", 0.8, Mapping{"p": Number(2)}),
			patternForSkill("c", 0.85, Mapping{"p": Number(3)}),
		})
		require.NoError(t, err)
		require.NotNil(t, k)
		assert.Len(t, k.ValidatingSkills, 3)
		assert.ElementsMatch(t, []string{"a", "b", "c"}, k.ApplicableSkills)
	})
}

func TestMergeKnowledge(t *testing.T) {
	t.Run("numeric values average", func(t *testing.T) {
		merged := mergeKnowledge(Mapping{"p": Number(10)}, Mapping{"p": Number(20)})
		assert.InDelta(t, 15, merged["p"].Num, 1e-9)
	})

	t.Run("categorical incumbent wins", func(t *testing.T) {
		merged := mergeKnowledge(Mapping{"tone": String("casual")}, Mapping{"tone": String("formal")})
		assert.True(t, merged["tone"].Equal(String("casual")))
	})

	t.Run("lists union", func(t *testing.T) {
		merged := mergeKnowledge(
			Mapping{"tags": List(String("a"), String("b"))},
			Mapping{"tags": List(String("b"), String("c"))},
		)
		assert.Len(t, merged["tags"].List, 3)
	})

	t.Run("nested maps recurse", func(t *testing.T) {
		merged := mergeKnowledge(
			Mapping{"inner": Nested(Mapping{"x": Number(1)})},
			Mapping{"inner": Nested(Mapping{"x": Number(3), "y": Number(5)})},
		)
		inner := merged["inner"].Map
		assert.InDelta(t, 2, inner["x"].Num, 1e-9)
		assert.InDelta(t, 5, inner["y"].Num, 1e-9)
	})

	t.Run("new keys are added", func(t *testing.T) {
		merged := mergeKnowledge(Mapping{"a": Number(1)}, Mapping{"b": Number(2)})
		assert.Contains(t, merged, "a")
		assert.Contains(t, merged, "b")
	})
}

func TestUpdateValidation(t *testing.T) {
	s := newTestProceduralStore(t)
	ctx := context.Background()

	k, err := s.CreateFromPatterns(ctx, "acme", "cond-x", []*SemanticPattern{
		patternForSkill("a", 0.9, Mapping{"p": Number(1)}),
		patternForSkill("b", 0.8, Mapping{"p": Number(1)}),
		patternForSkill("c", 0.85, Mapping{"p": Number(1)}),
	})
	require.NoError(t, err)
	require.NotNil(t, k)

	updated, err := s.UpdateValidation(ctx, "acme", k.ID, "d", 0.75)
	require.NoError(t, err)
	assert.Len(t, updated.ValidatingSkills, 4)
	assert.Contains(t, updated.ApplicableSkills, "d")
	assert.InDelta(t, meanValidation(updated.ValidatingSkills), updated.CrossSkillConfidence, 1e-9)

	t.Run("unknown id", func(t *testing.T) {
		_, err := s.UpdateValidation(ctx, "acme", "missing", "a", 0.5)
		assert.ErrorIs(t, err, ErrKnowledgeNotFound)
	})
}

func TestProceduralDecayAll(t *testing.T) {
	s := newTestProceduralStore(t)
	ctx := context.Background()

	k, err := s.CreateFromPatterns(ctx, "acme", "cond-x", []*SemanticPattern{
		patternForSkill("a", 0.9, Mapping{"p": Number(1)}),
		patternForSkill("b", 0.8, Mapping{"p": Number(1)}),
		patternForSkill("c", 0.85, Mapping{"p": Number(1)}),
	})
	require.NoError(t, err)
	require.NotNil(t, k)

	t.Run("fresh entries are skipped", func(t *testing.T) {
		updated, err := s.DecayAll(ctx, "acme")
		require.NoError(t, err)
		assert.Equal(t, 0, updated)
	})

	t.Run("aged entries decay slowly", func(t *testing.T) {
		s.clock = func() time.Time { return time.Now().Add(30 * 24 * time.Hour) }
		updated, err := s.DecayAll(ctx, "acme")
		require.NoError(t, err)
		assert.Equal(t, 1, updated)

		got, err := s.GetKnowledge(ctx, "acme", k.ID)
		require.NoError(t, err)
		want := k.CrossSkillConfidence * 0.860 // 0.995^30
		assert.InDelta(t, want, got.CrossSkillConfidence, 0.01)
	})
}

func TestProceduralRetrieve(t *testing.T) {
	s := newTestProceduralStore(t)
	ctx := context.Background()

	k, err := s.CreateFromPatterns(ctx, "acme", "cond-x", []*SemanticPattern{
		patternForSkill("a", 0.9, Mapping{"p": Number(1)}),
		patternForSkill("b", 0.8, Mapping{"p": Number(1)}),
		patternForSkill("c", 0.85, Mapping{"p": Number(1)}),
	})
	require.NoError(t, err)
	require.NotNil(t, k)

	forA, err := s.Retrieve(ctx, "acme", "a", 0)
	require.NoError(t, err)
	assert.Len(t, forA, 1)

	forOther, err := s.Retrieve(ctx, "acme", "unrelated", 0)
	require.NoError(t, err)
	assert.Empty(t, forOther)
}
