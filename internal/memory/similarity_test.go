package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConditionMatchesContext(t *testing.T) {
	condition := Mapping{
		"budget": Number(100),
		"tone":   String("casual"),
	}

	tests := []struct {
		name    string
		context Mapping
		want    bool
	}{
		{
			"exact match",
			Mapping{"budget": Number(100), "tone": String("casual")},
			true,
		},
		{
			"numeric within tolerance",
			Mapping{"budget": Number(125), "tone": String("casual")},
			true,
		},
		{
			"numeric outside tolerance",
			Mapping{"budget": Number(200), "tone": String("casual")},
			false,
		},
		{
			"categorical mismatch",
			Mapping{"budget": Number(100), "tone": String("formal")},
			false,
		},
		{
			"missing key never matches",
			Mapping{"budget": Number(100)},
			false,
		},
		{
			"extra context keys are ignored",
			Mapping{"budget": Number(100), "tone": String("casual"), "region": String("emea")},
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, conditionMatchesContext(condition, tt.context, liveMatchTolerance))
		})
	}

	t.Run("empty condition matches nothing", func(t *testing.T) {
		assert.False(t, conditionMatchesContext(Mapping{}, Mapping{"x": Number(1)}, liveMatchTolerance))
	})
}

func TestConditionsCompatible(t *testing.T) {
	a := Mapping{"budget": Number(100), "tone": String("casual")}

	assert.True(t, conditionsCompatible(a, Mapping{"budget": Number(110), "tone": String("casual")}, conditionMergeTolerance))
	assert.False(t, conditionsCompatible(a, Mapping{"budget": Number(100)}, conditionMergeTolerance),
		"differing key sets are incompatible")
	assert.False(t, conditionsCompatible(a, Mapping{"budget": Number(100), "region": String("emea")}, conditionMergeTolerance))
	assert.False(t, conditionsCompatible(a, Mapping{"budget": Number(300), "tone": String("casual")}, conditionMergeTolerance))

	t.Run("range and contained number are compatible either way", func(t *testing.T) {
		r := Mapping{"budget": Range(90, 120)}
		n := Mapping{"budget": Number(100)}
		assert.True(t, conditionsCompatible(r, n, conditionMergeTolerance))
		assert.True(t, conditionsCompatible(n, r, conditionMergeTolerance))
	})
}

func TestConditionHashGroupsEquivalentShapes(t *testing.T) {
	base := conditionHash(Mapping{"budget": Number(100), "tone": String("casual")})

	t.Run("key order does not matter", func(t *testing.T) {
		assert.Equal(t, base, conditionHash(Mapping{"tone": String("casual"), "budget": Number(100)}))
	})

	t.Run("strings compare case-insensitively", func(t *testing.T) {
		assert.Equal(t, base, conditionHash(Mapping{"budget": Number(100), "tone": String("Casual")}))
	})

	t.Run("nearby numbers share a bucket", func(t *testing.T) {
		assert.Equal(t, conditionHash(Mapping{"n": Number(98)}), conditionHash(Mapping{"n": Number(102)}))
	})

	t.Run("distant numbers do not", func(t *testing.T) {
		assert.NotEqual(t, conditionHash(Mapping{"n": Number(100)}), conditionHash(Mapping{"n": Number(500)}))
	})

	t.Run("different keys do not collide", func(t *testing.T) {
		assert.NotEqual(t, base, conditionHash(Mapping{"budget": Number(100), "region": String("casual")}))
	})
}

func TestRenderMapping(t *testing.T) {
	text := renderMapping(Mapping{
		"tone":   String("casual"),
		"budget": Number(100),
		"nested": Nested(Mapping{"depth": Number(2)}),
	})
	assert.Equal(t, "budget 100 nested depth 2 tone casual", text)
}

func TestExtractRecommendationPrefersSuccesses(t *testing.T) {
	episodes := []*EpisodicMemory{
		episodeWithContext("s", "acme", Mapping{"budget": Number(100), "tone": String("casual")}, true),
		episodeWithContext("s", "acme", Mapping{"budget": Number(200), "tone": String("casual")}, true),
		episodeWithContext("s", "acme", Mapping{"budget": Number(900), "tone": String("formal")}, false),
	}

	rec := extractRecommendation(episodes)
	assert.InDelta(t, 150, rec["budget"].Num, 1e-9, "failed episodes are excluded from the mean")
	assert.True(t, rec["tone"].Equal(String("casual")))

	t.Run("all failures fall back to every episode", func(t *testing.T) {
		episodes := []*EpisodicMemory{
			episodeWithContext("s", "acme", Mapping{"budget": Number(100)}, false),
			episodeWithContext("s", "acme", Mapping{"budget": Number(300)}, false),
		}
		rec := extractRecommendation(episodes)
		assert.InDelta(t, 200, rec["budget"].Num, 1e-9)
	})
}
