package scoring

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// engagementAdapter scores content runs by engagement over historical
// engagement, boosted during seasonal peaks.
type engagementAdapter struct{}

func (engagementAdapter) Signal(m map[string]float64) float64   { return m["engagement"] }
func (engagementAdapter) Baseline(m map[string]float64) float64 { return m["historical_engagement"] }
func (engagementAdapter) ContextMultiplier(ctx map[string]float64) float64 {
	if ctx["seasonal_peak"] > 0 {
		return 1.5
	}
	return 1
}
func (engagementAdapter) Validate(m map[string]float64) error {
	if _, ok := m["engagement"]; !ok {
		return errors.New("engagement metric is required")
	}
	return nil
}

func TestRegistryScore(t *testing.T) {
	r := NewRegistry()
	r.Register("content", engagementAdapter{})

	t.Run("registered domain", func(t *testing.T) {
		score, err := r.Score("content",
			map[string]float64{"engagement": 120, "historical_engagement": 100}, nil)
		require.NoError(t, err)
		assert.InDelta(t, 1.2, score, 1e-9)
	})

	t.Run("context multiplier scales the ratio", func(t *testing.T) {
		score, err := r.Score("content",
			map[string]float64{"engagement": 120, "historical_engagement": 100},
			map[string]float64{"seasonal_peak": 1})
		require.NoError(t, err)
		assert.InDelta(t, 1.8, score, 1e-9)
	})

	t.Run("zero baseline normalizes to one", func(t *testing.T) {
		score, err := r.Score("content", map[string]float64{"engagement": 3}, nil)
		require.NoError(t, err)
		assert.InDelta(t, 3, score, 1e-9)
	})

	t.Run("invalid metrics are rejected", func(t *testing.T) {
		_, err := r.Score("content", map[string]float64{"historical_engagement": 10}, nil)
		assert.Error(t, err)
	})
}

func TestRegistryFallsBackToGeneric(t *testing.T) {
	r := NewRegistry()

	score, err := r.Score("never_registered",
		map[string]float64{"signal": 10, "baseline": 4},
		map[string]float64{"multiplier": 2})
	require.NoError(t, err)
	assert.InDelta(t, 5, score, 1e-9)
}

func TestRegistryGetWithoutGeneric(t *testing.T) {
	r := &Registry{adapters: map[string]Adapter{}}
	_, err := r.Get("anything")
	assert.ErrorIs(t, err, ErrAdapterNotFound)
}

func TestGenericAdapter(t *testing.T) {
	a := GenericAdapter{}

	assert.Equal(t, 7.0, a.Signal(map[string]float64{"signal": 7}))
	assert.Equal(t, 0.0, a.Baseline(nil))
	assert.Equal(t, 1.0, a.ContextMultiplier(nil))
	assert.Equal(t, 1.0, a.ContextMultiplier(map[string]float64{"multiplier": -2}))
	assert.Error(t, a.Validate(map[string]float64{}))
	assert.NoError(t, a.Validate(map[string]float64{"signal": 0}))
}
