package memory

import "fmt"

// Config holds every tunable of the learning engine. Zero values are
// filled in by DefaultConfig; construct with DefaultConfig and
// override fields as needed.
type Config struct {
	// Confidence bounds. Confidence is always clamped into
	// [MinConfidence, MaxConfidence] and is never exactly 0 or 1.
	MinConfidence     float64 `json:"min_confidence" koanf:"min_confidence"`
	MaxConfidence     float64 `json:"max_confidence" koanf:"max_confidence"`
	InitialConfidence float64 `json:"initial_confidence" koanf:"initial_confidence"`

	// PriorStrength is the Beta pseudo-count weight given to the prior
	// mean during Bayesian updates.
	PriorStrength float64 `json:"prior_strength" koanf:"prior_strength"`

	// Working memory bounds.
	WorkingCapacity   int `json:"working_capacity" koanf:"working_capacity"`
	RecentOutcomesCap int `json:"recent_outcomes_cap" koanf:"recent_outcomes_cap"`

	// Episodic tier.
	EpisodicDecayRate  float64 `json:"episodic_decay_rate" koanf:"episodic_decay_rate"`
	EpisodicTTLDays    float64 `json:"episodic_ttl_days" koanf:"episodic_ttl_days"`
	RelevanceThreshold float64 `json:"relevance_threshold" koanf:"relevance_threshold"`

	// Semantic tier.
	SemanticDecayRate    float64 `json:"semantic_decay_rate" koanf:"semantic_decay_rate"`
	ForgetThreshold      float64 `json:"forget_threshold" koanf:"forget_threshold"`
	MinEvidenceForTrust  int     `json:"min_evidence_for_trust" koanf:"min_evidence_for_trust"`
	AccuracyAlpha        float64 `json:"accuracy_alpha" koanf:"accuracy_alpha"`
	SimilarityThreshold  float64 `json:"similarity_threshold" koanf:"similarity_threshold"`

	// Procedural tier.
	MinValidatingSkills     int     `json:"min_validating_skills" koanf:"min_validating_skills"`
	MinCrossSkillConfidence float64 `json:"min_cross_skill_confidence" koanf:"min_cross_skill_confidence"`
	ProceduralDecayRate     float64 `json:"procedural_decay_rate" koanf:"procedural_decay_rate"`

	// Consolidation.
	MinEpisodesForConsolidation int `json:"min_episodes_for_consolidation" koanf:"min_episodes_for_consolidation"`
	ConsolidationBatchSize      int `json:"consolidation_batch_size" koanf:"consolidation_batch_size"`

	// Learner drift detection.
	DriftWindowSize float64 `json:"drift_window_size" koanf:"drift_window_size"`
	DriftThreshold  float64 `json:"drift_threshold" koanf:"drift_threshold"`

	// Predictor.
	ExplorationRate      float64 `json:"exploration_rate" koanf:"exploration_rate"`
	UncertaintyThreshold float64 `json:"uncertainty_threshold" koanf:"uncertainty_threshold"`
}

// Tolerances for condition matching. The consolidation-time tolerance
// is deliberately stricter than the live predictor-matching tolerance;
// the two constants are kept separate on purpose.
const (
	// conditionMergeTolerance is the numeric tolerance used when
	// extracting and merging pattern conditions during consolidation.
	conditionMergeTolerance = 0.20

	// liveMatchTolerance is the numeric tolerance used when matching a
	// pattern condition against a live context in the predictor.
	liveMatchTolerance = 0.30
)

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MinConfidence:     0.05,
		MaxConfidence:     0.95,
		InitialConfidence: 0.5,
		PriorStrength:     10.0,

		WorkingCapacity:   5,
		RecentOutcomesCap: 10,

		EpisodicDecayRate:  0.95,
		EpisodicTTLDays:    90,
		RelevanceThreshold: 0.6,

		SemanticDecayRate:   0.98,
		ForgetThreshold:     0.2,
		MinEvidenceForTrust: 5,
		AccuracyAlpha:       0.1,
		SimilarityThreshold: 0.3,

		MinValidatingSkills:     3,
		MinCrossSkillConfidence: 0.7,
		ProceduralDecayRate:     0.995,

		MinEpisodesForConsolidation: 3,
		ConsolidationBatchSize:      20,

		DriftWindowSize: 20,
		DriftThreshold:  2.0,

		ExplorationRate:      0.15,
		UncertaintyThreshold: 0.7,
	}
}

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	if c.MinConfidence <= 0 || c.MaxConfidence >= 1 || c.MinConfidence >= c.MaxConfidence {
		return fmt.Errorf("confidence bounds must satisfy 0 < min < max < 1, got [%v, %v]", c.MinConfidence, c.MaxConfidence)
	}
	if c.PriorStrength <= 0 {
		return fmt.Errorf("prior strength must be positive, got %v", c.PriorStrength)
	}
	if c.WorkingCapacity <= 0 || c.RecentOutcomesCap <= 0 {
		return fmt.Errorf("working memory bounds must be positive")
	}
	if c.EpisodicDecayRate <= 0 || c.EpisodicDecayRate > 1 {
		return fmt.Errorf("episodic decay rate must be in (0, 1], got %v", c.EpisodicDecayRate)
	}
	if c.SemanticDecayRate <= 0 || c.SemanticDecayRate > 1 {
		return fmt.Errorf("semantic decay rate must be in (0, 1], got %v", c.SemanticDecayRate)
	}
	if c.ProceduralDecayRate <= 0 || c.ProceduralDecayRate > 1 {
		return fmt.Errorf("procedural decay rate must be in (0, 1], got %v", c.ProceduralDecayRate)
	}
	if c.MinValidatingSkills < 2 {
		return fmt.Errorf("min validating skills must be at least 2, got %d", c.MinValidatingSkills)
	}
	if c.DriftWindowSize < 4 {
		return fmt.Errorf("drift window size must be at least 4, got %v", c.DriftWindowSize)
	}
	if c.ExplorationRate < 0 || c.ExplorationRate > 1 {
		return fmt.Errorf("exploration rate must be in [0, 1], got %v", c.ExplorationRate)
	}
	return nil
}

// Clamp bounds a confidence value into [MinConfidence, MaxConfidence].
func (c Config) Clamp(confidence float64) float64 {
	if confidence < c.MinConfidence {
		return c.MinConfidence
	}
	if confidence > c.MaxConfidence {
		return c.MaxConfidence
	}
	return confidence
}
