// Package memory implements the four-tier memory and learning
// subsystem: working, episodic, semantic, and procedural memory, plus
// the consolidation pipeline, outcome learner, and explore/exploit
// predictor that tie the tiers together.
package memory

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common errors for memory operations.
var (
	ErrPredictionNotFound = errors.New("prediction not found")
	ErrPatternNotFound    = errors.New("pattern not found")
	ErrKnowledgeNotFound  = errors.New("procedural knowledge not found")
	ErrEpisodeNotFound    = errors.New("episode not found")
	ErrEmptyTenantID      = errors.New("tenant ID cannot be empty")
	ErrEmptySkillName     = errors.New("skill name cannot be empty")
	ErrUnknownDomain      = errors.New("unknown domain")
)

// Domain is a closed set of named business contexts. It partitions
// patterns and knowledge and never changes after a record is created.
type Domain string

const (
	DomainContent  Domain = "content"
	DomainRevenue  Domain = "revenue"
	DomainHealth   Domain = "health"
	DomainCampaign Domain = "campaign"
	DomainGeneric  Domain = "generic"
)

// Domains lists every valid domain.
var Domains = []Domain{DomainContent, DomainRevenue, DomainHealth, DomainCampaign, DomainGeneric}

// Valid reports whether the domain is a member of the closed set.
func (d Domain) Valid() bool {
	for _, known := range Domains {
		if d == known {
			return true
		}
	}
	return false
}

// Prediction is the engine's pre-execution belief about how a skill
// run will perform. Immutable once created; owned by WorkingMemory
// until matched with an Outcome.
type Prediction struct {
	ID                 string    `json:"id"`
	SkillName          string    `json:"skill_name"`
	TenantID           string    `json:"tenant_id"`
	Domain             Domain    `json:"domain"`
	ExpectedSignal     float64   `json:"expected_signal"`
	ExpectedBaseline   float64   `json:"expected_baseline"`
	Confidence         float64   `json:"confidence"`
	ConfidenceInterval float64   `json:"confidence_interval"`
	Context            Mapping   `json:"context,omitempty"`
	PatternsUsed       []string  `json:"patterns_used,omitempty"`
	IsExploration      bool      `json:"is_exploration"`
	CreatedAt          time.Time `json:"created_at"`
}

// NewPrediction creates a prediction with a generated id.
func NewPrediction(skill, tenant string, domain Domain, expectedSignal, expectedBaseline float64) (*Prediction, error) {
	if skill == "" {
		return nil, ErrEmptySkillName
	}
	if tenant == "" {
		return nil, ErrEmptyTenantID
	}
	if !domain.Valid() {
		return nil, ErrUnknownDomain
	}
	return &Prediction{
		ID:               uuid.New().String(),
		SkillName:        skill,
		TenantID:         tenant,
		Domain:           domain,
		ExpectedSignal:   expectedSignal,
		ExpectedBaseline: expectedBaseline,
		CreatedAt:        time.Now(),
	}, nil
}

// ExpectedRatio returns expected_signal/expected_baseline, or 0 when
// the baseline is 0.
func (p *Prediction) ExpectedRatio() float64 {
	return safeRatio(p.ExpectedSignal, p.ExpectedBaseline)
}

// Outcome records what actually happened for one prediction. Created
// exactly once per prediction.
type Outcome struct {
	ID              string                 `json:"id"`
	PredictionID    string                 `json:"prediction_id"`
	ObservedSignal  float64                `json:"observed_signal"`
	ObservedBaseline float64               `json:"observed_baseline"`
	PredictionError float64                `json:"prediction_error"`
	GoalCompleted   bool                   `json:"goal_completed"`
	BusinessImpact  float64                `json:"business_impact"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	ObservedAt      time.Time              `json:"observed_at"`
}

// ObservedRatio returns observed_signal/observed_baseline, or 0 when
// the baseline is 0.
func (o *Outcome) ObservedRatio() float64 {
	return safeRatio(o.ObservedSignal, o.ObservedBaseline)
}

// safeRatio divides signal by baseline, treating a zero baseline as a
// zero ratio rather than dividing by zero.
func safeRatio(signal, baseline float64) float64 {
	if baseline == 0 {
		return 0
	}
	return signal / baseline
}

// PredictionError computes observed_ratio - expected_ratio with both
// ratios treated as 0 when their denominator is 0.
func PredictionError(p *Prediction, o *Outcome) float64 {
	return o.ObservedRatio() - p.ExpectedRatio()
}

// EpisodicMemory is one persisted prediction/outcome pair, the unit of
// episodic memory. Weight decays exponentially with age on every read.
// Consolidation and archival are idempotent terminal stamps; episodes
// are moved to an archive partition, never deleted in place.
type EpisodicMemory struct {
	ID              string     `json:"id"`
	Prediction      Prediction `json:"prediction"`
	Outcome         Outcome    `json:"outcome"`
	Weight          float64    `json:"weight"`
	RetrievalCount  int        `json:"retrieval_count"`
	LastRetrievedAt *time.Time `json:"last_retrieved_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	ConsolidatedAt  *time.Time `json:"consolidated_at,omitempty"`
	ArchivedAt      *time.Time `json:"archived_at,omitempty"`
}

// NewEpisodicMemory builds an episode from a matched prediction and
// outcome, starting at full weight.
func NewEpisodicMemory(p Prediction, o Outcome) *EpisodicMemory {
	return &EpisodicMemory{
		ID:         uuid.New().String(),
		Prediction: p,
		Outcome:    o,
		Weight:     1.0,
		CreatedAt:  time.Now(),
	}
}

// Consolidated reports whether the episode has been promoted.
func (e *EpisodicMemory) Consolidated() bool { return e.ConsolidatedAt != nil }

// SemanticPattern is a learned (condition -> recommendation) rule with
// a Bayesian confidence score, scoped to one skill and domain.
type SemanticPattern struct {
	ID               string     `json:"id"`
	SkillName        string     `json:"skill_name"`
	TenantID         string     `json:"tenant_id"`
	Domain           Domain     `json:"domain"`
	Condition        Mapping    `json:"condition"`
	Recommendation   Mapping    `json:"recommendation"`
	Confidence       float64    `json:"confidence"`
	ExpectedValue    float64    `json:"expected_value"`
	Variance         float64    `json:"variance"`
	EvidenceCount    int        `json:"evidence_count"`
	Successes        int        `json:"successes"`
	Failures         int        `json:"failures"`
	RecentAccuracy   float64    `json:"recent_accuracy"`
	SourceEpisodes   []string   `json:"source_episodes,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	LastReinforcedAt time.Time  `json:"last_reinforced_at"`
	ArchivedAt       *time.Time `json:"archived_at,omitempty"`
}

// Score is the predictor's ranking key: confidence weighted by how
// accurate the pattern has been recently.
func (p *SemanticPattern) Score() float64 {
	return p.Confidence * p.RecentAccuracy
}

// ProceduralKnowledge is a cross-skill generalization, created only
// once validated by several distinct skills. It decays very slowly.
type ProceduralKnowledge struct {
	ID                   string             `json:"id"`
	Description          string             `json:"description"`
	PatternType          string             `json:"pattern_type"`
	Knowledge            Mapping            `json:"knowledge"`
	ApplicableSkills     []string           `json:"applicable_skills"`
	ApplicableDomains    []Domain           `json:"applicable_domains"`
	ValidatingSkills     map[string]float64 `json:"validating_skills"`
	CrossSkillConfidence float64            `json:"cross_skill_confidence"`
	SourcePatterns       []string           `json:"source_patterns,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// Guidance is the predictor's answer to "how should this skill run".
type Guidance struct {
	Parameters    Mapping  `json:"parameters"`
	Confidence    float64  `json:"confidence"`
	Uncertainty   float64  `json:"uncertainty"`
	IsExploration bool     `json:"is_exploration"`
	Reason        string   `json:"reason"`
	PatternsUsed  []string `json:"patterns_used,omitempty"`
	KnowledgeUsed []string `json:"knowledge_used,omitempty"`
}

// LearningResult reports what the learner did with one outcome.
type LearningResult struct {
	PredictionError float64  `json:"prediction_error"`
	PatternsUpdated []string `json:"patterns_updated,omitempty"`
	DriftDetected   bool     `json:"drift_detected"`
	DriftKey        string   `json:"drift_key,omitempty"`
}

// ConsolidationCounters summarizes one consolidation cycle.
type ConsolidationCounters struct {
	EpisodicDecayed      int `json:"episodic_decayed"`
	EpisodesConsolidated int `json:"episodes_consolidated"`
	PatternsCreated      int `json:"patterns_created"`
	PatternsUpdated      int `json:"patterns_updated"`
	PatternsArchived     int `json:"patterns_archived"`
	ProceduralCreated    int `json:"procedural_created"`
}

// Add accumulates another unit's counters.
func (c *ConsolidationCounters) Add(o ConsolidationCounters) {
	c.EpisodicDecayed += o.EpisodicDecayed
	c.EpisodesConsolidated += o.EpisodesConsolidated
	c.PatternsCreated += o.PatternsCreated
	c.PatternsUpdated += o.PatternsUpdated
	c.PatternsArchived += o.PatternsArchived
	c.ProceduralCreated += o.ProceduralCreated
}
