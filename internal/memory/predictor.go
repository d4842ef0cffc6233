package memory

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"go.uber.org/zap"
)

// Exploration reasons reported in Guidance.Reason.
const (
	ReasonExplorationRate   = "exploration_rate"
	ReasonNoPatterns        = "no_patterns_available"
	ReasonLowConfidence     = "low_confidence"
	ReasonNoMatchingPattern = "no_matching_pattern"
	ReasonPatternMatch      = "pattern_match"
)

// Blend weights when combining a pattern recommendation with
// procedural knowledge.
const (
	patternBlendWeight   = 0.7
	knowledgeBlendWeight = 0.3

	// exploreNoiseFraction is the uniform noise band applied to
	// numeric parameters during exploration.
	exploreNoiseFraction = 0.20

	exploreConfidence  = 0.3
	exploreUncertainty = 0.7
)

// Predictor answers "how should this skill run" by either exploiting
// the best matching learned pattern or exploring around defaults.
// Exploration triggers on a random coin flip, on an empty pattern set,
// on weak best-pattern evidence, or when no condition matches the live
// context.
type Predictor struct {
	semantic   *SemanticStore
	procedural *ProceduralStore
	defaults   map[string]Mapping
	cfg        Config
	logger     *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// PredictorOption configures a Predictor.
type PredictorOption func(*Predictor)

// WithDefaults overrides the per-skill default parameter table. The
// "generic" entry is the fallback for unknown skills.
func WithDefaults(defaults map[string]Mapping) PredictorOption {
	return func(p *Predictor) { p.defaults = defaults }
}

// WithRand injects a seeded random source, for deterministic tests.
func WithRand(rng *rand.Rand) PredictorOption {
	return func(p *Predictor) { p.rng = rng }
}

// NewPredictor creates a predictor over the semantic and procedural
// tiers.
func NewPredictor(semantic *SemanticStore, procedural *ProceduralStore, cfg Config, logger *zap.Logger, opts ...PredictorOption) (*Predictor, error) {
	if semantic == nil {
		return nil, fmt.Errorf("semantic store cannot be nil")
	}
	if procedural == nil {
		return nil, fmt.Errorf("procedural store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Predictor{
		semantic:   semantic,
		procedural: procedural,
		defaults:   defaultParameters,
		cfg:        cfg,
		logger:     logger.With(zap.String("component", "predictor")),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.rng == nil {
		p.rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return p, nil
}

// defaultParameters is the built-in per-skill starting point for
// exploration. Unknown skills fall back to the generic entry.
var defaultParameters = map[string]Mapping{
	"generic": {
		"batch_size":     Number(10),
		"frequency_days": Number(7),
		"intensity":      Number(0.5),
	},
	"content_generation": {
		"posts_per_week": Number(3),
		"tone":           String("neutral"),
		"length":         Number(600),
	},
	"campaign_optimization": {
		"budget_fraction": Number(0.1),
		"audience_size":   Number(5000),
		"bid_strategy":    String("balanced"),
	},
	"outreach": {
		"messages_per_day": Number(20),
		"follow_up_days":   Number(3),
	},
}

// GetGuidance produces guidance for one upcoming skill run.
func (p *Predictor) GetGuidance(ctx context.Context, tenant, skill string, domain Domain, live Mapping) (*Guidance, error) {
	if tenant == "" {
		return nil, ErrEmptyTenantID
	}
	if skill == "" {
		return nil, ErrEmptySkillName
	}

	patterns, err := p.semantic.RetrievePatterns(ctx, tenant, skill, domain, 0)
	if err != nil {
		return nil, fmt.Errorf("retrieving patterns: %w", err)
	}
	knowledge, err := p.procedural.Retrieve(ctx, tenant, skill, 0)
	if err != nil {
		return nil, fmt.Errorf("retrieving knowledge: %w", err)
	}

	if p.rollExploration() {
		return p.explore(skill, knowledge, ReasonExplorationRate), nil
	}
	if len(patterns) == 0 {
		return p.explore(skill, knowledge, ReasonNoPatterns), nil
	}

	best := bestMatchingPattern(patterns, live)
	if best == nil {
		return p.explore(skill, knowledge, ReasonNoMatchingPattern), nil
	}
	if best.Score() < p.cfg.UncertaintyThreshold {
		return p.explore(skill, knowledge, ReasonLowConfidence), nil
	}
	return p.exploit(best, knowledge), nil
}

func (p *Predictor) rollExploration() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Float64() < p.cfg.ExplorationRate
}

// bestMatchingPattern returns the highest-scoring pattern whose
// condition accepts the live context, or nil when none match. With no
// context supplied, condition matching is skipped and the best scored
// pattern wins.
func bestMatchingPattern(patterns []*SemanticPattern, live Mapping) *SemanticPattern {
	var best *SemanticPattern
	for _, pattern := range patterns {
		if len(live) > 0 && !conditionMatchesContext(pattern.Condition, live, liveMatchTolerance) {
			continue
		}
		if best == nil || pattern.Score() > best.Score() {
			best = pattern
		}
	}
	return best
}

// exploit returns the best pattern's recommendation, blended with
// every applicable piece of procedural knowledge. Combined confidence
// averages the pattern confidence with the mean cross-skill confidence
// of the applied knowledge.
func (p *Predictor) exploit(pattern *SemanticPattern, knowledge []*ProceduralKnowledge) *Guidance {
	params := pattern.Recommendation.Clone()
	confidence := pattern.Confidence
	var knowledgeUsed []string

	if len(knowledge) > 0 {
		var crossSkill float64
		for _, k := range knowledge {
			params = blendWithKnowledge(params, k.Knowledge)
			crossSkill += k.CrossSkillConfidence
			knowledgeUsed = append(knowledgeUsed, k.ID)
		}
		confidence = (pattern.Confidence + crossSkill/float64(len(knowledge))) / 2
	}

	confidence = p.cfg.Clamp(confidence)
	return &Guidance{
		Parameters:    params,
		Confidence:    confidence,
		Uncertainty:   1 - confidence,
		IsExploration: false,
		Reason:        ReasonPatternMatch,
		PatternsUsed:  []string{pattern.ID},
		KnowledgeUsed: knowledgeUsed,
	}
}

// explore builds guidance from the skill's default parameters, blends
// in procedural knowledge, then jitters numeric values by up to the
// noise fraction in either direction, clamped at zero.
func (p *Predictor) explore(skill string, knowledge []*ProceduralKnowledge, reason string) *Guidance {
	base, ok := p.defaults[skill]
	if !ok {
		base = p.defaults["generic"]
	}
	params := base.Clone()
	if params == nil {
		params = Mapping{}
	}

	var knowledgeUsed []string
	for _, k := range knowledge {
		params = blendWithKnowledge(params, k.Knowledge)
		knowledgeUsed = append(knowledgeUsed, k.ID)
	}

	p.mu.Lock()
	for key, v := range params {
		if v.Kind != KindNumber {
			continue
		}
		noise := 1 + (p.rng.Float64()*2-1)*exploreNoiseFraction
		jittered := v.Num * noise
		if jittered < 0 {
			jittered = 0
		}
		params[key] = Number(jittered)
	}
	p.mu.Unlock()

	return &Guidance{
		Parameters:    params,
		Confidence:    exploreConfidence,
		Uncertainty:   exploreUncertainty,
		IsExploration: true,
		Reason:        reason,
		KnowledgeUsed: knowledgeUsed,
	}
}

// blendWithKnowledge folds procedural knowledge into a parameter set.
// Shared numeric keys blend 70/30 in the parameters' favor; shared
// non-numeric keys keep the parameter value; keys only the knowledge
// has are added as-is.
func blendWithKnowledge(params, knowledge Mapping) Mapping {
	out := params.Clone()
	if out == nil {
		out = Mapping{}
	}
	for key, kv := range knowledge {
		pv, ok := out[key]
		if !ok {
			out[key] = kv.clone()
			continue
		}
		if pv.IsNumeric() && kv.IsNumeric() {
			out[key] = Number(patternBlendWeight*pv.Midpoint() + knowledgeBlendWeight*kv.Midpoint())
		}
	}
	return out
}
