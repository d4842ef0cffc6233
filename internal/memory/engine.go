package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/metrics"
	"github.com/fyrsmithlabs/memoryd/internal/scoring"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Engine is the façade over all four tiers. Every dependency is
// injected explicitly; constructing two engines over separate stores
// yields two fully independent memory systems.
type Engine struct {
	working      *WorkingMemory
	episodic     *EpisodicStore
	semantic     *SemanticStore
	procedural   *ProceduralStore
	consolidator *Consolidator
	learner      *Learner
	predictor    *Predictor
	scorers      *scoring.Registry
	cfg          Config
	logger       *zap.Logger
	tracer       trace.Tracer
}

// EngineDeps carries the engine's constructor dependencies.
type EngineDeps struct {
	Working      *WorkingMemory
	Episodic     *EpisodicStore
	Semantic     *SemanticStore
	Procedural   *ProceduralStore
	Consolidator *Consolidator
	Learner      *Learner
	Predictor    *Predictor
	Scorers      *scoring.Registry
	Logger       *zap.Logger
}

// NewEngine wires the tiers into a façade. All tier dependencies are
// required; Scorers defaults to a registry with the generic adapter
// and Logger to a no-op logger.
func NewEngine(deps EngineDeps, cfg Config) (*Engine, error) {
	if deps.Working == nil || deps.Episodic == nil || deps.Semantic == nil || deps.Procedural == nil {
		return nil, fmt.Errorf("all four memory tiers are required")
	}
	if deps.Consolidator == nil || deps.Learner == nil || deps.Predictor == nil {
		return nil, fmt.Errorf("consolidator, learner, and predictor are required")
	}
	if deps.Scorers == nil {
		deps.Scorers = scoring.NewRegistry()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Engine{
		working:      deps.Working,
		episodic:     deps.Episodic,
		semantic:     deps.Semantic,
		procedural:   deps.Procedural,
		consolidator: deps.Consolidator,
		learner:      deps.Learner,
		predictor:    deps.Predictor,
		scorers:      deps.Scorers,
		cfg:          cfg,
		logger:       deps.Logger.With(zap.String("component", "engine")),
		tracer:       otel.Tracer("memoryd/engine"),
	}, nil
}

// GetGuidance returns recommended parameters and confidence for an
// upcoming skill run.
func (e *Engine) GetGuidance(ctx context.Context, tenant, skill string, domain Domain, live Mapping) (*Guidance, error) {
	ctx, span := e.tracer.Start(ctx, "engine.GetGuidance",
		trace.WithAttributes(
			attribute.String("tenant_id", tenant),
			attribute.String("skill_name", skill),
			attribute.String("domain", string(domain))))
	defer span.End()

	g, err := e.predictor.GetGuidance(ctx, tenant, skill, domain, live)
	metrics.RecordGuidance(g != nil && g.IsExploration, err)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// RegisterPrediction validates a prediction and places it in working
// memory, returning its id.
func (e *Engine) RegisterPrediction(ctx context.Context, p *Prediction) (string, error) {
	_, span := e.tracer.Start(ctx, "engine.RegisterPrediction")
	defer span.End()

	if p == nil {
		return "", fmt.Errorf("prediction cannot be nil")
	}
	if p.SkillName == "" {
		return "", ErrEmptySkillName
	}
	if p.TenantID == "" {
		return "", ErrEmptyTenantID
	}
	if !p.Domain.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownDomain, p.Domain)
	}
	p.Confidence = e.cfg.Clamp(p.Confidence)
	return e.working.Register(p), nil
}

// OutcomeResult reports what recording one outcome produced.
type OutcomeResult struct {
	EpisodeID       string          `json:"episode_id"`
	PredictionError float64         `json:"prediction_error"`
	Learning        *LearningResult `json:"learning,omitempty"`
}

// RecordOutcome matches an outcome to its registered prediction,
// persists the resulting episode, and runs the learner. Returns
// ErrPredictionNotFound when the id is not in working memory.
func (e *Engine) RecordOutcome(ctx context.Context, predictionID string, outcome Outcome) (*OutcomeResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.RecordOutcome",
		trace.WithAttributes(attribute.String("prediction_id", predictionID)))
	defer span.End()

	episode := e.working.Complete(predictionID, outcome)
	if episode == nil {
		metrics.RecordOutcome("not_found")
		return nil, fmt.Errorf("%w: %s", ErrPredictionNotFound, predictionID)
	}

	if err := e.episodic.Store(ctx, episode); err != nil {
		metrics.RecordOutcome("error")
		return nil, fmt.Errorf("persisting episode: %w", err)
	}

	learning, err := e.learner.LearnFromOutcome(ctx, &episode.Prediction, &episode.Outcome)
	if err != nil {
		e.logger.Warn("learning failed for outcome",
			zap.String("episode_id", episode.ID), zap.Error(err))
	}
	if learning != nil && learning.DriftDetected {
		metrics.DriftDetections.Inc()
	}

	metrics.RecordOutcome("success")
	absErr := episode.Outcome.PredictionError
	if absErr < 0 {
		absErr = -absErr
	}
	metrics.PredictionErrorAbs.Observe(absErr)

	return &OutcomeResult{
		EpisodeID:       episode.ID,
		PredictionError: episode.Outcome.PredictionError,
		Learning:        learning,
	}, nil
}

// Score normalizes raw domain metrics into a score via the registered
// adapter for the domain.
func (e *Engine) Score(ctx context.Context, domain Domain, rawMetrics, scoreContext map[string]float64) (float64, error) {
	_, span := e.tracer.Start(ctx, "engine.Score",
		trace.WithAttributes(attribute.String("domain", string(domain))))
	defer span.End()

	return e.scorers.Score(string(domain), rawMetrics, scoreContext)
}

// RunConsolidation executes one consolidation cycle. An empty tenant
// sweeps everything.
func (e *Engine) RunConsolidation(ctx context.Context, tenant string) (ConsolidationCounters, error) {
	ctx, span := e.tracer.Start(ctx, "engine.RunConsolidation",
		trace.WithAttributes(attribute.String("tenant_id", tenant)))
	defer span.End()

	started := time.Now()
	counters, err := e.consolidator.RunCycle(ctx, tenant)
	if err != nil {
		return counters, err
	}
	metrics.RecordConsolidation(time.Since(started), map[string]int{
		"episodic_decayed":      counters.EpisodicDecayed,
		"episodes_consolidated": counters.EpisodesConsolidated,
		"patterns_created":      counters.PatternsCreated,
		"patterns_updated":      counters.PatternsUpdated,
		"patterns_archived":     counters.PatternsArchived,
		"procedural_created":    counters.ProceduralCreated,
	})
	return counters, nil
}

// ClearSession wipes working memory. Persistent tiers are untouched.
func (e *Engine) ClearSession() {
	e.working.Clear()
	e.logger.Info("session cleared")
}

// Stats is a point-in-time census of the memory tiers.
type Stats struct {
	ActivePredictions int `json:"active_predictions"`
	RecentOutcomes    int `json:"recent_outcomes"`
	Episodes          int `json:"episodes"`
	Patterns          int `json:"patterns"`
	KnowledgeEntries  int `json:"knowledge_entries"`
}

// GetStats counts live records across the tiers for one tenant, or
// all tenants when empty. Intended for health reporting, not hot
// paths.
func (e *Engine) GetStats(ctx context.Context, tenant string) (*Stats, error) {
	ctx, span := e.tracer.Start(ctx, "engine.GetStats")
	defer span.End()

	stats := &Stats{
		ActivePredictions: e.working.ActiveCount(),
		RecentOutcomes:    len(e.working.RecentOutcomes("", tenant, 0)),
	}

	units, err := e.episodic.Units(ctx, tenant)
	if err != nil {
		return nil, fmt.Errorf("listing units: %w", err)
	}
	tenants := map[string]bool{}
	for _, unit := range units {
		tenants[unit.TenantID] = true
		episodes, err := e.episodic.Retrieve(ctx, unit.TenantID, unit.SkillName, "", 0, 0)
		if err == nil {
			stats.Episodes += len(episodes)
		}
		patterns, err := e.semantic.RetrievePatterns(ctx, unit.TenantID, unit.SkillName, "", 0)
		if err == nil {
			stats.Patterns += len(patterns)
		}
	}
	for t := range tenants {
		entries, err := e.procedural.Retrieve(ctx, t, "", 0)
		if err == nil {
			stats.KnowledgeEntries += len(entries)
		}
	}
	return stats, nil
}
