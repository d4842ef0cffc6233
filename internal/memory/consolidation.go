package memory

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Consolidator runs the cross-tier promotion pipeline. One cycle per
// tenant:
//
//  1. decay episodic memory and archive episodes past their TTL
//  2. per (tenant, skill) unit, distil ready episode batches into
//     semantic patterns and stamp the episodes consolidated
//  3. archive stale semantic patterns
//  4. group high-confidence patterns across skills by condition shape
//     and create or revalidate procedural knowledge
//
// Failures are isolated per unit: a broken unit logs and the cycle
// moves on. The returned counters always reflect whatever work
// completed.
type Consolidator struct {
	episodic   *EpisodicStore
	semantic   *SemanticStore
	procedural *ProceduralStore
	cfg        Config
	logger     *zap.Logger
}

// NewConsolidator wires the three persistent tiers into a pipeline.
func NewConsolidator(episodic *EpisodicStore, semantic *SemanticStore, procedural *ProceduralStore, cfg Config, logger *zap.Logger) (*Consolidator, error) {
	if episodic == nil || semantic == nil || procedural == nil {
		return nil, fmt.Errorf("all three stores are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consolidator{
		episodic:   episodic,
		semantic:   semantic,
		procedural: procedural,
		cfg:        cfg,
		logger:     logger.With(zap.String("component", "consolidator")),
	}, nil
}

// RunCycle executes one full consolidation cycle. An empty tenant
// sweeps every tenant with stored episodes.
func (c *Consolidator) RunCycle(ctx context.Context, tenant string) (ConsolidationCounters, error) {
	started := time.Now()
	var counters ConsolidationCounters

	archived, err := c.episodic.DecayAll(ctx, tenant)
	if err != nil {
		c.logger.Warn("episodic decay sweep failed", zap.Error(err))
	}
	counters.EpisodicDecayed = archived

	units, err := c.episodic.Units(ctx, tenant)
	if err != nil {
		return counters, fmt.Errorf("listing units: %w", err)
	}

	tenants := map[string]bool{}
	for _, unit := range units {
		tenants[unit.TenantID] = true
		unitCounters, err := c.consolidateUnit(ctx, unit)
		if err != nil {
			c.logger.Warn("unit consolidation failed",
				zap.String("tenant_id", unit.TenantID),
				zap.String("skill_name", unit.SkillName),
				zap.Error(err))
			continue
		}
		counters.Add(unitCounters)
	}

	for t := range tenants {
		created, err := c.generalizeAcrossSkills(ctx, t, units)
		if err != nil {
			c.logger.Warn("cross-skill generalization failed",
				zap.String("tenant_id", t), zap.Error(err))
			continue
		}
		counters.ProceduralCreated += created

		if _, err := c.procedural.DecayAll(ctx, t); err != nil {
			c.logger.Warn("procedural decay failed",
				zap.String("tenant_id", t), zap.Error(err))
		}
	}

	c.logger.Info("consolidation cycle completed",
		zap.Int("episodic_decayed", counters.EpisodicDecayed),
		zap.Int("episodes_consolidated", counters.EpisodesConsolidated),
		zap.Int("patterns_created", counters.PatternsCreated),
		zap.Int("patterns_updated", counters.PatternsUpdated),
		zap.Int("patterns_archived", counters.PatternsArchived),
		zap.Int("procedural_created", counters.ProceduralCreated),
		zap.Duration("duration", time.Since(started)))
	return counters, nil
}

// consolidateUnit runs the episodic-to-semantic stages for one
// (tenant, skill) unit.
func (c *Consolidator) consolidateUnit(ctx context.Context, unit Unit) (ConsolidationCounters, error) {
	var counters ConsolidationCounters

	ready, err := c.episodic.GetForConsolidation(ctx, unit.TenantID, unit.SkillName, c.cfg.ConsolidationBatchSize)
	if err != nil {
		return counters, fmt.Errorf("fetching ready episodes: %w", err)
	}

	for domain, batch := range groupByDomain(ready) {
		if len(batch) < c.cfg.MinEpisodesForConsolidation {
			continue
		}
		patternID, created, err := c.semantic.ConsolidateFromEpisodes(ctx, batch)
		if err != nil {
			c.logger.Warn("batch consolidation failed",
				zap.String("tenant_id", unit.TenantID),
				zap.String("skill_name", unit.SkillName),
				zap.String("domain", string(domain)),
				zap.Error(err))
			continue
		}
		if created {
			counters.PatternsCreated++
		} else {
			counters.PatternsUpdated++
		}
		for _, ep := range batch {
			if err := c.episodic.MarkConsolidated(ctx, unit.TenantID, unit.SkillName, ep.ID); err != nil {
				c.logger.Warn("failed to stamp episode",
					zap.String("episode_id", ep.ID),
					zap.String("pattern_id", patternID),
					zap.Error(err))
				continue
			}
			counters.EpisodesConsolidated++
		}
	}

	archived, err := c.semantic.ForgetStalePatterns(ctx, unit.TenantID, unit.SkillName)
	if err != nil {
		c.logger.Warn("stale pattern sweep failed",
			zap.String("tenant_id", unit.TenantID),
			zap.String("skill_name", unit.SkillName),
			zap.Error(err))
	}
	counters.PatternsArchived = archived

	return counters, nil
}

func groupByDomain(episodes []*EpisodicMemory) map[Domain][]*EpisodicMemory {
	groups := map[Domain][]*EpisodicMemory{}
	for _, ep := range episodes {
		groups[ep.Prediction.Domain] = append(groups[ep.Prediction.Domain], ep)
	}
	return groups
}

// generalizeAcrossSkills groups a tenant's high-confidence patterns by
// normalized condition hash and promotes groups spanning enough
// distinct skills into procedural knowledge. Groups whose shape is
// already known revalidate the existing entry instead of creating a
// duplicate.
func (c *Consolidator) generalizeAcrossSkills(ctx context.Context, tenant string, units []Unit) (int, error) {
	groups := map[string][]*SemanticPattern{}
	for _, unit := range units {
		if unit.TenantID != tenant {
			continue
		}
		patterns, err := c.semantic.HighConfidencePatterns(ctx, tenant, unit.SkillName, c.cfg.MinCrossSkillConfidence)
		if err != nil {
			c.logger.Warn("high-confidence fetch failed",
				zap.String("skill_name", unit.SkillName), zap.Error(err))
			continue
		}
		for _, p := range patterns {
			key := conditionHash(p.Condition)
			groups[key] = append(groups[key], p)
		}
	}

	existing, err := c.procedural.Retrieve(ctx, tenant, "", 0)
	if err != nil {
		return 0, fmt.Errorf("listing existing knowledge: %w", err)
	}
	byType := map[string]*ProceduralKnowledge{}
	for _, k := range existing {
		byType[k.PatternType] = k
	}

	created := 0
	for hash, group := range groups {
		if len(distinctSkills(group)) < c.cfg.MinValidatingSkills {
			continue
		}
		patternType := "cond-" + hash

		if known, ok := byType[patternType]; ok {
			for _, p := range group {
				if _, err := c.procedural.UpdateValidation(ctx, tenant, known.ID, p.SkillName, p.RecentAccuracy); err != nil {
					c.logger.Warn("knowledge revalidation failed",
						zap.String("knowledge_id", known.ID), zap.Error(err))
					break
				}
			}
			continue
		}

		k, err := c.procedural.CreateFromPatterns(ctx, tenant, patternType, group)
		if err != nil {
			c.logger.Warn("knowledge creation failed",
				zap.String("pattern_type", patternType), zap.Error(err))
			continue
		}
		if k != nil {
			created++
		}
	}
	return created, nil
}

func distinctSkills(patterns []*SemanticPattern) map[string]bool {
	skills := map[string]bool{}
	for _, p := range patterns {
		skills[p.SkillName] = true
	}
	return skills
}
