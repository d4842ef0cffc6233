package memory

import (
	"context"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"
)

// Learner folds observed outcomes back into the semantic tier and
// watches the stream of prediction errors for drift. When the error
// distribution shifts abruptly, the learned beliefs for that
// (tenant, skill, domain) unit are no longer trustworthy: every
// pattern in the unit is force-failed, its expected value halved, and
// the error history reset so relearning starts clean.
type Learner struct {
	semantic *SemanticStore
	cfg      Config
	logger   *zap.Logger

	mu      sync.Mutex
	history map[string][]float64
}

// NewLearner creates a learner over the semantic store.
func NewLearner(semantic *SemanticStore, cfg Config, logger *zap.Logger) (*Learner, error) {
	if semantic == nil {
		return nil, fmt.Errorf("semantic store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Learner{
		semantic: semantic,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "learner")),
		history:  map[string][]float64{},
	}, nil
}

func driftKey(tenant, skill string, domain Domain) string {
	return tenant + "|" + skill + "|" + string(domain)
}

// LearnFromOutcome updates every pattern the prediction used with the
// outcome, records the prediction error, and checks for drift.
func (l *Learner) LearnFromOutcome(ctx context.Context, p *Prediction, o *Outcome) (*LearningResult, error) {
	if p == nil || o == nil {
		return nil, fmt.Errorf("prediction and outcome are required")
	}

	result := &LearningResult{PredictionError: PredictionError(p, o)}

	for _, patternID := range p.PatternsUsed {
		if _, err := l.semantic.UpdateFromOutcome(ctx, p.TenantID, p.SkillName, patternID, o.GoalCompleted, o.ObservedRatio()); err != nil {
			l.logger.Warn("pattern update failed",
				zap.String("pattern_id", patternID), zap.Error(err))
			continue
		}
		result.PatternsUpdated = append(result.PatternsUpdated, patternID)
	}

	key := driftKey(p.TenantID, p.SkillName, p.Domain)
	window := l.recordError(key, result.PredictionError)

	if detectDrift(window, int(l.cfg.DriftWindowSize), l.cfg.DriftThreshold) {
		result.DriftDetected = true
		result.DriftKey = key
		l.logger.Info("drift detected, forcing relearn",
			zap.String("tenant_id", p.TenantID),
			zap.String("skill_name", p.SkillName),
			zap.String("domain", string(p.Domain)))
		if err := l.forceRelearn(ctx, p.TenantID, p.SkillName, p.Domain); err != nil {
			l.logger.Warn("forced relearn incomplete", zap.Error(err))
		}
		l.clearHistory(key)
	}
	return result, nil
}

// recordError appends to the unit's rolling error history, capped at
// twice the drift window, and returns a snapshot.
func (l *Learner) recordError(key string, err float64) []float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	h := append(l.history[key], err)
	if limit := 2 * int(l.cfg.DriftWindowSize); len(h) > limit {
		h = h[len(h)-limit:]
	}
	l.history[key] = h

	snapshot := make([]float64, len(h))
	copy(snapshot, h)
	return snapshot
}

func (l *Learner) clearHistory(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.history, key)
}

// detectDrift splits the error history into older/newer halves and
// flags drift when the half means diverge by more than threshold
// standard deviations of the older (historical) half. A perfectly
// quiet history treats any shift as drift.
func detectDrift(history []float64, window int, threshold float64) bool {
	if len(history) < window {
		return false
	}
	half := len(history) / 2
	older, newer := history[:half], history[half:]

	shift := math.Abs(mean(newer) - mean(older))
	spread := stddev(older)
	if spread == 0 {
		return shift > 0
	}
	return shift > threshold*spread
}

// forceRelearn fails every pattern in the unit so confidence drops and
// expected values halve.
func (l *Learner) forceRelearn(ctx context.Context, tenant, skill string, domain Domain) error {
	patterns, err := l.semantic.RetrievePatterns(ctx, tenant, skill, domain, 0)
	if err != nil {
		return err
	}
	var firstErr error
	for _, p := range patterns {
		if err := l.semantic.ForceFail(ctx, tenant, skill, p.ID); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			l.logger.Warn("force-fail failed", zap.String("pattern_id", p.ID), zap.Error(err))
		}
	}
	return firstErr
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var sum float64
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)))
}
