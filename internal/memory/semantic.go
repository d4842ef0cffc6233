package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/docstore"
	"github.com/fyrsmithlabs/memoryd/internal/reranker"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SemanticStore holds learned (condition -> recommendation) patterns
// with Bayesian confidence. Patterns are created by consolidating
// episodes, reinforced or weakened by outcomes, decayed on read, and
// archived when confidence collapses under enough evidence.
type SemanticStore struct {
	store    docstore.Store
	ranker   reranker.Reranker
	cfg      Config
	logger   *zap.Logger
	clock    func() time.Time
}

// NewSemanticStore creates a semantic store. The reranker is optional;
// when nil, similarity search uses token overlap only.
func NewSemanticStore(store docstore.Store, ranker reranker.Reranker, cfg Config, logger *zap.Logger) (*SemanticStore, error) {
	if store == nil {
		return nil, fmt.Errorf("document store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if ranker == nil {
		ranker = reranker.NewTokenReranker(reranker.TFIDFCosine, true)
	}
	return &SemanticStore{
		store:  store,
		ranker: ranker,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "semantic_store")),
		clock:  time.Now,
	}, nil
}

func patternPartition(tenant, skill string) string {
	return fmt.Sprintf("tenants/%s/skills/%s/patterns", tenant, skill)
}

func patternArchivePartition(tenant, skill string) string {
	return fmt.Sprintf("tenants/%s/skills/%s/patterns_archive", tenant, skill)
}

// ConsolidateFromEpisodes distils a batch of episodes from one
// (tenant, skill) unit into a semantic pattern. The batch must share a
// domain. When an existing pattern's condition matches the extracted
// one, the evidence merges into it; otherwise a new pattern is
// created. Returns the pattern id and whether it was newly created.
func (s *SemanticStore) ConsolidateFromEpisodes(ctx context.Context, episodes []*EpisodicMemory) (string, bool, error) {
	if len(episodes) < s.cfg.MinEpisodesForConsolidation {
		return "", false, fmt.Errorf("need at least %d episodes, got %d", s.cfg.MinEpisodesForConsolidation, len(episodes))
	}
	first := episodes[0].Prediction
	tenant, skill, domain := first.TenantID, first.SkillName, first.Domain

	condition := extractCondition(episodes)
	recommendation := extractRecommendation(episodes)
	successes, failures := 0, 0
	var ratioSum float64
	for _, ep := range episodes {
		if ep.Outcome.GoalCompleted {
			successes++
		} else {
			failures++
		}
		ratioSum += ep.Outcome.ObservedRatio()
	}
	meanRatio := ratioSum / float64(len(episodes))

	episodeIDs := make([]string, len(episodes))
	for i, ep := range episodes {
		episodeIDs[i] = ep.ID
	}

	now := s.clock()
	existing, err := s.findMatchingPattern(ctx, tenant, skill, domain, condition)
	if err != nil {
		return "", false, err
	}
	if existing != nil {
		existing.Successes += successes
		existing.Failures += failures
		existing.EvidenceCount += len(episodes)
		existing.Confidence = bayesianUpdate(s.cfg, s.cfg.InitialConfidence, existing.Successes, existing.Failures)
		existing.ExpectedValue = ema(existing.ExpectedValue, meanRatio, s.cfg.AccuracyAlpha)
		existing.RecentAccuracy = ema(existing.RecentAccuracy, float64(successes)/float64(len(episodes)), s.cfg.AccuracyAlpha)
		existing.SourceEpisodes = append(existing.SourceEpisodes, episodeIDs...)
		existing.LastReinforcedAt = now
		if err := s.putPattern(ctx, existing); err != nil {
			return "", false, err
		}
		return existing.ID, false, nil
	}

	pattern := &SemanticPattern{
		ID:               uuid.New().String(),
		SkillName:        skill,
		TenantID:         tenant,
		Domain:           domain,
		Condition:        condition,
		Recommendation:   recommendation,
		Confidence:       bayesianUpdate(s.cfg, s.cfg.InitialConfidence, successes, failures),
		ExpectedValue:    meanRatio,
		EvidenceCount:    len(episodes),
		Successes:        successes,
		Failures:         failures,
		RecentAccuracy:   float64(successes) / float64(len(episodes)),
		SourceEpisodes:   episodeIDs,
		CreatedAt:        now,
		LastReinforcedAt: now,
	}
	if err := s.putPattern(ctx, pattern); err != nil {
		return "", false, err
	}
	return pattern.ID, true, nil
}

// findMatchingPattern scans the unit's patterns for one whose
// condition accepts the extracted condition under the merge tolerance.
func (s *SemanticStore) findMatchingPattern(ctx context.Context, tenant, skill string, domain Domain, condition Mapping) (*SemanticPattern, error) {
	patterns, err := s.loadPatterns(ctx, tenant, skill)
	if err != nil {
		return nil, err
	}
	for _, p := range patterns {
		if p.Domain != domain {
			continue
		}
		if conditionsCompatible(p.Condition, condition, conditionMergeTolerance) {
			return p, nil
		}
	}
	return nil, nil
}

// UpdateFromOutcome folds one observed outcome into a pattern that was
// used for its prediction. Confidence is recomputed from the full
// evidence counters so repeated replays converge to the same value.
func (s *SemanticStore) UpdateFromOutcome(ctx context.Context, tenant, skill, patternID string, success bool, observedRatio float64) (*SemanticPattern, error) {
	p, err := s.GetPattern(ctx, tenant, skill, patternID)
	if err != nil {
		return nil, err
	}

	if success {
		p.Successes++
	} else {
		p.Failures++
	}
	p.EvidenceCount++
	p.Confidence = bayesianUpdate(s.cfg, s.cfg.InitialConfidence, p.Successes, p.Failures)

	sample := 0.0
	if success {
		sample = 1.0
	}
	p.RecentAccuracy = ema(p.RecentAccuracy, sample, s.cfg.AccuracyAlpha)
	delta := observedRatio - p.ExpectedValue
	p.ExpectedValue = ema(p.ExpectedValue, observedRatio, s.cfg.AccuracyAlpha)
	p.Variance = ema(p.Variance, delta*delta, s.cfg.AccuracyAlpha)
	p.LastReinforcedAt = s.clock()

	if err := s.putPattern(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// ForceFail records a failure against a pattern and halves its
// expected value. The learner uses it when drift invalidates a
// (skill, domain) unit's beliefs.
func (s *SemanticStore) ForceFail(ctx context.Context, tenant, skill, patternID string) error {
	p, err := s.GetPattern(ctx, tenant, skill, patternID)
	if err != nil {
		return err
	}
	p.Failures++
	p.EvidenceCount++
	p.Confidence = bayesianUpdate(s.cfg, s.cfg.InitialConfidence, p.Successes, p.Failures)
	p.RecentAccuracy = ema(p.RecentAccuracy, 0, s.cfg.AccuracyAlpha)
	p.ExpectedValue /= 2
	p.LastReinforcedAt = s.clock()
	return s.putPattern(ctx, p)
}

// GetPattern loads one pattern by id.
func (s *SemanticStore) GetPattern(ctx context.Context, tenant, skill, id string) (*SemanticPattern, error) {
	doc, err := s.store.GetDocument(ctx, patternPartition(tenant, skill), id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrPatternNotFound, id)
		}
		return nil, fmt.Errorf("loading pattern %s: %w", id, err)
	}
	return decodePattern(*doc)
}

// RetrievePatterns returns the unit's active patterns with confidence
// decayed by days since last reinforcement, filtered by domain when
// set. Decay is applied to the returned copies only; the stored
// confidence is untouched. Transient store failures log and return an
// empty result.
func (s *SemanticStore) RetrievePatterns(ctx context.Context, tenant, skill string, domain Domain, limit int) ([]*SemanticPattern, error) {
	patterns, err := s.loadPatterns(ctx, tenant, skill)
	if err != nil {
		s.logger.Warn("pattern retrieval failed, returning empty",
			zap.String("tenant_id", tenant),
			zap.String("skill_name", skill),
			zap.Error(err))
		return nil, nil
	}

	now := s.clock()
	out := make([]*SemanticPattern, 0, len(patterns))
	for _, p := range patterns {
		if domain != "" && p.Domain != domain {
			continue
		}
		p.Confidence = s.cfg.Clamp(decayedValue(p.Confidence, s.cfg.SemanticDecayRate, now.Sub(p.LastReinforcedAt)))
		out = append(out, p)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// HighConfidencePatterns returns active patterns whose decayed
// confidence meets the floor. The consolidator feeds these into
// cross-skill generalization.
func (s *SemanticStore) HighConfidencePatterns(ctx context.Context, tenant, skill string, minConfidence float64) ([]*SemanticPattern, error) {
	patterns, err := s.RetrievePatterns(ctx, tenant, skill, "", 0)
	if err != nil {
		return nil, err
	}
	out := make([]*SemanticPattern, 0, len(patterns))
	for _, p := range patterns {
		if p.Confidence >= minConfidence {
			out = append(out, p)
		}
	}
	return out, nil
}

// ForgetStalePatterns archives patterns whose decayed confidence fell
// below the forget threshold, but only once they carry enough evidence
// to trust the low score. Young patterns get the benefit of the doubt.
// Returns the number archived.
func (s *SemanticStore) ForgetStalePatterns(ctx context.Context, tenant, skill string) (int, error) {
	patterns, err := s.loadPatterns(ctx, tenant, skill)
	if err != nil {
		return 0, err
	}

	now := s.clock()
	archived := 0
	for _, p := range patterns {
		decayed := decayedValue(p.Confidence, s.cfg.SemanticDecayRate, now.Sub(p.LastReinforcedAt))
		if decayed >= s.cfg.ForgetThreshold || p.EvidenceCount < s.cfg.MinEvidenceForTrust {
			continue
		}
		if err := s.archivePattern(ctx, p, now); err != nil {
			s.logger.Warn("pattern archival failed", zap.String("id", p.ID), zap.Error(err))
			continue
		}
		archived++
	}
	return archived, nil
}

// archivePattern copies the pattern into the archive partition and
// then deletes the active copy.
func (s *SemanticStore) archivePattern(ctx context.Context, p *SemanticPattern, at time.Time) error {
	stamped := *p
	stamped.ArchivedAt = &at

	data, err := encodeRecord(&stamped)
	if err != nil {
		return fmt.Errorf("encoding archived pattern: %w", err)
	}
	if err := s.store.SetDocument(ctx, patternArchivePartition(p.TenantID, p.SkillName), p.ID, data, false); err != nil {
		return fmt.Errorf("writing archive copy: %w", err)
	}
	if err := s.store.DeleteDocument(ctx, patternPartition(p.TenantID, p.SkillName), p.ID); err != nil {
		return fmt.Errorf("deleting active copy: %w", err)
	}
	return nil
}

// FindSimilarContext ranks the unit's patterns by textual similarity
// between their conditions and the given context, returning those at
// or above the similarity threshold, best first. When a reranker is
// configured, the top 3x candidates are re-ranked before the final
// cut; reranker failures fall back to the token scores.
func (s *SemanticStore) FindSimilarContext(ctx context.Context, tenant, skill string, live Mapping, limit int) ([]*SemanticPattern, error) {
	patterns, err := s.RetrievePatterns(ctx, tenant, skill, "", 0)
	if err != nil || len(patterns) == 0 {
		return nil, err
	}

	query := renderMapping(live)
	docs := make([]reranker.Document, len(patterns))
	byID := make(map[string]*SemanticPattern, len(patterns))
	for i, p := range patterns {
		docs[i] = reranker.Document{ID: p.ID, Content: renderMapping(p.Condition), Score: p.Score()}
		byID[p.ID] = p
	}

	token := reranker.NewTokenReranker(reranker.TFIDFCosine, true)
	scored, err := token.Rerank(ctx, query, docs, 0)
	if err != nil {
		return nil, fmt.Errorf("scoring contexts: %w", err)
	}

	candidates := make([]reranker.Document, 0, len(scored))
	for _, sd := range scored {
		if sd.RerankerScore < s.cfg.SimilarityThreshold {
			continue
		}
		candidates = append(candidates, reranker.Document{ID: sd.ID, Content: sd.Content, Score: sd.RerankerScore})
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	pool := limit * 3
	if pool <= 0 || pool > len(candidates) {
		pool = len(candidates)
	}
	ranked, err := s.ranker.Rerank(ctx, query, candidates[:pool], limit)
	if err != nil {
		s.logger.Warn("reranking failed, keeping token order", zap.Error(err))
		ranked = nil
	}

	out := make([]*SemanticPattern, 0, limit)
	if ranked != nil {
		for _, sd := range ranked {
			out = append(out, byID[sd.ID])
		}
		return out, nil
	}
	for _, c := range candidates {
		out = append(out, byID[c.ID])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *SemanticStore) loadPatterns(ctx context.Context, tenant, skill string) ([]*SemanticPattern, error) {
	docs, err := s.store.GetCollection(ctx, patternPartition(tenant, skill), 0, "last_reinforced_at", docstore.SortDescending)
	if err != nil {
		return nil, fmt.Errorf("listing patterns: %w", err)
	}
	patterns := make([]*SemanticPattern, 0, len(docs))
	for _, doc := range docs {
		p, err := decodePattern(doc)
		if err != nil {
			s.logger.Warn("skipping undecodable pattern", zap.String("id", doc.ID), zap.Error(err))
			continue
		}
		patterns = append(patterns, p)
	}
	return patterns, nil
}

func (s *SemanticStore) putPattern(ctx context.Context, p *SemanticPattern) error {
	data, err := encodeRecord(p)
	if err != nil {
		return fmt.Errorf("encoding pattern: %w", err)
	}
	if err := s.store.SetDocument(ctx, patternPartition(p.TenantID, p.SkillName), p.ID, data, false); err != nil {
		return fmt.Errorf("storing pattern %s: %w", p.ID, err)
	}
	return nil
}

func decodePattern(doc docstore.Document) (*SemanticPattern, error) {
	raw, err := json.Marshal(doc.Data)
	if err != nil {
		return nil, err
	}
	var p SemanticPattern
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		p.ID = doc.ID
	}
	return &p, nil
}
