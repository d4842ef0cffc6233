package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/docstore"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ProceduralStore holds cross-skill generalizations. Entry is gated:
// knowledge exists only once enough distinct skills have validated the
// same condition shape with high enough confidence. Decay is very slow
// because validated know-how should outlive individual patterns.
type ProceduralStore struct {
	store  docstore.Store
	cfg    Config
	logger *zap.Logger
	clock  func() time.Time
}

// NewProceduralStore creates a procedural store backed by the given
// document store.
func NewProceduralStore(store docstore.Store, cfg Config, logger *zap.Logger) (*ProceduralStore, error) {
	if store == nil {
		return nil, fmt.Errorf("document store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProceduralStore{
		store:  store,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "procedural_store")),
		clock:  time.Now,
	}, nil
}

func knowledgePartition(tenant string) string {
	return fmt.Sprintf("tenants/%s/knowledge", tenant)
}

// CreateFromPatterns promotes a group of same-condition patterns from
// different skills into procedural knowledge. Returns nil (no error)
// when the group fails either gate: fewer distinct skills than
// required, or mean confidence below the cross-skill floor.
func (s *ProceduralStore) CreateFromPatterns(ctx context.Context, tenant, patternType string, patterns []*SemanticPattern) (*ProceduralKnowledge, error) {
	if len(patterns) == 0 {
		return nil, nil
	}

	skills := map[string]float64{}
	var confidenceSum float64
	for _, p := range patterns {
		if existing, ok := skills[p.SkillName]; !ok || p.Confidence > existing {
			skills[p.SkillName] = p.Confidence
		}
		confidenceSum += p.Confidence
	}
	if len(skills) < s.cfg.MinValidatingSkills {
		return nil, nil
	}
	if confidenceSum/float64(len(patterns)) < s.cfg.MinCrossSkillConfidence {
		return nil, nil
	}

	knowledge := Mapping{}
	for _, p := range patterns {
		knowledge = mergeKnowledge(knowledge, p.Recommendation)
	}

	domains := map[Domain]bool{}
	var patternIDs []string
	for _, p := range patterns {
		domains[p.Domain] = true
		patternIDs = append(patternIDs, p.ID)
	}

	now := s.clock()
	k := &ProceduralKnowledge{
		ID:                   uuid.New().String(),
		Description:          describeKnowledge(patternType, skills),
		PatternType:          patternType,
		Knowledge:            knowledge,
		ApplicableSkills:     sortedSkillNames(skills),
		ApplicableDomains:    sortedDomains(domains),
		ValidatingSkills:     skills,
		CrossSkillConfidence: meanValidation(skills),
		SourcePatterns:       patternIDs,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.putKnowledge(ctx, tenant, k); err != nil {
		return nil, err
	}
	return k, nil
}

// mergeKnowledge folds one recommendation into the accumulated
// knowledge mapping, recursively: numeric values average, categorical
// values keep the incumbent unless absent, lists union, nested maps
// recurse.
func mergeKnowledge(acc, next Mapping) Mapping {
	if acc == nil {
		acc = Mapping{}
	}
	for key, nv := range next {
		av, ok := acc[key]
		if !ok {
			acc[key] = nv.clone()
			continue
		}
		acc[key] = mergeKnowledgeValue(av, nv)
	}
	return acc
}

func mergeKnowledgeValue(a, b Value) Value {
	switch {
	case a.IsNumeric() && b.IsNumeric():
		return Number((a.Midpoint() + b.Midpoint()) / 2)
	case a.Kind == KindList && b.Kind == KindList:
		return unionLists(a, b)
	case a.Kind == KindMap && b.Kind == KindMap:
		return Nested(mergeKnowledge(a.Map.Clone(), b.Map))
	default:
		return a
	}
}

func unionLists(a, b Value) Value {
	items := append([]Value{}, a.List...)
	for _, e := range b.List {
		found := false
		for _, existing := range items {
			if existing.Equal(e) {
				found = true
				break
			}
		}
		if !found {
			items = append(items, e)
		}
	}
	return Value{Kind: KindList, List: items}
}

// UpdateValidation folds a new per-skill accuracy reading into a
// knowledge entry and recomputes the cross-skill mean.
func (s *ProceduralStore) UpdateValidation(ctx context.Context, tenant, id, skill string, accuracy float64) (*ProceduralKnowledge, error) {
	k, err := s.GetKnowledge(ctx, tenant, id)
	if err != nil {
		return nil, err
	}

	if k.ValidatingSkills == nil {
		k.ValidatingSkills = map[string]float64{}
	}
	if old, ok := k.ValidatingSkills[skill]; ok {
		k.ValidatingSkills[skill] = ema(old, accuracy, s.cfg.AccuracyAlpha)
	} else {
		k.ValidatingSkills[skill] = accuracy
		k.ApplicableSkills = sortedSkillNames(k.ValidatingSkills)
	}
	k.CrossSkillConfidence = meanValidation(k.ValidatingSkills)
	k.UpdatedAt = s.clock()

	if err := s.putKnowledge(ctx, tenant, k); err != nil {
		return nil, err
	}
	return k, nil
}

// GetKnowledge loads one knowledge entry by id.
func (s *ProceduralStore) GetKnowledge(ctx context.Context, tenant, id string) (*ProceduralKnowledge, error) {
	doc, err := s.store.GetDocument(ctx, knowledgePartition(tenant), id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrKnowledgeNotFound, id)
		}
		return nil, fmt.Errorf("loading knowledge %s: %w", id, err)
	}
	return decodeKnowledge(*doc)
}

// Retrieve returns a tenant's knowledge entries applicable to a skill,
// highest cross-skill confidence first. An empty skill matches all.
// Transient store failures log and return an empty result.
func (s *ProceduralStore) Retrieve(ctx context.Context, tenant, skill string, limit int) ([]*ProceduralKnowledge, error) {
	docs, err := s.store.GetCollection(ctx, knowledgePartition(tenant), 0, "", docstore.SortAscending)
	if err != nil {
		s.logger.Warn("knowledge retrieval failed, returning empty",
			zap.String("tenant_id", tenant), zap.Error(err))
		return nil, nil
	}

	entries := make([]*ProceduralKnowledge, 0, len(docs))
	for _, doc := range docs {
		k, err := decodeKnowledge(doc)
		if err != nil {
			s.logger.Warn("skipping undecodable knowledge", zap.String("id", doc.ID), zap.Error(err))
			continue
		}
		if skill != "" && !appliesToSkill(k, skill) {
			continue
		}
		entries = append(entries, k)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CrossSkillConfidence > entries[j].CrossSkillConfidence
	})
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries, nil
}

// appliesToSkill reports whether knowledge applies to a skill. An
// entry with no listed skills is considered universal.
func appliesToSkill(k *ProceduralKnowledge, skill string) bool {
	if len(k.ApplicableSkills) == 0 {
		return true
	}
	for _, s := range k.ApplicableSkills {
		if s == skill {
			return true
		}
	}
	return false
}

// DecayAll applies the slow per-day decay to every knowledge entry's
// cross-skill confidence, keyed on its last update. Entries whose
// decayed value barely moves are skipped to avoid churning writes.
// Returns the number of entries updated.
func (s *ProceduralStore) DecayAll(ctx context.Context, tenant string) (int, error) {
	docs, err := s.store.GetCollection(ctx, knowledgePartition(tenant), 0, "", docstore.SortAscending)
	if err != nil {
		return 0, fmt.Errorf("listing knowledge: %w", err)
	}

	now := s.clock()
	updated := 0
	for _, doc := range docs {
		k, err := decodeKnowledge(doc)
		if err != nil {
			continue
		}
		decayed := decayedValue(k.CrossSkillConfidence, s.cfg.ProceduralDecayRate, now.Sub(k.UpdatedAt))
		if math.Abs(k.CrossSkillConfidence-decayed) < 1e-6 {
			continue
		}
		k.CrossSkillConfidence = decayed
		k.UpdatedAt = now
		if err := s.putKnowledge(ctx, tenant, k); err != nil {
			s.logger.Warn("knowledge decay write failed", zap.String("id", k.ID), zap.Error(err))
			continue
		}
		updated++
	}
	return updated, nil
}

func (s *ProceduralStore) putKnowledge(ctx context.Context, tenant string, k *ProceduralKnowledge) error {
	data, err := encodeRecord(k)
	if err != nil {
		return fmt.Errorf("encoding knowledge: %w", err)
	}
	if err := s.store.SetDocument(ctx, knowledgePartition(tenant), k.ID, data, false); err != nil {
		return fmt.Errorf("storing knowledge %s: %w", k.ID, err)
	}
	return nil
}

func decodeKnowledge(doc docstore.Document) (*ProceduralKnowledge, error) {
	raw, err := json.Marshal(doc.Data)
	if err != nil {
		return nil, err
	}
	var k ProceduralKnowledge
	if err := json.Unmarshal(raw, &k); err != nil {
		return nil, err
	}
	if k.ID == "" {
		k.ID = doc.ID
	}
	return &k, nil
}

func meanValidation(skills map[string]float64) float64 {
	if len(skills) == 0 {
		return 0
	}
	var sum float64
	for _, v := range skills {
		sum += v
	}
	return sum / float64(len(skills))
}

func sortedSkillNames(skills map[string]float64) []string {
	names := make([]string, 0, len(skills))
	for name := range skills {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedDomains(domains map[Domain]bool) []Domain {
	out := make([]Domain, 0, len(domains))
	for d := range domains {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func describeKnowledge(patternType string, skills map[string]float64) string {
	return fmt.Sprintf("%s generalization validated by %d skills", patternType, len(skills))
}
