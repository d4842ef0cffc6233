package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/docstore"
	"go.uber.org/zap"
)

// EpisodicStore persists one experience per prediction/outcome pair.
// It applies time-based weight decay on every read, marks episodes
// eligible for consolidation, and archives expired ones by
// copy-then-delete so a crash duplicates rather than loses data.
type EpisodicStore struct {
	store  docstore.Store
	cfg    Config
	logger *zap.Logger
	clock  func() time.Time
}

// NewEpisodicStore creates an episodic store backed by the given
// document store.
func NewEpisodicStore(store docstore.Store, cfg Config, logger *zap.Logger) (*EpisodicStore, error) {
	if store == nil {
		return nil, fmt.Errorf("document store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EpisodicStore{
		store:  store,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "episodic_store")),
		clock:  time.Now,
	}, nil
}

func episodePartition(tenant, skill string) string {
	return fmt.Sprintf("tenants/%s/skills/%s/episodes", tenant, skill)
}

func episodeArchivePartition(tenant, skill string) string {
	return fmt.Sprintf("tenants/%s/skills/%s/episodes_archive", tenant, skill)
}

// unitIndexPartition tracks every (tenant, skill) pair that has stored
// episodes, so consolidation cycles know which units to sweep.
const unitIndexPartition = "index/episode_units"

// Store persists an episode under its (tenant, skill) partition.
// Unlike reads, write failures always surface so callers know the
// episode was not persisted.
func (s *EpisodicStore) Store(ctx context.Context, ep *EpisodicMemory) error {
	if ep == nil {
		return fmt.Errorf("episode cannot be nil")
	}
	tenant, skill := ep.Prediction.TenantID, ep.Prediction.SkillName
	if tenant == "" {
		return ErrEmptyTenantID
	}
	if skill == "" {
		return ErrEmptySkillName
	}

	data, err := encodeRecord(ep)
	if err != nil {
		return fmt.Errorf("encoding episode: %w", err)
	}
	if err := s.store.SetDocument(ctx, episodePartition(tenant, skill), ep.ID, data, false); err != nil {
		return fmt.Errorf("storing episode %s: %w", ep.ID, err)
	}

	// Best-effort unit index update; retrieval still works without it.
	unit := map[string]interface{}{"tenant_id": tenant, "skill_name": skill}
	if err := s.store.SetDocument(ctx, unitIndexPartition, tenant+"::"+skill, unit, true); err != nil {
		s.logger.Warn("failed to update episode unit index",
			zap.String("tenant_id", tenant),
			zap.String("skill_name", skill),
			zap.Error(err))
	}
	return nil
}

// Retrieve fetches episodes for a tenant/skill, applies age-based
// decay to each weight, filters by the post-decay weight, and bumps
// retrieval stamps asynchronously (failures there are non-fatal).
// Transient store failures log and return an empty result.
func (s *EpisodicStore) Retrieve(ctx context.Context, tenant, skill string, domain Domain, minWeight float64, limit int) ([]*EpisodicMemory, error) {
	docs, err := s.store.GetCollection(ctx, episodePartition(tenant, skill), 0, "created_at", docstore.SortDescending)
	if err != nil {
		s.logger.Warn("episode retrieval failed, returning empty",
			zap.String("tenant_id", tenant),
			zap.String("skill_name", skill),
			zap.Error(err))
		return nil, nil
	}

	now := s.clock()
	episodes := make([]*EpisodicMemory, 0, len(docs))
	var touched []string
	for _, doc := range docs {
		ep, err := decodeEpisode(doc)
		if err != nil {
			s.logger.Warn("skipping undecodable episode", zap.String("id", doc.ID), zap.Error(err))
			continue
		}
		if domain != "" && ep.Prediction.Domain != domain {
			continue
		}
		ep.Weight = decayedValue(ep.Weight, s.cfg.EpisodicDecayRate, now.Sub(ep.CreatedAt))
		if ep.Weight < minWeight {
			continue
		}
		episodes = append(episodes, ep)
		touched = append(touched, ep.ID)
		if limit > 0 && len(episodes) >= limit {
			break
		}
	}

	if len(touched) > 0 {
		go s.bumpRetrievalStamps(tenant, skill, touched, now)
	}
	return episodes, nil
}

// bumpRetrievalStamps increments retrieval counters in the background.
// Failures are logged and otherwise ignored.
func (s *EpisodicStore) bumpRetrievalStamps(tenant, skill string, ids []string, at time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	partition := episodePartition(tenant, skill)
	for _, id := range ids {
		doc, err := s.store.GetDocument(ctx, partition, id)
		if err != nil {
			continue
		}
		count, _ := doc.Data["retrieval_count"].(float64)
		patch := map[string]interface{}{
			"retrieval_count":   count + 1,
			"last_retrieved_at": at.Format(time.RFC3339Nano),
		}
		if err := s.store.UpdateDocument(ctx, partition, id, patch); err != nil {
			s.logger.Debug("retrieval stamp update failed", zap.String("id", id), zap.Error(err))
		}
	}
}

// GetForConsolidation returns not-yet-consolidated episodes whose
// decayed weight has fallen below the relevance threshold, oldest
// first.
func (s *EpisodicStore) GetForConsolidation(ctx context.Context, tenant, skill string, limit int) ([]*EpisodicMemory, error) {
	docs, err := s.store.GetCollection(ctx, episodePartition(tenant, skill), 0, "created_at", docstore.SortAscending)
	if err != nil {
		s.logger.Warn("consolidation fetch failed, returning empty",
			zap.String("tenant_id", tenant),
			zap.String("skill_name", skill),
			zap.Error(err))
		return nil, nil
	}

	now := s.clock()
	episodes := make([]*EpisodicMemory, 0, limit)
	for _, doc := range docs {
		ep, err := decodeEpisode(doc)
		if err != nil {
			continue
		}
		if ep.Consolidated() || ep.ArchivedAt != nil {
			continue
		}
		if decayedValue(ep.Weight, s.cfg.EpisodicDecayRate, now.Sub(ep.CreatedAt)) >= s.cfg.RelevanceThreshold {
			continue
		}
		episodes = append(episodes, ep)
		if limit > 0 && len(episodes) >= limit {
			break
		}
	}
	return episodes, nil
}

// MarkConsolidated stamps consolidated_at on an episode. Idempotent:
// an already-stamped episode keeps its original timestamp.
func (s *EpisodicStore) MarkConsolidated(ctx context.Context, tenant, skill, id string) error {
	partition := episodePartition(tenant, skill)
	doc, err := s.store.GetDocument(ctx, partition, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrEpisodeNotFound, id)
		}
		return fmt.Errorf("loading episode %s: %w", id, err)
	}
	if stamp, ok := doc.Data["consolidated_at"].(string); ok && stamp != "" {
		return nil
	}
	patch := map[string]interface{}{"consolidated_at": s.clock().Format(time.RFC3339Nano)}
	if err := s.store.UpdateDocument(ctx, partition, id, patch); err != nil {
		return fmt.Errorf("stamping episode %s: %w", id, err)
	}
	return nil
}

// DecayAll sweeps episode partitions and archives episodes older than
// the TTL. Archival is two-phase: write the archive copy first, then
// delete the active record, so a crash in between duplicates rather
// than loses. Returns the number of episodes archived.
//
// When tenant is empty, every indexed unit is swept.
func (s *EpisodicStore) DecayAll(ctx context.Context, tenant string) (int, error) {
	units, err := s.Units(ctx, tenant)
	if err != nil {
		return 0, err
	}

	archived := 0
	now := s.clock()
	ttl := time.Duration(s.cfg.EpisodicTTLDays * 24 * float64(time.Hour))
	for _, unit := range units {
		partition := episodePartition(unit.TenantID, unit.SkillName)
		docs, err := s.store.GetCollection(ctx, partition, 0, "created_at", docstore.SortAscending)
		if err != nil {
			s.logger.Warn("decay sweep fetch failed",
				zap.String("tenant_id", unit.TenantID),
				zap.String("skill_name", unit.SkillName),
				zap.Error(err))
			continue
		}
		for _, doc := range docs {
			ep, err := decodeEpisode(doc)
			if err != nil {
				continue
			}
			if now.Sub(ep.CreatedAt) < ttl {
				continue
			}
			if err := s.archiveEpisode(ctx, unit.TenantID, unit.SkillName, ep, now); err != nil {
				s.logger.Warn("episode archival failed", zap.String("id", ep.ID), zap.Error(err))
				continue
			}
			archived++
		}
	}
	return archived, nil
}

// archiveEpisode copies an episode to the archive partition and then
// deletes the active copy.
func (s *EpisodicStore) archiveEpisode(ctx context.Context, tenant, skill string, ep *EpisodicMemory, at time.Time) error {
	stamped := *ep
	stamped.ArchivedAt = &at

	data, err := encodeRecord(&stamped)
	if err != nil {
		return fmt.Errorf("encoding archived episode: %w", err)
	}
	if err := s.store.SetDocument(ctx, episodeArchivePartition(tenant, skill), ep.ID, data, false); err != nil {
		return fmt.Errorf("writing archive copy: %w", err)
	}
	if err := s.store.DeleteDocument(ctx, episodePartition(tenant, skill), ep.ID); err != nil {
		return fmt.Errorf("deleting active copy: %w", err)
	}
	return nil
}

// Unit identifies one (tenant, skill) episode partition.
type Unit struct {
	TenantID  string
	SkillName string
}

// Units lists indexed (tenant, skill) pairs, optionally filtered to a
// tenant.
func (s *EpisodicStore) Units(ctx context.Context, tenant string) ([]Unit, error) {
	q := docstore.Query{}
	if tenant != "" {
		q.Filters = []docstore.Filter{{Field: "tenant_id", Op: "==", Value: tenant}}
	}
	docs, err := s.store.Query(ctx, unitIndexPartition, q)
	if err != nil {
		return nil, fmt.Errorf("listing episode units: %w", err)
	}
	units := make([]Unit, 0, len(docs))
	for _, doc := range docs {
		t, _ := doc.Data["tenant_id"].(string)
		sk, _ := doc.Data["skill_name"].(string)
		if t == "" || sk == "" {
			continue
		}
		units = append(units, Unit{TenantID: t, SkillName: sk})
	}
	return units, nil
}

// encodeRecord round-trips a struct through JSON into the map shape
// the document store holds.
func encodeRecord(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func decodeEpisode(doc docstore.Document) (*EpisodicMemory, error) {
	raw, err := json.Marshal(doc.Data)
	if err != nil {
		return nil, err
	}
	var ep EpisodicMemory
	if err := json.Unmarshal(raw, &ep); err != nil {
		return nil, err
	}
	if ep.ID == "" {
		ep.ID = doc.ID
	}
	return &ep, nil
}
