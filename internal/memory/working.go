package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WorkingMemory is the volatile, session-scoped tier. It owns
// predictions that are awaiting outcomes and keeps a bounded FIFO of
// recently completed episodes.
//
// Thread-safe: one mutex guards the prediction map, the insertion
// order, and the outcome FIFO. Operations are short and never touch
// the persistent tiers.
type WorkingMemory struct {
	mu       sync.Mutex
	active   map[string]*Prediction
	order    []string // prediction ids, oldest first
	recent   []*EpisodicMemory
	capacity int
	fifoCap  int
	logger   *zap.Logger
}

// NewWorkingMemory creates a working memory with the configured
// capacity bounds.
func NewWorkingMemory(cfg Config, logger *zap.Logger) *WorkingMemory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkingMemory{
		active:   make(map[string]*Prediction),
		capacity: cfg.WorkingCapacity,
		fifoCap:  cfg.RecentOutcomesCap,
		logger:   logger.With(zap.String("component", "working_memory")),
	}
}

// Register stores a prediction, assigning an id if absent, and evicts
// the oldest active prediction when the capacity bound is hit.
// Returns the prediction's id.
func (w *WorkingMemory) Register(p *Prediction) string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	if _, exists := w.active[p.ID]; !exists && len(w.active) >= w.capacity {
		w.evictOldestLocked()
	}
	if _, exists := w.active[p.ID]; !exists {
		w.order = append(w.order, p.ID)
	}
	w.active[p.ID] = p
	return p.ID
}

// evictOldestLocked drops the oldest active prediction. Caller holds
// the mutex.
func (w *WorkingMemory) evictOldestLocked() {
	for len(w.order) > 0 {
		oldest := w.order[0]
		w.order = w.order[1:]
		if _, ok := w.active[oldest]; ok {
			delete(w.active, oldest)
			w.logger.Debug("evicted oldest active prediction", zap.String("prediction_id", oldest))
			return
		}
	}
}

// Get returns an active prediction by id, or nil if unknown.
func (w *WorkingMemory) Get(id string) *Prediction {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active[id]
}

// Complete pops the prediction, computes the prediction error, builds
// an EpisodicMemory, appends it to the recent-outcomes FIFO, and
// returns it for optional persistence. Returns nil when the id is
// unknown (already completed or evicted).
func (w *WorkingMemory) Complete(id string, outcome Outcome) *EpisodicMemory {
	w.mu.Lock()
	defer w.mu.Unlock()

	p, ok := w.active[id]
	if !ok {
		return nil
	}
	delete(w.active, id)

	if outcome.ID == "" {
		outcome.ID = uuid.New().String()
	}
	if outcome.ObservedAt.IsZero() {
		outcome.ObservedAt = time.Now()
	}
	outcome.PredictionID = id
	outcome.PredictionError = PredictionError(p, &outcome)

	episode := NewEpisodicMemory(*p, outcome)

	w.recent = append(w.recent, episode)
	if len(w.recent) > w.fifoCap {
		w.recent = w.recent[len(w.recent)-w.fifoCap:]
	}
	return episode
}

// RecentOutcomes filters the FIFO of completed episodes, most recent
// first. Empty skill or tenant match everything; limit <= 0 means no
// limit.
func (w *WorkingMemory) RecentOutcomes(skill, tenant string, limit int) []*EpisodicMemory {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]*EpisodicMemory, 0, len(w.recent))
	for i := len(w.recent) - 1; i >= 0; i-- {
		ep := w.recent[i]
		if skill != "" && ep.Prediction.SkillName != skill {
			continue
		}
		if tenant != "" && ep.Prediction.TenantID != tenant {
			continue
		}
		out = append(out, ep)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// ActiveCount returns the number of predictions awaiting outcomes.
func (w *WorkingMemory) ActiveCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.active)
}

// Clear wipes all session state. Persisted tiers are untouched.
func (w *WorkingMemory) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.active = make(map[string]*Prediction)
	w.order = nil
	w.recent = nil
}
