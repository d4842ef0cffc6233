package docstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemStore is an in-memory implementation of Store.
//
// It is the default backend for tests and single-process deployments.
// All documents are deep-copied on the way in and out so callers can
// never mutate stored state through a shared map.
type MemStore struct {
	mu         sync.RWMutex
	partitions map[string]map[string]map[string]interface{}
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		partitions: make(map[string]map[string]map[string]interface{}),
	}
}

// GetDocument fetches a document by id.
func (s *MemStore) GetDocument(ctx context.Context, partition, id string) (*Document, error) {
	if err := validatePartition(partition); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	part, ok := s.partitions[partition]
	if !ok {
		return nil, ErrNotFound
	}
	data, ok := part[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &Document{ID: id, Data: deepCopy(data)}, nil
}

// SetDocument creates or replaces a document.
func (s *MemStore) SetDocument(ctx context.Context, partition, id string, data map[string]interface{}, merge bool) error {
	if err := validatePartition(partition); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("document id cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	part, ok := s.partitions[partition]
	if !ok {
		part = make(map[string]map[string]interface{})
		s.partitions[partition] = part
	}

	if merge {
		if existing, ok := part[id]; ok {
			merged := deepCopy(existing)
			for k, v := range data {
				merged[k] = copyValue(v)
			}
			part[id] = merged
			return nil
		}
	}
	part[id] = deepCopy(data)
	return nil
}

// UpdateDocument applies a partial patch to an existing document.
func (s *MemStore) UpdateDocument(ctx context.Context, partition, id string, patch map[string]interface{}) error {
	if err := validatePartition(partition); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	part, ok := s.partitions[partition]
	if !ok {
		return ErrNotFound
	}
	existing, ok := part[id]
	if !ok {
		return ErrNotFound
	}
	for k, v := range patch {
		existing[k] = copyValue(v)
	}
	return nil
}

// DeleteDocument removes a document. Missing documents are a no-op.
func (s *MemStore) DeleteDocument(ctx context.Context, partition, id string) error {
	if err := validatePartition(partition); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if part, ok := s.partitions[partition]; ok {
		delete(part, id)
	}
	return nil
}

// Query returns documents matching all filters.
func (s *MemStore) Query(ctx context.Context, partition string, q Query) ([]Document, error) {
	if err := validatePartition(partition); err != nil {
		return nil, err
	}

	s.mu.RLock()
	part := s.partitions[partition]
	docs := make([]Document, 0, len(part))
	for id, data := range part {
		if matchesFilters(data, q.Filters) {
			docs = append(docs, Document{ID: id, Data: deepCopy(data)})
		}
	}
	s.mu.RUnlock()

	sortDocuments(docs, q.OrderBy, q.Order)

	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	return docs, nil
}

// GetCollection returns up to limit documents from a partition.
func (s *MemStore) GetCollection(ctx context.Context, partition string, limit int, orderBy string, order SortOrder) ([]Document, error) {
	return s.Query(ctx, partition, Query{OrderBy: orderBy, Order: order, Limit: limit})
}

// Close is a no-op for the in-memory store.
func (s *MemStore) Close() error {
	return nil
}

func validatePartition(partition string) error {
	if partition == "" || strings.HasPrefix(partition, "/") || strings.Contains(partition, "//") {
		return fmt.Errorf("%w: %q", ErrInvalidPartition, partition)
	}
	return nil
}

// matchesFilters reports whether a document satisfies every filter.
func matchesFilters(data map[string]interface{}, filters []Filter) bool {
	for _, f := range filters {
		val, ok := data[f.Field]
		if !ok {
			return false
		}
		if !evalFilter(val, f.Op, f.Value) {
			return false
		}
	}
	return true
}

func evalFilter(val interface{}, op string, want interface{}) bool {
	// Numeric comparison when both sides are numbers.
	lv, lok := toFloat(val)
	rv, rok := toFloat(want)
	if lok && rok {
		switch op {
		case "==":
			return lv == rv
		case "!=":
			return lv != rv
		case "<":
			return lv < rv
		case "<=":
			return lv <= rv
		case ">":
			return lv > rv
		case ">=":
			return lv >= rv
		}
		return false
	}

	ls := fmt.Sprintf("%v", val)
	rs := fmt.Sprintf("%v", want)
	switch op {
	case "==":
		return ls == rs
	case "!=":
		return ls != rs
	case "<":
		return ls < rs
	case "<=":
		return ls <= rs
	case ">":
		return ls > rs
	case ">=":
		return ls >= rs
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func sortDocuments(docs []Document, orderBy string, order SortOrder) {
	if orderBy == "" {
		// Stable output for unordered queries.
		sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
		return
	}
	desc := order == SortDescending
	sort.Slice(docs, func(i, j int) bool {
		less := lessValue(docs[i].Data[orderBy], docs[j].Data[orderBy])
		if desc {
			return !less
		}
		return less
	})
}

// lessValue orders two field values: numerically when both are
// numbers, chronologically when both parse as RFC 3339 timestamps
// (lexical comparison misorders mixed fractional precision), and
// lexically otherwise.
func lessValue(a, b interface{}) bool {
	la, lok := toFloat(a)
	rb, rok := toFloat(b)
	if lok && rok {
		return la < rb
	}

	as := fmt.Sprintf("%v", a)
	bs := fmt.Sprintf("%v", b)
	if ta, err := time.Parse(time.RFC3339Nano, as); err == nil {
		if tb, err := time.Parse(time.RFC3339Nano, bs); err == nil {
			return ta.Before(tb)
		}
	}
	return as < bs
}

func deepCopy(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return deepCopy(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}
