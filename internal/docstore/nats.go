package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

// NATSStoreConfig configures the JetStream KV backed store.
type NATSStoreConfig struct {
	// URL is the NATS server URL (e.g. nats://127.0.0.1:4222).
	URL string

	// Bucket is the KV bucket name. Created if missing.
	Bucket string
}

// Validate checks the configuration.
func (c *NATSStoreConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("NATS URL cannot be empty")
	}
	if c.Bucket == "" {
		return fmt.Errorf("bucket cannot be empty")
	}
	return nil
}

// NATSStore implements Store on top of a NATS JetStream key-value
// bucket.
//
// Hierarchical partitions map onto KV key hierarchy: the partition
// path "tenants/acme/episodes" and document id "abc" become the key
// "tenants.acme.episodes.abc". Values are JSON-encoded documents.
// Queries list the partition prefix and filter client-side; this
// subsystem is an asynchronous learning loop, not a hot path, so the
// scan cost is acceptable.
type NATSStore struct {
	nc     *nats.Conn
	kv     jetstream.KeyValue
	logger *zap.Logger
}

// NewNATSStore connects to NATS and opens (or creates) the KV bucket.
func NewNATSStore(ctx context.Context, cfg NATSStoreConfig, logger *zap.Logger) (*NATSStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	nc, err := nats.Connect(cfg.URL, nats.Name("memoryd"))
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to NATS: %v", ErrUnavailable, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("%w: creating JetStream context: %v", ErrUnavailable, err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "memoryd document store",
		History:     1,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("%w: opening KV bucket %s: %v", ErrUnavailable, cfg.Bucket, err)
	}

	return &NATSStore{
		nc:     nc,
		kv:     kv,
		logger: logger.With(zap.String("component", "nats_docstore")),
	}, nil
}

// GetDocument fetches a document by id.
func (s *NATSStore) GetDocument(ctx context.Context, partition, id string) (*Document, error) {
	key, err := documentKey(partition, id)
	if err != nil {
		return nil, err
	}

	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: get %s: %v", ErrUnavailable, key, err)
	}

	var data map[string]interface{}
	if err := json.Unmarshal(entry.Value(), &data); err != nil {
		return nil, fmt.Errorf("decoding document %s: %w", key, err)
	}
	return &Document{ID: id, Data: data}, nil
}

// SetDocument creates or replaces a document.
func (s *NATSStore) SetDocument(ctx context.Context, partition, id string, data map[string]interface{}, merge bool) error {
	key, err := documentKey(partition, id)
	if err != nil {
		return err
	}

	if merge {
		if existing, err := s.GetDocument(ctx, partition, id); err == nil {
			merged := deepCopy(existing.Data)
			for k, v := range data {
				merged[k] = v
			}
			data = merged
		}
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding document %s: %w", key, err)
	}
	if _, err := s.kv.Put(ctx, key, payload); err != nil {
		return fmt.Errorf("%w: put %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

// UpdateDocument applies a partial patch to an existing document.
func (s *NATSStore) UpdateDocument(ctx context.Context, partition, id string, patch map[string]interface{}) error {
	existing, err := s.GetDocument(ctx, partition, id)
	if err != nil {
		return err
	}
	for k, v := range patch {
		existing.Data[k] = v
	}
	return s.SetDocument(ctx, partition, id, existing.Data, false)
}

// DeleteDocument removes a document. Missing documents are a no-op.
func (s *NATSStore) DeleteDocument(ctx context.Context, partition, id string) error {
	key, err := documentKey(partition, id)
	if err != nil {
		return err
	}
	if err := s.kv.Delete(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("%w: delete %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

// Query returns documents in a partition matching all filters.
func (s *NATSStore) Query(ctx context.Context, partition string, q Query) ([]Document, error) {
	if err := validatePartition(partition); err != nil {
		return nil, err
	}
	prefix := partitionPrefix(partition)

	lister, err := s.kv.ListKeysFiltered(ctx, prefix+".>")
	if err != nil {
		return nil, fmt.Errorf("%w: listing keys under %s: %v", ErrUnavailable, prefix, err)
	}

	docs := []Document{}
	for key := range lister.Keys() {
		// Keys nested deeper than one level belong to sub-partitions.
		rest := strings.TrimPrefix(key, prefix+".")
		if strings.Contains(rest, ".") {
			continue
		}

		entry, err := s.kv.Get(ctx, key)
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				continue
			}
			return nil, fmt.Errorf("%w: get %s: %v", ErrUnavailable, key, err)
		}

		var data map[string]interface{}
		if err := json.Unmarshal(entry.Value(), &data); err != nil {
			s.logger.Warn("skipping undecodable document", zap.String("key", key), zap.Error(err))
			continue
		}
		if matchesFilters(data, q.Filters) {
			docs = append(docs, Document{ID: rest, Data: data})
		}
	}

	sortDocuments(docs, q.OrderBy, q.Order)
	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	return docs, nil
}

// GetCollection returns up to limit documents from a partition.
func (s *NATSStore) GetCollection(ctx context.Context, partition string, limit int, orderBy string, order SortOrder) ([]Document, error) {
	return s.Query(ctx, partition, Query{OrderBy: orderBy, Order: order, Limit: limit})
}

// Close drains the NATS connection.
func (s *NATSStore) Close() error {
	s.nc.Close()
	return nil
}

// documentKey maps a partition path + id to a KV key. Path separators
// become KV hierarchy tokens.
func documentKey(partition, id string) (string, error) {
	if err := validatePartition(partition); err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("document id cannot be empty")
	}
	return partitionPrefix(partition) + "." + id, nil
}

func partitionPrefix(partition string) string {
	return strings.ReplaceAll(strings.Trim(partition, "/"), "/", ".")
}
