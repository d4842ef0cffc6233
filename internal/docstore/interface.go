// Package docstore defines the persistent document-store contract the
// memory engine consumes.
//
// Partitions are hierarchical string paths such as
// "tenants/acme/skills/welcome_email/episodes". The engine never
// assumes transactional multi-document writes: every operation targets
// a single document, and cross-partition moves are performed
// copy-then-delete so a crash between phases leaves a duplicate rather
// than a loss.
package docstore

import (
	"context"
	"errors"
)

// Sentinel errors for document store operations.
var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrUnavailable indicates a transient backend failure. Reads may be
	// retried; callers treat the result as empty/neutral.
	ErrUnavailable = errors.New("document store unavailable")

	// ErrInvalidPartition indicates a malformed partition path.
	ErrInvalidPartition = errors.New("invalid partition path")
)

// SortOrder controls result ordering for queries.
type SortOrder string

const (
	// SortAscending orders results by the order field, smallest first.
	SortAscending SortOrder = "asc"

	// SortDescending orders results by the order field, largest first.
	SortDescending SortOrder = "desc"
)

// Filter is a single query predicate applied to a document field.
//
// Supported operators: "==", "!=", "<", "<=", ">", ">=". Values are
// compared numerically when both sides are numbers, otherwise as
// strings.
type Filter struct {
	Field string
	Op    string
	Value interface{}
}

// Query describes a filtered, optionally ordered and limited fetch
// from a single partition.
type Query struct {
	Filters []Filter
	OrderBy string
	Order   SortOrder
	Limit   int
}

// Document is a stored record: an id plus an arbitrary JSON-shaped
// payload.
type Document struct {
	ID   string
	Data map[string]interface{}
}

// Store is the document-store contract.
//
// Implementations must be safe for concurrent use. Writes have
// last-write-wins semantics; reads have no side effects on partial
// failure.
type Store interface {
	// GetDocument fetches a single document by id.
	// Returns ErrNotFound if the document does not exist.
	GetDocument(ctx context.Context, partition, id string) (*Document, error)

	// SetDocument creates or replaces a document. When merge is true,
	// top-level fields are merged into any existing document instead of
	// replacing it wholesale.
	SetDocument(ctx context.Context, partition, id string, data map[string]interface{}, merge bool) error

	// UpdateDocument applies a partial patch to an existing document.
	// Returns ErrNotFound if the document does not exist.
	UpdateDocument(ctx context.Context, partition, id string, patch map[string]interface{}) error

	// DeleteDocument removes a document. Deleting a missing document is
	// not an error.
	DeleteDocument(ctx context.Context, partition, id string) error

	// Query returns documents in a partition matching all filters,
	// optionally ordered and limited.
	Query(ctx context.Context, partition string, q Query) ([]Document, error)

	// GetCollection returns up to limit documents from a partition.
	// A limit <= 0 means no limit.
	GetCollection(ctx context.Context, partition string, limit int, orderBy string, order SortOrder) ([]Document, error)

	// Close releases backend resources.
	Close() error
}
