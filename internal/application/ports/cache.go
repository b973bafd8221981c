// Package ports defines the application layer port interfaces following
// hexagonal architecture. Ports are abstractions that allow the sync engine to
// interact with external systems (the local cache, the remote authoritative
// store, queue persistence, connectivity signals) without knowing their
// implementation details.
package ports

import (
	"context"

	"github.com/quotedesk/quotedesk/internal/domain/record"
)

// Filter defines criteria for querying records, locally or remotely.
type Filter struct {
	// Fields matches records whose scalar fields contain every listed
	// key/value pair. Nil or empty matches all records of the type.
	Fields map[string]any

	// ParentID filters by dependency parent.
	ParentID string

	// Limit specifies the maximum number of results to return (0 for
	// unlimited).
	Limit int
}

// LocalCachePort is the capability interface over the local persistent cache.
// The engine treats the cache as fast and always available; it is the layer
// that makes reads and writes work while disconnected.
//
// Put is a plain upsert used by cache-fill paths. Version-checked saves go
// through the optimistic-concurrency controller, which composes Get and Put.
type LocalCachePort interface {
	// Get retrieves a cached record.
	// Returns ErrRecordNotFound if no record exists with the given ID.
	Get(ctx context.Context, entityType record.EntityType, id string) (*record.Record, error)

	// Put upserts a record into the cache, replacing any existing copy.
	Put(ctx context.Context, rec *record.Record) error

	// Delete removes a record from the cache.
	// Returns ErrRecordNotFound if the record does not exist.
	Delete(ctx context.Context, entityType record.EntityType, id string) error

	// Query returns cached records of the given type matching the filter.
	// Pass nil filter to retrieve all records of the type.
	Query(ctx context.Context, entityType record.EntityType, filter *Filter) ([]*record.Record, error)
}
