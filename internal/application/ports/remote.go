package ports

import (
	"context"

	"github.com/quotedesk/quotedesk/internal/domain/record"
)

// CASResult is the structured outcome of a compare-and-swap write. The remote
// store guarantees the compare and the write happen in one transaction; the
// client only transports the discriminator, it never re-implements the
// atomicity with a read-then-write pair.
type CASResult struct {
	// Success reports whether the payload was applied.
	Success bool

	// NewVersion is the stored version after a successful write
	// (expectedVersion + 1).
	NewVersion int64

	// CurrentVersion is the version the store actually holds when the
	// expected version did not match.
	CurrentVersion int64

	// Reason is a human-readable explanation for a failed swap.
	Reason string
}

// UpsertResult distinguishes an applied write from a structured rejection.
// A write the store accepts but applies to zero rows (access-policy filtered)
// reports Applied=false with a reason; callers must treat that as a failure,
// never as success.
type UpsertResult struct {
	Applied bool
	Reason  string
}

// RemoteStorePort is the capability interface over the network-accessible
// authoritative store. All methods may fail with transport errors; Read
// distinguishes "absent" (ErrRecordNotFound) from failure.
type RemoteStorePort interface {
	// Read fetches the authoritative copy of a record.
	// Returns ErrRecordNotFound if the record does not exist remotely.
	Read(ctx context.Context, entityType record.EntityType, id string) (*record.Record, error)

	// List returns the remote records of the given type matching the filter.
	List(ctx context.Context, entityType record.EntityType, filter *Filter) ([]*record.Record, error)

	// Upsert writes a record without a version check. Used only by cache-fill
	// and administrative paths; queued mutations go through
	// CompareAndSwapWrite.
	Upsert(ctx context.Context, rec *record.Record) (*UpsertResult, error)

	// Delete removes a record from the remote store.
	Delete(ctx context.Context, entityType record.EntityType, id string) error

	// CompareAndSwapWrite atomically applies payload if the stored version
	// equals expectedVersion, bumping the stored version to
	// expectedVersion + 1. On mismatch it makes no change and reports the
	// current stored version. The atomicity is a server-side contract.
	CompareAndSwapWrite(ctx context.Context, entityType record.EntityType, id string, expectedVersion int64, payload *record.Record) (*CASResult, error)

	// IsSessionAuthenticated reports whether an authenticated remote session
	// exists. Drains are skipped entirely without one so mutations are never
	// sent unauthenticated.
	IsSessionAuthenticated(ctx context.Context) bool

	// IsReachable reports whether the remote store currently responds.
	IsReachable(ctx context.Context) bool
}
