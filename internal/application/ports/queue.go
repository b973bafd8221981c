package ports

import (
	"context"
	"time"

	"github.com/quotedesk/quotedesk/internal/domain/syncop"
)

// QueueStoragePort persists the durable operation queue. Implementations must
// preserve enqueue order: All returns operations oldest-first, and an
// operation's position never changes across restarts.
//
// The queue component serializes access (enqueue and drain treat the
// persisted state as a critical section), so implementations do not need
// internal cross-operation transactions beyond single-statement atomicity.
type QueueStoragePort interface {
	// Append persists a new operation at the tail of the queue.
	Append(ctx context.Context, op *syncop.Operation) error

	// All returns every pending operation in FIFO order.
	All(ctx context.Context) ([]*syncop.Operation, error)

	// Count returns the number of pending operations.
	Count(ctx context.Context) (int, error)

	// UpdateAttempt records a failed delivery attempt.
	// Returns ErrOperationNotFound if the operation is no longer queued.
	UpdateAttempt(ctx context.Context, id string, retryCount int, lastError string) error

	// Remove deletes a delivered (or evicted) operation from the queue.
	// Returns ErrOperationNotFound if the operation is no longer queued.
	Remove(ctx context.Context, id string) error

	// Clear discards every pending operation. Administrative escape hatch.
	Clear(ctx context.Context) (int, error)

	// MarkFailed moves an operation that exceeded the retry ceiling to the
	// dead-letter list, removing it from the pending queue.
	MarkFailed(ctx context.Context, op *syncop.Operation, failedAt time.Time) error

	// ListFailed returns dead-lettered operations, oldest first.
	ListFailed(ctx context.Context) ([]*syncop.Operation, error)

	// ClearFailed discards the dead-letter list, returning the number removed.
	ClearFailed(ctx context.Context) (int, error)
}

// SyncStatus is the read-only observability snapshot the queue exposes. The
// UI renders PendingCount as "N changes pending sync" without knowing the
// error taxonomy.
type SyncStatus struct {
	PendingCount int
	FailedCount  int
	LastSyncedAt time.Time
	IsOnline     bool
	IsSyncing    bool
}
