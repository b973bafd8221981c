// Package syncop defines the durable mutation intents the operation queue
// persists and replays against the remote store.
package syncop

import (
	"fmt"
	"time"

	"github.com/quotedesk/quotedesk/internal/domain/record"
)

// Kind is the mutation type an operation carries.
type Kind string

// Operation kinds.
const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Valid reports whether the kind is one of create, update, or delete.
func (k Kind) Valid() bool {
	switch k {
	case KindCreate, KindUpdate, KindDelete:
		return true
	}
	return false
}

// Operation is a queued mutation intent. It is created at enqueue time,
// mutated (RetryCount, LastError) on each failed delivery attempt, and
// removed from the queue on success or after the retry ceiling is exceeded.
type Operation struct {
	// ID is an opaque unique identifier assigned at enqueue time.
	ID string

	// Kind is the mutation type.
	Kind Kind

	// EntityType identifies the target collection.
	EntityType record.EntityType

	// EntityID identifies the affected record within its collection.
	EntityID string

	// Payload is the full record snapshot for create/update, nil for delete.
	Payload *record.Record

	// EnqueuedAt orders operations and supports staleness diagnostics.
	EnqueuedAt time.Time

	// RetryCount starts at 0 and increments on each failed attempt.
	RetryCount int

	// LastError is the diagnostic from the most recent failed attempt.
	LastError string
}

// Validate checks the invariants an operation must hold before it is
// persisted.
func (op *Operation) Validate() error {
	if op.ID == "" {
		return fmt.Errorf("operation ID is required")
	}
	if !op.Kind.Valid() {
		return fmt.Errorf("unknown operation kind %q", op.Kind)
	}
	if !op.EntityType.Valid() {
		return fmt.Errorf("unknown entity type %q", op.EntityType)
	}
	if op.EntityID == "" {
		return fmt.Errorf("entity ID is required")
	}
	if op.Kind != KindDelete && op.Payload == nil {
		return fmt.Errorf("%s operation requires a payload", op.Kind)
	}
	return nil
}

// ExpectedRemoteVersion is the version the remote store must currently hold
// for this operation's compare-and-swap write to apply. It is the last
// remotely confirmed version of the payload, not the local version: offline
// edits bump the local version several times while the remote copy stays at
// the confirmed one. Creates expect 0.
func (op *Operation) ExpectedRemoteVersion() int64 {
	if op.Payload == nil || op.Payload.SyncedVersion <= 0 {
		return 0
	}
	return op.Payload.SyncedVersion
}
