package versioning

import (
	"context"
	"fmt"

	"github.com/quotedesk/quotedesk/internal/application/ports"
	"github.com/quotedesk/quotedesk/internal/domain/errors"
	"github.com/quotedesk/quotedesk/internal/domain/syncop"
)

// RemoteWriter dispatches queued operations to the remote store through its
// atomic compare-and-swap write. The atomicity lives server-side; this layer
// only chooses the expected version and translates the structured result into
// the domain error taxonomy.
type RemoteWriter struct {
	remote ports.RemoteStorePort
}

// NewRemoteWriter creates a dispatcher over the remote store.
func NewRemoteWriter(remote ports.RemoteStorePort) *RemoteWriter {
	return &RemoteWriter{remote: remote}
}

// Dispatch sends one operation to the remote store. For creates and updates
// it issues a compare-and-swap write with the operation's expected remote
// version; deletes go through the plain delete endpoint. It returns the
// version the store holds after a successful write (0 for deletes).
//
// A version mismatch comes back as a VersionConflict carrying the store's
// current version so the caller can branch into conflict resolution without
// an extra read.
func (w *RemoteWriter) Dispatch(ctx context.Context, op *syncop.Operation) (int64, error) {
	if op == nil {
		return 0, errors.NewError(errors.CodeValidation, "cannot dispatch nil operation", nil)
	}
	if err := op.Validate(); err != nil {
		return 0, errors.NewError(errors.CodeValidation, "invalid operation", err)
	}

	if op.Kind == syncop.KindDelete {
		if err := w.remote.Delete(ctx, op.EntityType, op.EntityID); err != nil {
			if errors.Is(err, errors.ErrRecordNotFound) {
				// Already gone remotely; the intent is satisfied.
				return 0, nil
			}
			return 0, errors.NewError(errors.CodeTransport,
				fmt.Sprintf("delete of %s %s failed", op.EntityType, op.EntityID), err)
		}
		return 0, nil
	}

	expected := op.ExpectedRemoteVersion()
	result, err := w.remote.CompareAndSwapWrite(ctx, op.EntityType, op.EntityID, expected, op.Payload)
	if err != nil {
		return 0, errors.NewError(errors.CodeTransport,
			fmt.Sprintf("compare-and-swap write of %s %s failed", op.EntityType, op.EntityID), err)
	}
	if result == nil {
		return 0, errors.NewError(errors.CodeRejectedWrite,
			fmt.Sprintf("remote store returned no result for %s %s", op.EntityType, op.EntityID), nil)
	}
	if !result.Success {
		return 0, &errors.VersionConflict{
			EntityID:        op.EntityID,
			ExpectedVersion: expected,
			CurrentVersion:  result.CurrentVersion,
			Reason:          result.Reason,
		}
	}
	return result.NewVersion, nil
}

// Push writes a record remotely without a version check, translating the
// structured upsert result into the error taxonomy. A write the store accepts
// but applies to zero rows is a rejected write, never a success.
func (w *RemoteWriter) Push(ctx context.Context, op *syncop.Operation) error {
	if op == nil || op.Payload == nil {
		return errors.NewError(errors.CodeValidation, "push requires an operation with a payload", nil)
	}
	result, err := w.remote.Upsert(ctx, op.Payload)
	if err != nil {
		return errors.NewError(errors.CodeTransport,
			fmt.Sprintf("upsert of %s %s failed", op.EntityType, op.EntityID), err)
	}
	if result == nil || !result.Applied {
		reason := "write applied to zero records"
		if result != nil && result.Reason != "" {
			reason = result.Reason
		}
		return errors.NewError(errors.CodeRejectedWrite,
			fmt.Sprintf("upsert of %s %s rejected: %s", op.EntityType, op.EntityID, reason), nil)
	}
	return nil
}
