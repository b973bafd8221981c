// Package versioning implements optimistic concurrency control across the two
// write layers: the local cache (single writer, fast path) and the remote
// store (multi writer, authoritative path). Stale writers are rejected with a
// recoverable version conflict rather than silently overwriting newer data.
package versioning

import (
	"context"
	"time"

	"github.com/quotedesk/quotedesk/internal/application/ports"
	"github.com/quotedesk/quotedesk/internal/domain/errors"
	"github.com/quotedesk/quotedesk/internal/domain/record"
)

// LocalStore wraps the local cache with a version check on every save.
type LocalStore struct {
	cache ports.LocalCachePort
	now   func() time.Time
}

// NewLocalStore creates a version-checked wrapper around the local cache.
func NewLocalStore(cache ports.LocalCachePort) *LocalStore {
	return &LocalStore{cache: cache, now: time.Now}
}

// NewLocalStoreWithClock creates a LocalStore with an injected clock.
func NewLocalStoreWithClock(cache ports.LocalCachePort, now func() time.Time) *LocalStore {
	return &LocalStore{cache: cache, now: now}
}

// Save applies a mutation to the local cache under an optimistic version
// check. The record carries the version the caller last read; if the cache
// holds a different version the save is rejected with a VersionConflict so a
// stale in-memory edit cannot clobber a newer local write. On acceptance the
// version increments by exactly 1 and UpdatedAt is refreshed.
//
// Save returns the stored record; the caller's copy is not mutated.
func (s *LocalStore) Save(ctx context.Context, rec *record.Record) (*record.Record, error) {
	if rec == nil {
		return nil, errors.NewError(errors.CodeValidation, "cannot save nil record", nil)
	}
	if err := rec.Validate(); err != nil {
		return nil, errors.NewError(errors.CodeValidation, "invalid record", err)
	}

	stored, err := s.cache.Get(ctx, rec.EntityType, rec.ID)
	if err != nil && !errors.Is(err, errors.ErrRecordNotFound) {
		return nil, errors.NewError(errors.CodeStorage, "failed to read current version", err)
	}

	saved := rec.Clone()
	if stored != nil {
		if stored.Version != rec.Version {
			return nil, &errors.VersionConflict{
				EntityID:        rec.ID,
				ExpectedVersion: rec.Version,
				CurrentVersion:  stored.Version,
				Reason:          "local cache holds a newer version",
			}
		}
		// Drains bump SyncedVersion without touching Version, so the
		// caller's copy may lag behind the cache here even when the version
		// check passes.
		if stored.SyncedVersion > saved.SyncedVersion {
			saved.SyncedVersion = stored.SyncedVersion
		}
	}

	saved.Version = rec.Version + 1
	saved.UpdatedAt = s.now()

	if err := s.cache.Put(ctx, saved); err != nil {
		return nil, errors.NewError(errors.CodeStorage, "failed to persist record", err)
	}
	return saved, nil
}

// Adopt persists a record state without a version check or increment. Used by
// reconciliation and cache-fill paths where the state was produced by the
// conflict resolver or fetched from the remote store and already carries its
// final version.
func (s *LocalStore) Adopt(ctx context.Context, rec *record.Record) error {
	if rec == nil {
		return errors.NewError(errors.CodeValidation, "cannot adopt nil record", nil)
	}
	if err := rec.Validate(); err != nil {
		return errors.NewError(errors.CodeValidation, "invalid record", err)
	}
	if err := s.cache.Put(ctx, rec.Clone()); err != nil {
		return errors.NewError(errors.CodeStorage, "failed to persist record", err)
	}
	return nil
}
