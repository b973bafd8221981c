// Package sync implements the orchestrator that routes each domain operation
// to the right combination of local cache and remote store: writes are
// local-first, single reads are local-first with background reconciliation,
// and listings prefer remote results while preserving local-only records.
package sync

import (
	"context"
	"time"

	"github.com/quotedesk/quotedesk/internal/application/conflict"
	"github.com/quotedesk/quotedesk/internal/application/ports"
	"github.com/quotedesk/quotedesk/internal/application/queue"
	"github.com/quotedesk/quotedesk/internal/application/versioning"
	"github.com/quotedesk/quotedesk/internal/domain/errors"
	"github.com/quotedesk/quotedesk/internal/domain/record"
	"github.com/quotedesk/quotedesk/internal/domain/syncop"
	"github.com/quotedesk/quotedesk/internal/infrastructure/logging"
	"github.com/quotedesk/quotedesk/internal/infrastructure/tracing"
)

// Engine is the sync orchestrator. It owns the durable queue and injects the
// dispatcher that routes queued operations through the optimistic-concurrency
// controller and the conflict resolver.
type Engine struct {
	cache        ports.LocalCachePort
	remote       ports.RemoteStorePort
	connectivity ports.ConnectivityPort
	local        *versioning.LocalStore
	writer       *versioning.RemoteWriter
	resolver     *conflict.Resolver
	queue        *queue.Queue
	logger       *logging.Logger
	tracer       *tracing.Tracer
	now          func() time.Time

	// reconciled, when set, is signalled after each background
	// reconciliation pass. Tests use it to wait deterministically.
	reconciled chan struct{}
}

// New wires the orchestrator and its queue. The queue drains through the
// engine's dispatcher so version conflicts are resolved rather than retried.
func New(cache ports.LocalCachePort, remote ports.RemoteStorePort, queueStorage ports.QueueStoragePort, connectivity ports.ConnectivityPort, queueCfg queue.Config, logger *logging.Logger, tracer *tracing.Tracer) *Engine {
	if logger == nil {
		logger = logging.Default()
	}
	if tracer == nil {
		tracer = tracing.Default()
	}
	e := &Engine{
		cache:        cache,
		remote:       remote,
		connectivity: connectivity,
		local:        versioning.NewLocalStore(cache),
		writer:       versioning.NewRemoteWriter(remote),
		resolver:     conflict.NewResolver(),
		logger:       logger.With("component", "sync"),
		tracer:       tracer,
		now:          time.Now,
	}
	e.queue = queue.New(queueStorage, remote, connectivity, e.dispatch, queueCfg, logger, tracer)
	return e
}

// Close detaches the engine's queue from connectivity notifications.
func (e *Engine) Close() {
	e.queue.Close()
}

// Queue exposes the underlying operation queue for administrative surfaces.
func (e *Engine) Queue() *queue.Queue {
	return e.queue
}

// Write applies a mutation local-first: the cache save happens synchronously
// under the optimistic version check and the caller gets the saved record
// back immediately. The sync intent is queued regardless of connectivity;
// the queue holds it durably and drains on the next online transition.
func (e *Engine) Write(ctx context.Context, rec *record.Record) (*record.Record, error) {
	saved, err := e.local.Save(ctx, rec)
	if err != nil {
		// Local conflicts indicate a stale in-memory copy; surfaced
		// synchronously, not queued.
		return nil, err
	}

	if err := e.enqueueWithDependencies(ctx, saved); err != nil {
		e.logger.WarnContext(ctx, "write saved locally but enqueue failed",
			"entity_id", saved.ID, "error", err.Error())
	}
	return saved, nil
}

// Delete removes a record local-first and queues the remote delete.
func (e *Engine) Delete(ctx context.Context, entityType record.EntityType, id string) error {
	if err := e.cache.Delete(ctx, entityType, id); err != nil {
		return err
	}
	op := &syncop.Operation{
		Kind:       syncop.KindDelete,
		EntityType: entityType,
		EntityID:   id,
	}
	if err := e.queue.Enqueue(ctx, op); err != nil {
		e.logger.WarnContext(ctx, "delete applied locally but enqueue failed",
			"entity_id", id, "error", err.Error())
	}
	return nil
}

// Read returns the cached copy immediately when present, kicking off a
// non-blocking reconciliation against the remote store. Without a cached copy
// it falls through to the remote store synchronously and caches the result.
func (e *Engine) Read(ctx context.Context, entityType record.EntityType, id string) (*record.Record, error) {
	cached, err := e.cache.Get(ctx, entityType, id)
	if err == nil {
		if e.connectivity.Online() {
			go e.reconcile(context.Background(), cached)
		}
		return cached, nil
	}
	if !errors.Is(err, errors.ErrRecordNotFound) {
		return nil, err
	}

	if !e.connectivity.Online() {
		return nil, errors.ErrRecordNotFound
	}
	remote, err := e.remote.Read(ctx, entityType, id)
	if err != nil {
		return nil, err
	}
	filled := remote.Clone()
	filled.SyncedVersion = remote.Version
	if err := e.local.Adopt(ctx, filled); err != nil {
		e.logger.WarnContext(ctx, "failed to cache remote record",
			"entity_id", id, "error", err.Error())
	}
	return filled, nil
}

// List starts from the local cache so results are never empty while offline.
// When online it merges the remote result set over the local one: remote
// items take precedence, but local-only records and records carrying
// unsynced local edits are preserved so nothing visible disappears.
func (e *Engine) List(ctx context.Context, entityType record.EntityType, filter *ports.Filter) ([]*record.Record, error) {
	local, err := e.cache.Query(ctx, entityType, filter)
	if err != nil {
		return nil, err
	}
	if !e.connectivity.Online() {
		return local, nil
	}

	remote, err := e.remote.List(ctx, entityType, filter)
	if err != nil {
		e.logger.DebugContext(ctx, "remote list failed, serving cached results",
			"entity_type", string(entityType), "error", err.Error())
		return local, nil
	}

	byID := make(map[string]*record.Record, len(local))
	order := make([]string, 0, len(local)+len(remote))
	for _, rec := range local {
		byID[rec.ID] = rec
		order = append(order, rec.ID)
	}
	for _, rec := range remote {
		cached, seen := byID[rec.ID]
		if seen && cached.Version != cached.SyncedVersion {
			// Unsynced local edits outrank the remote copy until the queue
			// drains; reconciliation handles any divergence.
			continue
		}
		adopted := rec.Clone()
		adopted.SyncedVersion = rec.Version
		if err := e.local.Adopt(ctx, adopted); err != nil {
			e.logger.WarnContext(ctx, "failed to cache remote record",
				"entity_id", rec.ID, "error", err.Error())
		}
		if !seen {
			order = append(order, rec.ID)
		}
		byID[rec.ID] = adopted
	}

	out := make([]*record.Record, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out, nil
}

// Status returns the queue's observability snapshot.
func (e *Engine) Status(ctx context.Context) (ports.SyncStatus, error) {
	return e.queue.Status(ctx)
}

// Subscribe registers a listener for status changes.
func (e *Engine) Subscribe(fn queue.Listener) func() {
	return e.queue.Subscribe(fn)
}

// ForceSyncNow triggers a drain, failing fast when offline.
func (e *Engine) ForceSyncNow(ctx context.Context) error {
	return e.queue.ForceSyncNow(ctx)
}

// Repair recovers from systemic failures: it clears the dead-letter list and
// the queue, then re-walks every cached record in dependency order (parents
// before children) and re-enqueues the ones the remote store has not
// confirmed. Returns the number of re-enqueued operations.
func (e *Engine) Repair(ctx context.Context) (int, error) {
	start := e.now()
	if _, err := e.queue.ClearFailed(ctx); err != nil {
		return 0, err
	}
	if _, err := e.queue.Clear(ctx); err != nil {
		return 0, err
	}

	reenqueued := 0
	for _, entityType := range record.DependencyOrder() {
		records, err := e.cache.Query(ctx, entityType, nil)
		if err != nil {
			return reenqueued, err
		}
		for _, rec := range records {
			if rec.Version == rec.SyncedVersion && rec.SyncedVersion > 0 {
				continue
			}
			op := &syncop.Operation{
				Kind:       opKind(rec),
				EntityType: rec.EntityType,
				EntityID:   rec.ID,
				Payload:    rec,
			}
			if err := e.queue.Enqueue(ctx, op); err != nil {
				return reenqueued, err
			}
			reenqueued++
		}
	}

	logging.LogRepairComplete(ctx, e.logger, reenqueued, e.now().Sub(start))
	return reenqueued, nil
}

// enqueueWithDependencies queues a record's sync operation, queueing its
// unconfirmed dependency parent first so the remote store never sees a
// foreign-key violation.
func (e *Engine) enqueueWithDependencies(ctx context.Context, rec *record.Record) error {
	if rec.ParentID != "" && rec.ParentType.Valid() {
		parent, err := e.cache.Get(ctx, rec.ParentType, rec.ParentID)
		switch {
		case err != nil && !errors.Is(err, errors.ErrRecordNotFound):
			return err
		case errors.Is(err, errors.ErrRecordNotFound):
			return errors.NewError(errors.CodeDependency,
				"parent record not present locally", errors.ErrDependencyUnsynced)
		case parent.SyncedVersion == 0:
			queued, qErr := e.hasPendingOperation(ctx, parent.ID)
			if qErr != nil {
				return qErr
			}
			if !queued {
				parentOp := &syncop.Operation{
					Kind:       syncop.KindCreate,
					EntityType: parent.EntityType,
					EntityID:   parent.ID,
					Payload:    parent,
				}
				if err := e.queue.Enqueue(ctx, parentOp); err != nil {
					return err
				}
			}
		}
	}

	op := &syncop.Operation{
		Kind:       opKind(rec),
		EntityType: rec.EntityType,
		EntityID:   rec.ID,
		Payload:    rec,
	}
	return e.queue.Enqueue(ctx, op)
}

func (e *Engine) hasPendingOperation(ctx context.Context, entityID string) (bool, error) {
	pending, err := e.queue.Pending(ctx)
	if err != nil {
		return false, err
	}
	for _, op := range pending {
		if op.EntityID == entityID {
			return true, nil
		}
	}
	return false, nil
}

// dispatch is the queue's delivery path. It routes through the remote
// compare-and-swap and absorbs version conflicts: the resolver's outcome is
// written back to the cache and, unless the remote copy won, re-enqueued. A
// conflict therefore consumes the operation instead of failing it.
func (e *Engine) dispatch(ctx context.Context, op *syncop.Operation) (int64, error) {
	newVersion, err := e.writer.Dispatch(ctx, op)
	if err == nil {
		if op.Kind != syncop.KindDelete {
			e.confirmSynced(ctx, op, newVersion)
		}
		return newVersion, nil
	}

	var vc *errors.VersionConflict
	if !errors.As(err, &vc) {
		return 0, err
	}
	currentVersion, resolveErr := e.resolveRemoteConflict(ctx, op, vc)
	if resolveErr != nil {
		return 0, resolveErr
	}
	return currentVersion, nil
}

// confirmSynced records the remotely confirmed version on the cached copy.
// The local version is untouched; only the bookkeeping moves.
func (e *Engine) confirmSynced(ctx context.Context, op *syncop.Operation, remoteVersion int64) {
	cached, err := e.cache.Get(ctx, op.EntityType, op.EntityID)
	if err != nil {
		return
	}
	if cached.SyncedVersion >= remoteVersion {
		return
	}
	cached.SyncedVersion = remoteVersion
	if err := e.cache.Put(ctx, cached); err != nil {
		e.logger.WarnContext(ctx, "failed to record confirmed version",
			"entity_id", op.EntityID, "error", err.Error())
	}
}

// resolveRemoteConflict handles a compare-and-swap rejection: fetch the
// authoritative copy, resolve against the freshest local state, adopt the
// result locally, and re-enqueue it unless the remote copy won outright.
func (e *Engine) resolveRemoteConflict(ctx context.Context, op *syncop.Operation, vc *errors.VersionConflict) (int64, error) {
	remote, err := e.remote.Read(ctx, op.EntityType, op.EntityID)
	if err != nil {
		return 0, errors.NewError(errors.CodeTransport,
			"failed to read remote copy for conflict resolution", err)
	}

	local, err := e.cache.Get(ctx, op.EntityType, op.EntityID)
	if err != nil {
		if !errors.Is(err, errors.ErrRecordNotFound) {
			return 0, errors.NewError(errors.CodeStorage,
				"failed to read local copy for conflict resolution", err)
		}
		local = op.Payload
	}

	ctx, span := e.tracer.StartConflictSpan(ctx, string(op.EntityType), op.EntityID, local.Version, remote.Version)
	res, err := e.resolver.Resolve(local, remote)
	if err != nil {
		span.EndWithError(err)
		return 0, err
	}
	span.SetResolution(string(res.Strategy), len(res.ChangeLog), len(res.DroppedLocalFields))
	span.End()
	logging.LogConflictResolved(ctx, e.logger, op.EntityID, string(res.Strategy), len(res.DroppedLocalFields))

	if err := e.local.Adopt(ctx, res.Resolved); err != nil {
		return 0, err
	}
	if res.RequiresRemotePropagation() {
		followUp := &syncop.Operation{
			Kind:       syncop.KindUpdate,
			EntityType: op.EntityType,
			EntityID:   op.EntityID,
			Payload:    res.Resolved,
		}
		if err := e.queue.Enqueue(ctx, followUp); err != nil {
			return 0, err
		}
	}
	return remote.Version, nil
}

// reconcile is the background half of Read: compare the cached copy against
// the authoritative one and resolve any divergence. The reader that triggered
// it is never blocked.
func (e *Engine) reconcile(ctx context.Context, cached *record.Record) {
	defer func() {
		if e.reconciled != nil {
			e.reconciled <- struct{}{}
		}
	}()

	remote, err := e.remote.Read(ctx, cached.EntityType, cached.ID)
	if err != nil {
		if !errors.Is(err, errors.ErrRecordNotFound) {
			e.logger.DebugContext(ctx, "background reconciliation skipped",
				"entity_id", cached.ID, "error", err.Error())
		}
		return
	}

	// The remote store holding the confirmed version means nothing changed
	// remotely; pending local edits belong to the queue, not the resolver.
	if remote.Version == cached.SyncedVersion {
		return
	}

	ctx, span := e.tracer.StartConflictSpan(ctx, string(cached.EntityType), cached.ID, cached.Version, remote.Version)
	res, err := e.resolver.Resolve(cached, remote)
	if err != nil {
		span.EndWithError(err)
		return
	}
	span.SetResolution(string(res.Strategy), len(res.ChangeLog), len(res.DroppedLocalFields))
	span.End()
	logging.LogConflictResolved(ctx, e.logger, cached.ID, string(res.Strategy), len(res.DroppedLocalFields))

	if err := e.local.Adopt(ctx, res.Resolved); err != nil {
		e.logger.WarnContext(ctx, "failed to persist reconciliation outcome",
			"entity_id", cached.ID, "error", err.Error())
		return
	}
	if res.RequiresRemotePropagation() {
		op := &syncop.Operation{
			Kind:       syncop.KindUpdate,
			EntityType: cached.EntityType,
			EntityID:   cached.ID,
			Payload:    res.Resolved,
		}
		if err := e.queue.Enqueue(ctx, op); err != nil {
			e.logger.WarnContext(ctx, "failed to re-enqueue reconciliation outcome",
				"entity_id", cached.ID, "error", err.Error())
		}
	}
}

// opKind chooses create or update from the record's confirmation state: a
// record the remote store has never confirmed syncs as a create.
func opKind(rec *record.Record) syncop.Kind {
	if rec.SyncedVersion == 0 {
		return syncop.KindCreate
	}
	return syncop.KindUpdate
}
