// Package queue implements the durable operation queue: every enqueued
// mutation intent survives process restarts and is eventually delivered to the
// remote store, with bounded retry and visible failure.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quotedesk/quotedesk/internal/application/ports"
	"github.com/quotedesk/quotedesk/internal/domain/errors"
	"github.com/quotedesk/quotedesk/internal/domain/syncop"
	"github.com/quotedesk/quotedesk/internal/infrastructure/logging"
	"github.com/quotedesk/quotedesk/internal/infrastructure/tracing"
)

// Drain triggers. The queue never polls on a timer.
const (
	TriggerEnqueue      = "enqueue"
	TriggerConnectivity = "connectivity"
	TriggerForce        = "force"
)

// Config holds queue tuning parameters.
type Config struct {
	// BaseDelay seeds the exponential backoff after a failed attempt.
	BaseDelay time.Duration

	// MaxDelay caps the backoff.
	MaxDelay time.Duration

	// RetryCeiling is the number of failed attempts after which an operation
	// is evicted to the dead-letter list.
	RetryCeiling int
}

// DefaultConfig returns the default queue tuning.
func DefaultConfig() Config {
	return Config{
		BaseDelay:    1 * time.Second,
		MaxDelay:     30 * time.Second,
		RetryCeiling: 5,
	}
}

func (c Config) withDefaults() Config {
	if c.BaseDelay <= 0 {
		c.BaseDelay = 1 * time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.RetryCeiling <= 0 {
		c.RetryCeiling = 5
	}
	return c
}

// DispatchFunc sends one operation to the remote store and returns the
// version the store holds afterward. The orchestrator injects a dispatcher
// that routes through the optimistic-concurrency controller and handles
// version conflicts internally, so a conflict never surfaces here as a
// failure.
type DispatchFunc func(ctx context.Context, op *syncop.Operation) (int64, error)

// Listener receives status snapshots whenever the queue's status changes.
type Listener func(status ports.SyncStatus)

// Queue is the durable operation queue. Exactly one drain pass runs at a
// time; overlapping triggers coalesce into the in-flight pass.
type Queue struct {
	storage      ports.QueueStoragePort
	remote       ports.RemoteStorePort
	connectivity ports.ConnectivityPort
	dispatch     DispatchFunc
	cfg          Config
	logger       *logging.Logger
	tracer       *tracing.Tracer

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu           sync.Mutex
	isProcessing bool
	rerun        bool
	lastSyncedAt time.Time
	listeners    map[int]Listener
	nextListener int
	unsubscribe  func()
}

// New creates a queue over the given storage and wires it to connectivity
// transitions: an offline-to-online transition triggers a drain.
func New(storage ports.QueueStoragePort, remote ports.RemoteStorePort, connectivity ports.ConnectivityPort, dispatch DispatchFunc, cfg Config, logger *logging.Logger, tracer *tracing.Tracer) *Queue {
	if logger == nil {
		logger = logging.Default()
	}
	if tracer == nil {
		tracer = tracing.Default()
	}
	q := &Queue{
		storage:      storage,
		remote:       remote,
		connectivity: connectivity,
		dispatch:     dispatch,
		cfg:          cfg.withDefaults(),
		logger:       logger.With("component", "queue"),
		tracer:       tracer,
		now:          time.Now,
		sleep:        sleepContext,
		listeners:    make(map[int]Listener),
	}
	q.unsubscribe = connectivity.Subscribe(func(online bool) {
		logging.LogConnectivityChange(context.Background(), q.logger, online)
		if online {
			if err := q.ProcessQueue(context.Background(), TriggerConnectivity); err != nil {
				q.logger.Warn("connectivity-triggered drain failed", "error", err.Error())
			}
		}
		q.notify(context.Background())
	})
	return q
}

// Close detaches the queue from connectivity notifications.
func (q *Queue) Close() {
	if q.unsubscribe != nil {
		q.unsubscribe()
	}
}

// Enqueue persists a mutation intent at the tail of the queue. The queue
// assigns the operation ID, enqueue time, and zero retry count. If the
// process is currently online, a drain attempt is triggered without blocking
// the caller.
func (q *Queue) Enqueue(ctx context.Context, op *syncop.Operation) error {
	if op == nil {
		return errors.NewError(errors.CodeValidation, "cannot enqueue nil operation", nil)
	}
	op.ID = uuid.NewString()
	op.EnqueuedAt = q.now()
	op.RetryCount = 0
	op.LastError = ""
	if err := op.Validate(); err != nil {
		return errors.NewError(errors.CodeValidation, "invalid operation", err)
	}

	if err := q.storage.Append(ctx, op); err != nil {
		return errors.NewError(errors.CodeStorage, "failed to persist operation", err)
	}
	q.logger.DebugContext(ctx, "operation enqueued",
		"operation_id", op.ID,
		"kind", string(op.Kind),
		"entity_type", string(op.EntityType),
		"entity_id", op.EntityID,
	)
	q.notify(ctx)

	if q.connectivity.Online() {
		go func() {
			if err := q.ProcessQueue(context.Background(), TriggerEnqueue); err != nil {
				q.logger.Warn("enqueue-triggered drain failed", "error", err.Error())
			}
		}()
	}
	return nil
}

// ProcessQueue attempts to drain the queue. A trigger that arrives while a
// pass is in flight coalesces into it and makes the pass run once more, so
// an operation enqueued mid-drain (a conflict follow-up, typically) is never
// stranded. When offline or without an authenticated session the queued
// operations stay put.
func (q *Queue) ProcessQueue(ctx context.Context, trigger string) error {
	q.mu.Lock()
	if q.isProcessing {
		q.rerun = true
		q.mu.Unlock()
		return nil
	}
	q.isProcessing = true
	q.rerun = false
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.isProcessing = false
		q.mu.Unlock()
		q.notify(ctx)
	}()

	for {
		if !q.connectivity.Online() {
			q.logger.DebugContext(ctx, "drain skipped, offline", "trigger", trigger)
			return nil
		}
		if !q.remote.IsSessionAuthenticated(ctx) {
			q.logger.InfoContext(ctx, "drain skipped, no authenticated session", "trigger", trigger)
			return nil
		}

		q.notify(ctx)
		if err := q.drain(ctx, trigger); err != nil {
			return err
		}

		q.mu.Lock()
		rerun := q.rerun
		q.rerun = false
		q.mu.Unlock()
		if !rerun {
			return nil
		}
	}
}

// drain iterates the queue in FIFO order. A failing operation throttles the
// whole pass with an exponential backoff rather than hot-looping; the pass
// aborts early if connectivity or the session disappears, leaving the
// remaining operations queued. The tuning is snapshotted at pass start, so a
// concurrent Retune applies from the next pass.
func (q *Queue) drain(ctx context.Context, trigger string) error {
	ops, err := q.storage.All(ctx)
	if err != nil {
		return errors.NewError(errors.CodeStorage, "failed to load queue", err)
	}
	if len(ops) == 0 {
		return nil
	}
	cfg := q.Tuning()

	start := q.now()
	ctx, span := q.tracer.StartDrainSpan(ctx, len(ops), trigger)
	logging.LogDrainStart(ctx, q.logger, len(ops))

	var delivered, failed, evicted int
	for _, op := range ops {
		if ctx.Err() != nil {
			span.SetAborted("context cancelled")
			break
		}
		if !q.connectivity.Online() {
			span.SetAborted("connectivity lost")
			q.logger.InfoContext(ctx, "drain aborted, connectivity lost")
			break
		}
		if !q.remote.IsSessionAuthenticated(ctx) {
			span.SetAborted("session lost")
			q.logger.InfoContext(ctx, "drain aborted, session lost")
			break
		}

		if err := q.deliver(ctx, op); err != nil {
			failed++
			op.RetryCount++
			op.LastError = err.Error()
			logging.LogOperationFailed(ctx, q.logger, op.ID, op.RetryCount, err)

			// Non-retryable failures are dead-lettered on the first
			// attempt; retryable ones after the ceiling.
			if !errors.IsRetryable(err) || op.RetryCount > cfg.RetryCeiling {
				evicted++
				if errors.IsRetryable(err) {
					op.LastError = errors.ErrRetryCeilingReached.Error() + ": " + op.LastError
				}
				logging.LogOperationEvicted(ctx, q.logger, op.ID, op.RetryCount, op.LastError)
				if mfErr := q.storage.MarkFailed(ctx, op, q.now()); mfErr != nil {
					q.logger.ErrorContext(ctx, "failed to dead-letter operation",
						"operation_id", op.ID, "error", mfErr.Error())
				}
				q.notify(ctx)
				continue
			}

			if uaErr := q.storage.UpdateAttempt(ctx, op.ID, op.RetryCount, op.LastError); uaErr != nil {
				q.logger.ErrorContext(ctx, "failed to record attempt",
					"operation_id", op.ID, "error", uaErr.Error())
			}
			if sleepErr := q.sleep(ctx, backoffDelay(cfg, op.RetryCount)); sleepErr != nil {
				span.SetAborted("context cancelled during backoff")
				break
			}
			continue
		}

		delivered++
		if err := q.storage.Remove(ctx, op.ID); err != nil && !errors.Is(err, errors.ErrOperationNotFound) {
			q.logger.ErrorContext(ctx, "failed to remove delivered operation",
				"operation_id", op.ID, "error", err.Error())
		}
		q.mu.Lock()
		q.lastSyncedAt = q.now()
		q.mu.Unlock()
		q.notify(ctx)
	}

	span.SetOutcome(delivered, failed, evicted)
	span.End()
	logging.LogDrainComplete(ctx, q.logger, delivered, failed, evicted, q.now().Sub(start))
	return nil
}

// deliver dispatches one operation inside an operation span.
func (q *Queue) deliver(ctx context.Context, op *syncop.Operation) error {
	ctx = logging.WithOperationID(ctx, op.ID)
	ctx, span := q.tracer.StartOperationSpan(ctx, op.ID, string(op.Kind), string(op.EntityType), op.EntityID)
	span.SetRetryCount(op.RetryCount)

	remoteVersion, err := q.dispatch(ctx, op)
	if err != nil {
		span.EndWithError(err)
		return err
	}
	span.SetRemoteVersion(remoteVersion)
	span.End()
	logging.LogOperationDelivered(ctx, q.logger, op.ID, remoteVersion)
	return nil
}

// backoffDelay computes min(base * 2^retryCount, max).
func backoffDelay(cfg Config, retryCount int) time.Duration {
	d := cfg.BaseDelay
	for i := 0; i < retryCount; i++ {
		d *= 2
		if d >= cfg.MaxDelay {
			return cfg.MaxDelay
		}
	}
	return d
}

// Retune replaces the queue's tuning parameters. A drain pass already in
// flight keeps the tuning it started with; the next pass uses the new values.
func (q *Queue) Retune(cfg Config) {
	cfg = cfg.withDefaults()
	q.mu.Lock()
	q.cfg = cfg
	q.mu.Unlock()
	q.logger.Info("queue retuned",
		"base_delay", cfg.BaseDelay.String(),
		"max_delay", cfg.MaxDelay.String(),
		"retry_ceiling", cfg.RetryCeiling,
	)
}

// Tuning returns the active tuning parameters.
func (q *Queue) Tuning() Config {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cfg
}

// ForceSyncNow triggers a drain synchronously. It fails fast when offline or
// without an authenticated session.
func (q *Queue) ForceSyncNow(ctx context.Context) error {
	if !q.connectivity.Online() {
		return errors.ErrOffline
	}
	if !q.remote.IsSessionAuthenticated(ctx) {
		return errors.ErrNotAuthenticated
	}
	return q.ProcessQueue(ctx, TriggerForce)
}

// Status returns a read-only snapshot for observability.
func (q *Queue) Status(ctx context.Context) (ports.SyncStatus, error) {
	pending, err := q.storage.Count(ctx)
	if err != nil {
		return ports.SyncStatus{}, errors.NewError(errors.CodeStorage, "failed to count pending operations", err)
	}
	failedOps, err := q.storage.ListFailed(ctx)
	if err != nil {
		return ports.SyncStatus{}, errors.NewError(errors.CodeStorage, "failed to list dead-lettered operations", err)
	}

	q.mu.Lock()
	lastSynced := q.lastSyncedAt
	syncing := q.isProcessing
	q.mu.Unlock()

	return ports.SyncStatus{
		PendingCount: pending,
		FailedCount:  len(failedOps),
		LastSyncedAt: lastSynced,
		IsOnline:     q.connectivity.Online(),
		IsSyncing:    syncing,
	}, nil
}

// Pending returns the queued operations in FIFO order.
func (q *Queue) Pending(ctx context.Context) ([]*syncop.Operation, error) {
	return q.storage.All(ctx)
}

// Failed returns the dead-lettered operations, oldest first.
func (q *Queue) Failed(ctx context.Context) ([]*syncop.Operation, error) {
	return q.storage.ListFailed(ctx)
}

// Subscribe registers a listener invoked with a status snapshot whenever the
// queue's status changes. The returned function removes the subscription.
func (q *Queue) Subscribe(fn Listener) func() {
	q.mu.Lock()
	id := q.nextListener
	q.nextListener++
	q.listeners[id] = fn
	q.mu.Unlock()

	return func() {
		q.mu.Lock()
		delete(q.listeners, id)
		q.mu.Unlock()
	}
}

// Clear discards every pending operation. Administrative escape hatch for
// recovery from systemic failures.
func (q *Queue) Clear(ctx context.Context) (int, error) {
	n, err := q.storage.Clear(ctx)
	if err != nil {
		return 0, errors.NewError(errors.CodeStorage, "failed to clear queue", err)
	}
	q.logger.InfoContext(ctx, "queue cleared", "removed", n)
	q.notify(ctx)
	return n, nil
}

// ClearFailed discards the dead-letter list.
func (q *Queue) ClearFailed(ctx context.Context) (int, error) {
	n, err := q.storage.ClearFailed(ctx)
	if err != nil {
		return 0, errors.NewError(errors.CodeStorage, "failed to clear dead-lettered operations", err)
	}
	q.logger.InfoContext(ctx, "dead-lettered operations cleared", "removed", n)
	q.notify(ctx)
	return n, nil
}

// notify fans the current status out to subscribers. Status failures are
// dropped; observability must not break the drain.
func (q *Queue) notify(ctx context.Context) {
	status, err := q.Status(ctx)
	if err != nil {
		return
	}
	q.mu.Lock()
	listeners := make([]Listener, 0, len(q.listeners))
	for _, fn := range q.listeners {
		listeners = append(listeners, fn)
	}
	q.mu.Unlock()
	for _, fn := range listeners {
		fn(status)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
