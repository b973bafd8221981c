package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/quotedesk/quotedesk/internal/application/ports"
	domainErrors "github.com/quotedesk/quotedesk/internal/domain/errors"
	"github.com/quotedesk/quotedesk/internal/domain/record"
	"github.com/quotedesk/quotedesk/internal/domain/syncop"
)

// Compile-time check that QueueRepository implements QueueStoragePort.
var _ ports.QueueStoragePort = (*QueueRepository)(nil)

// QueueRepository implements QueueStoragePort using SQLite. Rows carry a
// monotonically increasing seq column, so FIFO order is a property of the
// schema rather than of in-memory state and survives process restarts.
type QueueRepository struct {
	db *sql.DB
}

// NewQueueRepository creates a new queue repository.
func NewQueueRepository(db *sql.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

// Append persists a new operation at the tail of the queue.
func (r *QueueRepository) Append(ctx context.Context, op *syncop.Operation) error {
	if err := op.Validate(); err != nil {
		return err
	}

	payloadJSON, err := marshalPayload(op.Payload)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO sync_operations (id, kind, entity_type, entity_id, payload, enqueued_at, retry_count, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, query,
		op.ID,
		string(op.Kind),
		string(op.EntityType),
		op.EntityID,
		payloadJSON,
		op.EnqueuedAt.Format(time.RFC3339Nano),
		op.RetryCount,
		nullableString(op.LastError),
	)

	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return domainErrors.NewError(domainErrors.CodeValidation, "operation already queued", err)
		}
		return fmt.Errorf("failed to append operation: %w", err)
	}

	return nil
}

// All returns every pending operation in FIFO order.
func (r *QueueRepository) All(ctx context.Context) ([]*syncop.Operation, error) {
	query := `
		SELECT id, kind, entity_type, entity_id, payload, enqueued_at, retry_count, last_error
		FROM sync_operations
		ORDER BY seq
	`

	return r.queryOperations(ctx, query)
}

// Count returns the number of pending operations.
func (r *QueueRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sync_operations").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count operations: %w", err)
	}
	return count, nil
}

// UpdateAttempt records a failed delivery attempt.
func (r *QueueRepository) UpdateAttempt(ctx context.Context, id string, retryCount int, lastError string) error {
	query := `UPDATE sync_operations SET retry_count = ?, last_error = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, retryCount, nullableString(lastError), id)
	if err != nil {
		return fmt.Errorf("failed to update operation attempt: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}

	if rows == 0 {
		return domainErrors.ErrOperationNotFound
	}

	return nil
}

// Remove deletes a delivered operation from the queue.
func (r *QueueRepository) Remove(ctx context.Context, id string) error {
	query := `DELETE FROM sync_operations WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to remove operation: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check remove result: %w", err)
	}

	if rows == 0 {
		return domainErrors.ErrOperationNotFound
	}

	return nil
}

// Clear discards every pending operation.
func (r *QueueRepository) Clear(ctx context.Context) (int, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM sync_operations")
	if err != nil {
		return 0, fmt.Errorf("failed to clear operations: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check clear result: %w", err)
	}

	return int(rows), nil
}

// MarkFailed moves an operation that exceeded the retry ceiling to the
// dead-letter list. The insert and the removal from the pending queue happen
// in one transaction so the operation is never in both lists or in neither.
func (r *QueueRepository) MarkFailed(ctx context.Context, op *syncop.Operation, failedAt time.Time) error {
	payloadJSON, err := marshalPayload(op.Payload)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	insert := `
		INSERT INTO failed_operations (id, kind, entity_type, entity_id, payload, enqueued_at, retry_count, last_error, failed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, insert,
		op.ID,
		string(op.Kind),
		string(op.EntityType),
		op.EntityID,
		payloadJSON,
		op.EnqueuedAt.Format(time.RFC3339Nano),
		op.RetryCount,
		nullableString(op.LastError),
		failedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to dead-letter operation: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM sync_operations WHERE id = ?", op.ID); err != nil {
		return fmt.Errorf("failed to remove dead-lettered operation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit dead-letter transaction: %w", err)
	}

	return nil
}

// ListFailed returns dead-lettered operations, oldest first.
func (r *QueueRepository) ListFailed(ctx context.Context) ([]*syncop.Operation, error) {
	query := `
		SELECT id, kind, entity_type, entity_id, payload, enqueued_at, retry_count, last_error
		FROM failed_operations
		ORDER BY seq
	`

	return r.queryOperations(ctx, query)
}

// ClearFailed discards the dead-letter list.
func (r *QueueRepository) ClearFailed(ctx context.Context) (int, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM failed_operations")
	if err != nil {
		return 0, fmt.Errorf("failed to clear dead-letter list: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check clear result: %w", err)
	}

	return int(rows), nil
}

// queryOperations executes a query and returns multiple operations.
func (r *QueueRepository) queryOperations(ctx context.Context, query string, args ...any) ([]*syncop.Operation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query operations: %w", err)
	}
	defer rows.Close()

	var operations []*syncop.Operation
	for rows.Next() {
		op, err := scanOperationRows(rows)
		if err != nil {
			return nil, err
		}
		operations = append(operations, op)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operations: %w", err)
	}

	return operations, nil
}

// scanOperationRows scans rows into an operation.
func scanOperationRows(rows *sql.Rows) (*syncop.Operation, error) {
	var (
		id, kind, entityType, entityID string
		payloadJSON, lastError         sql.NullString
		enqueuedAt                     string
		retryCount                     int
	)

	err := rows.Scan(&id, &kind, &entityType, &entityID, &payloadJSON, &enqueuedAt, &retryCount, &lastError)
	if err != nil {
		return nil, fmt.Errorf("failed to scan operation: %w", err)
	}

	op := &syncop.Operation{
		ID:         id,
		Kind:       syncop.Kind(kind),
		EntityType: record.EntityType(entityType),
		EntityID:   entityID,
		RetryCount: retryCount,
	}

	ts, err := time.Parse(time.RFC3339Nano, enqueuedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse enqueued_at: %w", err)
	}
	op.EnqueuedAt = ts

	if lastError.Valid {
		op.LastError = lastError.String
	}

	if payloadJSON.Valid && payloadJSON.String != "" && payloadJSON.String != "null" {
		payload, err := unmarshalPayload(payloadJSON.String)
		if err != nil {
			return nil, err
		}
		op.Payload = payload
	}

	return op, nil
}

// payloadDoc is the JSON shape of a record snapshot in the payload column.
type payloadDoc struct {
	ID            string             `json:"id"`
	EntityType    string             `json:"entity_type"`
	Version       int64              `json:"version"`
	UpdatedAt     time.Time          `json:"updated_at"`
	Fields        map[string]any     `json:"fields,omitempty"`
	Items         []*record.LineItem `json:"items,omitempty"`
	Stage         string             `json:"stage,omitempty"`
	ParentID      string             `json:"parent_id,omitempty"`
	ParentType    string             `json:"parent_type,omitempty"`
	SyncedVersion int64              `json:"synced_version"`
}

// marshalPayload serializes a record snapshot, or NULL for delete operations.
func marshalPayload(rec *record.Record) (sql.NullString, error) {
	if rec == nil {
		return sql.NullString{}, nil
	}

	doc := payloadDoc{
		ID:            rec.ID,
		EntityType:    string(rec.EntityType),
		Version:       rec.Version,
		UpdatedAt:     rec.UpdatedAt,
		Fields:        rec.Fields,
		Items:         rec.Items,
		Stage:         string(rec.Stage),
		ParentID:      rec.ParentID,
		ParentType:    string(rec.ParentType),
		SyncedVersion: rec.SyncedVersion,
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal payload: %w", err)
	}

	return sql.NullString{String: string(data), Valid: true}, nil
}

// unmarshalPayload deserializes a record snapshot from the payload column.
func unmarshalPayload(data string) (*record.Record, error) {
	var doc payloadDoc
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	return &record.Record{
		ID:            doc.ID,
		EntityType:    record.EntityType(doc.EntityType),
		Version:       doc.Version,
		UpdatedAt:     doc.UpdatedAt,
		Fields:        doc.Fields,
		Items:         doc.Items,
		Stage:         record.Stage(doc.Stage),
		ParentID:      doc.ParentID,
		ParentType:    record.EntityType(doc.ParentType),
		SyncedVersion: doc.SyncedVersion,
	}, nil
}
