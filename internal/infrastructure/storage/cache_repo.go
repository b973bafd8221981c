// Package storage provides SQLite-based persistence for the record cache and
// the durable operation queue.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quotedesk/quotedesk/internal/application/ports"
	domainErrors "github.com/quotedesk/quotedesk/internal/domain/errors"
	"github.com/quotedesk/quotedesk/internal/domain/record"
)

// Compile-time check that CacheRepository implements LocalCachePort.
var _ ports.LocalCachePort = (*CacheRepository)(nil)

// CacheRepository implements LocalCachePort using SQLite. It is the layer
// that keeps reads and writes working while the device is disconnected.
type CacheRepository struct {
	db *sql.DB
}

// NewCacheRepository creates a new cache repository.
func NewCacheRepository(db *sql.DB) *CacheRepository {
	return &CacheRepository{db: db}
}

// Get retrieves a cached record.
func (r *CacheRepository) Get(ctx context.Context, entityType record.EntityType, id string) (*record.Record, error) {
	query := `
		SELECT entity_type, id, version, updated_at, fields, items, stage, parent_id, parent_type, synced_version
		FROM records
		WHERE entity_type = ? AND id = ?
	`

	rec, err := scanRecordRow(r.db.QueryRowContext(ctx, query, string(entityType), id))
	if err == sql.ErrNoRows {
		return nil, domainErrors.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	return rec, nil
}

// Put upserts a record into the cache, replacing any existing copy.
func (r *CacheRepository) Put(ctx context.Context, rec *record.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	fieldsJSON, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}

	itemsJSON, err := json.Marshal(rec.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal items: %w", err)
	}

	query := `
		INSERT INTO records (entity_type, id, version, updated_at, fields, items, stage, parent_id, parent_type, synced_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (entity_type, id) DO UPDATE SET
			version = excluded.version,
			updated_at = excluded.updated_at,
			fields = excluded.fields,
			items = excluded.items,
			stage = excluded.stage,
			parent_id = excluded.parent_id,
			parent_type = excluded.parent_type,
			synced_version = excluded.synced_version
	`

	_, err = r.db.ExecContext(ctx, query,
		string(rec.EntityType),
		rec.ID,
		rec.Version,
		rec.UpdatedAt.Format(time.RFC3339Nano),
		string(fieldsJSON),
		string(itemsJSON),
		string(rec.Stage),
		nullableString(rec.ParentID),
		nullableString(string(rec.ParentType)),
		rec.SyncedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to put record: %w", err)
	}

	return nil
}

// Delete removes a record from the cache.
func (r *CacheRepository) Delete(ctx context.Context, entityType record.EntityType, id string) error {
	query := `DELETE FROM records WHERE entity_type = ? AND id = ?`

	result, err := r.db.ExecContext(ctx, query, string(entityType), id)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}

	if rows == 0 {
		return domainErrors.ErrRecordNotFound
	}

	return nil
}

// Query returns cached records of the given type matching the filter.
// Scalar-field criteria are matched after the scan; the JSON field document
// is opaque to SQLite.
func (r *CacheRepository) Query(ctx context.Context, entityType record.EntityType, filter *ports.Filter) ([]*record.Record, error) {
	query := `
		SELECT entity_type, id, version, updated_at, fields, items, stage, parent_id, parent_type, synced_version
		FROM records
		WHERE entity_type = ?
	`
	args := []any{string(entityType)}

	if filter != nil && filter.ParentID != "" {
		query += " AND parent_id = ?"
		args = append(args, filter.ParentID)
	}

	query += " ORDER BY updated_at DESC, id"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []*record.Record
	for rows.Next() {
		rec, err := scanRecordRows(rows)
		if err != nil {
			return nil, err
		}
		if filter != nil && !matchesFields(rec, filter.Fields) {
			continue
		}
		records = append(records, rec)
		if filter != nil && filter.Limit > 0 && len(records) == filter.Limit {
			break
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	return records, nil
}

// matchesFields reports whether the record's scalar fields contain every
// listed key/value pair.
func matchesFields(rec *record.Record, criteria map[string]any) bool {
	for name, want := range criteria {
		if !record.ScalarEqual(rec.Field(name), want) {
			return false
		}
	}
	return true
}

// scanRecordRow scans a single row into a record.
func scanRecordRow(row *sql.Row) (*record.Record, error) {
	var (
		entityType, id         string
		version, syncedVersion int64
		updatedAt              sql.NullString
		fieldsJSON, itemsJSON  sql.NullString
		stage                  sql.NullString
		parentID, parentType   sql.NullString
	)

	err := row.Scan(
		&entityType, &id, &version, &updatedAt, &fieldsJSON,
		&itemsJSON, &stage, &parentID, &parentType, &syncedVersion,
	)
	if err != nil {
		return nil, err
	}

	return buildRecord(entityType, id, version, syncedVersion, updatedAt, fieldsJSON, itemsJSON, stage, parentID, parentType)
}

// scanRecordRows scans rows into a record.
func scanRecordRows(rows *sql.Rows) (*record.Record, error) {
	var (
		entityType, id         string
		version, syncedVersion int64
		updatedAt              sql.NullString
		fieldsJSON, itemsJSON  sql.NullString
		stage                  sql.NullString
		parentID, parentType   sql.NullString
	)

	err := rows.Scan(
		&entityType, &id, &version, &updatedAt, &fieldsJSON,
		&itemsJSON, &stage, &parentID, &parentType, &syncedVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}

	return buildRecord(entityType, id, version, syncedVersion, updatedAt, fieldsJSON, itemsJSON, stage, parentID, parentType)
}

// buildRecord constructs a Record domain entity from database fields.
func buildRecord(
	entityType, id string,
	version, syncedVersion int64,
	updatedAt, fieldsJSON, itemsJSON, stage, parentID, parentType sql.NullString,
) (*record.Record, error) {
	rec := &record.Record{
		ID:            id,
		EntityType:    record.EntityType(entityType),
		Version:       version,
		SyncedVersion: syncedVersion,
	}

	if updatedAt.Valid && updatedAt.String != "" {
		ts, err := time.Parse(time.RFC3339Nano, updatedAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse updated_at: %w", err)
		}
		rec.UpdatedAt = ts
	}
	if stage.Valid {
		rec.Stage = record.Stage(stage.String)
	}
	if parentID.Valid {
		rec.ParentID = parentID.String
	}
	if parentType.Valid {
		rec.ParentType = record.EntityType(parentType.String)
	}

	// Unmarshal scalar fields
	if fieldsJSON.Valid && fieldsJSON.String != "" && fieldsJSON.String != "null" {
		if err := json.Unmarshal([]byte(fieldsJSON.String), &rec.Fields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
		}
	}

	// Unmarshal line items
	if itemsJSON.Valid && itemsJSON.String != "" && itemsJSON.String != "null" {
		if err := json.Unmarshal([]byte(itemsJSON.String), &rec.Items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal items: %w", err)
		}
	}

	return rec, nil
}

// nullableString converts an empty string to a NULL value.
func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
