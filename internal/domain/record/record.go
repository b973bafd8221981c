// Package record defines the versioned domain records the sync engine moves
// between the local cache and the remote store. The engine is agnostic to most
// CRM field semantics; records carry a flat scalar field map plus the two
// structures the conflict resolver understands natively: the ordered line-item
// slots and the workflow stage.
package record

import (
	"fmt"
	"reflect"
	"time"
)

// EntityType identifies which domain collection a record belongs to.
type EntityType string

// The closed set of syncable collections.
const (
	EntityQuote        EntityType = "quote"
	EntityCompany      EntityType = "company"
	EntityContact      EntityType = "contact"
	EntityActivity     EntityType = "activity"
	EntityNotification EntityType = "notification"
	EntityCustomer     EntityType = "customer"
)

// AllEntityTypes lists every syncable collection.
func AllEntityTypes() []EntityType {
	return []EntityType{
		EntityQuote,
		EntityCompany,
		EntityContact,
		EntityActivity,
		EntityNotification,
		EntityCustomer,
	}
}

// Valid reports whether the entity type is one of the known collections.
func (et EntityType) Valid() bool {
	switch et {
	case EntityQuote, EntityCompany, EntityContact, EntityActivity,
		EntityNotification, EntityCustomer:
		return true
	}
	return false
}

// DependsOn returns the parent collection a record of this type references by
// foreign key, or "" when the collection has no sync-order dependency.
// Parents must be confirmed remotely before their dependents are sent, or the
// remote store rejects the write with a foreign-key violation.
func (et EntityType) DependsOn() EntityType {
	switch et {
	case EntityContact, EntityActivity:
		return EntityCompany
	case EntityQuote:
		return EntityCustomer
	}
	return ""
}

// DependencyOrder returns all entity types ordered parents-first. Used by the
// repair walk so parent records are re-enqueued before their dependents.
func DependencyOrder() []EntityType {
	return []EntityType{
		EntityCompany,
		EntityCustomer,
		EntityContact,
		EntityActivity,
		EntityQuote,
		EntityNotification,
	}
}

// Stage is a workflow-stage value that moves through an ordered progression.
// Under a merge, the side further along the progression wins so that a
// concurrent approval is never regressed to an earlier stage.
type Stage string

// Workflow stages in progression order.
const (
	StageDraft           Stage = "draft"
	StagePendingApproval Stage = "pending-approval"
	StageApproved        Stage = "approved"
	StageSent            Stage = "sent"
	StageAccepted        Stage = "accepted"
	StageClosed          Stage = "closed"
)

var stageRank = map[Stage]int{
	StageDraft:           0,
	StagePendingApproval: 1,
	StageApproved:        2,
	StageSent:            3,
	StageAccepted:        4,
	StageClosed:          5,
}

// Rank returns the stage's position in the progression. Unknown stages rank
// below draft so a recognized stage always wins a merge against one.
func (s Stage) Rank() int {
	if r, ok := stageRank[s]; ok {
		return r
	}
	return -1
}

// LineItem is one slot in a quote's ordered line-item list.
type LineItem struct {
	SKU         string `json:"sku"`
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	UnitCents   int64  `json:"unit_cents"`
}

// Equal reports whether two populated line items carry the same values.
func (li *LineItem) Equal(other *LineItem) bool {
	if li == nil || other == nil {
		return li == other
	}
	return *li == *other
}

// Record is a versioned domain record eligible for synchronization.
//
// Version starts at 1 on creation (0 means the record has not been created
// yet) and increments by exactly 1 on every successful local save.
// SyncedVersion is the last version the remote store has confirmed; 0 means
// the record has never been confirmed remotely, which makes the next queued
// write a create with expected version 0.
type Record struct {
	ID         string
	EntityType EntityType
	Version    int64
	UpdatedAt  time.Time

	// Fields holds the flat scalar fields in the remote store's naming.
	Fields map[string]any

	// Items is the ordered list of line-item slots; a nil entry is an empty
	// slot. Only meaningful for quotes but carried generically.
	Items []*LineItem

	// Stage is the workflow-stage field, empty for collections without one.
	Stage Stage

	// ParentID/ParentType reference the dependency parent (e.g. a contact's
	// company). Empty when the collection has no parent.
	ParentID   string
	ParentType EntityType

	// SyncedVersion is the last version acknowledged by the remote store.
	SyncedVersion int64
}

// Validate checks the invariants every record must hold before it enters the
// cache or the queue.
func (r *Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("record ID is required")
	}
	if !r.EntityType.Valid() {
		return fmt.Errorf("unknown entity type %q", r.EntityType)
	}
	if r.Version < 0 {
		return fmt.Errorf("version must not be negative, got %d", r.Version)
	}
	return nil
}

// Field returns a scalar field value, or nil when absent.
func (r *Record) Field(name string) any {
	if r.Fields == nil {
		return nil
	}
	return r.Fields[name]
}

// SetField sets a scalar field value, allocating the map on first use.
func (r *Record) SetField(name string, value any) {
	if r.Fields == nil {
		r.Fields = make(map[string]any)
	}
	r.Fields[name] = value
}

// Clone returns a deep copy. The conflict resolver clones its inputs so a
// resolution never aliases either snapshot.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	if r.Fields != nil {
		out.Fields = make(map[string]any, len(r.Fields))
		for k, v := range r.Fields {
			out.Fields[k] = v
		}
	}
	if r.Items != nil {
		out.Items = make([]*LineItem, len(r.Items))
		for i, li := range r.Items {
			if li != nil {
				cp := *li
				out.Items[i] = &cp
			}
		}
	}
	return &out
}

// ScalarEqual compares two scalar field values. Field values are JSON
// scalars or small JSON-compatible composites, so deep equality is the right
// comparison.
func ScalarEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// MaxVersion returns the larger of two version numbers.
func MaxVersion(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
