package httpstore

import (
	"time"

	"github.com/quotedesk/quotedesk/internal/domain/record"
)

// DefaultBaseURL is the default remote store endpoint.
const DefaultBaseURL = "http://localhost:8090"

// API endpoints
const (
	EndpointRecords = "/api/v1/records"
	EndpointSession = "/api/v1/session"
	EndpointHealth  = "/api/v1/health"
)

// recordDoc is the wire shape of a record.
type recordDoc struct {
	ID            string             `json:"id"`
	EntityType    string             `json:"entity_type"`
	Version       int64              `json:"version"`
	UpdatedAt     time.Time          `json:"updated_at"`
	Fields        map[string]any     `json:"fields,omitempty"`
	Items         []*record.LineItem `json:"items,omitempty"`
	Stage         string             `json:"stage,omitempty"`
	ParentID      string             `json:"parent_id,omitempty"`
	ParentType    string             `json:"parent_type,omitempty"`
	SyncedVersion int64              `json:"-"`
}

// toDoc converts a domain record to its wire shape. SyncedVersion is local
// bookkeeping and never leaves the device.
func toDoc(rec *record.Record) *recordDoc {
	return &recordDoc{
		ID:         rec.ID,
		EntityType: string(rec.EntityType),
		Version:    rec.Version,
		UpdatedAt:  rec.UpdatedAt,
		Fields:     rec.Fields,
		Items:      rec.Items,
		Stage:      string(rec.Stage),
		ParentID:   rec.ParentID,
		ParentType: string(rec.ParentType),
	}
}

// fromDoc converts a wire document back to a domain record.
func fromDoc(doc *recordDoc) *record.Record {
	return &record.Record{
		ID:         doc.ID,
		EntityType: record.EntityType(doc.EntityType),
		Version:    doc.Version,
		UpdatedAt:  doc.UpdatedAt,
		Fields:     doc.Fields,
		Items:      doc.Items,
		Stage:      record.Stage(doc.Stage),
		ParentID:   doc.ParentID,
		ParentType: record.EntityType(doc.ParentType),
	}
}

// listResponse is the response from the list endpoint.
type listResponse struct {
	Records []*recordDoc `json:"records"`
}

// upsertResponse is the response from an unchecked write.
type upsertResponse struct {
	Applied bool   `json:"applied"`
	Reason  string `json:"reason,omitempty"`
}

// casRequest is the body of a compare-and-swap write.
type casRequest struct {
	ExpectedVersion int64      `json:"expected_version"`
	Record          *recordDoc `json:"record"`
}

// casResponse is the response from a compare-and-swap write. The server
// performs the compare and the write in one transaction and reports the
// outcome here.
type casResponse struct {
	Success        bool   `json:"success"`
	NewVersion     int64  `json:"new_version,omitempty"`
	CurrentVersion int64  `json:"current_version,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// sessionResponse is the response from the session endpoint.
type sessionResponse struct {
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"user_id,omitempty"`
}

// errorResponse is the error body the remote store returns.
type errorResponse struct {
	Error string `json:"error"`
}
