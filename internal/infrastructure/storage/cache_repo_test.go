package storage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/quotedesk/quotedesk/internal/adapters/store/sqlite"
	"github.com/quotedesk/quotedesk/internal/application/ports"
	domainErrors "github.com/quotedesk/quotedesk/internal/domain/errors"
	"github.com/quotedesk/quotedesk/internal/domain/record"
)

// openTestDB opens a migrated in-memory database.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := sqlite.NewConnection(":memory:")
	if err != nil {
		t.Fatalf("NewConnection() error = %v", err)
	}
	if err := conn.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	db, err := conn.DB()
	if err != nil {
		t.Fatalf("DB() error = %v", err)
	}
	return db
}

func testQuote(id string, version int64) *record.Record {
	return &record.Record{
		ID:         id,
		EntityType: record.EntityQuote,
		Version:    version,
		UpdatedAt:  time.Date(2026, 1, 15, 10, 30, 0, 123456789, time.UTC),
		Fields: map[string]any{
			"clientName": "Acme",
			"discount":   0.1,
		},
		Items: []*record.LineItem{
			{SKU: "A1", Description: "Widget", Quantity: 2, UnitCents: 500},
			nil,
			{SKU: "B2", Description: "Gadget", Quantity: 1, UnitCents: 1200},
		},
		Stage:         record.StageDraft,
		ParentID:      "cust-1",
		ParentType:    record.EntityCustomer,
		SyncedVersion: version - 1,
	}
}

func TestCacheRepository_PutGet(t *testing.T) {
	repo := NewCacheRepository(openTestDB(t))
	ctx := context.Background()

	rec := testQuote("quote-1", 3)
	if err := repo.Put(ctx, rec); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := repo.Get(ctx, record.EntityQuote, "quote-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if got.Version != 3 || got.SyncedVersion != 2 {
		t.Errorf("got version=%d synced=%d, want version=3 synced=2", got.Version, got.SyncedVersion)
	}
	if !got.UpdatedAt.Equal(rec.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want %v (nanosecond precision must survive)", got.UpdatedAt, rec.UpdatedAt)
	}
	if got.Field("clientName") != "Acme" {
		t.Errorf("clientName = %v, want Acme", got.Field("clientName"))
	}
	if got.Stage != record.StageDraft {
		t.Errorf("Stage = %q, want draft", got.Stage)
	}
	if got.ParentID != "cust-1" || got.ParentType != record.EntityCustomer {
		t.Errorf("parent = %s/%s, want customer/cust-1", got.ParentType, got.ParentID)
	}
}

// A nil entry in the line-item list is an empty slot and must round-trip as
// nil, not as a zero-valued item.
func TestCacheRepository_LineItemSlots(t *testing.T) {
	repo := NewCacheRepository(openTestDB(t))
	ctx := context.Background()

	if err := repo.Put(ctx, testQuote("quote-1", 1)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := repo.Get(ctx, record.EntityQuote, "quote-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if len(got.Items) != 3 {
		t.Fatalf("len(Items) = %d, want 3", len(got.Items))
	}
	if got.Items[1] != nil {
		t.Errorf("Items[1] = %+v, want nil slot", got.Items[1])
	}
	if got.Items[0] == nil || got.Items[0].SKU != "A1" {
		t.Errorf("Items[0] = %+v, want SKU A1", got.Items[0])
	}
	if got.Items[2] == nil || got.Items[2].UnitCents != 1200 {
		t.Errorf("Items[2] = %+v, want UnitCents 1200", got.Items[2])
	}
}

func TestCacheRepository_GetNotFound(t *testing.T) {
	repo := NewCacheRepository(openTestDB(t))

	_, err := repo.Get(context.Background(), record.EntityQuote, "missing")
	if !domainErrors.Is(err, domainErrors.ErrRecordNotFound) {
		t.Errorf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestCacheRepository_PutReplaces(t *testing.T) {
	repo := NewCacheRepository(openTestDB(t))
	ctx := context.Background()

	if err := repo.Put(ctx, testQuote("quote-1", 1)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	updated := testQuote("quote-1", 2)
	updated.SetField("clientName", "Globex")
	if err := repo.Put(ctx, updated); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := repo.Get(ctx, record.EntityQuote, "quote-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Version != 2 || got.Field("clientName") != "Globex" {
		t.Errorf("got version=%d clientName=%v, want version=2 clientName=Globex", got.Version, got.Field("clientName"))
	}
}

func TestCacheRepository_Delete(t *testing.T) {
	repo := NewCacheRepository(openTestDB(t))
	ctx := context.Background()

	if err := repo.Put(ctx, testQuote("quote-1", 1)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := repo.Delete(ctx, record.EntityQuote, "quote-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := repo.Get(ctx, record.EntityQuote, "quote-1"); !domainErrors.Is(err, domainErrors.ErrRecordNotFound) {
		t.Errorf("expected record gone, got %v", err)
	}

	if err := repo.Delete(ctx, record.EntityQuote, "quote-1"); !domainErrors.Is(err, domainErrors.ErrRecordNotFound) {
		t.Errorf("expected ErrRecordNotFound for absent delete, got %v", err)
	}
}

func TestCacheRepository_Query(t *testing.T) {
	repo := NewCacheRepository(openTestDB(t))
	ctx := context.Background()

	q1 := testQuote("quote-1", 1)
	q2 := testQuote("quote-2", 1)
	q2.ParentID = "cust-2"
	q2.SetField("clientName", "Globex")
	company := &record.Record{ID: "co-1", EntityType: record.EntityCompany, Version: 1}
	for _, rec := range []*record.Record{q1, q2, company} {
		if err := repo.Put(ctx, rec); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}

	t.Run("nil filter returns all of the type", func(t *testing.T) {
		got, err := repo.Query(ctx, record.EntityQuote, nil)
		if err != nil {
			t.Fatalf("Query() error = %v", err)
		}
		if len(got) != 2 {
			t.Errorf("len = %d, want 2", len(got))
		}
	})

	t.Run("parent filter", func(t *testing.T) {
		got, err := repo.Query(ctx, record.EntityQuote, &ports.Filter{ParentID: "cust-2"})
		if err != nil {
			t.Fatalf("Query() error = %v", err)
		}
		if len(got) != 1 || got[0].ID != "quote-2" {
			t.Errorf("got %d records, want exactly quote-2", len(got))
		}
	})

	t.Run("scalar field filter", func(t *testing.T) {
		got, err := repo.Query(ctx, record.EntityQuote, &ports.Filter{Fields: map[string]any{"clientName": "Acme"}})
		if err != nil {
			t.Fatalf("Query() error = %v", err)
		}
		if len(got) != 1 || got[0].ID != "quote-1" {
			t.Errorf("got %d records, want exactly quote-1", len(got))
		}
	})

	t.Run("limit", func(t *testing.T) {
		got, err := repo.Query(ctx, record.EntityQuote, &ports.Filter{Limit: 1})
		if err != nil {
			t.Fatalf("Query() error = %v", err)
		}
		if len(got) != 1 {
			t.Errorf("len = %d, want 1", len(got))
		}
	})
}

func TestCacheRepository_RejectsInvalidRecord(t *testing.T) {
	repo := NewCacheRepository(openTestDB(t))

	err := repo.Put(context.Background(), &record.Record{EntityType: record.EntityQuote})
	if err == nil {
		t.Error("expected validation error for record without ID")
	}
}
