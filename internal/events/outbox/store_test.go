package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/flowmesh/core/internal/common/logger"
	"github.com/flowmesh/core/internal/events"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	db, err := sqlx.Open("postgres", "host=localhost port=5432 user=postgres password=postgres dbname=flowmesh_test sslmode=disable")
	if err != nil {
		t.Skipf("cannot open test database: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("test database not reachable: %v", err)
	}
	return db
}

func TestStoreClaimBatchOnlyReturnsEligibleRows(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	store := NewStore(db, logger.New("test"))
	ctx := context.Background()

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		t.Fatalf("failed to begin transaction: %v", err)
	}

	e := events.New("order.created", map[string]interface{}{"order_id": "o-1"}, events.Metadata{SourceService: "orders"})
	row := NewFromEvent(e, []byte(`{}`), 5, nil, nil)
	if err := store.SaveEvent(ctx, tx, &row); err != nil {
		t.Fatalf("SaveEvent failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("failed to commit: %v", err)
	}

	claimed, err := store.ClaimBatch(ctx, 10)
	if err != nil {
		t.Fatalf("ClaimBatch failed: %v", err)
	}

	found := false
	for _, c := range claimed {
		if c.ID == row.ID {
			found = true
			if c.Status != StatusProcessing {
				t.Errorf("expected claimed row to be PROCESSING, got %s", c.Status)
			}
			if c.Attempts != 1 {
				t.Errorf("expected attempts to be incremented to 1, got %d", c.Attempts)
			}
		}
	}
	if !found {
		t.Error("expected newly saved row to be claimable")
	}

	if err := store.MarkCompleted(ctx, row.ID); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}
}

func TestStoreRecoverStaleRevertsOldProcessingRows(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	store := NewStore(db, logger.New("test"))
	ctx := context.Background()

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		t.Fatalf("failed to begin transaction: %v", err)
	}
	e := events.New("order.created", map[string]interface{}{"order_id": "o-2"}, events.Metadata{SourceService: "orders"})
	row := NewFromEvent(e, []byte(`{}`), 5, nil, nil)
	if err := store.SaveEvent(ctx, tx, &row); err != nil {
		t.Fatalf("SaveEvent failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("failed to commit: %v", err)
	}
	if _, err := store.ClaimBatch(ctx, 10); err != nil {
		t.Fatalf("ClaimBatch failed: %v", err)
	}
	time.Sleep(1100 * time.Millisecond)

	n, err := store.RecoverStale(ctx, time.Second)
	if err != nil {
		t.Fatalf("RecoverStale failed: %v", err)
	}
	if n < 1 {
		t.Errorf("expected at least the claimed row to be reverted to PENDING, got %d", n)
	}
}
