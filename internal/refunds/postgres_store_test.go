//go:build integration

package refunds

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/playvault/playvault/internal/testutil"
)

func testRefund(id, orderID string, status Status) *Refund {
	return &Refund{
		ID:            id,
		OrderID:       orderID,
		TransactionID: "txn_pg1",
		Amount:        decimal.RequireFromString("21.58"),
		Currency:      "USD",
		Reason:        "item_not_received",
		RequestedBy:   "buyer_1",
		Status:        status,
		RequestedAt:   time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestPostgresRefunds_OnePendingPerOrder(t *testing.T) {
	ctx := context.Background()
	db, cleanup := testutil.PGTest(t, ctx)
	defer cleanup()

	store := NewPostgresStore(db)
	if err := store.Create(ctx, testRefund("ref_pg1", "ord_pg1", StatusPending)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.Create(ctx, testRefund("ref_pg2", "ord_pg1", StatusPending)); err != ErrRefundPendingExists {
		t.Fatalf("duplicate pending refund: got %v, want ErrRefundPendingExists", err)
	}

	// A settled refund does not block a new request.
	if err := store.Create(ctx, testRefund("ref_pg3", "ord_pg2", StatusRejected)); err != nil {
		t.Fatalf("Create rejected failed: %v", err)
	}
	if err := store.Create(ctx, testRefund("ref_pg4", "ord_pg2", StatusPending)); err != nil {
		t.Fatalf("Create after rejected failed: %v", err)
	}
}

func TestPostgresRefunds_UpdateAndList(t *testing.T) {
	ctx := context.Background()
	db, cleanup := testutil.PGTest(t, ctx)
	defer cleanup()

	store := NewPostgresStore(db)
	r := testRefund("ref_pg5", "ord_pg3", StatusPending)
	if err := store.Create(ctx, r); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	r.Status = StatusProcessing
	r.ProcessedBy = "seller_1"
	r.ProcessedAt = &now
	if err := store.Update(ctx, r, StatusPending); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if err := store.Update(ctx, r, StatusPending); err != ErrStaleRefund {
		t.Errorf("stale update: got %v, want ErrStaleRefund", err)
	}

	got, err := store.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusProcessing || got.ProcessedBy != "seller_1" {
		t.Errorf("got %s by %q, want processing by seller_1", got.Status, got.ProcessedBy)
	}

	byOrder, err := store.ListByOrder(ctx, "ord_pg3")
	if err != nil {
		t.Fatalf("ListByOrder failed: %v", err)
	}
	if len(byOrder) != 1 {
		t.Errorf("ListByOrder: got %d, want 1", len(byOrder))
	}
}
