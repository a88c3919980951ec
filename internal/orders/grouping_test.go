package orders

import (
	"testing"

	"github.com/google/uuid"

	"github.com/zandy2test/gumroad-sub034/pkg/db/models"
)

func TestGroupBySellerKeepsSubmissionOrder(t *testing.T) {
	sellerA := uuid.New()
	sellerB := uuid.New()
	items := []models.Purchase{
		{ID: uuid.New(), SellerID: sellerA, Position: 0, LineItemUID: "a1"},
		{ID: uuid.New(), SellerID: sellerB, Position: 1, LineItemUID: "b1"},
		{ID: uuid.New(), SellerID: sellerA, Position: 2, LineItemUID: "a2"},
	}

	groups := GroupBySeller(items)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if groups[0].SellerID != sellerA || groups[1].SellerID != sellerB {
		t.Fatal("groups not ordered by first line item")
	}
	if len(groups[0].Purchases) != 2 {
		t.Fatalf("expected 2 purchases for seller A, got %d", len(groups[0].Purchases))
	}
	if groups[0].Purchases[0].LineItemUID != "a1" || groups[0].Purchases[1].LineItemUID != "a2" {
		t.Fatal("purchases within a group not in submission order")
	}
}

func TestGroupBySellerSingleSeller(t *testing.T) {
	seller := uuid.New()
	items := []models.Purchase{
		{ID: uuid.New(), SellerID: seller},
		{ID: uuid.New(), SellerID: seller},
	}
	groups := GroupBySeller(items)
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
}

func TestPartitionByPayment(t *testing.T) {
	recurrence := monthly()
	items := []models.Purchase{
		{LineItemUID: "paid", TotalTransactionCents: 1000},
		{LineItemUID: "free", TotalTransactionCents: 0},
		{LineItemUID: "trial", TotalTransactionCents: 500, IsFreeTrial: true, Recurrence: recurrence},
	}

	immediate, freeOrDeferred := partitionByPayment(items)
	if len(immediate) != 1 || immediate[0].LineItemUID != "paid" {
		t.Fatalf("unexpected immediate set %+v", immediate)
	}
	if len(freeOrDeferred) != 2 {
		t.Fatalf("expected 2 free/deferred, got %d", len(freeOrDeferred))
	}
}
