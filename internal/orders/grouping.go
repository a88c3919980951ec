package orders

import (
	"github.com/google/uuid"

	"github.com/zandy2test/gumroad-sub034/pkg/db/models"
)

// ChargeGroup is the transient per-seller slice of an order's purchases
// for one orchestration pass. One gateway charge is attempted per group.
type ChargeGroup struct {
	SellerID  uuid.UUID
	Purchases []models.Purchase
}

// GroupBySeller partitions purchases by seller. Groups appear in order of
// each seller's first line item, and purchases within a group keep their
// submission order, so downstream aggregation is deterministic.
func GroupBySeller(purchases []models.Purchase) []ChargeGroup {
	var groups []ChargeGroup
	index := make(map[uuid.UUID]int)
	for _, purchase := range purchases {
		at, seen := index[purchase.SellerID]
		if !seen {
			index[purchase.SellerID] = len(groups)
			groups = append(groups, ChargeGroup{SellerID: purchase.SellerID})
			at = len(groups) - 1
		}
		groups[at].Purchases = append(groups[at].Purchases, purchase)
	}
	return groups
}

// partitionByPayment splits a group into purchases that move money now
// and purchases that are free or defer their first charge to a mandate.
func partitionByPayment(purchases []models.Purchase) (immediate, freeOrDeferred []models.Purchase) {
	for _, purchase := range purchases {
		if purchase.RequiresImmediatePayment() {
			immediate = append(immediate, purchase)
		} else {
			freeOrDeferred = append(freeOrDeferred, purchase)
		}
	}
	return immediate, freeOrDeferred
}
