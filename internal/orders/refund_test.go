package orders

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/zandy2test/gumroad-sub034/internal/gateway"
	"github.com/zandy2test/gumroad-sub034/pkg/db/models"
	"github.com/zandy2test/gumroad-sub034/pkg/enums"
	pkgerrors "github.com/zandy2test/gumroad-sub034/pkg/errors"
)

func (f *fixture) addSettledPurchase(t *testing.T, seller uuid.UUID, totalCents, platformCents int64) *models.Purchase {
	return f.addSettledPurchaseIn(t, seller, totalCents, platformCents, enums.CurrencyUSD)
}

func (f *fixture) addSettledPurchaseIn(t *testing.T, seller uuid.UUID, totalCents, platformCents int64, settlement enums.Currency) *models.Purchase {
	t.Helper()
	txn := "txn-settled"
	charge := &models.Charge{
		OrderID:                uuid.New(),
		SellerID:               seller,
		Processor:              enums.ProcessorStripe,
		SettlementCurrency:     settlement,
		ProcessorTransactionID: &txn,
	}
	if err := f.orderRepo.CreateCharge(context.Background(), charge); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	purchase := &models.Purchase{
		ID:                     uuid.New(),
		OrderID:                charge.OrderID,
		SellerID:               seller,
		ChargeID:               &charge.ID,
		LineItemUID:            "li-1",
		State:                  enums.PurchaseStateSuccessful,
		TotalTransactionCents:  totalCents,
		GumroadAmountCents:     platformCents,
		ProcessorTransactionID: &txn,
	}
	f.purchaseRepo.byID[purchase.ID] = purchase
	return purchase
}

func TestRefundFullDebitsSellerShare(t *testing.T) {
	f := newFixture(t)
	seller := f.addSeller(t, "US")
	purchase := f.addSettledPurchase(t, seller, 1000, 150)
	f.purchaseRepo.balances[seller] = 850

	result, err := f.svc.Refund(context.Background(), RefundParams{PurchaseID: purchase.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.RefundID == "" {
		t.Fatal("expected a refund id")
	}
	// full refund gives back the net amount, the fee was the platform's
	if f.purchaseRepo.balances[seller] != 0 {
		t.Fatalf("expected zero balance after full refund, got %d", f.purchaseRepo.balances[seller])
	}
}

func TestRefundPartialDebitsRequestedAmount(t *testing.T) {
	f := newFixture(t)
	seller := f.addSeller(t, "US")
	purchase := f.addSettledPurchase(t, seller, 1000, 150)
	f.purchaseRepo.balances[seller] = 850

	amount := int64(400)
	if _, err := f.svc.Refund(context.Background(), RefundParams{PurchaseID: purchase.ID, AmountCents: &amount}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.purchaseRepo.balances[seller] != 450 {
		t.Fatalf("expected 450 after partial refund, got %d", f.purchaseRepo.balances[seller])
	}
}

func TestRefundRejectsAmountOverTotal(t *testing.T) {
	f := newFixture(t)
	seller := f.addSeller(t, "US")
	purchase := f.addSettledPurchase(t, seller, 1000, 150)

	amount := int64(1001)
	_, err := f.svc.Refund(context.Background(), RefundParams{PurchaseID: purchase.ID, AmountCents: &amount})
	if pkgerrors.As(err).Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRefundRequiresSuccessfulPurchase(t *testing.T) {
	f := newFixture(t)
	seller := f.addSeller(t, "US")
	purchase := f.addSettledPurchase(t, seller, 1000, 150)
	purchase.State = enums.PurchaseStateFailed

	_, err := f.svc.Refund(context.Background(), RefundParams{PurchaseID: purchase.ID})
	if pkgerrors.As(err).Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestRefundUnknownPurchase(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Refund(context.Background(), RefundParams{PurchaseID: uuid.New()})
	if pkgerrors.As(err).Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRefundCarriesSettlementCurrencyToGateway(t *testing.T) {
	f := newFixture(t)
	seller := f.addSeller(t, "US")
	purchase := f.addSettledPurchaseIn(t, seller, 1000, 150, enums.CurrencyEUR)

	amount := int64(400)
	if _, err := f.svc.Refund(context.Background(), RefundParams{PurchaseID: purchase.ID, AmountCents: &amount}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.adapter.refundCurrency != enums.CurrencyEUR {
		t.Fatalf("refund must declare the charge's settlement currency, got %q", f.adapter.refundCurrency)
	}
}

func TestRefundAlreadyRefundedMapsToConflict(t *testing.T) {
	f := newFixture(t)
	seller := f.addSeller(t, "US")
	purchase := f.addSettledPurchase(t, seller, 1000, 150)
	f.adapter.refundErr = gateway.NewRefundError(gateway.RefundAlreadyRefunded, "already refunded", nil)

	_, err := f.svc.Refund(context.Background(), RefundParams{PurchaseID: purchase.ID})
	if pkgerrors.As(err).Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	if f.purchaseRepo.balances[seller] != 0 {
		t.Fatal("failed refund must not touch the seller balance")
	}
}
