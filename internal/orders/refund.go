package orders

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zandy2test/gumroad-sub034/internal/gateway"
	"github.com/zandy2test/gumroad-sub034/pkg/enums"
	pkgerrors "github.com/zandy2test/gumroad-sub034/pkg/errors"
)

// Refund reverses a successful purchase through its original processor.
// Partial amounts are allowed up to the purchase total; the seller's
// balance gives back the refunded share net of the platform fee.
func (s *service) Refund(ctx context.Context, params RefundParams) (*gateway.RefundResult, error) {
	if params.PurchaseID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "purchase id is required")
	}

	purchase, err := s.purchaseRepo.FindByID(ctx, params.PurchaseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "purchase not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading purchase")
	}
	if purchase.State != enums.PurchaseStateSuccessful {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only successful purchases can be refunded")
	}
	if purchase.ProcessorTransactionID == nil || purchase.ChargeID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "purchase has no processor transaction")
	}
	ctx = s.logg.WithPurchaseID(ctx, purchase.ID.String())

	amount := purchase.TotalTransactionCents
	if params.AmountCents != nil {
		if *params.AmountCents <= 0 || *params.AmountCents > purchase.TotalTransactionCents {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive and within the purchase total")
		}
		amount = *params.AmountCents
	}

	charge, err := s.repo.FindChargeByID(ctx, *purchase.ChargeID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading charge")
	}

	adapter, err := s.gateways.For(charge.Processor)
	if err != nil {
		return nil, err
	}

	settlementAmount, err := s.converter.FromUSDCents(ctx, amount, charge.SettlementCurrency)
	if err != nil {
		return nil, err
	}

	result, err := adapter.Refund(ctx, *purchase.ProcessorTransactionID, &settlementAmount, charge.SettlementCurrency)
	if err != nil {
		var refundErr *gateway.RefundError
		if errors.As(err, &refundErr) {
			switch refundErr.Kind {
			case gateway.RefundAlreadyRefunded:
				return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "purchase was already refunded")
			case gateway.RefundUnavailable:
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "processor unavailable for refund")
			default:
				return nil, pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, refundErr.Message)
			}
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "refunding purchase")
	}

	// The seller gave up their share of the refunded slice; fees already
	// collected stay with the platform on partial refunds.
	sellerShare := amount
	if amount == purchase.TotalTransactionCents {
		sellerShare = purchase.TotalTransactionCents - purchase.GumroadAmountCents
	}
	if sellerShare > 0 {
		if err := s.purchaseRepo.IncrementSellerBalance(ctx, purchase.SellerID, -sellerShare); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "debiting seller balance")
		}
	}

	s.metrics.IncOutcome(charge.Processor.String(), "refunded")
	return &result, nil
}
