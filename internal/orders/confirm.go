package orders

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zandy2test/gumroad-sub034/internal/gateway"
	"github.com/zandy2test/gumroad-sub034/internal/purchases"
	"github.com/zandy2test/gumroad-sub034/pkg/db/models"
	"github.com/zandy2test/gumroad-sub034/pkg/enums"
	pkgerrors "github.com/zandy2test/gumroad-sub034/pkg/errors"
)

// Confirm resolves purchases suspended on a step-up authentication. One
// resolution attempt is made: a charge that still requires action after
// the client claims completion is treated as failed.
func (s *service) Confirm(ctx context.Context, orderID uuid.UUID, params ConfirmParams) ([]ChargeResponse, []OfferCodeSummary, error) {
	if orderID == uuid.Nil {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if params.ClientSecret == "" {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "client secret is required")
	}
	ctx = s.logg.WithOrderID(ctx, orderID.String())

	charge, err := s.repo.FindChargeBySetupIntent(ctx, orderID, params.ClientSecret)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "no pending charge for this authentication")
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading pending charge")
	}

	all, err := s.purchaseRepo.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading purchases")
	}
	inProgress, err := s.purchaseRepo.ListInProgressByOrder(ctx, orderID)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading open purchases")
	}
	var awaiting []models.Purchase
	for _, purchase := range inProgress {
		if purchase.ChargeID != nil && *purchase.ChargeID == charge.ID {
			awaiting = append(awaiting, purchase)
		}
	}
	if len(awaiting) == 0 {
		return nil, nil, pkgerrors.New(pkgerrors.CodeStateConflict, "no purchases awaiting confirmation")
	}

	// The client reported an authentication error: terminalize without a
	// gateway round trip.
	if params.ErrorMessage != nil {
		responses, err := s.failGroup(ctx, awaiting, authenticationFailed)
		if err != nil {
			return nil, nil, err
		}
		return s.orderResponses(all, responses), offerCodeSummaries(awaiting), nil
	}

	adapter, err := s.gateways.For(charge.Processor)
	if err != nil {
		return nil, nil, err
	}
	result, err := adapter.Confirm(ctx, params.ClientSecret)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "confirming with gateway")
	}
	s.metrics.IncOutcome(charge.Processor.String(), string(result.Kind))

	switch result.Kind {
	case gateway.ResultCaptured:
		responses, err := s.finalizeConfirmed(ctx, charge, awaiting, result)
		if err != nil {
			return nil, nil, err
		}
		return s.orderResponses(all, responses), nil, nil

	case gateway.ResultUnavailable:
		// Retryable: leave purchases suspended rather than failing them
		// on an outage.
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, result.Cause, "gateway unavailable during confirmation")

	case gateway.ResultDeclined:
		responses, err := s.failGroup(ctx, awaiting, result.DeclineReason)
		if err != nil {
			return nil, nil, err
		}
		return s.orderResponses(all, responses), offerCodeSummaries(awaiting), nil

	default: // still requires action after one resolution attempt
		responses, err := s.failGroup(ctx, awaiting, authenticationFailed)
		if err != nil {
			return nil, nil, err
		}
		return s.orderResponses(all, responses), offerCodeSummaries(awaiting), nil
	}
}

func (s *service) finalizeConfirmed(ctx context.Context, charge *models.Charge, awaiting []models.Purchase, result gateway.Result) ([]ChargeResponse, error) {
	immediate, freeOrDeferred := partitionByPayment(awaiting)

	totalUSD := int64(0)
	platformUSD := int64(0)
	for _, purchase := range immediate {
		totalUSD += purchase.TotalTransactionCents
		platformUSD += purchase.GumroadAmountCents
	}

	if charge.MerchantAccountID != nil {
		account, err := s.merchants.ResolveForProcessor(ctx, charge.SellerID, charge.Processor)
		if err != nil {
			// A transient lookup failure must not charge a fee the account
			// would have waived; leave the purchases suspended for a retry.
			if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolving merchant account")
			}
			s.logg.Warn(ctx, "merchant account missing during confirmation, platform fee stands")
		} else if account.WaivesPlatformFee() {
			platformUSD = 0
		}
	}

	amount, err := s.converter.FromUSDCents(ctx, totalUSD, charge.SettlementCurrency)
	if err != nil {
		return nil, err
	}
	platformAmount, err := s.converter.FromUSDCents(ctx, platformUSD, charge.SettlementCurrency)
	if err != nil {
		return nil, err
	}

	var responses []ChargeResponse
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		purchaseRepo := s.purchaseRepo.WithTx(tx)

		charge.AmountCents = &amount
		charge.GumroadAmountCents = &platformAmount
		charge.ProcessorTransactionID = &result.TransactionID
		charge.ProcessorFeeCents = result.FeeCents
		charge.ProcessorFeeCurrency = result.FeeCurrency
		if result.PaymentMethodFingerprint != "" {
			charge.PaymentMethodFingerprint = &result.PaymentMethodFingerprint
		}
		if err := repo.UpdateCharge(ctx, charge); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating charge")
		}

		for i := range immediate {
			purchase := &immediate[i]
			if err := lockForTransition(ctx, purchaseRepo, purchase); err != nil {
				return err
			}
			if err := purchases.ApplyTransition(purchase, enums.PurchaseStateSuccessful, nil); err != nil {
				return err
			}
			purchase.ProcessorTransactionID = &result.TransactionID
			if result.PaymentMethodFingerprint != "" {
				purchase.PaymentMethodFingerprint = &result.PaymentMethodFingerprint
			}
			if err := purchaseRepo.Update(ctx, purchase); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating purchase")
			}
			responses = append(responses, successResponse(*purchase))
		}

		folded, err := s.foldInFreeOrDeferred(ctx, purchaseRepo, charge.ID, freeOrDeferred)
		if err != nil {
			return err
		}
		responses = append(responses, folded...)

		sellerShare := totalUSD - platformUSD
		if sellerShare > 0 {
			if err := purchaseRepo.IncrementSellerBalance(ctx, charge.SellerID, sellerShare); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "crediting seller balance")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return responses, nil
}

// orderResponses re-sorts group responses into the order's line item
// submission order, folding in terminal purchases outside the group.
func (s *service) orderResponses(all []models.Purchase, updated []ChargeResponse) []ChargeResponse {
	byPurchase := make(map[uuid.UUID]ChargeResponse, len(updated))
	for _, response := range updated {
		byPurchase[response.PurchaseID] = response
	}
	ordered := make([]ChargeResponse, 0, len(all))
	for _, purchase := range all {
		if response, ok := byPurchase[purchase.ID]; ok {
			ordered = append(ordered, response)
			continue
		}
		if purchase.State.IsTerminal() {
			ordered = append(ordered, s.stateResponse(purchase))
		}
	}
	return ordered
}

// offerCodeSummaries rebuilds applied discounts for failed purchases so
// the client can re-render them without re-deriving the math.
func offerCodeSummaries(failed []models.Purchase) []OfferCodeSummary {
	index := make(map[string]int)
	var summaries []OfferCodeSummary
	for _, purchase := range failed {
		if purchase.OfferCode == nil || *purchase.OfferCode == "" {
			continue
		}
		at, seen := index[*purchase.OfferCode]
		if !seen {
			index[*purchase.OfferCode] = len(summaries)
			summaries = append(summaries, OfferCodeSummary{Code: *purchase.OfferCode})
			at = len(summaries) - 1
		}
		summaries[at].Products = append(summaries[at].Products, purchase.ProductPermalink)
		summaries[at].TotalCents += purchase.OfferDiscountCents
	}
	return summaries
}
