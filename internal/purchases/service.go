package purchases

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/zandy2test/gumroad-sub034/pkg/config"
	"github.com/zandy2test/gumroad-sub034/pkg/db/models"
	"github.com/zandy2test/gumroad-sub034/pkg/enums"
	pkgerrors "github.com/zandy2test/gumroad-sub034/pkg/errors"
	"github.com/zandy2test/gumroad-sub034/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service creates in-progress purchases from checkout line items.
type Service interface {
	Create(ctx context.Context, params CreateParams) (*models.Purchase, error)
}

type service struct {
	repo Repository
	tx   txRunner
	cfg  config.CheckoutConfig
	logg *logger.Logger
}

// NewService builds the purchase creation service.
func NewService(repo Repository, tx txRunner, cfg config.CheckoutConfig, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if tx == nil {
		return nil, fmt.Errorf("tx runner is required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &service{repo: repo, tx: tx, cfg: cfg, logg: logg}, nil
}

func (s *service) Create(ctx context.Context, params CreateParams) (*models.Purchase, error) {
	if params.Quantity < 1 {
		return nil, lineItemError(ErrCodeInvalidQuantity, "quantity must be at least 1")
	}
	if strings.TrimSpace(params.Permalink) == "" {
		return nil, lineItemError(ErrCodeProductNotFound, "product permalink is required")
	}

	product, err := s.repo.FindProductByPermalink(ctx, params.Permalink)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, lineItemError(ErrCodeProductNotFound, fmt.Sprintf("product %q not found", params.Permalink))
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up product")
	}

	if product.InventoryLeft != nil && *product.InventoryLeft < params.Quantity {
		return nil, lineItemError(ErrCodeInventoryExhausted, fmt.Sprintf("only %d left of %q", *product.InventoryLeft, product.Name))
	}

	if params.IsFreeTrial && (!product.IsSubscription || product.FreeTrialDays == nil) {
		return nil, lineItemError(ErrCodeFreeTrialUnavailable, fmt.Sprintf("product %q does not offer a free trial", product.Name))
	}

	priceCents := product.PriceCents * int64(params.Quantity)
	discountCents := int64(0)
	if params.OfferCode != nil && *params.OfferCode != "" {
		offer, err := s.repo.FindOfferCode(ctx, *params.OfferCode)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, lineItemError(ErrCodeOfferCodeInvalid, fmt.Sprintf("offer code %q is invalid", *params.OfferCode))
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up offer code")
		}
		discountCents = discountFor(offer, priceCents)
	}
	priceCents -= discountCents
	if priceCents < 0 {
		priceCents = 0
	}

	// The client asserts the price it displayed; a drift beyond tolerance
	// means stale pricing and the line item is rejected rather than
	// silently charged a different amount.
	if diff := params.PerceivedPriceCents - priceCents; diff > s.cfg.PriceToleranceCents || diff < -s.cfg.PriceToleranceCents {
		return nil, lineItemError(ErrCodePriceMismatch,
			fmt.Sprintf("the price of %q has changed, please review your cart", product.Name))
	}

	feeCents := PlatformFeeCents(priceCents)
	recurrence := params.Recurrence
	if recurrence == nil && product.IsSubscription {
		recurrence = product.DefaultRecurrence
	}

	purchase := &models.Purchase{
		OrderID:               params.OrderID,
		SellerID:              product.SellerID,
		LineItemUID:           params.LineItemUID,
		Position:              params.Position,
		ProductPermalink:      product.Permalink,
		ProductName:           product.Name,
		Quantity:              params.Quantity,
		State:                 enums.PurchaseStateInProgress,
		PriceCents:            priceCents,
		TaxCents:              params.TaxCents,
		TotalTransactionCents: priceCents + params.TaxCents,
		FeeCents:              feeCents,
		GumroadAmountCents:    feeCents,
		DisplayedCurrency:     product.Currency,
		IsFreeTrial:           params.IsFreeTrial,
		IsUpgrade:             params.IsUpgrade,
		Recurrence:            recurrence,
		Referrer:              params.Referrer,
		OfferDiscountCents:    discountCents,
	}
	if params.OfferCode != nil && *params.OfferCode != "" {
		purchase.OfferCode = params.OfferCode
	}
	if product.IsSubscription && recurrence != nil {
		purchase.IsOriginalSubscription = true
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if product.InventoryLeft != nil {
			if err := repo.DecrementInventory(ctx, product.ID, params.Quantity); err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return lineItemError(ErrCodeInventoryExhausted, fmt.Sprintf("%q just sold out", product.Name))
				}
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reserving inventory")
			}
		}
		if err := repo.Create(ctx, purchase); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating purchase")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return purchase, nil
}

func discountFor(offer *models.OfferCode, priceCents int64) int64 {
	if offer.AmountCents != nil {
		if *offer.AmountCents > priceCents {
			return priceCents
		}
		return *offer.AmountCents
	}
	if offer.AmountPercent != nil {
		return priceCents * int64(*offer.AmountPercent) / 100
	}
	return 0
}

func lineItemError(code, message string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, message).
		WithDetails(map[string]string{"error_code": code})
}

// LineItemErrorCode extracts the stable error code from a creation
// failure, or empty when the error is not a line-item rejection.
func LineItemErrorCode(err error) string {
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		return ""
	}
	details, ok := typed.Details().(map[string]string)
	if !ok {
		return ""
	}
	return details["error_code"]
}

// ApplyTransition enforces the purchase state machine: terminal states
// never transition again, and in_progress may only move to a terminal
// state. The caller persists the mutation.
func ApplyTransition(purchase *models.Purchase, next enums.PurchaseState, errorMessage *string) error {
	if purchase == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "purchase is nil")
	}
	if !next.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid purchase state %q", next))
	}
	if purchase.State.IsTerminal() {
		if purchase.State == next {
			return nil
		}
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("purchase %s is already %s", purchase.ID, purchase.State))
	}
	if next == enums.PurchaseStateInProgress {
		return nil
	}
	purchase.State = next
	if next == enums.PurchaseStateFailed {
		purchase.ErrorMessage = errorMessage
	}
	return nil
}
