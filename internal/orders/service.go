package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zandy2test/gumroad-sub034/internal/currency"
	"github.com/zandy2test/gumroad-sub034/internal/gateway"
	"github.com/zandy2test/gumroad-sub034/internal/merchants"
	"github.com/zandy2test/gumroad-sub034/internal/purchases"
	"github.com/zandy2test/gumroad-sub034/pkg/config"
	"github.com/zandy2test/gumroad-sub034/pkg/db/models"
	"github.com/zandy2test/gumroad-sub034/pkg/enums"
	pkgerrors "github.com/zandy2test/gumroad-sub034/pkg/errors"
	"github.com/zandy2test/gumroad-sub034/pkg/logger"
	"github.com/zandy2test/gumroad-sub034/pkg/metrics"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type adapterRegistry interface {
	For(processor enums.Processor) (gateway.Adapter, error)
}

type attemptStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	ChargeAttemptKey(orderID, sellerID, fingerprint string) string
}

// Service is the order charging core: creation, per-seller charging,
// step-up confirmation, and refunds.
type Service interface {
	Create(ctx context.Context, params CreateParams) (*CreationResult, error)
	Get(ctx context.Context, externalID string) (*models.Order, error)
	Charge(ctx context.Context, params ChargeOrderParams) ([]ChargeResponse, error)
	Confirm(ctx context.Context, orderID uuid.UUID, params ConfirmParams) ([]ChargeResponse, []OfferCodeSummary, error)
	Refund(ctx context.Context, params RefundParams) (*gateway.RefundResult, error)
}

// ChargeOrderParams carries the payment method for one charge pass.
type ChargeOrderParams struct {
	OrderID         uuid.UUID
	PaymentMethodID string
	CustomerID      string
	BrowserGUID     string
}

// ServiceParams wires the orchestrator's collaborators.
type ServiceParams struct {
	Repo         Repository
	PurchaseRepo purchases.Repository
	PurchaseSvc  purchases.Service
	Merchants    merchants.Service
	Gateways     adapterRegistry
	Converter    currency.Converter
	Attempts     attemptStore
	Tx           txRunner
	Checkout     config.CheckoutConfig
	Logger       *logger.Logger
	Metrics      *metrics.ChargeMetrics
}

type service struct {
	repo         Repository
	purchaseRepo purchases.Repository
	purchaseSvc  purchases.Service
	merchants    merchants.Service
	gateways     adapterRegistry
	converter    currency.Converter
	attempts     attemptStore
	tx           txRunner
	cfg          config.CheckoutConfig
	logg         *logger.Logger
	metrics      *metrics.ChargeMetrics
}

// NewService builds the order service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if params.PurchaseRepo == nil {
		return nil, fmt.Errorf("purchase repository is required")
	}
	if params.PurchaseSvc == nil {
		return nil, fmt.Errorf("purchase service is required")
	}
	if params.Merchants == nil {
		return nil, fmt.Errorf("merchant registry is required")
	}
	if params.Gateways == nil {
		return nil, fmt.Errorf("gateway registry is required")
	}
	if params.Converter == nil {
		return nil, fmt.Errorf("currency converter is required")
	}
	if params.Attempts == nil {
		return nil, fmt.Errorf("attempt store is required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &service{
		repo:         params.Repo,
		purchaseRepo: params.PurchaseRepo,
		purchaseSvc:  params.PurchaseSvc,
		merchants:    params.Merchants,
		gateways:     params.Gateways,
		converter:    params.Converter,
		attempts:     params.Attempts,
		tx:           params.Tx,
		cfg:          params.Checkout,
		logg:         params.Logger,
		metrics:      params.Metrics,
	}, nil
}

// Create opens a checkout session: an order row plus one in-progress
// purchase per accepted line item. Rejected line items do not abort the
// order; they come back with a stable error code.
func (s *service) Create(ctx context.Context, params CreateParams) (*CreationResult, error) {
	if strings.TrimSpace(params.BuyerEmail) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer email is required")
	}
	if len(params.LineItems) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one line item is required")
	}

	order := &models.Order{
		ExternalID:  uuid.NewString(),
		BuyerEmail:  params.BuyerEmail,
		BuyerUserID: params.BuyerUserID,
		BrowserGUID: params.BrowserGUID,
		IPAddress:   params.IPAddress,
	}
	if err := s.repo.Create(ctx, order); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating order")
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())

	responses := make([]LineItemResponse, 0, len(params.LineItems))
	for position, item := range params.LineItems {
		purchase, err := s.purchaseSvc.Create(ctx, purchases.CreateParams{
			OrderID:             order.ID,
			LineItemUID:         item.UID,
			Position:            position,
			Permalink:           item.Permalink,
			Quantity:            item.Quantity,
			PerceivedPriceCents: item.PerceivedPriceCents,
			TaxCents:            item.TaxCents,
			IsFreeTrial:         item.IsFreeTrial,
			IsUpgrade:           item.IsUpgrade,
			Recurrence:          item.Recurrence,
			OfferCode:           item.OfferCode,
			Referrer:            item.Referrer,
		})
		if err != nil {
			code := purchases.LineItemErrorCode(err)
			if code == "" {
				return nil, err
			}
			responses = append(responses, LineItemResponse{
				UID:          item.UID,
				Success:      false,
				ErrorCode:    code,
				ErrorMessage: pkgerrors.As(err).Message(),
			})
			continue
		}
		responses = append(responses, LineItemResponse{
			UID:      item.UID,
			Success:  true,
			Purchase: projectionOf(purchase),
		})
	}

	return &CreationResult{
		OrderID:         order.ID,
		OrderExternalID: order.ExternalID,
		LineItems:       responses,
	}, nil
}

func (s *service) Get(ctx context.Context, externalID string) (*models.Order, error) {
	if strings.TrimSpace(externalID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	order, err := s.repo.FindByExternalID(ctx, externalID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up order")
	}
	return order, nil
}

func projectionOf(purchase *models.Purchase) *purchases.Projection {
	return &purchases.Projection{
		ID:                purchase.ID,
		LineItemUID:       purchase.LineItemUID,
		ProductPermalink:  purchase.ProductPermalink,
		ProductName:       purchase.ProductName,
		State:             purchase.State,
		PriceCents:        purchase.PriceCents,
		TotalCents:        purchase.TotalTransactionCents,
		FeeCents:          purchase.FeeCents,
		DisplayedCurrency: purchase.DisplayedCurrency,
		Quantity:          purchase.Quantity,
		IsFreeTrial:       purchase.IsFreeTrial,
		Recurrence:        purchase.Recurrence,
	}
}
