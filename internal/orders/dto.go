package orders

import (
	"github.com/google/uuid"

	"github.com/zandy2test/gumroad-sub034/internal/purchases"
	"github.com/zandy2test/gumroad-sub034/pkg/enums"
)

// CreateParams is one checkout submission: buyer identity plus the cart's
// line items in display order.
type CreateParams struct {
	BuyerEmail  string
	BuyerUserID *uuid.UUID
	BrowserGUID string
	IPAddress   string
	LineItems   []LineItemParams
}

// LineItemParams mirrors the front-end's line item shape.
type LineItemParams struct {
	UID                 string
	Permalink           string
	Quantity            int
	PerceivedPriceCents int64
	TaxCents            int64
	IsFreeTrial         bool
	IsUpgrade           bool
	Recurrence          *enums.Recurrence
	OfferCode           *string
	Referrer            *string
}

// CreationResult pairs the created order with per-line-item outcomes.
// Rejected line items carry a stable error code; accepted ones carry the
// purchase projection.
type CreationResult struct {
	OrderID         uuid.UUID            `json:"order_id"`
	OrderExternalID string               `json:"order_external_id"`
	LineItems       []LineItemResponse   `json:"line_items"`
}

// LineItemResponse reports one line item's creation outcome.
type LineItemResponse struct {
	UID          string                `json:"uid"`
	Success      bool                  `json:"success"`
	ErrorCode    string                `json:"error_code,omitempty"`
	ErrorMessage string                `json:"error_message,omitempty"`
	Purchase     *purchases.Projection `json:"purchase,omitempty"`
}

// OrderRef identifies the order inside a step-up response so the client
// can hand the processor the right connected account.
type OrderRef struct {
	ID                     uuid.UUID `json:"id"`
	ExternalID             string    `json:"external_id"`
	StripeConnectAccountID string    `json:"stripe_connect_account_id,omitempty"`
}

// ChargeResponse is one purchase's charge outcome: a success projection,
// a step-up continuation, or a failure message. Responses preserve the
// order's line item submission order.
type ChargeResponse struct {
	LineItemUID string    `json:"line_item_uid"`
	PurchaseID  uuid.UUID `json:"purchase_id"`
	Success     bool      `json:"success"`

	Purchase *purchases.Projection `json:"purchase,omitempty"`

	RequiresCardAction bool      `json:"requires_card_action,omitempty"`
	ClientSecret       string    `json:"client_secret,omitempty"`
	Order              *OrderRef `json:"order,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
}

// ConfirmParams carries the client's step-up completion callback.
type ConfirmParams struct {
	ClientSecret string
	ErrorMessage *string
}

// OfferCodeSummary lets the client re-render a discount after a failed
// confirmation without re-deriving which products it applied to.
type OfferCodeSummary struct {
	Code       string   `json:"code"`
	Products   []string `json:"products"`
	TotalCents int64    `json:"discount_cents"`
}

// RefundParams requests a refund against a successful purchase.
type RefundParams struct {
	PurchaseID  uuid.UUID
	AmountCents *int64
}
