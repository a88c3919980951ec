package purchases

import (
	"github.com/google/uuid"

	"github.com/zandy2test/gumroad-sub034/pkg/enums"
)

// Stable per-line-item error codes surfaced to the checkout client.
const (
	ErrCodeInvalidQuantity      = "invalid_quantity"
	ErrCodeProductNotFound      = "product_not_found"
	ErrCodeInventoryExhausted   = "inventory_exhausted"
	ErrCodePriceMismatch        = "price_mismatch"
	ErrCodeOfferCodeInvalid     = "offer_code_invalid"
	ErrCodeFreeTrialUnavailable = "free_trial_unavailable"
)

// CreateParams describes one line item of a checkout submission.
type CreateParams struct {
	OrderID     uuid.UUID
	LineItemUID string
	Position    int

	Permalink           string
	Quantity            int
	PerceivedPriceCents int64
	TaxCents            int64

	IsFreeTrial bool
	IsUpgrade   bool
	Recurrence  *enums.Recurrence

	OfferCode *string
	Referrer  *string
}

// Projection is the public shape of a purchase in API responses.
type Projection struct {
	ID                uuid.UUID           `json:"id"`
	LineItemUID       string              `json:"line_item_uid"`
	ProductPermalink  string              `json:"product_permalink"`
	ProductName       string              `json:"product_name"`
	State             enums.PurchaseState `json:"state"`
	PriceCents        int64               `json:"price_cents"`
	TotalCents        int64               `json:"total_transaction_cents"`
	FeeCents          int64               `json:"fee_cents"`
	DisplayedCurrency enums.Currency      `json:"currency"`
	Quantity          int                 `json:"quantity"`
	IsFreeTrial       bool                `json:"is_free_trial"`
	Recurrence        *enums.Recurrence   `json:"recurrence,omitempty"`
}
