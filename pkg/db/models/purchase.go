package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/zandy2test/gumroad-sub034/pkg/enums"
)

// Purchase is one line item's realized transaction. A charged purchase
// belongs to exactly one Charge; free or deferred purchases may never
// acquire one.
type Purchase struct {
	ID                uuid.UUID           `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID           uuid.UUID           `gorm:"column:order_id;type:uuid;not null;index"`
	SellerID          uuid.UUID           `gorm:"column:seller_id;type:uuid;not null;index"`
	ChargeID          *uuid.UUID          `gorm:"column:charge_id;type:uuid;index"`
	MerchantAccountID *uuid.UUID          `gorm:"column:merchant_account_id;type:uuid"`
	LineItemUID       string              `gorm:"column:line_item_uid;not null"`
	Position          int                 `gorm:"column:position;not null"`
	ProductPermalink  string              `gorm:"column:product_permalink;not null"`
	ProductName       string              `gorm:"column:product_name;not null"`
	Quantity          int                 `gorm:"column:quantity;not null;default:1"`
	State             enums.PurchaseState `gorm:"column:state;not null;default:'in_progress';index"`

	PriceCents            int64          `gorm:"column:price_cents;not null"`
	TotalTransactionCents int64          `gorm:"column:total_transaction_cents;not null"`
	FeeCents              int64          `gorm:"column:fee_cents;not null"`
	GumroadAmountCents    int64          `gorm:"column:gumroad_amount_cents;not null"`
	TaxCents              int64          `gorm:"column:tax_cents;not null;default:0"`
	DisplayedCurrency     enums.Currency `gorm:"column:displayed_currency;not null;default:'usd'"`
	// Exchange rate fixed at pricing time so retries reprice identically.
	RateAtPurchase *string `gorm:"column:rate_at_purchase"`

	ProcessorTransactionID   *string `gorm:"column:processor_transaction_id;index"`
	PaymentMethodFingerprint *string `gorm:"column:payment_method_fingerprint"`

	IsFreeTrial            bool              `gorm:"column:is_free_trial;not null;default:false"`
	IsOriginalSubscription bool              `gorm:"column:is_original_subscription;not null;default:false"`
	IsUpgrade              bool              `gorm:"column:is_upgrade;not null;default:false"`
	Recurrence             *enums.Recurrence `gorm:"column:recurrence"`

	OfferCode          *string `gorm:"column:offer_code"`
	OfferDiscountCents int64   `gorm:"column:offer_discount_cents;not null;default:0"`
	Referrer           *string `gorm:"column:referrer"`
	ErrorMessage       *string `gorm:"column:error_message"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// RequiresImmediatePayment reports whether charging the purchase moves
// money now, as opposed to a zero total or a deferred free-trial mandate.
func (p Purchase) RequiresImmediatePayment() bool {
	if p.IsFreeTrial {
		return false
	}
	return p.TotalTransactionCents > 0
}

// DefersFirstCharge reports whether the purchase only needs a payment
// mandate now, with the first real charge happening later.
func (p Purchase) DefersFirstCharge() bool {
	return p.IsFreeTrial && p.Recurrence != nil
}
