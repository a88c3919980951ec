package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/zandy2test/gumroad-sub034/pkg/enums"
)

// Charge is one gateway-level transaction scoped to a single seller.
// Amount fields stay nil when every constituent purchase was free or
// deferred; exactly one Charge exists per seller per order regardless.
type Charge struct {
	ID                uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID           uuid.UUID       `gorm:"column:order_id;type:uuid;not null;index"`
	SellerID          uuid.UUID       `gorm:"column:seller_id;type:uuid;not null;index"`
	MerchantAccountID *uuid.UUID      `gorm:"column:merchant_account_id;type:uuid"`
	Processor         enums.Processor `gorm:"column:processor;not null;default:'stripe'"`

	AmountCents        *int64 `gorm:"column:amount_cents"`
	GumroadAmountCents *int64 `gorm:"column:gumroad_amount_cents"`

	ProcessorTransactionID *string         `gorm:"column:processor_transaction_id;uniqueIndex"`
	ProcessorFeeCents      *int64          `gorm:"column:processor_fee_cents"`
	ProcessorFeeCurrency   *enums.Currency `gorm:"column:processor_fee_currency"`
	SettlementCurrency     enums.Currency  `gorm:"column:settlement_currency;not null;default:'usd'"`

	PaymentMethodFingerprint *string `gorm:"column:payment_method_fingerprint"`
	SetupIntentID            *string `gorm:"column:setup_intent_id"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`

	Purchases []Purchase `gorm:"foreignKey:ChargeID"`
}
