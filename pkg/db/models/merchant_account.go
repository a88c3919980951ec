package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/zandy2test/gumroad-sub034/pkg/enums"
)

// MerchantAccount ties a seller to a processor account and its
// settlement currency.
type MerchantAccount struct {
	ID                  uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	SellerID            uuid.UUID       `gorm:"column:seller_id;type:uuid;not null;index"`
	Processor           enums.Processor `gorm:"column:processor;not null"`
	ProcessorMerchantID string          `gorm:"column:processor_merchant_id;not null"`
	SettlementCurrency  enums.Currency  `gorm:"column:settlement_currency;not null;default:'usd'"`
	Country             string          `gorm:"column:country;not null;default:'US'"`
	AliveAt             *time.Time      `gorm:"column:alive_at"`
	CreatedAt           time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// WaivesPlatformFee reports whether the platform's cut is forced to zero
// for this account. Brazilian Connect accounts charge the gross amount
// but the platform takes nothing at charge time.
func (m MerchantAccount) WaivesPlatformFee() bool {
	return m.Country == "BR"
}
