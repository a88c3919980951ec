package models

import (
	"time"

	"github.com/google/uuid"
)

// SellerBalance accumulates a seller's settled earnings in USD cents.
type SellerBalance struct {
	SellerID    uuid.UUID `gorm:"column:seller_id;type:uuid;primaryKey"`
	AmountCents int64     `gorm:"column:amount_cents;not null;default:0"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
