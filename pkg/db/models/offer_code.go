package models

import (
	"time"

	"github.com/google/uuid"
)

// OfferCode is a discount applied at purchase time. The charge core only
// reads it to rebuild discount summaries after a failed confirmation.
type OfferCode struct {
	ID              uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Code            string    `gorm:"column:code;not null;uniqueIndex"`
	AmountCents     *int64    `gorm:"column:amount_cents"`
	AmountPercent   *int      `gorm:"column:amount_percent"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
