package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/zandy2test/gumroad-sub034/pkg/enums"
)

// Product is the slice of the catalog the charge core needs: enough to
// price a line item and find its seller.
type Product struct {
	ID                uuid.UUID         `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	SellerID          uuid.UUID         `gorm:"column:seller_id;type:uuid;not null;index"`
	Permalink         string            `gorm:"column:permalink;not null;uniqueIndex"`
	Name              string            `gorm:"column:name;not null"`
	PriceCents        int64             `gorm:"column:price_cents;not null"`
	Currency          enums.Currency    `gorm:"column:currency;not null;default:'usd'"`
	InventoryLeft     *int              `gorm:"column:inventory_left"`
	IsSubscription    bool              `gorm:"column:is_subscription;not null;default:false"`
	DefaultRecurrence *enums.Recurrence `gorm:"column:default_recurrence"`
	FreeTrialDays     *int              `gorm:"column:free_trial_days"`
	CreatedAt         time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
