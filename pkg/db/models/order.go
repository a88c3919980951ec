package models

import (
	"time"

	"github.com/google/uuid"
)

// Order is one checkout session spanning purchases from any number of
// sellers. It is never amended once every purchase is terminal.
type Order struct {
	ID          uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	ExternalID  string     `gorm:"column:external_id;not null;uniqueIndex"`
	BuyerEmail  string     `gorm:"column:buyer_email;not null"`
	BuyerUserID *uuid.UUID `gorm:"column:buyer_user_id;type:uuid"`
	BrowserGUID string     `gorm:"column:browser_guid;not null;index"`
	IPAddress   string     `gorm:"column:ip_address"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`

	Purchases []Purchase `gorm:"foreignKey:OrderID"`
}
