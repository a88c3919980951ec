package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/zandy2test/gumroad-sub034/pkg/enums"
)

// ChargeEvent records a processor webhook event against a charge. The
// kind set is closed so downstream handling can be exhaustive.
type ChargeEvent struct {
	ID                     uuid.UUID             `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Kind                   enums.ChargeEventKind `gorm:"column:kind;not null;index"`
	ProcessorTransactionID string                `gorm:"column:processor_transaction_id;not null;index"`
	ProcessorEventID       string                `gorm:"column:processor_event_id;not null;uniqueIndex"`
	FlowOfFunds            json.RawMessage       `gorm:"column:flow_of_funds;type:jsonb"`
	OccurredAt             time.Time             `gorm:"column:occurred_at;not null"`
	CreatedAt              time.Time             `gorm:"column:created_at;autoCreateTime"`
}
