package stripewebhook

import (
	"context"

	"gorm.io/gorm"

	"github.com/zandy2test/gumroad-sub034/pkg/db/models"
)

// Repository persists the charge event ledger.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, event *models.ChargeEvent) error
	ListByTransaction(ctx context.Context, processorTransactionID string) ([]models.ChargeEvent, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a charge event repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, event *models.ChargeEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) ListByTransaction(ctx context.Context, processorTransactionID string) ([]models.ChargeEvent, error) {
	var events []models.ChargeEvent
	if err := r.db.WithContext(ctx).
		Where("processor_transaction_id = ?", processorTransactionID).
		Order("occurred_at ASC").
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
