package merchants

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zandy2test/gumroad-sub034/pkg/db/models"
	"github.com/zandy2test/gumroad-sub034/pkg/enums"
)

// Repository handles merchant account persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, account *models.MerchantAccount) error
	FindBySeller(ctx context.Context, sellerID uuid.UUID) (*models.MerchantAccount, error)
	FindBySellerAndProcessor(ctx context.Context, sellerID uuid.UUID, processor enums.Processor) (*models.MerchantAccount, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a merchant account repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, account *models.MerchantAccount) error {
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *repository) FindBySeller(ctx context.Context, sellerID uuid.UUID) (*models.MerchantAccount, error) {
	var account models.MerchantAccount
	if err := r.db.WithContext(ctx).
		Where("seller_id = ?", sellerID).
		Order("created_at ASC").
		First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repository) FindBySellerAndProcessor(ctx context.Context, sellerID uuid.UUID, processor enums.Processor) (*models.MerchantAccount, error) {
	var account models.MerchantAccount
	if err := r.db.WithContext(ctx).
		Where("seller_id = ? AND processor = ?", sellerID, processor).
		First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}
