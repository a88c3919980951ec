package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zandy2test/gumroad-sub034/pkg/db/models"
)

// Repository handles order and charge persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByExternalID(ctx context.Context, externalID string) (*models.Order, error)
	// FindRecentByBrowserGUID returns the newest other order submitted by
	// the same browser within the window, for double-submit detection.
	FindRecentByBrowserGUID(ctx context.Context, browserGUID string, excludeOrderID uuid.UUID, window time.Duration) (*models.Order, error)

	CreateCharge(ctx context.Context, charge *models.Charge) error
	UpdateCharge(ctx context.Context, charge *models.Charge) error
	FindChargeByOrderAndSeller(ctx context.Context, orderID, sellerID uuid.UUID) (*models.Charge, error)
	FindChargeBySetupIntent(ctx context.Context, orderID uuid.UUID, setupIntentID string) (*models.Charge, error)
	FindChargeByID(ctx context.Context, id uuid.UUID) (*models.Charge, error)
	ListChargesByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Charge, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an order repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Preload("Purchases", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		First(&order, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByExternalID(ctx context.Context, externalID string) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Preload("Purchases", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		First(&order, "external_id = ?", externalID).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindRecentByBrowserGUID(ctx context.Context, browserGUID string, excludeOrderID uuid.UUID, window time.Duration) (*models.Order, error) {
	cutoff := time.Now().UTC().Add(-window)
	var order models.Order
	if err := r.db.WithContext(ctx).
		Where("browser_guid = ? AND id <> ? AND created_at >= ?", browserGUID, excludeOrderID, cutoff).
		Order("created_at DESC").
		First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) CreateCharge(ctx context.Context, charge *models.Charge) error {
	return r.db.WithContext(ctx).Create(charge).Error
}

func (r *repository) UpdateCharge(ctx context.Context, charge *models.Charge) error {
	return r.db.WithContext(ctx).Save(charge).Error
}

func (r *repository) FindChargeByOrderAndSeller(ctx context.Context, orderID, sellerID uuid.UUID) (*models.Charge, error) {
	var charge models.Charge
	if err := r.db.WithContext(ctx).
		First(&charge, "order_id = ? AND seller_id = ?", orderID, sellerID).Error; err != nil {
		return nil, err
	}
	return &charge, nil
}

func (r *repository) FindChargeBySetupIntent(ctx context.Context, orderID uuid.UUID, setupIntentID string) (*models.Charge, error) {
	var charge models.Charge
	if err := r.db.WithContext(ctx).
		First(&charge, "order_id = ? AND setup_intent_id = ?", orderID, setupIntentID).Error; err != nil {
		return nil, err
	}
	return &charge, nil
}

func (r *repository) FindChargeByID(ctx context.Context, id uuid.UUID) (*models.Charge, error) {
	var charge models.Charge
	if err := r.db.WithContext(ctx).First(&charge, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &charge, nil
}

func (r *repository) ListChargesByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Charge, error) {
	var charges []models.Charge
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&charges).Error; err != nil {
		return nil, err
	}
	return charges, nil
}
