package purchases

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/zandy2test/gumroad-sub034/pkg/db/models"
)

// Repository handles purchase, product and balance persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, purchase *models.Purchase) error
	Update(ctx context.Context, purchase *models.Purchase) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Purchase, error)
	// FindByIDForUpdate takes a row lock so state transitions cannot race
	// a concurrent webhook or confirm call.
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Purchase, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Purchase, error)
	ListInProgressByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Purchase, error)

	FindProductByPermalink(ctx context.Context, permalink string) (*models.Product, error)
	DecrementInventory(ctx context.Context, productID uuid.UUID, quantity int) error
	FindOfferCode(ctx context.Context, code string) (*models.OfferCode, error)

	IncrementSellerBalance(ctx context.Context, sellerID uuid.UUID, amountCents int64) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a purchase repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, purchase *models.Purchase) error {
	return r.db.WithContext(ctx).Create(purchase).Error
}

func (r *repository) Update(ctx context.Context, purchase *models.Purchase) error {
	return r.db.WithContext(ctx).Save(purchase).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Purchase, error) {
	var purchase models.Purchase
	if err := r.db.WithContext(ctx).First(&purchase, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &purchase, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Purchase, error) {
	var purchase models.Purchase
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&purchase, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &purchase, nil
}

func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Purchase, error) {
	var list []models.Purchase
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("position ASC").
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *repository) ListInProgressByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Purchase, error) {
	var list []models.Purchase
	if err := r.db.WithContext(ctx).
		Where("order_id = ? AND state = ?", orderID, "in_progress").
		Order("position ASC").
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *repository) FindProductByPermalink(ctx context.Context, permalink string) (*models.Product, error) {
	var product models.Product
	if err := r.db.WithContext(ctx).First(&product, "permalink = ?", permalink).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

// DecrementInventory only applies to products with tracked inventory;
// the guard keeps the count from going negative under concurrent buys.
func (r *repository) DecrementInventory(ctx context.Context, productID uuid.UUID, quantity int) error {
	result := r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ? AND inventory_left >= ?", productID, quantity).
		Update("inventory_left", gorm.Expr("inventory_left - ?", quantity))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) FindOfferCode(ctx context.Context, code string) (*models.OfferCode, error) {
	var offer models.OfferCode
	if err := r.db.WithContext(ctx).First(&offer, "code = ?", code).Error; err != nil {
		return nil, err
	}
	return &offer, nil
}

func (r *repository) IncrementSellerBalance(ctx context.Context, sellerID uuid.UUID, amountCents int64) error {
	balance := models.SellerBalance{SellerID: sellerID, AmountCents: amountCents}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "seller_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"amount_cents": gorm.Expr("seller_balances.amount_cents + ?", amountCents),
			}),
		}).
		Create(&balance).Error
}
