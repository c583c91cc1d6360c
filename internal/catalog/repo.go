package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/shoplane/shoplane-backend/pkg/db/models"
)

// Repository owns product and stock reads plus the two ledger mutations.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds the repository to the provided DB handle.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx scopes the repository to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// FindProduct loads the catalog master record.
func (r *Repository) FindProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	if err := r.db.WithContext(ctx).First(&product, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

// FindStock loads the stock record for a product.
func (r *Repository) FindStock(ctx context.Context, productID uuid.UUID) (*models.StockRecord, error) {
	var record models.StockRecord
	if err := r.db.WithContext(ctx).First(&record, "product_id = ?", productID).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// AvailableQty returns the current stock count, treating a missing record
// as zero.
func (r *Repository) AvailableQty(ctx context.Context, productID uuid.UUID) (int, error) {
	record, err := r.FindStock(ctx, productID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return record.AvailableQty, nil
}

// DecrementStock atomically takes qty from the ledger when enough stock is
// available. It reports whether the decrement was applied; callers
// distinguish a missing record from insufficient stock themselves.
func (r *Repository) DecrementStock(ctx context.Context, productID uuid.UUID, qty int) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.StockRecord{}).
		Where("product_id = ? AND available_qty >= ?", productID, qty).
		Update("available_qty", gorm.Expr("available_qty - ?", qty))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// IncrementStock credits qty back to the ledger. A missing stock record is
// created on the fly so a release can never fail on the ledger side.
func (r *Repository) IncrementStock(ctx context.Context, productID uuid.UUID, qty int) error {
	result := r.db.WithContext(ctx).
		Model(&models.StockRecord{}).
		Where("product_id = ?", productID).
		Update("available_qty", gorm.Expr("available_qty + ?", qty))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&models.StockRecord{
		ProductID:    productID,
		AvailableQty: qty,
	}).Error
}
