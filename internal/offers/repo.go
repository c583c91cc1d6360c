package offers

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/shoplane/shoplane-backend/pkg/db/models"
	"github.com/shoplane/shoplane-backend/pkg/enums"
)

// Repository reads offer definitions. The offer engine never writes.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds the repository to the provided DB handle.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// ActiveProductOffers lists active PRODUCT-scoped offers for a product.
func (r *Repository) ActiveProductOffers(ctx context.Context, productID uuid.UUID) ([]models.Offer, error) {
	var offers []models.Offer
	err := r.db.WithContext(ctx).
		Where("scope = ? AND product_id = ? AND active = ?", enums.OfferScopeProduct, productID, true).
		Find(&offers).Error
	return offers, err
}

// ActiveCategoryOffers lists active CATEGORY-scoped offers for a category.
func (r *Repository) ActiveCategoryOffers(ctx context.Context, categoryID uuid.UUID) ([]models.Offer, error) {
	var offers []models.Offer
	err := r.db.WithContext(ctx).
		Where("scope = ? AND category_id = ? AND active = ?", enums.OfferScopeCategory, categoryID, true).
		Find(&offers).Error
	return offers, err
}
