package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CartLine holds one product's reserved quantity inside a cart. Quantity
// changes are always paired with an equal-and-opposite stock reservation
// delta against the catalog ledger.
type CartLine struct {
	ID                uuid.UUID       `gorm:"column:id;type:uuid;default:(gen_random_uuid());primaryKey"`
	CartID            uuid.UUID       `gorm:"column:cart_id;type:uuid;not null;uniqueIndex:idx_cart_lines_cart_product"`
	ProductID         uuid.UUID       `gorm:"column:product_id;type:uuid;not null;uniqueIndex:idx_cart_lines_cart_product"`
	Quantity          int             `gorm:"column:quantity;not null"`
	UnitPriceSnapshot decimal.Decimal `gorm:"column:unit_price_snapshot;type:numeric(12,2);not null"`
	CreatedAt         time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
