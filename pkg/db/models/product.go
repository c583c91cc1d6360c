package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product is the catalog-owned master record. The storefront service never
// reads this table directly; it goes through the catalog HTTP API.
type Product struct {
	ID              uuid.UUID        `gorm:"column:id;type:uuid;default:(gen_random_uuid());primaryKey"`
	CategoryID      uuid.UUID        `gorm:"column:category_id;type:uuid;not null"`
	Name            string           `gorm:"column:name;not null"`
	PriceAmount     decimal.Decimal  `gorm:"column:price_amount;type:numeric(12,2);not null"`
	DiscountPrice   *decimal.Decimal `gorm:"column:discount_price;type:numeric(12,2)"`
	Blocked         bool             `gorm:"column:blocked;not null;default:false"`
	CategoryBlocked bool             `gorm:"column:category_blocked;not null;default:false"`
	CreatedAt       time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}
