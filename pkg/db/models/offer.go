package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shoplane/shoplane-backend/pkg/enums"
)

// Offer is a time-bounded product- or category-scoped discount. ProductID is
// set for PRODUCT scope, CategoryID for CATEGORY scope. Nil StartAt/EndAt
// leave that side of the window open.
type Offer struct {
	ID            uuid.UUID          `gorm:"column:id;type:uuid;default:(gen_random_uuid());primaryKey"`
	Scope         enums.OfferScope   `gorm:"column:scope;not null"`
	ProductID     *uuid.UUID         `gorm:"column:product_id;type:uuid;index"`
	CategoryID    *uuid.UUID         `gorm:"column:category_id;type:uuid;index"`
	DiscountType  enums.DiscountType `gorm:"column:discount_type;not null"`
	DiscountValue decimal.Decimal    `gorm:"column:discount_value;type:numeric(12,2);not null"`
	Active        bool               `gorm:"column:active;not null;default:true"`
	StartAt       *time.Time         `gorm:"column:start_at"`
	EndAt         *time.Time         `gorm:"column:end_at"`
	CreatedAt     time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
