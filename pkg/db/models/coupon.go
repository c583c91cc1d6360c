package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shoplane/shoplane-backend/pkg/enums"
)

// Coupon defines an order-level discount with usage limits.
// MaxDiscountAmount caps PERCENT discounts; nil means uncapped.
type Coupon struct {
	ID                  uuid.UUID          `gorm:"column:id;type:uuid;default:(gen_random_uuid());primaryKey"`
	Code                string             `gorm:"column:code;not null;uniqueIndex"`
	DiscountType        enums.DiscountType `gorm:"column:discount_type;not null"`
	DiscountValue       decimal.Decimal    `gorm:"column:discount_value;type:numeric(12,2);not null"`
	MaxDiscountAmount   *decimal.Decimal   `gorm:"column:max_discount_amount;type:numeric(12,2)"`
	MinOrderAmount      decimal.Decimal    `gorm:"column:min_order_amount;type:numeric(12,2);not null;default:0"`
	StartAt             *time.Time         `gorm:"column:start_at"`
	EndAt               *time.Time         `gorm:"column:end_at"`
	UsageLimitPerCoupon int                `gorm:"column:usage_limit_per_coupon;not null;default:0"`
	UsageLimitPerUser   int                `gorm:"column:usage_limit_per_user;not null;default:0"`
	Active              bool               `gorm:"column:active;not null;default:true"`
	CreatedAt           time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
