package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CouponUsage is the append-only record that a coupon was applied to an
// order. The unique index on order_id enforces one coupon per order even if
// two applies race past the best-effort limit checks. Rows are deleted on
// coupon removal, never updated in place.
type CouponUsage struct {
	ID             uuid.UUID       `gorm:"column:id;type:uuid;default:(gen_random_uuid());primaryKey"`
	CouponID       uuid.UUID       `gorm:"column:coupon_id;type:uuid;not null;index"`
	OrderID        uuid.UUID       `gorm:"column:order_id;type:uuid;not null;uniqueIndex:idx_coupon_usages_order"`
	UserID         uuid.UUID       `gorm:"column:user_id;type:uuid;not null;index"`
	DiscountAmount decimal.Decimal `gorm:"column:discount_amount;type:numeric(12,2);not null"`
	UsedAt         time.Time       `gorm:"column:used_at;autoCreateTime"`
}
