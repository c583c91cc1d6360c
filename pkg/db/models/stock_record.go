package models

import (
	"time"

	"github.com/google/uuid"
)

// StockRecord holds the per-product stock count. Mutated only through the
// reserve/release ledger operations; AvailableQty never goes negative.
type StockRecord struct {
	ProductID    uuid.UUID `gorm:"column:product_id;type:uuid;primaryKey"`
	AvailableQty int       `gorm:"column:available_qty;not null;default:0"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
