package models

import (
	"time"

	"github.com/google/uuid"
)

// Cart is created lazily on the first add and never deleted, only emptied.
type Cart struct {
	ID        uuid.UUID  `gorm:"column:id;type:uuid;default:(gen_random_uuid());primaryKey"`
	UserID    uuid.UUID  `gorm:"column:user_id;type:uuid;not null;uniqueIndex"`
	Lines     []CartLine `gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
