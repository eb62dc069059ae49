package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/intlshop-backend/pkg/enums"
)

// SkuStock holds sellable units per SKU.
type SkuStock struct {
	SkuID     string    `gorm:"column:sku_id;primaryKey"`
	Available int       `gorm:"column:available;not null;default:0"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (SkuStock) TableName() string { return "sku_stock" }

// InventoryLog is the append-only stock ledger. One row per (order, sku, change type).
type InventoryLog struct {
	ID         uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	OrderID    uuid.UUID                 `gorm:"column:order_id;type:uuid;not null;uniqueIndex:uq_inventory_log_effect"`
	SkuID      string                    `gorm:"column:sku_id;not null;uniqueIndex:uq_inventory_log_effect"`
	ChangeType enums.InventoryChangeType `gorm:"column:change_type;not null;uniqueIndex:uq_inventory_log_effect"`
	Quantity   int                       `gorm:"column:quantity;not null"`
	CreatedAt  time.Time                 `gorm:"column:created_at;autoCreateTime"`
}

func (InventoryLog) TableName() string { return "inventory_log" }
