package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/intlshop-backend/pkg/enums"
	"github.com/angelmondragon/intlshop-backend/pkg/types"
)

// Order is the aggregate root. Amounts are minor units of Currency.
type Order struct {
	ID                uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	OrderNo           string               `gorm:"column:order_no;not null;uniqueIndex"`
	UserID            uuid.UUID            `gorm:"column:user_id;type:uuid;not null;uniqueIndex:uq_orders_user_idempotency"`
	Status            enums.OrderStatus    `gorm:"column:status;not null"`
	PayStatus         enums.PaymentStatus  `gorm:"column:pay_status;not null"`
	PayChannel        enums.PaymentChannel `gorm:"column:pay_channel;not null"`
	PaymentExternalID *string              `gorm:"column:payment_external_id"`
	ActivePaymentID   *uuid.UUID           `gorm:"column:active_payment_id;type:uuid"`
	PayTime           *time.Time           `gorm:"column:pay_time"`
	ItemsCount        int                  `gorm:"column:items_count;not null"`
	TotalAmount       int64                `gorm:"column:total_amount;not null"`
	DiscountAmount    int64                `gorm:"column:discount_amount;not null"`
	ShippingAmount    int64                `gorm:"column:shipping_amount;not null"`
	TaxAmount         int64                `gorm:"column:tax_amount;not null"`
	PayAmount         int64                `gorm:"column:pay_amount;not null"`
	Currency          enums.Currency       `gorm:"column:currency;not null"`
	AddressSnapshot   types.Address        `gorm:"column:address_snapshot;type:jsonb;not null"`
	AddressChanged    bool                 `gorm:"column:address_changed;not null;default:false"`
	CancelReason      *string              `gorm:"column:cancel_reason"`
	CancelTime        *time.Time           `gorm:"column:cancel_time"`
	RefundReason      *string              `gorm:"column:refund_reason"`
	IdempotencyKey    *string              `gorm:"column:idempotency_key;uniqueIndex:uq_orders_user_idempotency"`
	CreatedAt         time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time            `gorm:"column:updated_at;autoUpdateTime"`

	Items []OrderItem `gorm:"foreignKey:OrderID;references:ID"`
}

func (Order) TableName() string { return "orders" }

// OrderItem is an immutable line of an order.
type OrderItem struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OrderID   uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	SkuID     string    `gorm:"column:sku_id;not null"`
	Title     string    `gorm:"column:title;not null"`
	Quantity  int       `gorm:"column:quantity;not null"`
	UnitPrice int64     `gorm:"column:unit_price;not null"`
	Subtotal  int64     `gorm:"column:subtotal;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (OrderItem) TableName() string { return "order_items" }

// OrderStatusLog is an append-only audit row for order transitions.
type OrderStatusLog struct {
	ID          uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	OrderID     uuid.UUID          `gorm:"column:order_id;type:uuid;not null;index"`
	FromStatus  *enums.OrderStatus `gorm:"column:from_status"`
	ToStatus    enums.OrderStatus  `gorm:"column:to_status;not null"`
	EventSource enums.EventSource  `gorm:"column:event_source;not null"`
	SourceRef   *string            `gorm:"column:source_ref"`
	Note        *string            `gorm:"column:note"`
	CreatedAt   time.Time          `gorm:"column:created_at;autoCreateTime"`
}

func (OrderStatusLog) TableName() string { return "order_status_log" }
