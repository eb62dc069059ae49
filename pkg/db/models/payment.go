package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/intlshop-backend/pkg/enums"
)

// PaymentOrder is one payment attempt for an order.
type PaymentOrder struct {
	ID              uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	OrderID         uuid.UUID            `gorm:"column:order_id;type:uuid;not null;index"`
	OrderNo         string               `gorm:"column:order_no;not null"`
	UserID          uuid.UUID            `gorm:"column:user_id;type:uuid;not null"`
	Channel         enums.PaymentChannel `gorm:"column:channel;not null"`
	ExternalID      *string              `gorm:"column:external_id;uniqueIndex"`
	CaptureID       *string              `gorm:"column:capture_id"`
	Amount          int64                `gorm:"column:amount;not null"`
	Currency        enums.Currency       `gorm:"column:currency;not null"`
	Status          enums.PaymentStatus  `gorm:"column:status;not null"`
	RequestPayload  *string              `gorm:"column:request_payload"`
	ResponsePayload *string              `gorm:"column:response_payload"`
	NotifyPayload   *string              `gorm:"column:notify_payload"`
	LastPolledAt    *time.Time           `gorm:"column:last_polled_at"`
	LastNotifiedAt  *time.Time           `gorm:"column:last_notified_at"`
	CreatedAt       time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (PaymentOrder) TableName() string { return "payment_orders" }

// PaymentRefund is one refund attempt against a captured payment.
type PaymentRefund struct {
	ID               uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	RefundNo         string                 `gorm:"column:refund_no;not null;uniqueIndex"`
	OrderID          uuid.UUID              `gorm:"column:order_id;type:uuid;not null;index"`
	PaymentOrderID   uuid.UUID              `gorm:"column:payment_order_id;type:uuid;not null;index"`
	ExternalRefundID *string                `gorm:"column:external_refund_id;uniqueIndex"`
	ClientRefundNo   string                 `gorm:"column:client_refund_no;not null;uniqueIndex"`
	Amount           int64                  `gorm:"column:amount;not null"`
	ItemsAmount      int64                  `gorm:"column:items_amount;not null;default:0"`
	ShippingAmount   int64                  `gorm:"column:shipping_amount;not null;default:0"`
	Currency         enums.Currency         `gorm:"column:currency;not null"`
	Status           enums.RefundStatus     `gorm:"column:status;not null"`
	ReasonCode       enums.RefundReasonCode `gorm:"column:reason_code;not null"`
	ReasonText       *string                `gorm:"column:reason_text"`
	Initiator        enums.RefundInitiator  `gorm:"column:initiator;not null"`
	RequestPayload   *string                `gorm:"column:request_payload"`
	ResponsePayload  *string                `gorm:"column:response_payload"`
	NotifyPayload    *string                `gorm:"column:notify_payload"`
	LastPolledAt     *time.Time             `gorm:"column:last_polled_at"`
	LastNotifiedAt   *time.Time             `gorm:"column:last_notified_at"`
	CreatedAt        time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

func (PaymentRefund) TableName() string { return "payment_refunds" }
