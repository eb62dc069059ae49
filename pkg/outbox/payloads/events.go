package payloads

import (
	"time"

	"github.com/angelmondragon/intlshop-backend/pkg/enums"
	"github.com/google/uuid"
)

// OrderCreatedEvent announces a new order with reserved stock.
type OrderCreatedEvent struct {
	OrderID    uuid.UUID      `json:"order_id"`
	OrderNo    string         `json:"order_no"`
	UserID     uuid.UUID      `json:"user_id"`
	ItemsCount int            `json:"items_count"`
	PayAmount  int64          `json:"pay_amount"`
	Currency   enums.Currency `json:"currency"`
	ExpireAt   time.Time      `json:"expire_at"`
}

// OrderStatusChangedEvent is emitted on every applied order transition.
type OrderStatusChangedEvent struct {
	OrderID    uuid.UUID         `json:"order_id"`
	OrderNo    string            `json:"order_no"`
	FromStatus enums.OrderStatus `json:"from_status"`
	ToStatus   enums.OrderStatus `json:"to_status"`
	Source     enums.EventSource `json:"source"`
	Note       string            `json:"note,omitempty"`
}

// PaymentStatusChangedEvent is emitted when a payment attempt changes status.
type PaymentStatusChangedEvent struct {
	PaymentID  uuid.UUID           `json:"payment_id"`
	OrderID    uuid.UUID           `json:"order_id"`
	OrderNo    string              `json:"order_no"`
	FromStatus enums.PaymentStatus `json:"from_status"`
	ToStatus   enums.PaymentStatus `json:"to_status"`
	ExternalID string              `json:"external_id,omitempty"`
	Amount     int64               `json:"amount"`
	Currency   enums.Currency      `json:"currency"`
}

// RefundStatusChangedEvent is emitted when a refund attempt changes status.
type RefundStatusChangedEvent struct {
	RefundID   uuid.UUID          `json:"refund_id"`
	RefundNo   string             `json:"refund_no"`
	PaymentID  uuid.UUID          `json:"payment_id"`
	OrderID    uuid.UUID          `json:"order_id"`
	FromStatus enums.RefundStatus `json:"from_status"`
	ToStatus   enums.RefundStatus `json:"to_status"`
	Amount     int64              `json:"amount"`
	Currency   enums.Currency     `json:"currency"`
}

// ShipmentStatusChangedEvent is emitted when a carrier event moves a shipment.
type ShipmentStatusChangedEvent struct {
	ShipmentID uuid.UUID            `json:"shipment_id"`
	ShipmentNo string               `json:"shipment_no"`
	OrderID    uuid.UUID            `json:"order_id"`
	TrackingNo string               `json:"tracking_no,omitempty"`
	FromStatus enums.ShipmentStatus `json:"from_status"`
	ToStatus   enums.ShipmentStatus `json:"to_status"`
	SubStatus  string               `json:"sub_status,omitempty"`
	EventTime  *time.Time           `json:"event_time,omitempty"`
}
