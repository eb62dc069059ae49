package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/intlshop-backend/pkg/enums"
	"github.com/angelmondragon/intlshop-backend/pkg/types"
)

// Shipment is one parcel of an order.
type Shipment struct {
	ID            uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	ShipmentNo    string               `gorm:"column:shipment_no;not null;uniqueIndex"`
	OrderID       uuid.UUID            `gorm:"column:order_id;type:uuid;not null;index"`
	CarrierCode   *string              `gorm:"column:carrier_code"`
	TrackingNo    *string              `gorm:"column:tracking_no;uniqueIndex"`
	Status        enums.ShipmentStatus `gorm:"column:status;not null"`
	ShipTo        types.Address        `gorm:"column:ship_to;type:jsonb;not null"`
	CustomsInfo   *string              `gorm:"column:customs_info"`
	PickupTime    *time.Time           `gorm:"column:pickup_time"`
	DeliveredTime *time.Time           `gorm:"column:delivered_time"`
	LastPolledAt  *time.Time           `gorm:"column:last_polled_at"`
	CreatedAt     time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (Shipment) TableName() string { return "shipments" }

// ShipmentStatusLog is the append-only carrier event trail. The
// (shipment_id, event_source, source_ref) index fences replays.
type ShipmentStatusLog struct {
	ID          uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	ShipmentID  uuid.UUID             `gorm:"column:shipment_id;type:uuid;not null;uniqueIndex:uq_shipment_log_source"`
	FromStatus  *enums.ShipmentStatus `gorm:"column:from_status"`
	ToStatus    enums.ShipmentStatus  `gorm:"column:to_status;not null"`
	EventSource enums.EventSource     `gorm:"column:event_source;not null;uniqueIndex:uq_shipment_log_source"`
	SourceRef   string                `gorm:"column:source_ref;not null;uniqueIndex:uq_shipment_log_source"`
	SubStatus   *string               `gorm:"column:sub_status"`
	EventTime   *time.Time            `gorm:"column:event_time"`
	RawPayload  *string               `gorm:"column:raw_payload"`
	Note        *string               `gorm:"column:note"`
	CreatedAt   time.Time             `gorm:"column:created_at;autoCreateTime"`
}

func (ShipmentStatusLog) TableName() string { return "shipment_status_log" }
