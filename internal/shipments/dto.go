package shipments

import (
	"time"

	"github.com/angelmondragon/intlshop-backend/pkg/db/models"
	"github.com/angelmondragon/intlshop-backend/pkg/enums"
	"github.com/angelmondragon/intlshop-backend/pkg/types"
)

// ShipmentView is the API projection of a shipment.
type ShipmentView struct {
	ShipmentNo    string               `json:"shipment_no"`
	CarrierCode   *string              `json:"carrier_code,omitempty"`
	TrackingNo    *string              `json:"tracking_no,omitempty"`
	Status        enums.ShipmentStatus `json:"status"`
	ShipTo        types.Address        `json:"ship_to"`
	PickupTime    *time.Time           `json:"pickup_time,omitempty"`
	DeliveredTime *time.Time           `json:"delivered_time,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
}

func NewShipmentView(s *models.Shipment) ShipmentView {
	return ShipmentView{
		ShipmentNo:    s.ShipmentNo,
		CarrierCode:   s.CarrierCode,
		TrackingNo:    s.TrackingNo,
		Status:        s.Status,
		ShipTo:        s.ShipTo,
		PickupTime:    s.PickupTime,
		DeliveredTime: s.DeliveredTime,
		CreatedAt:     s.CreatedAt,
	}
}
