package enums

import "fmt"

// ShipmentStatus is the coarse tracking status of a parcel.
type ShipmentStatus string

const (
	ShipmentStatusCreated           ShipmentStatus = "CREATED"
	ShipmentStatusLabelCreated      ShipmentStatus = "LABEL_CREATED"
	ShipmentStatusPickedUp          ShipmentStatus = "PICKED_UP"
	ShipmentStatusInTransit         ShipmentStatus = "IN_TRANSIT"
	ShipmentStatusCustomsProcessing ShipmentStatus = "CUSTOMS_PROCESSING"
	ShipmentStatusCustomsHold       ShipmentStatus = "CUSTOMS_HOLD"
	ShipmentStatusCustomsReleased   ShipmentStatus = "CUSTOMS_RELEASED"
	ShipmentStatusHandedOver        ShipmentStatus = "HANDED_OVER"
	ShipmentStatusOutForDelivery    ShipmentStatus = "OUT_FOR_DELIVERY"
	ShipmentStatusDelivered         ShipmentStatus = "DELIVERED"
	ShipmentStatusException         ShipmentStatus = "EXCEPTION"
	ShipmentStatusReturned          ShipmentStatus = "RETURNED"
	ShipmentStatusLost              ShipmentStatus = "LOST"
	ShipmentStatusCancelled         ShipmentStatus = "CANCELLED"
)

// shipmentPriority ranks the forward progression; divergent statuses are unranked.
var shipmentPriority = map[ShipmentStatus]int{
	ShipmentStatusCreated:           1,
	ShipmentStatusLabelCreated:      2,
	ShipmentStatusPickedUp:          3,
	ShipmentStatusInTransit:         4,
	ShipmentStatusCustomsProcessing: 5,
	ShipmentStatusCustomsHold:       6,
	ShipmentStatusCustomsReleased:   7,
	ShipmentStatusHandedOver:        8,
	ShipmentStatusOutForDelivery:    9,
	ShipmentStatusDelivered:         10,
}

var validShipmentStatuses = []ShipmentStatus{
	ShipmentStatusCreated,
	ShipmentStatusLabelCreated,
	ShipmentStatusPickedUp,
	ShipmentStatusInTransit,
	ShipmentStatusCustomsProcessing,
	ShipmentStatusCustomsHold,
	ShipmentStatusCustomsReleased,
	ShipmentStatusHandedOver,
	ShipmentStatusOutForDelivery,
	ShipmentStatusDelivered,
	ShipmentStatusException,
	ShipmentStatusReturned,
	ShipmentStatusLost,
	ShipmentStatusCancelled,
}

// String implements fmt.Stringer.
func (s ShipmentStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known ShipmentStatus.
func (s ShipmentStatus) IsValid() bool {
	for _, candidate := range validShipmentStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// Priority returns the forward rank and whether the status is ranked at all.
func (s ShipmentStatus) Priority() (int, bool) {
	p, ok := shipmentPriority[s]
	return p, ok
}

// IsFinal reports whether no further carrier event may move the shipment.
func (s ShipmentStatus) IsFinal() bool {
	switch s {
	case ShipmentStatusDelivered, ShipmentStatusReturned, ShipmentStatusLost,
		ShipmentStatusCancelled, ShipmentStatusException:
		return true
	default:
		return false
	}
}

// ParseShipmentStatus converts raw input into a ShipmentStatus.
func ParseShipmentStatus(value string) (ShipmentStatus, error) {
	for _, candidate := range validShipmentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid shipment status %q", value)
}
