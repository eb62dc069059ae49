package shipments

import (
	"fmt"
	"strings"

	"github.com/angelmondragon/intlshop-backend/pkg/enums"
)

// predecessors lists, per target, the statuses a forward move may start from.
// Divergent targets (delivered, exception, returned, lost, cancelled) accept
// any non-final status and are handled in CanTransit.
var predecessors = map[enums.ShipmentStatus][]enums.ShipmentStatus{
	enums.ShipmentStatusLabelCreated: {enums.ShipmentStatusCreated},
	enums.ShipmentStatusPickedUp:     {enums.ShipmentStatusLabelCreated},
	enums.ShipmentStatusInTransit:    {enums.ShipmentStatusLabelCreated, enums.ShipmentStatusPickedUp},
	enums.ShipmentStatusCustomsProcessing: {
		enums.ShipmentStatusInTransit,
		enums.ShipmentStatusHandedOver,
	},
	enums.ShipmentStatusCustomsHold: {
		enums.ShipmentStatusCustomsProcessing,
		enums.ShipmentStatusInTransit,
	},
	enums.ShipmentStatusCustomsReleased: {
		enums.ShipmentStatusCustomsProcessing,
		enums.ShipmentStatusCustomsHold,
		enums.ShipmentStatusInTransit,
	},
	enums.ShipmentStatusHandedOver: {
		enums.ShipmentStatusInTransit,
		enums.ShipmentStatusCustomsReleased,
	},
	enums.ShipmentStatusOutForDelivery: {
		enums.ShipmentStatusHandedOver,
		enums.ShipmentStatusInTransit,
		enums.ShipmentStatusCustomsReleased,
	},
}

var fromAnyOpen = map[enums.ShipmentStatus]bool{
	enums.ShipmentStatusDelivered: true,
	enums.ShipmentStatusException: true,
	enums.ShipmentStatusReturned:  true,
	enums.ShipmentStatusLost:      true,
	enums.ShipmentStatusCancelled: true,
}

// CanTransit reports whether a carrier event may move a shipment from one
// status to another. The error explains a refusal.
func CanTransit(from, to enums.ShipmentStatus) error {
	if from.IsFinal() {
		return fmt.Errorf("shipment is final in %s", from)
	}
	if from == to {
		return fmt.Errorf("shipment already %s", to)
	}
	if fp, ok := from.Priority(); ok {
		if tp, ok := to.Priority(); ok && tp < fp {
			return fmt.Errorf("backwards move %s -> %s", from, to)
		}
	}
	if fromAnyOpen[to] {
		return nil
	}
	for _, allowed := range predecessors[to] {
		if allowed == from {
			return nil
		}
	}
	return fmt.Errorf("illegal move %s -> %s", from, to)
}

// Decision is what a carrier sub-status means for a given current status.
type Decision struct {
	Target      enums.ShipmentStatus
	KeepCurrent bool
}

type subStatusRule struct {
	target enums.ShipmentStatus
	keep   bool
	// onlyFrom restricts the move; any other current status keeps.
	onlyFrom []enums.ShipmentStatus
}

var exactSubStatus = map[string]subStatusRule{
	"notfound_invalidcode": {
		target:   enums.ShipmentStatusException,
		onlyFrom: []enums.ShipmentStatus{enums.ShipmentStatusCreated, enums.ShipmentStatusLabelCreated},
	},
	"notfound_other":                        {keep: true},
	"inforeceived":                          {target: enums.ShipmentStatusLabelCreated},
	"intransit_pickedup":                    {target: enums.ShipmentStatusPickedUp},
	"intransit_departure":                   {target: enums.ShipmentStatusInTransit},
	"intransit_arrival":                     {target: enums.ShipmentStatusHandedOver},
	"intransit_customsprocessing":           {target: enums.ShipmentStatusCustomsProcessing},
	"intransit_customsreleased":             {target: enums.ShipmentStatusCustomsReleased},
	"intransit_customsrequiringinformation": {target: enums.ShipmentStatusCustomsHold},
	"intransit_other":                       {target: enums.ShipmentStatusInTransit},
	"expired_other":                         {keep: true},
	"availableforpickup_other":              {target: enums.ShipmentStatusOutForDelivery},
	"outfordelivery_other":                  {target: enums.ShipmentStatusOutForDelivery},
	"delivered_other":                       {target: enums.ShipmentStatusDelivered},
	"exception_returning":                   {target: enums.ShipmentStatusReturned},
	"exception_returned":                    {target: enums.ShipmentStatusReturned},
	"exception_lost":                        {target: enums.ShipmentStatusLost},
	"exception_cancel":                      {target: enums.ShipmentStatusCancelled},
	"exception_delayed":                     {keep: true},
	"exception_destroyed":                   {target: enums.ShipmentStatusException},
}

// prefix rules apply only when no exact rule matched, in this order
var prefixSubStatus = []struct {
	prefix string
	target enums.ShipmentStatus
}{
	{prefix: "deliveryfailure_", target: enums.ShipmentStatusException},
	{prefix: "exception_", target: enums.ShipmentStatusException},
}

// MapSubStatus resolves a carrier sub-status against the current status.
// Blank and unknown values keep the current status.
func MapSubStatus(current enums.ShipmentStatus, subStatus string) Decision {
	key := strings.ToLower(strings.TrimSpace(subStatus))
	if key == "" {
		return Decision{Target: current, KeepCurrent: true}
	}
	if rule, ok := exactSubStatus[key]; ok {
		if rule.keep {
			return Decision{Target: current, KeepCurrent: true}
		}
		if len(rule.onlyFrom) > 0 && !containsStatus(rule.onlyFrom, current) {
			return Decision{Target: current, KeepCurrent: true}
		}
		return Decision{Target: rule.target}
	}
	for _, rule := range prefixSubStatus {
		if strings.HasPrefix(key, rule.prefix) {
			return Decision{Target: rule.target}
		}
	}
	return Decision{Target: current, KeepCurrent: true}
}

func containsStatus(list []enums.ShipmentStatus, status enums.ShipmentStatus) bool {
	for _, candidate := range list {
		if candidate == status {
			return true
		}
	}
	return false
}
