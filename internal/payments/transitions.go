package payments

import (
	"fmt"

	"github.com/angelmondragon/intlshop-backend/pkg/enums"
)

// Event is a named payment attempt transition.
type Event string

const (
	EventActivate       Event = "activate"
	EventBindExternalID Event = "bindExternalId"
	EventCaptureSuccess Event = "captureSuccess"
	EventCaptureFail    Event = "captureFail"
	EventClose          Event = "close"
	EventException      Event = "exception"
)

var paymentTransitions = map[Event]struct {
	from []enums.PaymentStatus
	to   enums.PaymentStatus
}{
	EventActivate:       {from: []enums.PaymentStatus{enums.PaymentStatusNone}, to: enums.PaymentStatusInit},
	EventBindExternalID: {from: []enums.PaymentStatus{enums.PaymentStatusInit, enums.PaymentStatusPending}, to: enums.PaymentStatusPending},
	EventCaptureSuccess: {from: []enums.PaymentStatus{enums.PaymentStatusInit, enums.PaymentStatusPending}, to: enums.PaymentStatusSuccess},
	EventCaptureFail:    {from: []enums.PaymentStatus{enums.PaymentStatusInit, enums.PaymentStatusPending}, to: enums.PaymentStatusFail},
	EventClose: {
		from: []enums.PaymentStatus{enums.PaymentStatusNone, enums.PaymentStatusInit, enums.PaymentStatusPending, enums.PaymentStatusClosed},
		to:   enums.PaymentStatusClosed,
	},
	EventException: {
		from: []enums.PaymentStatus{
			enums.PaymentStatusNone,
			enums.PaymentStatusInit,
			enums.PaymentStatusPending,
			enums.PaymentStatusFail,
			enums.PaymentStatusClosed,
			enums.PaymentStatusException,
		},
		to: enums.PaymentStatusException,
	},
}

// Transition returns the target status of a payment attempt.
func Transition(from enums.PaymentStatus, event Event) (enums.PaymentStatus, error) {
	edge, ok := paymentTransitions[event]
	if !ok {
		return "", fmt.Errorf("unknown payment event %q", event)
	}
	for _, candidate := range edge.from {
		if candidate == from {
			return edge.to, nil
		}
	}
	return "", fmt.Errorf("payment event %s not allowed from %s", event, from)
}

// AllowedFrom lists the statuses a payment event may fire from.
func AllowedFrom(event Event) []enums.PaymentStatus {
	edge, ok := paymentTransitions[event]
	if !ok {
		return nil
	}
	out := make([]enums.PaymentStatus, len(edge.from))
	copy(out, edge.from)
	return out
}

// RefundTransition validates a refund status move. INIT->PENDING and
// INIT/PENDING->SUCCESS/FAIL are the only legal edges.
func RefundTransition(from, to enums.RefundStatus) error {
	if !from.IsOpen() {
		return fmt.Errorf("refund already %s", from)
	}
	switch to {
	case enums.RefundStatusPending, enums.RefundStatusSuccess, enums.RefundStatusFail:
		return nil
	default:
		return fmt.Errorf("refund cannot move %s -> %s", from, to)
	}
}
