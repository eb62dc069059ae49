package orders

import (
	"fmt"

	"github.com/angelmondragon/intlshop-backend/pkg/enums"
)

// Event is a named order transition.
type Event string

const (
	EventAwaitPayment  Event = "awaitPayment"
	EventMarkPaid      Event = "markPaid"
	EventCancel        Event = "cancel"
	EventMarkFulfilled Event = "markFulfilled"
	EventRequestRefund Event = "requestRefund"
	EventConfirmRefund Event = "confirmRefund"
	EventClose         Event = "close"
	EventDelete        Event = "delete"
)

// Effect is a side effect applied in the same transaction as the status write.
type Effect int

const (
	EffectReleaseStock Effect = 1 << iota
	EffectRestockStock
	EffectCloseOpenPayments
)

func (e Effect) Has(flag Effect) bool { return e&flag != 0 }

type edge struct {
	from   []enums.OrderStatus
	to     enums.OrderStatus
	effect func(from enums.OrderStatus) Effect
}

func noEffect(enums.OrderStatus) Effect { return 0 }

var transitions = map[Event]edge{
	EventAwaitPayment: {
		from:   []enums.OrderStatus{enums.OrderStatusCreated, enums.OrderStatusPendingPayment},
		to:     enums.OrderStatusPendingPayment,
		effect: noEffect,
	},
	EventMarkPaid: {
		from:   []enums.OrderStatus{enums.OrderStatusCreated, enums.OrderStatusPendingPayment},
		to:     enums.OrderStatusPaid,
		effect: noEffect,
	},
	EventCancel: {
		from: []enums.OrderStatus{enums.OrderStatusCreated, enums.OrderStatusPendingPayment, enums.OrderStatusPaid},
		to:   enums.OrderStatusCancelled,
		effect: func(enums.OrderStatus) Effect {
			return EffectReleaseStock | EffectCloseOpenPayments
		},
	},
	EventMarkFulfilled: {
		from:   []enums.OrderStatus{enums.OrderStatusPaid},
		to:     enums.OrderStatusFulfilled,
		effect: noEffect,
	},
	EventRequestRefund: {
		from:   []enums.OrderStatus{enums.OrderStatusPaid, enums.OrderStatusFulfilled},
		to:     enums.OrderStatusRefunding,
		effect: noEffect,
	},
	EventConfirmRefund: {
		from: []enums.OrderStatus{enums.OrderStatusRefunding},
		to:   enums.OrderStatusRefunded,
		effect: func(enums.OrderStatus) Effect {
			return EffectRestockStock
		},
	},
	EventClose: {
		from: []enums.OrderStatus{enums.OrderStatusCreated, enums.OrderStatusPendingPayment, enums.OrderStatusCancelled, enums.OrderStatusFulfilled},
		to:   enums.OrderStatusClosed,
		effect: func(from enums.OrderStatus) Effect {
			if from.IsAwaitingPayment() {
				return EffectReleaseStock | EffectCloseOpenPayments
			}
			return 0
		},
	},
	EventDelete: {
		from:   []enums.OrderStatus{enums.OrderStatusCancelled, enums.OrderStatusClosed, enums.OrderStatusRefunded},
		to:     enums.OrderStatusDeleted,
		effect: noEffect,
	},
}

// Transition decides the target status and effects for an event. It never
// touches storage; illegal edges return an error and nothing is written.
func Transition(from enums.OrderStatus, event Event) (enums.OrderStatus, Effect, error) {
	e, ok := transitions[event]
	if !ok {
		return "", 0, fmt.Errorf("unknown order event %q", event)
	}
	for _, candidate := range e.from {
		if candidate == from {
			return e.to, e.effect(from), nil
		}
	}
	return "", 0, fmt.Errorf("order event %s not allowed from %s", event, from)
}

// Allowed lists the statuses an event may fire from.
func Allowed(event Event) []enums.OrderStatus {
	e, ok := transitions[event]
	if !ok {
		return nil
	}
	out := make([]enums.OrderStatus, len(e.from))
	copy(out, e.from)
	return out
}
